// Package syncer composes codec, crypto, conflict, history and backend
// into the push, pull and sync operations.
//
// Within one invocation the order is fixed: read local, read remote,
// detect, merge, persist local, persist remote, append history. There is
// no cross-process coordination; the design assumes at most one operation
// per environment at a time.
//
// Failure policy:
//   - parse and validation failures abort before any write
//   - a local write is preceded by a full backup copy and performed as a
//     complete rewrite, so an interrupted operation leaves either the old
//     file or a complete new one
//   - version and audit bookkeeping failures degrade to warnings on the
//     result; the applied data mutation is never rolled back
package syncer
