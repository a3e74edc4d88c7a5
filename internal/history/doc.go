// Package history provides the BBolt-backed version store and audit log.
//
// Database structure uses three buckets:
//   - versions: one sub-bucket per environment holding immutable
//     VersionRecords keyed by big-endian version number
//   - audit: one sub-bucket per environment holding a bounded ring of
//     AuditEntries keyed by append sequence
//   - meta: per-environment flags (active/inactive) and timestamps
//
// Version history is append-only: records are never mutated, deleted or
// renumbered, and rollback appends a new record continuing the sequence.
// The audit ring keeps the most recent 1000 entries per environment.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package history
