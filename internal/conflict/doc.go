// Package conflict classifies differences between two snapshots and applies
// a resolution strategy.
//
// Detect produces four disjoint classes for the union of both key sets:
// added, removed, modified and unchanged. Detection is deterministic and
// symmetric: swapping the arguments swaps added/removed and flips the
// old/new pair of every modification.
//
// Merge supports three strategies:
//   - local: keys unique to either side are kept, the base side wins on
//     conflicting values
//   - remote: same, but the other side wins
//   - three-way: per-key resolution against a common ancestor; a key
//     modified on both sides to different values is a genuine conflict and
//     fails with ConflictError
package conflict
