// Package backend defines the capability contract every remote store
// satisfies, plus the shared error taxonomy.
//
// Variants live in sub-packages:
//   - gitstore: structured files in a project-local directory, each write
//     followed by a commit when a git worktree is present
//   - vaultstore: HashiCorp Vault KV v2 with upsert semantics and
//     prefix-scoped list/retrieve
//   - apistore: a centralized HTTP API speaking bearer-authenticated
//     create/read/list/delete requests
//
// Callers depend only on the Backend interface; the concrete variant is
// resolved by a factory keyed on a stored provider tag.
package backend
