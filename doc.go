// Package envsync synchronizes local environment variable files with
// remote storage backends.
//
// A project is a directory holding a manifest (.envsync.yaml), a version
// history database (.envsync.db) and one local snapshot file per managed
// environment. Open ties these together and returns a Project whose
// Push, Pull and Sync methods move snapshots between the local files and
// the configured backend, recording every accepted change as an immutable
// version plus an audit entry.
//
// Remote persistence is pluggable: a git repository, HashiCorp Vault KV
// v2, or a REST API, selected per environment in the manifest. Encrypted
// environments are sealed with AES-256-GCM before anything leaves the
// machine; key material comes from the OS keyring.
package envsync
