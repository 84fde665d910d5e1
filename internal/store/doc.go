// Package store persists indexing state on local disk: the per-chain
// indexed-set file, the per-chain directory file, and one SQLite record log
// per contract. Directory files and the indexed set are rewritten whole and
// atomically; record logs are append-only.
package store
