// Package stores provides the authoritative persistence layer for HR cases.
// It includes a SQLite-based repository with WAL mode, embedded schema
// migrations, transactional case writes and the decision audit table.
package stores
