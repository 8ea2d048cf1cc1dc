// Package stores provides the persistence layer for workorders and network
// allocation orders. It includes a database/sql implementation that runs on
// embedded SQLite (default) or PostgreSQL, versioned schema migrations, an
// atomic compare-and-swap status transition primitive, and an audit trail of
// every status change.
package stores
