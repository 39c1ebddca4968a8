// Package postgres provides PostgreSQL implementations of the store
// interfaces: conflict records, the analysis log and matchup context reads.
// It also owns the embedded goose migrations for that schema.
//
// Stores accept a store.DBTX, so they work with either a *sql.DB opened by
// Open or a transaction.
package postgres
