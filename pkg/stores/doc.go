// Package stores provides the SQLite persistence layer for taxgraph.
// It reads input tables from and writes result tables to SQLite, and keeps
// a run history with the node failures of each run. The history schema is
// managed with embedded golang-migrate migrations.
package stores
