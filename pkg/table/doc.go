// Package table provides the in-memory columnar data model used by the
// computation engine.
//
// A Table holds named, typed columns that share a single row count and row
// order. Columns carry an optional null mask; missing values stay missing
// until a function decides how to treat them.
package table
