// Package storage defines the contracts shared by every report backend and
// the pieces of the metadata query path they have in common.
//
// Backends live in subpackages:
//   - memory: reports kept in a map, metadata computed on demand and cached
//   - relational: database/sql with one row per report
//   - failover: a primary backend with a one-shot switch to an alternative
//
// Metadata is a table view over reports: each row is one report, each column
// a field from the catalogue (fields.go). Search values filter rows using the
// predicate language in search.go. Predicates always test the string form of
// a value, so a search behaves the same whether a backend evaluates it in
// process or compiles it to SQL.
package storage
