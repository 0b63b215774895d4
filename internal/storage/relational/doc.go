// Package relational stores reports in a SQL database through database/sql.
//
// Each report is one row: the report itself as an opaque transfer bundle,
// an optional human-readable text rendering, and one text column per
// metadata field holding the field's string form. Metadata queries run
// entirely in SQL against those columns.
//
// The SQL dialect is chosen once when the storage opens, from the driver
// name or, for unknown drivers, by probing the server version. Dialects
// differ in placeholder syntax, pagination (LIMIT, TOP or ROW_NUMBER) and
// column types.
//
// SQLite databases get the same treatment as any other store in this
// module: WAL mode, a busy timeout, a single connection, and schema
// migrations tracked in user_version.
package relational
