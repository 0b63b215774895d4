package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Pagination is how a dialect caps the number of rows.
type Pagination int

const (
	PaginateLimit     Pagination = iota // ... LIMIT n
	PaginateTop                         // SELECT TOP (n) ...
	PaginateRowNumber                   // ROW_NUMBER() OVER (...) <= n
)

// Dialect captures the SQL differences between database engines.
type Dialect struct {
	Name       string
	Pagination Pagination

	// Column types.
	IntType  string
	TextType string
	BlobType string

	placeholder func(n int) string
	castText    string // fmt pattern converting an integer column to text
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

// CastText converts an integer column expression to its text form.
func (d Dialect) CastText(column string) string {
	return fmt.Sprintf(d.castText, column)
}

var (
	// SQLite is the default dialect.
	SQLite = Dialect{
		Name:        "sqlite",
		Pagination:  PaginateLimit,
		IntType:     "INTEGER",
		TextType:    "TEXT",
		BlobType:    "BLOB",
		placeholder: func(int) string { return "?" },
		castText:    "CAST(%s AS TEXT)",
	}

	MySQL = Dialect{
		Name:        "mysql",
		Pagination:  PaginateLimit,
		IntType:     "BIGINT",
		TextType:    "LONGTEXT",
		BlobType:    "LONGBLOB",
		placeholder: func(int) string { return "?" },
		castText:    "CAST(%s AS CHAR)",
	}

	PostgreSQL = Dialect{
		Name:        "postgres",
		Pagination:  PaginateLimit,
		IntType:     "BIGINT",
		TextType:    "TEXT",
		BlobType:    "BYTEA",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		castText:    "CAST(%s AS TEXT)",
	}

	SQLServer = Dialect{
		Name:        "sqlserver",
		Pagination:  PaginateTop,
		IntType:     "BIGINT",
		TextType:    "NVARCHAR(MAX)",
		BlobType:    "VARBINARY(MAX)",
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		castText:    "CAST(%s AS NVARCHAR(20))",
	}

	Oracle = Dialect{
		Name:        "oracle",
		Pagination:  PaginateRowNumber,
		IntType:     "NUMBER(19)",
		TextType:    "CLOB",
		BlobType:    "BLOB",
		placeholder: func(n int) string { return ":" + strconv.Itoa(n) },
		castText:    "TO_CHAR(%s)",
	}
)

var driverDialects = map[string]Dialect{
	"sqlite3":   SQLite,
	"sqlite":    SQLite,
	"mysql":     MySQL,
	"postgres":  PostgreSQL,
	"pgx":       PostgreSQL,
	"sqlserver": SQLServer,
	"mssql":     SQLServer,
	"oracle":    Oracle,
	"godror":    Oracle,
}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driver string) (Dialect, bool) {
	d, ok := driverDialects[strings.ToLower(driver)]
	return d, ok
}

// DetectDialect picks the dialect for driver, asking the server for its
// version when the driver name is not known.
func DetectDialect(ctx context.Context, db *sql.DB, driver string) (Dialect, error) {
	if d, ok := DialectFor(driver); ok {
		return d, nil
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err == nil {
		v := strings.ToLower(version)
		switch {
		case strings.Contains(v, "postgres"):
			return PostgreSQL, nil
		case strings.Contains(v, "mariadb"), strings.Contains(v, "mysql"), v != "":
			return MySQL, nil
		}
	}
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		return SQLite, nil
	}
	if err := db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&version); err == nil {
		return SQLServer, nil
	}
	return Dialect{}, fmt.Errorf("detect dialect for driver %q: no version probe succeeded", driver)
}
