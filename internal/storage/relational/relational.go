package relational

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

//go:embed schema.sql.tmpl
var schemaTemplate string

var schemaTmpl = template.Must(template.New("schema").Parse(schemaTemplate))

// Schema version tracking (SQLite only):
// 0 - Initial schema (pre-migration)
// 1 - Added index on correlation_id
const currentSchemaVersion = 1

// Defaults for Config.
const (
	DefaultDriver = "sqlite3"
	DefaultTable  = "ladybug"
	DefaultName   = "relational"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config describes the database and table a Storage uses.
type Config struct {
	// Driver is the database/sql driver name. Default: "sqlite3".
	Driver string

	// DSN is the driver-specific data source name. For SQLite, a file path.
	DSN string

	// Name identifies the storage. Default: "relational".
	Name string

	// Table is the report table. A second table with suffix "_seq" holds
	// the id high-water mark. Default: "ladybug".
	Table string

	// ReportText stores a plain-text rendering of every report.
	ReportText bool

	// Source adds derived metadata columns.
	Source storage.MetadataSource

	Logger *slog.Logger
}

// Storage keeps reports in one SQL table.
//
// Thread-safety: All methods are safe for concurrent use; writes run in
// transactions.
type Storage struct {
	name       string
	db         *sql.DB
	dialect    Dialect
	table      string
	catalogue  *storage.Catalogue
	fields     []storage.Field   // metadata fields in column order
	columns    map[string]string // field name -> column
	reportText bool
	logger     *slog.Logger

	warnMu      sync.Mutex
	lastWarning string
}

var _ storage.Storage = (*Storage)(nil)

// Open connects to the database, creates missing tables and columns, and
// applies migrations. It is safe to call repeatedly on the same database.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !identifier.MatchString(cfg.Table) {
		return nil, fmt.Errorf("open %s: invalid table name %q", cfg.Name, cfg.Table)
	}

	s := &Storage{
		name:       cfg.Name,
		table:      cfg.Table,
		catalogue:  storage.NewCatalogue(cfg.Source),
		columns:    make(map[string]string),
		reportText: cfg.ReportText,
		logger:     cfg.Logger,
	}
	seen := map[string]string{}
	for _, f := range s.catalogue.Fields() {
		col := ColumnName(f.Name)
		if !identifier.MatchString(col) {
			return nil, fmt.Errorf("open %s: field %q has no valid column name", cfg.Name, f.Name)
		}
		if other, dup := seen[col]; dup {
			return nil, fmt.Errorf("open %s: fields %q and %q share column %s", cfg.Name, other, f.Name, col)
		}
		seen[col] = f.Name
		s.columns[f.Name] = col
		if col != idColumn {
			s.fields = append(s.fields, f)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	s.dialect, err = DetectDialect(ctx, db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}

	if s.dialect.Name == SQLite.Name {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
		db.SetMaxIdleConns(1) // Keep one connection ready
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.logger.Debug("relational storage opened",
		"storage", s.name, "dialect", s.dialect.Name, "table", s.table)
	return s, nil
}

// ColumnName maps a metadata field name to its column: camelCase becomes
// snake_case and other characters become underscores.
func ColumnName(field string) string {
	var b strings.Builder
	for i, r := range field {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist, adds columns for new
// metadata fields, and runs migrations. This function is idempotent.
func (s *Storage) applySchema(ctx context.Context) error {
	var ddl bytes.Buffer
	err := schemaTmpl.Execute(&ddl, map[string]any{
		"Table":   s.table,
		"Dialect": s.dialect,
		"Columns": s.metadataColumns(),
	})
	if err != nil {
		return fmt.Errorf("render schema: %w", err)
	}
	// One statement per Exec: not every driver accepts batches.
	for _, stmt := range strings.Split(ddl.String(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}

	if err := s.addMissingColumns(ctx); err != nil {
		return err
	}
	if err := s.initSequence(ctx); err != nil {
		return err
	}
	if s.dialect.Name == SQLite.Name {
		if err := s.runMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

func (s *Storage) metadataColumns() []string {
	cols := make([]string, len(s.fields))
	for i, f := range s.fields {
		cols[i] = s.columns[f.Name]
	}
	return cols
}

// addMissingColumns extends a table created before metadata fields were
// added to the configuration.
func (s *Storage) addMissingColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.table+" WHERE 1 = 0")
	if err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}
	existing, err := rows.Columns()
	rows.Close()
	if err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c)] = true
	}

	for _, col := range s.metadataColumns() {
		if have[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s", s.table, col, s.dialect.TextType)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
		s.logger.Info("added metadata column", "storage", s.name, "column", col)
	}
	return nil
}

// initSequence makes sure the high-water table holds exactly one row.
func (s *Storage) initSequence(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.seqTable()).Scan(&n); err != nil {
		return fmt.Errorf("read id sequence: %w", err)
	}
	if n > 0 {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (high_water) SELECT COALESCE(MAX(%s), 0) FROM %s",
		s.seqTable(), idColumn, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("init id sequence: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func (s *Storage) runMigrations(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Apply migrations sequentially
	if version < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return err
		}
	}

	// Set version after all migrations
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes correlation ids, the usual lookup key after a rerun.
func (s *Storage) migrateToV1(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_correlation ON %s(%s)",
		s.table, s.table, s.columns[storage.FieldCorrelationID])
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func (s *Storage) seqTable() string {
	return s.table + "_seq"
}

// Name implements storage.Reader.
func (s *Storage) Name() string {
	return s.name
}

// Dialect returns the detected SQL dialect.
func (s *Storage) Dialect() Dialect {
	return s.dialect
}

// Catalogue returns the metadata fields this storage offers.
func (s *Storage) Catalogue() *storage.Catalogue {
	return s.catalogue
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
