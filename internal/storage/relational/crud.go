package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
	"github.com/wearefrank/ladybug-sub002/internal/transfer"
)

// rowValues is the persisted form of a report.
type rowValues struct {
	blob     []byte
	text     any   // string or nil
	metadata []any // string or nil, in s.fields order
}

func (s *Storage) encode(r *report.Report) (rowValues, error) {
	blob, err := transfer.Marshal(r)
	if err != nil {
		return rowValues{}, err
	}
	row := rowValues{blob: blob}
	if s.reportText {
		row.text = r.Text()
	}
	native := s.catalogue.Values(r, int64(len(blob)), s.fields)
	row.metadata = make([]any, len(native))
	for i, f := range s.fields {
		if v := storage.StringForm(f.Type, native[i]); v != nil {
			row.metadata[i] = *v
		}
	}
	return row, nil
}

// Store implements storage.CRUDStorage. r.StorageID is set to the new id.
func (s *Storage) Store(ctx context.Context, r *report.Report) error {
	if r == nil {
		return fmt.Errorf("store report: nil report")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	defer tx.Rollback()

	id, err := s.nextID(ctx, tx)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	previous := r.StorageID
	r.StorageID = id
	if err := s.insert(ctx, tx, r); err != nil {
		r.StorageID = previous
		return fmt.Errorf("store report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		r.StorageID = previous
		return fmt.Errorf("store report: %w", err)
	}
	return nil
}

// nextID advances the high-water mark. Ids are never reused, even after a
// delete, until Clear.
func (s *Storage) nextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := "SELECT high_water FROM " + s.seqTable()
	if s.dialect.Name == MySQL.Name || s.dialect.Name == PostgreSQL.Name {
		query += " FOR UPDATE"
	}
	var hw int64
	if err := tx.QueryRowContext(ctx, query).Scan(&hw); err != nil {
		return 0, fmt.Errorf("read id sequence: %w", err)
	}
	b := &binder{dialect: s.dialect}
	stmt := fmt.Sprintf("UPDATE %s SET high_water = %s", s.seqTable(), b.bind(hw+1))
	if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
		return 0, fmt.Errorf("advance id sequence: %w", err)
	}
	return hw + 1, nil
}

func (s *Storage) insert(ctx context.Context, tx *sql.Tx, r *report.Report) error {
	row, err := s.encode(r)
	if err != nil {
		return err
	}
	cols := append([]string{idColumn, "report", "report_text"}, s.metadataColumns()...)
	b := &binder{dialect: s.dialect}
	marks := []string{b.bind(r.StorageID), b.bind(row.blob), b.bind(row.text)}
	for _, v := range row.metadata {
		marks = append(marks, b.bind(v))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("insert report %d: %w", r.StorageID, err)
	}
	return nil
}

// StoreWithoutError implements storage.LogStorage.
func (s *Storage) StoreWithoutError(ctx context.Context, r *report.Report) {
	if err := s.Store(ctx, r); err != nil {
		s.logger.Warn("relational storage", "storage", s.name, "correlation_id", r.CorrelationID, "error", err)
		s.warnMu.Lock()
		s.lastWarning = err.Error()
		s.warnMu.Unlock()
	}
}

// LastWarning implements storage.LogStorage.
func (s *Storage) LastWarning() string {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	return s.lastWarning
}

// Update implements storage.CRUDStorage. The blob, text and metadata
// columns are replaced in one transaction.
func (s *Storage) Update(ctx context.Context, r *report.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update report %d: %w", r.StorageID, err)
	}
	defer tx.Rollback()

	exists, err := s.exists(ctx, tx, r.StorageID)
	if err != nil {
		return fmt.Errorf("update report %d: %w", r.StorageID, err)
	}
	if !exists {
		return fmt.Errorf("update report %d: %w", r.StorageID, storage.ErrNotFound)
	}

	row, err := s.encode(r)
	if err != nil {
		return fmt.Errorf("update report %d: %w", r.StorageID, err)
	}
	b := &binder{dialect: s.dialect}
	sets := []string{"report = " + b.bind(row.blob), "report_text = " + b.bind(row.text)}
	for i, col := range s.metadataColumns() {
		sets = append(sets, col+" = "+b.bind(row.metadata[i]))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.table, strings.Join(sets, ", "), idColumn, b.bind(r.StorageID))
	if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("update report %d: %w", r.StorageID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update report %d: %w", r.StorageID, err)
	}
	return nil
}

func (s *Storage) exists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	b := &binder{dialect: s.dialect}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", s.table, idColumn, b.bind(id))
	var n int
	if err := tx.QueryRowContext(ctx, query, b.args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete implements storage.CRUDStorage.
func (s *Storage) Delete(ctx context.Context, r *report.Report) error {
	b := &binder{dialect: s.dialect}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.table, idColumn, b.bind(r.StorageID))
	res, err := s.db.ExecContext(ctx, stmt, b.args...)
	if err != nil {
		return fmt.Errorf("delete report %d: %w", r.StorageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report %d: %w", r.StorageID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete report %d: %w", r.StorageID, storage.ErrNotFound)
	}
	return nil
}

// Report implements storage.Reader.
func (s *Storage) Report(ctx context.Context, id int64) (*report.Report, error) {
	b := &binder{dialect: s.dialect}
	query := fmt.Sprintf("SELECT report FROM %s WHERE %s = %s", s.table, idColumn, b.bind(id))
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read report %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read report %d: %w", id, err)
	}
	r, err := transfer.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("read report %d: %w", id, err)
	}
	r.StorageID = id
	r.Storage = s.name
	return r, nil
}

// ReportText returns the stored text rendering of a report, if enabled.
func (s *Storage) ReportText(ctx context.Context, id int64) (string, error) {
	b := &binder{dialect: s.dialect}
	query := fmt.Sprintf("SELECT report_text FROM %s WHERE %s = %s", s.table, idColumn, b.bind(id))
	var text sql.NullString
	err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read report text %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read report text %d: %w", id, err)
	}
	return text.String, nil
}

// StorageIDs implements storage.Reader.
func (s *Storage) StorageIDs(ctx context.Context) ([]int64, error) {
	query, args, err := s.dialect.Compile(Select{Table: s.table, Columns: []string{idColumn}})
	if err != nil {
		return nil, fmt.Errorf("list storage ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list storage ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list storage ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list storage ids: %w", err)
	}
	return ids, nil
}

// Size implements storage.Reader.
func (s *Storage) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

// Clear implements storage.Reader. It also resets the id high-water mark.
func (s *Storage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.table); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE "+s.seqTable()+" SET high_water = 0"); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Metadata implements storage.Reader. Search terms are compiled to SQL
// against the string-form columns.
func (s *Storage) Metadata(ctx context.Context, q storage.Query) ([][]any, error) {
	fields, err := s.catalogue.Resolve(q.FieldNames)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	preds, err := q.Predicates()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	sel := Select{Table: s.table, Limit: q.MaxRows}
	for i, f := range fields {
		col := s.columns[f.Name]
		sel.Columns = append(sel.Columns, col)
		expr := col
		if col == idColumn {
			expr = s.dialect.CastText(col)
		}
		sel.Filters = append(sel.Filters, Filter{Column: expr, Predicate: preds[i]})
	}
	query, args, err := s.dialect.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		dest := make([]any, len(fields))
		for i, f := range fields {
			if s.columns[f.Name] == idColumn {
				dest[i] = new(int64)
			} else {
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		row := make([]any, len(fields))
		for i, f := range fields {
			switch v := dest[i].(type) {
			case *int64:
				row[i] = storage.Format(f.Type, *v, q.ValueKind)
			case *sql.NullString:
				var str *string
				if v.Valid {
					str = &v.String
				}
				if row[i], err = storage.Convert(f.Type, str, q.ValueKind); err != nil {
					return nil, fmt.Errorf("metadata %s: %w", f.Name, err)
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return out, nil
}
