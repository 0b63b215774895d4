package relational

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage"
	"github.com/wearefrank/ladybug-sub002/internal/testutil"
)

func openTest(t *testing.T, path string, src storage.MetadataSource) *Storage {
	t.Helper()
	s, err := Open(context.Background(), Config{DSN: path, Source: src, ReportText: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return openTest(t, filepath.Join(t.TempDir(), "ladybug.db"), nil)
}

func named(name string) *report.Report {
	return testutil.NewReport("cid-"+name, name).
		Checkpoint(report.TypeStart, name, "in").
		Checkpoint(report.TypeEnd, name, "out").
		Build(10 * time.Millisecond)
}

func storeAll(t *testing.T, s *Storage, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, s.Store(context.Background(), named(n)))
	}
}

type orderSource struct{}

func (orderSource) FieldNames() []string { return []string{"orderId"} }

func (orderSource) Extract(r *report.Report) map[string]string {
	if cp, ok := r.CheckpointByName(r.Name); ok {
		return map[string]string{"orderId": "order-" + cp.Message}
	}
	return nil
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ladybug.db")

	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), Config{DSN: path})
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, SQLite.Name, s.Dialect().Name)
		require.NoError(t, s.Close())
	}
}

func TestOpen_RejectsInvalidTable(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "x.db"), Table: "drop table;"})
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s := newTestStorage(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "storage_id", ColumnName(storage.FieldStorageID))
	assert.Equal(t, "number_of_checkpoints", ColumnName(storage.FieldNumberOfCheckpoints))
	assert.Equal(t, "order_id", ColumnName("orderId"))
	assert.Equal(t, "x_y", ColumnName("x-y"))
}

func TestStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	original := testutil.NewReport("cid-1", "Order").
		Checkpoint(report.TypeStart, "Order", "<order id=\"7\"/>").
		Checkpoint(report.TypeInfo, "lookup", "found").
		Checkpoint(report.TypeEnd, "Order", "ok").
		Variable("tenant", "acme").
		Build(25 * time.Millisecond)

	require.NoError(t, s.Store(ctx, original))
	assert.Equal(t, int64(1), original.StorageID)

	got, err := s.Report(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "relational", got.Storage)
	assert.Equal(t, int64(1), got.StorageID)
	assert.True(t, got.Frozen())
	assert.Equal(t, original.Text(), got.Text())
	assert.Equal(t, "acme", got.Variables["tenant"])

	text, err := s.ReportText(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, original.Text(), text)
}

func TestStorage_SearchByName(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	storeAll(t, s, "Alice", "Bob")

	rows, err := s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldName},
		SearchValues: []string{"A*"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Alice"}}, rows)

	rows, err = s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldName},
		SearchValues: []string{"*"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Bob"}, {"Alice"}}, rows, "newest first")
}

func TestStorage_IDsAreNeverReused(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	storeAll(t, s, "a", "b", "c")

	third, err := s.Report(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, third))

	r := named("d")
	require.NoError(t, s.Store(ctx, r))
	assert.Equal(t, int64(4), r.StorageID)

	ids, err := s.StorageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1}, ids)

	require.NoError(t, s.Clear(ctx))
	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	r = named("e")
	require.NoError(t, s.Store(ctx, r))
	assert.Equal(t, int64(1), r.StorageID, "ids restart after Clear")
}

func TestStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.Report(ctx, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := named("x")
	missing.StorageID = 9
	assert.ErrorIs(t, s.Update(ctx, missing), storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, missing), storage.ErrNotFound)
}

func TestStorage_UpdateRewritesMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	storeAll(t, s, "before")
	q := storage.Query{FieldNames: []string{storage.FieldName, storage.FieldNumberOfCheckpoints}}

	rows, err := s.Metadata(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"before", "2"}}, rows)

	r, err := s.Report(ctx, 1)
	require.NoError(t, err)
	r.Name = "after"
	r.Unfreeze()
	_, err = r.Append(report.Checkpoint{Name: "extra", Type: report.TypeInfo})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, r))

	rows, err = s.Metadata(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"after", "3"}}, rows)
}

func TestStorage_ValueKinds(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	storeAll(t, s, "a")
	fields := []string{storage.FieldStorageID, storage.FieldStartTime, storage.FieldDurationMillis, storage.FieldEndTime}

	rows, err := s.Metadata(ctx, storage.Query{FieldNames: fields, ValueKind: storage.ValueKindObject})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, testutil.Epoch, rows[0][1])
	assert.Equal(t, int64(10), rows[0][2])

	rows, err = s.Metadata(ctx, storage.Query{FieldNames: fields, ValueKind: storage.ValueKindString})
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "2024-03-01 09:30:00.000", "10", "2024-03-01 09:30:00.010"}, rows[0])
}

func TestStorage_StatusFollowsLastCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	recovered := testutil.NewReport("cid-recovered", "Order").
		Checkpoint(report.TypeStart, "Order", "in").
		Checkpoint(report.TypeStart, "validate", "c").
		Checkpoint(report.TypeAbort, "validate", "boom").
		Checkpoint(report.TypeEnd, "Order", "out").
		Build(10 * time.Millisecond)
	failed := testutil.NewReport("cid-failed", "Refund").
		Checkpoint(report.TypeStart, "Refund", "in").
		Checkpoint(report.TypeAbort, "Refund", "boom").
		Build(10 * time.Millisecond)
	require.NoError(t, s.Store(ctx, recovered))
	require.NoError(t, s.Store(ctx, failed))

	rows, err := s.Metadata(ctx, storage.Query{
		FieldNames: []string{storage.FieldName, storage.FieldStatus},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Refund", storage.StatusError}, {"Order", storage.StatusSuccess}}, rows)

	rows, err = s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldName, storage.FieldStatus},
		SearchValues: []string{"", storage.StatusSuccess},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Order", storage.StatusSuccess}}, rows)
}

func TestStorage_MaxRowsAndMultipleTerms(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	storeAll(t, s, "alpha", "beta", "alpine", "gamma")

	rows, err := s.Metadata(ctx, storage.Query{
		MaxRows:      1,
		FieldNames:   []string{storage.FieldName},
		SearchValues: []string{"AL*"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"alpine"}}, rows)

	rows, err = s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldStorageID, storage.FieldName},
		SearchValues: []string{"1", "al*"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"1", "alpha"}}, rows)

	rows, err = s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldDescription},
		SearchValues: []string{"null"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = s.Metadata(ctx, storage.Query{FieldNames: []string{"bogus"}})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestStorage_ReopenAddsColumnsAndKeepsIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ladybug.db")

	first, err := Open(ctx, Config{DSN: path})
	require.NoError(t, err)
	require.NoError(t, first.Store(ctx, named("a")))
	require.NoError(t, first.Close())

	s := openTest(t, path, orderSource{})
	r := named("b")
	require.NoError(t, s.Store(ctx, r))
	assert.Equal(t, int64(2), r.StorageID)

	rows, err := s.Metadata(ctx, storage.Query{
		FieldNames:   []string{storage.FieldName, "orderId"},
		SearchValues: []string{"", "null"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a", nil}}, rows, "rows stored before the column existed are null")

	rows, err = s.Metadata(ctx, storage.Query{
		FieldNames:   []string{"orderId"},
		SearchValues: []string{"*-in"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"order-in"}}, rows)
}

func TestStorage_StoreWithoutError(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() { s.StoreWithoutError(ctx, named("a")) })
	assert.Contains(t, s.LastWarning(), "context canceled")

	s.StoreWithoutError(context.Background(), named("b"))
	size, err := s.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestStorage_ConcurrentStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.StoreWithoutError(ctx, named(fmt.Sprintf("r%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Empty(t, s.LastWarning())
	ids, err := s.StorageIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 20)
	assert.Equal(t, int64(20), ids[0])
	assert.Equal(t, int64(1), ids[19])
}
