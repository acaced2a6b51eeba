package vacuum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
	"github.com/deltakernel/deltakernel/table"
)

func testSchema() parquetio.Schema {
	return parquetio.Schema{Columns: []parquetio.Column{
		{Name: "id", Type: parquetio.TypeInt64},
	}}
}

func newTestTable(t *testing.T) (storage.Backend, *table.Table) {
	t.Helper()
	backend, err := storage.New("memory://")
	require.NoError(t, err)
	tbl, err := table.Create(context.Background(), backend, "t", table.CreateConfig{Schema: testSchema()}, table.WithDVThreshold(0))
	require.NoError(t, err)
	return backend, tbl
}

func TestVacuumRetainsLiveFiles(t *testing.T) {
	ctx := context.Background()
	backend, tbl := newTestTable(t)

	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1)}})
	require.NoError(t, err)

	result, err := New(backend, "t", tbl.Engine()).Run(ctx, Options{})
	require.NoError(t, err)
	require.Empty(t, result.FilesDeleted)
	require.Equal(t, 1, result.FilesRetained)
}

func TestVacuumDeletesExpiredTombstones(t *testing.T) {
	ctx := context.Background()
	backend, tbl := newTestTable(t)

	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1)}, {"id": int64(2)}})
	require.NoError(t, err)

	_, err = tbl.Delete(ctx, map[string]any{"id": int64(1)})
	require.NoError(t, err)

	result, err := New(backend, "t", tbl.Engine()).Run(ctx, Options{Retention: -time.Hour})
	require.NoError(t, err)
	require.Len(t, result.FilesDeleted, 1)

	exists, err := backend.Exists(ctx, "t/"+result.FilesDeleted[0])
	require.NoError(t, err)
	require.False(t, exists)
}

func TestVacuumDryRunReportsWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	backend, tbl := newTestTable(t)

	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1)}, {"id": int64(2)}})
	require.NoError(t, err)
	_, err = tbl.Delete(ctx, map[string]any{"id": int64(1)})
	require.NoError(t, err)

	result, err := New(backend, "t", tbl.Engine()).Run(ctx, Options{Retention: -time.Hour, DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.FilesDeleted, 1)

	exists, err := backend.Exists(ctx, "t/"+result.FilesDeleted[0])
	require.NoError(t, err)
	require.True(t, exists)
}

func TestVacuumKeepsRecentTombstones(t *testing.T) {
	ctx := context.Background()
	backend, tbl := newTestTable(t)

	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1)}, {"id": int64(2)}})
	require.NoError(t, err)
	_, err = tbl.Delete(ctx, map[string]any{"id": int64(1)})
	require.NoError(t, err)

	result, err := New(backend, "t", tbl.Engine()).Run(ctx, Options{})
	require.NoError(t, err)
	require.Empty(t, result.FilesDeleted)
}
