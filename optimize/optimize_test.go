package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
	"github.com/deltakernel/deltakernel/table"
)

func testSchema() parquetio.Schema {
	return parquetio.Schema{Columns: []parquetio.Column{
		{Name: "id", Type: parquetio.TypeInt64},
		{Name: "value", Type: parquetio.TypeDouble, Nullable: true},
	}}
}

func newTestTable(t *testing.T, cfg table.CreateConfig) *table.Table {
	t.Helper()
	backend, err := storage.New("memory://")
	require.NoError(t, err)
	if cfg.Schema.Columns == nil {
		cfg.Schema = testSchema()
	}
	tbl, err := table.Create(context.Background(), backend, "t", cfg, table.WithTargetFileSize(1<<30))
	require.NoError(t, err)
	return tbl
}

func TestCompactMergesUndersizedFilesInPartition(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{PrimaryKeyColumn: "id"})

	for i := int64(0); i < 4; i++ {
		_, err := tbl.Write(ctx, []parquetio.Row{{"id": i, "value": float64(i)}})
		require.NoError(t, err)
	}

	before, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, before.FileCount())

	result, err := New(tbl).Compact(ctx, CompactOptions{TargetFileSize: 1 << 30, VerifyIntegrity: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.BinsCompacted)
	require.Equal(t, 4, result.FilesRemoved)
	require.Equal(t, 1, result.FilesWritten)

	after, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, after.FileCount())
}

func TestCompactSkipsWhenFewerThanTwoSmallFiles(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{})
	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1), "value": 1.0}})
	require.NoError(t, err)

	before, err := tbl.Snapshot(ctx)
	require.NoError(t, err)

	result, err := New(tbl).Compact(ctx, CompactOptions{})
	require.NoError(t, err)
	require.Equal(t, before.Version, result.Version)
}

func TestDeduplicateKeepsLatestByOrderColumn(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{PrimaryKeyColumn: "id"})

	_, err := tbl.Write(ctx, []parquetio.Row{
		{"id": int64(1), "value": 1.0},
		{"id": int64(1), "value": 3.0},
		{"id": int64(2), "value": 2.0},
	})
	require.NoError(t, err)

	result, err := New(tbl).Deduplicate(ctx, DeduplicateOptions{KeepStrategy: KeepLatest, OrderByColumn: "value"})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowsRemoved)
	require.Equal(t, 1, result.MaxDuplicatesKey)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	schema := testSchema()
	var got []parquetio.Row
	for _, add := range snap.Files() {
		rows, err := tbl.ReadFile(ctx, schema, add)
		require.NoError(t, err)
		got = append(got, rows...)
	}
	require.Len(t, got, 2)
	for _, row := range got {
		if row["id"].(int64) == 1 {
			require.InDelta(t, 3.0, row["value"], 0.0001)
		}
	}
}

func TestDeduplicateRequiresOrderByColumnForKeepLatest(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{PrimaryKeyColumn: "id"})
	_, err := New(tbl).Deduplicate(ctx, DeduplicateOptions{KeepStrategy: KeepLatest})
	require.Error(t, err)
}

func TestDeduplicateExactDuplicatesWithoutPrimaryKey(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{})

	_, err := tbl.Write(ctx, []parquetio.Row{
		{"id": int64(1), "value": 1.0},
		{"id": int64(1), "value": 1.0},
	})
	require.NoError(t, err)

	result, err := New(tbl).Deduplicate(ctx, DeduplicateOptions{ExactDuplicates: true, KeepStrategy: KeepFirst})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowsRemoved)
}

func TestClusterRewritesEveryRow(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{})

	rows := make([]parquetio.Row, 0, 20)
	for i := int64(0); i < 20; i++ {
		rows = append(rows, parquetio.Row{"id": i, "value": float64((i * 37) % 20)})
	}
	_, err := tbl.Write(ctx, rows)
	require.NoError(t, err)

	result, err := New(tbl).Cluster(ctx, ClusterOptions{Columns: []string{"value"}, Method: MethodZOrder})
	require.NoError(t, err)
	require.Equal(t, 20, result.RowsClustered)
	require.GreaterOrEqual(t, result.FilesWritten, 1)
}

func TestClusterRejectsTooManyBitsForColumnCount(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, table.CreateConfig{})
	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1), "value": 1.0}})
	require.NoError(t, err)

	_, err = New(tbl).Cluster(ctx, ClusterOptions{Columns: []string{"id", "value", "id"}, QuantizeBits: 30})
	require.Error(t, err)
}
