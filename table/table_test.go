package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
	"github.com/deltakernel/deltakernel/zonemap"
)

func testSchema() parquetio.Schema {
	return parquetio.Schema{Columns: []parquetio.Column{
		{Name: "id", Type: parquetio.TypeInt64},
		{Name: "name", Type: parquetio.TypeString, Nullable: true},
		{Name: "amount", Type: parquetio.TypeDouble, Nullable: true},
	}}
}

func createTestTable(t *testing.T, cfg CreateConfig) (storage.Backend, *Table) {
	t.Helper()
	backend, err := storage.New("memory://")
	require.NoError(t, err)
	if cfg.Schema.Columns == nil {
		cfg.Schema = testSchema()
	}
	tbl, err := Create(context.Background(), backend, "t", cfg)
	require.NoError(t, err)
	return backend, tbl
}

func TestCreateAndOpen(t *testing.T) {
	backend, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id"})

	snap, err := tbl.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Version)
	require.Equal(t, "id", snap.Metadata.Configuration["primaryKeyColumn"])

	reopened, err := Open(context.Background(), backend, "t")
	require.NoError(t, err)
	snap2, err := reopened.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, snap.Version, snap2.Version)
}

func TestOpenMissingTableFails(t *testing.T) {
	backend, err := storage.New("memory://")
	require.NoError(t, err)
	_, err = Open(context.Background(), backend, "missing")
	require.Error(t, err)
}

func TestWriteCreatesAddActions(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", CDCEnabled: true})
	ctx := context.Background()

	rows := []parquetio.Row{
		{"id": int64(1), "name": "a", "amount": 1.5},
		{"id": int64(2), "name": "b", "amount": 2.5},
	}
	result, err := tbl.Write(ctx, rows)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.FileCount())

	records, err := tbl.Reader().ReadByVersion(ctx, 0, result.Version)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		require.Equal(t, "c", string(rec.Operation))
	}
}

func TestWriteEmptyRowsIsNoop(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{})
	result, err := tbl.Write(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestUpdateRewritesMatchingRows(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", CDCEnabled: true})
	ctx := context.Background()

	_, err := tbl.Write(ctx, []parquetio.Row{
		{"id": int64(1), "name": "a", "amount": 1.0},
		{"id": int64(2), "name": "b", "amount": 2.0},
	})
	require.NoError(t, err)

	result, err := tbl.Update(ctx, zonemap.Filter{"id": int64(1)}, map[string]any{"amount": 99.0})
	require.NoError(t, err)
	require.NotNil(t, result)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	schema := testSchema()

	var got []parquetio.Row
	for _, add := range snap.Files() {
		rows, err := tbl.readFile(ctx, schema, add)
		require.NoError(t, err)
		got = append(got, rows...)
	}
	require.Len(t, got, 2)

	byID := map[int64]parquetio.Row{}
	for _, row := range got {
		byID[row["id"].(int64)] = row
	}
	require.InDelta(t, 99.0, byID[1]["amount"], 0.0001)
	require.InDelta(t, 2.0, byID[2]["amount"], 0.0001)
}

func TestUpdateNoMatchIsNoop(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{})
	ctx := context.Background()
	_, err := tbl.Write(ctx, []parquetio.Row{{"id": int64(1), "name": "a", "amount": 1.0}})
	require.NoError(t, err)

	before, err := tbl.Snapshot(ctx)
	require.NoError(t, err)

	result, err := tbl.Update(ctx, zonemap.Filter{"id": int64(404)}, map[string]any{"amount": 0.0})
	require.NoError(t, err)
	require.Equal(t, before.Version, result.Version)
}

func TestDeleteStrategyAFullRewrite(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", CDCEnabled: true, DeletionVectors: true})
	ctx := context.Background()

	_, err := tbl.Write(ctx, []parquetio.Row{
		{"id": int64(1), "name": "a", "amount": 1.0},
		{"id": int64(2), "name": "b", "amount": 2.0},
	})
	require.NoError(t, err)

	tbl.dvThreshold = 0
	result, err := tbl.Delete(ctx, zonemap.Filter{"id": int64(1)})
	require.NoError(t, err)
	require.NotNil(t, result)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	schema := testSchema()
	var got []parquetio.Row
	for _, add := range snap.Files() {
		rows, err := tbl.readFile(ctx, schema, add)
		require.NoError(t, err)
		got = append(got, rows...)
	}
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0]["id"])
}

func TestDeleteStrategyBUpdatesDeletionVector(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", DeletionVectors: true})
	ctx := context.Background()

	rows := make([]parquetio.Row, 0, 10)
	for i := int64(0); i < 10; i++ {
		rows = append(rows, parquetio.Row{"id": i, "name": "x", "amount": float64(i)})
	}
	_, err := tbl.Write(ctx, rows)
	require.NoError(t, err)

	tbl.dvThreshold = 0.5
	before, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, before.FileCount())

	result, err := tbl.Delete(ctx, zonemap.Filter{"id": int64(0)})
	require.NoError(t, err)
	require.NotNil(t, result)

	after, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, after.FileCount())
	add := after.Files()[0]
	require.NotNil(t, add.DeletionVector)

	schema := testSchema()
	got, err := tbl.readFile(ctx, schema, add)
	require.NoError(t, err)
	require.Len(t, got, 9)
	for _, row := range got {
		require.NotEqual(t, int64(0), row["id"])
	}
}

func TestUpdateStrategyBUpdatesDeletionVector(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", DeletionVectors: true})
	ctx := context.Background()

	rows := make([]parquetio.Row, 0, 10)
	for i := int64(0); i < 10; i++ {
		rows = append(rows, parquetio.Row{"id": i, "name": "x", "amount": float64(i)})
	}
	_, err := tbl.Write(ctx, rows)
	require.NoError(t, err)

	tbl.dvThreshold = 0.5
	before, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, before.FileCount())

	result, err := tbl.Update(ctx, zonemap.Filter{"id": int64(0)}, map[string]any{"name": "updated"})
	require.NoError(t, err)
	require.NotNil(t, result)

	after, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, after.FileCount())

	schema := testSchema()
	var got []parquetio.Row
	for _, add := range after.Files() {
		rows, err := tbl.readFile(ctx, schema, add)
		require.NoError(t, err)
		got = append(got, rows...)
	}
	require.Len(t, got, 10)

	var originalRowStillPresent, updatedRowPresent bool
	for _, row := range got {
		if row["id"] == int64(0) {
			if row["name"] == "x" {
				originalRowStillPresent = true
			}
			if row["name"] == "updated" {
				updatedRowPresent = true
			}
		}
	}
	require.False(t, originalRowStillPresent, "pre-update row for id=0 must be excluded by the deletion vector")
	require.True(t, updatedRowPresent, "updated row for id=0 must be present in the new file")
}

func TestMergeUpsertsInsertsAndDeletes(t *testing.T) {
	_, tbl := createTestTable(t, CreateConfig{PrimaryKeyColumn: "id", CDCEnabled: true})
	ctx := context.Background()

	_, err := tbl.Write(ctx, []parquetio.Row{
		{"id": int64(1), "name": "a", "amount": 1.0},
		{"id": int64(2), "name": "b", "amount": 2.0},
	})
	require.NoError(t, err)

	matchByID := MatchCondition(func(existing, incoming parquetio.Row) bool {
		return existing["id"] == incoming["id"]
	})
	whenMatched := WhenMatched(func(existing, incoming parquetio.Row) parquetio.Row {
		if incoming["delete"] == true {
			return nil
		}
		out := cloneRow(existing)
		out["amount"] = incoming["amount"]
		return out
	})
	whenNotMatched := WhenNotMatched(func(incoming parquetio.Row) parquetio.Row {
		return incoming
	})

	incoming := []parquetio.Row{
		{"id": int64(1), "amount": 10.0},
		{"id": int64(2), "delete": true},
		{"id": int64(3), "name": "c", "amount": 3.0},
	}

	result, err := tbl.Merge(ctx, incoming, matchByID, whenMatched, whenNotMatched)
	require.NoError(t, err)
	require.NotNil(t, result)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	schema := testSchema()
	var got []parquetio.Row
	for _, add := range snap.Files() {
		rows, err := tbl.readFile(ctx, schema, add)
		require.NoError(t, err)
		got = append(got, rows...)
	}

	byID := map[int64]parquetio.Row{}
	for _, row := range got {
		byID[row["id"].(int64)] = row
	}
	require.Len(t, byID, 2)
	require.InDelta(t, 10.0, byID[1]["amount"], 0.0001)
	_, stillHasTwo := byID[2]
	require.False(t, stillHasTwo)
	require.Equal(t, "c", byID[3]["name"])

	records, err := tbl.Reader().ReadByVersion(ctx, result.Version, result.Version)
	require.NoError(t, err)
	var inserts, deletes, updates int
	for _, rec := range records {
		switch rec.Operation {
		case "c":
			inserts++
		case "d":
			deletes++
		case "u":
			updates++
		}
	}
	require.Equal(t, 1, inserts)
	require.Equal(t, 1, deletes)
	require.Equal(t, 2, updates)
}
