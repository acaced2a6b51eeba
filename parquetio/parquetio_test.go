package parquetio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Columns: []Column{
		{Name: "id", Type: TypeInt64},
		{Name: "name", Type: TypeString},
		{Name: "score", Type: TypeDouble, Nullable: true},
	}}
}

func TestWriteReadRoundTrip(t *testing.T) {
	schema := testSchema()
	rows := []Row{
		{"id": int64(1), "name": "alice", "score": 9.5},
		{"id": int64(2), "name": "bob", "score": nil},
		{"id": int64(3), "name": "carol", "score": 2.5},
	}

	data, rowGroups, err := Write(rows, schema, WriteOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Len(t, rowGroups, 1)
	require.Equal(t, int64(3), rowGroups[0].NumRows)

	idZone := rowGroups[0].ColumnStats["id"]
	require.Equal(t, int64(1), idZone.Min)
	require.Equal(t, int64(3), idZone.Max)

	scoreZone := rowGroups[0].ColumnStats["score"]
	require.Equal(t, int64(1), scoreZone.NullCount)

	result, err := Read(bytes.NewReader(data), int64(len(data)), schema, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	require.Equal(t, "alice", result.Rows[0]["name"])
}

func TestWriteMultipleRowGroups(t *testing.T) {
	schema := testSchema()
	var rows []Row
	for i := int64(0); i < 10; i++ {
		rows = append(rows, Row{"id": i, "name": "x", "score": float64(i)})
	}

	_, rowGroups, err := Write(rows, schema, WriteOptions{TargetRowGroupSize: 4})
	require.NoError(t, err)
	require.Len(t, rowGroups, 3)
	require.Equal(t, int64(4), rowGroups[0].NumRows)
	require.Equal(t, int64(4), rowGroups[1].NumRows)
	require.Equal(t, int64(2), rowGroups[2].NumRows)
}

func TestWriteRejectsMissingRequiredColumn(t *testing.T) {
	schema := testSchema()
	_, _, err := Write([]Row{{"name": "alice"}}, schema, WriteOptions{})
	require.Error(t, err)
}

func TestReadProjection(t *testing.T) {
	schema := testSchema()
	rows := []Row{{"id": int64(1), "name": "alice", "score": 1.0}}
	data, _, err := Write(rows, schema, WriteOptions{})
	require.NoError(t, err)

	result, err := Read(bytes.NewReader(data), int64(len(data)), schema, ReadOptions{Columns: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	_, hasID := result.Rows[0]["id"]
	require.False(t, hasID)
	require.Equal(t, "alice", result.Rows[0]["name"])
}
