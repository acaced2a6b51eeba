package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/storage"
)

func commit(t *testing.T, ctx context.Context, backend storage.Backend, tablePath string, version int64, actions []action.Action) {
	t.Helper()
	body, err := action.EncodeCommit(actions)
	require.NoError(t, err)
	p, err := action.CommitPath(version)
	require.NoError(t, err)
	_, err = backend.WriteConditional(ctx, tablePath+"/"+p, body, "")
	require.NoError(t, err)
}

func TestReadLatestReplaysDeltasFromScratch(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	commit(t, ctx, backend, "t", 0, []action.Action{
		{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Metadata: &action.Metadata{ID: "11111111-1111-1111-1111-111111111111", SchemaString: "{}", PartitionColumns: []string{}}},
		{Add: &action.Add{Path: "a.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})
	commit(t, ctx, backend, "t", 1, []action.Action{
		{Add: &action.Add{Path: "b.parquet", Size: 2, ModificationTime: 2, DataChange: true, PartitionValues: map[string]string{}}},
	})
	commit(t, ctx, backend, "t", 2, []action.Action{
		{Remove: &action.Remove{Path: "a.parquet", DeletionTimestamp: 3, DataChange: true}},
	})

	engine := New(backend, "t")
	snap, err := engine.ReadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Version)
	require.Equal(t, 1, snap.FileCount())
	require.Equal(t, "b.parquet", snap.Files()[0].Path)
}

func TestReadVersionStopsAtRequestedVersion(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	commit(t, ctx, backend, "t", 0, []action.Action{
		{Add: &action.Add{Path: "a.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})
	commit(t, ctx, backend, "t", 1, []action.Action{
		{Add: &action.Add{Path: "b.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})

	engine := New(backend, "t")
	snap, err := engine.ReadVersion(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, snap.FileCount())
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	commit(t, ctx, backend, "t", 0, []action.Action{
		{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Metadata: &action.Metadata{ID: "11111111-1111-1111-1111-111111111111", SchemaString: "{}", PartitionColumns: []string{}}},
		{Add: &action.Add{Path: "a.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})

	engine := New(backend, "t")
	snap, err := engine.ReadLatest(ctx)
	require.NoError(t, err)

	require.NoError(t, engine.WriteCheckpoint(ctx, snap))

	commit(t, ctx, backend, "t", 1, []action.Action{
		{Add: &action.Add{Path: "b.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})

	reloaded, err := engine.ReadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), reloaded.Version)
	require.Equal(t, 2, reloaded.FileCount())
}

func TestShouldCheckpoint(t *testing.T) {
	engine := New(nil, "t", WithCheckpointInterval(10), WithMaxActionsPerCheckpoint(1000))
	require.False(t, engine.ShouldCheckpoint(5, 0, 5))
	require.True(t, engine.ShouldCheckpoint(10, 0, 5))
	require.True(t, engine.ShouldCheckpoint(5, 0, 1001))
}

func TestExtractPartitionValuesFromPath(t *testing.T) {
	values, err := ExtractPartitionValuesFromPath("date=2024-01-01/region=us%20east/part-1.parquet")
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", values["date"])
	require.Equal(t, "us east", values["region"])
}
