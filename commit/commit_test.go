package commit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/log"
	"github.com/deltakernel/deltakernel/storage"
)

// TestMain guards against goroutine leaks from the retry-and-refresh loop in
// commitWithRetry, which spawns no goroutines of its own but calls into
// singleflight.Group.Do, a common source of stragglers under test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setup(t *testing.T) (storage.Backend, *log.Engine, *Protocol) {
	t.Helper()
	backend, err := storage.New("memory://")
	require.NoError(t, err)
	engine := log.New(backend, "t")
	proto := New(backend, "t", engine, nil)
	return backend, engine, proto
}

func TestCommitBlindAppendAtVersionZero(t *testing.T) {
	ctx := context.Background()
	_, _, proto := setup(t)

	result, err := proto.Commit(ctx, Proposal{
		ReadVersion: -1,
		Operation:   "WRITE",
		Actions: []action.Action{
			{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
			{Metadata: &action.Metadata{ID: "11111111-1111-1111-1111-111111111111", SchemaString: "{}", PartitionColumns: []string{}}},
			{Add: &action.Add{Path: "a.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Version)
	require.Equal(t, 1, result.Snapshot.FileCount())
}

func TestCommitRetriesOverConcurrentBlindAppend(t *testing.T) {
	ctx := context.Background()
	backend, engine, proto := setup(t)

	_, err := proto.Commit(ctx, Proposal{ReadVersion: -1, Operation: "WRITE", Actions: []action.Action{
		{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Metadata: &action.Metadata{ID: "11111111-1111-1111-1111-111111111111", SchemaString: "{}", PartitionColumns: []string{}}},
	}})
	require.NoError(t, err)

	// Simulate a concurrent writer landing version 1 behind our back.
	body, err := action.EncodeCommit([]action.Action{
		{Add: &action.Add{Path: "concurrent.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	})
	require.NoError(t, err)
	p, err := action.CommitPath(1)
	require.NoError(t, err)
	_, err = backend.WriteConditional(ctx, "t/"+p, body, "")
	require.NoError(t, err)

	result, err := proto.Commit(ctx, Proposal{ReadVersion: 0, Operation: "WRITE", Actions: []action.Action{
		{Add: &action.Add{Path: "mine.parquet", Size: 1, ModificationTime: 1, DataChange: true, PartitionValues: map[string]string{}}},
	}})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Version)
	require.Equal(t, 2, result.Snapshot.FileCount())

	snap, err := engine.ReadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Version)
}

func TestCommitFailsOnMetadataConflict(t *testing.T) {
	ctx := context.Background()
	backend, _, proto := setup(t)

	_, err := proto.Commit(ctx, Proposal{ReadVersion: -1, Operation: "CREATE TABLE", Actions: []action.Action{
		{Protocol: &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{Metadata: &action.Metadata{ID: "11111111-1111-1111-1111-111111111111", SchemaString: "{}", PartitionColumns: []string{}}},
	}})
	require.NoError(t, err)

	body, err := action.EncodeCommit([]action.Action{
		{Metadata: &action.Metadata{ID: "22222222-2222-2222-2222-222222222222", SchemaString: "{}", PartitionColumns: []string{}}},
	})
	require.NoError(t, err)
	p, err := action.CommitPath(1)
	require.NoError(t, err)
	_, err = backend.WriteConditional(ctx, "t/"+p, body, "")
	require.NoError(t, err)

	_, err = proto.Commit(ctx, Proposal{ReadVersion: 0, Operation: "ALTER TABLE", Actions: []action.Action{
		{Metadata: &action.Metadata{ID: "33333333-3333-3333-3333-333333333333", SchemaString: "{}", PartitionColumns: []string{}}},
	}})
	require.Error(t, err)
}
