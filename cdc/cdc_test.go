package cdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/log"
	"github.com/deltakernel/deltakernel/storage"
)

// TestMain guards against goroutine leaks from Reader.Subscribe's poll loop,
// which a test must cancel via context rather than relying on GC.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func commitVersion(t *testing.T, ctx context.Context, backend storage.Backend, tablePath string, version int64, actions []action.Action, timestamp int64) {
	t.Helper()
	all := append(append([]action.Action{}, actions...), action.Action{CommitInfo: &action.CommitInfo{
		Operation: "WRITE", Timestamp: timestamp, ReadVersion: version - 1, IsBlindAppend: true,
	}})
	body, err := action.EncodeCommit(all)
	require.NoError(t, err)
	p, err := action.CommitPath(version)
	require.NoError(t, err)
	_, err = backend.WriteConditional(ctx, tablePath+"/"+p, body, "")
	require.NoError(t, err)
}

func TestProducerEmitAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	commitVersion(t, ctx, backend, "t", 0, nil, 1000)
	commitVersion(t, ctx, backend, "t", 1, nil, 2000)

	producer := NewProducer(backend, "t", true)
	require.NoError(t, producer.Emit(ctx, 0, 1000, []Record{{Operation: OpInsert, PrimaryKey: "a"}, {Operation: OpInsert, PrimaryKey: "b"}}))
	require.NoError(t, producer.Emit(ctx, 1, 2000, []Record{{Operation: OpInsert, PrimaryKey: "c"}}))

	engine := log.New(backend, "t")
	reader := NewReader(backend, "t", engine)
	records, err := reader.ReadByVersion(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, int64(1), records[0].Sequence)
	require.Equal(t, int64(2), records[1].Sequence)
	require.Equal(t, int64(3), records[2].Sequence)
}

func TestProducerDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	producer := NewProducer(backend, "t", false)
	require.NoError(t, producer.Emit(ctx, 0, 1000, []Record{{Operation: OpInsert, PrimaryKey: "a"}}))

	engine := log.New(backend, "t")
	reader := NewReader(backend, "t", engine)
	records, err := reader.ReadByVersion(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestReadByTimestampResolvesMinimalVersionRange(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.New("memory://")
	require.NoError(t, err)

	commitVersion(t, ctx, backend, "t", 0, nil, 1000)
	commitVersion(t, ctx, backend, "t", 1, nil, 2000)
	commitVersion(t, ctx, backend, "t", 2, nil, 3000)

	producer := NewProducer(backend, "t", true)
	require.NoError(t, producer.Emit(ctx, 0, 1000, []Record{{Operation: OpInsert, PrimaryKey: "a"}}))
	require.NoError(t, producer.Emit(ctx, 1, 2000, []Record{{Operation: OpInsert, PrimaryKey: "b"}}))
	require.NoError(t, producer.Emit(ctx, 2, 3000, []Record{{Operation: OpInsert, PrimaryKey: "c"}}))

	engine := log.New(backend, "t")
	reader := NewReader(backend, "t", engine)

	records, err := reader.ReadByTimestamp(ctx, 1500, 2500)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "b", records[0].PrimaryKey)

	records, err = reader.ReadByTimestamp(ctx, 1000, 3000)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestFilterAppliesAfterRead(t *testing.T) {
	records := []Record{
		{Sequence: 1, Timestamp: 100, Operation: OpInsert},
		{Sequence: 2, Timestamp: 200, Operation: OpDelete},
		{Sequence: 3, Timestamp: 300, Operation: OpInsert},
	}
	filtered := Filter{FromSeq: 2, Operations: []Operation{OpInsert}}.Apply(records)
	require.Len(t, filtered, 1)
	require.Equal(t, int64(3), filtered[0].Sequence)
}

func TestSubscribeDeliversNewVersionsAndCallsOnErrorForHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := storage.New("memory://")
	require.NoError(t, err)
	commitVersion(t, ctx, backend, "t", 0, nil, 1000)

	producer := NewProducer(backend, "t", true)
	require.NoError(t, producer.Emit(ctx, 0, 1000, []Record{{Operation: OpInsert, PrimaryKey: "a"}}))

	engine := log.New(backend, "t")
	reader := NewReader(backend, "t", engine)

	received := make(chan Record, 10)
	var errs []error
	unsubscribe := reader.Subscribe(ctx, nil, func(r Record) error {
		received <- r
		if r.PrimaryKey == "boom" {
			panic("handler exploded")
		}
		return nil
	}, SubscribeOptions{
		PollInterval: 20 * time.Millisecond,
		OnError:      func(err error) { errs = append(errs, err) },
	})
	defer unsubscribe()

	select {
	case r := <-received:
		require.Equal(t, "a", r.PrimaryKey)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial record")
	}

	commitVersion(t, ctx, backend, "t", 1, nil, 2000)
	require.NoError(t, producer.Emit(ctx, 1, 2000, []Record{{Operation: OpInsert, PrimaryKey: "boom"}}))

	select {
	case r := <-received:
		require.Equal(t, "boom", r.PrimaryKey)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second record")
	}

	require.Eventually(t, func() bool { return len(errs) > 0 }, 2*time.Second, 10*time.Millisecond)
}
