package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

type fakeCommitSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCommitSubmitter) SubmitCommitTransaction(ctx context.Context, digest [33]byte, height uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "tx-fake", nil
}

func (f *fakeCommitSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCoreForCommitWriter(t *testing.T) *tracker.Core {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	core := tracker.New(&tracker.Config{DB: db, CollateralAlertThreshold: 1.0})
	require.NoError(t, core.Start())
	t.Cleanup(func() { core.Stop() })
	return core
}

func TestCommitWriterRecordsWithoutSubmitWhenDisabled(t *testing.T) {
	core := newTestCoreForCommitWriter(t)
	node := &fakeCommitSubmitter{}

	w := newCommitWriter(core, 10*time.Millisecond, false, node)
	w.commitOnce()

	require.Equal(t, 0, node.callCount())

	snap, err := core.Snapshot()
	require.NoError(t, err)
	require.True(t, snap.HasCommitted)
}

func TestCommitWriterSubmitsWhenEnabled(t *testing.T) {
	core := newTestCoreForCommitWriter(t)
	node := &fakeCommitSubmitter{}

	w := newCommitWriter(core, 10*time.Millisecond, true, node)
	w.commitOnce()

	require.Equal(t, 1, node.callCount())
}

func TestCommitWriterStartStop(t *testing.T) {
	core := newTestCoreForCommitWriter(t)
	node := &fakeCommitSubmitter{}

	w := newCommitWriter(core, 5*time.Millisecond, true, node)
	w.start()
	time.Sleep(30 * time.Millisecond)
	w.stop()

	require.GreaterOrEqual(t, node.callCount(), 1)
}
