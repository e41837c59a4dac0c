package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/ergonode"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

// fakeNode is an in-memory stand-in for the Ergo node's REST API, letting
// the scanner lifecycle test drive synthetic scan output without a real
// node.
type fakeNode struct {
	mu     sync.Mutex
	height uint64
	boxes  map[int][]ergonode.Box
}

func newFakeNode() *fakeNode {
	return &fakeNode{boxes: make(map[int][]ergonode.Box)}
}

func (f *fakeNode) CurrentHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height++
	return f.height, nil
}

func (f *fakeNode) RegisterScan(ctx context.Context, req ergonode.ScanRegisterRequest) (int, error) {
	if req.RemoveOffchain {
		return 2, nil
	}
	return 1, nil
}

func (f *fakeNode) ListScans(ctx context.Context) ([]int, error) {
	return []int{1, 2}, nil
}

func (f *fakeNode) UnspentBoxesByScan(ctx context.Context, scanID int) ([]ergonode.Box, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ergonode.Box(nil), f.boxes[scanID]...), nil
}

func (f *fakeNode) setBoxes(scanID int, boxes []ergonode.Box) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boxes[scanID] = boxes
}

func newTestCore(t *testing.T, db *store.DB) *tracker.Core {
	t.Helper()
	core := tracker.New(&tracker.Config{DB: db, CollateralAlertThreshold: 1.0})
	require.NoError(t, core.Start())
	t.Cleanup(func() { core.Stop() })
	return core
}

// TestScannerLifecycleCreateThenSpend covers the scanner's end-to-end
// ingestion path: a synthetic box appears (ReserveCreated), a replayed poll
// produces no duplicate event, and its removal produces ReserveSpent.
func TestScannerLifecycleCreateThenSpend(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	node := newFakeNode()
	core := newTestCore(t, db)

	scan := New(Config{Node: node, Core: core, DB: db})
	ctx := context.Background()

	reserveID, trackerID, err := scan.registerScans(ctx)
	require.NoError(t, err)

	box := boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02)
	node.setBoxes(reserveID, []ergonode.Box{box})

	boxes, err := node.UnspentBoxesByScan(ctx, reserveID)
	require.NoError(t, err)
	current := map[string]ergonode.Box{box.BoxID: boxes[0]}

	events := diff(scan.priorReserve, current, 10, uint64(time.Now().Unix()), true)
	require.Len(t, events, 1)
	for _, ev := range events {
		require.NoError(t, core.IngestReserveEvent(ev))
	}
	scan.priorReserve = current

	// Replay: no new events.
	events = diff(scan.priorReserve, current, 10, uint64(time.Now().Unix()), true)
	require.Empty(t, events)

	// Remove the box: expect ReserveSpent.
	empty := map[string]ergonode.Box{}
	events = diff(scan.priorReserve, empty, 11, uint64(time.Now().Unix()), true)
	require.Len(t, events, 1)
	require.Equal(t, tracker.ReserveEventSpent, events[0].Kind)
	for _, ev := range events {
		require.NoError(t, core.IngestReserveEvent(ev))
	}

	_ = trackerID
}
