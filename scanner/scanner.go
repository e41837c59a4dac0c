// Package scanner implements the tracker's chain-ingress component: it
// registers reserve and tracker-NFT scans with an external Ergo node, polls
// each independently, diffs successive unspent-box sets into typed reserve
// events, and feeds them to the tracker core. The polling loop's
// ticker/quit-channel shape is adapted from htlcswitch.Switch's logTicker
// pattern (htlcswitch/switch.go).
package scanner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/ergonode"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

// reVerifyInterval is the minimum cadence at which registered scan ids are
// confirmed still valid with the node.
const reVerifyInterval = 4 * time.Hour

const (
	initialPollInterval = 5 * time.Second
	maxPollInterval     = 2 * time.Minute
)

// NodeClient is the subset of ergonode.Client the scanner depends on,
// narrowed to an interface so tests can substitute a fake node.
type NodeClient interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	RegisterScan(ctx context.Context, req ergonode.ScanRegisterRequest) (int, error)
	ListScans(ctx context.Context) ([]int, error)
	UnspentBoxesByScan(ctx context.Context, scanID int) ([]ergonode.Box, error)
}

// Config bundles the scanner's wiring.
type Config struct {
	Node  NodeClient
	DB    *store.DB
	Core  *tracker.Core

	ReserveContractP2S string
	TrackerNftID       [32]byte
}

// Scanner owns the two independent scan-polling tasks and the periodic
// re-verification sweep.
type Scanner struct {
	started int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	cfg Config

	reserveScanID   int
	trackerNftScanID int

	mu             sync.Mutex
	priorReserve   map[string]ergonode.Box
	priorTrackerNft map[string]ergonode.Box
}

// New constructs a Scanner.
func New(cfg Config) *Scanner {
	return &Scanner{
		cfg:             cfg,
		quit:            make(chan struct{}),
		priorReserve:    make(map[string]ergonode.Box),
		priorTrackerNft: make(map[string]ergonode.Box),
	}
}

// Start registers both scans idempotently and launches the polling and
// re-verification goroutines.
func (s *Scanner) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	reserveScanID, trackerScanID, err := s.registerScans(ctx)
	if err != nil {
		return err
	}
	s.reserveScanID = reserveScanID
	s.trackerNftScanID = trackerScanID

	s.wg.Add(3)
	go s.pollLoop(s.reserveScanID, true, &s.priorReserve)
	go s.pollLoop(s.trackerNftScanID, false, &s.priorTrackerNft)
	go s.reVerifyLoop()

	return nil
}

// Stop signals all scanner goroutines to drain and exit.
func (s *Scanner) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}
	close(s.quit)
	s.wg.Wait()
	return nil
}

// reserveTrackingRule builds the node's tracking-rule predicate for the
// reserve scan: every unspent box sitting at the reserve contract's P2S
// address.
func reserveTrackingRule(p2s string) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"predicate": "equals",
		"value":     p2s,
	})
	return raw
}

// trackerNftTrackingRule builds the tracking-rule predicate for the
// tracker-NFT scan: every unspent box carrying the configured tracker-NFT
// asset id.
func trackerNftTrackingRule(nftID [32]byte) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"predicate": "containsAsset",
		"assetId":   hex.EncodeToString(nftID[:]),
	})
	return raw
}

// registerScans returns the reserve and tracker-NFT scan ids, reusing
// whatever was persisted by a prior run if both are on record, or
// registering fresh ones with the node otherwise.
func (s *Scanner) registerScans(ctx context.Context) (reserveID, trackerID int, err error) {
	var haveReserve, haveTracker bool
	_ = s.cfg.DB.View(func(tx *bbolt.Tx) error {
		reserveID, haveReserve = store.ReserveScanID(tx)
		trackerID, haveTracker = store.TrackerNftScanID(tx)
		return nil
	})
	if haveReserve && haveTracker {
		return reserveID, trackerID, nil
	}
	return s.reRegisterScans(ctx)
}

// reRegisterScans unconditionally asks the node for fresh reserve and
// tracker-NFT scans and persists the ids it gets back, overwriting whatever
// was on record. Used both on first run (nothing persisted yet) and by
// reVerify when the node reports it has forgotten a previously registered
// scan id.
func (s *Scanner) reRegisterScans(ctx context.Context) (reserveID, trackerID int, err error) {
	reserveID, err = s.cfg.Node.RegisterScan(ctx, ergonode.ScanRegisterRequest{
		ScanName:     "basis-reserve-scan",
		TrackingRule: reserveTrackingRule(s.cfg.ReserveContractP2S),
	})
	if err != nil {
		return 0, 0, err
	}

	trackerID, err = s.cfg.Node.RegisterScan(ctx, ergonode.ScanRegisterRequest{
		ScanName:       "basis-tracker-nft-scan",
		TrackingRule:   trackerNftTrackingRule(s.cfg.TrackerNftID),
		RemoveOffchain: true,
	})
	if err != nil {
		return 0, 0, err
	}

	err = s.cfg.DB.Update(func(tx *bbolt.Tx) error {
		if err := store.SetReserveScanID(tx, reserveID); err != nil {
			return err
		}
		return store.SetTrackerNftScanID(tx, trackerID)
	})
	if err != nil {
		return 0, 0, err
	}

	return reserveID, trackerID, nil
}

// pollLoop repeatedly fetches a scan's unspent-box set and diffs it
// against the prior poll, with exponential backoff when the chain height
// hasn't advanced.
func (s *Scanner) pollLoop(scanID int, isReserveScan bool, prior *map[string]ergonode.Box) {
	defer s.wg.Done()

	var lastHeight uint64
	_ = s.cfg.DB.View(func(tx *bbolt.Tx) error {
		lastHeight = store.ScannerLastHeight(tx)
		return nil
	})
	interval := initialPollInterval

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		ctx := context.Background()
		height, err := s.cfg.Node.CurrentHeight(ctx)
		if err != nil {
			log.Warnf("unable to fetch current height: %v", err)
			interval = backoff(interval)
			if !s.sleep(interval) {
				return
			}
			continue
		}

		if height == lastHeight {
			interval = backoff(interval)
			if !s.sleep(interval) {
				return
			}
			continue
		}
		lastHeight = height
		interval = initialPollInterval

		boxes, err := s.cfg.Node.UnspentBoxesByScan(ctx, scanID)
		if err != nil {
			if !s.sleep(interval) {
				return
			}
			continue
		}

		current := make(map[string]ergonode.Box, len(boxes))
		for _, b := range boxes {
			current[b.BoxID] = b
		}

		s.mu.Lock()
		events := diff(*prior, current, height, uint64(time.Now().Unix()), isReserveScan)
		*prior = current
		s.mu.Unlock()

		for _, ev := range events {
			_ = s.cfg.Core.IngestReserveEvent(ev)
		}
		_ = s.cfg.Core.SetCurrentHeight(height)
		_ = s.cfg.DB.Update(func(tx *bbolt.Tx) error {
			return store.SetScannerLastHeight(tx, height)
		})

		if !s.sleep(interval) {
			return
		}
	}
}

func backoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxPollInterval {
		return maxPollInterval
	}
	return next
}

// sleep waits for d or until quit fires, returning false if quit fired.
func (s *Scanner) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.quit:
		return false
	}
}

// reVerifyLoop periodically confirms the registered scan ids are still
// valid, re-registering if the node has forgotten them.
func (s *Scanner) reVerifyLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(reVerifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reVerify()
		case <-s.quit:
			return
		}
	}
}

func (s *Scanner) reVerify() {
	ctx := context.Background()
	ids, err := s.cfg.Node.ListScans(ctx)
	if err != nil {
		return
	}

	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}

	if !seen[s.reserveScanID] || !seen[s.trackerNftScanID] {
		reserveID, trackerID, err := s.reRegisterScans(ctx)
		if err != nil {
			return
		}
		s.reserveScanID = reserveID
		s.trackerNftScanID = trackerID
	}

	now := uint64(time.Now().Unix())
	_ = s.cfg.DB.Update(func(tx *bbolt.Tx) error {
		return store.SetLastVerificationTimestamp(tx, now)
	})
}
