// Package tracker implements the single-writer state machine that owns the
// note table, the tracker-side AVL+ tree, and the reserve-side redeemed-
// amount trees. It is adapted from htlcswitch.Switch's command-plexing
// design (htlcswitch/switch.go): all mutation funnels through one goroutine
// consuming a bounded command channel, so the AVL+ digest, note table, and
// event log advance atomically without cross-component locking.
package tracker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/avltree"
	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
)

// Signer delegates tracker-key signing to an external service: the tracker
// holds no private key in the default deployment.
type Signer interface {
	SignTracker(ctx context.Context, msg []byte) ([65]byte, error)
}

// Config bundles the parameters Core needs at construction.
type Config struct {
	DB     *store.DB
	Signer Signer

	// TrackerPublicKey is the public half of the delegated signer's key.
	// Core stores it but does not read it.
	TrackerPublicKey *secp256k1.PublicKey

	// TrackerNftID is the configured tracker-NFT id; a reserve must carry
	// this in its R6 register to be eligible for redemption against it.
	TrackerNftID [32]byte

	// TrackerBoxCreationHeight gates emergency redemption: only permitted
	// once currentHeight - this > 3*720.
	TrackerBoxCreationHeight uint64

	// CollateralAlertThreshold is the ratio below which a CollateralAlert
	// event fires, default 1.0.
	CollateralAlertThreshold float64

	// CommandQueueSize bounds the command channel; a full queue surfaces
	// as ServiceBusy at the HTTP layer rather than blocking indefinitely.
	CommandQueueSize int
}

// Core is the tracker's single-writer state machine. Every exported method
// sends a command over an internal channel and blocks for
// a oneshot reply; the actual mutation happens on the one goroutine spawned
// by Start, matching htlcswitch.Switch's htlcPlex/htlcForwarder split.
type Core struct {
	started int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	cfg *Config
	db  *store.DB

	commands chan interface{}

	// tree is the tracker-side AVL+ dictionary: key = NoteKey(issuer,
	// recipient), value = cumulative totalDebt. Owned exclusively by the
	// command-processing goroutine.
	tree *avltree.Tree

	// reserveTrees tracks, per reserve-owning issuer, the reserve-side
	// AVL+ dictionary of cumulative redeemed amounts per (issuer,
	// recipient) key. Also owned exclusively by the command goroutine.
	reserveTrees map[[33]byte]*avltree.Tree

	// currentHeight is updated via SetCurrentHeight and reported by
	// Snapshot. The emergency-redemption gate uses the request's own
	// CurrentHeight, not this field.
	currentHeight uint64
}

// New constructs a Core. Call Start before sending any commands.
func New(cfg *Config) *Core {
	queueSize := cfg.CommandQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Core{
		cfg:          cfg,
		db:           cfg.DB,
		commands:     make(chan interface{}, queueSize),
		tree:         avltree.New(),
		reserveTrees: make(map[[33]byte]*avltree.Tree),
		quit:         make(chan struct{}),
	}
}

// Start rebuilds the AVL+ tree from durable storage (crash recovery) and
// launches the command-processing goroutine.
func (c *Core) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("tracker core already started")
	}

	if err := c.rebuildTree(); err != nil {
		return fmt.Errorf("unable to rebuild AVL+ tree: %w", err)
	}

	c.wg.Add(1)
	go c.run()

	log.Infof("tracker core started, digest=%x", c.tree.Digest())
	return nil
}

// Stop signals the command goroutine to drain and exit, then waits for it.
// Commands still queued when quit closes are answered with Shutdown, not
// processed; anything sent after Stop is called observes the closed quit
// channel and receives Shutdown.
func (c *Core) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.shutdown, 0, 1) {
		return fmt.Errorf("tracker core already shut down")
	}

	close(c.quit)
	c.wg.Wait()
	log.Infof("tracker core shut down")
	return nil
}

// rebuildTree replays every stored note into a fresh AVL+ tree, used on
// startup to recover in-memory state after a crash or restart. Tree shape
// is determined entirely by key order, so replay order doesn't matter.
func (c *Core) rebuildTree() error {
	var notes []*store.Note
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		notes, err = store.AllNotes(tx)
		return err
	})
	if err != nil {
		return err
	}

	tree := avltree.New()
	for _, n := range notes {
		key, err := schnorr.NoteKey(n.IssuerPk[:], n.RecipientPk[:])
		if err != nil {
			return err
		}
		tree.InsertOrUpdate(key, n.TotalDebt)
	}
	c.tree = tree

	reserves, err := c.allReserves()
	if err != nil {
		return err
	}
	c.reserveTrees = make(map[[33]byte]*avltree.Tree)
	for _, r := range reserves {
		if _, ok := c.reserveTrees[r.Info.OwnerPk]; !ok {
			c.reserveTrees[r.Info.OwnerPk] = avltree.New()
		}
	}

	return c.replayRedemptionCommits()
}

// redemptionCommittedPayload is the JSON shape appended by handleRedeemComplete
// for every completed redemption, replayed here to reconstruct each owner's
// reserve-side redeemed-amount tree after a restart.
type redemptionCommittedPayload struct {
	IssuerPk    string `json:"issuer_pk"`
	RecipientPk string `json:"recipient_pk"`
	TotalDebt   uint64 `json:"total_debt"`
}

// replayRedemptionCommits rebuilds every owner's reserve-side tree from the
// durable event log, since that tree (unlike notes and reserves) has no
// dedicated partition of its own: the reserve-side AVL+ only appears as a
// digest, never as a stored table.
func (c *Core) replayRedemptionCommits() error {
	const pageSize = 256
	var offset uint64

	for {
		var page []*store.Event
		err := c.db.View(func(tx *bbolt.Tx) error {
			var err error
			page, err = store.ListEvents(tx, offset, pageSize)
			return err
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, ev := range page {
			if ev.Kind != store.EventRedemptionCommitted {
				continue
			}
			var p redemptionCommittedPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				return err
			}
			issuerPk, err := hex.DecodeString(p.IssuerPk)
			if err != nil {
				return err
			}
			recipientPk, err := hex.DecodeString(p.RecipientPk)
			if err != nil {
				return err
			}
			key, err := schnorr.NoteKey(issuerPk, recipientPk)
			if err != nil {
				return err
			}

			var ownerPk [33]byte
			copy(ownerPk[:], issuerPk)
			tree, ok := c.reserveTrees[ownerPk]
			if !ok {
				tree = avltree.New()
				c.reserveTrees[ownerPk] = tree
			}
			tree.InsertOrUpdate(key, p.TotalDebt)
		}

		offset = page[len(page)-1].Seq + 1
	}
}

func (c *Core) allReserves() ([]*store.ReserveEntry, error) {
	var reserves []*store.ReserveEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		reserves, err = store.AllReserves(tx)
		return err
	})
	return reserves, err
}

// send delivers cmd to the command goroutine, respecting shutdown. Returns
// ServiceBusy if the queue is full and Shutdown if the core has stopped,
// so a backed-up caller gets an explicit error instead of blocking
// indefinitely.
func (c *Core) send(cmd interface{}) error {
	select {
	case <-c.quit:
		return errkind.New(errkind.Shutdown, "tracker core is shutting down")
	default:
	}

	select {
	case c.commands <- cmd:
		return nil
	case <-c.quit:
		return errkind.New(errkind.Shutdown, "tracker core is shutting down")
	default:
		return errkind.New(errkind.ServiceBusy, "command queue is full")
	}
}

// run is the single goroutine that owns all mutable tracker state. It must
// only ever be invoked once, by Start.
func (c *Core) run() {
	defer c.wg.Done()

	for {
		select {
		case cmd := <-c.commands:
			c.dispatch(cmd)
		case <-c.quit:
			c.drain()
			return
		}
	}
}

// drain replies Shutdown to every command still sitting in the queue after
// the quit signal, so no caller blocks forever.
func (c *Core) drain() {
	for {
		select {
		case cmd := <-c.commands:
			c.replyShutdown(cmd)
		default:
			return
		}
	}
}
