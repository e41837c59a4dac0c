package tracker

import (
	"context"
	"encoding/hex"

	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/avltree"
	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
)

type addOrUpdateNoteCmd struct {
	note  *store.Note
	now   uint64
	reply chan error
}

type getNoteCmd struct {
	issuerPk, recipientPk []byte
	reply                 chan getNoteReply
}

type getNoteReply struct {
	note *store.Note
	err  error
}

type listByIssuerCmd struct {
	pk    []byte
	reply chan listReply
}

type listByRecipientCmd struct {
	pk    []byte
	reply chan listReply
}

type listReply struct {
	notes []*store.Note
	err   error
}

type prepareRedemptionCmd struct {
	ctx           context.Context
	issuerPk      []byte
	recipientPk   []byte
	totalDebt     uint64
	emergency     bool
	currentHeight uint64
	ownerSig      []byte
	proofOnly     bool
	reply         chan prepareReply
}

type prepareReply struct {
	prep *RedemptionPrep
	err  error
}

type coSignRedemptionCmd struct {
	ctx         context.Context
	issuerPk    []byte
	recipientPk []byte
	totalDebt   uint64
	emergency   bool
	reply       chan coSignReply
}

type coSignReply struct {
	sig [65]byte
	msg []byte
	err error
}

type ingestReserveEventCmd struct {
	event ReserveEvent
	reply chan error
}

type listAllNotesCmd struct {
	reply chan listReply
}

type listAllReservesCmd struct {
	reply chan reserveListReply
}

type listReservesByOwnerCmd struct {
	pk    []byte
	reply chan reserveListReply
}

type reserveListReply struct {
	entries []*store.ReserveEntry
	err     error
}

type keyStatusCmd struct {
	pk    []byte
	reply chan keyStatusReply
}

type keyStatusReply struct {
	status KeyStatus
	err    error
}

type lookupProofCmd struct {
	issuerPk    []byte
	recipientPk []byte
	reply       chan lookupProofReply
}

type lookupProofReply struct {
	proof *NoteProof
	err   error
}

type listEventsCmd struct {
	offset uint64
	limit  int
	reply  chan eventListReply
}

type eventListReply struct {
	events []*store.Event
	err    error
}

type redeemCompleteCmd struct {
	issuerPk    []byte
	recipientPk []byte
	totalDebt   uint64
	timestamp   uint64
	reply       chan error
}

type snapshotCmd struct {
	reply chan Snapshot
}

type setCurrentHeightCmd struct {
	height uint64
	reply  chan struct{}
}

type recordCommitCmd struct {
	height uint64
	ts     uint64
	reply  chan error
}

// Snapshot is the reply to the Snapshot command: the tracker tree's current
// digest plus the bookkeeping timestamps the commitment writer logs.
type Snapshot struct {
	Digest         avltree.Digest
	CurrentHeight  uint64
	LastCommitted  avltree.Digest
	HasCommitted   bool
}

// dispatch runs exactly one command to completion. It is only ever called
// from the run() goroutine, so no locking is needed around c.tree or
// c.reserveTrees.
func (c *Core) dispatch(cmd interface{}) {
	switch v := cmd.(type) {
	case *addOrUpdateNoteCmd:
		v.reply <- c.handleAddOrUpdateNote(v.note, v.now)
	case *getNoteCmd:
		note, err := c.handleGetNote(v.issuerPk, v.recipientPk)
		v.reply <- getNoteReply{note: note, err: err}
	case *listByIssuerCmd:
		notes, err := c.handleListByIssuer(v.pk)
		v.reply <- listReply{notes: notes, err: err}
	case *listByRecipientCmd:
		notes, err := c.handleListByRecipient(v.pk)
		v.reply <- listReply{notes: notes, err: err}
	case *prepareRedemptionCmd:
		prep, err := c.handlePrepareRedemption(v)
		v.reply <- prepareReply{prep: prep, err: err}
	case *coSignRedemptionCmd:
		sig, msg, err := c.handleCoSignRedemption(v)
		v.reply <- coSignReply{sig: sig, msg: msg, err: err}
	case *ingestReserveEventCmd:
		v.reply <- c.handleIngestReserveEvent(v.event)
	case *redeemCompleteCmd:
		v.reply <- c.handleRedeemComplete(v)
	case *listAllNotesCmd:
		notes, err := c.handleListAllNotes()
		v.reply <- listReply{notes: notes, err: err}
	case *listAllReservesCmd:
		entries, err := c.handleListAllReserves()
		v.reply <- reserveListReply{entries: entries, err: err}
	case *listReservesByOwnerCmd:
		entries, err := c.handleListReservesByOwner(v.pk)
		v.reply <- reserveListReply{entries: entries, err: err}
	case *keyStatusCmd:
		status, err := c.handleKeyStatus(v.pk)
		v.reply <- keyStatusReply{status: status, err: err}
	case *lookupProofCmd:
		proof, err := c.handleLookupProof(v.issuerPk, v.recipientPk)
		v.reply <- lookupProofReply{proof: proof, err: err}
	case *listEventsCmd:
		events, err := c.handleListEvents(v.offset, v.limit)
		v.reply <- eventListReply{events: events, err: err}
	case *snapshotCmd:
		v.reply <- c.handleSnapshot()
	case *setCurrentHeightCmd:
		c.currentHeight = v.height
		v.reply <- struct{}{}
	case *recordCommitCmd:
		v.reply <- c.handleRecordCommit(v.height, v.ts)
	}
}

// replyShutdown answers a command pulled off the queue after quit has
// already closed, so no caller blocks waiting for a reply that will never
// come from a live run loop.
func (c *Core) replyShutdown(cmd interface{}) {
	shutdownErr := errkind.New(errkind.Shutdown, "tracker core is shutting down")
	switch v := cmd.(type) {
	case *addOrUpdateNoteCmd:
		v.reply <- shutdownErr
	case *getNoteCmd:
		v.reply <- getNoteReply{err: shutdownErr}
	case *listByIssuerCmd:
		v.reply <- listReply{err: shutdownErr}
	case *listByRecipientCmd:
		v.reply <- listReply{err: shutdownErr}
	case *prepareRedemptionCmd:
		v.reply <- prepareReply{err: shutdownErr}
	case *coSignRedemptionCmd:
		v.reply <- coSignReply{err: shutdownErr}
	case *ingestReserveEventCmd:
		v.reply <- shutdownErr
	case *redeemCompleteCmd:
		v.reply <- shutdownErr
	case *listAllNotesCmd:
		v.reply <- listReply{err: shutdownErr}
	case *listAllReservesCmd:
		v.reply <- reserveListReply{err: shutdownErr}
	case *listReservesByOwnerCmd:
		v.reply <- reserveListReply{err: shutdownErr}
	case *keyStatusCmd:
		v.reply <- keyStatusReply{err: shutdownErr}
	case *lookupProofCmd:
		v.reply <- lookupProofReply{err: shutdownErr}
	case *listEventsCmd:
		v.reply <- eventListReply{err: shutdownErr}
	case *snapshotCmd:
		v.reply <- Snapshot{}
	case *setCurrentHeightCmd:
		v.reply <- struct{}{}
	case *recordCommitCmd:
		v.reply <- shutdownErr
	}
}

// handleAddOrUpdateNote validates a submitted note (signature, monotone
// debt), writes it plus its AVL+ update and audit event atomically, and
// rolls the in-memory tree back if the transaction fails.
func (c *Core) handleAddOrUpdateNote(n *store.Note, now uint64) error {
	if n.Timestamp > now {
		return errkind.New(errkind.FutureTimestamp,
			"timestamp %d is after current time %d", n.Timestamp, now)
	}

	pub, err := schnorr.ParsePublicKey(n.IssuerPk[:])
	if err != nil {
		return err
	}
	key, err := schnorr.NoteKey(n.IssuerPk[:], n.RecipientPk[:])
	if err != nil {
		return err
	}
	msg := schnorr.SigningMessage(key, n.TotalDebt, false)
	if err := schnorr.Verify(pub, msg, n.Signature[:]); err != nil {
		return errkind.New(errkind.InvalidSignature, "%v", err)
	}

	var (
		prevValue *uint64
		mutated   bool
	)

	txErr := c.db.Update(func(tx *bbolt.Tx) error {
		existing, err := store.GetNote(tx, n.IssuerPk[:], n.RecipientPk[:])
		if err != nil {
			return err
		}
		if existing != nil && existing.TotalDebt > n.TotalDebt {
			return errkind.New(errkind.NonMonotone,
				"new totalDebt %d is less than existing %d", n.TotalDebt, existing.TotalDebt)
		}

		if err := store.PutNote(tx, n); err != nil {
			return err
		}

		prevValue, _ = c.tree.Lookup(key)
		c.tree.InsertOrUpdate(key, n.TotalDebt)
		mutated = true

		_, err = store.AppendEvent(tx, store.EventNoteUpdated, n.Timestamp, map[string]interface{}{
			"issuer_pk":    hex.EncodeToString(n.IssuerPk[:]),
			"recipient_pk": hex.EncodeToString(n.RecipientPk[:]),
			"total_debt":   n.TotalDebt,
		})
		return err
	})

	if txErr != nil && mutated {
		// The store write didn't land; the AVL+ mutation must not be
		// observable. Re-insert the prior value, or reload the whole
		// tree from disk if this was a fresh key with no prior value.
		if prevValue != nil {
			c.tree.InsertOrUpdate(key, *prevValue)
		} else if err := c.rebuildTree(); err != nil {
			return errkind.New(errkind.StorageError,
				"transaction failed (%v) and tree rebuild also failed: %v", txErr, err)
		}
	}

	return txErr
}

func (c *Core) handleGetNote(issuerPk, recipientPk []byte) (*store.Note, error) {
	var note *store.Note
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		note, err = store.GetNote(tx, issuerPk, recipientPk)
		return err
	})
	return note, err
}

func (c *Core) handleListByIssuer(pk []byte) ([]*store.Note, error) {
	var notes []*store.Note
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		notes, err = store.ListByIssuer(tx, pk)
		return err
	})
	return notes, err
}

func (c *Core) handleListByRecipient(pk []byte) ([]*store.Note, error) {
	var notes []*store.Note
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		notes, err = store.ListByRecipient(tx, pk)
		return err
	})
	return notes, err
}

func (c *Core) handleSnapshot() Snapshot {
	snap := Snapshot{
		Digest:        c.tree.Digest(),
		CurrentHeight: c.currentHeight,
	}
	_ = c.db.View(func(tx *bbolt.Tx) error {
		digest, _, ok := store.LastCommittedDigest(tx)
		snap.LastCommitted = avltree.Digest(digest)
		snap.HasCommitted = ok
		return nil
	})
	return snap
}

// handleRecordCommit persists the tree's current digest as the most recent
// commitment, so a restart's Snapshot reports the same last-committed
// digest a caller saw before the process went down, and appends a
// Commitment event to the audit log.
func (c *Core) handleRecordCommit(height, ts uint64) error {
	digest := c.tree.Digest()
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := store.SetLastCommittedDigest(tx, digest, height); err != nil {
			return err
		}
		_, err := store.AppendEvent(tx, store.EventCommitment, ts, map[string]interface{}{
			"digest": hex.EncodeToString(digest[:]),
			"height": height,
		})
		return err
	})
}
