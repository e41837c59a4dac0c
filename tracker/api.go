package tracker

import (
	"context"

	"github.com/basis-protocol/tracker/store"
)

// AddOrUpdateNote submits a signed cumulative-debt note for validation and
// durable storage, blocking until the command goroutine has processed it.
func (c *Core) AddOrUpdateNote(note *store.Note, now uint64) error {
	reply := make(chan error, 1)
	cmd := &addOrUpdateNoteCmd{note: note, now: now, reply: reply}
	if err := c.send(cmd); err != nil {
		return err
	}
	return <-reply
}

// GetNote returns the note for (issuerPk, recipientPk), or nil if none
// exists.
func (c *Core) GetNote(issuerPk, recipientPk []byte) (*store.Note, error) {
	reply := make(chan getNoteReply, 1)
	cmd := &getNoteCmd{issuerPk: issuerPk, recipientPk: recipientPk, reply: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.note, r.err
}

// ListByIssuer returns every note issued by pk.
func (c *Core) ListByIssuer(pk []byte) ([]*store.Note, error) {
	reply := make(chan listReply, 1)
	cmd := &listByIssuerCmd{pk: pk, reply: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.notes, r.err
}

// ListByRecipient returns every note addressed to pk.
func (c *Core) ListByRecipient(pk []byte) ([]*store.Note, error) {
	reply := make(chan listReply, 1)
	cmd := &listByRecipientCmd{pk: pk, reply: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.notes, r.err
}

// PrepareRedemptionRequest is the input to PrepareRedemption.
type PrepareRedemptionRequest struct {
	IssuerPk      []byte
	RecipientPk   []byte
	TotalDebt     uint64
	Emergency     bool
	CurrentHeight uint64
	OwnerSig      []byte

	// ProofOnly skips the delegated-signer call, for GET /proof/redemption
	// (a read-only proof bundle, no tracker co-signature).
	ProofOnly bool
}

// PrepareRedemption produces the full on-chain redemption payload, including
// the tracker's delegated co-signature.
func (c *Core) PrepareRedemption(ctx context.Context, req PrepareRedemptionRequest) (*RedemptionPrep, error) {
	reply := make(chan prepareReply, 1)
	cmd := &prepareRedemptionCmd{
		ctx:           ctx,
		issuerPk:      req.IssuerPk,
		recipientPk:   req.RecipientPk,
		totalDebt:     req.TotalDebt,
		emergency:     req.Emergency,
		currentHeight: req.CurrentHeight,
		ownerSig:      req.OwnerSig,
		proofOnly:     req.ProofOnly,
		reply:         reply,
	}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.prep, r.err
}

// CoSignRedemption returns just the tracker's signature and the message it
// signs, without producing AVL+ proofs.
func (c *Core) CoSignRedemption(ctx context.Context, issuerPk, recipientPk []byte, totalDebt uint64, emergency bool) ([65]byte, []byte, error) {
	reply := make(chan coSignReply, 1)
	cmd := &coSignRedemptionCmd{
		ctx:         ctx,
		issuerPk:    issuerPk,
		recipientPk: recipientPk,
		totalDebt:   totalDebt,
		emergency:   emergency,
		reply:       reply,
	}
	if err := c.send(cmd); err != nil {
		return [65]byte{}, nil, err
	}
	r := <-reply
	return r.sig, r.msg, r.err
}

// IngestReserveEvent applies a scanner-classified reserve-box transition.
func (c *Core) IngestReserveEvent(ev ReserveEvent) error {
	reply := make(chan error, 1)
	cmd := &ingestReserveEventCmd{event: ev, reply: reply}
	if err := c.send(cmd); err != nil {
		return err
	}
	return <-reply
}

// RedeemComplete acknowledges that an on-chain redemption landed, advancing
// the owner's canonical reserve-side redeemed-amount tree to totalDebt.
func (c *Core) RedeemComplete(issuerPk, recipientPk []byte, totalDebt, timestamp uint64) error {
	reply := make(chan error, 1)
	cmd := &redeemCompleteCmd{
		issuerPk:    issuerPk,
		recipientPk: recipientPk,
		totalDebt:   totalDebt,
		timestamp:   timestamp,
		reply:       reply,
	}
	if err := c.send(cmd); err != nil {
		return err
	}
	return <-reply
}

// AllNotes returns every note in the store.
func (c *Core) AllNotes() ([]*store.Note, error) {
	reply := make(chan listReply, 1)
	if err := c.send(&listAllNotesCmd{reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.notes, r.err
}

// AllReserves returns every reserve record in the store.
func (c *Core) AllReserves() ([]*store.ReserveEntry, error) {
	reply := make(chan reserveListReply, 1)
	if err := c.send(&listAllReservesCmd{reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.entries, r.err
}

// ReservesByOwner returns every reserve ever seen for pk.
func (c *Core) ReservesByOwner(pk []byte) ([]*store.ReserveEntry, error) {
	reply := make(chan reserveListReply, 1)
	if err := c.send(&listReservesByOwnerCmd{pk: pk, reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.entries, r.err
}

// KeyStatus returns pk's aggregated debt/collateral/ratio view.
func (c *Core) KeyStatus(pk []byte) (KeyStatus, error) {
	reply := make(chan keyStatusReply, 1)
	if err := c.send(&keyStatusCmd{pk: pk, reply: reply}); err != nil {
		return KeyStatus{}, err
	}
	r := <-reply
	return r.status, r.err
}

// LookupProof returns the tracker-tree AVL+ lookup proof for (issuerPk,
// recipientPk).
func (c *Core) LookupProof(issuerPk, recipientPk []byte) (*NoteProof, error) {
	reply := make(chan lookupProofReply, 1)
	cmd := &lookupProofCmd{issuerPk: issuerPk, recipientPk: recipientPk, reply: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.proof, r.err
}

// ListEvents returns up to limit events with seq >= offset.
func (c *Core) ListEvents(offset uint64, limit int) ([]*store.Event, error) {
	reply := make(chan eventListReply, 1)
	cmd := &listEventsCmd{offset: offset, limit: limit, reply: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	return r.events, r.err
}

// Snapshot returns the tracker tree's current digest and bookkeeping
// timestamps, used by the periodic commitment writer.
func (c *Core) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	cmd := &snapshotCmd{reply: reply}
	if err := c.send(cmd); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

// SetCurrentHeight records the chain height most recently observed by the
// scanner, surfaced back through Snapshot.
func (c *Core) SetCurrentHeight(height uint64) error {
	reply := make(chan struct{}, 1)
	cmd := &setCurrentHeightCmd{height: height, reply: reply}
	if err := c.send(cmd); err != nil {
		return err
	}
	<-reply
	return nil
}

// RecordCommit persists the tree's current digest as the tracker's latest
// commitment at the given height and timestamp, for the periodic
// commitment writer.
func (c *Core) RecordCommit(height, ts uint64) error {
	reply := make(chan error, 1)
	cmd := &recordCommitCmd{height: height, ts: ts, reply: reply}
	if err := c.send(cmd); err != nil {
		return err
	}
	return <-reply
}
