package tracker

import (
	"encoding/hex"

	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/avltree"
	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
)

// emergencyWindowBlocks is the minimum number of blocks since the tracker
// box's creation before an emergency redemption is permitted: 3 epochs of
// 720 blocks.
const emergencyWindowBlocks = 3 * 720

// RedemptionPrep is the payload the on-chain redemption contract requires.
type RedemptionPrep struct {
	Action                 byte
	ReceiverPk             [33]byte
	ReserveOwnerSignature  []byte
	TotalDebt              uint64
	ReserveInsertProof     []byte
	ReserveLookupProof     []byte
	TrackerSignature       [65]byte
	TrackerLookupProof     []byte
	TrackerStateDigest     avltree.Digest
	IsFirstRedemption      bool
	Message                []byte
	IsEmergency            bool
}

// handlePrepareRedemption reads the tracker tree and a scratch clone of
// the owning reserve's tree (never mutating the canonical reserve tree —
// that only advances once /redeem/complete confirms the on-chain
// transaction landed).
func (c *Core) handlePrepareRedemption(cmd *prepareRedemptionCmd) (*RedemptionPrep, error) {
	if cmd.emergency {
		if cmd.currentHeight <= c.cfg.TrackerBoxCreationHeight+emergencyWindowBlocks {
			return nil, errkind.New(errkind.EmergencyTooEarly,
				"emergency redemption requires currentHeight > %d, got %d",
				c.cfg.TrackerBoxCreationHeight+emergencyWindowBlocks, cmd.currentHeight)
		}
	}

	key, err := schnorr.NoteKey(cmd.issuerPk, cmd.recipientPk)
	if err != nil {
		return nil, err
	}

	trackerVal, trackerLookupProof := c.tree.Lookup(key)
	if trackerVal == nil {
		return nil, errkind.New(errkind.NoteNotFound, "no note found for this issuer/recipient pair")
	}
	if cmd.totalDebt != *trackerVal {
		return nil, errkind.New(errkind.InsufficientDebt,
			"requested totalDebt %d does not match committed totalDebt %d", cmd.totalDebt, *trackerVal)
	}

	var ownerPk [33]byte
	copy(ownerPk[:], cmd.issuerPk)

	reserveTree, err := c.reserveTreeForOwner(ownerPk)
	if err != nil {
		return nil, err
	}

	scratch := cloneTree(reserveTree)
	oldRedeemed, reserveLookupProof := scratch.Lookup(key)
	isFirst := oldRedeemed == nil

	insertProof := scratch.InsertOrUpdate(key, cmd.totalDebt)

	var lookupProofOut []byte
	if !isFirst {
		lookupProofOut = reserveLookupProof
	}

	msg := schnorr.SigningMessage(key, cmd.totalDebt, cmd.emergency)

	var trackerSig [65]byte
	if !cmd.proofOnly && c.cfg.Signer != nil {
		sig, err := c.cfg.Signer.SignTracker(cmd.ctx, msg)
		if err != nil {
			return nil, errkind.New(errkind.NodeUnavailable, "delegated signer unavailable: %v", err)
		}
		trackerSig = sig
	}

	var receiverPk [33]byte
	copy(receiverPk[:], cmd.recipientPk)

	return &RedemptionPrep{
		Action:                0x00,
		ReceiverPk:            receiverPk,
		ReserveOwnerSignature: cmd.ownerSig,
		TotalDebt:             cmd.totalDebt,
		ReserveInsertProof:    insertProof,
		ReserveLookupProof:    lookupProofOut,
		TrackerSignature:      trackerSig,
		TrackerLookupProof:    trackerLookupProof,
		TrackerStateDigest:    c.tree.Digest(),
		IsFirstRedemption:     isFirst,
		Message:               msg,
		IsEmergency:           cmd.emergency,
	}, nil
}

// handleCoSignRedemption produces just the tracker signature and message,
// touching neither AVL+ tree.
func (c *Core) handleCoSignRedemption(cmd *coSignRedemptionCmd) ([65]byte, []byte, error) {
	var sig [65]byte

	// CoSignRedemption is reads-only and doesn't gate on height the way
	// PrepareRedemption does; callers that need the emergency gate
	// enforced go through PrepareRedemption first.

	key, err := schnorr.NoteKey(cmd.issuerPk, cmd.recipientPk)
	if err != nil {
		return sig, nil, err
	}

	trackerVal, _ := c.tree.Lookup(key)
	if trackerVal == nil {
		return sig, nil, errkind.New(errkind.NoteNotFound, "no note found for this issuer/recipient pair")
	}
	if cmd.totalDebt != *trackerVal {
		return sig, nil, errkind.New(errkind.InsufficientDebt,
			"requested totalDebt %d does not match committed totalDebt %d", cmd.totalDebt, *trackerVal)
	}

	msg := schnorr.SigningMessage(key, cmd.totalDebt, cmd.emergency)

	if c.cfg.Signer == nil {
		return sig, msg, errkind.New(errkind.NodeUnavailable, "no delegated signer configured")
	}
	sig, err = c.cfg.Signer.SignTracker(cmd.ctx, msg)
	if err != nil {
		return sig, msg, errkind.New(errkind.NodeUnavailable, "delegated signer unavailable: %v", err)
	}
	return sig, msg, nil
}

// reserveTreeForOwner returns the in-memory reserve-side tree for ownerPk's
// eligible (non-spent, matching tracker-NFT) reserve, creating an empty one
// if this is the owner's first-ever redemption preparation.
func (c *Core) reserveTreeForOwner(ownerPk [33]byte) (*avltree.Tree, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		entries, err := store.ListReservesByOwner(tx, ownerPk[:])
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Info.Spent {
				continue
			}
			if e.Info.TrackerNftID != c.cfg.TrackerNftID {
				continue
			}
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errkind.New(errkind.ReserveNotFound, "no eligible reserve for this issuer")
	}

	tree, ok := c.reserveTrees[ownerPk]
	if !ok {
		tree = avltree.New()
		c.reserveTrees[ownerPk] = tree
	}
	return tree, nil
}

// handleRedeemComplete commits a redemption that PrepareRedemption already
// proved: it advances the owner's canonical reserve-side tree to the new
// redeemed total and durably records the commit so it survives a restart.
// Rejects a totalDebt lower than the already-committed redeemed value,
// mirroring the tracker tree's own monotone-debt invariant.
func (c *Core) handleRedeemComplete(cmd *redeemCompleteCmd) error {
	key, err := schnorr.NoteKey(cmd.issuerPk, cmd.recipientPk)
	if err != nil {
		return err
	}

	var ownerPk [33]byte
	copy(ownerPk[:], cmd.issuerPk)

	tree, err := c.reserveTreeForOwner(ownerPk)
	if err != nil {
		return err
	}

	oldVal, _ := tree.Lookup(key)
	if oldVal != nil && *oldVal > cmd.totalDebt {
		return errkind.New(errkind.NonMonotone,
			"redeemed amount %d is less than already-committed %d", cmd.totalDebt, *oldVal)
	}

	txErr := c.db.Update(func(tx *bbolt.Tx) error {
		_, err := store.AppendEvent(tx, store.EventRedemptionCommitted, cmd.timestamp, map[string]interface{}{
			"issuer_pk":    hex.EncodeToString(cmd.issuerPk),
			"recipient_pk": hex.EncodeToString(cmd.recipientPk),
			"total_debt":   cmd.totalDebt,
		})
		return err
	})
	if txErr != nil {
		return txErr
	}

	tree.InsertOrUpdate(key, cmd.totalDebt)
	return nil
}

// cloneTree produces an independent copy of t so a prepare-only operation
// can compute an insert proof without mutating the canonical reserve tree.
func cloneTree(t *avltree.Tree) *avltree.Tree {
	entries := make(map[[avltree.KeySize]byte]uint64)
	t.Iterate(func(key [avltree.KeySize]byte, value uint64) {
		entries[key] = value
	})
	return avltree.Rebuild(entries)
}
