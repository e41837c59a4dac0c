package tracker

import (
	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/avltree"
	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
)

// KeyStatus is the aggregated view behind GET /key-status/{pk}: total debt
// issued by pk, total live collateral backing it, and their ratio.
type KeyStatus struct {
	Pk               []byte
	TotalDebt        uint64
	TotalCollateral  uint64
	Ratio            float64
	HasCollateral    bool
}

// NoteProof is the AVL+ lookup-proof bundle behind GET /proof: the note's
// committed value (if any), its lookup proof, and the tree digest the proof
// is relative to.
type NoteProof struct {
	Found  bool
	Value  uint64
	Proof  []byte
	Digest avltree.Digest
}

func (c *Core) handleListAllNotes() ([]*store.Note, error) {
	var notes []*store.Note
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		notes, err = store.AllNotes(tx)
		return err
	})
	return notes, err
}

func (c *Core) handleListAllReserves() ([]*store.ReserveEntry, error) {
	var entries []*store.ReserveEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		entries, err = store.AllReserves(tx)
		return err
	})
	return entries, err
}

func (c *Core) handleListReservesByOwner(pk []byte) ([]*store.ReserveEntry, error) {
	var entries []*store.ReserveEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		entries, err = store.ListReservesByOwner(tx, pk)
		return err
	})
	return entries, err
}

// handleKeyStatus sums totalDebt issued by pk and live collateral held by
// pk, re-using the same ratio computation checkCollateralAlert uses.
func (c *Core) handleKeyStatus(pk []byte) (KeyStatus, error) {
	status := KeyStatus{Pk: pk}

	err := c.db.View(func(tx *bbolt.Tx) error {
		notes, err := store.ListByIssuer(tx, pk)
		if err != nil {
			return err
		}
		for _, n := range notes {
			status.TotalDebt, err = addChecked(status.TotalDebt, n.TotalDebt)
			if err != nil {
				return err
			}
		}

		entries, err := store.ListReservesByOwner(tx, pk)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Info.Spent {
				continue
			}
			status.TotalCollateral += e.Info.CollateralAmount
			status.HasCollateral = true
		}
		return nil
	})
	if err != nil {
		return KeyStatus{}, err
	}

	if status.TotalDebt > 0 {
		status.Ratio = float64(status.TotalCollateral) / float64(status.TotalDebt)
	}
	return status, nil
}

// handleLookupProof produces an AVL+ lookup proof against the tracker tree
// for (issuerPk, recipientPk), for the GET /proof endpoint.
func (c *Core) handleLookupProof(issuerPk, recipientPk []byte) (*NoteProof, error) {
	key, err := schnorr.NoteKey(issuerPk, recipientPk)
	if err != nil {
		return nil, err
	}

	value, proof := c.tree.Lookup(key)
	out := &NoteProof{Proof: proof, Digest: c.tree.Digest()}
	if value != nil {
		out.Found = true
		out.Value = *value
	}
	return out, nil
}

func (c *Core) handleListEvents(offset uint64, limit int) ([]*store.Event, error) {
	if limit <= 0 {
		return nil, errkind.New(errkind.InvalidLength, "limit must be positive")
	}
	var events []*store.Event
	err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = store.ListEvents(tx, offset, limit)
		return err
	})
	return events, err
}
