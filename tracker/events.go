package tracker

import (
	"encoding/hex"

	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/store"
)

// ReserveEventKind tags the scanner's classification of a reserve-box
// transition.
type ReserveEventKind int

const (
	ReserveEventCreated ReserveEventKind = iota
	ReserveEventToppedUp
	ReserveEventRedeemed
	ReserveEventSpent
)

// ReserveEvent is a single classified reserve-box transition handed from
// the scanner to the tracker core via IngestReserveEvent.
type ReserveEvent struct {
	BoxID            []byte
	OwnerPk          [33]byte
	CollateralAmount uint64
	TrackerNftID     [32]byte
	Height           uint64
	Timestamp        uint64
	Kind             ReserveEventKind
}

// handleIngestReserveEvent applies a scanner-classified reserve transition.
// It is idempotent keyed by (boxId, eventKind): replaying the same output
// twice must not duplicate reserve state or events.
func (c *Core) handleIngestReserveEvent(ev ReserveEvent) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		existing, err := store.GetReserve(tx, ev.BoxID)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case ReserveEventCreated, ReserveEventToppedUp:
			if existing != nil && !existing.Spent && existing.CollateralAmount == ev.CollateralAmount {
				return nil
			}
			info := &store.ReserveInfo{
				OwnerPk:           ev.OwnerPk,
				CollateralAmount:  ev.CollateralAmount,
				TrackerNftID:      ev.TrackerNftID,
				LastSeenHeight:    ev.Height,
				LastSeenTimestamp: ev.Timestamp,
			}
			if err := store.PutReserve(tx, ev.BoxID, info); err != nil {
				return err
			}
			kind := store.EventReserveCreated
			if ev.Kind == ReserveEventToppedUp {
				kind = store.EventReserveToppedUp
			}
			if _, err := store.AppendEvent(tx, kind, ev.Timestamp, reserveEventPayload(ev)); err != nil {
				return err
			}

		case ReserveEventRedeemed:
			if existing != nil && existing.CollateralAmount == ev.CollateralAmount {
				return nil
			}
			info := &store.ReserveInfo{
				OwnerPk:           ev.OwnerPk,
				CollateralAmount:  ev.CollateralAmount,
				TrackerNftID:      ev.TrackerNftID,
				LastSeenHeight:    ev.Height,
				LastSeenTimestamp: ev.Timestamp,
			}
			if err := store.PutReserve(tx, ev.BoxID, info); err != nil {
				return err
			}
			if _, err := store.AppendEvent(tx, store.EventReserveRedeemed, ev.Timestamp, reserveEventPayload(ev)); err != nil {
				return err
			}

		case ReserveEventSpent:
			if existing == nil || existing.Spent {
				return nil
			}
			existing.Spent = true
			existing.LastSeenHeight = ev.Height
			existing.LastSeenTimestamp = ev.Timestamp
			if err := store.PutReserve(tx, ev.BoxID, existing); err != nil {
				return err
			}
			if _, err := store.AppendEvent(tx, store.EventReserveSpent, ev.Timestamp, reserveEventPayload(ev)); err != nil {
				return err
			}
		}

		return c.checkCollateralAlert(tx, ev.OwnerPk, ev.Timestamp)
	})
}

func reserveEventPayload(ev ReserveEvent) map[string]interface{} {
	return map[string]interface{}{
		"box_id":            hex.EncodeToString(ev.BoxID),
		"owner_pk":          hex.EncodeToString(ev.OwnerPk[:]),
		"collateral_amount": ev.CollateralAmount,
		"height":            ev.Height,
	}
}

// checkCollateralAlert re-derives ownerPk's collateralisation ratio and
// appends a CollateralAlert event if it has fallen below the configured
// threshold.
func (c *Core) checkCollateralAlert(tx *bbolt.Tx, ownerPk [33]byte, ts uint64) error {
	notes, err := store.ListByIssuer(tx, ownerPk[:])
	if err != nil {
		return err
	}
	var totalDebt uint64
	for _, n := range notes {
		var err error
		totalDebt, err = addChecked(totalDebt, n.TotalDebt)
		if err != nil {
			return err
		}
	}
	if totalDebt == 0 {
		return nil
	}

	reserves, err := store.ListReservesByOwner(tx, ownerPk[:])
	if err != nil {
		return err
	}
	var collateral uint64
	for _, r := range reserves {
		if !r.Info.Spent {
			collateral += r.Info.CollateralAmount
		}
	}

	ratio := float64(collateral) / float64(totalDebt)
	threshold := c.cfg.CollateralAlertThreshold
	if threshold == 0 {
		threshold = 1.0
	}
	if ratio >= threshold {
		return nil
	}

	_, err = store.AppendEvent(tx, store.EventCollateralAlert, ts, map[string]interface{}{
		"owner_pk": hex.EncodeToString(ownerPk[:]),
		"ratio":    ratio,
	})
	return err
}
