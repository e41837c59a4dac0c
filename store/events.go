package store

import (
	"encoding/binary"
	"encoding/json"

	bbolt "go.etcd.io/bbolt"
)

// EventKind enumerates the tagged variants of the tracker's append-only
// audit log.
type EventKind string

const (
	EventNoteUpdated         EventKind = "note_updated"
	EventReserveCreated      EventKind = "reserve_created"
	EventReserveToppedUp     EventKind = "reserve_topped_up"
	EventReserveRedeemed     EventKind = "reserve_redeemed"
	EventReserveSpent        EventKind = "reserve_spent"
	EventCommitment          EventKind = "commitment"
	EventCollateralAlert     EventKind = "collateral_alert"
	EventRedemptionCommitted EventKind = "redemption_committed"
)

// Event is a single append-only log record. Data carries the
// kind-specific payload (e.g. {"issuer_pk":...,"total_debt":...} for
// EventNoteUpdated, {"ratio":...} for EventCollateralAlert) and is opaque
// to the store itself.
type Event struct {
	Seq       uint64
	Kind      EventKind
	Timestamp uint64
	Data      json.RawMessage
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// AppendEvent assigns the next dense sequence number, stores the event,
// and returns its seq. Every tracker-core command that changes visible
// state appends its events in the same transaction as its other writes,
// so seq numbers never skip.
func AppendEvent(tx *bbolt.Tx, kind EventKind, timestamp uint64, data interface{}) (uint64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}

	seq, err := nextEventSeq(tx)
	if err != nil {
		return 0, err
	}

	ev := Event{Seq: seq, Kind: kind, Timestamp: timestamp, Data: raw}
	encoded, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	if err := tx.Bucket(eventsBucket).Put(seqKey(seq), encoded); err != nil {
		return 0, err
	}
	return seq, nil
}

// ListEvents returns up to limit events with seq >= offset, in seq order,
// for the paginated /events endpoint. It never returns an error for an
// empty range.
func ListEvents(tx *bbolt.Tx, offset uint64, limit int) ([]*Event, error) {
	out := []*Event{}
	c := tx.Bucket(eventsBucket).Cursor()
	for k, v := c.Seek(seqKey(offset)); k != nil && len(out) < limit; k, v = c.Next() {
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, nil
}
