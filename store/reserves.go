package store

import (
	"encoding/binary"

	bbolt "go.etcd.io/bbolt"

	"github.com/basis-protocol/tracker/errkind"
)

const reserveRecordSz = pubKeySize + 8 + hashSize + 8 + 8 + 1

// ReserveInfo is the scanner-derived view of an on-chain reserve box: never
// mutated by the tracker core directly, only replayed from scan events.
type ReserveInfo struct {
	OwnerPk           [pubKeySize]byte
	CollateralAmount  uint64
	TrackerNftID      [hashSize]byte
	LastSeenHeight    uint64
	LastSeenTimestamp uint64

	// Spent marks a reserve box the scanner has observed being spent on
	// chain. The reserve table retains spent boxes rather than deleting
	// them, so readers need to tell them apart from the owner's live
	// reserve.
	Spent bool
}

func packReserve(r *ReserveInfo) []byte {
	buf := make([]byte, 0, reserveRecordSz)
	buf = append(buf, r.OwnerPk[:]...)

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], r.CollateralAmount)
	buf = append(buf, amt[:]...)

	buf = append(buf, r.TrackerNftID[:]...)

	var h [8]byte
	binary.BigEndian.PutUint64(h[:], r.LastSeenHeight)
	buf = append(buf, h[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], r.LastSeenTimestamp)
	buf = append(buf, ts[:]...)

	if r.Spent {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func unpackReserve(raw []byte) (*ReserveInfo, error) {
	if len(raw) != reserveRecordSz {
		return nil, errkind.New(errkind.StorageError,
			"corrupt reserve record: expected %d bytes, got %d", reserveRecordSz, len(raw))
	}
	r := &ReserveInfo{}
	offset := 0
	copy(r.OwnerPk[:], raw[offset:offset+pubKeySize])
	offset += pubKeySize
	r.CollateralAmount = binary.BigEndian.Uint64(raw[offset : offset+8])
	offset += 8
	copy(r.TrackerNftID[:], raw[offset:offset+hashSize])
	offset += hashSize
	r.LastSeenHeight = binary.BigEndian.Uint64(raw[offset : offset+8])
	offset += 8
	r.LastSeenTimestamp = binary.BigEndian.Uint64(raw[offset : offset+8])
	offset += 8
	r.Spent = raw[offset] == 1
	return r, nil
}

// PutReserve writes the reserve record keyed by boxId and maintains the
// owner secondary index.
func PutReserve(tx *bbolt.Tx, boxID []byte, r *ReserveInfo) error {
	reserves := tx.Bucket(reservesBucket)
	if err := reserves.Put(boxID, packReserve(r)); err != nil {
		return err
	}

	byOwner, err := tx.Bucket(reservesByOwnerBucket).CreateBucketIfNotExists(r.OwnerPk[:])
	if err != nil {
		return err
	}
	return byOwner.Put(boxID, []byte{1})
}

// GetReserve returns the reserve record for boxID, or nil if unknown.
func GetReserve(tx *bbolt.Tx, boxID []byte) (*ReserveInfo, error) {
	raw := tx.Bucket(reservesBucket).Get(boxID)
	if raw == nil {
		return nil, nil
	}
	return unpackReserve(raw)
}

// ReserveEntry pairs a stored ReserveInfo with its box id.
type ReserveEntry struct {
	BoxID []byte
	Info  *ReserveInfo
}

// ListReservesByOwner returns every reserve (including spent ones) ever
// seen for ownerPk.
func ListReservesByOwner(tx *bbolt.Tx, ownerPk []byte) ([]*ReserveEntry, error) {
	sub := tx.Bucket(reservesByOwnerBucket).Bucket(ownerPk)
	if sub == nil {
		return []*ReserveEntry{}, nil
	}

	reserves := tx.Bucket(reservesBucket)
	out := []*ReserveEntry{}
	err := sub.ForEach(func(boxID, _ []byte) error {
		raw := reserves.Get(boxID)
		if raw == nil {
			return nil
		}
		info, err := unpackReserve(raw)
		if err != nil {
			return err
		}
		id := make([]byte, len(boxID))
		copy(id, boxID)
		out = append(out, &ReserveEntry{BoxID: id, Info: info})
		return nil
	})
	return out, err
}

// AllReserves returns every reserve record in the store.
func AllReserves(tx *bbolt.Tx) ([]*ReserveEntry, error) {
	reserves := tx.Bucket(reservesBucket)
	out := []*ReserveEntry{}
	err := reserves.ForEach(func(boxID, raw []byte) error {
		info, err := unpackReserve(raw)
		if err != nil {
			return err
		}
		id := make([]byte, len(boxID))
		copy(id, boxID)
		out = append(out, &ReserveEntry{BoxID: id, Info: info})
		return nil
	})
	return out, err
}
