package store

import (
	"encoding/binary"

	bbolt "go.etcd.io/bbolt"
)

var (
	nextEventSeqKey         = []byte("nextEventSeq")
	lastVerificationTsKey   = []byte("lastVerificationTimestamp")
	lastCommittedDigestKey  = []byte("lastCommittedDigest")
	lastCommittedHeightKey  = []byte("lastCommittedHeight")
	scannerLastHeightKey    = []byte("scannerLastHeight")
	reserveScanIDKey        = []byte("reserveScanId")
	trackerNftScanIDKey     = []byte("trackerNftScanId")
)

func nextEventSeq(tx *bbolt.Tx) (uint64, error) {
	meta := tx.Bucket(metaBucket)
	raw := meta.Get(nextEventSeqKey)
	var seq uint64
	if raw != nil {
		seq = binary.BigEndian.Uint64(raw)
	}

	var next [8]byte
	binary.BigEndian.PutUint64(next[:], seq+1)
	if err := meta.Put(nextEventSeqKey, next[:]); err != nil {
		return 0, err
	}
	return seq, nil
}

// LastVerificationTimestamp returns the unix time of the last scan
// re-verification sweep, or 0 if none has completed yet.
func LastVerificationTimestamp(tx *bbolt.Tx) uint64 {
	raw := tx.Bucket(metaBucket).Get(lastVerificationTsKey)
	if raw == nil {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// SetLastVerificationTimestamp records ts as the last re-verification
// sweep time.
func SetLastVerificationTimestamp(tx *bbolt.Tx, ts uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ts)
	return tx.Bucket(metaBucket).Put(lastVerificationTsKey, buf[:])
}

// LastCommittedDigest returns the tracker-tree digest most recently
// recorded by the commitment writer, whether or not it was also submitted
// on chain, and the chain height recorded with it. Returns ok=false if
// no commitment has been recorded.
func LastCommittedDigest(tx *bbolt.Tx) (digest [33]byte, height uint64, ok bool) {
	meta := tx.Bucket(metaBucket)
	raw := meta.Get(lastCommittedDigestKey)
	if raw == nil {
		return digest, 0, false
	}
	copy(digest[:], raw)

	if h := meta.Get(lastCommittedHeightKey); h != nil {
		height = binary.BigEndian.Uint64(h)
	}
	return digest, height, true
}

// SetLastCommittedDigest records the digest/height pair of the tracker's
// most recent recorded commitment.
func SetLastCommittedDigest(tx *bbolt.Tx, digest [33]byte, height uint64) error {
	meta := tx.Bucket(metaBucket)
	if err := meta.Put(lastCommittedDigestKey, digest[:]); err != nil {
		return err
	}
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return meta.Put(lastCommittedHeightKey, h[:])
}

// ScannerLastHeight returns the chain height the scanner last processed
// up to, or 0 if it has never run.
func ScannerLastHeight(tx *bbolt.Tx) uint64 {
	raw := tx.Bucket(metaBucket).Get(scannerLastHeightKey)
	if raw == nil {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// SetScannerLastHeight records the chain height the scanner has fully
// processed, so a restart resumes rather than rescanning from genesis.
func SetScannerLastHeight(tx *bbolt.Tx, height uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return tx.Bucket(metaBucket).Put(scannerLastHeightKey, buf[:])
}

// ReserveScanID returns the node-assigned scan id the reserve scan was last
// registered under, and whether one has ever been persisted.
func ReserveScanID(tx *bbolt.Tx) (id int, ok bool) {
	return getScanID(tx, reserveScanIDKey)
}

// SetReserveScanID records the node-assigned scan id for the reserve scan,
// so a restart reuses it instead of re-registering with the node.
func SetReserveScanID(tx *bbolt.Tx, id int) error {
	return putScanID(tx, reserveScanIDKey, id)
}

// TrackerNftScanID returns the node-assigned scan id the tracker-NFT scan
// was last registered under, and whether one has ever been persisted.
func TrackerNftScanID(tx *bbolt.Tx) (id int, ok bool) {
	return getScanID(tx, trackerNftScanIDKey)
}

// SetTrackerNftScanID records the node-assigned scan id for the tracker-NFT
// scan, so a restart reuses it instead of re-registering with the node.
func SetTrackerNftScanID(tx *bbolt.Tx, id int) error {
	return putScanID(tx, trackerNftScanIDKey, id)
}

func getScanID(tx *bbolt.Tx, key []byte) (int, bool) {
	raw := tx.Bucket(metaBucket).Get(key)
	if raw == nil {
		return 0, false
	}
	return int(binary.BigEndian.Uint64(raw)), true
}

func putScanID(tx *bbolt.Tx, key []byte, id int) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return tx.Bucket(metaBucket).Put(key, buf[:])
}
