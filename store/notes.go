package store

import (
	"encoding/binary"
	"fmt"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"github.com/basis-protocol/tracker/errkind"
)

const (
	pubKeySize   = 33
	sigSize      = 65
	hashSize     = 32
	noteRecordSz = pubKeySize*2 + 8 + 8 + sigSize
)

// Note is the immutable (until resubmitted with a higher total) cumulative
// IOU record: issuer → recipient → total debt.
type Note struct {
	IssuerPk    [pubKeySize]byte
	RecipientPk [pubKeySize]byte
	TotalDebt   uint64
	Timestamp   uint64
	Signature   [sigSize]byte
}

// PkHash returns blake2b256(pk), used as the note table's key components.
func PkHash(pk []byte) ([hashSize]byte, error) {
	var out [hashSize]byte
	if len(pk) != pubKeySize {
		return out, errkind.New(errkind.InvalidLength,
			"public key must be %d bytes, got %d", pubKeySize, len(pk))
	}
	h := blake2b.Sum256(pk)
	copy(out[:], h[:])
	return out, nil
}

// noteKey is the 64-byte primary key: issuerHash ‖ recipientHash.
func noteKey(issuerHash, recipientHash [hashSize]byte) []byte {
	key := make([]byte, 0, 2*hashSize)
	key = append(key, issuerHash[:]...)
	key = append(key, recipientHash[:]...)
	return key
}

func packNote(n *Note) []byte {
	buf := make([]byte, 0, noteRecordSz)
	buf = append(buf, n.IssuerPk[:]...)
	buf = append(buf, n.RecipientPk[:]...)

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], n.TotalDebt)
	buf = append(buf, amt[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], n.Timestamp)
	buf = append(buf, ts[:]...)

	buf = append(buf, n.Signature[:]...)
	return buf
}

func unpackNote(raw []byte) (*Note, error) {
	if len(raw) != noteRecordSz {
		return nil, errkind.New(errkind.StorageError,
			"corrupt note record: expected %d bytes, got %d", noteRecordSz, len(raw))
	}
	n := &Note{}
	copy(n.IssuerPk[:], raw[:pubKeySize])
	offset := pubKeySize
	copy(n.RecipientPk[:], raw[offset:offset+pubKeySize])
	offset += pubKeySize
	n.TotalDebt = binary.BigEndian.Uint64(raw[offset : offset+8])
	offset += 8
	n.Timestamp = binary.BigEndian.Uint64(raw[offset : offset+8])
	offset += 8
	copy(n.Signature[:], raw[offset:offset+sigSize])
	return n, nil
}

// PutNote writes n (creating or overwriting the existing record for its
// issuer/recipient pair) and maintains the issuer/recipient secondary
// indexes, within tx.
func PutNote(tx *bbolt.Tx, n *Note) error {
	issuerHash, err := PkHash(n.IssuerPk[:])
	if err != nil {
		return err
	}
	recipientHash, err := PkHash(n.RecipientPk[:])
	if err != nil {
		return err
	}

	notes := tx.Bucket(notesBucket)
	if err := notes.Put(noteKey(issuerHash, recipientHash), packNote(n)); err != nil {
		return fmt.Errorf("unable to write note: %w", err)
	}

	byIssuer, err := tx.Bucket(notesByIssuerBucket).CreateBucketIfNotExists(issuerHash[:])
	if err != nil {
		return err
	}
	if err := byIssuer.Put(recipientHash[:], []byte{1}); err != nil {
		return err
	}

	byRecipient, err := tx.Bucket(notesByRecipBucket).CreateBucketIfNotExists(recipientHash[:])
	if err != nil {
		return err
	}
	return byRecipient.Put(issuerHash[:], []byte{1})
}

// GetNote returns the note for (issuerPk, recipientPk), or nil if absent.
func GetNote(tx *bbolt.Tx, issuerPk, recipientPk []byte) (*Note, error) {
	issuerHash, err := PkHash(issuerPk)
	if err != nil {
		return nil, err
	}
	recipientHash, err := PkHash(recipientPk)
	if err != nil {
		return nil, err
	}

	raw := tx.Bucket(notesBucket).Get(noteKey(issuerHash, recipientHash))
	if raw == nil {
		return nil, nil
	}
	return unpackNote(raw)
}

// ListByIssuer returns every note issued by issuerPk, empty (never nil
// error) if none exist.
func ListByIssuer(tx *bbolt.Tx, issuerPk []byte) ([]*Note, error) {
	issuerHash, err := PkHash(issuerPk)
	if err != nil {
		return nil, err
	}

	sub := tx.Bucket(notesByIssuerBucket).Bucket(issuerHash[:])
	if sub == nil {
		return []*Note{}, nil
	}

	notes := tx.Bucket(notesBucket)
	out := []*Note{}
	err = sub.ForEach(func(recipientHash, _ []byte) error {
		var rh [hashSize]byte
		copy(rh[:], recipientHash)
		raw := notes.Get(noteKey(issuerHash, rh))
		if raw == nil {
			return nil
		}
		n, err := unpackNote(raw)
		if err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

// ListByRecipient returns every note addressed to recipientPk.
func ListByRecipient(tx *bbolt.Tx, recipientPk []byte) ([]*Note, error) {
	recipientHash, err := PkHash(recipientPk)
	if err != nil {
		return nil, err
	}

	sub := tx.Bucket(notesByRecipBucket).Bucket(recipientHash[:])
	if sub == nil {
		return []*Note{}, nil
	}

	notes := tx.Bucket(notesBucket)
	out := []*Note{}
	err = sub.ForEach(func(issuerHash, _ []byte) error {
		var ih [hashSize]byte
		copy(ih[:], issuerHash)
		raw := notes.Get(noteKey(ih, recipientHash))
		if raw == nil {
			return nil
		}
		n, err := unpackNote(raw)
		if err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

// AllNotes returns every note in the store, in primary-key order.
func AllNotes(tx *bbolt.Tx) ([]*Note, error) {
	notes := tx.Bucket(notesBucket)
	out := []*Note{}
	err := notes.ForEach(func(_, raw []byte) error {
		n, err := unpackNote(raw)
		if err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}
