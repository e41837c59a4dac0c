// Package schnorr implements the secp256k1 Schnorr signature scheme used by
// the on-chain Basis contract: a 65-byte `a ‖ z` signature over a message
// derived from blake2b256/blake2b512, matching the Ergo platform's signing
// convention exactly so that signatures produced here verify on-chain.
package schnorr

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/basis-protocol/tracker/errkind"
)

const (
	// PublicKeySize is the length of a compressed secp256k1 point.
	PublicKeySize = 33

	// SignatureSize is the length of the `a ‖ z` signature form.
	SignatureSize = 65

	// NoteKeySize is the length of a blake2b256 digest.
	NoteKeySize = 32
)

// curveOrder is the order n of the secp256k1 group.
var curveOrder, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16,
)

// NoteKey computes blake2b256(issuerPk ‖ recipientPk), the canonical
// identifier of a debtor-creditor pair used both as the note-table key and
// as the AVL+ tree key.
func NoteKey(issuerPk, recipientPk []byte) ([NoteKeySize]byte, error) {
	var out [NoteKeySize]byte

	if len(issuerPk) != PublicKeySize {
		return out, errkind.New(errkind.InvalidLength,
			"issuer pk must be %d bytes, got %d", PublicKeySize, len(issuerPk))
	}
	if len(recipientPk) != PublicKeySize {
		return out, errkind.New(errkind.InvalidLength,
			"recipient pk must be %d bytes, got %d", PublicKeySize, len(recipientPk))
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return out, err
	}
	h.Write(issuerPk)
	h.Write(recipientPk)
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SigningMessage builds the message signed for a note update or redemption
// co-signature: key ‖ be64(totalDebt), extended with an extra be64(0) for
// the emergency-redemption form.
func SigningMessage(key [NoteKeySize]byte, totalDebt uint64, emergency bool) []byte {
	size := NoteKeySize + 8
	if emergency {
		size += 8
	}
	msg := make([]byte, 0, size)
	msg = append(msg, key[:]...)

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], totalDebt)
	msg = append(msg, amt[:]...)

	if emergency {
		var zero [8]byte
		msg = append(msg, zero[:]...)
	}
	return msg
}

// ParsePublicKey validates and decodes a 33-byte compressed secp256k1 point.
func ParsePublicKey(raw []byte) (*secp256k1.PublicKey, error) {
	if len(raw) != PublicKeySize {
		return nil, errkind.New(errkind.InvalidLength,
			"public key must be %d bytes, got %d", PublicKeySize, len(raw))
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return nil, errkind.New(errkind.InvalidPoint,
			"public key prefix must be 0x02 or 0x03, got 0x%02x", raw[0])
	}

	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, errkind.New(errkind.InvalidPoint, "%v", err)
	}
	return pub, nil
}

// challengeScalar recomputes e = blake2b512(a ‖ msg ‖ pk) reduced mod n.
func challengeScalar(a, msg, pk []byte) (*secp256k1.ModNScalar, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(a)
	h.Write(msg)
	h.Write(pk)
	sum := h.Sum(nil)

	e := new(big.Int).SetBytes(sum)
	e.Mod(e, curveOrder)

	var buf [32]byte
	e.FillBytes(buf[:])

	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(buf[:])
	return &scalar, nil
}

// Sign produces a 65-byte `a ‖ z` Schnorr signature over msg under priv,
// sampling a fresh uniform nonce per §4.A of the protocol. Nonce generation
// is retried on the (astronomically unlikely) chance of an overflowing or
// zero scalar.
func Sign(priv *secp256k1.PrivateKey, msg []byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte

	pub := priv.PubKey()
	pkBytes := pub.SerializeCompressed()

	for {
		var kBytes [32]byte
		if _, err := rand.Read(kBytes[:]); err != nil {
			return sig, err
		}

		var k secp256k1.ModNScalar
		overflow := k.SetBytes(&kBytes)
		if overflow != 0 || k.IsZero() {
			continue
		}

		var r secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(&k, &r)
		r.ToAffine()
		aPub := secp256k1.NewPublicKey(&r.X, &r.Y)
		a := aPub.SerializeCompressed()

		e, err := challengeScalar(a, msg, pkBytes)
		if err != nil {
			return sig, err
		}

		var es secp256k1.ModNScalar
		es.Mul2(e, &priv.Key)

		var z secp256k1.ModNScalar
		z.Add2(&k, &es)

		copy(sig[:33], a)
		zBytes := z.Bytes()
		copy(sig[33:], zBytes[:])
		return sig, nil
	}
}

// Verify checks a 65-byte `a ‖ z` signature against msg under pub, rejecting
// malformed input without panicking. It never trusts adversarial input:
// lengths and curve-point validity are checked before any arithmetic.
func Verify(pub *secp256k1.PublicKey, msg []byte, sig []byte) error {
	if len(sig) != SignatureSize {
		return errkind.New(errkind.InvalidLength,
			"signature must be %d bytes, got %d", SignatureSize, len(sig))
	}

	aBytes := sig[:33]
	zBytes := sig[33:]

	aPub, err := secp256k1.ParsePubKey(aBytes)
	if err != nil {
		return errkind.New(errkind.InvalidPoint, "invalid nonce point: %v", err)
	}

	var zArr [32]byte
	copy(zArr[:], zBytes)
	var z secp256k1.ModNScalar
	if overflow := z.SetBytes(&zArr); overflow != 0 {
		return errkind.New(errkind.InvalidSignature, "z is not reduced mod n")
	}

	pkBytes := pub.SerializeCompressed()
	e, err := challengeScalar(aBytes, msg, pkBytes)
	if err != nil {
		return err
	}

	var zG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&z, &zG)

	var x secp256k1.JacobianPoint
	pub.AsJacobian(&x)
	var eX secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(e, &x, &eX)

	var a secp256k1.JacobianPoint
	aPub.AsJacobian(&a)

	var rhs secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a, &eX, &rhs)

	zG.ToAffine()
	rhs.ToAffine()

	if zG.X.Equals(&rhs.X) && zG.Y.Equals(&rhs.Y) {
		return nil
	}
	return errkind.New(errkind.InvalidSignature, "signature verification failed")
}
