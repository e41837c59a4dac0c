package avltree

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyFromInt(i int) [KeySize]byte {
	var k [KeySize]byte
	binary.BigEndian.PutUint64(k[24:], uint64(i))
	return k
}

// TestEmptyTreeBootstrap checks that the serialised empty-tree prefix has
// the fixed 37-byte shape (tag, 33-byte digest, insert-flag, key-length,
// value-length) required to bootstrap a reserve's R5 register.
func TestEmptyTreeBootstrap(t *testing.T) {
	out := SerializeInitial()
	require.Len(t, out, 37)
	require.Equal(t, byte(0x64), out[0])
	require.Equal(t, byte(0x01), out[34])
	require.Equal(t, byte(0x20), out[35])
	require.Equal(t, byte(0x00), out[36])

	tree := New()
	var want Digest
	copy(want[:], out[1:34])
	require.Equal(t, want, tree.Digest())
}

func TestInsertLookupRoundTrip(t *testing.T) {
	tree := New()
	k := keyFromInt(42)

	v, proof := tree.Lookup(k)
	require.Nil(t, v)

	insertProof := tree.InsertOrUpdate(k, 1000)
	require.NotEmpty(t, insertProof)

	gotVal, lookupProof := tree.Lookup(k)
	require.NotNil(t, gotVal)
	require.Equal(t, uint64(1000), *gotVal)
	require.NotEmpty(t, lookupProof)
	require.NotEqual(t, proof, lookupProof)
}

// TestProofSoundness checks that a lookup proof verifies against the
// current digest and yields the stored value; an altered value or digest
// fails verification.
func TestProofSoundness(t *testing.T) {
	tree := New()
	k := keyFromInt(7)
	tree.InsertOrUpdate(k, 555)

	digest := tree.Digest()
	val, proof := tree.Lookup(k)
	require.NotNil(t, val)

	gotVal, ok := VerifyProof(digest, k, proof)
	require.True(t, ok)
	require.Equal(t, uint64(555), *gotVal)

	// Altering the digest must fail verification.
	badDigest := digest
	badDigest[0] ^= 0xff
	_, ok = VerifyProof(badDigest, k, proof)
	require.False(t, ok)

	// Altering the proof bytes must fail verification.
	badProof := append([]byte(nil), proof...)
	badProof[1] ^= 0xff
	_, ok = VerifyProof(digest, k, badProof)
	require.False(t, ok)
}

func TestInsertProofVerifiesAgainstPostOperationDigest(t *testing.T) {
	tree := New()
	k := keyFromInt(99)

	insertProof := tree.InsertOrUpdate(k, 42)
	postDigest := tree.Digest()

	val, ok := VerifyProof(postDigest, k, insertProof)
	require.True(t, ok)
	require.Equal(t, uint64(42), *val)
}

// TestAVLConsistency checks that after any sequence of inserts, iterating
// notes and independently recomputing the AVL+ produces the same digest as
// the live tree.
func TestAVLConsistency(t *testing.T) {
	tree := New()
	entries := make(map[[KeySize]byte]uint64)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		k := keyFromInt(r.Intn(500))
		v := uint64(r.Intn(1_000_000))
		tree.InsertOrUpdate(k, v)
		entries[k] = v
	}

	rebuilt := Rebuild(entries)
	require.Equal(t, tree.Digest(), rebuilt.Digest())
}

func TestMonotoneUpdateOverwritesValue(t *testing.T) {
	tree := New()
	k := keyFromInt(3)
	tree.InsertOrUpdate(k, 1000)
	tree.InsertOrUpdate(k, 1500)

	v, _ := tree.Lookup(k)
	require.Equal(t, uint64(1500), *v)
}

func TestIterateVisitsAllInKeyOrder(t *testing.T) {
	tree := New()
	var prev *[KeySize]byte
	for i := 0; i < 50; i++ {
		tree.InsertOrUpdate(keyFromInt(i*7%50), uint64(i))
	}

	count := 0
	tree.Iterate(func(key [KeySize]byte, value uint64) {
		count++
		if prev != nil {
			require.True(t, lessOrEqual(*prev, key))
		}
		k := key
		prev = &k
	})
	require.Equal(t, 50, count)
}

func lessOrEqual(a, b [KeySize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return true
}
