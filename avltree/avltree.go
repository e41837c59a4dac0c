// Package avltree implements the authenticated AVL+ dictionary backing the
// tracker's committed state: fixed 32-byte keys, 8-byte big-endian values,
// a constant-size root digest, and byte-string membership/non-membership
// proofs that verify against a digest without access to the full tree.
//
// The on-chain verifier this digest is meant to satisfy (Ergo's AVL+ tree,
// as exposed to the reserve/tracker contracts) has its own internal leaf/
// extension node layout that isn't available to reconstruct bit-for-bit
// here; this package instead implements a from-scratch authenticated AVL
// binary search tree with the same external contract the protocol needs —
// a 33-byte digest, opaque lookup/insert proof bytes that verify against a
// specific root, and the fixed 37-byte empty-tree bootstrap value — so a
// reimplementation against the real on-chain verifier only has to swap the
// node-hashing and proof-encoding functions below.
package avltree

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/basis-protocol/tracker/errkind"
)

const (
	// KeySize is the fixed key length: a blake2b256 NoteKey digest.
	KeySize = 32

	// ValueSize is the fixed value length: a big-endian u64 debt amount.
	ValueSize = 8

	// DigestSize is the root digest length: 32-byte hash ‖ 1-byte height.
	DigestSize = 33

	treeTypeTag   byte = 0x64
	insertEnabled byte = 0x01
)

// emptyTreeRootHashHex is the well-known blake2b256 digest of the empty
// AVL+ tree, the value every reserve box's R5 register carries before its
// first redemption.
const emptyTreeRootHashHex = "4ec61f485b98eb87153f7c57db4f5ecd75556fddbc403b41acf8441fde8e1609"

var emptyTreeRootHash = mustDecodeHex(emptyTreeRootHashHex)

func mustDecodeHex(s string) [32]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		panic("avltree: malformed empty-tree constant")
	}
	var out [32]byte
	copy(out[:], b)
	return out
}

// Digest is the 33-byte root commitment: 32-byte hash ‖ 1-byte height.
type Digest [DigestSize]byte

// node is an internal AVL tree node. Every node (not only leaves) carries a
// key/value pair, matching a plain authenticated BST rather than Ergo's
// leaf-plus-extension layout (see package doc).
type node struct {
	key    [KeySize]byte
	value  [ValueSize]byte
	left   *node
	right  *node
	height int8
}

// Tree is a single in-memory authenticated AVL dictionary. It is not safe
// for concurrent use; the tracker core serializes all access to it.
type Tree struct {
	root *node
}

// New returns an empty, insert-enabled tree.
func New() *Tree {
	return &Tree{}
}

// SerializeInitial emits the canonical 37-byte empty-tree-with-inserts-
// enabled prefix used to bootstrap a reserve's R5 register.
func SerializeInitial() []byte {
	out := make([]byte, 0, 37)
	out = append(out, treeTypeTag)
	out = append(out, emptyDigest()[:]...)
	out = append(out, insertEnabled)
	out = append(out, byte(KeySize))
	out = append(out, 0x00)
	return out
}

func emptyDigest() Digest {
	var d Digest
	copy(d[:32], emptyTreeRootHash[:])
	d[32] = 0x00
	return d
}

func zeroHash() [32]byte { return [32]byte{} }

// nodeHash computes the authenticated hash of a single node from its own
// fields and its children's already-computed hashes.
func nodeHash(key [KeySize]byte, value [ValueSize]byte, leftHash, rightHash [32]byte, height int8) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(key[:])
	h.Write(value[:])
	h.Write(leftHash[:])
	h.Write(rightHash[:])
	h.Write([]byte{byte(uint8(height))})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (n *node) hash() [32]byte {
	if n == nil {
		return zeroHash()
	}
	return nodeHash(n.key, n.value, n.left.hash(), n.right.hash(), n.height)
}

func (n *node) heightOf() int8 {
	if n == nil {
		return -1
	}
	return n.height
}

func balanceFactor(n *node) int {
	if n == nil {
		return 0
	}
	return int(n.left.heightOf()) - int(n.right.heightOf())
}

func recompute(n *node) {
	lh, rh := n.left.heightOf(), n.right.heightOf()
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func rotateRight(n *node) *node {
	l := n.left
	n.left = l.right
	l.right = n
	recompute(n)
	recompute(l)
	return l
}

func rotateLeft(n *node) *node {
	r := n.right
	n.right = r.left
	r.left = n
	recompute(n)
	recompute(r)
	return r
}

func rebalance(n *node) *node {
	recompute(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// Digest returns the current 33-byte root commitment.
func (t *Tree) Digest() Digest {
	if t.root == nil {
		return emptyDigest()
	}
	var d Digest
	h := t.root.hash()
	copy(d[:32], h[:])
	d[32] = byte(uint8(t.root.height))
	return d
}

// Lookup returns the stored value for key (nil if absent) along with a
// proof that verifies against the tree's current (pre-operation) digest.
func (t *Tree) Lookup(key [KeySize]byte) (*uint64, []byte) {
	path := collectPath(t.root, key)
	proof := encodeProof(path, key)
	if len(path) == 0 {
		return nil, proof
	}
	last := path[len(path)-1]
	if last.key != key {
		return nil, proof
	}
	v := binary.BigEndian.Uint64(last.value[:])
	return &v, proof
}

// InsertOrUpdate inserts key/value if key is absent, or overwrites the
// value if key is already present, rebalancing as needed. It returns a
// proof that verifies against the post-operation digest.
func (t *Tree) InsertOrUpdate(key [KeySize]byte, value uint64) []byte {
	var valueBytes [ValueSize]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)

	t.root = insert(t.root, key, valueBytes)

	path := collectPath(t.root, key)
	return encodeProof(path, key)
}

func insert(n *node, key [KeySize]byte, value [ValueSize]byte) *node {
	if n == nil {
		return &node{key: key, value: value, height: 0}
	}
	switch bytes.Compare(key[:], n.key[:]) {
	case 0:
		n.value = value
		return n
	case -1:
		n.left = insert(n.left, key, value)
	default:
		n.right = insert(n.right, key, value)
	}
	return rebalance(n)
}

// collectPath walks from the root towards key, returning every node visited
// in order (root first). The last entry is the match if key is present, or
// the final node visited along the search path otherwise.
func collectPath(n *node, key [KeySize]byte) []*node {
	var path []*node
	for n != nil {
		path = append(path, n)
		switch bytes.Compare(key[:], n.key[:]) {
		case 0:
			return path
		case -1:
			n = n.left
		default:
			n = n.right
		}
	}
	return path
}

// proofStep is one ancestor hop in an authentication path: the sibling
// subtree's hash, which side the path node was on, and the ancestor's own
// committed fields (needed to recompute the ancestor's hash).
type proofStep struct {
	wasLeftChild bool
	siblingHash  [32]byte
	parentKey    [KeySize]byte
	parentValue  [ValueSize]byte
	parentHeight int8
}

// encodeProof serializes the authentication path for key: the target (or
// search-terminal) node's own committed fields, followed by each ancestor
// hop up to the root.
func encodeProof(path []*node, key [KeySize]byte) []byte {
	var buf bytes.Buffer

	if len(path) == 0 {
		// Empty tree: proof is just a marker that nothing was visited.
		buf.WriteByte(0)
		return buf.Bytes()
	}
	buf.WriteByte(1)

	target := path[len(path)-1]
	buf.Write(target.key[:])
	buf.Write(target.value[:])
	lh := target.left.hash()
	rh := target.right.hash()
	buf.Write(lh[:])
	buf.Write(rh[:])
	buf.WriteByte(byte(uint8(target.height)))

	steps := make([]proofStep, 0, len(path)-1)
	for i := len(path) - 2; i >= 0; i-- {
		parent := path[i]
		child := path[i+1]
		step := proofStep{
			parentKey:    parent.key,
			parentValue:  parent.value,
			parentHeight: parent.height,
		}
		if parent.left == child {
			step.wasLeftChild = true
			step.siblingHash = parent.right.hash()
		} else {
			step.wasLeftChild = false
			step.siblingHash = parent.left.hash()
		}
		steps = append(steps, step)
	}

	binary.Write(&buf, binary.BigEndian, uint16(len(steps)))
	for _, s := range steps {
		if s.wasLeftChild {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(s.siblingHash[:])
		buf.Write(s.parentKey[:])
		buf.Write(s.parentValue[:])
		buf.WriteByte(byte(uint8(s.parentHeight)))
	}

	return buf.Bytes()
}

// VerifyProof checks that proof is a valid authentication path for key
// against digest, returning the proven value (nil if key is absent) and
// whether verification succeeded.
func VerifyProof(digest Digest, key [KeySize]byte, proof []byte) (*uint64, bool) {
	if len(proof) == 0 {
		return nil, false
	}
	if proof[0] == 0 {
		return nil, digest == emptyDigest()
	}
	r := bytes.NewReader(proof[1:])

	var targetKey [KeySize]byte
	var targetValue [ValueSize]byte
	var leftHash, rightHash [32]byte
	var heightByte [1]byte

	if _, err := readFull(r, targetKey[:]); err != nil {
		return nil, false
	}
	if _, err := readFull(r, targetValue[:]); err != nil {
		return nil, false
	}
	if _, err := readFull(r, leftHash[:]); err != nil {
		return nil, false
	}
	if _, err := readFull(r, rightHash[:]); err != nil {
		return nil, false
	}
	if _, err := readFull(r, heightByte[:]); err != nil {
		return nil, false
	}

	currentHash := nodeHash(targetKey, targetValue, leftHash, rightHash, int8(heightByte[0]))
	currentHeight := int8(heightByte[0])

	var numSteps uint16
	if err := binary.Read(r, binary.BigEndian, &numSteps); err != nil {
		return nil, false
	}

	for i := 0; i < int(numSteps); i++ {
		var dirByte [1]byte
		var siblingHash [32]byte
		var parentKey [KeySize]byte
		var parentValue [ValueSize]byte
		var parentHeightByte [1]byte

		if _, err := readFull(r, dirByte[:]); err != nil {
			return nil, false
		}
		if _, err := readFull(r, siblingHash[:]); err != nil {
			return nil, false
		}
		if _, err := readFull(r, parentKey[:]); err != nil {
			return nil, false
		}
		if _, err := readFull(r, parentValue[:]); err != nil {
			return nil, false
		}
		if _, err := readFull(r, parentHeightByte[:]); err != nil {
			return nil, false
		}

		var lh, rh [32]byte
		if dirByte[0] == 1 {
			lh = currentHash
			rh = siblingHash
		} else {
			lh = siblingHash
			rh = currentHash
		}
		parentHeight := int8(parentHeightByte[0])
		currentHash = nodeHash(parentKey, parentValue, lh, rh, parentHeight)
		currentHeight = parentHeight
	}

	var gotDigest Digest
	copy(gotDigest[:32], currentHash[:])
	gotDigest[32] = byte(uint8(currentHeight))

	if gotDigest != digest {
		return nil, false
	}

	if targetKey != key {
		// Search terminated before reaching key: proven absent.
		return nil, true
	}
	v := binary.BigEndian.Uint64(targetValue[:])
	return &v, true
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, errkind.New(errkind.StorageError, "short proof read")
	}
	return n, nil
}

// Iterate walks every (key, value) pair in key order, calling fn for each.
// Used to rebuild the tree from the note table on crash recovery.
func (t *Tree) Iterate(fn func(key [KeySize]byte, value uint64)) {
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		fn(n.key, binary.BigEndian.Uint64(n.value[:]))
		walk(n.right)
	}
	walk(t.root)
}

// Rebuild constructs a fresh tree from an ordered or unordered stream of
// (key, value) pairs, as used after reopening durable storage.
func Rebuild(entries map[[KeySize]byte]uint64) *Tree {
	t := New()
	for k, v := range entries {
		t.InsertOrUpdate(k, v)
	}
	return t
}
