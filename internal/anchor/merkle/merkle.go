// Package merkle builds the batch accumulator over credential digests.
//
// Pairs are sorted before hashing, so an inclusion proof is a bare ordered
// list of sibling hashes with no left/right bookkeeping. This matches the
// sorted-pair convention of common on-chain verifiers, which is what the
// anchoring contract checks against.
//
// Odd node at any level: the lone node carries forward unchanged to the next
// level. Build and Verify share this convention; changing one without the
// other breaks soundness.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashSize is the node width in bytes (keccak-256).
const HashSize = 32

// Hash is a single tree node value.
type Hash [HashSize]byte

// Hex renders the hash as 0x-prefixed lowercase hex.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash decodes a 0x-prefixed hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2+2*HashSize || s[:2] != "0x" {
		return h, fmt.Errorf("malformed hash %q: want 0x-prefixed %d-byte hex", s, HashSize)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return h, fmt.Errorf("malformed hash %q: %w", s, err)
	}
	copy(h[:], raw)
	return h, nil
}

// Leaf hashes the raw digest bytes of one credential into its leaf node.
func Leaf(rawDigest []byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256(rawDigest))
	return h
}

// Proof is the ordered list of sibling hashes from a leaf up to the root.
type Proof []Hash

// Hex renders the proof as a list of 0x-prefixed hex strings.
func (p Proof) Hex() []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	for i, h := range p {
		out[i] = h.Hex()
	}
	return out
}

// ParseProof decodes a hex-encoded proof.
func ParseProof(encoded []string) (Proof, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	proof := make(Proof, len(encoded))
	for i, s := range encoded {
		h, err := ParseHash(s)
		if err != nil {
			return nil, err
		}
		proof[i] = h
	}
	return proof, nil
}

// Build constructs the accumulator over the given leaves and returns the
// root together with one inclusion proof per leaf, in leaf order.
//
// A single-leaf batch degenerates to root == leaf with an empty proof.
func Build(leaves []Hash) (Hash, []Proof, error) {
	if len(leaves) == 0 {
		return Hash{}, nil, fmt.Errorf("empty batch: at least one leaf is required")
	}

	proofs := make([]Proof, len(leaves))

	// track maps each live node at the current level back to the leaf
	// indexes whose proofs pass through it.
	level := append([]Hash(nil), leaves...)
	track := make([][]int, len(leaves))
	for i := range leaves {
		track[i] = []int{i}
	}

	for len(level) > 1 {
		nextLevel := make([]Hash, 0, (len(level)+1)/2)
		nextTrack := make([][]int, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// Lone node: carry forward unchanged.
				nextLevel = append(nextLevel, level[i])
				nextTrack = append(nextTrack, track[i])
				continue
			}

			left, right := level[i], level[i+1]
			for _, leafIdx := range track[i] {
				proofs[leafIdx] = append(proofs[leafIdx], right)
			}
			for _, leafIdx := range track[i+1] {
				proofs[leafIdx] = append(proofs[leafIdx], left)
			}

			nextLevel = append(nextLevel, hashPair(left, right))
			nextTrack = append(nextTrack, append(append([]int(nil), track[i]...), track[i+1]...))
		}

		level = nextLevel
		track = nextTrack
	}

	return level[0], proofs, nil
}

// Verify folds the leaf through the proof and compares the result to root.
func Verify(leaf Hash, proof Proof, root Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = hashPair(current, sibling)
	}
	return current == root
}

// hashPair hashes two sibling nodes in lexicographic order.
func hashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var h Hash
	copy(h[:], crypto.Keccak256(a[:], b[:]))
	return h
}
