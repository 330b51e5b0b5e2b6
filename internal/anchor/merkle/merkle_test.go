package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaves(n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		out[i] = Leaf([]byte(fmt.Sprintf("digest-%d", i)))
	}
	return out
}

func TestBuildRejectsEmptyBatch(t *testing.T) {
	_, _, err := Build(nil)
	require.Error(t, err)
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	ls := leaves(1)
	root, proofs, err := Build(ls)
	require.NoError(t, err)

	assert.Equal(t, ls[0], root, "single-leaf root equals the leaf hash")
	require.Len(t, proofs, 1)
	assert.Empty(t, proofs[0])
	assert.True(t, Verify(ls[0], proofs[0], root), "empty proof must verify trivially")
}

func TestAllProofsVerify(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7, 8, 16, 33} {
		t.Run(fmt.Sprintf("%d_leaves", n), func(t *testing.T) {
			ls := leaves(n)
			root, proofs, err := Build(ls)
			require.NoError(t, err)
			require.Len(t, proofs, n)

			for i, leaf := range ls {
				assert.True(t, Verify(leaf, proofs[i], root), "leaf %d must verify", i)
			}
		})
	}
}

func TestForeignLeafDoesNotVerify(t *testing.T) {
	ls := leaves(5)
	root, proofs, err := Build(ls)
	require.NoError(t, err)

	foreign := Leaf([]byte("not-in-batch"))
	for i := range ls {
		assert.False(t, Verify(foreign, proofs[i], root), "foreign leaf must not verify with proof %d", i)
	}
}

func TestTamperedProofDoesNotVerify(t *testing.T) {
	ls := leaves(4)
	root, proofs, err := Build(ls)
	require.NoError(t, err)
	require.NotEmpty(t, proofs[0])

	tampered := append(Proof(nil), proofs[0]...)
	tampered[0][0] ^= 0x01
	assert.False(t, Verify(ls[0], tampered, root))
}

func TestBuildDeterministic(t *testing.T) {
	ls := leaves(9)
	root1, _, err := Build(ls)
	require.NoError(t, err)
	root2, _, err := Build(ls)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}

func TestPairOrderIndependence(t *testing.T) {
	// Sorted-pair hashing means a verifier never needs left/right order.
	a := Leaf([]byte("a"))
	b := Leaf([]byte("b"))
	assert.Equal(t, hashPair(a, b), hashPair(b, a))
}

func TestHashHexRoundTrip(t *testing.T) {
	h := Leaf([]byte("digest"))
	parsed, err := ParseHash(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abcdef")
	assert.Error(t, err)
	_, err = ParseHash("0xzz")
	assert.Error(t, err)
}

func TestProofHexRoundTrip(t *testing.T) {
	ls := leaves(6)
	root, proofs, err := Build(ls)
	require.NoError(t, err)

	encoded := proofs[3].Hex()
	decoded, err := ParseProof(encoded)
	require.NoError(t, err)
	assert.True(t, Verify(ls[3], decoded, root))

	empty, err := ParseProof(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
