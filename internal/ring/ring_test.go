package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/errdefs"
	"veil/internal/hashing"
)

func decoys(n int) []hashing.Digest {
	out := make([]hashing.Digest, n)
	for i := range out {
		for j := range out[i] {
			out[i][j] = byte(i)
		}
	}
	return out
}

func TestSignRejectsSmallRing(t *testing.T) {
	for n := 0; n < 10; n++ {
		_, err := Sign([]byte("msg"), hashing.Digest{42}, decoys(n))
		require.ErrorIs(t, err, errdefs.ErrRingTooSmall, "decoys=%d", n)
		assert.Equal(t, errdefs.KindConstraint, errdefs.KindOf(err))
	}
}

func TestSignRejectsOversizedRing(t *testing.T) {
	_, err := Sign([]byte("msg"), hashing.Digest{42}, decoys(255))
	require.ErrorIs(t, err, errdefs.ErrInvalidRingSize)
}

func TestSignAndVerifyMinimumRing(t *testing.T) {
	msg := []byte("secret transaction")
	priv := hashing.Digest{42}
	sig, err := Sign(msg, priv, decoys(10))
	require.NoError(t, err)

	assert.EqualValues(t, 11, sig.RingSize)
	assert.Len(t, sig.RingMembers, 11)
	assert.Len(t, sig.SignatureComponents, 11)
	assert.Equal(t, PublicKey(priv), sig.RingMembers[5])
	assert.Equal(t, KeyImage(priv), sig.KeyImage)

	ok, err := sig.Verify(msg)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyImageStableAcrossSignatures(t *testing.T) {
	priv := hashing.Digest{7}
	a, err := Sign([]byte("one"), priv, decoys(10))
	require.NoError(t, err)
	b, err := Sign([]byte("two"), priv, decoys(20))
	require.NoError(t, err)
	assert.Equal(t, a.KeyImage, b.KeyImage)
	assert.NotEqual(t, a.SignatureComponents[5], b.SignatureComponents[5])

	c, err := Sign([]byte("one"), hashing.Digest{8}, decoys(10))
	require.NoError(t, err)
	assert.NotEqual(t, a.KeyImage, c.KeyImage)
}

func TestVerifyStructuralFailures(t *testing.T) {
	sig, err := Sign([]byte("m"), hashing.Digest{1}, decoys(12))
	require.NoError(t, err)

	short := *sig
	short.RingMembers = short.RingMembers[:len(short.RingMembers)-1]
	_, err = short.Verify([]byte("m"))
	require.ErrorIs(t, err, errdefs.ErrInvalidRingSize)

	small := *sig
	small.RingSize = 10
	_, err = small.Verify([]byte("m"))
	require.ErrorIs(t, err, errdefs.ErrRingTooSmall)

	bad := *sig
	bad.SignatureComponents = append([][]byte(nil), sig.SignatureComponents...)
	bad.SignatureComponents[3] = []byte{1, 2, 3}
	ok, err := bad.Verify([]byte("m"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsKeyImageSpent(t *testing.T) {
	sig, err := Sign([]byte("m"), hashing.Digest{9}, decoys(10))
	require.NoError(t, err)

	assert.False(t, sig.IsKeyImageSpent(nil))
	assert.False(t, sig.IsKeyImageSpent([]hashing.Digest{{1}, {2}}))
	assert.True(t, sig.IsKeyImageSpent([]hashing.Digest{{1}, sig.KeyImage}))
}
