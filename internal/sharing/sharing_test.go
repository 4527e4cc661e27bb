package sharing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/errdefs"
	"veil/internal/hashing"
)

func TestSplit(t *testing.T) {
	secret := hashing.Digest{1, 2, 3}
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	seen := map[hashing.Digest]bool{}
	for i, s := range shares {
		assert.Equal(t, uint8(i+1), s.Index)
		assert.True(t, s.Valid())
		assert.False(t, seen[s.Value])
		seen[s.Value] = true
	}

	again, err := Split(secret, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, shares, again)
}

func TestSplitRejectsBadCounts(t *testing.T) {
	cases := []struct {
		name             string
		threshold, total uint8
	}{
		{"zero threshold", 0, 3},
		{"zero total", 1, 0},
		{"threshold above total", 4, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(hashing.Digest{1}, tc.threshold, tc.total)
			assert.ErrorIs(t, err, errdefs.ErrInvalidShareCount)
		})
	}
}

func TestReconstructFold(t *testing.T) {
	shares, err := Split(hashing.Digest{42}, 3, 5)
	require.NoError(t, err)

	got, err := Reconstruct(shares[:3], 3)
	require.NoError(t, err)

	var want hashing.Digest
	for pos, s := range shares[:3] {
		for j := range want {
			want[j] ^= s.Value[j] * uint8(pos+1)
		}
	}
	assert.Equal(t, want, got)

	// Extra shares are checked but not folded.
	withExtra, err := Reconstruct(shares, 3)
	require.NoError(t, err)
	assert.Equal(t, got, withExtra)
}

func TestReconstructErrors(t *testing.T) {
	shares, err := Split(hashing.Digest{42}, 3, 5)
	require.NoError(t, err)

	_, err = Reconstruct(shares[:2], 3)
	assert.ErrorIs(t, err, errdefs.ErrInsufficientShares)

	tampered := append([]Share(nil), shares...)
	tampered[4].Value[0] ^= 0xFF
	_, err = Reconstruct(tampered, 3)
	assert.ErrorIs(t, err, errdefs.ErrInvalidShareCommitment, "shares beyond the threshold are verified too")
}
