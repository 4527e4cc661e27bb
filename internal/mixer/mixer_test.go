package mixer

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/errdefs"
	"veil/internal/hashing"
)

func randomDigest(t *testing.T) hashing.Digest {
	t.Helper()
	var d hashing.Digest
	_, err := rand.Read(d[:])
	require.NoError(t, err)
	return d
}

type spentSet map[hashing.Digest]bool

func (s spentSet) HasNullifier(nh hashing.Digest) (bool, error) { return s[nh], nil }

type brokenStore struct{}

func (brokenStore) HasNullifier(hashing.Digest) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestDepositDeterministic(t *testing.T) {
	secret, nullifier := hashing.Digest{7}, hashing.Digest{9}
	a := Deposit(1000, secret, nullifier)
	b := Deposit(1000, secret, nullifier)

	assert.Equal(t, a, b)
	assert.False(t, a.Commitment.IsZero())
	assert.True(t, a.MerkleRoot.IsZero())
	assert.Len(t, a.Proof, hashing.Size)
	assert.Equal(t, NullifierHash(nullifier), a.NullifierHash)

	c := Deposit(1001, secret, nullifier)
	assert.NotEqual(t, a.Commitment, c.Commitment)
	assert.Equal(t, a.NullifierHash, c.NullifierHash, "nullifier hash depends on the nullifier alone")
}

func TestNullifierHashesDoNotCollide(t *testing.T) {
	seen := make(map[hashing.Digest]struct{})
	for i := 0; i < 200; i++ {
		nh := NullifierHash(randomDigest(t))
		_, dup := seen[nh]
		require.False(t, dup)
		seen[nh] = struct{}{}
	}
}

func TestWithdrawHidesCommitment(t *testing.T) {
	secret, nullifier, recipient := randomDigest(t), randomDigest(t), randomDigest(t)
	dep := Deposit(50, secret, nullifier)

	w := Withdraw(secret, nullifier, recipient, nil)
	assert.True(t, w.Commitment.IsZero())
	assert.Equal(t, dep.NullifierHash, w.NullifierHash)
	assert.True(t, w.MerkleRoot.IsZero(), "empty path folds to the zero root")
	assert.Len(t, w.Proof, hashing.Size)

	other := Withdraw(secret, nullifier, randomDigest(t), nil)
	assert.NotEqual(t, w.Proof, other.Proof, "proof is bound to the recipient")
}

func TestMerkleFoldIsOrderSensitive(t *testing.T) {
	s1, s2 := hashing.Digest{1}, hashing.Digest{2}

	first := hashing.SumA(hashing.Zero[:], s1[:])
	want := hashing.SumA(first[:], s2[:])
	assert.Equal(t, want, ComputeMerkleRoot([]hashing.Digest{s1, s2}))
	assert.NotEqual(t, ComputeMerkleRoot([]hashing.Digest{s1, s2}), ComputeMerkleRoot([]hashing.Digest{s2, s1}))
}

func TestCheckWithdrawal(t *testing.T) {
	nullifier := randomDigest(t)
	w := Withdraw(randomDigest(t), nullifier, randomDigest(t), nil)
	spent := spentSet{}

	require.NoError(t, CheckWithdrawal(w, spent))
	spent[w.NullifierHash] = true

	err := CheckWithdrawal(w, spent)
	require.ErrorIs(t, err, errdefs.ErrNullifierSpent)
	assert.Equal(t, errdefs.KindState, errdefs.KindOf(err))

	err = CheckWithdrawal(w, brokenStore{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errdefs.ErrNullifierSpent)
}
