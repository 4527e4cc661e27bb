package service

import (
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"veil/internal/clock"
	"veil/internal/errdefs"
	"veil/internal/hashing"
	"veil/internal/ledger"
	"veil/internal/mixer"
	"veil/internal/quantum"
	"veil/internal/ring"
	"veil/internal/threat"
	"veil/internal/vault"
)

const start = int64(1_700_000_000)

func newTestService(t *testing.T) (*Service, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(start)
	svc := New(Options{
		Store:        ledger.NewLedger(),
		Clock:        c,
		Logger:       zaptest.NewLogger(t),
		ThreatWindow: time.Second,
	})
	return svc, c
}

func randomDigest(t *testing.T) hashing.Digest {
	t.Helper()
	var d hashing.Digest
	_, err := rand.Read(d[:])
	require.NoError(t, err)
	return d
}

func decoys(t *testing.T, n int) []hashing.Digest {
	out := make([]hashing.Digest, n)
	for i := range out {
		out[i] = ring.PublicKey(randomDigest(t))
	}
	return out
}

func TestRingSpendRejectsReusedKeyImage(t *testing.T) {
	svc, _ := newTestService(t)
	priv := randomDigest(t)

	first, err := svc.RingSign([]byte("pay 1"), priv, decoys(t, 10))
	require.NoError(t, err)
	require.NoError(t, svc.RingSpend([]byte("pay 1"), first))

	// A different ring and message with the same key still links.
	second, err := svc.RingSign([]byte("pay 2"), priv, decoys(t, 12))
	require.NoError(t, err)
	assert.Equal(t, first.KeyImage, second.KeyImage)
	err = svc.RingSpend([]byte("pay 2"), second)
	assert.ErrorIs(t, err, errdefs.ErrKeyImageSpent)
}

func TestRingSignTooSmall(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RingSign([]byte("m"), randomDigest(t), decoys(t, 9))
	assert.ErrorIs(t, err, errdefs.ErrRingTooSmall)
}

func TestMixerDepositWithdraw(t *testing.T) {
	svc, _ := newTestService(t)
	secret, nullifier, recipient := randomDigest(t), randomDigest(t), randomDigest(t)

	receipt, err := svc.MixerDeposit(100, secret, nullifier)
	require.NoError(t, err)
	assert.Nil(t, receipt.NoteCommitment)
	_, err = svc.MixerDeposit(5, randomDigest(t), randomDigest(t))
	require.NoError(t, err)

	root, path, err := svc.MixerState()
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, root, mixer.ComputeMerkleRoot(path))

	req := &WithdrawRequest{Secret: secret, Nullifier: nullifier, Recipient: recipient, MerkleProof: path}
	rec, err := svc.MixerWithdraw(req)
	require.NoError(t, err)
	assert.True(t, rec.Commitment.IsZero())
	assert.Equal(t, receipt.Record.NullifierHash, rec.NullifierHash)

	_, err = svc.MixerWithdraw(req)
	assert.ErrorIs(t, err, errdefs.ErrNullifierSpent)
}

type failingDepositStore struct {
	*ledger.Ledger
}

func (failingDepositStore) AppendDeposit(hashing.Digest, *hashing.Digest) (hashing.Digest, error) {
	return hashing.Zero, errors.New("disk full")
}

func (failingDepositStore) AddNoteCommitment(hashing.Digest) error {
	return errors.New("note commitment written outside the deposit")
}

func TestMixerDepositFailureRecordsNothing(t *testing.T) {
	store := failingDepositStore{ledger.NewLedger()}
	svc := New(Options{Store: store, Logger: zaptest.NewLogger(t)})

	receipt, err := svc.MixerDeposit(10, randomDigest(t), randomDigest(t))
	require.EqualError(t, err, "disk full")
	assert.Nil(t, receipt)

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Commitments)
	assert.Zero(t, st.NoteCommitments)
	root, _, err := svc.MixerState()
	require.NoError(t, err)
	assert.True(t, root.IsZero())
}

func TestMixerWithdrawUnknownRoot(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.MixerDeposit(1, randomDigest(t), randomDigest(t))
	require.NoError(t, err)

	_, err = svc.MixerWithdraw(&WithdrawRequest{Nullifier: randomDigest(t), MerkleProof: []hashing.Digest{randomDigest(t)}})
	assert.ErrorIs(t, err, errdefs.ErrUnknownMerkleRoot)

	_, err = svc.MixerWithdraw(&WithdrawRequest{Nullifier: randomDigest(t)})
	assert.ErrorIs(t, err, errdefs.ErrUnknownMerkleRoot, "the empty root is never known")
}

func TestProveWithdrawalDisabled(t *testing.T) {
	svc, _ := newTestService(t)
	assert.False(t, svc.SNARKEnabled())
	_, err := svc.ProveWithdrawal(mixer.Note{}, hashing.Digest{})
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestShieldedWithdrawal(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup skipped in short mode")
	}
	prover, err := mixer.NewProver("")
	require.NoError(t, err)
	svc := New(Options{Store: ledger.NewLedger(), Clock: clock.NewManual(start), Prover: prover})

	note := mixer.Note{Amount: 7, Secret: randomDigest(t), Nullifier: randomDigest(t)}
	receipt, err := svc.MixerDeposit(note.Amount, note.Secret, note.Nullifier)
	require.NoError(t, err)
	require.NotNil(t, receipt.NoteCommitment)

	_, path, err := svc.MixerState()
	require.NoError(t, err)
	recipient := randomDigest(t)
	req := &WithdrawRequest{Secret: note.Secret, Nullifier: note.Nullifier, Recipient: recipient, MerkleProof: path}

	_, err = svc.MixerWithdraw(req)
	require.ErrorIs(t, err, errdefs.ErrInvalidInput, "proof required")

	sw, err := svc.ProveWithdrawal(note, recipient)
	require.NoError(t, err)
	assert.Equal(t, *receipt.NoteCommitment, sw.NoteCommitment)

	wrong := *req
	wrong.Recipient = randomDigest(t)
	wrong.Shielded = sw
	_, err = svc.MixerWithdraw(&wrong)
	require.ErrorIs(t, err, errdefs.ErrInvalidInput)

	req.Shielded = sw
	_, err = svc.MixerWithdraw(req)
	require.NoError(t, err)
}

func quantumKeys(n int) []quantum.PublicKey {
	keys := make([]quantum.PublicKey, n)
	for i := range keys {
		keys[i][0] = byte(i + 1)
	}
	return keys
}

func lengthSig() *quantum.Signature {
	return &quantum.Signature{Signature: make([]byte, quantum.MinSignatureLength)}
}

func TestVaultLifecycle(t *testing.T) {
	svc, c := newTestService(t)
	id, v, err := svc.CreateVault(2, 3, time.Hour, quantumKeys(3))
	require.NoError(t, err)
	assert.Equal(t, start+3600, v.TimeLockUntil)

	_, err = svc.SubmitVaultSignature(id, lengthSig())
	require.ErrorIs(t, err, errdefs.ErrTimeLockActive)
	got, err := svc.Vault(id)
	require.NoError(t, err)
	assert.Equal(t, vault.Locked, got.State)

	c.Advance(3600)
	v, err = svc.SubmitVaultSignature(id, lengthSig())
	require.NoError(t, err)
	assert.Equal(t, vault.PartiallyUnlocked(1), v.State)

	_, err = svc.SubmitVaultSignature(id, &quantum.Signature{})
	require.ErrorIs(t, err, errdefs.ErrInvalidSignature)

	v, err = svc.SubmitVaultSignature(id, lengthSig())
	require.NoError(t, err)
	assert.True(t, v.IsUnlocked())

	_, err = svc.SubmitVaultSignature(id, lengthSig())
	assert.ErrorIs(t, err, errdefs.ErrInvalidVaultState)
}

func TestVaultNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Vault(uuid.New())
	assert.ErrorIs(t, err, errdefs.ErrVaultNotFound)
	_, err = svc.SubmitVaultSignature(uuid.New(), lengthSig())
	assert.ErrorIs(t, err, errdefs.ErrVaultNotFound)
}

func TestQuantumDefenseSuspendsVaults(t *testing.T) {
	svc, c := newTestService(t)
	id, _, err := svc.CreateVault(1, 1, 0, quantumKeys(1))
	require.NoError(t, err)

	assert.Equal(t, threat.Critical, svc.AnalyzeThreat(5_000_000, 1))
	status := svc.ThreatStatus()
	assert.True(t, status.QuantumDefenseActive)
	assert.Equal(t, uint32(1), status.SuspiciousPatternCount)
	assert.Equal(t, start, status.LastDetectionTime)

	_, err = svc.SubmitVaultSignature(id, lengthSig())
	require.ErrorIs(t, err, errdefs.ErrQuantumDefenseActive)

	// Once a quiet window has passed the posture lifts.
	c.Advance(5)
	v, err := svc.SubmitVaultSignature(id, lengthSig())
	require.NoError(t, err)
	assert.True(t, v.IsUnlocked())
	assert.False(t, svc.ThreatStatus().QuantumDefenseActive)
}

func TestAttemptSamplingWindows(t *testing.T) {
	svc, c := newTestService(t)
	for i := 0; i < 3; i++ {
		svc.RecordSignatureAttempt()
	}
	assert.Equal(t, uint32(3), svc.attempts)

	c.Advance(1)
	svc.RecordSignatureAttempt()
	assert.Equal(t, uint32(1), svc.attempts)
	assert.Equal(t, threat.Normal, svc.ThreatStatus().Level)
}

func TestSharesAndDecoyPassThrough(t *testing.T) {
	svc, _ := newTestService(t)
	shares, err := svc.SplitSecret(hashing.Digest{1}, 2, 3)
	require.NoError(t, err)
	_, err = svc.ReconstructSecret(shares[:1], 2)
	assert.ErrorIs(t, err, errdefs.ErrInsufficientShares)

	_, err = svc.CreateDecoyNetwork(hashing.Digest{1}, 10, 3, 2)
	assert.ErrorIs(t, err, errdefs.ErrInsufficientDecoys)

	tx := svc.CreateConfidential(10, hashing.Digest{2}, hashing.Digest{3})
	assert.True(t, tx.Verify())
}

func TestHealthChecker(t *testing.T) {
	svc, _ := newTestService(t)
	hc := NewHealthChecker("test")
	hc.RegisterDefaultChecks(svc)

	h := hc.Check()
	assert.Equal(t, Healthy, h.OverallStatus)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "ledger", h.Components[0].Name)

	svc.AnalyzeThreat(5_000_000, 1)
	assert.Equal(t, Degraded, hc.Check().OverallStatus)

	hc.Register("disk", func() error { return assert.AnError })
	assert.Equal(t, Unhealthy, hc.Check().OverallStatus)
}

func TestClientRateLimiter(t *testing.T) {
	l := NewClientRateLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per client")
	assert.InDelta(t, 2, l.Tokens("c"), 0.001)

	l.Reset()
	assert.True(t, l.Allow("a"))
}
