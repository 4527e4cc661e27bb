// main.go - End-to-end walkthrough of the privacy protocols against an in-memory ledger.
//
// The scenario:
//   - a recipient publishes a master public key and finds a stealth payment by scanning
//   - a ring spend succeeds once and the reused key image is refused
//   - a mixer deposit is withdrawn once and the replay is refused
//   - a confidential payment is routed through decoy paths
//   - a 2-of-3 Dilithium vault opens after its time lock
//   - a burst of signature attempts puts the service into its defensive posture
//
// Usage:
//   go run .

package main

import (
	"crypto/rand"
	"log"
	"time"

	"go.uber.org/zap"

	"veil/internal/clock"
	"veil/internal/hashing"
	"veil/internal/ledger"
	"veil/internal/quantum"
	"veil/internal/ring"
	"veil/internal/service"
	"veil/internal/stealth"
)

const (
	vaultSigners = 3
	vaultQuorum  = 2
	decoys       = 10
)

func randomDigest() hashing.Digest {
	var d hashing.Digest
	if _, err := rand.Read(d[:]); err != nil {
		log.Fatalf("random: %v", err)
	}
	return d
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	clk := clock.NewManual(time.Now().Unix())
	verifier := quantum.NewDilithiumVerifier()
	svc := service.New(service.Options{
		Store:    ledger.NewLedger(),
		Clock:    clk,
		Verifier: verifier,
		Logger:   logger,
	})

	// 1. Stealth payment
	masterPriv := randomDigest()
	masterPub := stealth.MasterPublicKey(masterPriv)
	nonce := randomDigest()
	tx := svc.CreateConfidential(1_000, masterPub, nonce)
	addr := svc.GenerateStealthAddress(masterPub, nonce)
	matches := svc.ScanAnnouncements(masterPriv, []stealth.Announcement{
		stealth.Generate(stealth.MasterPublicKey(randomDigest()), randomDigest()).Announcement(),
		addr.Announcement(),
	})
	logger.Info("stealth scan", zap.Int("matches", len(matches)),
		zap.Bool("address_matches_tx", len(matches) == 1 && matches[0].Address == tx.StealthRecipient))

	// 2. Ring spend
	spender := randomDigest()
	ringDecoys := make([]hashing.Digest, ring.MinRingSize-1)
	for i := range ringDecoys {
		ringDecoys[i] = ring.PublicKey(randomDigest())
	}
	msg := []byte("spend output 7")
	sig, err := svc.RingSign(msg, spender, ringDecoys)
	if err != nil {
		logger.Fatal("ring sign", zap.Error(err))
	}
	logger.Info("ring spend", zap.Error(svc.RingSpend(msg, sig)))
	logger.Info("ring respend", zap.Error(svc.RingSpend(msg, sig)))

	// 3. Mixer
	secret, nullifier := randomDigest(), randomDigest()
	if _, err := svc.MixerDeposit(5_000, secret, nullifier); err != nil {
		logger.Fatal("mixer deposit", zap.Error(err))
	}
	_, path, err := svc.MixerState()
	if err != nil {
		logger.Fatal("mixer state", zap.Error(err))
	}
	req := &service.WithdrawRequest{Secret: secret, Nullifier: nullifier, Recipient: addr.Address, MerkleProof: path}
	_, err = svc.MixerWithdraw(req)
	logger.Info("mixer withdraw", zap.Error(err))
	_, err = svc.MixerWithdraw(req)
	logger.Info("mixer replay", zap.Error(err))

	// 4. Decoy routing
	network, err := svc.CreateDecoyNetwork(tx.StealthRecipient, 1_000, decoys, 3)
	if err != nil {
		logger.Fatal("decoy network", zap.Error(err))
	}
	logger.Info("decoy network", zap.Int("paths", len(network.Paths)),
		zap.Int64("real_path_delay_ms", network.RealPath().TotalDelay()))

	// 5. Vault
	signers := make([]*quantum.DilithiumSigner, vaultSigners)
	keys := make([]quantum.PublicKey, vaultSigners)
	for i := range signers {
		if signers[i], err = quantum.NewDilithiumSigner(rand.Reader); err != nil {
			logger.Fatal("dilithium key", zap.Error(err))
		}
		keys[i] = verifier.Register(signers[i].PublicKey())
	}
	id, _, err := svc.CreateVault(vaultQuorum, vaultSigners, time.Hour, keys)
	if err != nil {
		logger.Fatal("create vault", zap.Error(err))
	}
	release := quantum.GenerateCommitment([]byte("release treasury"))
	_, err = svc.SubmitVaultSignature(id, signers[0].Sign(release, clk.Now(), 1))
	logger.Info("vault signature before time lock", zap.Error(err))

	clk.Advance(int64(time.Hour / time.Second))
	for i := 0; i < vaultQuorum; i++ {
		clk.Advance(1)
		v, err := svc.SubmitVaultSignature(id, signers[i].Sign(release, clk.Now(), uint64(i)))
		if err != nil {
			logger.Fatal("vault signature", zap.Error(err))
		}
		logger.Info("vault signature", zap.Stringer("state", v.State))
	}

	// 6. Threat detector
	level := svc.AnalyzeThreat(5_000_000, 1)
	logger.Info("threat analysis", zap.Stringer("level", level),
		zap.Bool("quantum_defense", svc.ThreatStatus().QuantumDefenseActive))
	_, err = svc.SubmitVaultSignature(id, signers[2].Sign(release, clk.Now(), 9))
	logger.Info("vault signature under defense", zap.Error(err))
}
