// service.go - Orchestration of the protocol components against a ledger.
//
// The protocol packages are pure. Service supplies the pieces they leave to the caller:
// the spent sets and commitment log (ledger.Store), the clock, the vault registry with
// its single-writer lock, and the threat detector fed by vault signature attempts.

package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veil/internal/clock"
	"veil/internal/confidential"
	"veil/internal/decoy"
	"veil/internal/errdefs"
	"veil/internal/hashing"
	"veil/internal/ledger"
	"veil/internal/metrics"
	"veil/internal/mixer"
	"veil/internal/quantum"
	"veil/internal/ring"
	"veil/internal/sharing"
	"veil/internal/stealth"
	"veil/internal/threat"
	"veil/internal/vault"
)

// Options wires a Service. Store is required; the rest default to a system clock,
// LengthVerifier, fresh metrics, no-op loggers, a one second threat window and no SNARK.
type Options struct {
	Store        ledger.Store
	Clock        clock.Clock
	Verifier     quantum.Verifier
	Prover       *mixer.Prover
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	Audit        *zap.Logger
	ThreatWindow time.Duration
	// DefaultTimeLock applies to vaults created over the API without a time lock.
	DefaultTimeLock time.Duration
	// Network, when set, receives an announcement for every generated stealth address
	// and confidential transaction.
	Network PaymentNetwork
}

// Service is safe for concurrent use.
type Service struct {
	store    ledger.Store
	clock    clock.Clock
	verifier quantum.Verifier
	prover   *mixer.Prover
	metrics  *metrics.Metrics
	log      *zap.Logger
	audit    *zap.Logger
	network  PaymentNetwork

	// mu guards the vault registry, the detector and the attempt window.
	mu          sync.Mutex
	vaults      map[uuid.UUID]vault.Vault
	detector    *threat.Detector
	window      int64
	windowStart int64
	timeLock    time.Duration
	attempts    uint32
}

func New(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		clock:    opts.Clock,
		verifier: opts.Verifier,
		prover:   opts.Prover,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		audit:    opts.Audit,
		network:  opts.Network,
		vaults:   make(map[uuid.UUID]vault.Vault),
		window:   int64(opts.ThreatWindow / time.Second),
		timeLock: opts.DefaultTimeLock,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.verifier == nil {
		s.verifier = quantum.LengthVerifier{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = zap.NewNop()
	}
	if s.window <= 0 {
		s.window = 1
	}
	s.detector = threat.NewDetector(s.clock)
	s.windowStart = s.clock.Now()
	return s
}

// DefaultTimeLock is the time lock for vaults created without one.
func (s *Service) DefaultTimeLock() time.Duration { return s.timeLock }

// Metrics returns the service's metrics.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// SNARKEnabled reports whether withdrawals require a Groth16 authorization.
func (s *Service) SNARKEnabled() bool { return s.prover != nil }

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		s.log.Debug("operation failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Service) refreshLedgerGauges() {
	st, err := s.store.Stats()
	if err != nil {
		s.log.Warn("ledger stats unavailable", zap.Error(err))
		return
	}
	s.metrics.SetSpentEntries("key_images", st.KeyImages)
	s.metrics.SetSpentEntries("nullifiers", st.Nullifiers)
	s.metrics.SetSpentEntries("commitments", st.Commitments)
	s.metrics.SetSpentEntries("note_commitments", st.NoteCommitments)
}

// GenerateStealthAddress derives a one-time address for a recipient and announces it.
func (s *Service) GenerateStealthAddress(recipientPublicKey, nonce hashing.Digest) stealth.Address {
	defer s.observe("stealth_generate", time.Now(), nil)
	addr := stealth.Generate(recipientPublicKey, nonce)
	s.announce(addr, nil)
	return addr
}

// ScanAnnouncements returns the announcements that belong to masterPrivateKey.
func (s *Service) ScanAnnouncements(masterPrivateKey hashing.Digest, anns []stealth.Announcement) []stealth.Match {
	defer s.observe("stealth_scan", time.Now(), nil)
	return stealth.ScanAnnouncements(masterPrivateKey, anns)
}

// RingSign signs message with a ring made of decoys and the real key.
func (s *Service) RingSign(message []byte, privateKey hashing.Digest, decoys []hashing.Digest) (sig *ring.Signature, err error) {
	defer func(start time.Time) { s.observe("ring_sign", start, err) }(time.Now())
	return ring.Sign(message, privateKey, decoys)
}

// RingSpend verifies sig over message and consumes its key image.
func (s *Service) RingSpend(message []byte, sig *ring.Signature) (err error) {
	defer func(start time.Time) { s.observe("ring_spend", start, err) }(time.Now())
	ok, err := sig.Verify(message)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.ErrInvalidSignature.Withf("ring signature")
	}
	if err := s.store.SpendKeyImage(sig.KeyImage); err != nil {
		if errdefs.KindOf(err) == errdefs.KindState {
			s.audit.Warn("double spend rejected", zap.Stringer("key_image", sig.KeyImage))
		}
		return err
	}
	s.refreshLedgerGauges()
	return nil
}

// DepositReceipt is returned to a depositor.
type DepositReceipt struct {
	Record *mixer.Record `json:"record"`
	// Root is the commitment log root after this deposit.
	Root hashing.Digest `json:"root"`
	// NoteCommitment is set when SNARK withdrawals are enabled.
	NoteCommitment *hashing.Digest `json:"note_commitment,omitempty"`
}

// MixerDeposit creates a deposit record and appends its commitment to the log. With SNARK
// withdrawals enabled the note commitment is stored in the same ledger write.
func (s *Service) MixerDeposit(amount uint64, secret, nullifier hashing.Digest) (receipt *DepositReceipt, err error) {
	defer func(start time.Time) { s.observe("mixer_deposit", start, err) }(time.Now())
	rec := mixer.Deposit(amount, secret, nullifier)
	var note *hashing.Digest
	if s.prover != nil {
		cm := mixer.NoteCommitment(mixer.Note{Amount: amount, Secret: secret, Nullifier: nullifier})
		note = &cm
	}
	root, err := s.store.AppendDeposit(rec.Commitment, note)
	if err != nil {
		return nil, err
	}
	s.refreshLedgerGauges()
	return &DepositReceipt{Record: rec, Root: root, NoteCommitment: note}, nil
}

// MixerState returns the current root and the path that folds to it.
func (s *Service) MixerState() (hashing.Digest, []hashing.Digest, error) {
	root, err := s.store.Root()
	if err != nil {
		return hashing.Zero, nil, err
	}
	path, err := s.store.MerkleProof()
	return root, path, err
}

// WithdrawRequest carries a withdrawal. Shielded is required when SNARK withdrawals are
// enabled and ignored otherwise.
type WithdrawRequest struct {
	Secret      hashing.Digest            `json:"secret"`
	Nullifier   hashing.Digest            `json:"nullifier"`
	Recipient   hashing.Digest            `json:"recipient"`
	MerkleProof []hashing.Digest          `json:"merkle_proof"`
	Shielded    *mixer.ShieldedWithdrawal `json:"shielded,omitempty"`
}

// MixerWithdraw checks the Merkle root, the optional SNARK and the nullifier, then
// consumes the nullifier hash.
func (s *Service) MixerWithdraw(req *WithdrawRequest) (rec *mixer.Record, err error) {
	defer func(start time.Time) { s.observe("mixer_withdraw", start, err) }(time.Now())
	rec = mixer.Withdraw(req.Secret, req.Nullifier, req.Recipient, req.MerkleProof)

	known, err := s.store.IsKnownRoot(rec.MerkleRoot)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, errdefs.ErrUnknownMerkleRoot.Withf("%s", rec.MerkleRoot)
	}
	if err := mixer.CheckWithdrawal(rec, s.store); err != nil {
		s.audit.Warn("double withdrawal rejected", zap.Stringer("nullifier_hash", rec.NullifierHash))
		return nil, err
	}
	if s.prover != nil {
		if err := s.checkShielded(req); err != nil {
			return nil, err
		}
	}
	if err := s.store.SpendNullifier(rec.NullifierHash); err != nil {
		if errdefs.KindOf(err) == errdefs.KindState {
			s.audit.Warn("double withdrawal rejected", zap.Stringer("nullifier_hash", rec.NullifierHash))
		}
		return nil, err
	}
	s.refreshLedgerGauges()
	return rec, nil
}

func (s *Service) checkShielded(req *WithdrawRequest) error {
	sw := req.Shielded
	if sw == nil {
		return errdefs.ErrInvalidInput.Withf("shielded withdrawal proof required")
	}
	if sw.Recipient != req.Recipient || sw.NullifierTag != mixer.NullifierTag(req.Nullifier) {
		return errdefs.ErrInvalidInput.Withf("shielded proof does not match withdrawal")
	}
	known, err := s.store.HasNoteCommitment(sw.NoteCommitment)
	if err != nil {
		return err
	}
	if !known {
		return errdefs.ErrInvalidInput.Withf("unknown note commitment %s", sw.NoteCommitment)
	}
	if err := s.prover.Verify(sw); err != nil {
		return errdefs.ErrInvalidInput.Withf("%v", err)
	}
	return nil
}

// ProveWithdrawal builds the Groth16 authorization for a note.
func (s *Service) ProveWithdrawal(note mixer.Note, recipient hashing.Digest) (sw *mixer.ShieldedWithdrawal, err error) {
	defer func(start time.Time) { s.observe("mixer_prove", start, err) }(time.Now())
	if s.prover == nil {
		return nil, errdefs.ErrInvalidInput.Withf("snark withdrawals are disabled")
	}
	return s.prover.Prove(note, recipient)
}

// CreateConfidential builds an amount-hidden transaction. Its announcement carries the
// encrypted amount so the recipient's scanner can read it.
func (s *Service) CreateConfidential(amount uint64, recipientPublicKey, blindingFactor hashing.Digest) *confidential.Transaction {
	defer s.observe("confidential_create", time.Now(), nil)
	tx := confidential.Create(amount, recipientPublicKey, blindingFactor)
	s.announce(stealth.Generate(recipientPublicKey, blindingFactor), tx.EncryptedAmount)
	return tx
}

// CreateDecoyNetwork builds the decoy routes for a payment.
func (s *Service) CreateDecoyNetwork(recipient hashing.Digest, amount uint64, numDecoys, rounds uint8) (n *decoy.Network, err error) {
	defer func(start time.Time) { s.observe("decoy_create", start, err) }(time.Now())
	return decoy.Create(recipient, amount, numDecoys, rounds)
}

// SplitSecret produces committed shares.
func (s *Service) SplitSecret(secret hashing.Digest, threshold, total uint8) (shares []sharing.Share, err error) {
	defer func(start time.Time) { s.observe("shares_split", start, err) }(time.Now())
	return sharing.Split(secret, threshold, total)
}

// ReconstructSecret folds committed shares.
func (s *Service) ReconstructSecret(shares []sharing.Share, threshold uint8) (secret hashing.Digest, err error) {
	defer func(start time.Time) { s.observe("shares_reconstruct", start, err) }(time.Now())
	return sharing.Reconstruct(shares, threshold)
}
