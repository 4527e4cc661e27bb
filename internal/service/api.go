// api.go - REST surface.
//
// Every endpoint takes and returns JSON. Digests are 64-character hex strings and byte
// strings (messages, proofs, signatures) are base64. Protocol errors map to
// 400 (constraint), 409 (state) and 423 (temporal).

package service

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"veil/internal/confidential"
	"veil/internal/errdefs"
	"veil/internal/hashing"
	"veil/internal/mixer"
	"veil/internal/quantum"
	"veil/internal/ring"
	"veil/internal/sharing"
	"veil/internal/stealth"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindConstraint:
		return http.StatusBadRequest
	case errdefs.KindState:
		if errors.Is(err, errdefs.ErrVaultNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case errdefs.KindTemporal:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := errorBody{Error: "Internal", Kind: errdefs.KindOf(err).String(), Message: "internal error"}
	var e *errdefs.Error
	if errors.As(err, &e) {
		body.Error = e.Code
		body.Message = err.Error()
	}
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.writeError(w, errdefs.ErrInvalidInput.Withf("%v", err))
		return false
	}
	return true
}

// API serves the service over HTTP.
type API struct {
	svc     *Service
	health  *HealthChecker
	limiter *ClientRateLimiter
	log     *zap.Logger
}

// NewAPI builds the HTTP surface. limiter may be nil to disable rate limiting.
func NewAPI(svc *Service, health *HealthChecker, limiter *ClientRateLimiter) *API {
	return &API{svc: svc, health: health, limiter: limiter, log: svc.log.Named("api")}
}

// Router returns the gorilla/mux router with every route registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", a.svc.Metrics().Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if a.limiter != nil {
		v1.Use(a.limiter.Middleware(a.onRateLimited))
	}
	v1.Use(a.logRequests)

	v1.HandleFunc("/stealth/generate", a.handleStealthGenerate).Methods(http.MethodPost)
	v1.HandleFunc("/stealth/scan", a.handleStealthScan).Methods(http.MethodPost)
	v1.HandleFunc("/ring/sign", a.handleRingSign).Methods(http.MethodPost)
	v1.HandleFunc("/ring/spend", a.handleRingSpend).Methods(http.MethodPost)
	v1.HandleFunc("/mixer/deposit", a.handleMixerDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/mixer/withdraw", a.handleMixerWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/mixer/prove", a.handleMixerProve).Methods(http.MethodPost)
	v1.HandleFunc("/mixer/state", a.handleMixerState).Methods(http.MethodGet)
	v1.HandleFunc("/confidential", a.handleConfidentialCreate).Methods(http.MethodPost)
	v1.HandleFunc("/confidential/verify", a.handleConfidentialVerify).Methods(http.MethodPost)
	v1.HandleFunc("/decoy", a.handleDecoy).Methods(http.MethodPost)
	v1.HandleFunc("/shares/split", a.handleSharesSplit).Methods(http.MethodPost)
	v1.HandleFunc("/shares/reconstruct", a.handleSharesReconstruct).Methods(http.MethodPost)
	v1.HandleFunc("/vaults", a.handleVaultCreate).Methods(http.MethodPost)
	v1.HandleFunc("/vaults/{id}", a.handleVaultGet).Methods(http.MethodGet)
	v1.HandleFunc("/vaults/{id}/signatures", a.handleVaultSign).Methods(http.MethodPost).Name(routeVaultSign)
	v1.HandleFunc("/threat", a.handleThreatStatus).Methods(http.MethodGet)
	v1.HandleFunc("/threat/analyze", a.handleThreatAnalyze).Methods(http.MethodPost)
	v1.HandleFunc("/p2p/payments", a.handleReceivedPayments).Methods(http.MethodGet)
	return r
}

const routeVaultSign = "vault_sign"

// onRateLimited counts refused vault signature submissions as attempts.
func (a *API) onRateLimited(r *http.Request) {
	if route := mux.CurrentRoute(r); route != nil && route.GetName() == routeVaultSign {
		a.svc.RecordSignatureAttempt()
	}
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("elapsed", time.Since(start)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := a.health.Check()
	status := http.StatusOK
	if h.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

type stealthGenerateRequest struct {
	RecipientPublicKey hashing.Digest `json:"recipient_public_key"`
	Nonce              hashing.Digest `json:"nonce"`
}

func (a *API) handleStealthGenerate(w http.ResponseWriter, r *http.Request) {
	var req stealthGenerateRequest
	if !a.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, a.svc.GenerateStealthAddress(req.RecipientPublicKey, req.Nonce))
}

type stealthScanRequest struct {
	MasterPrivateKey hashing.Digest         `json:"master_private_key"`
	Announcements    []stealth.Announcement `json:"announcements"`
}

func (a *API) handleStealthScan(w http.ResponseWriter, r *http.Request) {
	var req stealthScanRequest
	if !a.decode(w, r, &req) {
		return
	}
	matches := a.svc.ScanAnnouncements(req.MasterPrivateKey, req.Announcements)
	if matches == nil {
		matches = []stealth.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

type ringSignRequest struct {
	Message    []byte           `json:"message"`
	PrivateKey hashing.Digest   `json:"private_key"`
	Decoys     []hashing.Digest `json:"decoys"`
}

func (a *API) handleRingSign(w http.ResponseWriter, r *http.Request) {
	var req ringSignRequest
	if !a.decode(w, r, &req) {
		return
	}
	sig, err := a.svc.RingSign(req.Message, req.PrivateKey, req.Decoys)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type ringSpendRequest struct {
	Message   []byte          `json:"message"`
	Signature *ring.Signature `json:"signature"`
}

func (a *API) handleRingSpend(w http.ResponseWriter, r *http.Request) {
	var req ringSpendRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Signature == nil {
		a.writeError(w, errdefs.ErrInvalidInput.Withf("signature required"))
		return
	}
	if err := a.svc.RingSpend(req.Message, req.Signature); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key_image": req.Signature.KeyImage, "spent": true})
}

type mixerDepositRequest struct {
	Amount    uint64         `json:"amount"`
	Secret    hashing.Digest `json:"secret"`
	Nullifier hashing.Digest `json:"nullifier"`
}

func (a *API) handleMixerDeposit(w http.ResponseWriter, r *http.Request) {
	var req mixerDepositRequest
	if !a.decode(w, r, &req) {
		return
	}
	receipt, err := a.svc.MixerDeposit(req.Amount, req.Secret, req.Nullifier)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleMixerWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !a.decode(w, r, &req) {
		return
	}
	rec, err := a.svc.MixerWithdraw(&req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type mixerProveRequest struct {
	Note      mixer.Note     `json:"note"`
	Recipient hashing.Digest `json:"recipient"`
}

func (a *API) handleMixerProve(w http.ResponseWriter, r *http.Request) {
	var req mixerProveRequest
	if !a.decode(w, r, &req) {
		return
	}
	sw, err := a.svc.ProveWithdrawal(req.Note, req.Recipient)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (a *API) handleMixerState(w http.ResponseWriter, _ *http.Request) {
	root, path, err := a.svc.MixerState()
	if err != nil {
		a.writeError(w, err)
		return
	}
	if path == nil {
		path = []hashing.Digest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": root, "merkle_proof": path})
}

type confidentialRequest struct {
	Amount             uint64         `json:"amount"`
	RecipientPublicKey hashing.Digest `json:"recipient_public_key"`
	BlindingFactor     hashing.Digest `json:"blinding_factor"`
}

func (a *API) handleConfidentialCreate(w http.ResponseWriter, r *http.Request) {
	var req confidentialRequest
	if !a.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, a.svc.CreateConfidential(req.Amount, req.RecipientPublicKey, req.BlindingFactor))
}

func (a *API) handleConfidentialVerify(w http.ResponseWriter, r *http.Request) {
	var tx confidential.Transaction
	if !a.decode(w, r, &tx) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": tx.Verify()})
}

type decoyRequest struct {
	RealRecipient hashing.Digest `json:"real_recipient"`
	Amount        uint64         `json:"amount"`
	NumDecoys     uint8          `json:"num_decoys"`
	MixingRounds  uint8          `json:"mixing_rounds"`
}

func (a *API) handleDecoy(w http.ResponseWriter, r *http.Request) {
	var req decoyRequest
	if !a.decode(w, r, &req) {
		return
	}
	n, err := a.svc.CreateDecoyNetwork(req.RealRecipient, req.Amount, req.NumDecoys, req.MixingRounds)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type sharesSplitRequest struct {
	Secret    hashing.Digest `json:"secret"`
	Threshold uint8          `json:"threshold"`
	Total     uint8          `json:"total_shares"`
}

func (a *API) handleSharesSplit(w http.ResponseWriter, r *http.Request) {
	var req sharesSplitRequest
	if !a.decode(w, r, &req) {
		return
	}
	shares, err := a.svc.SplitSecret(req.Secret, req.Threshold, req.Total)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

type sharesReconstructRequest struct {
	Shares    []sharing.Share `json:"shares"`
	Threshold uint8           `json:"threshold"`
}

func (a *API) handleSharesReconstruct(w http.ResponseWriter, r *http.Request) {
	var req sharesReconstructRequest
	if !a.decode(w, r, &req) {
		return
	}
	secret, err := a.svc.ReconstructSecret(req.Shares, req.Threshold)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": secret})
}

type vaultCreateRequest struct {
	RequiredSignatures uint8               `json:"required_signatures"`
	TotalSigners       uint8               `json:"total_signers"`
	TimeLockSeconds    *int64              `json:"time_lock_seconds,omitempty"`
	QuantumKeys        []quantum.PublicKey `json:"quantum_keys"`
}

// maxTimeLockSeconds is the longest time lock representable as a time.Duration.
const maxTimeLockSeconds = math.MaxInt64 / int64(time.Second)

type vaultResponse struct {
	ID    uuid.UUID `json:"id"`
	Vault any       `json:"vault"`
}

func (a *API) handleVaultCreate(w http.ResponseWriter, r *http.Request) {
	var req vaultCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	timeLock := a.svc.DefaultTimeLock()
	if req.TimeLockSeconds != nil {
		if *req.TimeLockSeconds < 0 || *req.TimeLockSeconds > maxTimeLockSeconds {
			a.writeError(w, errdefs.ErrInvalidInput.Withf("time_lock_seconds must be in [0, %d]", maxTimeLockSeconds))
			return
		}
		timeLock = time.Duration(*req.TimeLockSeconds) * time.Second
	}
	id, v, err := a.svc.CreateVault(req.RequiredSignatures, req.TotalSigners, timeLock, req.QuantumKeys)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vaultResponse{ID: id, Vault: v})
}

func vaultID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errdefs.ErrInvalidInput.Withf("vault id: %v", err)
	}
	return id, nil
}

func (a *API) handleVaultGet(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	v, err := a.svc.Vault(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse{ID: id, Vault: v})
}

func (a *API) handleVaultSign(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var sig quantum.Signature
	if !a.decode(w, r, &sig) {
		return
	}
	v, err := a.svc.SubmitVaultSignature(id, &sig)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse{ID: id, Vault: v})
}

func (a *API) handleThreatStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.ThreatStatus())
}

type threatAnalyzeRequest struct {
	Attempts   uint32 `json:"signature_attempts"`
	TimeWindow int64  `json:"time_window"`
}

func (a *API) handleThreatAnalyze(w http.ResponseWriter, r *http.Request) {
	var req threatAnalyzeRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.svc.AnalyzeThreat(req.Attempts, req.TimeWindow)
	writeJSON(w, http.StatusOK, a.svc.ThreatStatus())
}

func (a *API) handleReceivedPayments(w http.ResponseWriter, _ *http.Request) {
	payments, err := a.svc.ReceivedPayments()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}
