package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/errdefs"
	"veil/internal/hashing"
	"veil/internal/quantum"
	"veil/internal/ring"
	"veil/internal/stealth"
)

func newTestServer(t *testing.T, limiter *ClientRateLimiter) (*httptest.Server, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	hc := NewHealthChecker("test")
	hc.RegisterDefaultChecks(svc)
	srv := httptest.NewServer(NewAPI(svc, hc, limiter).Router())
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(errdefs.ErrRingTooSmall))
	assert.Equal(t, http.StatusConflict, StatusFor(errdefs.ErrNullifierSpent))
	assert.Equal(t, http.StatusNotFound, StatusFor(errdefs.ErrVaultNotFound.Withf("x")))
	assert.Equal(t, http.StatusLocked, StatusFor(errdefs.ErrTimeLockActive))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}

func TestAPIStealthRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	priv := hashing.Digest{1}

	var addr stealth.Address
	code := postJSON(t, srv.URL+"/v1/stealth/generate", stealthGenerateRequest{
		RecipientPublicKey: stealth.MasterPublicKey(priv),
		Nonce:              hashing.Digest{2},
	}, &addr)
	require.Equal(t, http.StatusOK, code)

	var scan struct {
		Matches []stealth.Match `json:"matches"`
	}
	code = postJSON(t, srv.URL+"/v1/stealth/scan", stealthScanRequest{
		MasterPrivateKey: priv,
		Announcements:    []stealth.Announcement{addr.Announcement()},
	}, &scan)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, scan.Matches, 1)
	assert.Equal(t, addr.Address, scan.Matches[0].Address)
}

func TestAPIRingDoubleSpend(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ds := make([]hashing.Digest, 10)
	for i := range ds {
		ds[i] = ring.PublicKey(hashing.Digest{byte(i + 10)})
	}

	var sig ring.Signature
	code := postJSON(t, srv.URL+"/v1/ring/sign", ringSignRequest{Message: []byte("m"), PrivateKey: hashing.Digest{1}, Decoys: ds}, &sig)
	require.Equal(t, http.StatusOK, code)

	code = postJSON(t, srv.URL+"/v1/ring/spend", ringSpendRequest{Message: []byte("m"), Signature: &sig}, nil)
	require.Equal(t, http.StatusOK, code)

	var body errorBody
	code = postJSON(t, srv.URL+"/v1/ring/spend", ringSpendRequest{Message: []byte("m"), Signature: &sig}, &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "KeyImageSpent", body.Error)

	code = postJSON(t, srv.URL+"/v1/ring/sign", ringSignRequest{Message: []byte("m"), PrivateKey: hashing.Digest{1}, Decoys: ds[:3]}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "RingTooSmall", body.Error)
}

func TestAPIMixerFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	secret, nullifier := hashing.Digest{3}, hashing.Digest{4}

	var receipt DepositReceipt
	code := postJSON(t, srv.URL+"/v1/mixer/deposit", mixerDepositRequest{Amount: 9, Secret: secret, Nullifier: nullifier}, &receipt)
	require.Equal(t, http.StatusOK, code)

	var state struct {
		Root        hashing.Digest   `json:"root"`
		MerkleProof []hashing.Digest `json:"merkle_proof"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/mixer/state", &state))
	assert.Equal(t, receipt.Root, state.Root)

	req := WithdrawRequest{Secret: secret, Nullifier: nullifier, Recipient: hashing.Digest{5}, MerkleProof: state.MerkleProof}
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/v1/mixer/withdraw", req, nil))
	assert.Equal(t, http.StatusConflict, postJSON(t, srv.URL+"/v1/mixer/withdraw", req, nil))
}

func TestAPIVaultFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var created struct {
		ID string `json:"id"`
	}
	lock := int64(60)
	code := postJSON(t, srv.URL+"/v1/vaults", vaultCreateRequest{
		RequiredSignatures: 1, TotalSigners: 2, TimeLockSeconds: &lock,
		QuantumKeys: []quantum.PublicKey{{1}, {2}},
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	sigURL := srv.URL + "/v1/vaults/" + created.ID + "/signatures"
	var body errorBody
	code = postJSON(t, sigURL, quantum.Signature{Signature: make([]byte, 64)}, &body)
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "TimeLockActive", body.Error)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/vaults/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/vaults/6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/vaults/not-a-uuid", nil))

	code = postJSON(t, srv.URL+"/v1/vaults", vaultCreateRequest{RequiredSignatures: 3, TotalSigners: 2, QuantumKeys: []quantum.PublicKey{{1}, {2}}}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidThreshold", body.Error)
}

func TestAPIVaultTimeLockBounds(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	create := func(seconds int64, out any) int {
		return postJSON(t, srv.URL+"/v1/vaults", vaultCreateRequest{
			RequiredSignatures: 1, TotalSigners: 1, TimeLockSeconds: &seconds,
			QuantumKeys: []quantum.PublicKey{{1}},
		}, out)
	}

	for _, seconds := range []int64{-1, 10_000_000_000, maxTimeLockSeconds + 1} {
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, create(seconds, &body), "seconds=%d", seconds)
		assert.Equal(t, "InvalidInput", body.Error)
	}

	var created struct {
		ID    string `json:"id"`
		Vault struct {
			TimeLockUntil int64 `json:"time_lock_until"`
		} `json:"vault"`
	}
	require.Equal(t, http.StatusCreated, create(maxTimeLockSeconds, &created))
	assert.Equal(t, start+maxTimeLockSeconds, created.Vault.TimeLockUntil)

	var body errorBody
	code := postJSON(t, srv.URL+"/v1/vaults/"+created.ID+"/signatures", quantum.Signature{Signature: make([]byte, 64)}, &body)
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "TimeLockActive", body.Error)
}

func TestAPIThreat(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var status ThreatStatus
	code := postJSON(t, srv.URL+"/v1/threat/analyze", threatAnalyzeRequest{Attempts: 200_000, TimeWindow: 1}, &status)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "high", status.Level.String())
	assert.False(t, status.QuantumDefenseActive)

	var h SystemHealth
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &h))
	assert.Equal(t, Healthy, h.OverallStatus)
}

func TestAPIRejectsMalformedBodies(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/v1/mixer/deposit", "application/json", bytes.NewBufferString(`{"amount":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/decoy", "application/json", bytes.NewBufferString(`{"unknown":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIRateLimitCountsVaultAttempts(t *testing.T) {
	srv, svc := newTestServer(t, NewClientRateLimiter(0.001, 1))

	sig := quantum.Signature{Signature: make([]byte, 64)}
	url := srv.URL + "/v1/vaults/6ba7b810-9dad-11d1-80b4-00c04fd430c8/signatures"
	assert.Equal(t, http.StatusNotFound, postJSON(t, url, sig, nil))
	assert.Equal(t, http.StatusTooManyRequests, postJSON(t, url, sig, nil))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, uint32(2), svc.attempts)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	postJSON(t, srv.URL+"/v1/decoy", decoyRequest{RealRecipient: hashing.Digest{1}, Amount: 1, NumDecoys: 10, MixingRounds: 2}, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `veil_operations_total{op="decoy_create",result="ok"} 1`)
}
