// Package vault implements the time-locked M-of-N signature vault.
//
// Transitions are pure: every method takes the vault by value and returns the next vault,
// so a caller persists the result only when the call succeeds. Signatures are not checked
// against QuantumKeys or for duplicates; the verifier is the only gate.
package vault

import (
	"encoding/json"
	"fmt"
	"math"

	"veil/internal/errdefs"
	"veil/internal/hashing"
	"veil/internal/quantum"
)

// Status is the lifecycle stage of a vault.
type Status uint8

const (
	StatusLocked Status = iota
	StatusPartiallyUnlocked
	StatusUnlocked
	StatusEmergencyRecovery
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusPartiallyUnlocked:
		return "partially_unlocked"
	case StatusUnlocked:
		return "unlocked"
	case StatusEmergencyRecovery:
		return "emergency_recovery"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// State is a Status plus, for PartiallyUnlocked, the signatures collected so far.
type State struct {
	Status     Status
	Signatures uint8
}

var (
	Locked            = State{Status: StatusLocked}
	Unlocked          = State{Status: StatusUnlocked}
	EmergencyRecovery = State{Status: StatusEmergencyRecovery}
)

// PartiallyUnlocked returns the state after n accepted signatures.
func PartiallyUnlocked(n uint8) State {
	return State{Status: StatusPartiallyUnlocked, Signatures: n}
}

func (s State) String() string {
	if s.Status == StatusPartiallyUnlocked {
		return fmt.Sprintf("%s(%d)", s.Status, s.Signatures)
	}
	return s.Status.String()
}

type stateJSON struct {
	Status     string `json:"status"`
	Signatures uint8  `json:"signatures,omitempty"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{Status: s.Status.String(), Signatures: s.Signatures})
}

func (s *State) UnmarshalJSON(b []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for st := StatusLocked; st <= StatusEmergencyRecovery; st++ {
		if st.String() == raw.Status {
			*s = State{Status: st, Signatures: raw.Signatures}
			return nil
		}
	}
	return fmt.Errorf("unknown vault status %q", raw.Status)
}

// Vault is an M-of-N signature vault that cannot open before TimeLockUntil.
type Vault struct {
	RequiredSignatures    uint8               `json:"required_signatures"`
	TotalSigners          uint8               `json:"total_signers"`
	TimeLockUntil         int64               `json:"time_lock_until"`
	QuantumKeys           []quantum.PublicKey `json:"quantum_keys"`
	EmergencyRecoveryHash hashing.Digest      `json:"emergency_recovery_hash"`
	State                 State               `json:"vault_state"`
}

// EmergencyRecoveryHash returns A(key_1 || ... || key_n || time_lock_until LE).
func EmergencyRecoveryHash(keys []quantum.PublicKey, timeLockUntil int64) hashing.Digest {
	parts := make([][]byte, 0, len(keys)+1)
	for i := range keys {
		parts = append(parts, keys[i][:])
	}
	parts = append(parts, hashing.I64LE(timeLockUntil))
	return hashing.SumA(parts...)
}

// New creates a locked vault whose time lock ends at now+timeLockDuration. A negative
// duration, or one that pushes the deadline past the int64 range, is InvalidInput.
func New(required, total uint8, timeLockDuration int64, keys []quantum.PublicKey, now int64) (Vault, error) {
	if timeLockDuration < 0 || now > math.MaxInt64-timeLockDuration {
		return Vault{}, errdefs.ErrInvalidInput.Withf("time lock of %ds from %d", timeLockDuration, now)
	}
	if required == 0 || required > total {
		return Vault{}, errdefs.ErrInvalidThreshold.Withf("%d of %d", required, total)
	}
	if len(keys) != int(total) {
		return Vault{}, errdefs.ErrInvalidKeyCount.Withf("got %d keys for %d signers", len(keys), total)
	}
	until := now + timeLockDuration
	return Vault{
		RequiredSignatures:    required,
		TotalSigners:          total,
		TimeLockUntil:         until,
		QuantumKeys:           append([]quantum.PublicKey(nil), keys...),
		EmergencyRecoveryHash: EmergencyRecoveryHash(keys, until),
		State:                 Locked,
	}, nil
}

// AddSignature returns the vault after accepting sig at time now. It fails with
// TimeLockActive before the deadline, InvalidSignature when verifier rejects sig, and
// InvalidVaultState once the vault is Unlocked or in recovery. On failure v is unchanged.
func (v Vault) AddSignature(sig *quantum.Signature, now int64, verifier quantum.Verifier) (Vault, error) {
	if now < v.TimeLockUntil {
		return v, errdefs.ErrTimeLockActive.Withf("%ds remaining", v.TimeLockUntil-now)
	}
	if !verifier.Verify(sig) {
		return v, errdefs.ErrInvalidSignature
	}

	var collected uint8
	switch v.State.Status {
	case StatusLocked:
		collected = 1
	case StatusPartiallyUnlocked:
		collected = v.State.Signatures + 1
	default:
		return v, errdefs.ErrInvalidVaultState.Withf("vault is %s", v.State)
	}

	next := v
	next.QuantumKeys = append([]quantum.PublicKey(nil), v.QuantumKeys...)
	if collected >= v.RequiredSignatures {
		next.State = Unlocked
	} else {
		next.State = PartiallyUnlocked(collected)
	}
	return next, nil
}

// IsUnlocked reports whether the vault is Unlocked.
func (v Vault) IsUnlocked() bool {
	return v.State.Status == StatusUnlocked
}
