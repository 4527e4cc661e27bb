// errdefs.go - Error kinds shared by every protocol component.
//
// Three kinds exist. Constraint errors are malformed caller input and are never retried.
// State errors reject an operation against a record in the wrong state; they are raised
// before any mutation. Temporal errors (an active time lock) are expected in normal
// operation and may be retried later.

package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConstraint
	KindState
	KindTemporal
)

func (k Kind) String() string {
	switch k {
	case KindConstraint:
		return "constraint_violation"
	case KindState:
		return "state_violation"
	case KindTemporal:
		return "temporal_violation"
	default:
		return "unknown"
	}
}

// Error is a coded protocol error. Two errors match under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Withf returns a copy of e with extra detail appended to the message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg + ": " + fmt.Sprintf(format, args...)}
}

func constraint(code, msg string) *Error { return &Error{Kind: KindConstraint, Code: code, Msg: msg} }
func state(code, msg string) *Error      { return &Error{Kind: KindState, Code: code, Msg: msg} }

// Constraint violations.
var (
	ErrRingTooSmall           = constraint("RingTooSmall", "ring size too small for privacy (minimum 11)")
	ErrInvalidRingSize        = constraint("InvalidRingSize", "invalid ring size")
	ErrInsufficientDecoys     = constraint("InsufficientDecoys", "insufficient decoy paths (minimum 10)")
	ErrInvalidMixingRounds    = constraint("InvalidMixingRounds", "mixing rounds must be at least 1")
	ErrInvalidThreshold       = constraint("InvalidThreshold", "invalid threshold configuration")
	ErrInvalidKeyCount        = constraint("InvalidKeyCount", "invalid number of quantum keys")
	ErrInvalidShareCount      = constraint("InvalidShareCount", "invalid share count")
	ErrInsufficientShares     = constraint("InsufficientShares", "insufficient shares for reconstruction")
	ErrInvalidShareCommitment = constraint("InvalidShareCommitment", "invalid share commitment")
	ErrInvalidSignature       = constraint("InvalidSignature", "invalid quantum-resistant signature")
	ErrInsufficientNoise      = constraint("InsufficientNoiseBudget", "insufficient noise budget for homomorphic operation")
	ErrInvalidInput           = constraint("InvalidInput", "malformed input")
)

// State violations.
var (
	ErrInvalidVaultState    = state("InvalidVaultState", "invalid vault state for this operation")
	ErrNullifierSpent       = state("NullifierSpent", "nullifier hash already consumed by a withdrawal")
	ErrKeyImageSpent        = state("KeyImageSpent", "key image already spent")
	ErrUnknownMerkleRoot    = state("UnknownMerkleRoot", "merkle root does not match any commitment tree root")
	ErrQuantumDefenseActive = state("QuantumDefenseActive", "quantum defense active; vault unlocks suspended")
	ErrVaultNotFound        = state("VaultNotFound", "vault not found")
)

// Temporal violations.
var (
	ErrTimeLockActive = &Error{Kind: KindTemporal, Code: "TimeLockActive", Msg: "time-lock is still active"}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may retry the same call later.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTemporal
}
