// hashing.go - Digest type and the A/B hash primitives.

package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the length in bytes of every digest.
const Size = 32

// Domain tags appended to derivation inputs.
const (
	TagEphemeralKey      = "EPHEMERAL_KEY"
	TagStealthAddress    = "STEALTH_ADDRESS"
	TagKeyImage          = "KEY_IMAGE"
	TagDecoy             = "DECOY"
	TagNullifier         = "NULLIFIER"
	TagDepositProof      = "ZK_DEPOSIT_PROOF"
	TagWithdrawalProof   = "ZK_WITHDRAWAL_PROOF"
	TagEncryptionKey     = "ENCRYPTION_KEY"
	TagRangeProof        = "RANGE_PROOF"
	TagPedersen          = "PEDERSEN_COMMITMENT"
	TagRandomPubkey      = "RANDOM_PUBKEY"
	TagThresholdShare    = "THRESHOLD_SHARE"
	TagQuantumCommitment = "QUANTUM_RESISTANT_COMMITMENT"
	TagZKCommitment      = "ZK_COMMITMENT"
)

// Digest is a 32-byte hash output. It encodes as lowercase hex in JSON and YAML.
type Digest [Size]byte

// Zero is the all-zero digest.
var Zero Digest

// IsZero reports whether every byte of d is zero.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Bytes returns a copy of d as a slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest hex: %w", err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("invalid digest length: got %d bytes, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// FromBytes copies up to Size bytes of b into a digest, left-aligned.
func FromBytes(b []byte) Digest {
	var d Digest
	copy(d[:], b)
	return d
}

// SumA returns SHA3-256 over the concatenation of parts.
func SumA(parts ...[]byte) Digest {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SumB returns Keccak-256 over the concatenation of parts.
func SumB(parts ...[]byte) Digest {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// U64LE encodes v as 8 little-endian bytes.
func U64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// I64LE encodes v as 8 little-endian bytes (two's complement).
func I64LE(v int64) []byte {
	return U64LE(uint64(v))
}

// Tag returns the byte form of a domain tag.
func Tag(tag string) []byte {
	return []byte(tag)
}
