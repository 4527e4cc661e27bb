// Package quantum holds the post-quantum signature envelope, its verification
// capability, hash commitments and the Fiat-Shamir proof stub.
//
// The envelope's default verifier only checks the signature length. DilithiumVerifier
// checks real ML-DSA (Dilithium mode 3) signatures for keys registered with it.
package quantum

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"veil/internal/hashing"
)

// PublicKeySize is the width of the key field carried in a Signature.
const PublicKeySize = 64

// MinSignatureLength is the shortest signature LengthVerifier accepts.
const MinSignatureLength = 64

// PublicKey is a 64-byte signer identity. For Dilithium keys it is the SHA3-512
// fingerprint of the packed key.
type PublicKey [PublicKeySize]byte

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != PublicKeySize {
		return fmt.Errorf("invalid public key length: got %d bytes, want %d", len(b), PublicKeySize)
	}
	copy(k[:], b)
	return nil
}

// Signature is a signed message envelope.
type Signature struct {
	PublicKey   PublicKey      `json:"public_key"`
	Signature   []byte         `json:"signature"`
	MessageHash hashing.Digest `json:"message_hash"`
	Timestamp   int64          `json:"timestamp"`
	Nonce       uint64         `json:"nonce"`
}

// SigningDigest is A(public_key || message_hash || timestamp LE || nonce LE), the value a
// real signer signs.
func (s *Signature) SigningDigest() hashing.Digest {
	return hashing.SumA(s.PublicKey[:], s.MessageHash[:], hashing.I64LE(s.Timestamp), hashing.U64LE(s.Nonce))
}

// Verify reports whether the signature is at least 64 bytes long. It performs no
// cryptographic check.
func (s *Signature) Verify() bool {
	return len(s.Signature) >= MinSignatureLength
}

// GenerateCommitment returns A(data || "QUANTUM_RESISTANT_COMMITMENT").
func GenerateCommitment(data []byte) hashing.Digest {
	return hashing.SumA(data, hashing.Tag(hashing.TagQuantumCommitment))
}

// Verifier is the signature verification capability a vault consults.
type Verifier interface {
	Verify(sig *Signature) bool
}

// LengthVerifier accepts any signature of at least 64 bytes.
type LengthVerifier struct{}

func (LengthVerifier) Verify(sig *Signature) bool { return sig.Verify() }

// Fingerprint returns the SHA3-512 digest of a packed Dilithium public key.
func Fingerprint(pk *mode3.PublicKey) PublicKey {
	return PublicKey(sha3.Sum512(pk.Bytes()))
}

// DilithiumVerifier verifies Dilithium mode 3 signatures over SigningDigest for the keys
// registered with it. Unknown fingerprints never verify. It is safe for concurrent use.
type DilithiumVerifier struct {
	mu   sync.RWMutex
	keys map[PublicKey]*mode3.PublicKey
}

func NewDilithiumVerifier() *DilithiumVerifier {
	return &DilithiumVerifier{keys: make(map[PublicKey]*mode3.PublicKey)}
}

// Register adds pk and returns the fingerprint signers must put in Signature.PublicKey.
func (v *DilithiumVerifier) Register(pk *mode3.PublicKey) PublicKey {
	fp := Fingerprint(pk)
	v.mu.Lock()
	v.keys[fp] = pk
	v.mu.Unlock()
	return fp
}

// RegisterPacked unpacks and registers a serialized public key.
func (v *DilithiumVerifier) RegisterPacked(packed []byte) (PublicKey, error) {
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(packed); err != nil {
		return PublicKey{}, fmt.Errorf("unpack dilithium public key: %w", err)
	}
	return v.Register(&pk), nil
}

// Known reports whether a fingerprint is registered.
func (v *DilithiumVerifier) Known(fp PublicKey) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[fp]
	return ok
}

func (v *DilithiumVerifier) Verify(sig *Signature) bool {
	v.mu.RLock()
	pk, ok := v.keys[sig.PublicKey]
	v.mu.RUnlock()
	if !ok || len(sig.Signature) != mode3.SignatureSize {
		return false
	}
	digest := sig.SigningDigest()
	return mode3.Verify(pk, digest[:], sig.Signature)
}

// DilithiumSigner produces envelopes DilithiumVerifier accepts.
type DilithiumSigner struct {
	pk *mode3.PublicKey
	sk *mode3.PrivateKey
	fp PublicKey
}

// NewDilithiumSigner generates a key pair from rand.
func NewDilithiumSigner(rand io.Reader) (*DilithiumSigner, error) {
	pk, sk, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate dilithium key: %w", err)
	}
	return &DilithiumSigner{pk: pk, sk: sk, fp: Fingerprint(pk)}, nil
}

func (s *DilithiumSigner) PublicKey() *mode3.PublicKey { return s.pk }

func (s *DilithiumSigner) Fingerprint() PublicKey { return s.fp }

// Sign builds and signs an envelope for messageHash.
func (s *DilithiumSigner) Sign(messageHash hashing.Digest, timestamp int64, nonce uint64) *Signature {
	sig := &Signature{
		PublicKey:   s.fp,
		MessageHash: messageHash,
		Timestamp:   timestamp,
		Nonce:       nonce,
	}
	digest := sig.SigningDigest()
	sig.Signature = make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.sk, digest[:], sig.Signature)
	return sig
}
