// Package confidential builds amount-hidden transactions.
//
// The encryption is a keyed XOR stream derived from the recipient's public key, the range
// proof is a hash of the opening, and the commitment is a hash, not a Pedersen point.
// None of them are additively homomorphic.
package confidential

import (
	"veil/internal/hashing"
	"veil/internal/stealth"
)

// AmountSize is the width of an encoded amount.
const AmountSize = 8

// Transaction is an amount-hidden payment.
type Transaction struct {
	EncryptedAmount  []byte         `json:"encrypted_amount"`
	RangeProof       []byte         `json:"range_proof"`
	StealthRecipient hashing.Digest `json:"stealth_recipient"`
	Commitment       hashing.Digest `json:"commitment"`
}

func keystream(recipientPublicKey hashing.Digest) hashing.Digest {
	return hashing.SumA(recipientPublicKey[:], hashing.Tag(hashing.TagEncryptionKey))
}

func xorStream(data []byte, key hashing.Digest) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%hashing.Size]
	}
	return out
}

// EncryptAmount XORs the little-endian amount with the recipient's keystream.
func EncryptAmount(amount uint64, recipientPublicKey hashing.Digest) []byte {
	return xorStream(hashing.U64LE(amount), keystream(recipientPublicKey))
}

// DecryptAmount inverts EncryptAmount. Anyone holding the recipient's public key can do this.
func DecryptAmount(encrypted []byte, recipientPublicKey hashing.Digest) (uint64, bool) {
	if len(encrypted) != AmountSize {
		return 0, false
	}
	plain := xorStream(encrypted, keystream(recipientPublicKey))
	var amount uint64
	for i := AmountSize - 1; i >= 0; i-- {
		amount = amount<<8 | uint64(plain[i])
	}
	return amount, true
}

// RangeProof returns A(amount LE || blinding || "RANGE_PROOF"). It proves possession of the
// opening only; it says nothing about the range of amount.
func RangeProof(amount uint64, blindingFactor hashing.Digest) []byte {
	p := hashing.SumA(hashing.U64LE(amount), blindingFactor[:], hashing.Tag(hashing.TagRangeProof))
	return p.Bytes()
}

// Commit returns A(amount LE || blinding || "PEDERSEN_COMMITMENT").
func Commit(amount uint64, blindingFactor hashing.Digest) hashing.Digest {
	return hashing.SumA(hashing.U64LE(amount), blindingFactor[:], hashing.Tag(hashing.TagPedersen))
}

// Create builds a confidential transaction. The blinding factor doubles as the stealth
// nonce, so reusing it links the two.
func Create(amount uint64, recipientPublicKey, blindingFactor hashing.Digest) *Transaction {
	return &Transaction{
		EncryptedAmount:  EncryptAmount(amount, recipientPublicKey),
		RangeProof:       RangeProof(amount, blindingFactor),
		StealthRecipient: stealth.Generate(recipientPublicKey, blindingFactor).Address,
		Commitment:       Commit(amount, blindingFactor),
	}
}

// Verify checks that the range proof is present and the commitment is non-zero.
func (tx *Transaction) Verify() bool {
	return len(tx.RangeProof) > 0 && !tx.Commitment.IsZero()
}

// Opens reports whether (amount, blindingFactor) opens the transaction's commitment.
func (tx *Transaction) Opens(amount uint64, blindingFactor hashing.Digest) bool {
	return Commit(amount, blindingFactor) == tx.Commitment
}
