// Package sharing splits a 32-byte secret into committed shares.
//
// This is not Shamir sharing. Each share is a hash of the secret and its index, and
// Reconstruct folds the first threshold shares with a byte-wise weighted XOR. The fold is
// not the inverse of Split: it does not return the original secret in general.
package sharing

import (
	"veil/internal/errdefs"
	"veil/internal/hashing"
)

// Share is one committed share. Index starts at 1.
type Share struct {
	Index      uint8          `json:"share_index"`
	Value      hashing.Digest `json:"share_value"`
	Commitment hashing.Digest `json:"commitment"`
}

// Valid reports whether the commitment matches the value.
func (s Share) Valid() bool {
	return hashing.SumA(s.Value[:]) == s.Commitment
}

// Split produces total shares indexed 1..total.
func Split(secret hashing.Digest, threshold, total uint8) ([]Share, error) {
	if threshold == 0 || total == 0 || threshold > total {
		return nil, errdefs.ErrInvalidShareCount.Withf("threshold %d of %d", threshold, total)
	}
	shares := make([]Share, 0, total)
	for i := 1; i <= int(total); i++ {
		value := hashing.SumA(secret[:], []byte{uint8(i)}, hashing.Tag(hashing.TagThresholdShare))
		shares = append(shares, Share{
			Index:      uint8(i),
			Value:      value,
			Commitment: hashing.SumA(value[:]),
		})
	}
	return shares, nil
}

// Reconstruct checks every supplied share and folds the first threshold of them.
func Reconstruct(shares []Share, threshold uint8) (hashing.Digest, error) {
	var result hashing.Digest
	if threshold == 0 {
		return result, errdefs.ErrInvalidShareCount.Withf("threshold 0")
	}
	if len(shares) < int(threshold) {
		return result, errdefs.ErrInsufficientShares.Withf("have %d, need %d", len(shares), threshold)
	}
	for _, s := range shares {
		if !s.Valid() {
			return result, errdefs.ErrInvalidShareCommitment.Withf("share %d", s.Index)
		}
	}
	for pos, s := range shares[:threshold] {
		weight := uint8(pos + 1)
		for j := range result {
			result[j] ^= s.Value[j] * weight
		}
	}
	return result, nil
}
