// Package ledger is the reference spent-set ledger and commitment tree maintainer.
//
// The protocol packages define the values (key images, nullifier hashes, commitments);
// a Store persists them. Every Spend call is check-then-insert under one lock or one
// transaction and fails with a state error on reuse.
//
// The commitment "tree" is a hash chain: root_n = A(root_{n-1} || cm_n) starting from
// the zero digest. MerkleProof returns every commitment in append order, which folds to
// the current root under mixer.ComputeMerkleRoot.
package ledger

import (
	"veil/internal/hashing"
)

// Store is the spent-set and commitment-log capability.
type Store interface {
	SpendKeyImage(keyImage hashing.Digest) error
	HasKeyImage(keyImage hashing.Digest) (bool, error)

	SpendNullifier(nullifierHash hashing.Digest) error
	HasNullifier(nullifierHash hashing.Digest) (bool, error)

	// AppendCommitment adds cm to the log and returns the new root.
	AppendCommitment(cm hashing.Digest) (hashing.Digest, error)
	// AppendDeposit appends cm and, when noteCommitment is non-nil, records it in the
	// same lock or transaction. Either both land or neither does.
	AppendDeposit(cm hashing.Digest, noteCommitment *hashing.Digest) (hashing.Digest, error)
	Root() (hashing.Digest, error)
	MerkleProof() ([]hashing.Digest, error)
	IsKnownRoot(root hashing.Digest) (bool, error)

	// AddNoteCommitment records a MiMC note commitment for SNARK withdrawals.
	AddNoteCommitment(cm hashing.Digest) error
	HasNoteCommitment(cm hashing.Digest) (bool, error)

	Stats() (Stats, error)
	Close() error
}

// Stats counts the entries in each set.
type Stats struct {
	KeyImages       int `json:"key_images"`
	Nullifiers      int `json:"nullifiers"`
	Commitments     int `json:"commitments"`
	NoteCommitments int `json:"note_commitments"`
}

func nextRoot(prev, cm hashing.Digest) hashing.Digest {
	return hashing.SumA(prev[:], cm[:])
}
