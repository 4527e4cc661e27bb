// mixer.go - Commitment/nullifier mixer records.
//
// A deposit publishes a commitment to (amount, secret, nullifier). A withdrawal reveals
// only the nullifier hash and a Merkle path, and never the commitment being spent. The
// mixer itself keeps no state: the caller owns the spent-nullifier set and the
// commitment tree, and must consume each nullifier hash at most once.

package mixer

import (
	"veil/internal/errdefs"
	"veil/internal/hashing"
)

// Record is the public output of a deposit or a withdrawal.
type Record struct {
	Commitment    hashing.Digest `json:"commitment"`
	NullifierHash hashing.Digest `json:"nullifier_hash"`
	MerkleRoot    hashing.Digest `json:"merkle_root"`
	Proof         []byte         `json:"proof"`
}

// SpentChecker is the spent-nullifier capability the caller supplies.
type SpentChecker interface {
	HasNullifier(nullifierHash hashing.Digest) (bool, error)
}

// Commitment returns A(amount LE || secret || nullifier).
func Commitment(amount uint64, secret, nullifier hashing.Digest) hashing.Digest {
	return hashing.SumA(hashing.U64LE(amount), secret[:], nullifier[:])
}

// NullifierHash returns B(nullifier || "NULLIFIER"). It depends on the nullifier alone,
// so it reveals nothing about the amount or the secret.
func NullifierHash(nullifier hashing.Digest) hashing.Digest {
	return hashing.SumB(nullifier[:], hashing.Tag(hashing.TagNullifier))
}

// Deposit creates the record published when funds enter the mixer. The Merkle root is
// left zero; the commitment tree is maintained outside this package.
func Deposit(amount uint64, secret, nullifier hashing.Digest) *Record {
	cm := Commitment(amount, secret, nullifier)
	nh := NullifierHash(nullifier)
	proof := hashing.SumA(cm[:], nh[:], hashing.Tag(hashing.TagDepositProof))
	return &Record{
		Commitment:    cm,
		NullifierHash: nh,
		MerkleRoot:    hashing.Zero,
		Proof:         proof.Bytes(),
	}
}

// Withdraw creates the record published when funds leave the mixer to recipient.
// merkleProof is folded in the order given, which must be the order the tree maintainer
// used. The commitment field is always zero.
func Withdraw(secret, nullifier, recipient hashing.Digest, merkleProof []hashing.Digest) *Record {
	nh := NullifierHash(nullifier)
	proof := hashing.SumA(secret[:], nh[:], recipient[:], hashing.Tag(hashing.TagWithdrawalProof))
	return &Record{
		Commitment:    hashing.Zero,
		NullifierHash: nh,
		MerkleRoot:    ComputeMerkleRoot(merkleProof),
		Proof:         proof.Bytes(),
	}
}

// ComputeMerkleRoot folds siblings from a zero root: root = A(root || sibling).
func ComputeMerkleRoot(siblings []hashing.Digest) hashing.Digest {
	current := hashing.Zero
	for _, sibling := range siblings {
		current = hashing.SumA(current[:], sibling[:])
	}
	return current
}

// CheckWithdrawal enforces the double-withdrawal contract against the caller's spent set.
// It must run before the nullifier hash is recorded as spent.
func CheckWithdrawal(rec *Record, spent SpentChecker) error {
	used, err := spent.HasNullifier(rec.NullifierHash)
	if err != nil {
		return err
	}
	if used {
		return errdefs.ErrNullifierSpent.Withf("%s", rec.NullifierHash)
	}
	return nil
}
