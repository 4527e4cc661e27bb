// Package mixer implements deposit and withdrawal records for a commitment/nullifier
// mixer, plus an optional Groth16 proof that a withdrawal is authorized by the holder of
// a deposit's secret and nullifier.
//
// The hash-based records (Deposit, Withdraw) are structural stand-ins: their proof
// fields are digests, not zero-knowledge proofs. The SNARK in snark.go is an additional
// layer over MiMC note hashes and does not replace them.
package mixer
