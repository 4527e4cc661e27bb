// Package hashing holds the two fixed digests used for every domain-separated
// derivation in veil.
//
// Digest A is SHA3-256 and digest B is Keccak-256 (the pre-standard padding used by
// Ethereum). Each derivation concatenates its inputs followed by an ASCII domain tag,
// so the same input hashed for two purposes never produces the same value.
//
// WARNING: the protocols built on these digests are hash-based stand-ins for ECDH,
// ring signatures, range proofs and lattice signatures. They preserve the shape of
// those protocols, not their security.
package hashing
