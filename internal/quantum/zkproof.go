// zkproof.go - Fiat-Shamir shaped proof stub.
//
// The response is a hash of the secret, so nothing here is zero-knowledge or sound. A
// proof verifies when its challenge is A(commitment || public_input) and a response is
// present.

package quantum

import (
	"fmt"

	"veil/internal/hashing"
)

// ProofType names what a proof claims.
type ProofType uint8

const (
	ProofSecurityScore ProofType = iota
	ProofVulnerabilityCheck
	ProofAuditVerification
)

var proofTypeNames = map[ProofType]string{
	ProofSecurityScore:      "security_score",
	ProofVulnerabilityCheck: "vulnerability_check",
	ProofAuditVerification:  "audit_verification",
}

func (p ProofType) String() string {
	if s, ok := proofTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("proof_type(%d)", uint8(p))
}

func (p ProofType) MarshalText() ([]byte, error) {
	if _, ok := proofTypeNames[p]; !ok {
		return nil, fmt.Errorf("unknown proof type %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *ProofType) UnmarshalText(text []byte) error {
	for k, v := range proofTypeNames {
		if v == string(text) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown proof type %q", text)
}

// ZeroKnowledgeProof is a commitment/challenge/response triple.
type ZeroKnowledgeProof struct {
	Commitment hashing.Digest `json:"commitment"`
	Challenge  hashing.Digest `json:"challenge"`
	Response   []byte         `json:"response"`
	ProofType  ProofType      `json:"proof_type"`
}

// GenerateProof derives commitment = A(secret || "ZK_COMMITMENT"),
// challenge = A(commitment || publicInput) and response = A(secret || challenge).
func GenerateProof(secret, publicInput []byte, proofType ProofType) *ZeroKnowledgeProof {
	commitment := hashing.SumA(secret, hashing.Tag(hashing.TagZKCommitment))
	challenge := hashing.SumA(commitment[:], publicInput)
	response := hashing.SumA(secret, challenge[:])
	return &ZeroKnowledgeProof{
		Commitment: commitment,
		Challenge:  challenge,
		Response:   response.Bytes(),
		ProofType:  proofType,
	}
}

// Verify recomputes the challenge from the commitment and publicInput.
func (p *ZeroKnowledgeProof) Verify(publicInput []byte) bool {
	if len(p.Response) == 0 {
		return false
	}
	return hashing.SumA(p.Commitment[:], publicInput) == p.Challenge
}
