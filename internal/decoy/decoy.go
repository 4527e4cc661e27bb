// Package decoy builds multi-hop payment routes hidden among decoy routes.
//
// Every hop address except the real final recipient is derived deterministically from a
// small seed, so an observer who knows the derivation can tell decoy hops apart. The real
// route also sits at a fixed index. Both are known traceability weaknesses.
package decoy

import (
	"veil/internal/errdefs"
	"veil/internal/hashing"
)

// MinDecoys is the smallest number of decoy routes accepted.
const MinDecoys = 10

// Path is one route of hops with per-hop payloads and delays.
type Path struct {
	Hops             []hashing.Digest `json:"hops"`
	EncryptedAmounts [][]byte         `json:"encrypted_amounts"`
	TimingDelays     []int64          `json:"timing_delays"`
}

// Network is the full set of routes for one payment.
type Network struct {
	RealPathIndex uint8  `json:"real_path_index"`
	Paths         []Path `json:"paths"`
	MixingRounds  uint8  `json:"mixing_rounds"`
}

// RandomAddress returns A(seed || "RANDOM_PUBKEY").
func RandomAddress(seed uint8) hashing.Digest {
	return hashing.SumA([]byte{seed}, hashing.Tag(hashing.TagRandomPubkey))
}

// Create builds numDecoys+1 routes of mixingRounds hops each. The real route is at index
// numDecoys/2 and ends at realRecipient; decoy route i ends at RandomAddress(i).
func Create(realRecipient hashing.Digest, amount uint64, numDecoys, mixingRounds uint8) (*Network, error) {
	if numDecoys < MinDecoys {
		return nil, errdefs.ErrInsufficientDecoys.Withf("got %d", numDecoys)
	}
	if mixingRounds == 0 {
		return nil, errdefs.ErrInvalidMixingRounds
	}

	realIndex := numDecoys / 2
	paths := make([]Path, 0, int(numDecoys)+1)
	for i := 0; i <= int(numDecoys); i++ {
		final := realRecipient
		if i != int(realIndex) {
			final = RandomAddress(uint8(i))
		}
		paths = append(paths, buildPath(final, amount, mixingRounds))
	}
	return &Network{RealPathIndex: realIndex, Paths: paths, MixingRounds: mixingRounds}, nil
}

func buildPath(final hashing.Digest, amount uint64, rounds uint8) Path {
	p := Path{
		Hops:             make([]hashing.Digest, 0, rounds),
		EncryptedAmounts: make([][]byte, 0, rounds),
		TimingDelays:     make([]int64, 0, rounds),
	}
	for i := uint8(0); i < rounds; i++ {
		hop := final
		if i != rounds-1 {
			hop = RandomAddress(i)
		}
		enc := hashing.SumA(hashing.U64LE(amount), []byte{i})
		p.Hops = append(p.Hops, hop)
		p.EncryptedAmounts = append(p.EncryptedAmounts, enc.Bytes())
		p.TimingDelays = append(p.TimingDelays, (int64(i)+1)*2)
	}
	return p
}

// RealPath returns the route that reaches the real recipient.
func (n *Network) RealPath() Path {
	return n.Paths[n.RealPathIndex]
}

// TotalDelay sums the synthetic delays along one route.
func (p Path) TotalDelay() int64 {
	var total int64
	for _, d := range p.TimingDelays {
		total += d
	}
	return total
}
