// Package ring builds and checks ring signatures and their key images.
//
// The construction is structural: every ring position gets a 32-byte component hashed
// from the message, the member key, the key image and the position, plus the signer's
// private key at the real position or a fixed decoy marker elsewhere. Verification
// checks the ring's shape, not a proof of knowledge. Callers needing real linkable ring
// signatures must swap this package out.
package ring

import (
	"veil/internal/errdefs"
	"veil/internal/hashing"
)

// MinRingSize is the smallest accepted anonymity set.
const MinRingSize = 11

// MaxRingSize is bounded by the one-byte ring size field.
const MaxRingSize = 255

// Signature is a ring signature over a message.
type Signature struct {
	RingMembers         []hashing.Digest `json:"ring_members"`
	KeyImage            hashing.Digest   `json:"key_image"`
	SignatureComponents [][]byte         `json:"signature_components"`
	RingSize            uint8            `json:"ring_size"`
}

// PublicKey returns the ring member key of a private key.
func PublicKey(privateKey hashing.Digest) hashing.Digest {
	return hashing.SumA(privateKey[:])
}

// KeyImage returns the linkability tag of a private key. It depends on nothing else, so
// two signatures by the same key share it.
func KeyImage(privateKey hashing.Digest) hashing.Digest {
	return hashing.SumB(privateKey[:], hashing.Tag(hashing.TagKeyImage))
}

// RealPosition is where Sign places the signer's key in a ring of the given size.
//
// The position is fixed at the middle of the ring. An observer who knows this can pick
// out the signer, so true anonymity requires a randomized position.
func RealPosition(ringSize int) int {
	return ringSize / 2
}

// Sign builds a ring of decoyPublicKeys plus the signer's public key and signs message.
func Sign(message []byte, realPrivateKey hashing.Digest, decoyPublicKeys []hashing.Digest) (*Signature, error) {
	ringSize := len(decoyPublicKeys) + 1
	if ringSize < MinRingSize {
		return nil, errdefs.ErrRingTooSmall.Withf("ring of %d", ringSize)
	}
	if ringSize > MaxRingSize {
		return nil, errdefs.ErrInvalidRingSize.Withf("ring of %d exceeds %d", ringSize, MaxRingSize)
	}

	keyImage := KeyImage(realPrivateKey)
	realPos := RealPosition(ringSize)

	members := make([]hashing.Digest, 0, ringSize)
	members = append(members, decoyPublicKeys[:realPos]...)
	members = append(members, PublicKey(realPrivateKey))
	members = append(members, decoyPublicKeys[realPos:]...)

	components := make([][]byte, ringSize)
	for i := 0; i < ringSize; i++ {
		var secret []byte
		if i == realPos {
			secret = realPrivateKey[:]
		} else {
			secret = hashing.Tag(hashing.TagDecoy)
		}
		c := hashing.SumA(message, members[i][:], keyImage[:], []byte{byte(i)}, secret)
		components[i] = c[:]
	}

	return &Signature{
		RingMembers:         members,
		KeyImage:            keyImage,
		SignatureComponents: components,
		RingSize:            uint8(ringSize),
	}, nil
}

// Verify checks the ring's structure. A malformed ring is an error; a well-formed ring
// with a component of the wrong length verifies false. The message is accepted for
// interface stability and is not bound by this check.
func (s *Signature) Verify(message []byte) (bool, error) {
	_ = message
	if int(s.RingSize) < MinRingSize {
		return false, errdefs.ErrRingTooSmall.Withf("ring of %d", s.RingSize)
	}
	if len(s.RingMembers) != int(s.RingSize) || len(s.SignatureComponents) != int(s.RingSize) {
		return false, errdefs.ErrInvalidRingSize.Withf("ring size %d, %d members, %d components",
			s.RingSize, len(s.RingMembers), len(s.SignatureComponents))
	}
	for _, c := range s.SignatureComponents {
		if len(c) != hashing.Size {
			return false, nil
		}
	}
	return true, nil
}

// IsKeyImageSpent reports whether the signature's key image is in spentImages.
func (s *Signature) IsKeyImageSpent(spentImages []hashing.Digest) bool {
	for _, img := range spentImages {
		if img == s.KeyImage {
			return true
		}
	}
	return false
}
