// Package stealth derives one-time receiving addresses and lets a recipient find the
// payments addressed to them.
//
// The key agreement is a hash stand-in for ECDH: the recipient's master public key is
// A(master_private_key) and the shared secret is A(ephemeral_key || master_public_key).
// Anyone who learns a recipient's public key and a payment's ephemeral key can
// recompute the shared secret. This mirrors the protocol shape only.
package stealth

import (
	"veil/internal/hashing"
)

// Address is a one-time receiving address together with everything the recipient needs
// to recognise it.
type Address struct {
	EphemeralKey     hashing.Digest `json:"ephemeral_key"`
	Address          hashing.Digest `json:"address"`
	SharedSecretHash hashing.Digest `json:"shared_secret_hash"`
	ViewTag          byte           `json:"view_tag"`
}

// Announcement is the public part of a payment a sender publishes for scanning.
type Announcement struct {
	EphemeralKey hashing.Digest `json:"ephemeral_key"`
	ViewTag      byte           `json:"view_tag"`
}

// Announcement returns the fields a recipient needs to scan for a.
func (a Address) Announcement() Announcement {
	return Announcement{EphemeralKey: a.EphemeralKey, ViewTag: a.ViewTag}
}

// MasterPublicKey returns the public key matching a master private key.
func MasterPublicKey(masterPrivateKey hashing.Digest) hashing.Digest {
	return hashing.SumA(masterPrivateKey[:])
}

// Generate derives a one-time address for recipientMasterPublicKey. The output is fully
// determined by its two inputs; the nonce is the only source of unlinkability.
func Generate(recipientMasterPublicKey, senderPrivateNonce hashing.Digest) Address {
	ephemeral := hashing.SumA(senderPrivateNonce[:], hashing.Tag(hashing.TagEphemeralKey))
	shared := sharedSecret(ephemeral, recipientMasterPublicKey)
	return Address{
		EphemeralKey:     ephemeral,
		Address:          deriveAddress(recipientMasterPublicKey, shared),
		SharedSecretHash: shared,
		ViewTag:          shared[0],
	}
}

// ScanForPayments checks whether the payment announced by (ephemeralKey, viewTag)
// belongs to the owner of masterPrivateKey. It returns the stealth address and true on a
// match. It derives the master public key on every call; use a Scanner to scan many
// announcements with one key.
func ScanForPayments(masterPrivateKey, ephemeralKey hashing.Digest, viewTag byte) (hashing.Digest, bool) {
	return NewScanner(masterPrivateKey).Scan(ephemeralKey, viewTag)
}

// Scanner checks announcements against one master key. A view tag mismatch is rejected
// after a single hash, before the address is derived; about 255 of every 256 foreign
// payments stop there.
type Scanner struct {
	masterPub hashing.Digest
}

// NewScanner precomputes the master public key for masterPrivateKey.
func NewScanner(masterPrivateKey hashing.Digest) Scanner {
	return Scanner{masterPub: MasterPublicKey(masterPrivateKey)}
}

// MasterPublicKey returns the public key the scanner matches against.
func (s Scanner) MasterPublicKey() hashing.Digest { return s.masterPub }

// Scan returns the stealth address and true when (ephemeralKey, viewTag) is addressed to
// the scanner's key.
func (s Scanner) Scan(ephemeralKey hashing.Digest, viewTag byte) (hashing.Digest, bool) {
	shared := sharedSecret(ephemeralKey, s.masterPub)
	if shared[0] != viewTag {
		return hashing.Zero, false
	}
	return deriveAddress(s.masterPub, shared), true
}

// Match is an announcement found to belong to the scanning key.
type Match struct {
	Index   int            `json:"index"`
	Address hashing.Digest `json:"address"`
}

// ScanAnnouncements scans a batch with one Scanner and returns the matches in order.
func ScanAnnouncements(masterPrivateKey hashing.Digest, anns []Announcement) []Match {
	var matches []Match
	scanner := NewScanner(masterPrivateKey)
	for i, ann := range anns {
		if addr, ok := scanner.Scan(ann.EphemeralKey, ann.ViewTag); ok {
			matches = append(matches, Match{Index: i, Address: addr})
		}
	}
	return matches
}

func sharedSecret(ephemeral, masterPub hashing.Digest) hashing.Digest {
	return hashing.SumA(ephemeral[:], masterPub[:])
}

func deriveAddress(masterPub, shared hashing.Digest) hashing.Digest {
	return hashing.SumA(masterPub[:], shared[:], hashing.Tag(hashing.TagStealthAddress))
}
