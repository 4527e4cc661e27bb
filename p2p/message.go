package p2p

import (
	"encoding/json"

	"veil/internal/hashing"
	"veil/internal/stealth"
)

// Message is the envelope for everything sent between nodes.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Message types.
const (
	TypeAnnouncement = "payment_announcement"
	TypePing         = "ping"
	TypePong         = "pong"
)

// PaymentAnnouncement is what a sender publishes so the recipient can find a payment.
// EncryptedAmount is the confidential transaction's amount ciphertext, if any.
type PaymentAnnouncement struct {
	EphemeralKey    hashing.Digest `json:"ephemeral_key"`
	ViewTag         byte           `json:"view_tag"`
	StealthAddress  hashing.Digest `json:"stealth_address"`
	EncryptedAmount []byte         `json:"encrypted_amount,omitempty"`
}

// NewPaymentAnnouncement builds the announcement for a stealth address.
func NewPaymentAnnouncement(addr stealth.Address, encryptedAmount []byte) PaymentAnnouncement {
	return PaymentAnnouncement{
		EphemeralKey:    addr.EphemeralKey,
		ViewTag:         addr.ViewTag,
		StealthAddress:  addr.Address,
		EncryptedAmount: encryptedAmount,
	}
}

// PingPayload is used for ping and pong.
type PingPayload struct {
	SenderID string `json:"sender_id"`
}
