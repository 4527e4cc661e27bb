// network.go - Announcement gossip seen from the service.

package service

import (
	"fmt"

	"veil/internal/errdefs"
	"veil/internal/stealth"
	"veil/p2p"
)

// PaymentNetwork publishes payment announcements and reports what this daemon's scan
// key has found. *p2p.Node implements it.
type PaymentNetwork interface {
	AnnouncePayment(addr stealth.Address, encryptedAmount []byte)
	Received() []p2p.ReceivedPayment
	PeerCount() int
	HealthyPeers() int
}

var _ PaymentNetwork = (*p2p.Node)(nil)

func (s *Service) announce(addr stealth.Address, encryptedAmount []byte) {
	if s.network == nil {
		return
	}
	s.network.AnnouncePayment(addr, encryptedAmount)
}

// ReceivedPayments lists the gossiped payments that matched the daemon's scan key.
func (s *Service) ReceivedPayments() ([]p2p.ReceivedPayment, error) {
	if s.network == nil {
		return nil, errdefs.ErrInvalidInput.Withf("p2p is disabled")
	}
	return s.network.Received(), nil
}

func checkNetwork(n PaymentNetwork) error {
	peers := n.PeerCount()
	if peers == 0 {
		return ErrDegraded("no peers configured")
	}
	if healthy := n.HealthyPeers(); healthy == 0 {
		return ErrDegraded(fmt.Sprintf("0 of %d peers answered the last ping", peers))
	}
	return nil
}
