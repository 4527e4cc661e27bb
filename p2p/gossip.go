package p2p

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"veil/internal/confidential"
	"veil/internal/hashing"
	"veil/internal/stealth"
)

// ReceivedPayment is an announcement that matched this node's scanning key.
type ReceivedPayment struct {
	StealthAddress hashing.Digest `json:"stealth_address"`
	EphemeralKey   hashing.Digest `json:"ephemeral_key"`
	Amount         uint64         `json:"amount,omitempty"`
	AmountKnown    bool           `json:"amount_known"`
}

// announcementID identifies an announcement for dedupe. A reused sender nonce gives the
// same ephemeral key for different recipients, so the address is part of the key.
type announcementID struct {
	ephemeral hashing.Digest
	address   hashing.Digest
}

type gossip struct {
	mu   sync.Mutex
	seen map[announcementID]struct{}

	scanner    *stealth.Scanner
	received   []ReceivedPayment
	onReceived func(ReceivedPayment)
}

func newGossip() *gossip {
	return &gossip{seen: make(map[announcementID]struct{})}
}

// markSeen returns false if the announcement was already relayed.
func (g *gossip) markSeen(ann PaymentAnnouncement) bool {
	id := announcementID{ephemeral: ann.EphemeralKey, address: ann.StealthAddress}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = struct{}{}
	return true
}

// SetScanKey makes the node scan every announcement it relays with masterPrivateKey.
// onReceived, if non-nil, is called for each match.
func (n *Node) SetScanKey(masterPrivateKey hashing.Digest, onReceived func(ReceivedPayment)) {
	scanner := stealth.NewScanner(masterPrivateKey)
	g := n.gossip
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scanner = &scanner
	g.onReceived = onReceived
}

// Received returns the payments found so far.
func (n *Node) Received() []ReceivedPayment {
	g := n.gossip
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ReceivedPayment(nil), g.received...)
}

// Announce publishes ann to every peer and returns the number reached. The node treats
// its own announcement as seen and scans it like any other.
func (n *Node) Announce(ann PaymentAnnouncement) int {
	n.gossip.markSeen(ann)
	n.scan(ann)
	return n.Broadcast(TypeAnnouncement, ann)
}

// AnnouncePayment publishes the announcement for addr in the background. The send is
// tracked by the node's wait group so shutdown waits for it.
func (n *Node) AnnouncePayment(addr stealth.Address, encryptedAmount []byte) {
	ann := NewPaymentAnnouncement(addr, encryptedAmount)
	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		reached := n.Announce(ann)
		n.log.Debug("payment announced", zap.Stringer("stealth_address", ann.StealthAddress), zap.Int("peers", reached))
	}()
}

// RunHealthChecks pings every peer each interval until ctx is done.
func (n *Node) RunHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	n.HealthCheck()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.HealthCheck()
		}
	}
}

func handleAnnouncement(n *Node, msg Message) {
	var ann PaymentAnnouncement
	if err := json.Unmarshal(msg.Payload, &ann); err != nil {
		n.log.Warn("bad announcement", zap.String("from", msg.SenderID), zap.Error(err))
		return
	}
	if !n.gossip.markSeen(ann) {
		return
	}
	n.scan(ann)
	n.Broadcast(TypeAnnouncement, ann, msg.SenderID)
}

func (n *Node) scan(ann PaymentAnnouncement) {
	g := n.gossip
	g.mu.Lock()
	if g.scanner == nil {
		g.mu.Unlock()
		return
	}
	addr, ok := g.scanner.Scan(ann.EphemeralKey, ann.ViewTag)
	if !ok || addr != ann.StealthAddress {
		g.mu.Unlock()
		return
	}
	p := ReceivedPayment{StealthAddress: addr, EphemeralKey: ann.EphemeralKey}
	if len(ann.EncryptedAmount) > 0 {
		p.Amount, p.AmountKnown = confidential.DecryptAmount(ann.EncryptedAmount, g.scanner.MasterPublicKey())
	}
	g.received = append(g.received, p)
	cb := g.onReceived
	g.mu.Unlock()

	n.log.Info("payment found", zap.Stringer("stealth_address", addr))
	if cb != nil {
		cb(p)
	}
}
