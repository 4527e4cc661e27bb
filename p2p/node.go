package p2p

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handler processes one received message.
type Handler func(n *Node, msg Message)

// Node is a peer in the announcement network.
type Node struct {
	ID      string
	Address string

	peersMu sync.RWMutex
	Peers   map[string]string // node ID -> host:port

	server    *http.Server
	waitGroup *sync.WaitGroup
	client    *http.Client
	log       *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	healthMutex sync.Mutex
	health      map[string]bool

	gossip *gossip
}

// NewNode creates a node. wg tracks the server goroutine; log may be nil.
func NewNode(id, address string, peers map[string]string, wg *sync.WaitGroup, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	if peers == nil {
		peers = make(map[string]string)
	}
	n := &Node{
		ID:        id,
		Address:   address,
		Peers:     peers,
		waitGroup: wg,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log.With(zap.String("node", id)),
		handlers:  make(map[string]Handler),
		health:    make(map[string]bool),
	}
	n.gossip = newGossip()
	n.RegisterHandler(TypePing, handlePing)
	n.RegisterHandler(TypePong, handlePong)
	n.RegisterHandler(TypeAnnouncement, handleAnnouncement)
	return n
}

// RegisterHandler sets the handler for a message type, replacing any previous one.
func (n *Node) RegisterHandler(messageType string, h Handler) {
	n.handlersMu.Lock()
	n.handlers[messageType] = h
	n.handlersMu.Unlock()
}

// AddPeer adds or updates a peer address.
func (n *Node) AddPeer(id, address string) {
	n.peersMu.Lock()
	n.Peers[id] = address
	n.peersMu.Unlock()
}

// PeerCount returns the number of known peers.
func (n *Node) PeerCount() int {
	return len(n.peerIDs())
}

func (n *Node) peerIDs() []string {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	ids := make([]string, 0, len(n.Peers))
	for id := range n.Peers {
		if id != n.ID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		n.log.Warn("bad request", zap.Error(err))
		return
	}
	n.log.Debug("message received", zap.String("type", msg.Type), zap.String("from", msg.SenderID))

	n.handlersMu.RLock()
	h, ok := n.handlers[msg.Type]
	n.handlersMu.RUnlock()
	if !ok {
		n.log.Warn("unknown message type", zap.String("type", msg.Type))
		http.Error(w, "unknown message type", http.StatusBadRequest)
		return
	}
	// Handlers may send messages of their own; run them off the request goroutine.
	go h(n, msg)
	w.WriteHeader(http.StatusOK)
}

// StartServer listens on n.Address and serves in a new goroutine. When the configured
// port is 0, n.Address is updated to the bound address.
func (n *Node) StartServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return errors.Wrapf(err, "node %s: listen", n.ID)
	}
	n.Address = listener.Addr().String()
	n.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.log.Info("server starting", zap.String("addr", n.Address))
		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("server failed", zap.Error(err))
			return
		}
		n.log.Info("server stopped")
	}()
	return nil
}

// Close stops the server.
func (n *Node) Close() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// SendMessage sends payload, encoded as JSON, to a known peer.
func (n *Node) SendMessage(targetID, messageType string, payload any) error {
	n.peersMu.RLock()
	targetAddress, ok := n.Peers[targetID]
	n.peersMu.RUnlock()
	if !ok {
		return errors.Errorf("peer '%s' not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}
	messageBytes, err := json.Marshal(Message{Type: messageType, Payload: payloadBytes, SenderID: n.ID})
	if err != nil {
		return errors.Wrap(err, "failed to marshal message envelope")
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+targetAddress+"/message", bytes.NewReader(messageBytes))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to send message to %s", targetID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("peer %s returned non-OK status: %s", targetID, resp.Status)
	}
	return nil
}

// Broadcast sends payload to every peer except those in skip. Failures are logged and
// returned as the number of peers reached.
func (n *Node) Broadcast(messageType string, payload any, skip ...string) int {
	excluded := make(map[string]bool, len(skip))
	for _, id := range skip {
		excluded[id] = true
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reached int
	)
	for _, id := range n.peerIDs() {
		if excluded[id] {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := n.SendMessage(id, messageType, payload); err != nil {
				n.log.Warn("broadcast failed", zap.String("peer", id), zap.Error(err))
				return
			}
			mu.Lock()
			reached++
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return reached
}

// HealthCheck pings every peer. Peers answer with a pong that marks them healthy.
func (n *Node) HealthCheck() {
	n.healthMutex.Lock()
	for _, id := range n.peerIDs() {
		n.health[id] = false
	}
	n.healthMutex.Unlock()
	n.Broadcast(TypePing, PingPayload{SenderID: n.ID})
}

// HealthyPeers returns how many peers answered the last ping.
func (n *Node) HealthyPeers() int {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	count := 0
	for _, ok := range n.health {
		if ok {
			count++
		}
	}
	return count
}

// Healthy reports whether peer answered the last ping.
func (n *Node) Healthy(peer string) bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	return n.health[peer]
}

func handlePing(n *Node, msg Message) {
	if err := n.SendMessage(msg.SenderID, TypePong, PingPayload{SenderID: n.ID}); err != nil {
		n.log.Warn("pong failed", zap.String("peer", msg.SenderID), zap.Error(err))
	}
}

func handlePong(n *Node, msg Message) {
	n.healthMutex.Lock()
	n.health[msg.SenderID] = true
	n.healthMutex.Unlock()
}
