package p2p

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veil/internal/confidential"
	"veil/internal/hashing"
	"veil/internal/stealth"
)

// SimpleTextMessage is a free-form payload for exercising the transport.
type SimpleTextMessage struct {
	Content string `json:"content"`
}

// setupTestNetwork starts a fully connected network on ephemeral ports.
func setupTestNetwork(t *testing.T, nodeIDs []string) map[string]*Node {
	t.Helper()
	var wg sync.WaitGroup
	log := zap.NewNop()
	nodes := make(map[string]*Node)
	for _, id := range nodeIDs {
		n := NewNode(id, "127.0.0.1:0", nil, &wg, log)
		require.NoError(t, n.StartServer())
		nodes[id] = n
	}
	for _, n := range nodes {
		for id, peer := range nodes {
			if id != n.ID {
				n.AddPeer(id, peer.Address)
			}
		}
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			_ = n.Close()
		}
		wg.Wait()
	})
	return nodes
}

func randomDigest(t *testing.T) hashing.Digest {
	t.Helper()
	var d hashing.Digest
	_, err := rand.Read(d[:])
	require.NoError(t, err)
	return d
}

func TestSimpleTextMessage(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"})
	done := make(chan string, 1)
	var once sync.Once
	nodes["B"].RegisterHandler("test_text", func(n *Node, msg Message) {
		once.Do(func() { done <- msg.SenderID })
	})
	require.NoError(t, nodes["A"].SendMessage("B", "test_text", SimpleTextMessage{Content: "hello"}))
	select {
	case from := <-done:
		assert.Equal(t, "A", from)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A"})
	err := nodes["A"].SendMessage("Z", "test_text", SimpleTextMessage{})
	assert.ErrorContains(t, err, "not found")
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"})
	err := nodes["A"].SendMessage("B", "no_such_type", SimpleTextMessage{})
	assert.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B", "C"})
	var mu sync.Mutex
	received := make(map[string]bool)
	for _, id := range []string{"B", "C"} {
		nodes[id].RegisterHandler("broadcast", func(n *Node, msg Message) {
			mu.Lock()
			received[n.ID] = true
			mu.Unlock()
		})
	}
	assert.Equal(t, 2, nodes["A"].Broadcast("broadcast", SimpleTextMessage{Content: "hi all"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received["B"] && received["C"]
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B", "C"})
	assert.Equal(t, 0, nodes["A"].HealthyPeers())
	nodes["A"].HealthCheck()
	assert.Eventually(t, func() bool {
		return nodes["A"].Healthy("B") && nodes["A"].Healthy("C")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, nodes["A"].HealthyPeers())
}

func TestRunHealthChecksMarksDeadPeer(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"})
	nodes["A"].AddPeer("gone", "127.0.0.1:1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		nodes["A"].RunHealthChecks(ctx, time.Hour)
		close(done)
	}()
	assert.Eventually(t, func() bool { return nodes["A"].Healthy("B") }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, nodes["A"].Healthy("gone"))
	assert.Equal(t, 1, nodes["A"].HealthyPeers())
	cancel()
	<-done
}

func TestAnnouncementReachesRecipientThroughRelay(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"sender", "relay", "recipient"})
	// Force a line topology: sender -> relay -> recipient.
	delete(nodes["sender"].Peers, "recipient")
	delete(nodes["recipient"].Peers, "sender")

	masterPriv := randomDigest(t)
	masterPub := stealth.MasterPublicKey(masterPriv)
	nonce := randomDigest(t)

	found := make(chan ReceivedPayment, 1)
	nodes["recipient"].SetScanKey(masterPriv, func(p ReceivedPayment) { found <- p })

	otherPriv := randomDigest(t)
	nodes["relay"].SetScanKey(otherPriv, nil)

	tx := confidential.Create(4200, masterPub, nonce)
	addr := stealth.Generate(masterPub, nonce)
	require.Equal(t, tx.StealthRecipient, addr.Address)

	nodes["sender"].Announce(NewPaymentAnnouncement(addr, tx.EncryptedAmount))

	select {
	case p := <-found:
		assert.Equal(t, addr.Address, p.StealthAddress)
		assert.True(t, p.AmountKnown)
		assert.Equal(t, uint64(4200), p.Amount)
	case <-time.After(3 * time.Second):
		t.Fatal("recipient never found its payment")
	}
	assert.Empty(t, nodes["relay"].Received())
	assert.Len(t, nodes["recipient"].Received(), 1)
}

func TestAnnouncementRelayedOnce(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B", "C"})
	masterPriv := randomDigest(t)
	nonce := randomDigest(t)
	addr := stealth.Generate(stealth.MasterPublicKey(masterPriv), nonce)

	var mu sync.Mutex
	count := 0
	nodes["C"].SetScanKey(masterPriv, func(ReceivedPayment) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	nodes["A"].Announce(NewPaymentAnnouncement(addr, nil))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
	p := nodes["C"].Received()[0]
	assert.False(t, p.AmountKnown)
}

func TestReusedNonceStillReachesSecondRecipient(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"})
	first, second := randomDigest(t), randomDigest(t)
	nonce := randomDigest(t)
	toFirst := stealth.Generate(stealth.MasterPublicKey(first), nonce)
	toSecond := stealth.Generate(stealth.MasterPublicKey(second), nonce)
	require.Equal(t, toFirst.EphemeralKey, toSecond.EphemeralKey)

	found := make(chan ReceivedPayment, 1)
	nodes["B"].SetScanKey(second, func(p ReceivedPayment) { found <- p })

	nodes["A"].Announce(NewPaymentAnnouncement(toFirst, nil))
	nodes["A"].Announce(NewPaymentAnnouncement(toSecond, nil))

	select {
	case p := <-found:
		assert.Equal(t, toSecond.Address, p.StealthAddress)
	case <-time.After(3 * time.Second):
		t.Fatal("second announcement was dropped")
	}
}

func TestAnnouncePaymentScansLocally(t *testing.T) {
	nodes := setupTestNetwork(t, []string{"A", "B"})
	priv := randomDigest(t)
	pub := stealth.MasterPublicKey(priv)
	nodes["A"].SetScanKey(priv, nil)

	nonce := randomDigest(t)
	tx := confidential.Create(77, pub, nonce)
	nodes["A"].AnnouncePayment(stealth.Generate(pub, nonce), tx.EncryptedAmount)

	assert.Eventually(t, func() bool { return len(nodes["A"].Received()) == 1 }, 2*time.Second, 20*time.Millisecond)
	p := nodes["A"].Received()[0]
	assert.Equal(t, tx.StealthRecipient, p.StealthAddress)
	assert.Equal(t, uint64(77), p.Amount)
}
