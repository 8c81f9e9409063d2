package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/portalsync"
)

func newTestHub() *Hub {
	h := NewHub(nil, logger.NewNopLogger())
	go h.Run()
	return h
}

func registerClient(t *testing.T, h *Hub, userID, role string, buffer int) *Client {
	t.Helper()
	client := &Client{Hub: h, UserID: userID, Role: role, Send: make(chan []byte, buffer)}
	h.register <- client
	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.clients[userID]
		return ok
	}, time.Second, 5*time.Millisecond)
	return client
}

func TestSlowClientEvictedWithoutDisruptingHub(t *testing.T) {
	h := newTestHub()

	slow := registerClient(t, h, "slow-1", "debtor", 0)
	healthy := registerClient(t, h, "healthy-1", "company", 8)

	h.DeliverNotification(portalsync.CrossNotification{Title: "first"})

	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.clients["slow-1"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	// The unregister branch owns the single close.
	_, open := <-slow.Send
	assert.False(t, open)

	// A late unregister from the read pump is a no-op for a client already gone.
	h.unregister <- slow

	h.DeliverNotification(portalsync.CrossNotification{Title: "second"})

	assert.Eventually(t, func() bool { return len(healthy.Send) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDeliverNotificationTargetsRole(t *testing.T) {
	h := newTestHub()

	debtor := registerClient(t, h, "debtor-1", "debtor", 4)
	company := registerClient(t, h, "company-1", "company", 4)

	h.DeliverNotification(portalsync.CrossNotification{Title: "offer", TargetUserType: "company"})

	assert.Eventually(t, func() bool { return len(company.Send) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, len(debtor.Send))
}

func TestClusterDispatchSkipsOwnInstance(t *testing.T) {
	h := newTestHub()
	client := registerClient(t, h, "user-1", "debtor", 4)

	data, err := json.Marshal(map[string]interface{}{"type": "cross_notification"})
	assert.NoError(t, err)

	h.dispatchCluster(clusterPayload{SourceInstance: h.instanceID, TargetUserID: "*", Message: data})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, len(client.Send))

	h.dispatchCluster(clusterPayload{SourceInstance: "other-instance", TargetUserID: "*", Message: data})
	assert.Eventually(t, func() bool { return len(client.Send) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClusterDispatchTargetsUser(t *testing.T) {
	h := newTestHub()
	target := registerClient(t, h, "user-1", "debtor", 4)
	other := registerClient(t, h, "user-2", "debtor", 4)

	data, _ := json.Marshal(map[string]interface{}{"type": "notification"})
	h.dispatchCluster(clusterPayload{SourceInstance: "other-instance", TargetUserID: "user-1", Message: data})

	assert.Eventually(t, func() bool { return len(target.Send) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, len(other.Send))
}
