package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entitlement-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callbackReceiver struct {
	server   *httptest.Server
	calls    atomic.Int32
	failures int32

	mu        sync.Mutex
	body      []byte
	signature string
}

func newCallbackReceiver(t *testing.T, failures int32) *callbackReceiver {
	t.Helper()
	c := &callbackReceiver{failures: failures}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := c.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.body = body
		c.signature = r.Header.Get(SignatureHeader)
		c.mu.Unlock()
		if n <= c.failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func fastNotifier(url, secret string) *EntitlementNotifier {
	n := NewEntitlementNotifier(url, secret)
	n.retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return n
}

func TestEntitlementNotifier_Disabled(t *testing.T) {
	n := NewEntitlementNotifier("", "secret")
	assert.Nil(t, n)
	n.Notify(EntitlementChange{})
}

func TestEntitlementNotifier_SignsBody(t *testing.T) {
	receiver := newCallbackReceiver(t, 0)
	n := fastNotifier(receiver.server.URL, "shh")

	err := n.Send(context.Background(), EntitlementChange{
		NotificationType:      models.NotificationTypeDidRenew,
		OriginalTransactionID: "1000",
		Status:                models.StatusActive,
		IsPremium:             true,
	})
	require.NoError(t, err)

	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	assert.Equal(t, SignPayload(receiver.body, "shh"), receiver.signature)

	var payload CallbackPayload
	require.NoError(t, json.Unmarshal(receiver.body, &payload))
	assert.Equal(t, "entitlement.updated", payload.Event)
	assert.Equal(t, "1000", payload.Change.OriginalTransactionID)
	assert.Equal(t, models.StatusActive, payload.Change.Status)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestEntitlementNotifier_Retries(t *testing.T) {
	receiver := newCallbackReceiver(t, 2)
	n := fastNotifier(receiver.server.URL, "")

	require.NoError(t, n.Send(context.Background(), EntitlementChange{TransactionID: "1"}))
	assert.Equal(t, int32(3), receiver.calls.Load())

	receiver.mu.Lock()
	assert.Empty(t, receiver.signature)
	receiver.mu.Unlock()
}

func TestEntitlementNotifier_GivesUp(t *testing.T) {
	receiver := newCallbackReceiver(t, 100)
	n := fastNotifier(receiver.server.URL, "")

	err := n.Send(context.Background(), EntitlementChange{TransactionID: "1"})
	assert.ErrorContains(t, err, "after 4 attempts")
	assert.Equal(t, int32(4), receiver.calls.Load())
}

func TestEntitlementNotifier_NotifyInBackground(t *testing.T) {
	receiver := newCallbackReceiver(t, 0)
	n := fastNotifier(receiver.server.URL, "")

	n.Notify(EntitlementChange{TransactionID: "1"})

	assert.Eventually(t, func() bool { return receiver.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSignPayload(t *testing.T) {
	// RFC 4231 test case 2
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		SignPayload([]byte("what do ya want for nothing?"), "Jefe"))
}
