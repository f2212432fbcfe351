package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishToUserDeliversOnlyToSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)

	alice := NewClient("alice")
	bob := NewClient("bob")
	h.Register(alice)
	h.Register(bob)

	n, err := h.PublishToUser("alice", Envelope{Kind: "notification", Payload: json.RawMessage(`{"title":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case <-alice.Send:
	default:
		t.Fatal("expected alice to receive the envelope")
	}

	select {
	case <-bob.Send:
		t.Fatal("bob should not receive another user's envelope")
	default:
	}
}

func TestPublishToUserWithNoSubscribersReturnsZero(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)

	n, err := h.PublishToUser("nobody-home", Envelope{Kind: "notification"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPublishToTopicReachesAllBroadcastSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)

	alice := NewClient("alice")
	bob := NewClient("bob")
	h.Register(alice)
	h.Register(bob)

	n, err := h.PublishToTopic(GlobalTopic, Envelope{Kind: "notification"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUnregisterRemovesClientFromAllTopics(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)

	alice := NewClient("alice")
	h.Register(alice)
	h.Unregister(alice)

	assert.Equal(t, 0, h.ClientCount())

	n, err := h.PublishToUser("alice", Envelope{Kind: "notification"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)

	alice := NewClient("alice")
	h.Register(alice)
	h.Unregister(alice)

	assert.NotPanics(t, func() {
		h.Unregister(alice)
	})
}

func TestSendSyncNotify(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar(), nil)
	alice := NewClient("alice")
	h.Register(alice)

	n, err := h.SendSyncNotify("alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg := <-alice.Send
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "sync_notify", env.Kind)
}
