package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aman1117/notifyd/internal/bus"
	"github.com/aman1117/notifyd/internal/push"
	"github.com/aman1117/notifyd/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	batch      []models.Notification
	claimed    bool
	successIDs []uuid.UUID
	failures   []fakeFailure
	devices    map[uuid.UUID][]models.UserDevice
	removed    []string
	maxReached bool
}

type fakeFailure struct {
	id      uuid.UUID
	errText string
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: map[uuid.UUID][]models.UserDevice{}}
}

func (f *fakeStore) ClaimBatch(ctx context.Context, limit int) ([]models.Notification, error) {
	if f.claimed {
		return nil, nil
	}
	f.claimed = true
	return f.batch, nil
}

func (f *fakeStore) MarkSuccess(ctx context.Context, id uuid.UUID) (bool, error) {
	f.successIDs = append(f.successIDs, id)
	return true, nil
}

func (f *fakeStore) MarkFailure(ctx context.Context, id uuid.UUID, errText string, maxRetries int) (bool, error) {
	f.failures = append(f.failures, fakeFailure{id: id, errText: errText})
	return f.maxReached, nil
}

func (f *fakeStore) GetUserDevices(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error) {
	return f.devices[userID], nil
}

func (f *fakeStore) RemoveDevice(ctx context.Context, fcmToken string) error {
	f.removed = append(f.removed, fcmToken)
	return nil
}

type fakeBus struct {
	userFanout  int
	userErr     error
	topicFanout int
	topicErr    error
	userCalls   []string
	topicCalls  []string
}

func (f *fakeBus) PublishToUser(userID string, env bus.Envelope) (int, error) {
	f.userCalls = append(f.userCalls, userID)
	return f.userFanout, f.userErr
}

func (f *fakeBus) PublishToTopic(topic string, env bus.Envelope) (int, error) {
	f.topicCalls = append(f.topicCalls, topic)
	return f.topicFanout, f.topicErr
}

type fakePush struct {
	results map[string]error
}

func (f *fakePush) Send(ctx context.Context, token string, n *models.Notification) error {
	return f.results[token]
}

func newNotification() models.Notification {
	return models.Notification{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Kind:      "comment",
		Title:     "New comment",
		CreatedAt: time.Now(),
	}
}

func TestProcessOneDeliversViaBusWhenSubscribersPresent(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}

	fb := &fakeBus{userFanout: 1}
	e := New(st, fb, nil, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	assert.Len(t, fb.userCalls, 1)
	assert.Equal(t, []uuid.UUID{n.ID}, st.successIDs)
	assert.Empty(t, st.failures)
}

func TestProcessOneFallsThroughToPushWhenBusHasNoSubscribers(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}
	st.devices[n.UserID] = []models.UserDevice{{FCMToken: "tok-1", DeviceType: "android"}}

	fb := &fakeBus{userFanout: 0}
	fp := &fakePush{results: map[string]error{"tok-1": nil}}
	e := New(st, fb, fp, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	assert.Len(t, fb.userCalls, 1)
	assert.Equal(t, []uuid.UUID{n.ID}, st.successIDs)
}

func TestProcessOneFallsThroughToPushOnBusError(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}
	st.devices[n.UserID] = []models.UserDevice{{FCMToken: "tok-1"}}

	fb := &fakeBus{userErr: errors.New("connection reset")}
	fp := &fakePush{results: map[string]error{"tok-1": nil}}
	e := New(st, fb, fp, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	assert.Equal(t, []uuid.UUID{n.ID}, st.successIDs)
}

func TestProcessOneReapsInvalidTokenAndKeepsTryingOtherDevices(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}
	st.devices[n.UserID] = []models.UserDevice{
		{FCMToken: "dead-token"},
		{FCMToken: "live-token"},
	}

	fb := &fakeBus{userFanout: 0}
	fp := &fakePush{results: map[string]error{
		"dead-token": &push.SendError{Kind: push.ErrInvalidToken, Text: "UNREGISTERED"},
		"live-token": nil,
	}}
	e := New(st, fb, fp, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	require.Len(t, st.removed, 1)
	assert.Equal(t, "dead-token", st.removed[0])
	assert.Equal(t, []uuid.UUID{n.ID}, st.successIDs)
}

func TestProcessOneMarksFailureWhenAllSinksFail(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}
	st.devices[n.UserID] = []models.UserDevice{{FCMToken: "tok-1"}}

	fb := &fakeBus{userErr: errors.New("bus down")}
	fp := &fakePush{results: map[string]error{
		"tok-1": &push.SendError{Kind: push.ErrSend, Text: "server error"},
	}}
	e := New(st, fb, fp, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	require.Len(t, st.failures, 1)
	assert.Equal(t, n.ID, st.failures[0].id)
	assert.Empty(t, st.successIDs)
}

func TestProcessOneHonorsRetryCeiling(t *testing.T) {
	st := newFakeStore()
	st.maxReached = true
	n := newNotification()
	st.batch = []models.Notification{n}

	fb := &fakeBus{userErr: errors.New("bus down")}
	e := New(st, fb, nil, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	require.Len(t, st.failures, 1)
}

func TestProcessOneBroadcastAlwaysMarksSuccess(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	n.UserID = models.BroadcastRecipient
	st.batch = []models.Notification{n}

	fb := &fakeBus{topicErr: errors.New("no listeners registered")}
	e := New(st, fb, nil, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	assert.Equal(t, []string{bus.GlobalTopic}, fb.topicCalls)
	assert.Equal(t, []uuid.UUID{n.ID}, st.successIDs)
	assert.Empty(t, st.failures)
}

func TestProcessAllPendingDrainsUntilEmpty(t *testing.T) {
	st := newFakeStore()
	n1, n2 := newNotification(), newNotification()
	st.batch = []models.Notification{n1, n2}

	fb := &fakeBus{userFanout: 1}
	e := New(st, fb, nil, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	assert.ElementsMatch(t, []uuid.UUID{n1.ID, n2.ID}, st.successIDs)
}

func TestProcessOneTreatsUnconfiguredSinksAsTransient(t *testing.T) {
	st := newFakeStore()
	n := newNotification()
	st.batch = []models.Notification{n}

	e := New(st, nil, nil, nil, time.Minute, 10, 3)

	e.processAllPending(context.Background())

	require.Len(t, st.failures, 1)
	assert.Empty(t, st.successIDs)
}
