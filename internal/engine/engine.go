// Package engine implements the delivery engine: the outer wake/timeout
// loop, batched claim draining, and the per-notification state machine that
// chooses between the bus and push sinks.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aman1117/notifyd/internal/bus"
	"github.com/aman1117/notifyd/internal/logger"
	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/aman1117/notifyd/internal/push"
	"github.com/aman1117/notifyd/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the subset of the notification store the engine depends on. The
// concrete *store.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	ClaimBatch(ctx context.Context, limit int) ([]models.Notification, error)
	MarkSuccess(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailure(ctx context.Context, id uuid.UUID, errText string, maxRetries int) (bool, error)
	GetUserDevices(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error)
	RemoveDevice(ctx context.Context, fcmToken string) error
}

// Engine drains the pending queue on wake signals or a failsafe timeout,
// delivering each row via the bus with a push fallback and recording the
// terminal outcome back to the store.
type Engine struct {
	store        Store
	bus          bus.Sink // nil means the bus sink is unconfigured
	push         push.Sink
	metrics      *metrics.Metrics
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	log          *zap.SugaredLogger
}

// New returns an Engine. bus and pushSink may both be nil; an unconfigured
// sink is treated as ConfigAbsent for every row that reaches it.
func New(st Store, busSink bus.Sink, pushSink push.Sink, m *metrics.Metrics, pollInterval time.Duration, batchSize, maxRetries int) *Engine {
	return &Engine{
		store:        st,
		bus:          busSink,
		push:         pushSink,
		metrics:      m,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
		log:          logger.WithComponent("engine"),
	}
}

// Run is the outer loop: process everything pending, then wait for either a
// wake signal or the failsafe poll timeout, whichever fires first. It
// returns when ctx is cancelled, after finishing whatever row is currently
// in flight.
func (e *Engine) Run(ctx context.Context, wake <-chan struct{}) {
	for {
		e.processAllPending(ctx)

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(e.pollInterval):
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// processAllPending repeatedly claims and drains batches until a batch
// comes back empty or the context is cancelled.
func (e *Engine) processAllPending(ctx context.Context) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := e.store.ClaimBatch(ctx, e.batchSize)
		if err != nil {
			e.log.Errorw("claim batch failed, aborting cycle", "error", err)
			return
		}
		if e.metrics != nil {
			e.metrics.PendingCount.Set(float64(len(batch)))
		}
		if len(batch) == 0 {
			return
		}

		for i := range batch {
			if ctx.Err() != nil {
				return
			}
			e.processOne(ctx, &batch[i])
		}
	}
}

// processOne runs a single notification through the Start -> TryBus ->
// TryPush -> Terminal state machine, finishing the row (bus and/or push)
// before returning, so the single-SP-call-per-attempt invariant holds even
// under cancellation.
func (e *Engine) processOne(ctx context.Context, n *models.Notification) {
	log := logger.WithNotification(n.ID.String(), n.UserID.String())

	if n.IsBroadcast() {
		e.processBroadcast(ctx, n, log)
		return
	}

	outcome := e.tryBus(ctx, n, log)
	if !outcome.Succeeded() {
		outcome = e.tryPush(ctx, n, log)
	}

	e.recordOutcome(ctx, n, outcome, log)
}

// tryBus attempts bus delivery. Zero fan-out or a transport error both fall
// through to push; only a successful nonzero fan-out is terminal here.
func (e *Engine) tryBus(ctx context.Context, n *models.Notification, log *zap.SugaredLogger) models.DeliveryOutcome {
	if e.bus == nil {
		return models.Transient("bus not configured")
	}

	env, err := userEnvelope(n)
	if err != nil {
		log.Warnw("failed to build bus envelope", "error", err)
		return models.Transient("bus not configured")
	}

	count, err := e.bus.PublishToUser(n.UserID.String(), env)
	if err != nil {
		log.Warnw("bus publish failed, falling back to push", "error", err)
		return models.Transient("bus publish failed")
	}
	if count > 0 {
		if e.metrics != nil {
			e.metrics.DeliveredBusTotal.Inc()
		}
		return models.Delivered(models.DeliveredViaBus)
	}

	return models.Transient("no bus subscribers")
}

// tryPush attempts push delivery across every registered device, reaping
// any token the sink reports as invalid along the way.
func (e *Engine) tryPush(ctx context.Context, n *models.Notification, log *zap.SugaredLogger) models.DeliveryOutcome {
	if e.push == nil {
		return models.Transient("push not configured")
	}

	devices, err := e.store.GetUserDevices(ctx, n.UserID)
	if err != nil {
		log.Errorw("failed to fetch devices", "error", err)
		return models.Transient("failed to fetch devices")
	}
	if len(devices) == 0 {
		return models.Transient("no registered devices")
	}

	successCount := 0
	var lastErr string

	for _, d := range devices {
		sendErr := e.push.Send(ctx, d.FCMToken, n)
		if sendErr == nil {
			successCount++
			continue
		}

		if push.IsInvalidToken(sendErr) {
			if rmErr := e.store.RemoveDevice(ctx, d.FCMToken); rmErr != nil {
				log.Warnw("failed to remove invalid device", "error", rmErr)
			} else if e.metrics != nil {
				e.metrics.DevicesRemovedTotal.Inc()
			}
			continue
		}

		lastErr = sendErr.Error()
		log.Warnw("push send failed", "error", sendErr)
	}

	if successCount > 0 {
		if e.metrics != nil {
			e.metrics.DeliveredPushTotal.Inc()
		}
		return models.Delivered(models.DeliveredViaPush)
	}

	if lastErr == "" {
		lastErr = "all push attempts failed"
	}
	return models.Transient(lastErr)
}

// processBroadcast publishes the reduced public form to the bus global topic;
// no push is sent for a broadcast row. The row is always marked successful,
// whether or not the bus publish succeeded, so a failing sink cannot stall
// the queue head.
func (e *Engine) processBroadcast(ctx context.Context, n *models.Notification, log *zap.SugaredLogger) {
	busOK := false
	if e.bus != nil {
		if env, err := broadcastEnvelope(n); err == nil {
			if _, err := e.bus.PublishToTopic(bus.GlobalTopic, env); err == nil {
				busOK = true
			} else {
				log.Warnw("broadcast bus publish failed", "error", err)
			}
		}
	}

	if !busOK {
		log.Infow("broadcast delivered with no confirmed sink fan-out, marking success regardless")
	}

	if ok, err := e.store.MarkSuccess(ctx, n.ID); err != nil {
		log.Errorw("failed to mark broadcast success", "error", err)
	} else if !ok {
		log.Warnw("mark_success returned false for broadcast row")
	}
	if busOK && e.metrics != nil {
		e.metrics.DeliveredBusTotal.Inc()
	}
}

func (e *Engine) recordOutcome(ctx context.Context, n *models.Notification, outcome models.DeliveryOutcome, log *zap.SugaredLogger) {
	if outcome.Succeeded() {
		ok, err := e.store.MarkSuccess(ctx, n.ID)
		if err != nil {
			log.Errorw("failed to mark success", "error", err)
			return
		}
		if !ok {
			log.Warnw("mark_success returned false; row may already have been reaped")
		}
		return
	}

	if e.metrics != nil {
		e.metrics.FailedTotal.Inc()
	}

	maxReached, err := e.store.MarkFailure(ctx, n.ID, outcome.Reason, e.maxRetries)
	if err != nil {
		log.Errorw("failed to mark failure", "error", err)
		return
	}
	if maxReached {
		log.Warnw("retry ceiling reached, notification abandoned", "reason", outcome.Reason)
		if e.metrics != nil {
			e.metrics.PermanentFailuresTotal.Inc()
		}
	}
}

func userEnvelope(n *models.Notification) (bus.Envelope, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return bus.Envelope{}, err
	}
	return bus.Envelope{Kind: "notification", Payload: payload}, nil
}

// publicNotification is the reduced form broadcast to the global topic: no
// recipient- or actor-scoped fields, since every connected client sees it.
type publicNotification struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Message   *string         `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func broadcastEnvelope(n *models.Notification) (bus.Envelope, error) {
	pub := publicNotification{
		ID:        n.ID.String(),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	payload, err := json.Marshal(pub)
	if err != nil {
		return bus.Envelope{}, err
	}
	return bus.Envelope{Kind: "notification", Payload: payload}, nil
}
