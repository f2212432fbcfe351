// Package push implements the FCM push sink: bearer management, per-device
// send, error classification, and dead-token reporting.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aman1117/notifyd/internal/logger"
	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/aman1117/notifyd/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sendEndpointFormat = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// sendEndpoint returns the FCM v1 send URL for this client's project. A test
// build may override c.sendURLFormat to point at an httptest server.
func (c *Client) sendEndpoint() string {
	format := c.sendURLFormat
	if format == "" {
		format = sendEndpointFormat
	}
	return fmt.Sprintf(format, c.projectID)
}

// ErrorKind classifies a send failure so the delivery engine can decide
// between a retry and a dead-token reap.
type ErrorKind int

const (
	// ErrNone means the send succeeded.
	ErrNone ErrorKind = iota
	// ErrInvalidToken means the device token is dead; the caller should
	// remove it from the registry.
	ErrInvalidToken
	// ErrSend is a transient transport or non-invalid-token HTTP failure.
	ErrSend
)

// SendError wraps a classified send failure with its human-readable text.
type SendError struct {
	Kind ErrorKind
	Text string
}

func (e *SendError) Error() string { return e.Text }

// IsInvalidToken reports whether err is a SendError classified as
// InvalidToken, so callers that only have an error interface value can tell
// a dead device apart from a transient failure without a type switch.
func IsInvalidToken(err error) bool {
	se, ok := err.(*SendError)
	return ok && se.Kind == ErrInvalidToken
}

// Sink is the capability-bounded collaborator the delivery engine depends
// on for push delivery. Not configured means Sink is nil.
type Sink interface {
	Send(ctx context.Context, token string, n *models.Notification) error
}

// Client is the FCM v1 implementation of Sink.
type Client struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	bearer       *cachedBearer
	sa           *serviceAccount
	projectID    string
	log          *zap.SugaredLogger
	revealTokens bool

	// sendURLFormat overrides sendEndpointFormat in tests; empty means use
	// the real FCM endpoint.
	sendURLFormat string
}

// NewClient loads the service account at credentialsPath and returns a
// Client configured to send against projectID. sendsPerSecond bounds the
// rate at which Send issues outbound requests. m may be nil if metrics are
// not wired up (e.g. in tests).
func NewClient(projectID, credentialsPath string, sendsPerSecond int, revealTokens bool, m *metrics.Metrics) (*Client, error) {
	sa, err := loadServiceAccount(credentialsPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(sendsPerSecond), sendsPerSecond),
		bearer:       &cachedBearer{m: m},
		sa:           sa,
		projectID:    projectID,
		log:          logger.WithComponent("push"),
		revealTokens: revealTokens,
	}, nil
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
	APNS         *apnsConfig       `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

type androidConfig struct {
	Priority string `json:"priority"`
}

type apnsConfig struct {
	Payload apnsPayload `json:"payload"`
}

type apnsPayload struct {
	Aps aps `json:"aps"`
}

type aps struct {
	Sound            string `json:"sound"`
	Badge            int    `json:"badge"`
	ContentAvailable int    `json:"content-available"`
}

// Send delivers n to a single device token, classifying the result per the
// FCM v1 error taxonomy: 2xx is success, a body containing UNREGISTERED or
// INVALID_ARGUMENT is an invalid token, any other non-2xx or transport
// failure is a transient send error.
func (c *Client) Send(ctx context.Context, token string, n *models.Notification) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &SendError{Kind: ErrSend, Text: err.Error()}
	}

	bearer, err := c.bearer.get(ctx, c.httpClient, c.sa)
	if err != nil {
		return &SendError{Kind: ErrSend, Text: err.Error()}
	}

	body := c.buildRequest(token, n)
	payload, err := json.Marshal(body)
	if err != nil {
		return &SendError{Kind: ErrSend, Text: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return &SendError{Kind: ErrSend, Text: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debugw("push send transport error", "token", maskToken(token, c.revealTokens), "error", err)
		return &SendError{Kind: ErrSend, Text: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	text := string(respBody)
	if strings.Contains(text, "UNREGISTERED") || strings.Contains(text, "INVALID_ARGUMENT") {
		c.log.Infow("push token invalid", "token", maskToken(token, c.revealTokens))
		return &SendError{Kind: ErrInvalidToken, Text: text}
	}

	return &SendError{Kind: ErrSend, Text: fmt.Sprintf("%d: %s", resp.StatusCode, text)}
}

func (c *Client) buildRequest(token string, n *models.Notification) fcmRequest {
	data := map[string]string{
		"notification_id": n.ID.String(),
		"type":            n.Kind,
	}
	if n.DeepLink != nil {
		data["deep_link"] = *n.DeepLink
	}

	body := ""
	if n.Message != nil {
		body = *n.Message
	}

	priority := "normal"
	if n.IsHighPriority() {
		priority = "high"
	}

	return fcmRequest{
		Message: fcmMessage{
			Token:        token,
			Notification: fcmNotification{Title: n.Title, Body: body},
			Data:         data,
			Android:      &androidConfig{Priority: priority},
			APNS: &apnsConfig{
				Payload: apnsPayload{
					Aps: aps{Sound: "default", Badge: 1, ContentAvailable: 1},
				},
			},
		},
	}
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// maskToken shortens a push token for safe logging, unless revealTokens (set
// from DEBUG_LOG_FCM_TOKENS) is true.
func maskToken(token string, revealTokens bool) string {
	if revealTokens {
		return token
	}
	switch {
	case len(token) > 12:
		return token[:6] + "…" + token[len(token)-4:]
	case len(token) > 4:
		return token[:4] + "…"
	default:
		return "****"
	}
}
