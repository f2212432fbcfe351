// Package models defines the domain entities shared across the notification
// delivery pipeline.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BroadcastRecipient is the sentinel recipient ID meaning "deliver to every
// connected client" rather than a single user. A zero UUID never occurs as a
// real user ID, so it is safe to reuse as the broadcast marker.
var BroadcastRecipient = uuid.UUID{}

// Priority classifies how a notification should be treated by the push sink.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsHighPriority reports whether a priority should be sent as an Android
// high-priority push. The APNs part of the push is the same for every
// priority.
func (p Priority) IsHighPriority() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Notification is a single unit of pending delivery work claimed from the
// durable queue. Field names mirror the activity.notifications table.
type Notification struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	Kind        string          `json:"kind"`
	TargetType  *string         `json:"target_type,omitempty"`
	TargetID    *string         `json:"target_id,omitempty"`
	Title       string          `json:"title"`
	Message     *string         `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	DeepLink    *string         `json:"deep_link,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	IsProcessed bool            `json:"is_processed"`
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"last_error,omitempty"`
}

// IsBroadcast reports whether the notification targets every connected
// client rather than a single user.
func (n *Notification) IsBroadcast() bool {
	return n.UserID == BroadcastRecipient
}

// IsHighPriority reports whether the notification should use the elevated
// push delivery path.
func (n *Notification) IsHighPriority() bool {
	return n.Priority.IsHighPriority()
}

// SyncNotifyMessage tells a connected client that notifications were
// delivered while it may have missed the live push, prompting it to
// reconcile via its own fetch path.
type SyncNotifyMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewSyncNotifyMessage builds the sync_notify envelope sent over the bus
// alongside (or instead of) a direct notification push.
func NewSyncNotifyMessage(count int) SyncNotifyMessage {
	return SyncNotifyMessage{Type: "sync_notify", Count: count}
}
