// Package chat implements Konnect's message pipeline: the message store backends, the webhook
// normalizer and the query service used by the HTTP API.
package chat

import (
	"context"
	"time"
)

// Store persists normalized messages keyed by message id.
//
// Requirements:
//   - InsertIfAbsent is atomic per message id: concurrent calls for one id yield exactly one insert
//   - A duplicate insert never overwrites fields; only UpdateStatus mutates status and timestamp
//   - Reads order messages by timestamp, ties by message id
//   - Messages are never deleted
type Store interface {
	InsertIfAbsent(ctx context.Context, m Message) (bool, error)
	Insert(ctx context.Context, m Message) error
	UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (bool, error)
	FindByChat(ctx context.Context, waID string) ([]Message, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	LatestInChat(ctx context.Context, waID string) (Message, error)
	MarkAllRead(ctx context.Context, waID string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// InsertObserver is informed once for every message that was actually inserted.
// It is never called for duplicate no-ops.
type InsertObserver interface {
	MessageInserted(ctx context.Context, m Message)
}

type nopObserver struct{}

func (nopObserver) MessageInserted(context.Context, Message) {}

func validateMessage(m Message) error {
	if m.MessageID == "" {
		return invalidf("missing message_id")
	}
	if m.WaID == "" {
		return invalidf("missing wa_id")
	}
	return nil
}
