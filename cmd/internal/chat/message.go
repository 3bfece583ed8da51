package chat

import (
	"time"

	v1 "konnect/shared/contracts/live/v1"
)

// Status is the delivery state of a message.
// Provider statuses outside the known set are stored verbatim.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Message types understood by the UI. Only text bodies are rendered.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
)

// Message is the normalized, persisted message record.
type Message struct {
	MessageID string
	From      string
	WaID      string
	Name      string
	Text      string
	Type      string
	Timestamp time.Time
	Status    Status
}

// Conversation is a derived chat: one wa_id with its most recent message.
type Conversation struct {
	WaID string
	Name string
	Last Message
}

// ToClient projects m into the client-facing shape. accountID is the local business account;
// messages sent from it are flagged isSent.
func (m Message) ToClient(accountID string) v1.Message {
	return v1.Message{
		ID:        m.MessageID,
		ChatID:    m.WaID,
		Content:   m.Text,
		Timestamp: m.Timestamp,
		IsSent:    m.From == accountID,
		IsRead:    m.Status == StatusRead,
	}
}

// ToClient projects c into the chat summary shape.
func (c Conversation) ToClient() v1.Chat {
	return v1.Chat{
		ID:   c.WaID,
		Name: c.Name,
		LastMessage: v1.LastMessage{
			Content:   c.Last.Text,
			Timestamp: c.Last.Timestamp,
		},
	}
}

// newer reports whether a sorts after b in conversation recency order:
// later timestamp first, then greater message id.
func newer(a, b Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.MessageID > b.MessageID
}
