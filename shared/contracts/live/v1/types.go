// Package v1 defines the Konnect client-facing contract v1: the JSON shapes served by the
// HTTP API and pushed over the live WebSocket channel.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server, the smoke tool and tests to keep the wire shapes authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the optional WebSocket subprotocol advertised by the live channel.
const Subprotocol = "konnect.live.v1"

// Type constants (wire-stable).
const (
	// TypeHello is sent once per connection after the client is subscribed (server -> client).
	TypeHello = "hello"

	// TypeNewMessage carries a message that was just inserted into the store (server -> client).
	TypeNewMessage = "newMessage"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper for the live channel.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeNewMessage, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload tells the client its session id; receiving it means the client is subscribed.
type HelloPayload struct {
	SessionID string `json:"sessionId"`
}

// Message is the client-facing message shape (HTTP message lists, send result, newMessage).
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsSent    bool      `json:"isSent"`
	IsRead    bool      `json:"isRead"`
}

// LastMessage is the preview of the most recent message of a chat.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is a derived conversation summary.
type Chat struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	LastMessage LastMessage `json:"lastMessage"`
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// Result is the generic success/failure body.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserStatus is the presence stub returned by the user status route.
type UserStatus struct {
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
