// Package webhook defines the WhatsApp Business webhook payload shapes accepted by Konnect,
// both the single-event form posted to /api/webhook and the batch-file form read by the
// ingestion CLI.
package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// BatchFile is one recorded webhook delivery as stored on disk.
type BatchFile struct {
	PayloadType string  `json:"payload_type"`
	ID          string  `json:"_id"`
	MetaData    Payload `json:"metaData"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	StartedAt   string  `json:"startedAt,omitempty"`
	CompletedAt string  `json:"completedAt,omitempty"`
	Executed    bool    `json:"executed,omitempty"`
}

// Payload is the provider webhook body.
type Payload struct {
	Object  string  `json:"object,omitempty"`
	GsAppID string  `json:"gs_app_id,omitempty"`
	Entry   []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id,omitempty"`
	Changes []Change `json:"changes"`
}

// Change is a single webhook change notification.
type Change struct {
	Field string `json:"field,omitempty"`
	Value Value  `json:"value"`
}

// Value carries new messages (with their contacts) and/or status updates.
type Value struct {
	MessagingProduct string    `json:"messaging_product,omitempty"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

// Contact is the sender profile attached to inbound messages.
type Contact struct {
	Profile Profile `json:"profile"`
	WaID    string  `json:"wa_id"`
}

// Profile holds the contact display name.
type Profile struct {
	Name string `json:"name"`
}

// Message is an inbound message.
type Message struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp EpochSeconds `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *Text        `json:"text,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Status is a delivery status event for a previously sent or received message.
type Status struct {
	ID          string       `json:"id"`
	MetaMsgID   string       `json:"meta_msg_id,omitempty"`
	Status      string       `json:"status"`
	Timestamp   EpochSeconds `json:"timestamp"`
	RecipientID string       `json:"recipient_id,omitempty"`
}

// EpochSeconds is a Unix timestamp in seconds. The provider sends it as a decimal string,
// some recorded payloads carry a bare number; both are accepted.
//
// Decoding never fails: a value with no leading integer leaves Valid false and keeps the
// original text in Raw, so one bad item does not reject the surrounding document.
type EpochSeconds struct {
	Seconds int64
	Valid   bool
	Raw     string
}

// UnmarshalJSON accepts "1712345678", 1712345678, "1712345678.5", "", null and
// anything else (as invalid). Fractional seconds are truncated.
func (e *EpochSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*e = EpochSeconds{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			e.Raw = string(b)
			return nil
		}
		e.Raw = s
		e.Seconds, e.Valid = leadingInt(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		e.Raw = string(b)
		f, err := strconv.ParseFloat(e.Raw, 64)
		if err == nil && !math.IsInf(f, 0) && math.Abs(f) < math.MaxInt64 {
			e.Seconds, e.Valid = int64(f), true
		}
	default:
		e.Raw = string(b)
	}
	return nil
}

// leadingInt parses an optionally signed run of digits at the start of s, ignoring
// leading whitespace and anything after the digits.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON writes the provider form (decimal string).
func (e EpochSeconds) MarshalJSON() ([]byte, error) {
	if !e.Valid {
		return []byte(`""`), nil
	}
	return json.Marshal(strconv.FormatInt(e.Seconds, 10))
}

// Time converts to UTC time. The zero time is returned when the value is absent.
func (e EpochSeconds) Time() time.Time {
	if !e.Valid {
		return time.Time{}
	}
	return time.Unix(e.Seconds, 0).UTC()
}

// At builds a valid EpochSeconds from t.
func At(t time.Time) EpochSeconds {
	return EpochSeconds{Seconds: t.Unix(), Valid: true}
}
