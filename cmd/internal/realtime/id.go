package realtime

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a random UUID identifying one live connection.
func NewSessionID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID so envelope ids sort by emission time in logs.
// It falls back to a UUID if the entropy source fails.
func NewEnvelopeID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
