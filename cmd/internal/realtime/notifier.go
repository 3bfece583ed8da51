package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"konnect/cmd/internal/chat"
	v1 "konnect/shared/contracts/live/v1"
)

// Notifier pushes every inserted message to the Hub as a newMessage envelope.
// It implements chat.InsertObserver.
type Notifier struct {
	hub       *Hub
	accountID string
	log       *slog.Logger
}

var _ chat.InsertObserver = (*Notifier)(nil)

// NewNotifier constructs a Notifier. accountID decides the isSent flag of pushed messages.
func NewNotifier(hub *Hub, accountID string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{hub: hub, accountID: accountID, log: log}
}

// MessageInserted broadcasts m. It never blocks on slow clients.
func (n *Notifier) MessageInserted(_ context.Context, m chat.Message) {
	payload, err := json.Marshal(m.ToClient(n.accountID))
	if err != nil {
		n.log.Error("live.notify.encode_fail", "message_id", m.MessageID, "err", err)
		return
	}

	now := time.Now().UTC()
	delivered := n.hub.Broadcast(v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeNewMessage,
		ID:      NewEnvelopeID(now),
		TS:      now,
		Payload: payload,
	})
	n.log.Debug("live.notify", "message_id", m.MessageID, "wa_id", m.WaID, "delivered", delivered)
}
