package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"konnect/cmd/internal/metrics"
	"konnect/shared/contracts/webhook"
)

// Report summarizes one Normalizer.Process run.
type Report struct {
	Inserted        int
	Duplicates      int
	StatusApplied   int
	StatusUnmatched int
	Failed          int
}

// Add accumulates o into r.
func (r *Report) Add(o Report) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.StatusApplied += o.StatusApplied
	r.StatusUnmatched += o.StatusUnmatched
	r.Failed += o.Failed
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("inserted", r.Inserted),
		slog.Int("duplicates", r.Duplicates),
		slog.Int("status_applied", r.StatusApplied),
		slog.Int("status_unmatched", r.StatusUnmatched),
		slog.Int("failed", r.Failed),
	)
}

// Normalizer turns webhook payloads into store operations.
//
// Per item failures are logged and counted; they never abort the remaining items.
type Normalizer struct {
	store    Store
	observer InsertObserver
	log      *slog.Logger
}

// NewNormalizer constructs a Normalizer. observer may be nil.
func NewNormalizer(store Store, observer InsertObserver, log *slog.Logger) *Normalizer {
	if observer == nil {
		observer = nopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{store: store, observer: observer, log: log}
}

// Process applies every change of entries in payload order.
func (n *Normalizer) Process(ctx context.Context, entries []webhook.Entry) Report {
	var rep Report
	for _, entry := range entries {
		for _, change := range entry.Changes {
			n.processChange(ctx, change.Value, &rep)
		}
	}
	return rep
}

func (n *Normalizer) processChange(ctx context.Context, v webhook.Value, rep *Report) {
	if len(v.Messages) > 0 && len(v.Contacts) > 0 {
		m, err := BuildMessage(v.Messages[0], v.Contacts[0])
		if err != nil {
			rep.Failed++
			metrics.WebhookMessages.WithLabelValues("invalid").Inc()
			n.log.Warn("webhook.message.invalid", "message_id", v.Messages[0].ID, "err", err)
		} else {
			inserted, err := n.insert(ctx, m)
			switch {
			case err != nil:
				rep.Failed++
			case inserted:
				rep.Inserted++
			default:
				rep.Duplicates++
			}
		}
	}

	for _, st := range v.Statuses {
		matched, err := n.applyStatus(ctx, st)
		switch {
		case err != nil:
			rep.Failed++
		case matched:
			rep.StatusApplied++
		default:
			rep.StatusUnmatched++
		}
	}
}

// insert stores m if absent and notifies the observer on an actual insert.
func (n *Normalizer) insert(ctx context.Context, m Message) (bool, error) {
	inserted, err := n.store.InsertIfAbsent(ctx, m)
	if err != nil {
		metrics.WebhookMessages.WithLabelValues("failed").Inc()
		n.log.Error("webhook.message.insert_fail",
			"message_id", m.MessageID,
			"wa_id", m.WaID,
			"err", err,
		)
		return false, err
	}
	if !inserted {
		metrics.WebhookMessages.WithLabelValues("duplicate").Inc()
		n.log.Debug("webhook.message.duplicate", "message_id", m.MessageID, "wa_id", m.WaID)
		return false, nil
	}

	metrics.WebhookMessages.WithLabelValues("inserted").Inc()
	n.log.Info("webhook.message.inserted", "message_id", m.MessageID, "wa_id", m.WaID)
	n.observer.MessageInserted(ctx, m)
	return true, nil
}

// applyStatus resolves the target by meta_msg_id first, then by id.
// Status values are stored as received; moving backward (read -> sent) is allowed.
func (n *Normalizer) applyStatus(ctx context.Context, st webhook.Status) (bool, error) {
	status := strings.TrimSpace(st.Status)
	if status == "" || !st.Timestamp.Valid || (st.ID == "" && st.MetaMsgID == "") {
		metrics.WebhookStatuses.WithLabelValues("invalid").Inc()
		n.log.Warn("webhook.status.invalid",
			"id", st.ID,
			"meta_msg_id", st.MetaMsgID,
			"status", st.Status,
			"timestamp", st.Timestamp.Raw,
		)
		return false, invalidf("status event needs an id, a status and a timestamp")
	}

	ts := st.Timestamp.Time()
	for _, id := range correlationIDs(st) {
		matched, err := n.store.UpdateStatus(ctx, id, Status(status), ts)
		if err != nil {
			metrics.WebhookStatuses.WithLabelValues("failed").Inc()
			n.log.Error("webhook.status.update_fail", "message_id", id, "status", status, "err", err)
			return false, err
		}
		if matched {
			metrics.WebhookStatuses.WithLabelValues("applied").Inc()
			n.log.Info("webhook.status.applied", "message_id", id, "status", status)
			return true, nil
		}
	}

	// Status arrived before (or without) its message; accepted as a lost update.
	metrics.WebhookStatuses.WithLabelValues("unmatched").Inc()
	n.log.Warn("webhook.status.unmatched", "id", st.ID, "meta_msg_id", st.MetaMsgID, "status", status)
	return false, nil
}

func correlationIDs(st webhook.Status) []string {
	ids := make([]string, 0, 2)
	if st.MetaMsgID != "" {
		ids = append(ids, st.MetaMsgID)
	}
	if st.ID != "" && st.ID != st.MetaMsgID {
		ids = append(ids, st.ID)
	}
	return ids
}

// IngestSingle handles the single-event webhook form: only the first change of the first entry
// is considered and only its message is stored. Statuses are ignored on this path.
func (n *Normalizer) IngestSingle(ctx context.Context, p webhook.Payload) (Message, bool, error) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Message{}, false, invalidf("payload has no entry changes")
	}
	v := p.Entry[0].Changes[0].Value
	if len(v.Messages) == 0 || len(v.Contacts) == 0 {
		return Message{}, false, invalidf("change has no message or contact")
	}

	m, err := BuildMessage(v.Messages[0], v.Contacts[0])
	if err != nil {
		metrics.WebhookMessages.WithLabelValues("invalid").Inc()
		return Message{}, false, err
	}

	inserted, err := n.insert(ctx, m)
	if err != nil {
		return Message{}, false, err
	}
	return m, inserted, nil
}

// BuildMessage maps a provider message and its contact into a Message with status sent.
func BuildMessage(msg webhook.Message, contact webhook.Contact) (Message, error) {
	var errs []error
	if strings.TrimSpace(msg.ID) == "" {
		errs = append(errs, invalidf("missing message id"))
	}
	if strings.TrimSpace(contact.WaID) == "" {
		errs = append(errs, invalidf("missing contact wa_id"))
	}
	if !msg.Timestamp.Valid {
		errs = append(errs, invalidf("invalid message timestamp %q", msg.Timestamp.Raw))
	}
	if len(errs) > 0 {
		return Message{}, errors.Join(errs...)
	}

	body := ""
	if msg.Text != nil {
		body = msg.Text.Body
	}
	typ := msg.Type
	if typ == "" {
		typ = TypeText
	}

	return Message{
		MessageID: msg.ID,
		From:      msg.From,
		WaID:      contact.WaID,
		Name:      contact.Profile.Name,
		Text:      body,
		Type:      typ,
		Timestamp: msg.Timestamp.Time(),
		Status:    StatusSent,
	}, nil
}
