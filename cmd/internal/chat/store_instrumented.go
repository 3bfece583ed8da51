package chat

import (
	"context"
	"errors"
	"time"

	"konnect/cmd/internal/metrics"
)

// Instrument wraps st so every operation reports latency and errors under the driver label.
// ErrNotFound and ErrValidation are outcomes, not store errors, and are not counted.
func Instrument(st Store, driver string) Store {
	return &instrumentedStore{next: st, driver: driver}
}

type instrumentedStore struct {
	next   Store
	driver string
}

// track starts a timer for op; the returned func records it using the final value of *err.
func (s *instrumentedStore) track(op string, err *error) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(s.driver, op).Observe(time.Since(start).Seconds())
		if e := *err; e != nil && !errors.Is(e, ErrNotFound) && !errors.Is(e, ErrValidation) && !errors.Is(e, ErrDuplicate) {
			metrics.StoreErrors.WithLabelValues(s.driver, op).Inc()
		}
	}
}

func (s *instrumentedStore) InsertIfAbsent(ctx context.Context, m Message) (inserted bool, err error) {
	defer s.track("insert_if_absent", &err)()
	return s.next.InsertIfAbsent(ctx, m)
}

func (s *instrumentedStore) Insert(ctx context.Context, m Message) (err error) {
	defer s.track("insert", &err)()
	return s.next.Insert(ctx, m)
}

func (s *instrumentedStore) UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (matched bool, err error) {
	defer s.track("update_status", &err)()
	return s.next.UpdateStatus(ctx, messageID, status, ts)
}

func (s *instrumentedStore) FindByChat(ctx context.Context, waID string) (out []Message, err error) {
	defer s.track("find_by_chat", &err)()
	return s.next.FindByChat(ctx, waID)
}

func (s *instrumentedStore) ListConversations(ctx context.Context) (out []Conversation, err error) {
	defer s.track("list_conversations", &err)()
	return s.next.ListConversations(ctx)
}

func (s *instrumentedStore) LatestInChat(ctx context.Context, waID string) (m Message, err error) {
	defer s.track("latest_in_chat", &err)()
	return s.next.LatestInChat(ctx, waID)
}

func (s *instrumentedStore) MarkAllRead(ctx context.Context, waID string) (n int64, err error) {
	defer s.track("mark_all_read", &err)()
	return s.next.MarkAllRead(ctx, waID)
}

func (s *instrumentedStore) Ping(ctx context.Context) (err error) {
	defer s.track("ping", &err)()
	return s.next.Ping(ctx)
}

func (s *instrumentedStore) Close() error { return s.next.Close() }
