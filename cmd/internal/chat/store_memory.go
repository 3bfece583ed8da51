package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only Store used when no database driver is configured.
// It supports:
//   - InsertIfAbsent: atomic under a single mutex
//   - per-chat index for FindByChat / ListConversations
type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Message
	chats map[string][]string // wa_id -> message ids in insertion order
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]*Message),
		chats: make(map[string][]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// InsertIfAbsent stores m unless its id is already present.
func (s *InMemoryStore) InsertIfAbsent(ctx context.Context, m Message) (bool, error) {
	if err := validateMessage(m); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.MessageID]; ok {
		return false, nil
	}
	s.put(m)
	return true, nil
}

// Insert stores m and fails with ErrDuplicate if the id exists.
func (s *InMemoryStore) Insert(ctx context.Context, m Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.MessageID]; ok {
		return ErrDuplicate
	}
	s.put(m)
	return nil
}

func (s *InMemoryStore) put(m Message) {
	cp := m
	s.byID[m.MessageID] = &cp
	s.chats[m.WaID] = append(s.chats[m.WaID], m.MessageID)
}

// UpdateStatus sets status and timestamp of the message with id messageID.
func (s *InMemoryStore) UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return false, nil
	}
	m.Status = status
	m.Timestamp = ts
	return true, nil
}

// FindByChat returns the conversation ordered by timestamp ASC.
func (s *InMemoryStore) FindByChat(ctx context.Context, waID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := s.snapshotLocked(waID)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newer(out[j], out[i]) })
	return out, nil
}

// ListConversations returns one entry per wa_id with its most recent message.
func (s *InMemoryStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Conversation, 0, len(s.chats))
	for waID, ids := range s.chats {
		var last *Message
		for _, id := range ids {
			m := s.byID[id]
			if last == nil || newer(*m, *last) {
				last = m
			}
		}
		if last == nil {
			continue
		}
		out = append(out, Conversation{WaID: waID, Name: last.Name, Last: *last})
	}
	s.mu.RUnlock()

	sortConversations(out)
	return out, nil
}

// LatestInChat returns the most recent message of waID or ErrNotFound.
func (s *InMemoryStore) LatestInChat(ctx context.Context, waID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *Message
	for _, id := range s.chats[waID] {
		m := s.byID[id]
		if last == nil || newer(*m, *last) {
			last = m
		}
	}
	if last == nil {
		return Message{}, ErrNotFound
	}
	return *last, nil
}

// MarkAllRead moves every sent message of waID to read.
func (s *InMemoryStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.chats[waID] {
		if m := s.byID[id]; m.Status == StatusSent {
			m.Status = StatusRead
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) snapshotLocked(waID string) []Message {
	ids := s.chats[waID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	return out
}

// sortConversations orders chats by last message recency, then wa_id.
func sortConversations(cs []Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i].Last.Timestamp, cs[j].Last.Timestamp
		if !a.Equal(b) {
			return a.After(b)
		}
		return cs[i].WaID < cs[j].WaID
	})
}
