package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"konnect/cmd/internal/metrics"
	v1 "konnect/shared/contracts/live/v1"
)

// MaxContentRunes bounds outbound message bodies.
const MaxContentRunes = 4096

// ServiceConfig configures Service.
type ServiceConfig struct {
	// AccountID is the local business account; outbound messages use it as sender.
	AccountID string

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service is the query and command facade used by the HTTP API.
type Service struct {
	store    Store
	observer InsertObserver
	log      *slog.Logger
	account  string
	now      func() time.Time
}

// NewService constructs a Service. observer may be nil.
func NewService(store Store, observer InsertObserver, log *slog.Logger, cfg ServiceConfig) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		observer: observer,
		log:      log,
		account:  cfg.AccountID,
		now:      now,
	}
}

// ListChats returns one summary per conversation, most recent first.
func (s *Service) ListChats(ctx context.Context) ([]v1.Chat, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]v1.Chat, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ToClient())
	}
	return out, nil
}

// ListMessages returns the messages of chatID in ascending time order.
// An unknown chat yields an empty list.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]v1.Message, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, invalidf("missing chat id")
	}

	msgs, err := s.store.FindByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToClient(s.account))
	}
	return out, nil
}

// SendMessage appends an outbound text message to an existing conversation.
func (s *Service) SendMessage(ctx context.Context, chatID, content string) (v1.Message, error) {
	chatID = strings.TrimSpace(chatID)
	content = strings.TrimSpace(content)
	switch {
	case chatID == "":
		return v1.Message{}, invalidf("missing chat id")
	case content == "":
		return v1.Message{}, invalidf("message content is empty")
	case utf8.RuneCountInString(content) > MaxContentRunes:
		return v1.Message{}, invalidf("message content exceeds %d characters", MaxContentRunes)
	}

	last, err := s.store.LatestInChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v1.Message{}, ErrNotFound
		}
		return v1.Message{}, err
	}

	now := s.now().UTC()
	id, err := NewMessageID(now)
	if err != nil {
		return v1.Message{}, err
	}

	m := Message{
		MessageID: id,
		From:      s.account,
		WaID:      chatID,
		Name:      last.Name,
		Text:      content,
		Type:      TypeText,
		Timestamp: now,
		Status:    StatusSent,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		s.log.Error("chat.send.fail", "wa_id", chatID, "message_id", id, "err", err)
		return v1.Message{}, err
	}

	metrics.MessagesSent.Inc()
	s.log.Info("chat.send.ok", "wa_id", chatID, "message_id", id)
	s.observer.MessageInserted(ctx, m)
	return m.ToClient(s.account), nil
}

// MarkChatRead marks every sent message of chatID as read and returns how many changed.
func (s *Service) MarkChatRead(ctx context.Context, chatID string) (int64, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return 0, invalidf("missing chat id")
	}

	n, err := s.store.MarkAllRead(ctx, chatID)
	if err != nil {
		return 0, err
	}
	s.log.Debug("chat.read.ok", "wa_id", chatID, "updated", n)
	return n, nil
}

// UserStatus reports presence. There is no presence tracking; users are always offline
// and last seen now.
func (s *Service) UserStatus(ctx context.Context, userID string) (v1.UserStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return v1.UserStatus{}, invalidf("missing user id")
	}
	if err := ctx.Err(); err != nil {
		return v1.UserStatus{}, err
	}
	return v1.UserStatus{IsOnline: false, LastSeen: s.now().UTC()}, nil
}
