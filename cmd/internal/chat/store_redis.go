package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "konnect"

// RedisStore is a Store backed by Redis.
//
// Layout (prefix defaults to "konnect"):
//   - {prefix}:msg:{message_id}  hash with the message fields, ts in unix micros
//   - {prefix}:chat:{wa_id}      sorted set of message ids scored by ts
//   - {prefix}:chats             set of known wa_ids
//
// Multi-key mutations run as Lua scripts so each one is atomic on the server.
// Equal scores sort by member, which gives the message id tie-break for free.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	redisInsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'message_id', ARGV[1], 'sender', ARGV[2], 'wa_id', ARGV[3], 'contact_name', ARGV[4],
  'body', ARGV[5], 'msg_type', ARGV[6], 'ts', ARGV[7], 'status', ARGV[8])
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[3])
return 1
`)

	redisUpdateStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'ts', ARGV[3])
local wa = redis.call('HGET', KEYS[1], 'wa_id')
redis.call('ZADD', ARGV[4] .. ':chat:' .. wa, ARGV[3], ARGV[1])
return 1
`)

	redisMarkReadScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. ':msg:' .. id
  if redis.call('HGET', key, 'status') == 'sent' then
    redis.call('HSET', key, 'status', 'read')
    n = n + 1
  end
end
return n
`)
)

type redisMessage struct {
	MessageID string `redis:"message_id"`
	From      string `redis:"sender"`
	WaID      string `redis:"wa_id"`
	Name      string `redis:"contact_name"`
	Text      string `redis:"body"`
	Type      string `redis:"msg_type"`
	TSMicros  int64  `redis:"ts"`
	Status    string `redis:"status"`
}

func (r redisMessage) message() Message {
	return Message{
		MessageID: r.MessageID,
		From:      r.From,
		WaID:      r.WaID,
		Name:      r.Name,
		Text:      r.Text,
		Type:      r.Type,
		Timestamp: time.UnixMicro(r.TSMicros).UTC(),
		Status:    Status(r.Status),
	}
}

// NewRedisStore connects to redisURL (redis://...) and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("chat: parse redis url: %w", err)
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, persistErr("redis ping", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return persistErr("redis ping", s.client.Ping(ctx).Err())
}

func (s *RedisStore) msgKey(id string) string     { return fmt.Sprintf("%s:msg:%s", s.prefix, id) }
func (s *RedisStore) chatKey(waID string) string { return fmt.Sprintf("%s:chat:%s", s.prefix, waID) }
func (s *RedisStore) chatsKey() string           { return s.prefix + ":chats" }

// InsertIfAbsent inserts m unless its message id exists.
func (s *RedisStore) InsertIfAbsent(ctx context.Context, m Message) (bool, error) {
	if err := validateMessage(m); err != nil {
		return false, err
	}

	n, err := redisInsertScript.Run(ctx, s.client,
		[]string{s.msgKey(m.MessageID), s.chatKey(m.WaID), s.chatsKey()},
		m.MessageID, m.From, m.WaID, m.Name, m.Text, m.Type,
		strconv.FormatInt(m.Timestamp.UnixMicro(), 10), string(m.Status),
	).Int()
	if err != nil {
		return false, persistErr("redis insert", err)
	}
	return n == 1, nil
}

// Insert inserts m; an existing id yields ErrDuplicate.
func (s *RedisStore) Insert(ctx context.Context, m Message) error {
	inserted, err := s.InsertIfAbsent(ctx, m)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrDuplicate
	}
	return nil
}

// UpdateStatus sets status and ts for messageID and re-scores it in its chat.
func (s *RedisStore) UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (bool, error) {
	n, err := redisUpdateStatusScript.Run(ctx, s.client,
		[]string{s.msgKey(messageID)},
		messageID, string(status), strconv.FormatInt(ts.UnixMicro(), 10), s.prefix,
	).Int()
	if err != nil {
		return false, persistErr("redis update status", err)
	}
	return n == 1, nil
}

// FindByChat returns all messages of waID ordered by ts ASC.
func (s *RedisStore) FindByChat(ctx context.Context, waID string) ([]Message, error) {
	ids, err := s.client.ZRange(ctx, s.chatKey(waID), 0, -1).Result()
	if err != nil {
		return nil, persistErr("redis find", err)
	}
	out, err := s.load(ctx, ids)
	if err != nil {
		return nil, persistErr("redis find", err)
	}
	return out, nil
}

// ListConversations returns the most recent message per wa_id.
func (s *RedisStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	waIDs, err := s.client.SMembers(ctx, s.chatsKey()).Result()
	if err != nil {
		return nil, persistErr("redis conversations", err)
	}

	pipe := s.client.Pipeline()
	heads := make([]*redis.StringSliceCmd, len(waIDs))
	for i, waID := range waIDs {
		heads[i] = pipe.ZRevRange(ctx, s.chatKey(waID), 0, 0)
	}
	if len(waIDs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, persistErr("redis conversations", err)
		}
	}

	ids := make([]string, 0, len(heads))
	for _, cmd := range heads {
		if v := cmd.Val(); len(v) == 1 {
			ids = append(ids, v[0])
		}
	}
	latest, err := s.load(ctx, ids)
	if err != nil {
		return nil, persistErr("redis conversations", err)
	}

	out := make([]Conversation, 0, len(latest))
	for _, m := range latest {
		out = append(out, Conversation{WaID: m.WaID, Name: m.Name, Last: m})
	}
	sortConversations(out)
	return out, nil
}

// LatestInChat returns the most recent message of waID or ErrNotFound.
func (s *RedisStore) LatestInChat(ctx context.Context, waID string) (Message, error) {
	ids, err := s.client.ZRevRange(ctx, s.chatKey(waID), 0, 0).Result()
	if err != nil {
		return Message{}, persistErr("redis latest", err)
	}
	if len(ids) == 0 {
		return Message{}, ErrNotFound
	}
	out, err := s.load(ctx, ids)
	if err != nil {
		return Message{}, persistErr("redis latest", err)
	}
	if len(out) == 0 {
		return Message{}, ErrNotFound
	}
	return out[0], nil
}

// MarkAllRead moves every sent message of waID to read.
func (s *RedisStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	n, err := redisMarkReadScript.Run(ctx, s.client, []string{s.chatKey(waID)}, s.prefix).Int64()
	if err != nil {
		return 0, persistErr("redis mark read", err)
	}
	return n, nil
}

// load fetches message hashes in ids order, skipping ids whose hash is gone.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return []Message{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.msgKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]Message, 0, len(ids))
	for _, cmd := range cmds {
		var rec redisMessage
		if err := cmd.Scan(&rec); err != nil {
			return nil, err
		}
		if rec.MessageID == "" {
			continue
		}
		out = append(out, rec.message())
	}
	return out, nil
}
