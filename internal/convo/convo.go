// Package convo is the multi-turn conversation store: metadata plus an
// ordered, length-bounded message list, co-located in the same Redis
// service as internal/gwstore per spec section 3's ownership summary.
// Grounded on the same connection/TTL shape as internal/daemon/redis_wisp_store.go.
package convo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
	"github.com/steveyegge/gatewayd/internal/idgen"
)

const defaultMessageCap = 100

// Option configures a Store.
type Option func(*Store)

// WithNamespace sets the Redis key namespace prefix.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithTTL sets the TTL applied to conversation and message-list keys.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMessageCap bounds the number of messages retained per conversation.
func WithMessageCap(cap int) Option {
	return func(s *Store) {
		if cap > 0 {
			s.messageCap = cap
		}
	}
}

// Store is the Redis-backed conversation store.
type Store struct {
	client     *redis.Client
	namespace  string
	ttl        time.Duration
	messageCap int
}

// New wraps an already-connected Redis client. The gateway shares one
// Redis connection between gwstore and convo (spec section 3: "co-located
// in the same key-value service"), so New takes the client rather than a URL.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		namespace:  "gw",
		ttl:        24 * time.Hour,
		messageCap: defaultMessageCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) metaKey(id string) string     { return s.namespace + ":conversation:" + id }
func (s *Store) messagesKey(id string) string { return s.namespace + ":conversation:" + id + ":messages" }
func (s *Store) indexKey() string             { return s.namespace + ":conversations:index" }

// Create mints a new conversation. If systemPrompt is non-empty, one system
// message is atomically appended as part of creation.
func (s *Store) Create(ctx context.Context, model, systemPrompt string, metadata map[string]any) (*gwtypes.Conversation, error) {
	now := time.Now().UTC()
	conv := &gwtypes.Conversation{
		ConversationID: idgen.ConversationID(),
		Model:          model,
		SystemPrompt:   systemPrompt,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       metadata,
	}
	if systemPrompt != "" {
		conv.MessageCount = 1
	}

	metaJSON, err := json.Marshal(conv)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding conversation")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.metaKey(conv.ConversationID), metaJSON, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), conv.ConversationID)
	if systemPrompt != "" {
		msg := gwtypes.Message{Role: gwtypes.RoleSystem, Content: systemPrompt, Timestamp: now}
		msgJSON, err := json.Marshal(msg)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding system message")
		}
		pipe.RPush(ctx, s.messagesKey(conv.ConversationID), msgJSON)
		pipe.Expire(ctx, s.messagesKey(conv.ConversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "creating conversation")
	}

	return conv, nil
}

// Get returns conversation metadata, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*gwtypes.Conversation, error) {
	b, err := s.client.Get(ctx, s.metaKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting conversation")
	}
	var conv gwtypes.Conversation
	if err := json.Unmarshal(b, &conv); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "decoding conversation")
	}
	return &conv, nil
}

// Update patches metadata fields and refreshes TTL. Pass an updater that
// mutates the loaded conversation in place.
func (s *Store) Update(ctx context.Context, id string, updater func(*gwtypes.Conversation)) (*gwtypes.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, gwerrors.New(gwerrors.CodeNotFound, "conversation %s not found", id)
	}
	updater(conv)
	conv.UpdatedAt = time.Now().UTC()

	b, err := json.Marshal(conv)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding conversation")
	}
	if err := s.client.Set(ctx, s.metaKey(id), b, s.ttl).Err(); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "updating conversation")
	}
	return conv, nil
}

// Delete removes a conversation and its message list.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.metaKey(id), s.messagesKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "deleting conversation")
	}
	return nil
}

// AppendMessage appends one message, refreshes TTL on both keys, bumps
// message_count, and trims the message list to the configured cap,
// dropping the oldest (tail-last: newest messages are kept).
func (s *Store) AppendMessage(ctx context.Context, id string, msg gwtypes.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding message")
	}

	exists, err := s.client.Exists(ctx, s.metaKey(id)).Result()
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "checking conversation existence")
	}
	if exists == 0 {
		return gwerrors.New(gwerrors.CodeNotFound, "conversation %s not found", id)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(id), b)
	pipe.LTrim(ctx, s.messagesKey(id), int64(-s.messageCap), -1)
	pipe.Expire(ctx, s.messagesKey(id), s.ttl)
	pipe.Expire(ctx, s.metaKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "appending message")
	}

	if _, err := s.Update(ctx, id, func(c *gwtypes.Conversation) {
		c.MessageCount++
	}); err != nil {
		return err
	}
	return nil
}

// Messages returns up to limit of the most recent messages, in insertion
// order. limit<=0 returns the full retained history.
func (s *Store) Messages(ctx context.Context, id string, limit int64) ([]gwtypes.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(id), start, -1).Result()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting messages")
	}
	out := make([]gwtypes.Message, 0, len(raw))
	for _, r := range raw {
		var m gwtypes.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "decoding message")
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteMessages clears a conversation's message list without deleting the
// conversation itself.
func (s *Store) DeleteMessages(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.messagesKey(id)).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "clearing messages")
	}
	_, err := s.Update(ctx, id, func(c *gwtypes.Conversation) { c.MessageCount = 0 })
	return err
}
