// Package handoff persists chat identities that cross a browsing context:
// the one-shot "open in new tab" handoff and long-lived short links.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatnav/internal/chatid"
	"chatnav/internal/metrics"
)

const (
	HandoffKey      = "chat_url_navigator:handoff"
	ShortLinkPrefix = "chat_url_navigator:link:"

	DefaultHandoffTTL   = 10 * time.Second
	DefaultShortLinkTTL = 7 * 24 * time.Hour
)

var ErrMalformedRecord = errors.New("malformed persisted record")

// Record is the stored shape of both handoff and short-link entries.
type Record struct {
	Timestamp int64           `json:"timestamp"` // epoch ms
	ChatInfo  chatid.Identity `json:"chatInfo"`
}

type Options struct {
	HandoffTTL   time.Duration
	ShortLinkTTL time.Duration
	Logger       zerolog.Logger
	// Now overrides the clock used for record timestamps and expiry.
	Now func() time.Time
}

// RedisStore keeps handoff and short-link records in Redis. Expiry is decided
// from the record timestamp on read; the Redis TTL only reclaims records
// nobody reads.
type RedisStore struct {
	client       *redis.Client
	handoffTTL   time.Duration
	shortLinkTTL time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, opts), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, opts Options) *RedisStore {
	s := &RedisStore{
		client:       client,
		handoffTTL:   opts.HandoffTTL,
		shortLinkTTL: opts.ShortLinkTTL,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if s.handoffTTL <= 0 {
		s.handoffTTL = DefaultHandoffTTL
	}
	if s.shortLinkTTL <= 0 {
		s.shortLinkTTL = DefaultShortLinkTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func shortLinkKey(token string) string {
	return ShortLinkPrefix + token
}

// Publish stores id as the handoff record, replacing any unconsumed one.
func (s *RedisStore) Publish(ctx context.Context, id chatid.Identity) error {
	data, err := s.encode(id)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, HandoffKey, data, s.handoffTTL).Err(); err != nil {
		metrics.HandoffOps.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("publish handoff: %w", err)
	}
	metrics.HandoffOps.WithLabelValues("publish", "ok").Inc()
	return nil
}

// Consume takes the handoff record. The record is deleted whether or not it
// is still fresh, so at most one reader ever receives it.
func (s *RedisStore) Consume(ctx context.Context) (chatid.Identity, bool, error) {
	data, err := s.client.GetDel(ctx, HandoffKey).Result()
	if err == redis.Nil {
		metrics.HandoffOps.WithLabelValues("consume", "empty").Inc()
		return chatid.Identity{}, false, nil
	}
	if err != nil {
		metrics.HandoffOps.WithLabelValues("consume", "error").Inc()
		return chatid.Identity{}, false, fmt.Errorf("consume handoff: %w", err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", HandoffKey).Msg("discarding unreadable handoff record")
		metrics.HandoffOps.WithLabelValues("consume", "malformed").Inc()
		return chatid.Identity{}, false, nil
	}
	if s.expired(record, s.handoffTTL) {
		metrics.HandoffOps.WithLabelValues("consume", "expired").Inc()
		return chatid.Identity{}, false, nil
	}

	metrics.HandoffOps.WithLabelValues("consume", "ok").Inc()
	return record.ChatInfo, true, nil
}

// CreateShortLink stores id under a fresh token and returns the token.
func (s *RedisStore) CreateShortLink(ctx context.Context, id chatid.Identity) (string, error) {
	data, err := s.encode(id)
	if err != nil {
		return "", err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.client.Set(ctx, shortLinkKey(token), data, s.shortLinkTTL).Err(); err != nil {
		metrics.HandoffOps.WithLabelValues("create_link", "error").Inc()
		return "", fmt.Errorf("save short link: %w", err)
	}
	metrics.HandoffOps.WithLabelValues("create_link", "ok").Inc()
	return token, nil
}

// ResolveShortLink returns the identity behind token. Expired and unreadable
// records are deleted and reported as absent.
func (s *RedisStore) ResolveShortLink(ctx context.Context, token string) (chatid.Identity, bool, error) {
	key := shortLinkKey(token)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		metrics.HandoffOps.WithLabelValues("resolve_link", "empty").Inc()
		return chatid.Identity{}, false, nil
	}
	if err != nil {
		metrics.HandoffOps.WithLabelValues("resolve_link", "error").Inc()
		return chatid.Identity{}, false, fmt.Errorf("lookup short link: %w", err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable short link")
		metrics.HandoffOps.WithLabelValues("resolve_link", "malformed").Inc()
		return chatid.Identity{}, false, s.discard(ctx, key)
	}
	if s.expired(record, s.shortLinkTTL) {
		metrics.HandoffOps.WithLabelValues("resolve_link", "expired").Inc()
		return chatid.Identity{}, false, s.discard(ctx, key)
	}

	metrics.HandoffOps.WithLabelValues("resolve_link", "ok").Inc()
	return record.ChatInfo, true, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) encode(id chatid.Identity) ([]byte, error) {
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(Record{Timestamp: s.now().UnixMilli(), ChatInfo: id})
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func (s *RedisStore) expired(record Record, ttl time.Duration) bool {
	age := s.now().Sub(time.UnixMilli(record.Timestamp))
	return age >= ttl
}

func (s *RedisStore) discard(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func decodeRecord(data string) (Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if record.Timestamp <= 0 {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	if err := record.ChatInfo.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return record, nil
}
