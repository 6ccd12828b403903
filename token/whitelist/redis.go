package whitelist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultRedisPrefix = "storefront:whitelist:"

// Redis stores entries as JSON values whose TTL matches the access token expiry,
// so several service instances can share one whitelist.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

var _ Whitelist = (*Redis)(nil)

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func WithRedisNowFunc(now func() time.Time) RedisOption {
	return func(r *Redis) {
		r.nowFunc = now
	}
}

func NewRedis(client redis.UniversalClient, options ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  DefaultRedisPrefix,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Set(ctx context.Context, id, token string, expireAt time.Time) error {
	ttl := expireAt.Sub(r.nowFunc())
	if ttl <= 0 {
		return r.Remove(ctx, id)
	}

	payload, err := json.Marshal(Entry{Token: token, ExpiresAt: expireAt})
	if err != nil {
		return fmt.Errorf("whitelist.Redis.Set marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("whitelist.Redis.Set: %w", err)
	}
	return nil
}

func (r *Redis) TryGet(ctx context.Context, id string) (Entry, bool) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		log.Err(err).Msg("whitelist.Redis.TryGet")
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Err(err).Msg("whitelist.Redis.TryGet unmarshal")
		return Entry{}, false
	}
	if !entry.ExpiresAt.After(r.nowFunc()) {
		return Entry{}, false
	}
	return entry, true
}

func (r *Redis) Remove(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("whitelist.Redis.Remove: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("whitelist.Redis.Clear scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("whitelist.Redis.Clear: %w", err)
	}
	return nil
}

// Len counts the keys under the prefix. Errors are logged and reported as zero.
func (r *Redis) Len() int {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	n := 0
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		log.Err(err).Msg("whitelist.Redis.Len")
		return 0
	}
	return n
}
