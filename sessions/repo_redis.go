package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "storefront:session:"

// RedisRepo keeps sessions in Redis so they survive restarts and are shared between instances.
type RedisRepo struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

var _ Repo = (*RedisRepo)(nil)

func NewRedisRepo(client redis.UniversalClient, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepo{client: client, prefix: prefix, nowFunc: time.Now}
}

func (r *RedisRepo) Upsert(ctx context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("sessionID is required")
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.nowFunc())
		if ttl <= 0 {
			return r.Delete(ctx, session.ID)
		}
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessions.RedisRepo.Upsert marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+session.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("sessions.RedisRepo.Upsert: %w", err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	data, err := r.client.Get(ctx, r.prefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("sessions.RedisRepo.Get: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("sessions.RedisRepo.Get unmarshal: %w", err)
	}
	return session, nil
}

func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("sessions.RedisRepo.Delete: %w", err)
	}
	return nil
}
