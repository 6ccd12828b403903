package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
)

// InMemoryRepo is an in-memory implementation of Repo
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session
	nowFunc  func() time.Time
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo(nowFunc func() time.Time) *InMemoryRepo {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &InMemoryRepo{
		sessions: make(map[string]Session),
		nowFunc:  nowFunc,
	}
}

// Upsert creates or updates a session
func (r *InMemoryRepo) Upsert(_ context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("sessionID is required")
	}

	values := make(map[string]string, len(session.Values))
	for k, v := range session.Values {
		values[k] = v
	}
	session.Values = values

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

// Get retrieves a session. Expired sessions are dropped and reported as ErrSessionExpired.
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, fmt.Errorf("sessionID is required")
	}

	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return Session{}, apperrors.ErrSessionNotFound
	}

	if expired(session, r.nowFunc()) {
		r.mu.Lock()
		// The session may have been extended since the read lock was released.
		current, ok := r.sessions[sessionID]
		if !ok || expired(current, r.nowFunc()) {
			delete(r.sessions, sessionID)
			r.mu.Unlock()
			return Session{}, apperrors.ErrSessionExpired
		}
		session = current
		r.mu.Unlock()
	}

	values := make(map[string]string, len(session.Values))
	for k, v := range session.Values {
		values[k] = v
	}
	session.Values = values
	return session, nil
}

// Delete removes a session
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// Cleanup drops expired sessions.
func (r *InMemoryRepo) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	for id, session := range r.sessions {
		if expired(session, now) {
			delete(r.sessions, id)
		}
	}
}

func expired(session Session, now time.Time) bool {
	return !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(now)
}
