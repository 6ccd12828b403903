package sessions

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/cryptox"
	"github.com/rs/zerolog/log"
)

const DefaultLifetime = 8 * time.Hour

// Store ties server-side sessions to the CookieName cookie.
type Store struct {
	repo     Repo
	lifetime time.Duration
	nowFunc  func() time.Time
}

type StoreOption func(*Store)

func WithLifetime(lifetime time.Duration) StoreOption {
	return func(s *Store) {
		if lifetime > 0 {
			s.lifetime = lifetime
		}
	}
}

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(repo Repo, options ...StoreOption) *Store {
	s := &Store{
		repo:     repo,
		lifetime: DefaultLifetime,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Load returns the session referenced by the request cookie.
func (s *Store) Load(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, false
	}
	return s.Get(r.Context(), cookie.Value)
}

// Get returns a session by id. Lookup failures are logged and reported as a missing session.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, bool) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		log.Debug().Err(err).Msg("sessions.Store.Get")
		return Session{}, false
	}
	return session, true
}

// Save writes values into the request's session, creating a new session and cookie when
// none exists. Existing values not present in values are kept.
func (s *Store) Save(w http.ResponseWriter, r *http.Request, values map[string]string) (Session, error) {
	now := s.nowFunc()

	session, ok := s.Load(r)
	if !ok {
		created, err := newSession(now)
		if err != nil {
			return Session{}, fmt.Errorf("sessions.Store.Save: %w", err)
		}
		session = created
	}
	if session.Values == nil {
		session.Values = map[string]string{}
	}
	session, err := s.write(w, r, session, values, now)
	if err != nil {
		return Session{}, fmt.Errorf("sessions.Store.Save: %w", err)
	}
	return session, nil
}

// Rotate deletes the request's session, if any, and starts a new one under a fresh id holding
// only values. Logins use it so a session id planted before authentication is never promoted.
func (s *Store) Rotate(w http.ResponseWriter, r *http.Request, values map[string]string) (Session, error) {
	now := s.nowFunc()

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if err := s.repo.Delete(r.Context(), cookie.Value); err != nil {
			return Session{}, fmt.Errorf("sessions.Store.Rotate: %w", err)
		}
	}

	session, err := newSession(now)
	if err != nil {
		return Session{}, fmt.Errorf("sessions.Store.Rotate: %w", err)
	}
	if session, err = s.write(w, r, session, values, now); err != nil {
		return Session{}, fmt.Errorf("sessions.Store.Rotate: %w", err)
	}
	return session, nil
}

func newSession(now time.Time) (Session, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: id, Values: map[string]string{}, CreatedAt: now}, nil
}

// write merges values into session, persists it and refreshes the cookie.
func (s *Store) write(w http.ResponseWriter, r *http.Request, session Session, values map[string]string, now time.Time) (Session, error) {
	for k, v := range values {
		session.Values[k] = v
	}
	session.ExpiresAt = now.Add(s.lifetime)

	if err := s.repo.Upsert(r.Context(), session); err != nil {
		return Session{}, err
	}
	setSessionCookie(w, r, session.ID, int(s.lifetime.Seconds()))
	return session, nil
}

// Clear deletes the request's session and expires its cookie.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(CookieName)
	if err == nil && cookie.Value != "" {
		if err := s.repo.Delete(r.Context(), cookie.Value); err != nil {
			return fmt.Errorf("sessions.Store.Clear: %w", err)
		}
	}
	setSessionCookie(w, r, "", -1)
	return nil
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
