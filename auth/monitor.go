package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/internal/utils"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUnauthenticated    State = "unauthenticated"
	StateAuthenticated      State = "authenticated"
	StateExpiringSoon       State = "expiring_soon"
	StateExpiringImminently State = "expiring_imminently"
	StateLoggedOut          State = "logged_out"
)

type NoticeKind string

const (
	NoticeExpiringSoon  NoticeKind = "expiring_soon"
	NoticeOneMinuteLeft NoticeKind = "one_minute_left"
	NoticeLogoutNeeded  NoticeKind = "logout_needed"
)

type LogoutReason string

const (
	ReasonSessionMissing     LogoutReason = "session_missing"
	ReasonTokenRevoked       LogoutReason = "token_revoked"
	ReasonTokenInvalid       LogoutReason = "token_invalid"
	ReasonTokenExpired       LogoutReason = "token_expired"
	ReasonCredentialsChanged LogoutReason = "credentials_changed"
	ReasonUserUnavailable    LogoutReason = "user_unavailable"
)

// Notice is pushed to the client when a session nears expiry or has to be logged out.
// ValidTo is nil for logout notices.
type Notice struct {
	Kind    NoticeKind   `json:"kind"`
	ValidTo *time.Time   `json:"valid_to"`
	Reason  LogoutReason `json:"reason,omitempty"`
}

// Result is the outcome of one revalidation pass.
type Result struct {
	Valid  bool
	State  State
	Notice *Notice
}

// SessionSource returns the current state of the monitored session.
type SessionSource func(ctx context.Context) (sessions.Session, bool)

const (
	DefaultRevalidationInterval   = 10 * time.Minute
	DefaultExpiryWarningThreshold = 5 * time.Minute
	DefaultFinalWarningThreshold  = time.Minute
	DefaultLogoutMargin           = 30 * time.Second
)

// Monitor periodically revalidates an authenticated session against the whitelist
// and the user's security stamp.
type Monitor struct {
	tokens       *token.Manager
	users        UserStore
	metrics      *metrics.Collector
	interval     time.Duration
	warning      time.Duration
	finalWarning time.Duration
	logoutMargin time.Duration
	nowFunc      func() time.Time
}

type MonitorOption func(*Monitor)

func WithRevalidationInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithThresholds sets the expiry warning, final warning and logout margin durations.
func WithThresholds(warning, finalWarning, logoutMargin time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.warning = warning
		m.finalWarning = finalWarning
		m.logoutMargin = logoutMargin
	}
}

func WithMonitorNowFunc(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.nowFunc = now
	}
}

func WithMetrics(c *metrics.Collector) MonitorOption {
	return func(m *Monitor) {
		m.metrics = c
	}
}

func NewMonitor(tokens *token.Manager, users UserStore, options ...MonitorOption) (*Monitor, error) {
	if tokens == nil {
		return nil, errors.New("[NewMonitor] token manager is required")
	}
	if users == nil {
		return nil, errors.New("[NewMonitor] user store is required")
	}

	m := &Monitor{
		tokens:       tokens,
		users:        users,
		interval:     DefaultRevalidationInterval,
		warning:      DefaultExpiryWarningThreshold,
		finalWarning: DefaultFinalWarningThreshold,
		logoutMargin: DefaultLogoutMargin,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(m)
	}

	if m.interval <= 0 {
		return nil, errors.New("[NewMonitor] revalidation interval must be positive")
	}
	if m.finalWarning > m.warning {
		return nil, fmt.Errorf("[NewMonitor] final warning %s exceeds warning %s", m.finalWarning, m.warning)
	}
	if m.logoutMargin >= m.finalWarning {
		return nil, fmt.Errorf("[NewMonitor] logout margin %s must be below final warning %s", m.logoutMargin, m.finalWarning)
	}
	return m, nil
}

// Revalidate checks the session once. A session whose token has less than the logout
// margin left counts as expired.
func (m *Monitor) Revalidate(ctx context.Context, session sessions.Session) Result {
	result := m.revalidate(ctx, session)
	m.metrics.Revalidated(string(result.State))
	return result
}

func (m *Monitor) revalidate(ctx context.Context, session sessions.Session) Result {
	refreshTokenID, ok := session.RefreshTokenID()
	if !ok {
		return loggedOut(ReasonSessionMissing)
	}

	entry, ok := m.tokens.Whitelisted(ctx, refreshTokenID)
	if !ok {
		return loggedOut(ReasonTokenRevoked)
	}

	claims, err := m.tokens.PrincipalFromToken(entry.Token)
	if err != nil || claims.RefreshTokenID() != refreshTokenID {
		return loggedOut(ReasonTokenInvalid)
	}

	validTo := claims.ValidTo()
	remaining := validTo.Sub(m.nowFunc())
	if remaining <= m.logoutMargin {
		return loggedOut(ReasonTokenExpired)
	}

	if reason, ok := m.checkSecurityStamp(ctx, claims); !ok {
		return loggedOut(reason)
	}

	switch {
	case remaining <= m.finalWarning:
		return Result{Valid: true, State: StateExpiringImminently, Notice: &Notice{Kind: NoticeOneMinuteLeft, ValidTo: utils.Ptr(validTo)}}
	case remaining <= m.warning:
		return Result{Valid: true, State: StateExpiringSoon, Notice: &Notice{Kind: NoticeExpiringSoon, ValidTo: utils.Ptr(validTo)}}
	default:
		return Result{Valid: true, State: StateAuthenticated}
	}
}

// checkSecurityStamp compares the stamp embedded in the token with the user's current one.
// Lookup errors and panics fail closed.
func (m *Monitor) checkSecurityStamp(ctx context.Context, claims *token.Claims) (reason LogoutReason, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user_id", claims.Subject).Msg("security stamp lookup panicked")
			reason, ok = ReasonUserUnavailable, false
		}
	}()

	current, supported, err := m.users.SecurityStamp(ctx, &users.User{ID: claims.Subject})
	if err != nil {
		log.Warn().Err(err).Str("user_id", claims.Subject).Msg("security stamp lookup failed")
		return ReasonUserUnavailable, false
	}
	if supported && current != claims.SecurityStamp {
		return ReasonCredentialsChanged, false
	}
	return "", true
}

// Unauthenticated is the result for a connection that carries no session at all.
func Unauthenticated() Result {
	return Result{Valid: false, State: StateUnauthenticated}
}

func loggedOut(reason LogoutReason) Result {
	return Result{
		Valid:  false,
		State:  StateLoggedOut,
		Notice: &Notice{Kind: NoticeLogoutNeeded, Reason: reason},
	}
}

// Run revalidates the session from source immediately and then on every interval, sending each
// result to results. It stops after the first invalid result or when ctx is done, and closes results.
func (m *Monitor) Run(ctx context.Context, source SessionSource, results chan<- Result) {
	defer close(results)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		var result Result
		if session, ok := source(ctx); ok {
			result = m.Revalidate(ctx, session)
		} else {
			result = loggedOut(ReasonSessionMissing)
			m.metrics.Revalidated(string(result.State))
		}

		select {
		case results <- result:
		case <-ctx.Done():
			return
		}
		if !result.Valid {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
