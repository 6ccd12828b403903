package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/storefront-auth/auth"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/stretchr/testify/require"
)

func setupMonitor(t *testing.T, f *testFixture, store auth.UserStore) *auth.Monitor {
	t.Helper()
	if store == nil {
		store = f.directory
	}
	m, err := auth.NewMonitor(f.tokens, store,
		auth.WithRevalidationInterval(10*time.Minute),
		auth.WithThresholds(5*time.Minute, time.Minute, 30*time.Second),
		auth.WithMonitorNowFunc(f.clock.Now),
	)
	require.NoError(t, err)
	return m
}

// loginSession logs the test user in and returns the session a login handler would store.
func loginSession(t *testing.T, f *testFixture) sessions.Session {
	t.Helper()
	grant, err := f.service.Login(context.Background(), testUsername, testUserPassword)
	require.NoError(t, err)
	return sessions.Session{
		ID: "session-1",
		Values: map[string]string{
			sessions.KeyRefreshTokenID: grant.RefreshTokenID,
			sessions.KeyAccessToken:    grant.AccessToken.Raw,
		},
	}
}

func TestRevalidateExpiry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		remaining time.Duration
		valid     bool
		state     auth.State
		notice    auth.NoticeKind
		reason    auth.LogoutReason
	}{
		{name: "ten minutes left", remaining: 10 * time.Minute, valid: true, state: auth.StateAuthenticated},
		{name: "four minutes left", remaining: 4 * time.Minute, valid: true, state: auth.StateExpiringSoon, notice: auth.NoticeExpiringSoon},
		{name: "five minutes left", remaining: 5 * time.Minute, valid: true, state: auth.StateExpiringSoon, notice: auth.NoticeExpiringSoon},
		{name: "one minute left", remaining: time.Minute, valid: true, state: auth.StateExpiringImminently, notice: auth.NoticeOneMinuteLeft},
		{name: "thirty seconds left", remaining: 30 * time.Second, valid: false, state: auth.StateLoggedOut, notice: auth.NoticeLogoutNeeded, reason: auth.ReasonTokenExpired},
		// The whitelist has already evicted the entry.
		{name: "already expired", remaining: -time.Minute, valid: false, state: auth.StateLoggedOut, notice: auth.NoticeLogoutNeeded, reason: auth.ReasonTokenRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			m := setupMonitor(t, f, nil)
			session := loginSession(t, f)

			validTo := f.clock.Now().Add(30 * time.Minute)
			f.clock.Advance(30*time.Minute - tt.remaining)

			result := m.Revalidate(ctx, session)
			require.Equal(t, tt.valid, result.Valid)
			require.Equal(t, tt.state, result.State)

			if tt.notice == "" {
				require.Nil(t, result.Notice)
				return
			}
			require.NotNil(t, result.Notice)
			require.Equal(t, tt.notice, result.Notice.Kind)
			if tt.valid {
				require.NotNil(t, result.Notice.ValidTo)
				require.True(t, validTo.Equal(*result.Notice.ValidTo))
			} else {
				require.Nil(t, result.Notice.ValidTo)
				require.Equal(t, tt.reason, result.Notice.Reason)
			}
		})
	}
}

func TestRevalidateLogoutReasons(t *testing.T) {
	ctx := context.Background()

	t.Run("session without refresh id", func(t *testing.T) {
		f := setupTestFixture(t)
		m := setupMonitor(t, f, nil)

		result := m.Revalidate(ctx, sessions.Session{ID: "s"})
		require.False(t, result.Valid)
		require.Equal(t, auth.ReasonSessionMissing, result.Notice.Reason)
	})

	t.Run("revoked identifier", func(t *testing.T) {
		f := setupTestFixture(t)
		m := setupMonitor(t, f, nil)
		session := loginSession(t, f)
		id, _ := session.RefreshTokenID()
		require.NoError(t, f.service.Logout(ctx, id))

		result := m.Revalidate(ctx, session)
		require.False(t, result.Valid)
		require.Equal(t, auth.StateLoggedOut, result.State)
		require.Equal(t, auth.NoticeLogoutNeeded, result.Notice.Kind)
		require.Equal(t, auth.ReasonTokenRevoked, result.Notice.Reason)
	})

	t.Run("credentials changed", func(t *testing.T) {
		f := setupTestFixture(t)
		m := setupMonitor(t, f, nil)
		session := loginSession(t, f)

		_, err := f.directory.ChangePassword(ctx, f.user.ID, testUserPassword, "Passw0rdTwo")
		require.NoError(t, err)

		result := m.Revalidate(ctx, session)
		require.False(t, result.Valid)
		require.Equal(t, auth.ReasonCredentialsChanged, result.Notice.Reason)
	})

	t.Run("stamp lookup error fails closed", func(t *testing.T) {
		f := setupTestFixture(t)
		session := loginSession(t, f)
		m := setupMonitor(t, f, stubUserStore{Directory: f.directory, stamp: func(context.Context, *users.User) (string, bool, error) {
			return "", false, errors.New("database unavailable")
		}})

		result := m.Revalidate(ctx, session)
		require.False(t, result.Valid)
		require.Equal(t, auth.ReasonUserUnavailable, result.Notice.Reason)
	})

	t.Run("stamp lookup panic fails closed", func(t *testing.T) {
		f := setupTestFixture(t)
		session := loginSession(t, f)
		m := setupMonitor(t, f, stubUserStore{Directory: f.directory, stamp: func(context.Context, *users.User) (string, bool, error) {
			panic("driver bug")
		}})

		result := m.Revalidate(ctx, session)
		require.False(t, result.Valid)
		require.Equal(t, auth.ReasonUserUnavailable, result.Notice.Reason)
	})

	t.Run("store without stamps skips the check", func(t *testing.T) {
		f := setupTestFixture(t)
		session := loginSession(t, f)
		m := setupMonitor(t, f, stubUserStore{Directory: f.directory, stamp: func(context.Context, *users.User) (string, bool, error) {
			return "", false, nil
		}})

		result := m.Revalidate(ctx, session)
		require.True(t, result.Valid)
		require.Equal(t, auth.StateAuthenticated, result.State)
	})
}

func TestNewMonitorValidation(t *testing.T) {
	f := setupTestFixture(t)

	_, err := auth.NewMonitor(nil, f.directory)
	require.Error(t, err)
	_, err = auth.NewMonitor(f.tokens, nil)
	require.Error(t, err)
	_, err = auth.NewMonitor(f.tokens, f.directory, auth.WithThresholds(time.Minute, 5*time.Minute, 30*time.Second))
	require.Error(t, err)
	_, err = auth.NewMonitor(f.tokens, f.directory, auth.WithThresholds(5*time.Minute, time.Minute, 2*time.Minute))
	require.Error(t, err)
	_, err = auth.NewMonitor(f.tokens, f.directory, auth.WithRevalidationInterval(0))
	require.Error(t, err)
}

func TestMonitorRun(t *testing.T) {
	t.Run("evaluates immediately and stops after logout", func(t *testing.T) {
		f := setupTestFixture(t)
		m, err := auth.NewMonitor(f.tokens, f.directory,
			auth.WithRevalidationInterval(10*time.Millisecond),
			auth.WithMonitorNowFunc(f.clock.Now),
		)
		require.NoError(t, err)
		session := loginSession(t, f)
		id, _ := session.RefreshTokenID()

		results := make(chan auth.Result)
		go m.Run(context.Background(), func(context.Context) (sessions.Session, bool) { return session, true }, results)

		first := <-results
		require.True(t, first.Valid)
		require.Equal(t, auth.StateAuthenticated, first.State)

		require.NoError(t, f.service.Logout(context.Background(), id))

		var last auth.Result
		for r := range results {
			last = r
		}
		require.False(t, last.Valid)
		require.Equal(t, auth.ReasonTokenRevoked, last.Notice.Reason)
	})

	t.Run("missing session logs out", func(t *testing.T) {
		f := setupTestFixture(t)
		m := setupMonitor(t, f, nil)

		results := make(chan auth.Result, 1)
		m.Run(context.Background(), func(context.Context) (sessions.Session, bool) { return sessions.Session{}, false }, results)

		result, ok := <-results
		require.True(t, ok)
		require.Equal(t, auth.ReasonSessionMissing, result.Notice.Reason)
		_, ok = <-results
		require.False(t, ok)
	})

	t.Run("cancellation closes the channel", func(t *testing.T) {
		f := setupTestFixture(t)
		m := setupMonitor(t, f, nil)
		session := loginSession(t, f)

		ctx, cancel := context.WithCancel(context.Background())
		results := make(chan auth.Result)
		done := make(chan struct{})
		go func() {
			m.Run(ctx, func(context.Context) (sessions.Session, bool) { return session, true }, results)
			close(done)
		}()

		<-results
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("monitor did not stop")
		}
		_, ok := <-results
		require.False(t, ok)
	})
}
