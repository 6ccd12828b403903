package sessions_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessions.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", sessions.CookieName)
	return nil
}

func TestStoreSaveLoadClear(t *testing.T) {
	store := sessions.NewStore(sessions.NewInMemoryRepo(nil), sessions.WithLifetime(time.Hour))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	saved, err := store.Save(rec, req, map[string]string{
		sessions.KeyRefreshTokenID: "refresh-1",
		sessions.KeyAccessToken:    "token-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	cookie := sessionCookie(t, rec)
	require.Equal(t, saved.ID, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	t.Run("load by cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.AddCookie(cookie)
		loaded, ok := store.Load(req)
		require.True(t, ok)
		id, ok := loaded.RefreshTokenID()
		require.True(t, ok)
		require.Equal(t, "refresh-1", id)
		tok, ok := loaded.AccessToken()
		require.True(t, ok)
		require.Equal(t, "token-1", tok)
	})

	t.Run("save reuses the session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(cookie)
		updated, err := store.Save(httptest.NewRecorder(), req, map[string]string{sessions.KeyAccessToken: "token-2"})
		require.NoError(t, err)
		require.Equal(t, saved.ID, updated.ID)
		require.Equal(t, "refresh-1", updated.Values[sessions.KeyRefreshTokenID])
		require.Equal(t, "token-2", updated.Values[sessions.KeyAccessToken])
	})

	t.Run("clear", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		require.NoError(t, store.Clear(rec, req))
		require.Equal(t, -1, sessionCookie(t, rec).MaxAge)

		_, ok := store.Load(req)
		require.False(t, ok)
	})

	t.Run("no cookie", func(t *testing.T) {
		_, ok := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
		require.False(t, ok)
	})
}

func TestInMemoryRepoExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := sessions.NewInMemoryRepo(func() time.Time { return now })

	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", ExpiresAt: now.Add(time.Minute)}))
	_, err := repo.Get(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = repo.Get(ctx, "s1")
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)

	_, err = repo.Get(ctx, "s1")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestInMemoryRepoGetKeepsExtendedSession(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var repo *sessions.InMemoryRepo
	extended := false
	repo = sessions.NewInMemoryRepo(func() time.Time {
		// A save lands between the stale read and the expiry check.
		if !extended {
			extended = true
			require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", ExpiresAt: base.Add(time.Hour)}))
		}
		return base.Add(2 * time.Minute)
	})
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", ExpiresAt: base.Add(time.Minute)}))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, got.ExpiresAt.Equal(base.Add(time.Hour)))

	_, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
}

func TestStoreRotate(t *testing.T) {
	repo := sessions.NewInMemoryRepo(nil)
	store := sessions.NewStore(repo, sessions.WithLifetime(time.Hour))

	rec := httptest.NewRecorder()
	planted, err := store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"stale": "x"})
	require.NoError(t, err)
	oldCookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.AddCookie(oldCookie)
	rec = httptest.NewRecorder()
	rotated, err := store.Rotate(rec, req, map[string]string{sessions.KeyRefreshTokenID: "refresh-1"})
	require.NoError(t, err)

	require.NotEqual(t, planted.ID, rotated.ID)
	require.Equal(t, rotated.ID, sessionCookie(t, rec).Value)
	require.Equal(t, map[string]string{sessions.KeyRefreshTokenID: "refresh-1"}, rotated.Values)

	_, err = repo.Get(context.Background(), planted.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	t.Run("without a cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fresh, err := store.Rotate(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil), nil)
		require.NoError(t, err)
		require.NotEmpty(t, fresh.ID)
		require.Equal(t, fresh.ID, sessionCookie(t, rec).Value)
	})
}

func TestInMemoryRepoCopiesValues(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo(nil)

	values := map[string]string{"k": "v"}
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", Values: values}))
	values["k"] = "mutated"

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "v", got.Values["k"])
}

func TestRedisRepo(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := sessions.NewRedisRepo(rdb, "")
	session := sessions.Session{
		ID:        "s1",
		Values:    map[string]string{sessions.KeyRefreshTokenID: "r1"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.Upsert(ctx, session))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "r1", got.Values[sessions.KeyRefreshTokenID])
	require.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

	mr.FastForward(2 * time.Hour)
	_, err = repo.Get(ctx, "s1")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.NoError(t, repo.Delete(ctx, "missing"))
}
