package server

import (
	"net/http"

	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
	"github.com/rs/zerolog/log"
)

// SessionLoader resolves the caller's server-side session.
type SessionLoader interface {
	Load(r *http.Request) (sessions.Session, bool)
}

// ClaimsReader verifies a bearer token's signature, issuer and audience without enforcing its lifetime.
type ClaimsReader interface {
	PrincipalFromToken(raw string) (*token.Claims, error)
}

const (
	bindingReasonNoSession      = "no_session_token_id"
	bindingReasonNotWhitelisted = "not_whitelisted"
	bindingReasonInvalidToken   = "invalid_token"
	bindingReasonMismatch       = "token_id_mismatch"
)

// SessionBinding rejects bearer requests whose token does not belong to the caller's session.
// The token's jti has to equal the refresh token id stored in the session and that id has to be
// whitelisted. Requests without a bearer token are passed through untouched.
func SessionBinding(loader SessionLoader, wl whitelist.Whitelist, claims ClaimsReader, m *metrics.Collector) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next(w, r)
				return
			}

			reject := func(reason string) {
				log.Debug().Str("reason", reason).Str("path", r.URL.Path).Msg("session binding rejected request")
				m.BindingRejected(reason)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}

			session, ok := loader.Load(r)
			if !ok {
				reject(bindingReasonNoSession)
				return
			}
			refreshTokenID, ok := session.RefreshTokenID()
			if !ok {
				reject(bindingReasonNoSession)
				return
			}
			if _, ok := wl.TryGet(r.Context(), refreshTokenID); !ok {
				reject(bindingReasonNotWhitelisted)
				return
			}
			principal, err := claims.PrincipalFromToken(raw)
			if err != nil {
				reject(bindingReasonInvalidToken)
				return
			}
			if principal.RefreshTokenID() != refreshTokenID {
				reject(bindingReasonMismatch)
				return
			}

			next(w, r)
		}
	}
}
