package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/jrsteele09/storefront-auth/auth"
	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/rs/zerolog/log"
)

const maxRequestBody = 1 << 16

// TokenResponse is returned by login, refresh and password change.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// MeResponse describes the authenticated principal.
type MeResponse struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	RefreshTokenID string    `json:"refresh_token_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// LoginHandler authenticates a username and password, binds the new refresh token id to the
// caller's session and returns the first access token. A refresh token id already held by the
// session is revoked.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeRequest(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse request body", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", "username and password are required", http.StatusBadRequest)
			return
		}

		grant, err := s.auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			s.metrics.Login("failure")
			if errors.Is(err, apperrors.ErrInvalidCredentials) {
				writeJSONError(w, "invalid_grant", "Invalid username or password", http.StatusUnauthorized)
				return
			}
			log.Err(err).Msg("LoginHandler")
			writeJSONError(w, "server_error", "Login failed", http.StatusInternalServerError)
			return
		}

		if previous, ok := s.sessions.Load(r); ok {
			if previousID, ok := previous.RefreshTokenID(); ok && previousID != grant.RefreshTokenID {
				if err := s.auth.Logout(r.Context(), previousID); err != nil {
					log.Err(err).Msg("LoginHandler revoke previous")
				} else {
					s.metrics.Revoked()
				}
			}
		}

		if err := s.rotateGrant(w, r, grant); err != nil {
			log.Err(err).Msg("LoginHandler")
			writeJSONError(w, "server_error", "Login failed", http.StatusInternalServerError)
			return
		}
		s.metrics.Login("success")
		writeJSON(w, http.StatusOK, s.tokenResponse(grant))
	}
}

// RefreshHandler issues a new access token for the session's refresh token id. The presented
// token comes from the bearer header, falling back to the one stored in the session.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.sessions.Load(r)
		if !ok {
			s.metrics.Refresh("failure")
			writeJSONError(w, "invalid_grant", "No session", http.StatusUnauthorized)
			return
		}
		refreshTokenID, _ := session.RefreshTokenID()

		presented, ok := bearerToken(r)
		if !ok {
			presented, _ = session.AccessToken()
		}

		grant, err := s.auth.Refresh(r.Context(), refreshTokenID, presented)
		if err != nil {
			s.metrics.Refresh("failure")
			if errors.Is(err, apperrors.ErrInvalidToken) {
				log.Debug().Err(err).Msg("RefreshHandler")
				writeJSONError(w, "invalid_grant", "Refresh rejected", http.StatusUnauthorized)
				return
			}
			log.Err(err).Msg("RefreshHandler")
			writeJSONError(w, "server_error", "Refresh failed", http.StatusInternalServerError)
			return
		}

		if err := s.saveGrant(w, r, grant); err != nil {
			log.Err(err).Msg("RefreshHandler")
			writeJSONError(w, "server_error", "Refresh failed", http.StatusInternalServerError)
			return
		}
		s.metrics.Refresh("success")
		writeJSON(w, http.StatusOK, s.tokenResponse(grant))
	}
}

// LogoutHandler revokes the session's refresh token id and clears the session. Always 204.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session, ok := s.sessions.Load(r); ok {
			if refreshTokenID, ok := session.RefreshTokenID(); ok {
				if err := s.auth.Logout(r.Context(), refreshTokenID); err != nil {
					log.Err(err).Msg("LogoutHandler")
					writeJSONError(w, "server_error", "Logout failed", http.StatusInternalServerError)
					return
				}
				s.metrics.Revoked()
			}
		}
		if err := s.sessions.Clear(w, r); err != nil {
			log.Err(err).Msg("LogoutHandler clear session")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MeHandler returns the principal of the validated access token.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "Missing claims", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, MeResponse{
			UserID:         claims.Subject,
			Username:       claims.Username,
			RefreshTokenID: claims.RefreshTokenID(),
			ExpiresAt:      claims.ValidTo(),
		})
	}
}

// ChangePasswordHandler changes the caller's password. The security stamp rotates, which logs out
// every other session of the user, while the caller's own token is reissued with the new stamp.
func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "Missing claims", http.StatusUnauthorized)
			return
		}

		var req changePasswordRequest
		if err := decodeRequest(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse request body", http.StatusBadRequest)
			return
		}

		user, err := s.directory.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword)
		switch {
		case errors.Is(err, apperrors.ErrWeakPassword):
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, apperrors.ErrInvalidCredentials), errors.Is(err, apperrors.ErrUserNotFound):
			writeJSONError(w, "invalid_grant", "Current password is incorrect", http.StatusUnauthorized)
			return
		case err != nil:
			log.Err(err).Msg("ChangePasswordHandler")
			writeJSONError(w, "server_error", "Password change failed", http.StatusInternalServerError)
			return
		}

		grant, err := s.auth.Reissue(r.Context(), claims.RefreshTokenID(), user)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidToken) {
				writeJSONError(w, "invalid_grant", "Session revoked", http.StatusUnauthorized)
				return
			}
			log.Err(err).Msg("ChangePasswordHandler")
			writeJSONError(w, "server_error", "Password change failed", http.StatusInternalServerError)
			return
		}
		if err := s.saveGrant(w, r, grant); err != nil {
			log.Err(err).Msg("ChangePasswordHandler")
			writeJSONError(w, "server_error", "Password change failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s.tokenResponse(grant))
	}
}

func (s *Server) saveGrant(w http.ResponseWriter, r *http.Request, grant auth.Grant) error {
	_, err := s.sessions.Save(w, r, grantValues(grant))
	return err
}

// rotateGrant stores the grant under a new session id, discarding whatever session the
// request arrived with.
func (s *Server) rotateGrant(w http.ResponseWriter, r *http.Request, grant auth.Grant) error {
	_, err := s.sessions.Rotate(w, r, grantValues(grant))
	return err
}

func grantValues(grant auth.Grant) map[string]string {
	return map[string]string{
		sessions.KeyRefreshTokenID: grant.RefreshTokenID,
		sessions.KeyAccessToken:    grant.AccessToken.Raw,
	}
}

func (s *Server) tokenResponse(grant auth.Grant) TokenResponse {
	return TokenResponse{
		AccessToken:  grant.AccessToken.Raw,
		TokenType:    "Bearer",
		ExpiresIn:    int(grant.ExpiresIn(time.Now()).Seconds()),
		ExpiresAt:    grant.AccessToken.ExpiresAt,
		RefreshToken: grant.RefreshTokenID,
	}
}

// decodeRequest reads a JSON body, or form values for any other content type.
func decodeRequest(r *http.Request, v any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(v)
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		return err
	}
	switch req := v.(type) {
	case *loginRequest:
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	case *changePasswordRequest:
		req.CurrentPassword = r.FormValue("current_password")
		req.NewPassword = r.FormValue("new_password")
	}
	return nil
}
