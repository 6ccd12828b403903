package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/storefront-auth/auth"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/rs/zerolog/log"
)

const (
	socketWriteWait  = 10 * time.Second
	socketCloseGrace = time.Second
)

// SessionMessage is pushed over the session socket after every revalidation.
type SessionMessage struct {
	State  auth.State   `json:"state"`
	Valid  bool         `json:"valid"`
	Notice *auth.Notice `json:"notice,omitempty"`
}

// SessionSocketHandler upgrades to a websocket and streams revalidation results for the
// session named by the request cookie. The socket is closed after a logout notice.
func (s *Server) SessionSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, hasSession := s.sessions.Load(r)

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("SessionSocketHandler upgrade")
			return
		}
		defer conn.Close()

		if !hasSession {
			_ = writeSessionMessage(conn, auth.Unauthenticated())
			closeSocket(conn, websocket.CloseNormalClosure, string(auth.StateUnauthenticated))
			return
		}

		s.metrics.CircuitOpened()
		defer s.metrics.CircuitClosed()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The reader only watches for the peer going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		sessionID := session.ID
		source := func(ctx context.Context) (sessions.Session, bool) {
			return s.sessions.Get(ctx, sessionID)
		}

		results := make(chan auth.Result)
		go s.monitor.Run(ctx, source, results)

		for result := range results {
			if err := writeSessionMessage(conn, result); err != nil {
				log.Debug().Err(err).Msg("SessionSocketHandler write")
				cancel()
				continue
			}
			if !result.Valid {
				closeSocket(conn, websocket.CloseNormalClosure, string(result.State))
			}
		}
	}
}

func writeSessionMessage(conn *websocket.Conn, result auth.Result) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(SessionMessage{
		State:  result.State,
		Valid:  result.Valid,
		Notice: result.Notice,
	})
}

func closeSocket(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(socketCloseGrace))
}
