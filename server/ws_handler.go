package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-auth-session/auth"
)

const writeWait = 10 * time.Second

// SessionEventsHandler upgrades to a websocket and streams a session snapshot
// on connect and after every change. Each connection mounts its own store, so
// the provider subscription lives as long as at least one client is connected.
func (s *Server) SessionEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response
			s.log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer func() { _ = conn.Close() }()

		// changed coalesces bursts; the writer always sends the latest snapshot.
		changed := make(chan struct{}, 1)
		store, err := s.manager.Mount(r.Context(), auth.WithOnChange(func(auth.Snapshot) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}))
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
				time.Now().Add(writeWait))
			return
		}
		defer store.Unmount()

		closed := s.readUntilClosed(conn)

		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()

		if err := s.writeSnapshot(conn, store); err != nil {
			return
		}
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-changed:
				if err := s.writeSnapshot(conn, store); err != nil {
					s.log.Debug().Err(err).Msg("websocket write failed")
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, store *auth.Store) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(newSessionResponse(store.Snapshot()))
}

// readUntilClosed drains client frames so pongs and close frames are
// processed. The returned channel is closed once the peer goes away.
func (s *Server) readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	pongWait := 2 * s.pingInterval

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket closed")
				}
				return
			}
		}
	}()
	return closed
}
