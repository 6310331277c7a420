package media

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// SessionHandler is invoked once per accepted carrier connection, after the
// handshake has validated the initial metadata message. Handlers own the
// Session for the lifetime of the call: they must call Session.Run and
// Session.Pace (typically in their own goroutines) and Session.Close when
// done.
type SessionHandler func(ctx context.Context, s *Session)

// Server terminates carrier WebSocket connections on MEDIA_LISTEN_ADDR
// and hands each accepted Session to a SessionHandler.
type Server struct {
	handler SessionHandler
}

// NewServer creates a Server that dispatches every accepted call to handler.
func NewServer(handler SessionHandler) *Server {
	return &Server{handler: handler}
}

// Handler returns the http.Handler to mount at the carrier's media endpoint.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /media", srv.handleUpgrade)
	return mux
}

func (srv *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Carriers do not send an Origin header that matches this host.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("media: websocket upgrade failed", "err", err)
		return
	}

	session, err := Accept(r.Context(), conn)
	if err != nil {
		slog.Warn("media: handshake failed", "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	slog.Info("media: call accepted",
		"call_sid", session.Meta().CallSID,
		"stream_sid", session.Meta().StreamSID,
		"from", session.Meta().From,
		"to", session.Meta().To,
	)

	srv.handler(r.Context(), session)
}
