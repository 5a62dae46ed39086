package subscriptions

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/gorilla/websocket"

	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// authTimeout is how long a fresh connection has to present its auth frame.
const authTimeout = 10 * time.Second

// TokenValidator checks a bearer token and returns the identity it carries.
type TokenValidator interface {
	ValidateAccessToken(token string) (tenantID, actorID string, err error)
}

// Server upgrades HTTP requests into subscription connections. The first
// frame on every connection must be auth; nothing is delivered before the
// token is validated.
type Server struct {
	hub       *Hub
	validator TokenValidator
	upgrader  websocket.Upgrader
	logger    ectologger.Logger
}

// NewServer creates a subscription server.
func NewServer(hub *Hub, validator TokenValidator, logger ectologger.Logger) *Server {
	return &Server{
		hub:       hub,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handle upgrades the request and runs the connection lifecycle.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "subscriptions.Server.Handle")
	defer span.End()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("WebSocket upgrade failed")
		return
	}

	tenantID, actorID, ok := s.authenticate(conn)
	if !ok {
		conn.Close()
		return
	}

	c := newClient(conn, s.hub, tenantID, actorID, s.logger)
	s.hub.register(c)

	go c.writePump()
	go c.readPump()

	c.enqueue(serverFrame{Type: FrameAuthenticated, Message: c.id})

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": c.id,
		"tenant_id":     tenantID,
	}).Info("Subscription connection established")
}

// authenticate reads the mandatory first frame. A token is validated; a bare
// tenant and actor pair is accepted as-is. Any other frame, a bad token, or
// silence past the deadline terminates the connection.
func (s *Server) authenticate(conn *websocket.Conn) (tenantID, actorID string, ok bool) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))

	_, message, err := conn.ReadMessage()
	if err != nil {
		writeErrorFrame(conn, ErrAuthRequired, "authentication frame required")
		return "", "", false
	}

	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Type != FrameAuth {
		writeErrorFrame(conn, ErrAuthRequired, "first frame must be auth")
		return "", "", false
	}

	switch {
	case frame.Token != "":
		tenantID, actorID, err = s.validator.ValidateAccessToken(frame.Token)
		if err != nil {
			writeErrorFrame(conn, ErrUnauthorized, "invalid token")
			return "", "", false
		}
	case frame.TenantID != "" && frame.ActorID != "":
		tenantID, actorID = frame.TenantID, frame.ActorID
	default:
		writeErrorFrame(conn, ErrAuthRequired, "auth frame requires a token or a tenant_id and actor_id")
		return "", "", false
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	return tenantID, actorID, true
}

func writeErrorFrame(conn *websocket.Conn, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(serverFrame{Type: FrameError, Code: code, Message: message})
}
