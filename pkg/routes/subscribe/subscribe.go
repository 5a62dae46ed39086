package subscribe

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SocketServer upgrades and drives one websocket connection. Satisfied by the
// subscriptions server.
type SocketServer interface {
	Handle(w http.ResponseWriter, r *http.Request)
}

// Handler exposes the subscription fabric over /ws.
type Handler struct {
	server SocketServer
}

// NewHandler creates a subscription route handler.
func NewHandler(server SocketServer) *Handler {
	return &Handler{server: server}
}

// Register registers the websocket route
func (h *Handler) Register(g *echo.Group) {
	g.GET("/ws", h.Subscribe)
}

// Subscribe hands the connection to the subscription fabric. Authentication
// happens in-band with the first frame.
func (h *Handler) Subscribe(c echo.Context) error {
	h.server.Handle(c.Response(), c.Request())
	return nil
}
