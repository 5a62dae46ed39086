package subscriptions

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jnarwell/trellis-sub000/pkg/models"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is the idle read deadline; pings extend it.
	pongWait = 60 * time.Second
	// pingPeriod must stay under pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound frames.
	maxFrameSize = 64 * 1024
	// sendBufferSize is the per-connection outbound queue.
	sendBufferSize = 256
)

// client is one authenticated WebSocket connection and its subscriptions.
type client struct {
	id       string
	tenantID string
	actorID  string
	conn     *websocket.Conn
	hub      *Hub
	logger   ectologger.Logger

	send      chan serverFrame
	closeOnce sync.Once

	mu   sync.RWMutex
	subs map[string]Filter
}

func newClient(conn *websocket.Conn, hub *Hub, tenantID, actorID string, logger ectologger.Logger) *client {
	return &client{
		id:       uuid.New().String(),
		tenantID: tenantID,
		actorID:  actorID,
		conn:     conn,
		hub:      hub,
		logger:   logger,
		send:     make(chan serverFrame, sendBufferSize),
		subs:     map[string]Filter{},
	}
}

// enqueue queues an outbound frame without blocking. Returns false when the
// buffer is full or the connection is closing.
func (c *client) enqueue(frame serverFrame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *client) matchingSubscriptions(event *models.Event) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, filter := range c.subs {
		if filter.Matches(event) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *client) subscribe(id string, filter Filter) string {
	if id == "" {
		id = uuid.New().String()
	}
	c.mu.Lock()
	c.subs[id] = filter
	c.mu.Unlock()
	return id
}

func (c *client) unsubscribe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// readPump consumes inbound frames until the connection drops, then
// unregisters so the hub forgets the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("connection_id", c.id).Warnf("WebSocket read failed")
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *client) handleFrame(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.enqueue(serverFrame{Type: FrameError, Code: ErrInvalidFrame, Message: "malformed frame"})
		return
	}

	switch frame.Type {
	case FramePing:
		// application-level keepalive; resets the read deadline like a pong
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.enqueue(serverFrame{Type: FramePong})

	case FrameSubscribe:
		filter := Filter{
			EntityType: frame.EntityType,
			EntityID:   frame.EntityID,
			EventTypes: frame.EventTypes,
		}
		id := c.subscribe(frame.SubscriptionID, filter)
		c.enqueue(serverFrame{Type: FrameSubscribed, SubscriptionID: id})

	case FrameUnsubscribe:
		if !c.unsubscribe(frame.SubscriptionID) {
			c.enqueue(serverFrame{Type: FrameError, Code: ErrSubscriptionNotFound, SubscriptionID: frame.SubscriptionID, Message: "no such subscription"})
			return
		}
		c.enqueue(serverFrame{Type: FrameUnsubscribed, SubscriptionID: frame.SubscriptionID})

	default:
		c.enqueue(serverFrame{Type: FrameError, Code: ErrInvalidFrame, Message: "unknown frame type " + frame.Type})
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with protocol pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.WithError(err).WithField("connection_id", c.id).Warnf("WebSocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
