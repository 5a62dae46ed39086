package subscriptions

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/metrics"
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// Hub tracks live connections and fans events out to the subscriptions that
// match. Registration and broadcast contend on one RWMutex; broadcasts take
// the read side so they proceed concurrently.
type Hub struct {
	logger ectologger.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger ectologger.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: map[*client]bool{},
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.close()
		return
	}
	h.clients[c] = true
	metrics.ActiveSockets.Set(float64(len(h.clients)))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		c.close()
		metrics.ActiveSockets.Set(float64(len(h.clients)))
	}
}

// Broadcast delivers an event to every matching subscription. Delivery is
// per subscription: a connection holding two matching subscriptions receives
// the event twice, tagged with each subscription id. Slow consumers drop the
// frame rather than block the write path.
func (h *Hub) Broadcast(ctx context.Context, event *models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.tenantID != event.TenantID {
			continue
		}
		for _, id := range c.matchingSubscriptions(event) {
			if !c.enqueue(serverFrame{Type: FrameEvent, SubscriptionID: id, Event: event}) {
				metrics.BroadcastFramesTotal.WithLabelValues("dropped").Inc()
				h.logger.WithContext(ctx).WithFields(map[string]any{
					"connection_id":   c.id,
					"subscription_id": id,
				}).Warnf("Dropped event for slow subscriber")
				continue
			}
			metrics.BroadcastFramesTotal.WithLabelValues("delivered").Inc()
		}
	}
}

// Handler adapts the hub into an emitter subscription covering all event
// types.
func (h *Hub) Handler() events.Handler {
	return func(ctx context.Context, event *models.Event) error {
		h.Broadcast(ctx, event)
		return nil
	}
}

// ConnectionCount reports live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	metrics.ActiveSockets.Set(0)
}
