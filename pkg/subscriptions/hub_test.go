package subscriptions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testEvent(tenantID, entityID, entityType string, eventType models.EventType) *models.Event {
	return &models.Event{
		TenantID:   tenantID,
		EventType:  eventType,
		EntityID:   entityID,
		EntityType: entityType,
	}
}

// bareClient builds a client without a socket; frames pile up in the send
// buffer where tests can inspect them.
func bareClient(hub *Hub, tenantID string, buffer int) *client {
	return &client{
		id:       "test-conn",
		tenantID: tenantID,
		hub:      hub,
		logger:   testLogger(),
		send:     make(chan serverFrame, buffer),
		subs:     map[string]Filter{},
	}
}

func drain(c *client) []serverFrame {
	var frames []serverFrame
	for {
		select {
		case frame := <-c.send:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestFilterMatches(t *testing.T) {
	event := testEvent("t", "e1", "product.widget", models.EventEntityUpdated)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches all", Filter{}, true},
		{"exact entity type", Filter{EntityType: "product.widget"}, true},
		{"type prefix", Filter{EntityType: "product"}, true},
		{"type prefix is path aware", Filter{EntityType: "prod"}, false},
		{"other type", Filter{EntityType: "order"}, false},
		{"entity id match", Filter{EntityID: "e1"}, true},
		{"entity id mismatch", Filter{EntityID: "e2"}, false},
		{"event type member", Filter{EventTypes: []models.EventType{models.EventEntityCreated, models.EventEntityUpdated}}, true},
		{"event type not member", Filter{EventTypes: []models.EventType{models.EventEntityDeleted}}, false},
		{"all fields conjunct", Filter{EntityType: "product", EntityID: "e1", EventTypes: []models.EventType{models.EventEntityUpdated}}, true},
		{"conjunction fails on one field", Filter{EntityType: "product", EntityID: "e2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(event))
		})
	}
}

func TestBroadcastDeliversToMatchingSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)
	c.subscribe("sub-1", Filter{EntityType: "product"})
	hub.register(c)

	hub.Broadcast(context.Background(), testEvent("t", "e1", "product.widget", models.EventEntityUpdated))

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameEvent, frames[0].Type)
	assert.Equal(t, "sub-1", frames[0].SubscriptionID)
	assert.Equal(t, "e1", frames[0].Event.EntityID)
}

func TestBroadcastEnforcesTenantIsolation(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "tenant-a", 8)
	c.subscribe("sub-1", Filter{})
	hub.register(c)

	hub.Broadcast(context.Background(), testEvent("tenant-b", "e1", "product", models.EventEntityUpdated))

	assert.Empty(t, drain(c))
}

func TestBroadcastDeliversPerSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)
	c.subscribe("by-type", Filter{EntityType: "product"})
	c.subscribe("by-id", Filter{EntityID: "e1"})
	c.subscribe("unrelated", Filter{EntityType: "order"})
	hub.register(c)

	hub.Broadcast(context.Background(), testEvent("t", "e1", "product", models.EventEntityUpdated))

	frames := drain(c)
	require.Len(t, frames, 2)
	ids := []string{frames[0].SubscriptionID, frames[1].SubscriptionID}
	assert.ElementsMatch(t, []string{"by-type", "by-id"}, ids)
}

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 1)
	c.subscribe("sub-1", Filter{})
	hub.register(c)

	event := testEvent("t", "e1", "product", models.EventEntityUpdated)
	hub.Broadcast(context.Background(), event)
	hub.Broadcast(context.Background(), event)

	assert.Len(t, drain(c), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)
	c.subscribe("sub-1", Filter{})
	hub.register(c)

	require.True(t, c.unsubscribe("sub-1"))
	assert.False(t, c.unsubscribe("sub-1"))

	hub.Broadcast(context.Background(), testEvent("t", "e1", "product", models.EventEntityUpdated))
	assert.Empty(t, drain(c))
}

func TestUnregisterRemovesConnection(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)
	hub.register(c)
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.unregister(c)
	assert.Zero(t, hub.ConnectionCount())

	// double unregister is a no-op
	hub.unregister(c)
	assert.Zero(t, hub.ConnectionCount())
}

func TestClosedHubRefusesRegistrations(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)
	hub.register(c)

	hub.Close()
	assert.Zero(t, hub.ConnectionCount())

	late := bareClient(hub, "t", 8)
	hub.register(late)
	assert.Zero(t, hub.ConnectionCount())
}

func TestHandleFrameSubscribe(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)

	payload, _ := json.Marshal(clientFrame{
		Type:           FrameSubscribe,
		SubscriptionID: "my-sub",
		EntityType:     "product",
	})
	c.handleFrame(payload)

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameSubscribed, frames[0].Type)
	assert.Equal(t, "my-sub", frames[0].SubscriptionID)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Equal(t, Filter{EntityType: "product"}, c.subs["my-sub"])
}

func TestHandleFrameSubscribeGeneratesID(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)

	payload, _ := json.Marshal(clientFrame{Type: FrameSubscribe})
	c.handleFrame(payload)

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.NotEmpty(t, frames[0].SubscriptionID)
}

func TestHandleFrameUnknownSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)

	payload, _ := json.Marshal(clientFrame{Type: FrameUnsubscribe, SubscriptionID: "nope"})
	c.handleFrame(payload)

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, ErrSubscriptionNotFound, frames[0].Code)
}

func TestHandleFrameMalformed(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)

	c.handleFrame([]byte("{not json"))

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, ErrInvalidFrame, frames[0].Code)
}

func TestHandleFrameUnknownType(t *testing.T) {
	hub := NewHub(testLogger())
	c := bareClient(hub, "t", 8)

	payload, _ := json.Marshal(clientFrame{Type: "bogus"})
	c.handleFrame(payload)

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, ErrInvalidFrame, frames[0].Code)
}
