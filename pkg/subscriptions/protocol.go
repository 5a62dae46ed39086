package subscriptions

import (
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// Client-to-server frame types.
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Server-to-client frame types.
const (
	FrameAuthenticated = "authenticated"
	FrameSubscribed    = "subscribed"
	FrameUnsubscribed  = "unsubscribed"
	FramePong          = "pong"
	FrameEvent         = "event"
	FrameError         = "error"
)

// Error codes carried in error frames.
const (
	ErrAuthRequired         = "AUTH_REQUIRED"
	ErrUnauthorized         = "UNAUTHORIZED"
	ErrInvalidFrame         = "INVALID_FRAME"
	ErrSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
)

// clientFrame is any inbound message. Fields beyond Type are read per frame
// type: auth carries either a token or a tenant and actor pair, subscribe
// carries the filter fields, unsubscribe names the subscription.
type clientFrame struct {
	Type           string             `json:"type"`
	Token          string             `json:"token,omitempty"`
	TenantID       string             `json:"tenant_id,omitempty"`
	ActorID        string             `json:"actor_id,omitempty"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	EntityType     string             `json:"entity_type,omitempty"`
	EntityID       string             `json:"entity_id,omitempty"`
	EventTypes     []models.EventType `json:"event_types,omitempty"`
}

// serverFrame is any outbound message.
type serverFrame struct {
	Type           string        `json:"type"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Event          *models.Event `json:"event,omitempty"`
	Code           string        `json:"code,omitempty"`
	Message        string        `json:"message,omitempty"`
}
