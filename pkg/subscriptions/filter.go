package subscriptions

import (
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// Filter narrows which events a subscription receives. Zero-value fields
// match everything; populated fields must all match. Tenant scoping is not
// part of the filter; the connection's authenticated tenant is enforced by
// the hub.
type Filter struct {
	// EntityType matches the exact type or any descendant in the dotted
	// hierarchy.
	EntityType string `json:"entity_type,omitempty"`
	// EntityID matches exactly.
	EntityID string `json:"entity_id,omitempty"`
	// EventTypes is a membership test.
	EventTypes []models.EventType `json:"event_types,omitempty"`
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(event *models.Event) bool {
	if f.EntityType != "" && !models.TypeMatchesPrefix(event.EntityType, f.EntityType) {
		return false
	}
	if f.EntityID != "" && f.EntityID != event.EntityID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, eventType := range f.EventTypes {
			if eventType == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
