package events

import (
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Constructors for the canonical event payload shapes. Every event carries
// tenant, entity, and actor identity at the top level; the payload holds the
// shape specific to its type.

func base(eventType models.EventType, entity *models.Entity, actorID string) *models.Event {
	return &models.Event{
		TenantID:   entity.TenantID,
		EventType:  eventType,
		EntityID:   entity.ID,
		EntityType: entity.Type,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewEntityCreated records a freshly created entity at version 1.
func NewEntityCreated(entity *models.Entity, actorID string) *models.Event {
	event := base(models.EventEntityCreated, entity, actorID)
	event.Payload = map[string]any{
		"type":       entity.Type,
		"properties": entity.Properties,
		"version":    entity.Version,
	}
	return event
}

// NewEntityUpdated records a version transition with the property names that
// changed or were removed.
func NewEntityUpdated(entity *models.Entity, actorID string, previousVersion int64, changed, removed []string) *models.Event {
	event := base(models.EventEntityUpdated, entity, actorID)
	if changed == nil {
		changed = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	event.Payload = map[string]any{
		"previous_version":   previousVersion,
		"new_version":        entity.Version,
		"changed_properties": changed,
		"removed_properties": removed,
	}
	return event
}

// NewEntityDeleted records a delete, including the final state so the event
// log remains a complete history even after a hard delete.
func NewEntityDeleted(entity *models.Entity, actorID string, hardDelete bool) *models.Event {
	event := base(models.EventEntityDeleted, entity, actorID)
	event.Payload = map[string]any{
		"type":             entity.Type,
		"final_version":    entity.Version,
		"hard_delete":      hardDelete,
		"final_properties": entity.Properties,
	}
	return event
}

// NewPropertyChanged records one property transition on an entity.
func NewPropertyChanged(entity *models.Entity, actorID, property string, change models.ChangeType, previous, current *values.Value) *models.Event {
	event := base(models.EventPropertyChanged, entity, actorID)
	event.Payload = map[string]any{
		"property_name": property,
		"change_type":   string(change),
		"previous":      previous,
		"current":       current,
	}
	return event
}

func relationshipPayload(rel *models.Relationship) map[string]any {
	payload := map[string]any{
		"relationship_id": rel.ID,
		"type":            rel.Type,
		"from_entity":     rel.FromEntity,
		"to_entity":       rel.ToEntity,
	}
	if len(rel.Metadata) > 0 {
		payload["metadata"] = rel.Metadata
	}
	return payload
}

// NewRelationshipCreated records a new edge. The event is attributed to the
// from side of the relationship.
func NewRelationshipCreated(rel *models.Relationship, fromType, actorID string) *models.Event {
	return &models.Event{
		TenantID:   rel.TenantID,
		EventType:  models.EventRelationshipCreated,
		EntityID:   rel.FromEntity,
		EntityType: fromType,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    relationshipPayload(rel),
	}
}

// NewRelationshipDeleted records a removed edge.
func NewRelationshipDeleted(rel *models.Relationship, fromType, actorID string) *models.Event {
	return &models.Event{
		TenantID:   rel.TenantID,
		EventType:  models.EventRelationshipDeleted,
		EntityID:   rel.FromEntity,
		EntityType: fromType,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    relationshipPayload(rel),
	}
}
