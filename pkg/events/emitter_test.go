package events

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

type memoryStore struct {
	saved   []*models.Event
	saveErr error
}

func (s *memoryStore) SaveMany(_ context.Context, events []*models.Event) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, events...)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testEvent(eventType models.EventType) *models.Event {
	return &models.Event{
		TenantID:  "tenant-a",
		EventType: eventType,
		EntityID:  "entity-1",
	}
}

func TestEmitPersistsAndDispatches(t *testing.T) {
	store := &memoryStore{}
	emitter := NewEmitter(store, testLogger())

	var seen []models.EventType
	emitter.Subscribe(models.EventEntityCreated, func(_ context.Context, e *models.Event) error {
		seen = append(seen, e.EventType)
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{}, testEvent(models.EventEntityCreated))
	require.NoError(t, err)

	assert.Len(t, store.saved, 1)
	assert.Equal(t, []models.EventType{models.EventEntityCreated}, seen)
}

func TestEmitTypedHandlerIgnoresOtherTypes(t *testing.T) {
	emitter := NewEmitter(&memoryStore{}, testLogger())

	calls := 0
	emitter.Subscribe(models.EventEntityDeleted, func(_ context.Context, _ *models.Event) error {
		calls++
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{}, testEvent(models.EventEntityCreated))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestEmitWildcardSeesEverything(t *testing.T) {
	emitter := NewEmitter(&memoryStore{}, testLogger())

	var seen []models.EventType
	emitter.SubscribeAll(func(_ context.Context, e *models.Event) error {
		seen = append(seen, e.EventType)
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{},
		testEvent(models.EventEntityCreated),
		testEvent(models.EventPropertyChanged),
	)
	require.NoError(t, err)
	assert.Equal(t, []models.EventType{models.EventEntityCreated, models.EventPropertyChanged}, seen)
}

func TestEmitHandlersRunInRegistrationOrder(t *testing.T) {
	emitter := NewEmitter(&memoryStore{}, testLogger())

	var order []string
	emitter.Subscribe(models.EventEntityCreated, func(_ context.Context, _ *models.Event) error {
		order = append(order, "first")
		return nil
	})
	emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
		order = append(order, "second")
		return nil
	})
	emitter.Subscribe(models.EventEntityCreated, func(_ context.Context, _ *models.Event) error {
		order = append(order, "third")
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{}, testEvent(models.EventEntityCreated))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEmitIsolatesHandlerFailures(t *testing.T) {
	emitter := NewEmitter(&memoryStore{}, testLogger())

	calls := 0
	emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
		panic("boom")
	})
	emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
		return errors.New(errors.CodeInternal, "handler error")
	})
	emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
		calls++
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{}, testEvent(models.EventEntityCreated))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestEmitPersistFailureSkipsHandlers(t *testing.T) {
	store := &memoryStore{saveErr: errors.New(errors.CodeInternal, "db down")}
	emitter := NewEmitter(store, testLogger())

	calls := 0
	emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
		calls++
		return nil
	})

	err := emitter.Emit(context.Background(), EmitOptions{}, testEvent(models.EventEntityCreated))
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestEmitOptions(t *testing.T) {
	t.Run("skip persist", func(t *testing.T) {
		store := &memoryStore{}
		emitter := NewEmitter(store, testLogger())

		calls := 0
		emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
			calls++
			return nil
		})

		err := emitter.Emit(context.Background(), EmitOptions{SkipPersist: true}, testEvent(models.EventEntityCreated))
		require.NoError(t, err)
		assert.Empty(t, store.saved)
		assert.Equal(t, 1, calls)
	})

	t.Run("skip handlers", func(t *testing.T) {
		store := &memoryStore{}
		emitter := NewEmitter(store, testLogger())

		calls := 0
		emitter.SubscribeAll(func(_ context.Context, _ *models.Event) error {
			calls++
			return nil
		})

		err := emitter.Emit(context.Background(), EmitOptions{SkipHandlers: true}, testEvent(models.EventEntityCreated))
		require.NoError(t, err)
		assert.Len(t, store.saved, 1)
		assert.Zero(t, calls)
	})
}

func TestPayloadShapes(t *testing.T) {
	entity := &models.Entity{
		ID:       "entity-1",
		TenantID: "tenant-a",
		Type:     "product.widget",
		Version:  3,
		Properties: map[string]*models.Property{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(9.99)},
		},
	}

	t.Run("entity_created", func(t *testing.T) {
		event := NewEntityCreated(entity, "user-1")
		assert.Equal(t, models.EventEntityCreated, event.EventType)
		assert.Equal(t, "tenant-a", event.TenantID)
		assert.Equal(t, "product.widget", event.EntityType)
		assert.Equal(t, "user-1", event.ActorID)
		assert.Equal(t, entity.Properties, event.Payload["properties"])
	})

	t.Run("entity_updated", func(t *testing.T) {
		event := NewEntityUpdated(entity, "user-1", 2, []string{"price"}, nil)
		assert.Equal(t, int64(2), event.Payload["previous_version"])
		assert.Equal(t, int64(3), event.Payload["new_version"])
		assert.Equal(t, []string{"price"}, event.Payload["changed_properties"])
		assert.Equal(t, []string{}, event.Payload["removed_properties"])
	})

	t.Run("entity_deleted", func(t *testing.T) {
		event := NewEntityDeleted(entity, "user-1", true)
		assert.Equal(t, true, event.Payload["hard_delete"])
		assert.Equal(t, int64(3), event.Payload["final_version"])
		assert.Equal(t, entity.Properties, event.Payload["final_properties"])
	})

	t.Run("property_changed", func(t *testing.T) {
		event := NewPropertyChanged(entity, "user-1", "price", models.ChangeModified, values.Number(8), values.Number(9.99))
		assert.Equal(t, "price", event.Payload["property_name"])
		assert.Equal(t, "modified", event.Payload["change_type"])
	})

	t.Run("relationship_created", func(t *testing.T) {
		rel := &models.Relationship{
			ID:         "rel-1",
			TenantID:   "tenant-a",
			Type:       "contains",
			FromEntity: "entity-1",
			ToEntity:   "entity-2",
		}
		event := NewRelationshipCreated(rel, "product.widget", "user-1")
		assert.Equal(t, "entity-1", event.EntityID)
		assert.Equal(t, "rel-1", event.Payload["relationship_id"])
		assert.NotContains(t, event.Payload, "metadata")
	})
}
