package entities

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/query"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

type fakeRepo struct {
	entities map[string]*models.Entity
	nextID   int

	queryRows []*models.Entity
	countRows int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entities: map[string]*models.Entity{}}
}

func (f *fakeRepo) Create(_ context.Context, entity *models.Entity) (*models.Entity, error) {
	f.nextID++
	if entity.ID == "" {
		entity.ID = "entity-" + string(rune('0'+f.nextID))
	}
	entity.Version = 1
	f.entities[entity.ID] = entity
	return entity, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id string) (*models.Entity, error) {
	entity, ok := f.entities[id]
	if !ok || entity.TenantID != tenantID || entity.DeletedAt != nil {
		return nil, errors.Newf(errors.CodeNotFound, "entity %s not found", id)
	}
	return entity, nil
}

func (f *fakeRepo) Update(_ context.Context, entity *models.Entity, expectedVersion int64) (*models.Entity, error) {
	current, ok := f.entities[entity.ID]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "entity %s not found", entity.ID)
	}
	if current.Version != expectedVersion {
		return nil, errors.New(errors.CodeVersionConflict, "entity was modified concurrently").
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", current.Version)
	}
	entity.Version = expectedVersion + 1
	f.entities[entity.ID] = entity
	return entity, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _, id string) error {
	entity, ok := f.entities[id]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "entity %s not found", id)
	}
	now := entity.UpdatedAt
	entity.DeletedAt = &now
	return nil
}

func (f *fakeRepo) HardDelete(_ context.Context, _, id string) error {
	if _, ok := f.entities[id]; !ok {
		return errors.Newf(errors.CodeNotFound, "entity %s not found", id)
	}
	delete(f.entities, id)
	return nil
}

func (f *fakeRepo) RunQuery(_ context.Context, _ query.Query) ([]*models.Entity, error) {
	return f.queryRows, nil
}

func (f *fakeRepo) RunCount(_ context.Context, _ query.Query) (int64, error) {
	return f.countRows, nil
}

type fakeRegistrar struct {
	registered map[string][]models.DependencyPath
	cleared    []string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: map[string][]models.DependencyPath{}}
}

func (f *fakeRegistrar) RegisterDependencies(_ context.Context, entity *models.Entity, property string, deps []models.DependencyPath) error {
	f.registered[entity.ID+"."+property] = deps
	return nil
}

func (f *fakeRegistrar) UnregisterEntity(_ context.Context, _, entityID string) error {
	f.cleared = append(f.cleared, entityID)
	return nil
}

type fakeCleaner struct {
	rels []*models.Relationship
}

func (f *fakeCleaner) DeleteForEntity(_ context.Context, _, _ string) ([]*models.Relationship, error) {
	return f.rels, nil
}

type recordingEmitter struct {
	events     []*models.Event
	dispatched []*models.Event
}

func (r *recordingEmitter) Emit(_ context.Context, opts events.EmitOptions, evts ...*models.Event) error {
	if !opts.SkipPersist {
		r.events = append(r.events, evts...)
	}
	if !opts.SkipHandlers {
		r.dispatched = append(r.dispatched, evts...)
	}
	return nil
}

func (r *recordingEmitter) ofType(eventType models.EventType) []*models.Event {
	var out []*models.Event
	for _, event := range r.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeRecomputer struct {
	calls int
	repo  *fakeRepo
}

func (f *fakeRecomputer) RecomputeEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	f.calls++
	return f.repo.Get(ctx, tenantID, entityID)
}

type fixture struct {
	svc        *Service
	repo       *fakeRepo
	registrar  *fakeRegistrar
	cleaner    *fakeCleaner
	emitter    *recordingEmitter
	recomputer *fakeRecomputer
}

func newFixture(evaluateOnWrite bool) *fixture {
	repo := newFakeRepo()
	registrar := newFakeRegistrar()
	cleaner := &fakeCleaner{}
	emitter := &recordingEmitter{}
	recomputer := &fakeRecomputer{repo: repo}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	svc := &Service{
		repo:            repo,
		registrar:       registrar,
		relationships:   cleaner,
		emitter:         emitter,
		recomputer:      recomputer,
		builder:         query.NewBuilder(),
		logger:          logger,
		evaluateOnWrite: evaluateOnWrite,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	return &fixture{svc: svc, repo: repo, registrar: registrar, cleaner: cleaner, emitter: emitter, recomputer: recomputer}
}

func TestCreateExpandsProperties(t *testing.T) {
	f := newFixture(false)

	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
			"total": {Kind: models.PropertyComputed, Expression: "#price * 2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), entity.Version)
	assert.Equal(t, "user-1", entity.CreatedBy)

	total := entity.Properties["total"]
	assert.Equal(t, models.StatusPending, total.Status)
	assert.NotEmpty(t, total.Dependencies)

	// dependency index seeded for the computed property
	assert.Contains(t, f.registrar.registered, entity.ID+".total")
}

func TestCreateEmitsCreatedAndPropertyEvents(t *testing.T) {
	f := newFixture(false)

	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"name":  {Kind: models.PropertyLiteral, Value: values.Text("Widget")},
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
		},
	})
	require.NoError(t, err)

	created := f.emitter.ofType(models.EventEntityCreated)
	require.Len(t, created, 1)
	assert.Equal(t, entity.ID, created[0].EntityID)
	assert.Equal(t, int64(1), created[0].Payload["version"])

	changed := f.emitter.ofType(models.EventPropertyChanged)
	require.Len(t, changed, 2)
	for _, event := range changed {
		assert.Equal(t, string(models.ChangeAdded), event.Payload["change_type"])
	}
}

func TestCreateRejectsInvalidExpression(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"bad": {Kind: models.PropertyComputed, Expression: "1 + ("},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidExpression, errors.CodeOf(err))
	assert.Empty(t, f.emitter.events)
}

func TestCreateRequiresType(t *testing.T) {
	f := newFixture(false)
	_, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestCreateInheritedResolvesSource(t *testing.T) {
	f := newFixture(false)
	f.repo.entities["parent"] = &models.Entity{
		ID: "parent", TenantID: "t", Version: 1,
		Properties: map[string]*models.Property{
			"color": {Kind: models.PropertyLiteral, Value: values.Text("red")},
		},
	}

	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product.variant",
		Properties: map[string]models.PropertyInput{
			"color": {Kind: models.PropertyInherited, FromEntity: "parent", FromProperty: "color"},
		},
	})
	require.NoError(t, err)

	color := entity.Properties["color"]
	assert.Equal(t, models.StatusValid, color.Status)
	text, _ := color.ResolvedValue.AsText()
	assert.Equal(t, "red", text)
}

func TestCreateInheritedBrokenReference(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"color": {Kind: models.PropertyInherited, FromEntity: "ghost", FromProperty: "color"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeReferenceBroken, errors.CodeOf(err))
}

func TestCreateEvaluateOnWrite(t *testing.T) {
	f := newFixture(true)

	_, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"total": {Kind: models.PropertyComputed, Expression: "1 + 1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.recomputer.calls)
}

func TestUpdatePropertyDelta(t *testing.T) {
	f := newFixture(false)
	_, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"name":  {Kind: models.PropertyLiteral, Value: values.Text("Widget")},
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
		},
	})
	require.NoError(t, err)
	f.emitter.events = nil

	entityID := ""
	for id := range f.repo.entities {
		entityID = id
	}

	updated, err := f.svc.Update(context.Background(), "t", "user-2", entityID, UpdateInput{
		Version: 1,
		SetProperties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(12)},
			"tag":   {Kind: models.PropertyLiteral, Value: values.Text("new")},
		},
		RemoveProperties: []string{"name"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.Nil(t, updated.Property("name"))
	assert.NotNil(t, updated.Property("tag"))

	updatedEvents := f.emitter.ofType(models.EventEntityUpdated)
	require.Len(t, updatedEvents, 1)
	payload := updatedEvents[0].Payload
	assert.Equal(t, int64(1), payload["previous_version"])
	assert.Equal(t, int64(2), payload["new_version"])
	assert.ElementsMatch(t, []string{"price", "tag"}, payload["changed_properties"])
	assert.Equal(t, []string{"name"}, payload["removed_properties"])

	changeTypes := map[string]string{}
	for _, event := range f.emitter.ofType(models.EventPropertyChanged) {
		changeTypes[event.Payload["property_name"].(string)] = event.Payload["change_type"].(string)
	}
	assert.Equal(t, map[string]string{
		"price": string(models.ChangeModified),
		"name":  string(models.ChangeRemoved),
		"tag":   string(models.ChangeAdded),
	}, changeTypes)
}

func TestUpdateVersionConflict(t *testing.T) {
	f := newFixture(false)
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), "t", "user-1", entity.ID, UpdateInput{
		Version: 99,
		SetProperties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(12)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeVersionConflict, errors.CodeOf(err))
}

func TestUpdateRequiresVersion(t *testing.T) {
	f := newFixture(false)
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
		},
	})
	require.NoError(t, err)
	f.emitter.events = nil

	// a stale client that drops the version must not bypass the lock
	_, err = f.svc.Update(context.Background(), "t", "user-2", entity.ID, UpdateInput{
		SetProperties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(99)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	stored := f.repo.entities[entity.ID]
	assert.Equal(t, int64(1), stored.Version)
	num, _ := stored.Property("price").EffectiveValue().AsNumber()
	assert.Equal(t, 10.0, num)
	assert.Empty(t, f.emitter.events)
}

func TestEventsDispatchAfterCommit(t *testing.T) {
	f := newFixture(false)

	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product",
		Properties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(10)},
		},
	})
	require.NoError(t, err)

	// handlers see exactly the committed events
	assert.Equal(t, f.emitter.events, f.emitter.dispatched)

	// a failed transaction reaches no handler at all
	f.emitter.events = nil
	f.emitter.dispatched = nil
	f.svc.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		_ = fn(ctx)
		return errors.New(errors.CodeInternal, "commit failed")
	}

	_, err = f.svc.Update(context.Background(), "t", "user-1", entity.ID, UpdateInput{
		Version: 1,
		SetProperties: map[string]models.PropertyInput{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(12)},
		},
	})
	require.Error(t, err)
	assert.Empty(t, f.emitter.dispatched)
}

func TestDeleteSoft(t *testing.T) {
	f := newFixture(false)
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{Type: "product"})
	require.NoError(t, err)
	f.emitter.events = nil

	require.NoError(t, f.svc.Delete(context.Background(), "t", "user-1", entity.ID, false))

	// row retained, hidden from reads
	_, err = f.svc.Get(context.Background(), "t", entity.ID, GetOptions{})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	assert.Contains(t, f.repo.entities, entity.ID)

	deleted := f.emitter.ofType(models.EventEntityDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, false, deleted[0].Payload["hard_delete"])
}

func TestDeleteHardCascades(t *testing.T) {
	f := newFixture(false)
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{Type: "product"})
	require.NoError(t, err)
	f.cleaner.rels = []*models.Relationship{
		{ID: "rel-1", TenantID: "t", Type: "contains", FromEntity: entity.ID, ToEntity: "other"},
	}
	f.emitter.events = nil

	require.NoError(t, f.svc.Delete(context.Background(), "t", "user-1", entity.ID, true))

	assert.NotContains(t, f.repo.entities, entity.ID)
	assert.Equal(t, []string{entity.ID}, f.registrar.cleared)

	deleted := f.emitter.ofType(models.EventEntityDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, true, deleted[0].Payload["hard_delete"])

	relDeleted := f.emitter.ofType(models.EventRelationshipDeleted)
	require.Len(t, relDeleted, 1)
	assert.Equal(t, "rel-1", relDeleted[0].Payload["relationship_id"])
}

func TestQueryPagination(t *testing.T) {
	f := newFixture(false)

	// three rows back for a limit of two means one page plus a cursor
	f.repo.queryRows = []*models.Entity{
		{ID: "a", TenantID: "t"},
		{ID: "b", TenantID: "t"},
		{ID: "c", TenantID: "t"},
	}

	result, err := f.svc.Query(context.Background(), query.Request{TenantID: "t", Limit: 2})
	require.NoError(t, err)

	assert.Len(t, result.Data, 2)
	assert.True(t, result.Pagination.HasMore)
	assert.Equal(t, 2, result.Pagination.Limit)
	require.NotEmpty(t, result.Pagination.Cursor)

	cursor, err := query.DecodeCursor(result.Pagination.Cursor)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.ID)
	assert.Nil(t, result.TotalCount)
}

func TestQueryIncludeTotal(t *testing.T) {
	f := newFixture(false)
	f.repo.queryRows = []*models.Entity{{ID: "a", TenantID: "t"}}
	f.repo.countRows = 41

	result, err := f.svc.Query(context.Background(), query.Request{TenantID: "t", Limit: 10, IncludeTotal: true})
	require.NoError(t, err)

	assert.False(t, result.Pagination.HasMore)
	require.NotNil(t, result.TotalCount)
	assert.Equal(t, int64(41), *result.TotalCount)
}

func TestQueryCursorCarriesSortValues(t *testing.T) {
	f := newFixture(false)
	f.repo.queryRows = []*models.Entity{
		{ID: "a", TenantID: "t", Properties: map[string]*models.Property{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(5)},
		}},
		{ID: "b", TenantID: "t", Properties: map[string]*models.Property{
			"price": {Kind: models.PropertyLiteral, Value: values.Number(7)},
		}},
	}

	result, err := f.svc.Query(context.Background(), query.Request{
		TenantID: "t",
		Limit:    1,
		Sort:     []query.SortKey{{Property: "price"}},
	})
	require.NoError(t, err)
	require.True(t, result.Pagination.HasMore)

	cursor, err := query.DecodeCursor(result.Pagination.Cursor)
	require.NoError(t, err)
	assert.Equal(t, "a", cursor.ID)
	require.Len(t, cursor.SortValues, 1)
	assert.Equal(t, 5.0, cursor.SortValues[0])
}

func TestGetEvaluateComputedRefreshesStale(t *testing.T) {
	f := newFixture(false)
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "part",
		Properties: map[string]models.PropertyInput{
			"total": {Kind: models.PropertyComputed, Expression: "1 + 1"},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "t", entity.ID, GetOptions{EvaluateComputed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.recomputer.calls)

	// a valid cache skips the recompute
	f.repo.entities[entity.ID].Properties["total"].Status = models.StatusValid
	_, err = f.svc.Get(context.Background(), "t", entity.ID, GetOptions{EvaluateComputed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.recomputer.calls)
}

func TestGetResolveInheritedRefreshesFromSource(t *testing.T) {
	f := newFixture(false)
	f.repo.entities["parent"] = &models.Entity{
		ID: "parent", TenantID: "t", Version: 1,
		Properties: map[string]*models.Property{
			"color": {Kind: models.PropertyLiteral, Value: values.Text("red")},
		},
	}

	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product.variant",
		Properties: map[string]models.PropertyInput{
			"color": {Kind: models.PropertyInherited, FromEntity: "parent", FromProperty: "color"},
		},
	})
	require.NoError(t, err)

	// the source changes after the cached resolution
	f.repo.entities["parent"].Properties["color"].Value = values.Text("blue")

	got, err := f.svc.Get(context.Background(), "t", entity.ID, GetOptions{ResolveInherited: true})
	require.NoError(t, err)
	text, _ := got.Properties["color"].ResolvedValue.AsText()
	assert.Equal(t, "blue", text)
}

func TestGetResolveInheritedMissingSource(t *testing.T) {
	f := newFixture(false)
	f.repo.entities["parent"] = &models.Entity{
		ID: "parent", TenantID: "t", Version: 1,
		Properties: map[string]*models.Property{
			"color": {Kind: models.PropertyLiteral, Value: values.Text("red")},
		},
	}
	entity, err := f.svc.Create(context.Background(), "t", "user-1", CreateInput{
		Type: "product.variant",
		Properties: map[string]models.PropertyInput{
			"color": {Kind: models.PropertyInherited, FromEntity: "parent", FromProperty: "color"},
		},
	})
	require.NoError(t, err)

	delete(f.repo.entities, "parent")

	got, err := f.svc.Get(context.Background(), "t", entity.ID, GetOptions{ResolveInherited: true})
	require.NoError(t, err)
	assert.Nil(t, got.Properties["color"].ResolvedValue)
	assert.Equal(t, models.StatusError, got.Properties["color"].Status)
}
