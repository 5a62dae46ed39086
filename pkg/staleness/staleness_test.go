package staleness

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/internal/repositories/dependents"
	"github.com/jnarwell/trellis-sub000/internal/repositories/relationship"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

type fakeMarker struct {
	entities map[string]*models.Entity
	marked   []string
}

func (f *fakeMarker) Get(_ context.Context, _, id string) (*models.Entity, error) {
	entity, ok := f.entities[id]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "entity %s not found", id)
	}
	return entity, nil
}

func (f *fakeMarker) SetPropertyStatus(_ context.Context, _, entityID, property string, status models.PropertyStatus) error {
	if status == models.StatusStale {
		f.marked = append(f.marked, entityID+"."+property)
	}
	return nil
}

type fakeIndex struct {
	// edges maps source key to its dependents
	edges    map[string][]dependents.PropertyRef
	replaced map[string][]dependents.PropertyRef
	// watches maps "entityID/relType" to the properties watching that hop
	watches map[string][]dependents.PropertyRef
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		edges:    map[string][]dependents.PropertyRef{},
		replaced: map[string][]dependents.PropertyRef{},
		watches:  map[string][]dependents.PropertyRef{},
	}
}

func (f *fakeIndex) addEdge(sourceEntity, sourceProp, depEntity, depProp string) {
	key := sourceEntity + "." + sourceProp
	f.edges[key] = append(f.edges[key], dependents.PropertyRef{EntityID: depEntity, Property: depProp})
}

func (f *fakeIndex) ReplaceForDependent(_ context.Context, _ string, dependent dependents.PropertyRef, sources []dependents.PropertyRef) error {
	f.replaced[dependent.EntityID+"."+dependent.Property] = sources
	return nil
}

func (f *fakeIndex) Dependents(_ context.Context, _ string, source dependents.PropertyRef) ([]dependents.PropertyRef, error) {
	return f.edges[source.EntityID+"."+source.Property], nil
}

func (f *fakeIndex) ReplaceWatches(_ context.Context, _ string, dependent dependents.PropertyRef, watches []dependents.RelWatch) error {
	ref := dependents.PropertyRef{EntityID: dependent.EntityID, Property: dependent.Property}
	for key, refs := range f.watches {
		var kept []dependents.PropertyRef
		for _, existing := range refs {
			if existing != ref {
				kept = append(kept, existing)
			}
		}
		f.watches[key] = kept
	}
	for _, watch := range watches {
		key := watch.EntityID + "/" + watch.RelType
		f.watches[key] = append(f.watches[key], ref)
	}
	return nil
}

func (f *fakeIndex) Watchers(_ context.Context, _, entityID, relType string) ([]dependents.PropertyRef, error) {
	return f.watches[entityID+"/"+relType], nil
}

func (f *fakeIndex) DeleteForEntity(_ context.Context, _, _ string) error {
	return nil
}

type fakeRels struct {
	// outgoing maps "entityID/relType" to target entity ids
	outgoing map[string][]string
}

func (f *fakeRels) ListForEntity(_ context.Context, _, entityID, relType string, _ relationship.Direction) ([]*models.Relationship, error) {
	var rels []*models.Relationship
	for _, to := range f.outgoing[entityID+"/"+relType] {
		rels = append(rels, &models.Relationship{FromEntity: entityID, ToEntity: to, Type: relType})
	}
	return rels, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestPropagateMarksDirectDependents(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "price", "B", "total")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	require.NoError(t, p.Propagate(context.Background(), "t", "A", "price"))

	assert.Equal(t, []string{"B.total"}, marker.marked)
}

func TestPropagateFollowsChainsInOrder(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "price", "B", "subtotal")
	index.addEdge("B", "subtotal", "C", "grand_total")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	require.NoError(t, p.Propagate(context.Background(), "t", "A", "price"))

	assert.Equal(t, []string{"B.subtotal", "C.grand_total"}, marker.marked)
}

func TestPropagateMarksDiamondOnce(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "x", "B", "left")
	index.addEdge("A", "x", "C", "right")
	index.addEdge("B", "left", "D", "sink")
	index.addEdge("C", "right", "D", "sink")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	require.NoError(t, p.Propagate(context.Background(), "t", "A", "x"))

	assert.ElementsMatch(t, []string{"B.left", "C.right", "D.sink"}, marker.marked)
}

func TestPropagateTerminatesOnCycle(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "x", "B", "y")
	index.addEdge("B", "y", "A", "x")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	require.NoError(t, p.Propagate(context.Background(), "t", "A", "x"))

	assert.Equal(t, []string{"B.y"}, marker.marked)
}

func TestHandlerFiltersChangeTypes(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "price", "B", "total")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	handler := p.Handler()

	event := func(change models.ChangeType) *models.Event {
		return &models.Event{
			TenantID:  "t",
			EventType: models.EventPropertyChanged,
			EntityID:  "A",
			Payload: map[string]any{
				"property_name": "price",
				"change_type":   string(change),
			},
		}
	}

	require.NoError(t, handler(context.Background(), event(models.ChangeRemoved)))
	assert.Empty(t, marker.marked)

	require.NoError(t, handler(context.Background(), event(models.ChangeModified)))
	assert.Equal(t, []string{"B.total"}, marker.marked)
}

func TestHandlerIgnoresOtherEventTypes(t *testing.T) {
	marker := &fakeMarker{}
	index := newFakeIndex()
	index.addEdge("A", "price", "B", "total")

	p := NewPropagator(marker, index, &fakeRels{}, testLogger())
	err := p.Handler()(context.Background(), &models.Event{
		TenantID:  "t",
		EventType: models.EventEntityUpdated,
		EntityID:  "A",
	})
	require.NoError(t, err)
	assert.Empty(t, marker.marked)
}

func TestRegisterDependenciesResolvesRelationshipChains(t *testing.T) {
	index := newFakeIndex()
	rels := &fakeRels{outgoing: map[string][]string{
		"E/items": {"I1", "I2"},
	}}

	p := NewPropagator(&fakeMarker{}, index, rels, testLogger())
	entity := &models.Entity{ID: "E", TenantID: "t"}

	deps := []models.DependencyPath{
		{EntityRef: "self", Property: "discount"},
		{EntityRef: "self", Relationships: []string{"items"}, Property: "price", IsCollection: true},
	}
	require.NoError(t, p.RegisterDependencies(context.Background(), entity, "total", deps))

	sources := index.replaced["E.total"]
	assert.ElementsMatch(t, []dependents.PropertyRef{
		{EntityID: "E", Property: "discount"},
		{EntityID: "I1", Property: "price"},
		{EntityID: "I2", Property: "price"},
	}, sources)
}

func TestRegisterDependenciesExplicitEntityRef(t *testing.T) {
	index := newFakeIndex()
	p := NewPropagator(&fakeMarker{}, index, &fakeRels{}, testLogger())
	entity := &models.Entity{ID: "E", TenantID: "t"}

	deps := []models.DependencyPath{{EntityRef: "other-id", Property: "rate"}}
	require.NoError(t, p.RegisterDependencies(context.Background(), entity, "fee", deps))

	assert.Equal(t, []dependents.PropertyRef{{EntityID: "other-id", Property: "rate"}}, index.replaced["E.fee"])
}

func TestRegisterDependenciesRecordsTraversalWatches(t *testing.T) {
	index := newFakeIndex()
	rels := &fakeRels{outgoing: map[string][]string{
		"E/items": {"I1"},
	}}

	p := NewPropagator(&fakeMarker{}, index, rels, testLogger())
	entity := &models.Entity{ID: "E", TenantID: "t"}

	deps := []models.DependencyPath{
		{EntityRef: "self", Relationships: []string{"items", "parts"}, Property: "mass", IsCollection: true},
	}
	require.NoError(t, p.RegisterDependencies(context.Background(), entity, "total_mass", deps))

	ref := dependents.PropertyRef{EntityID: "E", Property: "total_mass"}
	assert.Equal(t, []dependents.PropertyRef{ref}, index.watches["E/items"])
	// hops that currently reach nothing are still watched
	assert.Equal(t, []dependents.PropertyRef{ref}, index.watches["I1/parts"])
}

func TestRefreshForRelationshipReindexesAndMarksStale(t *testing.T) {
	total := &models.Property{
		Kind:       models.PropertyComputed,
		Expression: "SUM(@self.items[*].price)",
		Dependencies: []models.DependencyPath{
			{EntityRef: "self", Relationships: []string{"items"}, Property: "price", IsCollection: true},
		},
	}
	marker := &fakeMarker{entities: map[string]*models.Entity{
		"R": {ID: "R", TenantID: "t", Properties: map[string]*models.Property{"total": total}},
	}}
	index := newFakeIndex()
	rels := &fakeRels{outgoing: map[string][]string{
		"R/items": {"A"},
	}}

	p := NewPropagator(marker, index, rels, testLogger())
	entity := marker.entities["R"]
	require.NoError(t, p.RegisterDependencies(context.Background(), entity, "total", total.Dependencies))
	assert.Equal(t, []dependents.PropertyRef{{EntityID: "A", Property: "price"}}, index.replaced["R.total"])

	// a new edge R -> B appears after registration
	rels.outgoing["R/items"] = []string{"A", "B"}
	require.NoError(t, p.RefreshForRelationship(context.Background(), "t", "R", "items"))

	assert.ElementsMatch(t, []dependents.PropertyRef{
		{EntityID: "A", Property: "price"},
		{EntityID: "B", Property: "price"},
	}, index.replaced["R.total"])
	assert.Equal(t, []string{"R.total"}, marker.marked)
}

func TestRefreshForRelationshipSkipsMissingEntities(t *testing.T) {
	index := newFakeIndex()
	index.watches["R/items"] = []dependents.PropertyRef{{EntityID: "gone", Property: "total"}}

	p := NewPropagator(&fakeMarker{}, index, &fakeRels{}, testLogger())
	require.NoError(t, p.RefreshForRelationship(context.Background(), "t", "R", "items"))
}
