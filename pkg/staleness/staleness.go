package staleness

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/internal/repositories/dependents"
	"github.com/jnarwell/trellis-sub000/internal/repositories/relationship"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/metrics"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// EntityMarker is the slice of the entity repository the propagator needs.
type EntityMarker interface {
	Get(ctx context.Context, tenantID, id string) (*models.Entity, error)
	SetPropertyStatus(ctx context.Context, tenantID, entityID, property string, status models.PropertyStatus) error
}

// DependentIndex is the reverse dependency index.
type DependentIndex interface {
	ReplaceForDependent(ctx context.Context, tenantID string, dependent dependents.PropertyRef, sources []dependents.PropertyRef) error
	Dependents(ctx context.Context, tenantID string, source dependents.PropertyRef) ([]dependents.PropertyRef, error)
	ReplaceWatches(ctx context.Context, tenantID string, dependent dependents.PropertyRef, watches []dependents.RelWatch) error
	Watchers(ctx context.Context, tenantID, entityID, relType string) ([]dependents.PropertyRef, error)
	DeleteForEntity(ctx context.Context, tenantID, entityID string) error
}

// RelationshipLister resolves relationship chains when dependency paths are
// indexed.
type RelationshipLister interface {
	ListForEntity(ctx context.Context, tenantID, entityID, relType string, direction relationship.Direction) ([]*models.Relationship, error)
}

// Propagator marks computed properties stale when the properties they read
// from change. Marking writes status only; it bumps no versions and emits no
// events, so a change ripples through a dependency graph without feedback.
type Propagator struct {
	entities      EntityMarker
	index         DependentIndex
	relationships RelationshipLister
	logger        ectologger.Logger
}

// NewPropagator creates a staleness propagator.
func NewPropagator(entities EntityMarker, index DependentIndex, relationships RelationshipLister, logger ectologger.Logger) *Propagator {
	return &Propagator{
		entities:      entities,
		index:         index,
		relationships: relationships,
		logger:        logger,
	}
}

// RegisterDependencies rebuilds the index rows for one computed property.
// Relationship chains in the dependency paths are resolved to the concrete
// entities they currently reach, and each traversal hop is recorded as a
// watch so edge changes there trigger re-resolution.
func (p *Propagator) RegisterDependencies(ctx context.Context, entity *models.Entity, property string, deps []models.DependencyPath) error {
	ctx, span := tracing.StartSpan(ctx, "staleness.Propagator.RegisterDependencies")
	defer span.End()

	var sources []dependents.PropertyRef
	var watches []dependents.RelWatch
	seen := map[string]bool{}
	seenWatch := map[string]bool{}

	for _, dep := range deps {
		entityIDs, hops, err := p.resolveSources(ctx, entity, dep)
		if err != nil {
			return err
		}
		for _, id := range entityIDs {
			key := id + "." + dep.Property
			if seen[key] {
				continue
			}
			seen[key] = true
			sources = append(sources, dependents.PropertyRef{EntityID: id, Property: dep.Property})
		}
		for _, hop := range hops {
			key := hop.EntityID + "/" + hop.RelType
			if seenWatch[key] {
				continue
			}
			seenWatch[key] = true
			watches = append(watches, hop)
		}
	}

	dependent := dependents.PropertyRef{EntityID: entity.ID, Property: property}
	if err := p.index.ReplaceForDependent(ctx, entity.TenantID, dependent, sources); err != nil {
		return err
	}
	return p.index.ReplaceWatches(ctx, entity.TenantID, dependent, watches)
}

// resolveSources walks a dependency path's relationship chain from its base
// entity to the entities whose property is actually read. It also returns
// the (entity, relationship type) hops it traversed, including hops that
// currently reach nothing.
func (p *Propagator) resolveSources(ctx context.Context, entity *models.Entity, dep models.DependencyPath) ([]string, []dependents.RelWatch, error) {
	var base string
	if dep.EntityRef == "" || dep.EntityRef == "self" {
		base = entity.ID
	} else {
		base = dep.EntityRef
	}

	current := []string{base}
	var hops []dependents.RelWatch
	for _, relType := range dep.Relationships {
		var next []string
		for _, id := range current {
			hops = append(hops, dependents.RelWatch{EntityID: id, RelType: relType})
			rels, err := p.relationships.ListForEntity(ctx, entity.TenantID, id, relType, relationship.DirectionOutgoing)
			if err != nil {
				return nil, nil, err
			}
			for _, rel := range rels {
				next = append(next, rel.ToEntity)
			}
		}
		current = next
	}

	return current, hops, nil
}

// RefreshForRelationship re-resolves every computed property whose
// dependency chain traverses relType through entityID. Each one is
// re-indexed and marked stale, and the mark ripples to its own dependents.
func (p *Propagator) RefreshForRelationship(ctx context.Context, tenantID, entityID, relType string) error {
	ctx, span := tracing.StartSpan(ctx, "staleness.Propagator.RefreshForRelationship")
	defer span.End()

	refs, err := p.index.Watchers(ctx, tenantID, entityID, relType)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		entity, err := p.entities.Get(ctx, tenantID, ref.EntityID)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				continue
			}
			return err
		}
		prop := entity.Property(ref.Property)
		if prop == nil || prop.Kind != models.PropertyComputed {
			continue
		}
		if err := p.RegisterDependencies(ctx, entity, ref.Property, prop.Dependencies); err != nil {
			return err
		}
		if err := p.entities.SetPropertyStatus(ctx, tenantID, ref.EntityID, ref.Property, models.StatusStale); err != nil {
			return err
		}
		if err := p.Propagate(ctx, tenantID, ref.EntityID, ref.Property); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterEntity clears index rows for a deleted entity.
func (p *Propagator) UnregisterEntity(ctx context.Context, tenantID, entityID string) error {
	return p.index.DeleteForEntity(ctx, tenantID, entityID)
}

// Handler subscribes the propagator to property_changed events. Only added
// and modified changes trigger propagation.
func (p *Propagator) Handler() events.Handler {
	return func(ctx context.Context, event *models.Event) error {
		if event.EventType != models.EventPropertyChanged {
			return nil
		}
		change, _ := event.Payload["change_type"].(string)
		if change != string(models.ChangeAdded) && change != string(models.ChangeModified) {
			return nil
		}
		property, _ := event.Payload["property_name"].(string)
		if property == "" {
			return nil
		}
		return p.Propagate(ctx, event.TenantID, event.EntityID, property)
	}
}

// Propagate marks every transitive dependent of a source property stale.
// Breadth-first with a visited set, so diamond graphs mark each property
// once and cycles terminate.
func (p *Propagator) Propagate(ctx context.Context, tenantID, entityID, property string) error {
	ctx, span := tracing.StartSpan(ctx, "staleness.Propagator.Propagate")
	defer span.End()

	start := dependents.PropertyRef{EntityID: entityID, Property: property}
	queue := []dependents.PropertyRef{start}
	visited := map[string]bool{start.EntityID + "." + start.Property: true}
	marked := 0

	for len(queue) > 0 {
		source := queue[0]
		queue = queue[1:]

		refs, err := p.index.Dependents(ctx, tenantID, source)
		if err != nil {
			return err
		}

		for _, ref := range refs {
			key := ref.EntityID + "." + ref.Property
			if visited[key] {
				continue
			}
			visited[key] = true

			if err := p.entities.SetPropertyStatus(ctx, tenantID, ref.EntityID, ref.Property, models.StatusStale); err != nil {
				return err
			}
			marked++
			queue = append(queue, ref)
		}
	}

	if marked > 0 {
		metrics.StalenessMarksTotal.Add(float64(marked))
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id": entityID,
			"property":  property,
			"marked":    marked,
		}).Debug("Propagated staleness")
	}
	return nil
}
