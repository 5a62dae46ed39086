package computation

import (
	"context"
	goerrors "errors"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/expr"
	"github.com/jnarwell/trellis-sub000/pkg/metrics"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// DefaultMaxRetries bounds how many times a recompute is replayed after
// losing an optimistic-lock race.
const DefaultMaxRetries = 3

// EntityStore is the slice of the entity repository the service needs.
type EntityStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Entity, error)
	GetMany(ctx context.Context, tenantID string, ids []string) ([]*models.Entity, error)
	Update(ctx context.Context, entity *models.Entity, expectedVersion int64) (*models.Entity, error)
}

// RelationshipStore loads outgoing edges for traversal.
type RelationshipStore interface {
	ListForEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*models.Relationship, error)
}

// Service recomputes computed properties. Per entity it resolves the access
// plan from the union of dependencies, batch-loads everything the expressions
// can reach, orders intra-entity dependencies topologically, and writes the
// results back under optimistic lock.
type Service struct {
	entities      EntityStore
	relationships RelationshipStore
	logger        ectologger.Logger
	maxRetries    int
}

// NewService creates a computation service.
func NewService(entities EntityStore, relationships RelationshipStore, logger ectologger.Logger) *Service {
	return &Service{
		entities:      entities,
		relationships: relationships,
		logger:        logger,
		maxRetries:    DefaultMaxRetries,
	}
}

// RecomputeEntity re-evaluates every computed property on an entity.
func (s *Service) RecomputeEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "computation.Service.RecomputeEntity")
	defer span.End()
	return s.recompute(ctx, tenantID, entityID, "")
}

// RecomputeProperty re-evaluates a single computed property, reading other
// computed properties through their cached values.
func (s *Service) RecomputeProperty(ctx context.Context, tenantID, entityID, property string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "computation.Service.RecomputeProperty")
	defer span.End()
	return s.recompute(ctx, tenantID, entityID, property)
}

func (s *Service) recompute(ctx context.Context, tenantID, entityID, onlyProperty string) (*models.Entity, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		entity, err := s.entities.Get(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}

		targets, err := targetProperties(entity, onlyProperty)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return entity, nil
		}

		parsed := s.parseTargets(entity, targets)

		ectx, err := s.buildContext(ctx, entity, parsed)
		if err != nil {
			return nil, err
		}

		order, cyclic := topoSort(entity, parsed)
		for _, name := range cyclic {
			prop := entity.Properties[name]
			prop.CachedValue = nil
			prop.Status = models.StatusError
			prop.Error = &models.PropertyError{
				Code:    string(errors.CodeCircularDependency),
				Message: "circular dependency between computed properties",
			}
		}

		for _, name := range order {
			s.evaluateProperty(ectx, entity, name, parsed[name])
		}

		updated, err := s.entities.Update(ctx, entity, entity.Version)
		if err != nil {
			if errors.IsCode(err, errors.CodeVersionConflict) {
				lastErr = err
				s.logger.WithContext(ctx).WithFields(map[string]any{
					"entity_id": entityID,
					"attempt":   attempt + 1,
				}).Warnf("Recompute lost optimistic lock, retrying")
				continue
			}
			return nil, err
		}
		return updated, nil
	}
	return nil, lastErr
}

// parsed holds the per-property parse outcome. A nil node means the
// expression failed to parse; the error is recorded during evaluation.
type parsedProperty struct {
	node     expr.Node
	parseErr error
	deps     []models.DependencyPath
}

func targetProperties(entity *models.Entity, onlyProperty string) ([]string, error) {
	if onlyProperty != "" {
		prop := entity.Property(onlyProperty)
		if prop == nil {
			return nil, errors.Newf(errors.CodeNotFound, "property %s not found on entity %s", onlyProperty, entity.ID).
				WithDetail("property", onlyProperty)
		}
		if prop.Kind != models.PropertyComputed {
			return nil, errors.Newf(errors.CodeValidation, "property %s is not computed", onlyProperty).
				WithDetail("property", onlyProperty)
		}
		return []string{onlyProperty}, nil
	}
	return entity.ComputedProperties(), nil
}

func (s *Service) parseTargets(entity *models.Entity, targets []string) map[string]*parsedProperty {
	parsed := make(map[string]*parsedProperty, len(targets))
	for _, name := range targets {
		prop := entity.Properties[name]
		node, err := expr.Parse(prop.Expression)
		entry := &parsedProperty{node: node, parseErr: err}
		if err == nil {
			entry.deps = expr.ExtractDependencies(node)
			prop.Dependencies = entry.deps
		}
		parsed[name] = entry
	}
	return parsed
}

// buildContext batch-loads every entity the target expressions can reach:
// explicit references first, then one relationship hop per chain level.
func (s *Service) buildContext(ctx context.Context, entity *models.Entity, parsed map[string]*parsedProperty) (*expr.Context, error) {
	ectx := expr.NewContext(entity.TenantID, entity)

	maxChain := 0
	explicit := map[string]bool{}
	for _, entry := range parsed {
		for _, dep := range entry.deps {
			if len(dep.Relationships) > maxChain {
				maxChain = len(dep.Relationships)
			}
			if dep.EntityRef != "" && dep.EntityRef != expr.SelfRef && dep.EntityRef != entity.ID {
				explicit[dep.EntityRef] = true
			}
		}
	}

	loaded := map[string]bool{entity.ID: true}
	frontier := []string{entity.ID}

	if len(explicit) > 0 {
		ids := make([]string, 0, len(explicit))
		for id := range explicit {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		refs, err := s.entities.GetMany(ctx, entity.TenantID, ids)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			ectx.AddEntity(ref)
			loaded[ref.ID] = true
			frontier = append(frontier, ref.ID)
		}
	}

	for hop := 0; hop < maxChain && len(frontier) > 0; hop++ {
		rels, err := s.relationships.ListForEntities(ctx, entity.TenantID, frontier)
		if err != nil {
			return nil, err
		}

		var unseen []string
		for _, rel := range rels {
			ectx.AddRelationship(rel.FromEntity, rel.Type, rel.ToEntity)
			if !loaded[rel.ToEntity] {
				loaded[rel.ToEntity] = true
				unseen = append(unseen, rel.ToEntity)
			}
		}
		if len(unseen) == 0 {
			frontier = nil
			break
		}

		targets, err := s.entities.GetMany(ctx, entity.TenantID, unseen)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, target := range targets {
			ectx.AddEntity(target)
			frontier = append(frontier, target.ID)
		}
	}

	return ectx, nil
}

func (s *Service) evaluateProperty(ectx *expr.Context, entity *models.Entity, name string, entry *parsedProperty) {
	prop := entity.Properties[name]

	if entry.parseErr != nil {
		prop.CachedValue = nil
		prop.Status = models.StatusError
		prop.Error = propertyError(entry.parseErr)
		return
	}

	if err := ectx.PushEvaluation(entity.ID, name); err != nil {
		prop.CachedValue = nil
		prop.Status = models.StatusError
		prop.Error = propertyError(err)
		return
	}
	result := expr.Evaluate(ectx, entry.node)
	ectx.PopEvaluation(entity.ID, name)

	if result.Success {
		metrics.RecordEvaluation("success", result.DurationMs/1000)
		prop.CachedValue = result.Value
		prop.Status = models.StatusValid
		prop.Error = nil
		return
	}

	metrics.RecordEvaluation("error", result.DurationMs/1000)
	prop.CachedValue = nil
	prop.Status = models.StatusError
	prop.Error = propertyError(result.Err)
}

func propertyError(err error) *models.PropertyError {
	propErr := &models.PropertyError{
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	}
	var domainErr *errors.Error
	if goerrors.As(err, &domainErr) {
		propErr.Message = domainErr.Message
		if offset, ok := domainErr.Details["offset"].(int); ok {
			propErr.Offset = &offset
		}
	}
	return propErr
}

// topoSort orders the target computed properties so intra-entity dependencies
// evaluate before their dependents. Properties stuck in a cycle are returned
// separately; everything else still evaluates.
func topoSort(entity *models.Entity, parsed map[string]*parsedProperty) (order, cyclic []string) {
	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	sort.Strings(names)

	inTargets := map[string]bool{}
	for _, name := range names {
		inTargets[name] = true
	}

	// edges[a] lists targets that read a; indegree counts unevaluated deps
	edges := map[string][]string{}
	indegree := map[string]int{}
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range parsed[name].deps {
			if dep.EntityRef != expr.SelfRef && dep.EntityRef != entity.ID {
				continue
			}
			if len(dep.Relationships) > 0 || dep.Property == name || !inTargets[dep.Property] {
				continue
			}
			edges[dep.Property] = append(edges[dep.Property], name)
			indegree[name]++
		}
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	for len(queue) > 0 {
		sort.Strings(queue)
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, next := range edges[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) < len(names) {
		ordered := map[string]bool{}
		for _, name := range order {
			ordered[name] = true
		}
		for _, name := range names {
			if !ordered[name] {
				cyclic = append(cyclic, name)
			}
		}
	}
	return order, cyclic
}
