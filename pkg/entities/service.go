package entities

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/expr"
	"github.com/jnarwell/trellis-sub000/pkg/metrics"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/query"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Repository is the entity storage surface the service depends on.
type Repository interface {
	Create(ctx context.Context, entity *models.Entity) (*models.Entity, error)
	Get(ctx context.Context, tenantID, id string) (*models.Entity, error)
	Update(ctx context.Context, entity *models.Entity, expectedVersion int64) (*models.Entity, error)
	SoftDelete(ctx context.Context, tenantID, id string) error
	HardDelete(ctx context.Context, tenantID, id string) error
	RunQuery(ctx context.Context, q query.Query) ([]*models.Entity, error)
	RunCount(ctx context.Context, q query.Query) (int64, error)
}

// DependencyRegistrar maintains the reverse dependency index for computed
// properties.
type DependencyRegistrar interface {
	RegisterDependencies(ctx context.Context, entity *models.Entity, property string, deps []models.DependencyPath) error
	UnregisterEntity(ctx context.Context, tenantID, entityID string) error
}

// RelationshipCleaner cascades relationship removal on hard delete.
type RelationshipCleaner interface {
	DeleteForEntity(ctx context.Context, tenantID, entityID string) ([]*models.Relationship, error)
}

// Emitter is the event bus surface the service writes to.
type Emitter interface {
	Emit(ctx context.Context, opts events.EmitOptions, evts ...*models.Event) error
}

// Recomputer re-evaluates computed properties after a write.
type Recomputer interface {
	RecomputeEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error)
}

// Service owns the entity lifecycle: input expansion, versioned writes,
// event production, and dependency index upkeep. Mutations and their events
// commit in one transaction.
type Service struct {
	repo          Repository
	registrar     DependencyRegistrar
	relationships RelationshipCleaner
	emitter       Emitter
	recomputer    Recomputer
	builder       *query.Builder
	logger        ectologger.Logger

	// evaluateOnWrite recomputes computed properties synchronously after a
	// committed create or update.
	evaluateOnWrite bool

	runTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService creates an entity service.
func NewService(
	db database.DB,
	repo Repository,
	registrar DependencyRegistrar,
	relationships RelationshipCleaner,
	emitter Emitter,
	recomputer Recomputer,
	evaluateOnWrite bool,
	logger ectologger.Logger,
) *Service {
	return &Service{
		repo:            repo,
		registrar:       registrar,
		relationships:   relationships,
		emitter:         emitter,
		recomputer:      recomputer,
		builder:         query.NewBuilder(),
		logger:          logger,
		evaluateOnWrite: evaluateOnWrite,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return database.WithinTx(ctx, db, fn)
		},
	}
}

// CreateInput is the request body for entity creation.
type CreateInput struct {
	Type       string                          `json:"type" validate:"required"`
	Properties map[string]models.PropertyInput `json:"properties"`
}

// Create expands property inputs, persists the entity at version 1, and
// emits entity_created plus one property_changed per property.
func (s *Service) Create(ctx context.Context, tenantID, actorID string, input CreateInput) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Service.Create")
	defer span.End()

	if input.Type == "" {
		return nil, errors.New(errors.CodeValidation, "entity type is required")
	}

	properties := map[string]*models.Property{}
	for _, name := range sortedInputNames(input.Properties) {
		prop, err := s.expandProperty(ctx, tenantID, name, input.Properties[name])
		if err != nil {
			return nil, err
		}
		properties[name] = prop
	}

	entity := &models.Entity{
		TenantID:   tenantID,
		Type:       input.Type,
		Properties: properties,
		CreatedBy:  actorID,
	}

	var evts []*models.Event
	err := s.runTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.Create(ctx, entity)
		if err != nil {
			return err
		}

		for _, name := range created.ComputedProperties() {
			if err := s.registrar.RegisterDependencies(ctx, created, name, created.Properties[name].Dependencies); err != nil {
				return err
			}
		}

		evts = []*models.Event{events.NewEntityCreated(created, actorID)}
		for _, name := range models.SortedPropertyNames(created.Properties) {
			evts = append(evts, events.NewPropertyChanged(created, actorID, name, models.ChangeAdded, nil, created.Properties[name].EffectiveValue()))
		}
		return s.emitter.Emit(ctx, events.EmitOptions{SkipHandlers: true}, evts...)
	})
	if err != nil {
		metrics.RecordEntityWrite("create", "error")
		return nil, err
	}
	metrics.RecordEntityWrite("create", "success")
	s.dispatch(ctx, evts)

	if s.evaluateOnWrite && len(entity.ComputedProperties()) > 0 {
		return s.recomputer.RecomputeEntity(ctx, tenantID, entity.ID)
	}
	return entity, nil
}

// GetOptions tune a single read.
type GetOptions struct {
	// ResolveInherited re-resolves inherited properties from their source
	// entities instead of trusting the cached resolution.
	ResolveInherited bool
	// EvaluateComputed refreshes stale or pending computed properties
	// before returning.
	EvaluateComputed bool
}

// Get returns a live entity.
func (s *Service) Get(ctx context.Context, tenantID, id string, opts GetOptions) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Service.Get")
	defer span.End()

	entity, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if opts.EvaluateComputed && needsEvaluation(entity) {
		entity, err = s.recomputer.RecomputeEntity(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
	}

	if opts.ResolveInherited {
		if err := s.resolveInherited(ctx, entity); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

func needsEvaluation(entity *models.Entity) bool {
	for _, name := range entity.ComputedProperties() {
		if entity.Properties[name].Status != models.StatusValid {
			return true
		}
	}
	return false
}

// resolveInherited refreshes the cached resolution of every inherited
// property on the snapshot. Overridden properties are left alone; a missing
// source surfaces as a null resolution, not an error.
func (s *Service) resolveInherited(ctx context.Context, entity *models.Entity) error {
	for _, name := range models.SortedPropertyNames(entity.Properties) {
		prop := entity.Properties[name]
		if prop.Kind != models.PropertyInherited || prop.Override != nil {
			continue
		}
		source, err := s.repo.Get(ctx, entity.TenantID, prop.FromEntity)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				prop.ResolvedValue = nil
				prop.Status = models.StatusError
				continue
			}
			return err
		}
		prop.ResolvedValue = source.Property(prop.FromProperty).EffectiveValue()
		prop.Status = models.StatusValid
	}
	return nil
}

// UpdateInput is the request body for entity updates.
type UpdateInput struct {
	Version          int64                           `json:"version" validate:"required,gt=0"`
	SetProperties    map[string]models.PropertyInput `json:"set_properties"`
	RemoveProperties []string                        `json:"remove_properties"`
}

// Update applies a property delta under optimistic lock and emits
// entity_updated plus per-property change events.
func (s *Service) Update(ctx context.Context, tenantID, actorID, id string, input UpdateInput) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Service.Update")
	defer span.End()

	// the optimistic lock needs the client's base version; an absent one
	// would silently overwrite concurrent writes
	if input.Version <= 0 {
		return nil, errors.New(errors.CodeValidation, "update requires the entity version").
			WithDetail("field", "version")
	}

	current, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	expected := input.Version
	if expected != current.Version {
		return nil, errors.Newf(errors.CodeVersionConflict, "entity %s was modified concurrently", id).
			WithDetail("expected_version", expected).
			WithDetail("actual_version", current.Version)
	}

	properties := make(map[string]*models.Property, len(current.Properties))
	for name, prop := range current.Properties {
		properties[name] = prop
	}

	var changed, removed []string
	var propertyEvents []*models.Event

	removals := append([]string{}, input.RemoveProperties...)
	sort.Strings(removals)
	for _, name := range removals {
		previousProp := properties[name]
		if previousProp == nil {
			continue
		}
		delete(properties, name)
		removed = append(removed, name)
		propertyEvents = append(propertyEvents, events.NewPropertyChanged(current, actorID, name, models.ChangeRemoved, previousProp.EffectiveValue(), nil))
	}

	for _, name := range sortedInputNames(input.SetProperties) {
		previousProp := properties[name]
		var previous *values.Value
		if previousProp != nil {
			previous = previousProp.EffectiveValue()
		}

		prop, err := s.expandProperty(ctx, tenantID, name, input.SetProperties[name])
		if err != nil {
			return nil, err
		}
		properties[name] = prop

		change := models.ChangeModified
		if previousProp == nil {
			change = models.ChangeAdded
		}
		changed = append(changed, name)
		propertyEvents = append(propertyEvents, events.NewPropertyChanged(current, actorID, name, change, previous, prop.EffectiveValue()))
	}

	updated := &models.Entity{
		ID:         current.ID,
		TenantID:   current.TenantID,
		Type:       current.Type,
		Properties: properties,
		Version:    current.Version,
		CreatedAt:  current.CreatedAt,
		CreatedBy:  current.CreatedBy,
	}

	var evts []*models.Event
	err = s.runTx(ctx, func(ctx context.Context) error {
		persisted, err := s.repo.Update(ctx, updated, expected)
		if err != nil {
			return err
		}
		updated = persisted

		for _, name := range changed {
			prop := properties[name]
			if prop.Kind == models.PropertyComputed {
				if err := s.registrar.RegisterDependencies(ctx, updated, name, prop.Dependencies); err != nil {
					return err
				}
			}
		}
		for _, name := range removed {
			if err := s.registrar.RegisterDependencies(ctx, updated, name, nil); err != nil {
				return err
			}
		}

		evts = []*models.Event{events.NewEntityUpdated(updated, actorID, expected, changed, removed)}
		evts = append(evts, propertyEvents...)
		return s.emitter.Emit(ctx, events.EmitOptions{SkipHandlers: true}, evts...)
	})
	if err != nil {
		metrics.RecordEntityWrite("update", "error")
		return nil, err
	}
	metrics.RecordEntityWrite("update", "success")
	s.dispatch(ctx, evts)

	if s.evaluateOnWrite && len(updated.ComputedProperties()) > 0 {
		return s.recomputer.RecomputeEntity(ctx, tenantID, updated.ID)
	}
	return updated, nil
}

// Delete removes an entity. Soft delete keeps the row; hard delete removes
// it and cascades its relationships and dependency index rows. Both emit
// entity_deleted, so the log stays complete.
func (s *Service) Delete(ctx context.Context, tenantID, actorID, id string, hard bool) error {
	ctx, span := tracing.StartSpan(ctx, "entities.Service.Delete")
	defer span.End()

	entity, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	var evts []*models.Event
	err = s.runTx(ctx, func(ctx context.Context) error {
		evts = []*models.Event{events.NewEntityDeleted(entity, actorID, hard)}

		if hard {
			rels, err := s.relationships.DeleteForEntity(ctx, tenantID, id)
			if err != nil {
				return err
			}
			for _, rel := range rels {
				evts = append(evts, events.NewRelationshipDeleted(rel, entity.Type, actorID))
			}
			if err := s.registrar.UnregisterEntity(ctx, tenantID, id); err != nil {
				return err
			}
			if err := s.repo.HardDelete(ctx, tenantID, id); err != nil {
				return err
			}
		} else {
			if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
				return err
			}
		}

		return s.emitter.Emit(ctx, events.EmitOptions{SkipHandlers: true}, evts...)
	})
	if err != nil {
		metrics.RecordEntityWrite("delete", "error")
		return err
	}
	metrics.RecordEntityWrite("delete", "success")
	s.dispatch(ctx, evts)
	return nil
}

// dispatch fans committed events out to subscribers. Events persist inside
// the write transaction; handlers only ever see committed state, and a
// handler failure cannot roll the write back.
func (s *Service) dispatch(ctx context.Context, evts []*models.Event) {
	if len(evts) == 0 {
		return
	}
	if err := s.emitter.Emit(ctx, events.EmitOptions{SkipPersist: true}, evts...); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to dispatch events")
	}
}

// Pagination describes the page a query returned and how to get the next
// one.
type Pagination struct {
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"cursor,omitempty"`
}

// QueryResult is one page of query matches.
type QueryResult struct {
	Data       []*models.Entity `json:"data"`
	Pagination Pagination       `json:"pagination"`
	TotalCount *int64           `json:"total_count,omitempty"`
}

// Query runs a filtered, sorted, paginated entity query.
func (s *Service) Query(ctx context.Context, req query.Request) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Service.Query")
	defer span.End()

	limit := s.builder.ClampLimit(req.Limit)
	req.Limit = limit

	q, err := s.builder.Build(req)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{
		Data:       rows,
		Pagination: Pagination{Offset: req.Offset, Limit: limit},
	}
	if len(rows) > limit {
		result.Data = rows[:limit]
		result.Pagination.HasMore = true
		last := result.Data[len(result.Data)-1]
		result.Pagination.Cursor = query.EncodeCursor(sortValuesFor(last, req.Sort), last.ID)
	}

	if req.IncludeTotal {
		countQuery, err := s.builder.BuildCount(req)
		if err != nil {
			return nil, err
		}
		total, err := s.repo.RunCount(ctx, countQuery)
		if err != nil {
			return nil, err
		}
		result.TotalCount = &total
	}

	return result, nil
}

// sortValuesFor captures the page boundary values matching the request's
// sort keys, in order, for the next cursor.
func sortValuesFor(entity *models.Entity, sortKeys []query.SortKey) []any {
	var vals []any
	for _, key := range sortKeys {
		if key.Property == "id" {
			continue
		}
		switch key.Property {
		case "type":
			vals = append(vals, entity.Type)
		case "version":
			vals = append(vals, float64(entity.Version))
		case "created_at":
			vals = append(vals, entity.CreatedAt)
		case "updated_at":
			vals = append(vals, entity.UpdatedAt)
		case "created_by":
			vals = append(vals, entity.CreatedBy)
		default:
			value := entity.Property(key.Property).EffectiveValue()
			if num, ok := value.AsNumber(); ok {
				vals = append(vals, num)
			} else if values.IsNull(value) {
				vals = append(vals, nil)
			} else {
				vals = append(vals, value.String())
			}
		}
	}
	return vals
}

// expandProperty turns a property input into a stored property. Computed
// expressions are parsed up front so invalid ones are rejected at write
// time; inherited sources are resolved immediately.
func (s *Service) expandProperty(ctx context.Context, tenantID, name string, input models.PropertyInput) (*models.Property, error) {
	switch input.Kind {
	case models.PropertyLiteral:
		return &models.Property{
			Kind:  models.PropertyLiteral,
			Value: input.Value,
		}, nil

	case models.PropertyMeasured:
		return &models.Property{
			Kind:        models.PropertyMeasured,
			Value:       input.Value,
			Uncertainty: input.Uncertainty,
			MeasuredAt:  input.MeasuredAt,
		}, nil

	case models.PropertyInherited:
		if input.FromEntity == "" || input.FromProperty == "" {
			return nil, errors.Newf(errors.CodeValidation, "inherited property %q requires from_entity and from_property", name).
				WithDetail("property", name)
		}
		source, err := s.repo.Get(ctx, tenantID, input.FromEntity)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				return nil, errors.Newf(errors.CodeReferenceBroken, "inherited property %q references missing entity %s", name, input.FromEntity).
					WithDetail("property", name).
					WithDetail("from_entity", input.FromEntity)
			}
			return nil, err
		}
		return &models.Property{
			Kind:          models.PropertyInherited,
			FromEntity:    input.FromEntity,
			FromProperty:  input.FromProperty,
			Override:      input.Override,
			ResolvedValue: source.Property(input.FromProperty).EffectiveValue(),
			Status:        models.StatusValid,
		}, nil

	case models.PropertyComputed:
		if input.Expression == "" {
			return nil, errors.Newf(errors.CodeValidation, "computed property %q requires an expression", name).
				WithDetail("property", name)
		}
		node, err := expr.Parse(input.Expression)
		if err != nil {
			return nil, err
		}
		return &models.Property{
			Kind:         models.PropertyComputed,
			Expression:   input.Expression,
			Dependencies: expr.ExtractDependencies(node),
			Status:       models.StatusPending,
		}, nil

	default:
		return nil, errors.Newf(errors.CodeValidation, "unknown property kind %q for %q", input.Kind, name).
			WithDetail("property", name)
	}
}

func sortedInputNames(inputs map[string]models.PropertyInput) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
