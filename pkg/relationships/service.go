package relationships

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/internal/repositories/relationship"
	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Repository is the relationship storage surface the service depends on.
type Repository interface {
	Create(ctx context.Context, rel *models.Relationship) (*models.Relationship, error)
	Get(ctx context.Context, tenantID, id string) (*models.Relationship, error)
	Delete(ctx context.Context, tenantID, id string) error
	DeleteEdge(ctx context.Context, tenantID, relType, fromEntity, toEntity string) (*models.Relationship, error)
	ListForEntity(ctx context.Context, tenantID, entityID, relType string, direction relationship.Direction) ([]*models.Relationship, error)
	CountFrom(ctx context.Context, tenantID, relType, fromEntity string) (int64, error)
	CountTo(ctx context.Context, tenantID, relType, toEntity string) (int64, error)
}

// SchemaRegistry resolves relationship type definitions.
type SchemaRegistry interface {
	Get(ctx context.Context, relType string) (*models.RelationshipSchema, error)
}

// EntityGetter verifies relationship endpoints exist within the tenant.
type EntityGetter interface {
	Get(ctx context.Context, tenantID, id string) (*models.Entity, error)
}

// Emitter is the event bus surface the service writes to.
type Emitter interface {
	Emit(ctx context.Context, opts events.EmitOptions, evts ...*models.Event) error
}

// DependencyRefresher re-resolves computed properties whose dependency
// chains traverse a relationship type through an endpoint. Creating or
// deleting an edge changes which entities those chains reach.
type DependencyRefresher interface {
	RefreshForRelationship(ctx context.Context, tenantID, entityID, relType string) error
}

// Service enforces relationship schemas: endpoint existence, type
// compatibility, and cardinality. Creation and its event commit together.
type Service struct {
	repo      Repository
	schemas   SchemaRegistry
	entities  EntityGetter
	emitter   Emitter
	refresher DependencyRefresher
	logger    ectologger.Logger

	runTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService creates a relationship service.
func NewService(db database.DB, repo Repository, schemas SchemaRegistry, entities EntityGetter, emitter Emitter, refresher DependencyRefresher, logger ectologger.Logger) *Service {
	return &Service{
		repo:      repo,
		schemas:   schemas,
		entities:  entities,
		emitter:   emitter,
		refresher: refresher,
		logger:    logger,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return database.WithinTx(ctx, db, fn)
		},
	}
}

// CreateInput is the request body for relationship creation.
type CreateInput struct {
	Type       string                   `json:"type" validate:"required"`
	FromEntity string                   `json:"from_entity" validate:"required"`
	ToEntity   string                   `json:"to_entity" validate:"required"`
	Metadata   map[string]*values.Value `json:"metadata,omitempty"`
}

// Create validates the edge against its registered schema and persists it.
func (s *Service) Create(ctx context.Context, tenantID, actorID string, input CreateInput) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.Create")
	defer span.End()

	if input.Type == "" || input.FromEntity == "" || input.ToEntity == "" {
		return nil, errors.New(errors.CodeValidation, "relationship requires type, from_entity, and to_entity")
	}
	if input.FromEntity == input.ToEntity {
		return nil, errors.New(errors.CodeValidation, "relationship cannot connect an entity to itself")
	}

	schema, err := s.schemas.Get(ctx, input.Type)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil, errors.Newf(errors.CodeValidation, "relationship type %q is not registered", input.Type).
				WithDetail("type", input.Type)
		}
		return nil, err
	}

	from, err := s.entities.Get(ctx, tenantID, input.FromEntity)
	if err != nil {
		return nil, endpointError(err, "from_entity")
	}
	to, err := s.entities.Get(ctx, tenantID, input.ToEntity)
	if err != nil {
		return nil, endpointError(err, "to_entity")
	}

	if !schema.AllowsFromType(from.Type) {
		return nil, errors.Newf(errors.CodeValidation, "entity type %q is not a valid source for relationship %q", from.Type, input.Type).
			WithDetail("type", input.Type).
			WithDetail("from_type", from.Type)
	}
	if !schema.AllowsToType(to.Type) {
		return nil, errors.Newf(errors.CodeValidation, "entity type %q is not a valid target for relationship %q", to.Type, input.Type).
			WithDetail("type", input.Type).
			WithDetail("to_type", to.Type)
	}

	if err := s.checkCardinality(ctx, tenantID, schema, input.FromEntity, input.ToEntity); err != nil {
		return nil, err
	}

	rel := &models.Relationship{
		TenantID:   tenantID,
		Type:       input.Type,
		FromEntity: input.FromEntity,
		ToEntity:   input.ToEntity,
		Metadata:   input.Metadata,
		CreatedBy:  actorID,
	}

	var evts []*models.Event
	err = s.runTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.Create(ctx, rel)
		if err != nil {
			return err
		}
		rel = created

		evts = []*models.Event{events.NewRelationshipCreated(created, from.Type, actorID)}

		// bidirectional schemas keep the inverse edge in lockstep
		if schema.Bidirectional && schema.InverseType != "" {
			inverse, err := s.repo.Create(ctx, &models.Relationship{
				TenantID:   tenantID,
				Type:       schema.InverseType,
				FromEntity: input.ToEntity,
				ToEntity:   input.FromEntity,
				Metadata:   input.Metadata,
				CreatedBy:  actorID,
			})
			if err != nil && !errors.IsCode(err, errors.CodeAlreadyExists) {
				return err
			}
			if inverse != nil {
				evts = append(evts, events.NewRelationshipCreated(inverse, to.Type, actorID))
			}
		}

		// the new edge may extend computed dependency chains
		if err := s.refresher.RefreshForRelationship(ctx, tenantID, input.FromEntity, input.Type); err != nil {
			return err
		}
		if schema.Bidirectional && schema.InverseType != "" {
			if err := s.refresher.RefreshForRelationship(ctx, tenantID, input.ToEntity, schema.InverseType); err != nil {
				return err
			}
		}

		return s.emitter.Emit(ctx, events.EmitOptions{SkipHandlers: true}, evts...)
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, evts)
	return rel, nil
}

// dispatch fans committed events out to subscribers. Events persist inside
// the write transaction; handlers only ever see committed state.
func (s *Service) dispatch(ctx context.Context, evts []*models.Event) {
	if len(evts) == 0 {
		return
	}
	if err := s.emitter.Emit(ctx, events.EmitOptions{SkipPersist: true}, evts...); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to dispatch events")
	}
}

// endpointError tags a missing relationship endpoint with the request field
// that named it.
func endpointError(err error, field string) error {
	if errors.IsCode(err, errors.CodeNotFound) {
		var te *errors.Error
		if errors.AsError(err, &te) {
			return errors.New(errors.CodeNotFound, te.Message).WithDetail("field", field)
		}
	}
	return err
}

// checkCardinality rejects edges that would exceed the schema's limits on
// either side.
func (s *Service) checkCardinality(ctx context.Context, tenantID string, schema *models.RelationshipSchema, fromEntity, toEntity string) error {
	limitFrom := schema.Cardinality == models.OneToOne || schema.Cardinality == models.ManyToOne
	limitTo := schema.Cardinality == models.OneToOne || schema.Cardinality == models.OneToMany

	if limitFrom {
		count, err := s.repo.CountFrom(ctx, tenantID, schema.Type, fromEntity)
		if err != nil {
			return err
		}
		if count > 0 {
			return errors.Newf(errors.CodeValidation, "entity %s already has a %s relationship", fromEntity, schema.Type).
				WithDetail("cardinality", string(schema.Cardinality)).
				WithDetail("entity_id", fromEntity)
		}
	}
	if limitTo {
		count, err := s.repo.CountTo(ctx, tenantID, schema.Type, toEntity)
		if err != nil {
			return err
		}
		if count > 0 {
			return errors.Newf(errors.CodeValidation, "entity %s is already the target of a %s relationship", toEntity, schema.Type).
				WithDetail("cardinality", string(schema.Cardinality)).
				WithDetail("entity_id", toEntity)
		}
	}
	return nil
}

// Get returns a relationship by id.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.Get")
	defer span.End()
	return s.repo.Get(ctx, tenantID, id)
}

// Delete removes a relationship and emits relationship_deleted.
func (s *Service) Delete(ctx context.Context, tenantID, actorID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.Delete")
	defer span.End()

	rel, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	fromType := ""
	if from, err := s.entities.Get(ctx, tenantID, rel.FromEntity); err == nil {
		fromType = from.Type
	}

	// deleting either side of a bidirectional pair removes both edges
	inverseType := ""
	toType := ""
	if schema, err := s.schemas.Get(ctx, rel.Type); err == nil && schema.Bidirectional && schema.InverseType != "" {
		inverseType = schema.InverseType
		if to, err := s.entities.Get(ctx, tenantID, rel.ToEntity); err == nil {
			toType = to.Type
		}
	}

	var evts []*models.Event
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, tenantID, id); err != nil {
			return err
		}
		evts = []*models.Event{events.NewRelationshipDeleted(rel, fromType, actorID)}
		if inverseType != "" {
			inverse, err := s.repo.DeleteEdge(ctx, tenantID, inverseType, rel.ToEntity, rel.FromEntity)
			if err != nil {
				return err
			}
			if inverse != nil {
				evts = append(evts, events.NewRelationshipDeleted(inverse, toType, actorID))
			}
		}

		// dependency chains through the removed edge shrink
		if err := s.refresher.RefreshForRelationship(ctx, tenantID, rel.FromEntity, rel.Type); err != nil {
			return err
		}
		if inverseType != "" {
			if err := s.refresher.RefreshForRelationship(ctx, tenantID, rel.ToEntity, inverseType); err != nil {
				return err
			}
		}

		return s.emitter.Emit(ctx, events.EmitOptions{SkipHandlers: true}, evts...)
	})
	if err != nil {
		return err
	}
	s.dispatch(ctx, evts)
	return nil
}

// List returns the relationships touching an entity. Direction defaults to
// both sides; bidirectional schemas list incoming edges under outgoing
// queries for their inverse type.
func (s *Service) List(ctx context.Context, tenantID, entityID, relType string, direction relationship.Direction) ([]*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Service.List")
	defer span.End()

	if direction == "" {
		direction = relationship.DirectionBoth
	}
	if _, err := s.entities.Get(ctx, tenantID, entityID); err != nil {
		return nil, err
	}
	return s.repo.ListForEntity(ctx, tenantID, entityID, relType, direction)
}
