package entity

import (
	"context"
	"database/sql"
	goerrors "errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/query"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// Repository handles entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

type row struct {
	ID         string                                       `db:"id"`
	TenantID   string                                       `db:"tenant_id"`
	TypePath   string                                       `db:"type_path"`
	Properties database.JSONB[map[string]*models.Property]  `db:"properties"`
	Version    int64                                        `db:"version"`
	CreatedAt  time.Time                                    `db:"created_at"`
	UpdatedAt  time.Time                                    `db:"updated_at"`
	CreatedBy  string                                       `db:"created_by"`
	DeletedAt  *time.Time                                   `db:"deleted_at"`
}

func (r row) toModel() *models.Entity {
	return &models.Entity{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Type:       r.TypePath,
		Properties: r.Properties.GetValue(),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		CreatedBy:  r.CreatedBy,
		DeletedAt:  r.DeletedAt,
	}
}

var selectColumns = []string{
	"id", "tenant_id", "type_path", "properties", "version",
	"created_at", "updated_at", "created_by", "deleted_at",
}

// Create inserts a new entity at version 1.
func (r *Repository) Create(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	if entity.ID == "" {
		entity.ID = uuid.Must(uuid.NewV7()).String()
	}
	entity.CreatedAt = time.Now().UTC()
	entity.UpdatedAt = entity.CreatedAt
	entity.Version = 1
	if entity.Properties == nil {
		entity.Properties = map[string]*models.Property{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols("id", "tenant_id", "type_path", "properties", "version", "created_at", "updated_at", "created_by")
	sb.Values(entity.ID, entity.TenantID, entity.Type, database.NewJSONB(entity.Properties), entity.Version, entity.CreatedAt, entity.UpdatedAt, entity.CreatedBy)

	stmt, args := sb.Build()
	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create entity")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create entity")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": entity.ID, "type": entity.Type}).Info("Created entity")
	return entity, nil
}

// Get retrieves a live entity by id within a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("entities")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	stmt, args := sb.Build()
	var record row
	if err := r.db.Runner(ctx).GetContext(ctx, &record, stmt, args...); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.CodeNotFound, "entity %s not found", id).WithDetail("entity_id", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get entity")
	}

	return record.toModel(), nil
}

// GetMany batch-loads live entities by id. Missing ids are silently absent
// from the result.
func (r *Repository) GetMany(ctx context.Context, tenantID string, ids []string) ([]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetMany")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	idArgs := make([]any, 0, len(ids))
	for _, id := range ids {
		idArgs = append(idArgs, id)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("entities")
	sb.Where(
		sb.In("id", idArgs...),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	stmt, args := sb.Build()
	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to batch load entities")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to batch load entities")
	}

	entities := make([]*models.Entity, 0, len(records))
	for _, record := range records {
		entities = append(entities, record.toModel())
	}
	return entities, nil
}

// Update persists new properties under optimistic lock. Zero rows affected
// means either the entity vanished or the version is stale; the current row
// is refetched to tell which.
func (r *Repository) Update(ctx context.Context, entity *models.Entity, expectedVersion int64) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("properties", database.NewJSONB(entity.Properties)),
		sb.Assign("updated_at", now),
		sb.Add("version", 1),
	)
	sb.Where(
		sb.Equal("id", entity.ID),
		sb.Equal("tenant_id", entity.TenantID),
		sb.Equal("version", expectedVersion),
		sb.IsNull("deleted_at"),
	)

	stmt, args := sb.Build()
	result, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update entity")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to update entity")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		current, getErr := r.Get(ctx, entity.TenantID, entity.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.Newf(errors.CodeVersionConflict, "entity %s was modified concurrently", entity.ID).
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", current.Version)
	}

	entity.Version = expectedVersion + 1
	entity.UpdatedAt = now
	return entity, nil
}

// SetPropertyStatus rewrites one property's status in place without touching
// the entity version or emitting events. Used by the staleness propagator.
func (r *Repository) SetPropertyStatus(ctx context.Context, tenantID, entityID, property string, status models.PropertyStatus) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetPropertyStatus")
	defer span.End()

	stmt := `UPDATE entities
		SET properties = jsonb_set(properties, ARRAY[$1, 'status'], to_jsonb($2::text))
		WHERE tenant_id = $3 AND id = $4 AND deleted_at IS NULL AND properties ? $1`

	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, property, string(status), tenantID, entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
			"property":  property,
		}).Error("Failed to set property status")
		return errors.Wrap(err, errors.CodeInternal, "failed to set property status")
	}

	return nil
}

// SoftDelete marks an entity deleted, preserving the row and its events.
func (r *Repository) SoftDelete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SoftDelete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	stmt, args := sb.Build()
	result, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to soft delete entity")
		return errors.Wrap(err, errors.CodeInternal, "failed to delete entity")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.CodeNotFound, "entity %s not found", id).WithDetail("entity_id", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted entity")
	return nil
}

// HardDelete removes the row entirely. Prior events are retained.
func (r *Repository) HardDelete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.HardDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("entities")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	stmt, args := sb.Build()
	result, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to hard delete entity")
		return errors.Wrap(err, errors.CodeInternal, "failed to delete entity")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.CodeNotFound, "entity %s not found", id).WithDetail("entity_id", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Hard deleted entity")
	return nil
}

// RunQuery executes a built entity query.
func (r *Repository) RunQuery(ctx context.Context, q query.Query) ([]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.RunQuery")
	defer span.End()

	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, q.SQL, q.Args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to run entity query")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to run entity query")
	}

	entities := make([]*models.Entity, 0, len(records))
	for _, record := range records {
		entities = append(entities, record.toModel())
	}
	return entities, nil
}

// RunCount executes a built count query.
func (r *Repository) RunCount(ctx context.Context, q query.Query) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.RunCount")
	defer span.End()

	var total int64
	if err := r.db.Runner(ctx).GetContext(ctx, &total, q.SQL, q.Args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entities")
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to count entities")
	}
	return total, nil
}
