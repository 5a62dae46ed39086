package relationship

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
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Direction selects which side of a relationship an entity sits on when
// listing.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Repository handles relationship persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new relationship repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	ID         string                                    `db:"id"`
	TenantID   string                                    `db:"tenant_id"`
	Type       string                                    `db:"type"`
	FromEntity string                                    `db:"from_entity"`
	ToEntity   string                                    `db:"to_entity"`
	Metadata   database.JSONB[map[string]*values.Value]  `db:"metadata"`
	CreatedAt  time.Time                                 `db:"created_at"`
	CreatedBy  string                                    `db:"created_by"`
}

func (r row) toModel() *models.Relationship {
	return &models.Relationship{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Type:       r.Type,
		FromEntity: r.FromEntity,
		ToEntity:   r.ToEntity,
		Metadata:   r.Metadata.GetValue(),
		CreatedAt:  r.CreatedAt,
		CreatedBy:  r.CreatedBy,
	}
}

var selectColumns = []string{
	"id", "tenant_id", "type", "from_entity", "to_entity",
	"metadata", "created_at", "created_by",
}

// Create inserts a relationship. The (tenant, type, from, to) tuple is
// unique; a duplicate insert reports ALREADY_EXISTS.
func (r *Repository) Create(ctx context.Context, rel *models.Relationship) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Create")
	defer span.End()

	if rel.ID == "" {
		rel.ID = uuid.Must(uuid.NewV7()).String()
	}
	rel.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("relationships")
	sb.Cols("id", "tenant_id", "type", "from_entity", "to_entity", "metadata", "created_at", "created_by")
	sb.Values(rel.ID, rel.TenantID, rel.Type, rel.FromEntity, rel.ToEntity, database.NewJSONB(rel.Metadata), rel.CreatedAt, rel.CreatedBy)

	stmt, args := sb.Build()
	stmt += " ON CONFLICT (tenant_id, type, from_entity, to_entity) DO NOTHING"

	result, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create relationship")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create relationship")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, errors.Newf(errors.CodeAlreadyExists, "relationship %s already exists between %s and %s", rel.Type, rel.FromEntity, rel.ToEntity).
			WithDetail("type", rel.Type).
			WithDetail("from_entity", rel.FromEntity).
			WithDetail("to_entity", rel.ToEntity)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": rel.ID, "type": rel.Type}).Info("Created relationship")
	return rel, nil
}

// Get retrieves a relationship by id within a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	stmt, args := sb.Build()
	var record row
	if err := r.db.Runner(ctx).GetContext(ctx, &record, stmt, args...); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.CodeNotFound, "relationship %s not found", id).WithDetail("relationship_id", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get relationship")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get relationship")
	}

	return record.toModel(), nil
}

// Delete removes a relationship by id.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("relationships")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	stmt, args := sb.Build()
	result, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete relationship")
		return errors.Wrap(err, errors.CodeInternal, "failed to delete relationship")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.CodeNotFound, "relationship %s not found", id).WithDetail("relationship_id", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted relationship")
	return nil
}

// ListForEntity returns relationships touching an entity, optionally
// narrowed by type and direction.
func (r *Repository) ListForEntity(ctx context.Context, tenantID, entityID, relType string, direction Direction) ([]*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListForEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("relationships")

	conds := []string{sb.Equal("tenant_id", tenantID)}
	switch direction {
	case DirectionOutgoing:
		conds = append(conds, sb.Equal("from_entity", entityID))
	case DirectionIncoming:
		conds = append(conds, sb.Equal("to_entity", entityID))
	default:
		conds = append(conds, sb.Or(sb.Equal("from_entity", entityID), sb.Equal("to_entity", entityID)))
	}
	if relType != "" {
		conds = append(conds, sb.Equal("type", relType))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at", "id")

	stmt, args := sb.Build()
	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list relationships")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list relationships")
	}

	rels := make([]*models.Relationship, 0, len(records))
	for _, record := range records {
		rels = append(rels, record.toModel())
	}
	return rels, nil
}

// ListForEntities returns all relationships whose from side is in the given
// set. Used to seed evaluation caches for traversal.
func (r *Repository) ListForEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListForEntities")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil, nil
	}

	idArgs := make([]any, 0, len(entityIDs))
	for _, id := range entityIDs {
		idArgs = append(idArgs, id)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("from_entity", idArgs...),
	)
	sb.OrderBy("created_at", "id")

	stmt, args := sb.Build()
	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list relationships for entities")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list relationships")
	}

	rels := make([]*models.Relationship, 0, len(records))
	for _, record := range records {
		rels = append(rels, record.toModel())
	}
	return rels, nil
}

// CountFrom counts relationships of a type leaving an entity. Used for
// cardinality enforcement.
func (r *Repository) CountFrom(ctx context.Context, tenantID, relType, fromEntity string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.CountFrom")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("type", relType),
		sb.Equal("from_entity", fromEntity),
	)

	stmt, args := sb.Build()
	var count int64
	if err := r.db.Runner(ctx).GetContext(ctx, &count, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count relationships")
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to count relationships")
	}
	return count, nil
}

// CountTo counts relationships of a type arriving at an entity.
func (r *Repository) CountTo(ctx context.Context, tenantID, relType, toEntity string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.CountTo")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("type", relType),
		sb.Equal("to_entity", toEntity),
	)

	stmt, args := sb.Build()
	var count int64
	if err := r.db.Runner(ctx).GetContext(ctx, &count, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count relationships")
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to count relationships")
	}
	return count, nil
}

// DeleteEdge removes the relationship matching an exact (type, from, to)
// edge. Returns nil without error when no such edge exists; inverse edges of
// bidirectional schemas are cleaned up through this.
func (r *Repository) DeleteEdge(ctx context.Context, tenantID, relType, fromEntity, toEntity string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.DeleteEdge")
	defer span.End()

	stmt := `DELETE FROM relationships
		WHERE tenant_id = $1 AND type = $2 AND from_entity = $3 AND to_entity = $4
		RETURNING id, tenant_id, type, from_entity, to_entity, metadata, created_at, created_by`

	var record row
	if err := r.db.Runner(ctx).GetContext(ctx, &record, stmt, tenantID, relType, fromEntity, toEntity); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete relationship edge")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to delete relationship")
	}

	return record.toModel(), nil
}

// DeleteForEntity removes every relationship touching an entity. Used when
// an entity is hard deleted.
func (r *Repository) DeleteForEntity(ctx context.Context, tenantID, entityID string) ([]*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.DeleteForEntity")
	defer span.End()

	stmt := `DELETE FROM relationships
		WHERE tenant_id = $1 AND (from_entity = $2 OR to_entity = $2)
		RETURNING id, tenant_id, type, from_entity, to_entity, metadata, created_at, created_by`

	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, tenantID, entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete relationships for entity")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to delete relationships")
	}

	rels := make([]*models.Relationship, 0, len(records))
	for _, record := range records {
		rels = append(rels, record.toModel())
	}
	return rels, nil
}
