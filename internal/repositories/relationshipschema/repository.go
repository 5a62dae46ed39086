package relationshipschema

import (
	"context"
	"database/sql"
	goerrors "errors"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// Repository handles relationship schema persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new relationship schema repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	Type          string         `db:"type"`
	FromTypes     pq.StringArray `db:"from_types"`
	ToTypes       pq.StringArray `db:"to_types"`
	Cardinality   string         `db:"cardinality"`
	Bidirectional bool           `db:"bidirectional"`
	InverseType   sql.NullString `db:"inverse_type"`
}

func (r row) toModel() *models.RelationshipSchema {
	return &models.RelationshipSchema{
		Type:          r.Type,
		FromTypes:     []string(r.FromTypes),
		ToTypes:       []string(r.ToTypes),
		Cardinality:   models.Cardinality(r.Cardinality),
		Bidirectional: r.Bidirectional,
		InverseType:   r.InverseType.String,
	}
}

// Upsert registers or replaces a schema definition for a relationship type.
func (r *Repository) Upsert(ctx context.Context, schema *models.RelationshipSchema) error {
	ctx, span := tracing.StartSpan(ctx, "relationshipschema.Repository.Upsert")
	defer span.End()

	var inverse sql.NullString
	if schema.InverseType != "" {
		inverse = sql.NullString{String: schema.InverseType, Valid: true}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("relationship_schemas")
	sb.Cols("type", "from_types", "to_types", "cardinality", "bidirectional", "inverse_type")
	sb.Values(schema.Type, pq.StringArray(schema.FromTypes), pq.StringArray(schema.ToTypes), string(schema.Cardinality), schema.Bidirectional, inverse)

	stmt, args := sb.Build()
	stmt += ` ON CONFLICT (type) DO UPDATE SET
		from_types = EXCLUDED.from_types,
		to_types = EXCLUDED.to_types,
		cardinality = EXCLUDED.cardinality,
		bidirectional = EXCLUDED.bidirectional,
		inverse_type = EXCLUDED.inverse_type`

	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert relationship schema")
		return errors.Wrap(err, errors.CodeInternal, "failed to save relationship schema")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"type": schema.Type}).Info("Registered relationship schema")
	return nil
}

// Get retrieves the schema for a relationship type.
func (r *Repository) Get(ctx context.Context, relType string) (*models.RelationshipSchema, error) {
	ctx, span := tracing.StartSpan(ctx, "relationshipschema.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("type", "from_types", "to_types", "cardinality", "bidirectional", "inverse_type")
	sb.From("relationship_schemas")
	sb.Where(sb.Equal("type", relType))

	stmt, args := sb.Build()
	var record row
	if err := r.db.Runner(ctx).GetContext(ctx, &record, stmt, args...); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.CodeNotFound, "relationship type %s is not registered", relType).WithDetail("type", relType)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get relationship schema")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get relationship schema")
	}

	return record.toModel(), nil
}

// List returns every registered schema.
func (r *Repository) List(ctx context.Context) ([]*models.RelationshipSchema, error) {
	ctx, span := tracing.StartSpan(ctx, "relationshipschema.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("type", "from_types", "to_types", "cardinality", "bidirectional", "inverse_type")
	sb.From("relationship_schemas")
	sb.OrderBy("type")

	stmt, args := sb.Build()
	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list relationship schemas")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list relationship schemas")
	}

	schemas := make([]*models.RelationshipSchema, 0, len(records))
	for _, record := range records {
		schemas = append(schemas, record.toModel())
	}
	return schemas, nil
}
