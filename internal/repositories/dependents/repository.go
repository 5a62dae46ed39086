package dependents

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// PropertyRef names one property on one entity.
type PropertyRef struct {
	EntityID string `db:"entity_id"`
	Property string `db:"property"`
}

// RelWatch marks an entity whose outgoing edges of a relationship type were
// traversed while resolving a dependency chain. An edge change there means
// the chain must be re-resolved.
type RelWatch struct {
	EntityID string `db:"entity_id"`
	RelType  string `db:"rel_type"`
}

// Repository maintains the reverse dependency index: which computed
// properties read from a given source property. The index is rebuilt per
// dependent property whenever its expression is created or changed.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new dependents repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ReplaceForDependent rewrites the index rows for one computed property.
// Passing no sources clears the property's entries.
func (r *Repository) ReplaceForDependent(ctx context.Context, tenantID string, dependent PropertyRef, sources []PropertyRef) error {
	ctx, span := tracing.StartSpan(ctx, "dependents.Repository.ReplaceForDependent")
	defer span.End()

	db := r.db.Runner(ctx)

	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom("property_dependents")
	del.Where(
		del.Equal("tenant_id", tenantID),
		del.Equal("dependent_entity_id", dependent.EntityID),
		del.Equal("dependent_property", dependent.Property),
	)
	stmt, args := del.Build()
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear dependency index")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	if len(sources) == 0 {
		return nil
	}

	ins := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ins.InsertInto("property_dependents")
	ins.Cols("tenant_id", "source_entity_id", "source_property", "dependent_entity_id", "dependent_property")
	for _, source := range sources {
		ins.Values(tenantID, source.EntityID, source.Property, dependent.EntityID, dependent.Property)
	}
	stmt, args = ins.Build()
	stmt += " ON CONFLICT DO NOTHING"

	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to write dependency index")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	return nil
}

// ReplaceWatches rewrites the relationship watches for one computed
// property. Passing no watches clears them.
func (r *Repository) ReplaceWatches(ctx context.Context, tenantID string, dependent PropertyRef, watches []RelWatch) error {
	ctx, span := tracing.StartSpan(ctx, "dependents.Repository.ReplaceWatches")
	defer span.End()

	db := r.db.Runner(ctx)

	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom("property_rel_watches")
	del.Where(
		del.Equal("tenant_id", tenantID),
		del.Equal("dependent_entity_id", dependent.EntityID),
		del.Equal("dependent_property", dependent.Property),
	)
	stmt, args := del.Build()
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear relationship watches")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	if len(watches) == 0 {
		return nil
	}

	ins := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ins.InsertInto("property_rel_watches")
	ins.Cols("tenant_id", "watch_entity_id", "rel_type", "dependent_entity_id", "dependent_property")
	for _, watch := range watches {
		ins.Values(tenantID, watch.EntityID, watch.RelType, dependent.EntityID, dependent.Property)
	}
	stmt, args = ins.Build()
	stmt += " ON CONFLICT DO NOTHING"

	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to write relationship watches")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	return nil
}

// Watchers returns the computed properties whose dependency chains traverse
// relType through entityID.
func (r *Repository) Watchers(ctx context.Context, tenantID, entityID, relType string) ([]PropertyRef, error) {
	ctx, span := tracing.StartSpan(ctx, "dependents.Repository.Watchers")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("dependent_entity_id AS entity_id", "dependent_property AS property")
	sb.From("property_rel_watches")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("watch_entity_id", entityID),
		sb.Equal("rel_type", relType),
	)
	sb.OrderBy("dependent_entity_id", "dependent_property")

	stmt, args := sb.Build()
	var refs []PropertyRef
	if err := r.db.Runner(ctx).SelectContext(ctx, &refs, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read relationship watches")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read dependency index")
	}

	return refs, nil
}

// Dependents returns the computed properties that read from a source
// property.
func (r *Repository) Dependents(ctx context.Context, tenantID string, source PropertyRef) ([]PropertyRef, error) {
	ctx, span := tracing.StartSpan(ctx, "dependents.Repository.Dependents")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("dependent_entity_id AS entity_id", "dependent_property AS property")
	sb.From("property_dependents")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("source_entity_id", source.EntityID),
		sb.Equal("source_property", source.Property),
	)
	sb.OrderBy("dependent_entity_id", "dependent_property")

	stmt, args := sb.Build()
	var refs []PropertyRef
	if err := r.db.Runner(ctx).SelectContext(ctx, &refs, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read dependency index")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read dependency index")
	}

	return refs, nil
}

// DeleteForEntity drops every index row touching an entity, on either side.
func (r *Repository) DeleteForEntity(ctx context.Context, tenantID, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "dependents.Repository.DeleteForEntity")
	defer span.End()

	stmt := `DELETE FROM property_dependents
		WHERE tenant_id = $1 AND (source_entity_id = $2 OR dependent_entity_id = $2)`

	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, tenantID, entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear dependency index for entity")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	stmt = `DELETE FROM property_rel_watches
		WHERE tenant_id = $1 AND (watch_entity_id = $2 OR dependent_entity_id = $2)`

	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, tenantID, entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear relationship watches for entity")
		return errors.Wrap(err, errors.CodeInternal, "failed to update dependency index")
	}

	return nil
}
