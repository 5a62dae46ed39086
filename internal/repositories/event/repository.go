package event

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// Repository handles the append-only event log. Events are never updated or
// deleted.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	ID         string                          `db:"id"`
	TenantID   string                          `db:"tenant_id"`
	EventType  string                          `db:"event_type"`
	EntityID   string                          `db:"entity_id"`
	EntityType string                          `db:"entity_type"`
	ActorID    string                          `db:"actor_id"`
	OccurredAt time.Time                       `db:"occurred_at"`
	Payload    database.JSONB[map[string]any]  `db:"payload"`
}

func (r row) toModel() *models.Event {
	return &models.Event{
		ID:         r.ID,
		TenantID:   r.TenantID,
		EventType:  models.EventType(r.EventType),
		EntityID:   r.EntityID,
		EntityType: r.EntityType,
		ActorID:    r.ActorID,
		OccurredAt: r.OccurredAt,
		Payload:    r.Payload.GetValue(),
	}
}

var columns = []string{
	"id", "tenant_id", "event_type", "entity_id", "entity_type",
	"actor_id", "occurred_at", "payload",
}

// SaveMany appends a batch of events. Ids and timestamps are assigned for
// events that lack them so a batch shares insertion order.
func (r *Repository) SaveMany(ctx context.Context, events []*models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.SaveMany")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("events")
	sb.Cols(columns...)
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.Must(uuid.NewV7()).String()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		sb.Values(event.ID, event.TenantID, string(event.EventType), event.EntityID, event.EntityType,
			event.ActorID, event.OccurredAt, database.NewJSONB(event.Payload))
	}

	stmt, args := sb.Build()
	if _, err := r.db.Runner(ctx).ExecContext(ctx, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to append events")
		return errors.Wrap(err, errors.CodeInternal, "failed to append events")
	}

	return nil
}

// Save appends a single event.
func (r *Repository) Save(ctx context.Context, event *models.Event) error {
	return r.SaveMany(ctx, []*models.Event{event})
}

// QueryOptions filter the event log. Zero values mean "no filter".
type QueryOptions struct {
	EventTypes []models.EventType
	EntityID   string
	ActorID    string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Query reads events for a tenant in occurrence order.
func (r *Repository) Query(ctx context.Context, tenantID string, opts QueryOptions) ([]*models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Query")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("events")

	conds := []string{sb.Equal("tenant_id", tenantID)}
	if len(opts.EventTypes) > 0 {
		types := make([]any, 0, len(opts.EventTypes))
		for _, eventType := range opts.EventTypes {
			types = append(types, string(eventType))
		}
		conds = append(conds, sb.In("event_type", types...))
	}
	if opts.EntityID != "" {
		conds = append(conds, sb.Equal("entity_id", opts.EntityID))
	}
	if opts.ActorID != "" {
		conds = append(conds, sb.Equal("actor_id", opts.ActorID))
	}
	if !opts.From.IsZero() {
		conds = append(conds, sb.GreaterEqualThan("occurred_at", opts.From))
	}
	if !opts.To.IsZero() {
		conds = append(conds, sb.LessThan("occurred_at", opts.To))
	}
	sb.Where(conds...)
	sb.OrderBy("occurred_at", "id")

	if opts.Limit > 0 {
		sb.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		sb.Offset(opts.Offset)
	}

	stmt, args := sb.Build()
	var records []row
	if err := r.db.Runner(ctx).SelectContext(ctx, &records, stmt, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query events")
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to query events")
	}

	events := make([]*models.Event, 0, len(records))
	for _, record := range records {
		events = append(events, record.toModel())
	}
	return events, nil
}
