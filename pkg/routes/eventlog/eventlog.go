package eventlog

import (
	stdcontext "context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/internal/repositories/event"
	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// Store reads the event log. Satisfied by the event repository.
type Store interface {
	Query(ctx stdcontext.Context, tenantID string, opts event.QueryOptions) ([]*models.Event, error)
}

// Handler serves the audit log endpoint.
type Handler struct {
	store Store
}

// NewHandler creates an event log route handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register registers event log routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/events", h.List)
}

// List reads the tenant's event log in occurrence order. Filters:
// ?event_type= (comma separated), ?entity_id=, ?actor_id=, ?from=, ?to=
// (RFC3339), ?limit=, ?offset=.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "eventlog.List")
	defer span.End()

	opts := event.QueryOptions{
		EntityID: c.QueryParam("entity_id"),
		ActorID:  c.QueryParam("actor_id"),
	}

	if raw := c.QueryParam("event_type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				opts.EventTypes = append(opts.EventTypes, models.EventType(part))
			}
		}
	}

	var err error
	if opts.From, err = parseTime(c.QueryParam("from")); err != nil {
		return err
	}
	if opts.To, err = parseTime(c.QueryParam("to")); err != nil {
		return err
	}
	if opts.Limit, err = parseInt(c.QueryParam("limit")); err != nil {
		return err
	}
	if opts.Offset, err = parseInt(c.QueryParam("offset")); err != nil {
		return err
	}

	events, err := h.store.Query(ctx, context.GetTenantID(ctx), opts)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Newf(errors.CodeValidation, "invalid timestamp %q", raw)
	}
	return t, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Newf(errors.CodeValidation, "invalid integer %q", raw)
	}
	return n, nil
}
