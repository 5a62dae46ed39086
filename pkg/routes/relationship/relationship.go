package relationship

import (
	stdcontext "context"
	"net/http"

	"github.com/labstack/echo/v4"

	repo "github.com/jnarwell/trellis-sub000/internal/repositories/relationship"
	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/relationships"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/utils"
)

// Service is the relationship surface the routes call.
type Service interface {
	Create(ctx stdcontext.Context, tenantID, actorID string, input relationships.CreateInput) (*models.Relationship, error)
	Get(ctx stdcontext.Context, tenantID, id string) (*models.Relationship, error)
	Delete(ctx stdcontext.Context, tenantID, actorID, id string) error
	List(ctx stdcontext.Context, tenantID, entityID, relType string, direction repo.Direction) ([]*models.Relationship, error)
}

// Handler serves the relationship endpoints.
type Handler struct {
	service Service
}

// NewHandler creates a relationship route handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers relationship routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/relationships", h.Create)
	g.GET("/relationships", h.List)
	g.GET("/relationships/:id", h.Get)
	g.DELETE("/relationships/:id", h.Delete)
	g.GET("/entities/:id/relationships", h.ListForEntity)
}

// Create creates a relationship between two entities
func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship.Create")
	defer span.End()

	input, err := utils.BindRequest[relationships.CreateInput](c)
	if err != nil {
		return err
	}

	rel, err := h.service.Create(ctx, context.GetTenantID(ctx), context.GetActorID(ctx), input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, rel)
}

// Get returns one relationship by id
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship.Get")
	defer span.End()

	rel, err := h.service.Get(ctx, context.GetTenantID(ctx), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rel)
}

// Delete removes a relationship
func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship.Delete")
	defer span.End()

	if err := h.service.Delete(ctx, context.GetTenantID(ctx), context.GetActorID(ctx), c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// List lists relationships for the entity named by ?entity_id. ?direction=
// accepts outgoing, incoming, or both; ?type= filters by relationship type.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship.List")
	defer span.End()

	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return errors.New(errors.CodeValidation, "entity_id is required")
	}
	return h.list(c, ctx, entityID)
}

// ListForEntity is the path-parameter form of List.
func (h *Handler) ListForEntity(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship.ListForEntity")
	defer span.End()
	return h.list(c, ctx, c.Param("id"))
}

func (h *Handler) list(c echo.Context, ctx stdcontext.Context, entityID string) error {
	direction := repo.Direction(c.QueryParam("direction"))
	switch direction {
	case "", repo.DirectionOutgoing, repo.DirectionIncoming, repo.DirectionBoth:
	default:
		return errors.Newf(errors.CodeValidation, "unknown direction %q", direction)
	}

	rels, err := h.service.List(ctx, context.GetTenantID(ctx), entityID, c.QueryParam("type"), direction)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"relationships": rels})
}
