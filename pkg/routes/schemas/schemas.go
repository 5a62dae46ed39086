package schemas

import (
	stdcontext "context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/schema"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// RelationshipLister reads registered relationship schemas. Satisfied by the
// relationship schema repository.
type RelationshipLister interface {
	List(ctx stdcontext.Context) ([]*models.RelationshipSchema, error)
}

// Handler exposes the loaded product configuration.
type Handler struct {
	registry      *schema.Registry
	relationships RelationshipLister
}

// NewHandler creates a schema route handler.
func NewHandler(registry *schema.Registry, relationships RelationshipLister) *Handler {
	return &Handler{registry: registry, relationships: relationships}
}

// Register registers schema routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/schema/types", h.Types)
	g.GET("/schema/relationships", h.Relationships)
}

// Types lists registered entity type schemas
func (h *Handler) Types(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "schemas.Types")
	defer span.End()

	return c.JSON(http.StatusOK, map[string]any{"types": h.registry.TypeSchemas()})
}

// Relationships lists registered relationship schemas
func (h *Handler) Relationships(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "schemas.Relationships")
	defer span.End()

	schemas, err := h.relationships.List(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"relationships": schemas})
}
