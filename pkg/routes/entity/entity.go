package entity

import (
	stdcontext "context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/entities"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/query"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/utils"
)

// Service is the entity surface the routes call.
type Service interface {
	Create(ctx stdcontext.Context, tenantID, actorID string, input entities.CreateInput) (*models.Entity, error)
	Get(ctx stdcontext.Context, tenantID, id string, opts entities.GetOptions) (*models.Entity, error)
	Update(ctx stdcontext.Context, tenantID, actorID, id string, input entities.UpdateInput) (*models.Entity, error)
	Delete(ctx stdcontext.Context, tenantID, actorID, id string, hard bool) error
	Query(ctx stdcontext.Context, req query.Request) (*entities.QueryResult, error)
}

// Handler serves the entity CRUD and query endpoints.
type Handler struct {
	service Service
}

// NewHandler creates an entity route handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/entities", h.Create)
	g.GET("/entities/:id", h.Get)
	g.PUT("/entities/:id", h.Update)
	g.DELETE("/entities/:id", h.Delete)
	g.POST("/query", h.Query)
}

// Create creates an entity
func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Create")
	defer span.End()

	input, err := utils.BindRequest[entities.CreateInput](c)
	if err != nil {
		return err
	}

	entity, err := h.service.Create(ctx, context.GetTenantID(ctx), context.GetActorID(ctx), input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, entity)
}

// Get returns one entity by id. ?resolve_inherited and ?evaluate_computed
// refresh derived values before the response is built.
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Get")
	defer span.End()

	opts := entities.GetOptions{
		ResolveInherited: boolParam(c, "resolve_inherited"),
		EvaluateComputed: boolParam(c, "evaluate_computed"),
	}

	entity, err := h.service.Get(ctx, context.GetTenantID(ctx), c.Param("id"), opts)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entity)
}

// boolParam treats a bare or "true" query parameter as set.
func boolParam(c echo.Context, name string) bool {
	if !c.QueryParams().Has(name) {
		return false
	}
	value := c.QueryParam(name)
	return value == "" || value == "true" || value == "1"
}

// Update applies a property delta to an entity
func (h *Handler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Update")
	defer span.End()

	input, err := utils.BindRequest[entities.UpdateInput](c)
	if err != nil {
		return err
	}

	entity, err := h.service.Update(ctx, context.GetTenantID(ctx), context.GetActorID(ctx), c.Param("id"), input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entity)
}

// Delete removes an entity. ?hard_delete removes the row and cascades.
func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Delete")
	defer span.End()

	hard := boolParam(c, "hard_delete")
	if err := h.service.Delete(ctx, context.GetTenantID(ctx), context.GetActorID(ctx), c.Param("id"), hard); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Query runs a filtered, sorted, paginated entity query
func (h *Handler) Query(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Query")
	defer span.End()

	req, err := utils.BindRequest[query.Request](c)
	if err != nil {
		return err
	}

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return errors.New(errors.CodeTenantMismatch, "request carries no tenant")
	}
	req.TenantID = tenantID

	result, err := h.service.Query(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
