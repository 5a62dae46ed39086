package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/auth"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/utils"
)

// Service is the auth surface the routes call.
type Service interface {
	Login(ctx context.Context, input auth.LoginInput) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
}

// Handler serves the token endpoints.
type Handler struct {
	service Service
}

// NewHandler creates an auth route handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers auth routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/auth/login", h.Login)
	g.POST("/auth/refresh", h.Refresh)
}

// Login issues a token pair for the named tenant and actor
func (h *Handler) Login(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "auth.Login")
	defer span.End()

	req, err := utils.BindRequest[auth.LoginInput](c)
	if err != nil {
		return err
	}

	pair, err := h.service.Login(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pair)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates a refresh token into a new pair
func (h *Handler) Refresh(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "auth.Refresh")
	defer span.End()

	req, err := utils.BindRequest[RefreshRequest](c)
	if err != nil {
		return err
	}

	pair, err := h.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pair)
}
