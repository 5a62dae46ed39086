package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

// TokenValidator checks a bearer token and resolves the caller's identity.
// Satisfied by the auth service.
type TokenValidator interface {
	ValidateAccessToken(token string) (tenantID, actorID string, err error)
}

// publicPaths are reachable without a token. The websocket endpoint
// authenticates in-band with an auth frame.
var publicPaths = map[string]bool{
	"/health":       true,
	"/ready":        true,
	"/metrics":      true,
	"/auth/login":   true,
	"/auth/refresh": true,
	"/ws":           true,
}

// Auth requires a valid bearer token on every non-public route and attaches
// the token's tenant and actor to the request context.
func Auth(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if publicPaths[c.Request().URL.Path] {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return errors.New(errors.CodeUnauthorized, "missing bearer token")
			}

			tenantID, actorID, err := validator.ValidateAccessToken(token)
			if err != nil {
				return err
			}

			req := c.Request()
			ctx := req.Context()
			ctx = context.SetTenantID(ctx, tenantID)
			ctx = context.SetActorID(ctx, actorID)
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
