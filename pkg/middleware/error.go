package middleware

import (
	goerrors "errors"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Error maps service errors onto the wire error shape. When maskInternal is
// set, INTERNAL_ERROR responses hide the underlying message.
func Error(logger ectologger.Logger, maskInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		response := ErrorResponse{
			Code:      string(errors.CodeInternal),
			Message:   "internal server error",
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
		}

		var te *errors.Error
		var he *echo.HTTPError
		switch {
		case goerrors.As(err, &te):
			status = te.StatusCode()
			response.Code = string(te.Code)
			response.Message = te.Message
			response.Details = te.Details
			if maskInternal && te.Code == errors.CodeInternal {
				response.Message = "internal server error"
				response.Details = nil
			}
		case goerrors.As(err, &he):
			status = he.Code
			response.Code = codeForStatus(he.Code)
			if msg, ok := he.Message.(string); ok {
				response.Message = msg
			}
		default:
			if !maskInternal {
				response.Message = err.Error()
			}
		}

		_ = c.JSON(status, response)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return string(errors.CodeNotFound)
	case http.StatusBadRequest:
		return string(errors.CodeValidation)
	case http.StatusUnauthorized:
		return string(errors.CodeUnauthorized)
	case http.StatusForbidden:
		return string(errors.CodePermissionDenied)
	default:
		return string(errors.CodeInternal)
	}
}
