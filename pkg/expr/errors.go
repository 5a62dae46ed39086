package expr

import (
	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

// Parse failure sub-codes carried in the details of an INVALID_EXPRESSION
// error.
const (
	ParseUnexpectedToken    = "UNEXPECTED_TOKEN"
	ParseUnexpectedEnd      = "UNEXPECTED_END"
	ParseInvalidNumber      = "INVALID_NUMBER"
	ParseInvalidUUID        = "INVALID_UUID"
	ParseInvalidEscape      = "INVALID_ESCAPE"
	ParseUnterminatedString = "UNTERMINATED_STRING"
)

func newParseErrorf(code string, offset int, format string, args ...any) *errors.Error {
	return errors.Newf(errors.CodeInvalidExpression, format, args...).
		WithDetail("code", code).
		WithDetail("offset", offset)
}
