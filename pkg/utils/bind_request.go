package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindRequest binds path, query and body parameters into T and validates the
// result. Failures surface as VALIDATION_ERROR.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, errors.Wrap(err, errors.CodeValidation, "invalid request body")
	}

	if err := Validate(v); err != nil {
		return v, err
	}

	return v, nil
}

// Validate checks a struct against its validate tags.
func Validate[T any](value T) error {
	if err := validate.Struct(value); err != nil {
		return validationError(value, err)
	}
	return nil
}

func validationError(input any, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.CodeValidation, "invalid request")
	}

	msg := ""
	for _, fe := range verrs {
		msg += fmt.Sprintf("\n • Failed %T validation for field '%s': rule '%s' expected '%s', got '%v'.", input, fe.StructField(), fe.Tag(), fe.Param(), fe.Value())
	}
	return errors.New(errors.CodeValidation, msg)
}
