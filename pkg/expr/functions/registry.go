package functions

import (
	"strings"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Func is an expression library function. Arguments arrive already
// evaluated; a nil argument is the null value.
type Func func(args []*values.Value) (*values.Value, error)

var registry = map[string]Func{
	"SUM":       sum,
	"AVG":       avg,
	"MIN":       minFn,
	"MAX":       maxFn,
	"COUNT":     count,
	"IF":        ifFn,
	"COALESCE":  coalesce,
	"CONCAT":    concat,
	"UPPER":     upper,
	"LOWER":     lower,
	"TRIM":      trim,
	"LENGTH":    length,
	"SUBSTRING": substring,
	"ROUND":     round,
	"FLOOR":     floor,
	"CEIL":      ceil,
	"ABS":       abs,
	"SQRT":      sqrt,
	"POW":       pow,
	"NOW":       now,
	"DATE_DIFF": dateDiff,
	"DATE_ADD":  dateAdd,
}

// Lookup resolves a function by case-folded name.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[strings.ToUpper(name)]
	return fn, ok
}

// Call invokes a library function by name.
func Call(name string, args []*values.Value) (*values.Value, error) {
	fn, ok := Lookup(name)
	if !ok {
		return nil, errors.Newf(errors.CodeUnknownFunction, "unknown function %q", strings.ToUpper(name)).
			WithDetail("function", strings.ToUpper(name))
	}
	return fn(args)
}

func arityError(name string, expected string, got int) error {
	return errors.Newf(errors.CodeTypeMismatch, "%s expects %s arguments, got %d", name, expected, got).
		WithDetail("function", name)
}

func kindError(name string, expected string, got *values.Value) error {
	gotKind := "null"
	if got != nil {
		gotKind = string(got.Kind)
	}
	return errors.Newf(errors.CodeTypeMismatch, "%s expects a %s argument, got %s", name, expected, gotKind).
		WithDetail("function", name)
}
