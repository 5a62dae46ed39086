package functions

import (
	"math"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

func numberArg(name string, arg *values.Value) (float64, bool, error) {
	if arg == nil {
		return 0, true, nil
	}
	n, ok := arg.AsNumber()
	if !ok {
		return 0, false, kindError(name, "number", arg)
	}
	return n, false, nil
}

// round uses banker's rounding. With a second argument it rounds to that
// many decimal places.
func round(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, arityError("ROUND", "1 or 2", len(args))
	}

	n, isNull, err := numberArg("ROUND", args[0])
	if err != nil || isNull {
		return nil, err
	}

	if len(args) == 1 {
		return values.Number(math.RoundToEven(n)), nil
	}

	decimals, isNull, err := numberArg("ROUND", args[1])
	if err != nil || isNull {
		return nil, err
	}

	scale := math.Pow(10, float64(int(decimals)))
	return values.Number(math.RoundToEven(n*scale) / scale), nil
}

func floor(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("FLOOR", "1", len(args))
	}
	n, isNull, err := numberArg("FLOOR", args[0])
	if err != nil || isNull {
		return nil, err
	}
	return values.Number(math.Floor(n)), nil
}

func ceil(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("CEIL", "1", len(args))
	}
	n, isNull, err := numberArg("CEIL", args[0])
	if err != nil || isNull {
		return nil, err
	}
	return values.Number(math.Ceil(n)), nil
}

func abs(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("ABS", "1", len(args))
	}
	n, isNull, err := numberArg("ABS", args[0])
	if err != nil || isNull {
		return nil, err
	}
	return values.Number(math.Abs(n)), nil
}

func sqrt(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("SQRT", "1", len(args))
	}
	n, isNull, err := numberArg("SQRT", args[0])
	if err != nil || isNull {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Newf(errors.CodeDomainError, "SQRT of negative number %g", n).
			WithDetail("function", "SQRT")
	}
	return values.Number(math.Sqrt(n)), nil
}

func pow(args []*values.Value) (*values.Value, error) {
	if len(args) != 2 {
		return nil, arityError("POW", "2", len(args))
	}
	base, isNull, err := numberArg("POW", args[0])
	if err != nil || isNull {
		return nil, err
	}
	exponent, isNull, err := numberArg("POW", args[1])
	if err != nil || isNull {
		return nil, err
	}
	return values.Number(math.Pow(base, exponent)), nil
}
