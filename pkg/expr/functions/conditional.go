package functions

import (
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// ifFn is the eager fallback; the evaluator special-cases IF so the unchosen
// branch is never evaluated. A null condition yields null.
func ifFn(args []*values.Value) (*values.Value, error) {
	if len(args) != 3 {
		return nil, arityError("IF", "3", len(args))
	}

	if args[0] == nil {
		return nil, nil
	}

	cond, ok := args[0].AsBoolean()
	if !ok {
		return nil, kindError("IF", "boolean", args[0])
	}

	if cond {
		return args[1], nil
	}
	return args[2], nil
}

func coalesce(args []*values.Value) (*values.Value, error) {
	if len(args) < 1 {
		return nil, arityError("COALESCE", "at least 1", len(args))
	}

	for _, arg := range args {
		if arg != nil {
			return arg, nil
		}
	}
	return nil, nil
}
