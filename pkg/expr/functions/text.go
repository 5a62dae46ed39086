package functions

import (
	"strings"

	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// concat coerces every argument to text; null renders as the literal "null".
func concat(args []*values.Value) (*values.Value, error) {
	if len(args) < 1 {
		return nil, arityError("CONCAT", "at least 1", len(args))
	}

	var sb strings.Builder
	for _, arg := range args {
		sb.WriteString(arg.String())
	}
	return values.Text(sb.String()), nil
}

func textArg(name string, args []*values.Value) (string, bool, error) {
	if len(args) != 1 {
		return "", false, arityError(name, "1", len(args))
	}
	if args[0] == nil {
		return "", true, nil
	}
	s, ok := args[0].AsText()
	if !ok {
		return "", false, kindError(name, "text", args[0])
	}
	return s, false, nil
}

func upper(args []*values.Value) (*values.Value, error) {
	s, isNull, err := textArg("UPPER", args)
	if err != nil || isNull {
		return nil, err
	}
	return values.Text(strings.ToUpper(s)), nil
}

func lower(args []*values.Value) (*values.Value, error) {
	s, isNull, err := textArg("LOWER", args)
	if err != nil || isNull {
		return nil, err
	}
	return values.Text(strings.ToLower(s)), nil
}

func trim(args []*values.Value) (*values.Value, error) {
	s, isNull, err := textArg("TRIM", args)
	if err != nil || isNull {
		return nil, err
	}
	return values.Text(strings.TrimSpace(s)), nil
}

// length counts characters of a text value or elements of a list.
func length(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("LENGTH", "1", len(args))
	}
	if args[0] == nil {
		return nil, nil
	}

	if s, ok := args[0].AsText(); ok {
		return values.Number(float64(len([]rune(s)))), nil
	}
	if list, ok := args[0].AsList(); ok {
		return values.Number(float64(len(list))), nil
	}
	return nil, kindError("LENGTH", "text or list", args[0])
}

// substring is zero-based; out-of-range start or length clips.
func substring(args []*values.Value) (*values.Value, error) {
	if len(args) != 3 {
		return nil, arityError("SUBSTRING", "3", len(args))
	}
	if args[0] == nil || args[1] == nil || args[2] == nil {
		return nil, nil
	}

	s, ok := args[0].AsText()
	if !ok {
		return nil, kindError("SUBSTRING", "text", args[0])
	}
	startNum, ok := args[1].AsNumber()
	if !ok {
		return nil, kindError("SUBSTRING", "number", args[1])
	}
	lengthNum, ok := args[2].AsNumber()
	if !ok {
		return nil, kindError("SUBSTRING", "number", args[2])
	}

	runes := []rune(s)
	start := int(startNum)
	count := int(lengthNum)

	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	if count < 0 {
		count = 0
	}
	end := start + count
	if end > len(runes) {
		end = len(runes)
	}

	return values.Text(string(runes[start:end])), nil
}
