package functions

import (
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

func now(args []*values.Value) (*values.Value, error) {
	if len(args) != 0 {
		return nil, arityError("NOW", "0", len(args))
	}
	return values.DatetimeOf(time.Now().UTC()), nil
}

func datetimeArg(name string, arg *values.Value) (time.Time, bool, error) {
	if arg == nil {
		return time.Time{}, true, nil
	}
	t, ok := arg.AsTime()
	if !ok {
		return time.Time{}, false, kindError(name, "datetime", arg)
	}
	return t, false, nil
}

func unitArg(name string, arg *values.Value) (string, bool, error) {
	if arg == nil {
		return "", true, nil
	}
	unit, ok := arg.AsText()
	if !ok {
		return "", false, kindError(name, "text", arg)
	}
	switch unit {
	case "seconds", "minutes", "hours", "days", "months", "years":
		return unit, false, nil
	}
	return "", false, errors.Newf(errors.CodeDomainError, "%s: unknown unit %q", name, unit).
		WithDetail("function", name).
		WithDetail("unit", unit)
}

// dateDiff returns the integer difference a minus b in the given unit.
// Months and years are calendar differences; the rest divide elapsed time.
func dateDiff(args []*values.Value) (*values.Value, error) {
	if len(args) != 3 {
		return nil, arityError("DATE_DIFF", "3", len(args))
	}

	a, isNull, err := datetimeArg("DATE_DIFF", args[0])
	if err != nil || isNull {
		return nil, err
	}
	b, isNull, err := datetimeArg("DATE_DIFF", args[1])
	if err != nil || isNull {
		return nil, err
	}
	unit, isNull, err := unitArg("DATE_DIFF", args[2])
	if err != nil || isNull {
		return nil, err
	}

	switch unit {
	case "seconds":
		return values.Number(float64(int64(a.Sub(b).Seconds()))), nil
	case "minutes":
		return values.Number(float64(int64(a.Sub(b).Minutes()))), nil
	case "hours":
		return values.Number(float64(int64(a.Sub(b).Hours()))), nil
	case "days":
		return values.Number(float64(int64(a.Sub(b).Hours() / 24))), nil
	case "months":
		return values.Number(float64(calendarMonths(a, b))), nil
	case "years":
		return values.Number(float64(calendarMonths(a, b) / 12)), nil
	}
	return nil, nil
}

// calendarMonths counts whole months from b to a, negative when a < b.
func calendarMonths(a, b time.Time) int {
	if a.Before(b) {
		return -calendarMonths(b, a)
	}
	months := (a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())
	if a.Day() < b.Day() {
		months--
	}
	return months
}

func dateAdd(args []*values.Value) (*values.Value, error) {
	if len(args) != 3 {
		return nil, arityError("DATE_ADD", "3", len(args))
	}

	base, isNull, err := datetimeArg("DATE_ADD", args[0])
	if err != nil || isNull {
		return nil, err
	}
	amountNum, isNull, err := numberArg("DATE_ADD", args[1])
	if err != nil || isNull {
		return nil, err
	}
	unit, isNull, err := unitArg("DATE_ADD", args[2])
	if err != nil || isNull {
		return nil, err
	}

	amount := int(amountNum)
	switch unit {
	case "seconds":
		return values.DatetimeOf(base.Add(time.Duration(amount) * time.Second)), nil
	case "minutes":
		return values.DatetimeOf(base.Add(time.Duration(amount) * time.Minute)), nil
	case "hours":
		return values.DatetimeOf(base.Add(time.Duration(amount) * time.Hour)), nil
	case "days":
		return values.DatetimeOf(base.AddDate(0, 0, amount)), nil
	case "months":
		return values.DatetimeOf(base.AddDate(0, amount, 0)), nil
	case "years":
		return values.DatetimeOf(base.AddDate(amount, 0, 0)), nil
	}
	return nil, nil
}
