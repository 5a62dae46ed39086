package functions

import (
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// numericElements extracts the non-null numbers from a single list argument.
// Null elements are ignored; non-number elements are a type mismatch.
func numericElements(name string, args []*values.Value) ([]float64, bool, error) {
	if len(args) != 1 {
		return nil, false, arityError(name, "1", len(args))
	}
	if args[0] == nil {
		return nil, true, nil
	}

	list, ok := args[0].AsList()
	if !ok {
		return nil, false, kindError(name, "list", args[0])
	}

	var nums []float64
	for _, element := range list {
		if element == nil {
			continue
		}
		n, ok := element.AsNumber()
		if !ok {
			return nil, false, kindError(name, "list of numbers", element)
		}
		nums = append(nums, n)
	}
	return nums, false, nil
}

// sum returns 0 for an empty list and null when every element is null.
func sum(args []*values.Value) (*values.Value, error) {
	if len(args) == 1 {
		if list, ok := args[0].AsList(); ok && len(list) == 0 {
			return values.Number(0), nil
		}
	}

	nums, isNull, err := numericElements("SUM", args)
	if err != nil || isNull {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}

	total := 0.0
	for _, n := range nums {
		total += n
	}
	return values.Number(total), nil
}

func avg(args []*values.Value) (*values.Value, error) {
	nums, isNull, err := numericElements("AVG", args)
	if err != nil || isNull {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}

	total := 0.0
	for _, n := range nums {
		total += n
	}
	return values.Number(total / float64(len(nums))), nil
}

func minFn(args []*values.Value) (*values.Value, error) {
	nums, isNull, err := numericElements("MIN", args)
	if err != nil || isNull {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}

	lowest := nums[0]
	for _, n := range nums[1:] {
		if n < lowest {
			lowest = n
		}
	}
	return values.Number(lowest), nil
}

func maxFn(args []*values.Value) (*values.Value, error) {
	nums, isNull, err := numericElements("MAX", args)
	if err != nil || isNull {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}

	highest := nums[0]
	for _, n := range nums[1:] {
		if n > highest {
			highest = n
		}
	}
	return values.Number(highest), nil
}

// count returns the number of non-null elements. Elements of any kind count.
func count(args []*values.Value) (*values.Value, error) {
	if len(args) != 1 {
		return nil, arityError("COUNT", "1", len(args))
	}
	if args[0] == nil {
		return nil, nil
	}

	list, ok := args[0].AsList()
	if !ok {
		return nil, kindError("COUNT", "list", args[0])
	}

	total := 0
	for _, element := range list {
		if element != nil {
			total++
		}
	}
	return values.Number(float64(total)), nil
}
