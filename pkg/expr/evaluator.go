package expr

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/expr/functions"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Result is the outcome of one expression evaluation.
type Result struct {
	Success          bool
	Value            *values.Value
	Err              error
	AccessedEntities []string
	DurationMs       float64
}

// Evaluate runs an expression AST against a pre-loaded context.
func Evaluate(ctx *Context, node Node) Result {
	start := time.Now()

	value, err := eval(ctx, node)

	accessed := ctx.AccessedEntities()
	sort.Strings(accessed)

	result := Result{
		Success:          err == nil,
		Value:            value,
		Err:              err,
		AccessedEntities: accessed,
		DurationMs:       float64(time.Since(start).Microseconds()) / 1000,
	}
	return result
}

// EvaluateSource parses and evaluates in one step.
func EvaluateSource(ctx *Context, src string) Result {
	node, err := Parse(src)
	if err != nil {
		return Result{Success: false, Err: err}
	}
	return Evaluate(ctx, node)
}

func eval(ctx *Context, node Node) (*values.Value, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	switch n := node.(type) {
	case *Literal:
		return n.Value, nil

	case *Identifier:
		return resolveProperty(ctx, ctx.Current, n.Name)

	case *PropertyReference:
		return evalReference(ctx, n)

	case *UnaryExpression:
		return evalUnary(ctx, n)

	case *BinaryExpression:
		return evalBinary(ctx, n)

	case *CallExpression:
		return evalCall(ctx, n)

	default:
		return nil, errors.Newf(errors.CodeInternal, "unhandled expression node %T", node)
	}
}

// resolveProperty reads a property's current value without recomputation.
// Stale computed values are returned best-effort; a missing property is null.
func resolveProperty(ctx *Context, entity *models.Entity, name string) (*values.Value, error) {
	if entity == nil {
		return nil, errors.New(errors.CodeReferenceBroken, "no entity in evaluation context")
	}

	prop := entity.Property(name)
	if prop == nil {
		return nil, nil
	}

	switch prop.Kind {
	case models.PropertyLiteral, models.PropertyMeasured:
		return prop.Value, nil
	case models.PropertyInherited:
		if prop.Override != nil {
			return prop.Override, nil
		}
		return prop.ResolvedValue, nil
	case models.PropertyComputed:
		if ctx.stack[entity.ID+"."+name] {
			return nil, errors.Newf(errors.CodeCircularDependency, "circular dependency detected at %s.%s", entity.ID, name).
				WithDetail("entity_id", entity.ID).
				WithDetail("property", name)
		}
		return prop.CachedValue, nil
	default:
		return nil, nil
	}
}

func evalReference(ctx *Context, ref *PropertyReference) (*values.Value, error) {
	base, err := baseEntity(ctx, ref)
	if err != nil {
		return nil, err
	}

	working := []*models.Entity{base}
	collection := false

	last := len(ref.Segments) - 1
	for i, segment := range ref.Segments {
		if err := ctx.enter(); err != nil {
			return nil, err
		}
		defer ctx.leave()

		if i == last {
			return resolveFinalSegment(ctx, working, segment, collection)
		}

		next, expanded, err := traverseSegment(ctx, working, segment, ref)
		if err != nil {
			return nil, err
		}
		working = next
		collection = collection || expanded
	}

	return nil, nil
}

func baseEntity(ctx *Context, ref *PropertyReference) (*models.Entity, error) {
	if ref.Base == SelfRef {
		if ctx.Current == nil {
			return nil, errors.New(errors.CodeReferenceBroken, "no current entity for @self reference")
		}
		return ctx.Current, nil
	}

	entity, ok := ctx.Entity(ref.Base)
	if !ok {
		return nil, errors.Newf(errors.CodeReferenceBroken, "entity %s is not loaded in the evaluation context", ref.Base).
			WithDetail("entity_id", ref.Base)
	}
	return entity, nil
}

// traverseSegment walks one relationship hop from every entity in the
// working set. A wildcard expands the set; an index picks one target; a
// simple segment takes the first target.
func traverseSegment(ctx *Context, working []*models.Entity, segment Segment, ref *PropertyReference) ([]*models.Entity, bool, error) {
	var next []*models.Entity

	for _, entity := range working {
		targets := ctx.Related(entity.ID, segment.Name)

		switch {
		case segment.Wildcard:
			for _, id := range targets {
				target, ok := ctx.Entity(id)
				if !ok {
					return nil, false, missingTarget(id, segment.Name)
				}
				next = append(next, target)
			}

		case segment.Index != nil:
			idx := *segment.Index
			if idx < 0 || idx >= len(targets) {
				continue
			}
			target, ok := ctx.Entity(targets[idx])
			if !ok {
				return nil, false, missingTarget(targets[idx], segment.Name)
			}
			next = append(next, target)

		default:
			if len(targets) == 0 {
				continue
			}
			target, ok := ctx.Entity(targets[0])
			if !ok {
				return nil, false, missingTarget(targets[0], segment.Name)
			}
			next = append(next, target)
		}
	}

	return next, segment.Wildcard, nil
}

func missingTarget(entityID, relationship string) error {
	return errors.Newf(errors.CodeReferenceBroken, "related entity %s (via %s) is not loaded in the evaluation context", entityID, relationship).
		WithDetail("entity_id", entityID).
		WithDetail("relationship", relationship)
}

// resolveFinalSegment reads the property off the working set. With a
// collection in play the result is a list of per-entity values; otherwise
// the first entity's value.
func resolveFinalSegment(ctx *Context, working []*models.Entity, segment Segment, collection bool) (*values.Value, error) {
	if segment.Wildcard || collection {
		items := make([]*values.Value, 0, len(working))
		for _, entity := range working {
			value, err := resolveProperty(ctx, entity, segment.Name)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return values.List(elementKind(items), items), nil
	}

	if len(working) == 0 {
		return nil, nil
	}
	return resolveProperty(ctx, working[0], segment.Name)
}

func elementKind(items []*values.Value) values.Kind {
	for _, item := range items {
		if item != nil {
			return item.Kind
		}
	}
	return values.KindNumber
}

func evalUnary(ctx *Context, n *UnaryExpression) (*values.Value, error) {
	operand, err := eval(ctx, n.Operand)
	if err != nil {
		return nil, err
	}
	if operand == nil {
		return nil, nil
	}

	switch n.Op {
	case "!":
		b, ok := operand.AsBoolean()
		if !ok {
			return nil, typeMismatch(n, "! requires a boolean operand, got %s", operand.Kind)
		}
		return values.Boolean(!b), nil
	case "-":
		num, ok := operand.AsNumber()
		if !ok {
			return nil, typeMismatch(n, "unary - requires a number operand, got %s", operand.Kind)
		}
		return values.Number(-num), nil
	default:
		return nil, errors.Newf(errors.CodeInternal, "unhandled unary operator %q", n.Op)
	}
}

func evalBinary(ctx *Context, n *BinaryExpression) (*values.Value, error) {
	switch n.Op {
	case "&&", "||":
		return evalLogical(ctx, n)
	}

	left, err := eval(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := eval(ctx, n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return values.Boolean(values.Equals(left, right)), nil
	case "!=":
		return values.Boolean(!values.Equals(left, right)), nil
	}

	// arithmetic and ordering require numbers; null propagates
	if left == nil || right == nil {
		return nil, nil
	}

	leftNum, ok := left.AsNumber()
	if !ok {
		return nil, typeMismatch(n, "%s requires number operands, got %s", n.Op, left.Kind)
	}
	rightNum, ok := right.AsNumber()
	if !ok {
		return nil, typeMismatch(n, "%s requires number operands, got %s", n.Op, right.Kind)
	}

	switch n.Op {
	case "+":
		return values.Number(leftNum + rightNum), nil
	case "-":
		return values.Number(leftNum - rightNum), nil
	case "*":
		return values.Number(leftNum * rightNum), nil
	case "/":
		if rightNum == 0 {
			return nil, divisionByZero(n)
		}
		return values.Number(leftNum / rightNum), nil
	case "%":
		if rightNum == 0 {
			return nil, divisionByZero(n)
		}
		return values.Number(mod(leftNum, rightNum)), nil
	case "<":
		return values.Boolean(leftNum < rightNum), nil
	case ">":
		return values.Boolean(leftNum > rightNum), nil
	case "<=":
		return values.Boolean(leftNum <= rightNum), nil
	case ">=":
		return values.Boolean(leftNum >= rightNum), nil
	default:
		return nil, errors.Newf(errors.CodeInternal, "unhandled binary operator %q", n.Op)
	}
}

// evalLogical short-circuits on the left operand. A null operand yields null
// unless the other side decides the result (false for &&, true for ||).
func evalLogical(ctx *Context, n *BinaryExpression) (*values.Value, error) {
	left, err := eval(ctx, n.Left)
	if err != nil {
		return nil, err
	}

	if left != nil {
		leftBool, ok := left.AsBoolean()
		if !ok {
			return nil, typeMismatch(n, "%s requires boolean operands, got %s", n.Op, left.Kind)
		}
		if n.Op == "&&" && !leftBool {
			return values.Boolean(false), nil
		}
		if n.Op == "||" && leftBool {
			return values.Boolean(true), nil
		}
	}

	right, err := eval(ctx, n.Right)
	if err != nil {
		return nil, err
	}

	if right == nil {
		return nil, nil
	}
	rightBool, ok := right.AsBoolean()
	if !ok {
		return nil, typeMismatch(n, "%s requires boolean operands, got %s", n.Op, right.Kind)
	}

	if n.Op == "&&" {
		if !rightBool {
			return values.Boolean(false), nil
		}
		if left == nil {
			return nil, nil
		}
		return values.Boolean(true), nil
	}

	if rightBool {
		return values.Boolean(true), nil
	}
	if left == nil {
		return nil, nil
	}
	return values.Boolean(false), nil
}

// evalCall treats IF as a special form so the unchosen branch is never
// evaluated; everything else is eager.
func evalCall(ctx *Context, n *CallExpression) (*values.Value, error) {
	if isIfCall(n.Name) {
		return evalIf(ctx, n)
	}

	args := make([]*values.Value, 0, len(n.Args))
	for _, argNode := range n.Args {
		arg, err := eval(ctx, argNode)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	return functions.Call(n.Name, args)
}

func isIfCall(name string) bool {
	return strings.EqualFold(name, "IF")
}

func evalIf(ctx *Context, n *CallExpression) (*values.Value, error) {
	if len(n.Args) != 3 {
		return nil, typeMismatch(n, "IF expects 3 arguments, got %d", len(n.Args))
	}

	cond, err := eval(ctx, n.Args[0])
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, nil
	}

	condBool, ok := cond.AsBoolean()
	if !ok {
		return nil, typeMismatch(n, "IF condition must be boolean, got %s", cond.Kind)
	}

	if condBool {
		return eval(ctx, n.Args[1])
	}
	return eval(ctx, n.Args[2])
}

func mod(a, b float64) float64 {
	return math.Mod(a, b)
}

func typeMismatch(node Node, format string, args ...any) error {
	start, _ := node.Pos()
	return errors.Newf(errors.CodeTypeMismatch, format, args...).WithDetail("offset", start)
}

func divisionByZero(node Node) error {
	start, _ := node.Pos()
	return errors.New(errors.CodeDivisionByZero, "division by zero").WithDetail("offset", start)
}
