package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

const (
	// DefaultLimit applies when a request omits limit.
	DefaultLimit = 50
	// MaxLimit is the hard clamp on page size.
	MaxLimit = 500
)

var entityColumns = []string{
	"id", "tenant_id", "type_path", "properties", "version",
	"created_at", "updated_at", "created_by", "deleted_at",
}

// reservedColumns map filterable request names to real columns; everything
// else is treated as a property and resolved through the JSON column.
var reservedColumns = map[string]string{
	"id":         "id",
	"type":       "type_path",
	"version":    "version",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"created_by": "created_by",
}

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Builder turns query requests into parameterized SQL against the entities
// table. Every built query is tenant-scoped and excludes soft-deleted rows.
type Builder struct {
	maxLimit int
}

func NewBuilder() *Builder {
	return &Builder{maxLimit: MaxLimit}
}

// ClampLimit normalizes a requested page size.
func (b *Builder) ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > b.maxLimit {
		return b.maxLimit
	}
	return limit
}

// Build produces the data query. It fetches one row beyond the clamped limit
// so the caller can detect has_more without a second query.
func (b *Builder) Build(req Request) (Query, error) {
	if req.TenantID == "" {
		return Query{}, errors.New(errors.CodeValidation, "query requires a tenant scope")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From("entities")

	conds, err := b.whereConditions(sb, req)
	if err != nil {
		return Query{}, err
	}

	sortKeys := b.effectiveSort(req)

	if req.Cursor != "" {
		cursor, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Query{}, err
		}
		cursorCond, err := b.cursorCondition(sb, sortKeys, cursor)
		if err != nil {
			return Query{}, err
		}
		conds = append(conds, cursorCond)
	}

	sb.Where(conds...)

	orderBy := make([]string, 0, len(sortKeys))
	for _, key := range sortKeys {
		expr, err := b.sortExpr(key.Property)
		if err != nil {
			return Query{}, err
		}
		if key.Direction == SortDesc {
			expr += " DESC"
		}
		orderBy = append(orderBy, expr)
	}
	sb.OrderBy(orderBy...)

	limit := b.ClampLimit(req.Limit)
	sb.Limit(limit + 1)
	if req.Cursor == "" && req.Offset > 0 {
		sb.Offset(req.Offset)
	}

	sql, args := sb.Build()
	return Query{SQL: sql, Args: args}, nil
}

// BuildCount produces the COUNT variant sharing the filter but not the sort,
// limit, or cursor.
func (b *Builder) BuildCount(req Request) (Query, error) {
	if req.TenantID == "" {
		return Query{}, errors.New(errors.CodeValidation, "query requires a tenant scope")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("entities")

	conds, err := b.whereConditions(sb, req)
	if err != nil {
		return Query{}, err
	}
	sb.Where(conds...)

	sql, args := sb.Build()
	return Query{SQL: sql, Args: args}, nil
}

func (b *Builder) whereConditions(sb *sqlbuilder.SelectBuilder, req Request) ([]string, error) {
	conds := []string{
		sb.Equal("tenant_id", req.TenantID),
		sb.IsNull("deleted_at"),
	}

	if req.Type != "" {
		conds = append(conds, typeCondition(sb, req.Type))
	}

	if req.Filter != nil {
		filterCond, err := b.groupCondition(sb, *req.Filter)
		if err != nil {
			return nil, err
		}
		if filterCond != "" {
			conds = append(conds, filterCond)
		}
	}

	return conds, nil
}

// typeCondition matches an exact type path or, with a trailing ".*", the
// whole hierarchy under a prefix.
func typeCondition(sb *sqlbuilder.SelectBuilder, typePath string) string {
	if strings.HasSuffix(typePath, ".*") {
		prefix := strings.TrimSuffix(typePath, ".*")
		return sb.Or(
			sb.Equal("type_path", prefix),
			sb.Like("type_path", prefix+".%"),
		)
	}
	return sb.Equal("type_path", typePath)
}

func (b *Builder) groupCondition(sb *sqlbuilder.SelectBuilder, group FilterGroup) (string, error) {
	var parts []string

	// shorthand: a group carrying a bare condition
	if group.Property != "" {
		cond, err := b.atomCondition(sb, Condition{Property: group.Property, Op: group.Op, Value: group.Value})
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}

	for _, condition := range group.Conditions {
		cond, err := b.atomCondition(sb, condition)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}

	for _, nested := range group.Groups {
		cond, err := b.groupCondition(sb, nested)
		if err != nil {
			return "", err
		}
		if cond != "" {
			parts = append(parts, cond)
		}
	}

	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	if strings.EqualFold(group.Logic, "OR") {
		return sb.Or(parts...), nil
	}
	return sb.And(parts...), nil
}

func (b *Builder) atomCondition(sb *sqlbuilder.SelectBuilder, condition Condition) (string, error) {
	expr, isJSON, err := b.propertyExpr(condition.Property)
	if err != nil {
		return "", err
	}

	column := expr
	if isJSON {
		if _, ok := condition.Value.(float64); ok {
			column = "(" + expr + ")::numeric"
		} else if _, ok := condition.Value.(int); ok {
			column = "(" + expr + ")::numeric"
		}
	}

	switch condition.Op {
	case OpEq:
		return sb.Equal(column, condition.Value), nil
	case OpNeq:
		return sb.NotEqual(column, condition.Value), nil
	case OpLt:
		return sb.LessThan(column, condition.Value), nil
	case OpGt:
		return sb.GreaterThan(column, condition.Value), nil
	case OpLte:
		return sb.LessEqualThan(column, condition.Value), nil
	case OpGte:
		return sb.GreaterEqualThan(column, condition.Value), nil
	case OpIn:
		items, ok := condition.Value.([]any)
		if !ok || len(items) == 0 {
			return "", errors.Newf(errors.CodeValidation, "in operator requires a non-empty list for property %q", condition.Property)
		}
		return sb.In(column, items...), nil
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", column, sb.Var("%"+fmt.Sprint(condition.Value)+"%")), nil
	case OpStartsWith:
		return sb.Like(column, fmt.Sprint(condition.Value)+"%"), nil
	case OpIsNull:
		if isNull, ok := condition.Value.(bool); ok && !isNull {
			return fmt.Sprintf("%s IS NOT NULL", expr), nil
		}
		return fmt.Sprintf("%s IS NULL", expr), nil
	default:
		return "", errors.Newf(errors.CodeValidation, "unknown filter operator %q", condition.Op)
	}
}

// propertyExpr resolves a request property name to SQL. Reserved names map
// to real columns; anything else reads through the properties JSON column,
// null-coalescing across the value slots of the four property kinds.
func (b *Builder) propertyExpr(name string) (expr string, isJSON bool, err error) {
	if column, ok := reservedColumns[name]; ok {
		return column, false, nil
	}

	if !propertyNamePattern.MatchString(name) {
		return "", false, errors.Newf(errors.CodeValidation, "invalid property name %q", name).
			WithDetail("property", name)
	}

	expr = fmt.Sprintf(
		"COALESCE(properties#>>'{%s,value,value}', properties#>>'{%s,cached_value,value}', properties#>>'{%s,override,value}', properties#>>'{%s,resolved_value,value}')",
		name, name, name, name,
	)
	return expr, true, nil
}

func (b *Builder) sortExpr(name string) (string, error) {
	expr, _, err := b.propertyExpr(name)
	return expr, err
}

// effectiveSort appends id to the requested sort so the order is total.
func (b *Builder) effectiveSort(req Request) []SortKey {
	keys := make([]SortKey, 0, len(req.Sort)+1)
	for _, key := range req.Sort {
		if key.Property == "id" {
			continue
		}
		if key.Direction != SortDesc {
			key.Direction = SortAsc
		}
		keys = append(keys, key)
	}
	return append(keys, SortKey{Property: "id", Direction: SortAsc})
}

// cursorCondition expresses "rows strictly after the cursor" under the
// current sort order.
func (b *Builder) cursorCondition(sb *sqlbuilder.SelectBuilder, sortKeys []SortKey, cursor *Cursor) (string, error) {
	if len(cursor.SortValues) != len(sortKeys)-1 {
		return "", errors.New(errors.CodeValidation, "cursor does not match the requested sort")
	}

	cursorValues := append(append([]any{}, cursor.SortValues...), cursor.ID)

	var branches []string
	for i := range sortKeys {
		var clauses []string
		for j := 0; j < i; j++ {
			expr, _, err := b.propertyExpr(sortKeys[j].Property)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, sb.Equal(expr, cursorValues[j]))
		}

		expr, _, err := b.propertyExpr(sortKeys[i].Property)
		if err != nil {
			return "", err
		}
		if sortKeys[i].Direction == SortDesc {
			clauses = append(clauses, sb.LessThan(expr, cursorValues[i]))
		} else {
			clauses = append(clauses, sb.GreaterThan(expr, cursorValues[i]))
		}

		if len(clauses) == 1 {
			branches = append(branches, clauses[0])
		} else {
			branches = append(branches, sb.And(clauses...))
		}
	}

	if len(branches) == 1 {
		return branches[0], nil
	}
	return sb.Or(branches...), nil
}
