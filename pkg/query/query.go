package query

// Op is a filter comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpLt         Op = "lt"
	OpGt         Op = "gt"
	OpLte        Op = "lte"
	OpGte        Op = "gte"
	OpIn         Op = "in"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
	OpIsNull     Op = "is_null"
)

// Condition is one atomic property comparison.
type Condition struct {
	Property string `json:"property"`
	Op       Op     `json:"op"`
	Value    any    `json:"value,omitempty"`
}

// FilterGroup is a boolean tree of conditions and nested groups. Logic is
// AND or OR; an empty logic defaults to AND.
type FilterGroup struct {
	Logic      string        `json:"logic,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty"`
	Groups     []FilterGroup `json:"groups,omitempty"`

	// Property/Op/Value allow a bare condition to stand in for a group of
	// one, matching the request shorthand {property, op, value}.
	Property string `json:"property,omitempty"`
	Op       Op     `json:"op,omitempty"`
	Value    any    `json:"value,omitempty"`
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type SortKey struct {
	Property  string        `json:"property"`
	Direction SortDirection `json:"direction,omitempty"`
}

// Request describes one entity query.
type Request struct {
	TenantID     string       `json:"-"`
	Type         string       `json:"type,omitempty"`
	Filter       *FilterGroup `json:"filter,omitempty"`
	Sort         []SortKey    `json:"sort,omitempty"`
	Limit        int          `json:"limit,omitempty"`
	Offset       int          `json:"offset,omitempty"`
	Cursor       string       `json:"cursor,omitempty"`
	IncludeTotal bool         `json:"include_total,omitempty"`
}

// Query is a built SQL statement with its positional arguments.
type Query struct {
	SQL  string
	Args []any
}
