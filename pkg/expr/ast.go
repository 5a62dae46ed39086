package expr

import "github.com/jnarwell/trellis-sub000/pkg/values"

// SelfRef is the base of a property reference that targets the entity under
// evaluation.
const SelfRef = "self"

// Node is an expression AST node. Every node carries byte offsets into the
// source for error reporting.
type Node interface {
	Pos() (start, end int)
}

type span struct {
	Start int
	End   int
}

func (s span) Pos() (int, int) {
	return s.Start, s.End
}

// Literal holds a constant value. Value is nil for the null literal.
type Literal struct {
	span
	Value *values.Value
}

// Identifier is the #name shorthand for a property on the current entity.
type Identifier struct {
	span
	Name string
}

// Segment is one step of a property reference path. A segment with Wildcard
// expands to all related entities; one with Index picks the nth.
type Segment struct {
	Name     string
	Wildcard bool
	Index    *int
}

// PropertyReference is a path rooted at @self or @{entity-id}. All segments
// but the last name relationships; the last names a property.
type PropertyReference struct {
	span
	Base     string // SelfRef or an entity id
	Segments []Segment
}

type UnaryExpression struct {
	span
	Op      string
	Operand Node
}

type BinaryExpression struct {
	span
	Op    string
	Left  Node
	Right Node
}

type CallExpression struct {
	span
	Name string
	Args []Node
}
