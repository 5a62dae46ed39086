package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/values"
)

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	node, err := Parse(src)
	require.NoError(t, err)
	return node
}

func TestParsePrecedence(t *testing.T) {
	t.Run("multiplication binds tighter than addition", func(t *testing.T) {
		node := mustParse(t, "1 + 2 * 3")

		add, ok := node.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "+", add.Op)

		mul, ok := add.Right.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "*", mul.Op)
	})

	t.Run("comparison binds tighter than logical and", func(t *testing.T) {
		node := mustParse(t, "#a > 5 && #b < 10")

		and, ok := node.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "&&", and.Op)

		left, ok := and.Left.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, ">", left.Op)

		right, ok := and.Right.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "<", right.Op)
	})

	t.Run("grouping overrides precedence", func(t *testing.T) {
		node := mustParse(t, "(1 + 2) * 3")

		mul, ok := node.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "*", mul.Op)

		add, ok := mul.Left.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "+", add.Op)
	})

	t.Run("unary minus binds tighter than multiplication", func(t *testing.T) {
		node := mustParse(t, "-#x * 2")

		mul, ok := node.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "*", mul.Op)

		neg, ok := mul.Left.(*UnaryExpression)
		require.True(t, ok)
		assert.Equal(t, "-", neg.Op)
	})

	t.Run("or binds looser than and", func(t *testing.T) {
		node := mustParse(t, "true || false && false")

		or, ok := node.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "||", or.Op)

		and, ok := or.Right.(*BinaryExpression)
		require.True(t, ok)
		assert.Equal(t, "&&", and.Op)
	})
}

func TestParseLiterals(t *testing.T) {
	t.Run("number", func(t *testing.T) {
		lit, ok := mustParse(t, "12.5").(*Literal)
		require.True(t, ok)
		assert.True(t, values.Equals(values.Number(12.5), lit.Value))
	})

	t.Run("string", func(t *testing.T) {
		lit, ok := mustParse(t, "'hello'").(*Literal)
		require.True(t, ok)
		assert.True(t, values.Equals(values.Text("hello"), lit.Value))
	})

	t.Run("booleans and null", func(t *testing.T) {
		lit, ok := mustParse(t, "true").(*Literal)
		require.True(t, ok)
		assert.True(t, values.Equals(values.Boolean(true), lit.Value))

		lit, ok = mustParse(t, "null").(*Literal)
		require.True(t, ok)
		assert.Nil(t, lit.Value)
	})
}

func TestParsePropertyReferences(t *testing.T) {
	t.Run("hash shorthand is an identifier node", func(t *testing.T) {
		ident, ok := mustParse(t, "#price").(*Identifier)
		require.True(t, ok)
		assert.Equal(t, "price", ident.Name)
	})

	t.Run("self path with chained relationships", func(t *testing.T) {
		ref, ok := mustParse(t, "@self.parent.category.markup").(*PropertyReference)
		require.True(t, ok)
		assert.Equal(t, SelfRef, ref.Base)
		require.Len(t, ref.Segments, 3)
		assert.Equal(t, "parent", ref.Segments[0].Name)
		assert.Equal(t, "category", ref.Segments[1].Name)
		assert.Equal(t, "markup", ref.Segments[2].Name)
	})

	t.Run("entity reference by uuid", func(t *testing.T) {
		ref, ok := mustParse(t, "@{0190a5b0-1234-7abc-8def-000000000001}.price").(*PropertyReference)
		require.True(t, ok)
		assert.Equal(t, "0190a5b0-1234-7abc-8def-000000000001", ref.Base)
		require.Len(t, ref.Segments, 1)
		assert.Equal(t, "price", ref.Segments[0].Name)
	})

	t.Run("wildcard and index segments", func(t *testing.T) {
		ref, ok := mustParse(t, "@self.items[*].price").(*PropertyReference)
		require.True(t, ok)
		require.Len(t, ref.Segments, 2)
		assert.True(t, ref.Segments[0].Wildcard)
		assert.Nil(t, ref.Segments[0].Index)

		ref, ok = mustParse(t, "@self.items[2].price").(*PropertyReference)
		require.True(t, ok)
		require.NotNil(t, ref.Segments[0].Index)
		assert.Equal(t, 2, *ref.Segments[0].Index)
	})
}

func TestParseCalls(t *testing.T) {
	t.Run("call with arguments", func(t *testing.T) {
		call, ok := mustParse(t, "IF(#qty > 0, #qty * #price, 0)").(*CallExpression)
		require.True(t, ok)
		assert.Equal(t, "IF", call.Name)
		assert.Len(t, call.Args, 3)
	})

	t.Run("nested calls", func(t *testing.T) {
		call, ok := mustParse(t, "ROUND(SUM(@self.items[*].price), 2)").(*CallExpression)
		require.True(t, ok)
		assert.Equal(t, "ROUND", call.Name)
		require.Len(t, call.Args, 2)

		inner, ok := call.Args[0].(*CallExpression)
		require.True(t, ok)
		assert.Equal(t, "SUM", inner.Name)
	})

	t.Run("no arguments", func(t *testing.T) {
		call, ok := mustParse(t, "NOW()").(*CallExpression)
		require.True(t, ok)
		assert.Empty(t, call.Args)
	})
}

func TestParseOffsets(t *testing.T) {
	node := mustParse(t, "1 + 2 * 3")
	start, end := node.Pos()
	assert.Equal(t, 0, start)
	assert.Equal(t, 9, end)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"dangling operator", "1 +", ParseUnexpectedEnd},
		{"unclosed paren", "(1 + 2", ParseUnexpectedEnd},
		{"trailing garbage", "1 + 2 3", ParseUnexpectedToken},
		{"bare identifier", "price + 1", ParseUnexpectedToken},
		{"missing path after self", "@self", ParseUnexpectedEnd},
		{"empty brackets", "@self.items[].price", ParseUnexpectedToken},
		{"double operator", "1 * / 2", ParseUnexpectedToken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err)
			assert.Equal(t, tc.code, errDetail(t, err, "code"))
		})
	}
}

func TestExtractDependencies(t *testing.T) {
	t.Run("repeated references deduplicate", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "#x + #x + #x"))
		require.Len(t, deps, 1)
		assert.Equal(t, SelfRef, deps[0].EntityRef)
		assert.Equal(t, "x", deps[0].Property)
	})

	t.Run("hash and self forms are the same dependency", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "#x + @self.x"))
		assert.Len(t, deps, 1)
	})

	t.Run("relationship chain", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "@self.parent.category.markup"))
		require.Len(t, deps, 1)
		assert.Equal(t, []string{"parent", "category"}, deps[0].Relationships)
		assert.Equal(t, "markup", deps[0].Property)
		assert.False(t, deps[0].IsCollection)
	})

	t.Run("wildcard traversal is a collection", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "SUM(@self.items[*].price)"))
		require.Len(t, deps, 1)
		assert.Equal(t, []string{"items"}, deps[0].Relationships)
		assert.Equal(t, "price", deps[0].Property)
		assert.True(t, deps[0].IsCollection)
	})

	t.Run("entity reference base", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "@{0190a5b0-1234-7abc-8def-000000000001}.price * 2"))
		require.Len(t, deps, 1)
		assert.Equal(t, "0190a5b0-1234-7abc-8def-000000000001", deps[0].EntityRef)
	})

	t.Run("collapsed path retained", func(t *testing.T) {
		deps := ExtractDependencies(mustParse(t, "SUM(@self.items[*].price)"))
		require.Len(t, deps, 1)
		assert.Equal(t, "@self.items[*].price", deps[0].Path)
	})

	t.Run("literals contribute nothing", func(t *testing.T) {
		assert.Empty(t, ExtractDependencies(mustParse(t, "1 + 2 * 3")))
	})
}
