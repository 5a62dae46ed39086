package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

type recordingStore struct {
	upserted []*models.RelationshipSchema
}

func (s *recordingStore) Upsert(_ context.Context, schema *models.RelationshipSchema) error {
	s.upserted = append(s.upserted, schema)
	return nil
}

const productConfig = `
types:
  - type: product
    description: Catalog items
    properties:
      name:
        kind: literal
        value: unnamed
      price:
        kind: literal
        value: 0
      margin:
        kind: computed
        expression: "#price * 0.2"
  - type: product.widget
  - type: order
    properties:
      in_stock:
        kind: literal
        value: true
      tags:
        kind: literal
        value: [new, featured]

relationships:
  - type: contains
    from_types: [order]
    to_types: [product]
    cardinality: one_to_many
  - type: supplied_by
    from_types: [product]
    to_types: [supplier]
    cardinality: many_to_one
    bidirectional: true
    inverse_type: supplies
`

func TestLoadRegistersTypesAndRelationships(t *testing.T) {
	store := &recordingStore{}
	registry := NewRegistry(store)

	require.NoError(t, Load(context.Background(), []byte(productConfig), registry))

	product, ok := registry.TypeSchemaFor("product")
	require.True(t, ok)
	assert.Equal(t, "Catalog items", product.Description)
	assert.Equal(t, models.PropertyComputed, product.Properties["margin"].Kind)
	assert.Equal(t, "#price * 0.2", product.Properties["margin"].Expression)
	assert.True(t, values.Equals(values.Text("unnamed"), product.Properties["name"].Value))
	assert.True(t, values.Equals(values.Number(0), product.Properties["price"].Value))

	order, ok := registry.TypeSchemaFor("order")
	require.True(t, ok)
	assert.True(t, values.Equals(values.Boolean(true), order.Properties["in_stock"].Value))
	assert.True(t, values.Equals(
		values.List(values.KindText, []*values.Value{values.Text("new"), values.Text("featured")}),
		order.Properties["tags"].Value,
	))

	_, ok = registry.TypeSchemaFor("product.widget")
	assert.True(t, ok)

	paths := make([]string, 0, 3)
	for _, schema := range registry.TypeSchemas() {
		paths = append(paths, schema.Type)
	}
	assert.Equal(t, []string{"order", "product", "product.widget"}, paths)

	require.Len(t, store.upserted, 2)
	assert.Equal(t, "contains", store.upserted[0].Type)
	assert.Equal(t, models.OneToMany, store.upserted[0].Cardinality)
	assert.Equal(t, "supplies", store.upserted[1].InverseType)
}

func TestLoadRejectsUnknownCardinality(t *testing.T) {
	store := &recordingStore{}
	registry := NewRegistry(store)

	err := Load(context.Background(), []byte(`
relationships:
  - type: contains
    cardinality: some_to_many
`), registry)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Empty(t, store.upserted)
}

func TestLoadRejectsBidirectionalWithoutInverse(t *testing.T) {
	registry := NewRegistry(&recordingStore{})

	err := Load(context.Background(), []byte(`
relationships:
  - type: contains
    cardinality: one_to_many
    bidirectional: true
`), registry)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestLoadRejectsUnknownPropertyKind(t *testing.T) {
	registry := NewRegistry(&recordingStore{})

	err := Load(context.Background(), []byte(`
types:
  - type: product
    properties:
      name:
        kind: derived
`), registry)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	registry := NewRegistry(&recordingStore{})

	err := Load(context.Background(), []byte("types: [unclosed"), registry)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestRegisterTypeSchemaRequiresType(t *testing.T) {
	registry := NewRegistry(&recordingStore{})

	err := registry.RegisterTypeSchema(TypeSchema{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}
