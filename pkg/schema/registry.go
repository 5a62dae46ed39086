package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// TypeSchema declares an entity type in the dotted hierarchy. Property
// templates are documentation plus defaults; entities remain free-form
// beyond them.
type TypeSchema struct {
	Type        string                          `json:"type"`
	Description string                          `json:"description,omitempty"`
	Properties  map[string]models.PropertyInput `json:"properties,omitempty"`
}

// RelationshipStore persists relationship schemas. Satisfied by the
// relationshipschema repository.
type RelationshipStore interface {
	Upsert(ctx context.Context, schema *models.RelationshipSchema) error
}

// Registry holds registered type schemas in memory and writes relationship
// schemas through to storage, where the relationship service reads them.
type Registry struct {
	relationships RelationshipStore

	mu    sync.RWMutex
	types map[string]TypeSchema
}

// NewRegistry creates a schema registry.
func NewRegistry(relationships RelationshipStore) *Registry {
	return &Registry{
		relationships: relationships,
		types:         map[string]TypeSchema{},
	}
}

// RegisterTypeSchema records or replaces a type declaration.
func (r *Registry) RegisterTypeSchema(schema TypeSchema) error {
	if schema.Type == "" {
		return errors.New(errors.CodeValidation, "type schema requires a type path")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[schema.Type] = schema
	return nil
}

// TypeSchemaFor returns the declaration for a type path, or false when
// unregistered.
func (r *Registry) TypeSchemaFor(typePath string) (TypeSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.types[typePath]
	return schema, ok
}

// TypeSchemas lists every registered type in path order.
func (r *Registry) TypeSchemas() []TypeSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.types))
	for path := range r.types {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	schemas := make([]TypeSchema, 0, len(paths))
	for _, path := range paths {
		schemas = append(schemas, r.types[path])
	}
	return schemas
}

// RegisterRelationshipSchema validates and persists a relationship type
// declaration.
func (r *Registry) RegisterRelationshipSchema(ctx context.Context, schema *models.RelationshipSchema) error {
	if err := validateRelationshipSchema(schema); err != nil {
		return err
	}
	return r.relationships.Upsert(ctx, schema)
}

func validateRelationshipSchema(schema *models.RelationshipSchema) error {
	if schema.Type == "" {
		return errors.New(errors.CodeValidation, "relationship schema requires a type")
	}
	switch schema.Cardinality {
	case models.OneToOne, models.OneToMany, models.ManyToOne, models.ManyToMany:
	default:
		return errors.Newf(errors.CodeValidation, "unknown cardinality %q for relationship %q", schema.Cardinality, schema.Type).
			WithDetail("type", schema.Type)
	}
	if schema.Bidirectional && schema.InverseType == "" {
		return errors.Newf(errors.CodeValidation, "bidirectional relationship %q requires an inverse_type", schema.Type).
			WithDetail("type", schema.Type)
	}
	return nil
}
