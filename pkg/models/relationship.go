package models

import (
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// Relationship is a directed, typed, tenant-scoped edge between two entities.
type Relationship struct {
	ID         string                   `json:"id"`
	TenantID   string                   `json:"tenant_id"`
	Type       string                   `json:"type"`
	FromEntity string                   `json:"from_entity"`
	ToEntity   string                   `json:"to_entity"`
	Metadata   map[string]*values.Value `json:"metadata,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	CreatedBy  string                   `json:"created_by"`
}

type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// RelationshipSchema declares a relationship type: which entity types it may
// connect, its cardinality, and an optional inverse type maintained in
// lockstep.
type RelationshipSchema struct {
	Type          string      `json:"type"`
	FromTypes     []string    `json:"from_types"`
	ToTypes       []string    `json:"to_types"`
	Cardinality   Cardinality `json:"cardinality"`
	Bidirectional bool        `json:"bidirectional"`
	InverseType   string      `json:"inverse_type,omitempty"`
}

// AllowsFromType reports whether the schema permits edges out of typePath.
// An empty FromTypes list permits any type.
func (s *RelationshipSchema) AllowsFromType(typePath string) bool {
	return matchesAnyType(typePath, s.FromTypes)
}

// AllowsToType reports whether the schema permits edges into typePath.
func (s *RelationshipSchema) AllowsToType(typePath string) bool {
	return matchesAnyType(typePath, s.ToTypes)
}

func matchesAnyType(typePath string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, prefix := range allowed {
		if TypeMatchesPrefix(typePath, prefix) {
			return true
		}
	}
	return false
}
