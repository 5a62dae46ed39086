package models

import (
	"strings"
	"time"
)

// Entity is the primary unit of data. In-memory values are snapshots; the
// storage layer owns the persisted rows.
type Entity struct {
	ID         string               `json:"id"`
	TenantID   string               `json:"tenant_id"`
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties"`
	Version    int64                `json:"version"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	CreatedBy  string               `json:"created_by"`
	DeletedAt  *time.Time           `json:"deleted_at,omitempty"`
}

// Property returns the named property, or nil when absent.
func (e *Entity) Property(name string) *Property {
	if e == nil || e.Properties == nil {
		return nil
	}
	return e.Properties[name]
}

// ComputedProperties returns the names of all computed properties.
func (e *Entity) ComputedProperties() []string {
	var names []string
	for _, name := range SortedPropertyNames(e.Properties) {
		if e.Properties[name].Kind == PropertyComputed {
			names = append(names, name)
		}
	}
	return names
}

// TypeMatchesPrefix reports whether typePath falls under prefix in the dotted
// type hierarchy. "product" matches "product" and "product.variant" but not
// "productivity".
func TypeMatchesPrefix(typePath, prefix string) bool {
	if typePath == prefix {
		return true
	}
	return strings.HasPrefix(typePath, prefix+".")
}
