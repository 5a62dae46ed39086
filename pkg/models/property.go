package models

import (
	"sort"
	"strings"
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/values"
)

type PropertyKind string

const (
	PropertyLiteral   PropertyKind = "literal"
	PropertyMeasured  PropertyKind = "measured"
	PropertyInherited PropertyKind = "inherited"
	PropertyComputed  PropertyKind = "computed"
)

type PropertyStatus string

const (
	StatusValid   PropertyStatus = "valid"
	StatusStale   PropertyStatus = "stale"
	StatusPending PropertyStatus = "pending"
	StatusError   PropertyStatus = "error"
)

// Property is a tagged variant attached to an entity by name. Which fields
// are populated depends on Kind; consumers switch on it.
type Property struct {
	Kind PropertyKind `json:"kind"`

	// literal and measured
	Value       *values.Value `json:"value,omitempty"`
	Uncertainty *float64      `json:"uncertainty,omitempty"`
	MeasuredAt  *time.Time    `json:"measured_at,omitempty"`

	// inherited
	FromEntity    string        `json:"from_entity,omitempty"`
	FromProperty  string        `json:"from_property,omitempty"`
	Override      *values.Value `json:"override,omitempty"`
	ResolvedValue *values.Value `json:"resolved_value,omitempty"`

	// computed
	Expression   string           `json:"expression,omitempty"`
	Dependencies []DependencyPath `json:"dependencies,omitempty"`
	CachedValue  *values.Value    `json:"cached_value,omitempty"`
	Error        *PropertyError   `json:"error,omitempty"`

	// inherited and computed
	Status PropertyStatus `json:"status,omitempty"`
}

// PropertyError records the last failed evaluation of a computed property.
type PropertyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Offset  *int   `json:"offset,omitempty"`
}

// EffectiveValue returns the value the property currently resolves to without
// triggering any recomputation. Stale cached values are returned best-effort.
func (p *Property) EffectiveValue() *values.Value {
	if p == nil {
		return nil
	}

	switch p.Kind {
	case PropertyLiteral, PropertyMeasured:
		return p.Value
	case PropertyInherited:
		if p.Override != nil {
			return p.Override
		}
		return p.ResolvedValue
	case PropertyComputed:
		return p.CachedValue
	default:
		return nil
	}
}

// DependencyPath is one unit of dependency for a computed property. EntityRef
// is "self" or an entity id. Path retains the collapsed source form for
// debugging.
type DependencyPath struct {
	EntityRef     string   `json:"entity_ref"`
	Relationships []string `json:"relationships,omitempty"`
	Property      string   `json:"property"`
	IsCollection  bool     `json:"is_collection"`
	Path          string   `json:"path,omitempty"`
}

// Key returns a canonical identity for deduplication.
func (d DependencyPath) Key() string {
	parts := []string{d.EntityRef}
	parts = append(parts, d.Relationships...)
	parts = append(parts, d.Property)
	key := strings.Join(parts, ".")
	if d.IsCollection {
		key += "[*]"
	}
	return key
}

// DedupeDependencies removes duplicate paths, preserving a stable order.
func DedupeDependencies(deps []DependencyPath) []DependencyPath {
	seen := map[string]bool{}
	result := make([]DependencyPath, 0, len(deps))
	for _, dep := range deps {
		key := dep.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, dep)
	}
	return result
}

// SortedPropertyNames returns property names in deterministic order.
func SortedPropertyNames(properties map[string]*Property) []string {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
