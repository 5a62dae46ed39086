package models

import (
	"time"

	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// PropertyInput is the property shape accepted at the API boundary. It is a
// discriminated union over the four property kinds without cached or resolved
// fields; the entity service expands it into a full Property.
type PropertyInput struct {
	Kind PropertyKind `json:"kind" validate:"required,oneof=literal measured inherited computed"`

	// literal and measured
	Value       *values.Value `json:"value,omitempty"`
	Uncertainty *float64      `json:"uncertainty,omitempty"`
	MeasuredAt  *time.Time    `json:"measured_at,omitempty"`

	// inherited
	FromEntity   string        `json:"from_entity,omitempty"`
	FromProperty string        `json:"from_property,omitempty"`
	Override     *values.Value `json:"override,omitempty"`

	// computed
	Expression string `json:"expression,omitempty"`
}
