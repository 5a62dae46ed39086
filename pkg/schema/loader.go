package schema

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

// fileConfig is the product configuration document. Anything outside the
// types and relationships sections is ignored.
type fileConfig struct {
	Types         []typeDecl `yaml:"types"`
	Relationships []relDecl  `yaml:"relationships"`
}

type typeDecl struct {
	Type        string                  `yaml:"type"`
	Description string                  `yaml:"description"`
	Properties  map[string]propertyDecl `yaml:"properties"`
}

type propertyDecl struct {
	Kind         string   `yaml:"kind"`
	Value        any      `yaml:"value"`
	Uncertainty  *float64 `yaml:"uncertainty"`
	MeasuredAt   string   `yaml:"measured_at"`
	FromEntity   string   `yaml:"from_entity"`
	FromProperty string   `yaml:"from_property"`
	Expression   string   `yaml:"expression"`
}

type relDecl struct {
	Type          string   `yaml:"type"`
	FromTypes     []string `yaml:"from_types"`
	ToTypes       []string `yaml:"to_types"`
	Cardinality   string   `yaml:"cardinality"`
	Bidirectional bool     `yaml:"bidirectional"`
	InverseType   string   `yaml:"inverse_type"`
}

// LoadFile reads a product configuration from disk and registers every type
// and relationship declaration it contains.
func LoadFile(ctx context.Context, path string, registry *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to read product config")
	}
	return Load(ctx, raw, registry)
}

// Load parses a product configuration document and registers its
// declarations. The document is validated in full before anything is
// registered, so a bad declaration leaves the registry untouched.
func Load(ctx context.Context, raw []byte, registry *Registry) error {
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, errors.CodeValidation, "failed to parse product config")
	}

	types := make([]TypeSchema, 0, len(file.Types))
	for _, decl := range file.Types {
		schema, err := decl.toSchema()
		if err != nil {
			return err
		}
		types = append(types, schema)
	}

	schemas := make([]*models.RelationshipSchema, 0, len(file.Relationships))
	for _, decl := range file.Relationships {
		schema := &models.RelationshipSchema{
			Type:          decl.Type,
			FromTypes:     decl.FromTypes,
			ToTypes:       decl.ToTypes,
			Cardinality:   models.Cardinality(decl.Cardinality),
			Bidirectional: decl.Bidirectional,
			InverseType:   decl.InverseType,
		}
		if err := validateRelationshipSchema(schema); err != nil {
			return err
		}
		schemas = append(schemas, schema)
	}

	for _, schema := range types {
		if err := registry.RegisterTypeSchema(schema); err != nil {
			return err
		}
	}
	for _, schema := range schemas {
		if err := registry.RegisterRelationshipSchema(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func (d typeDecl) toSchema() (TypeSchema, error) {
	schema := TypeSchema{
		Type:        d.Type,
		Description: d.Description,
	}
	if len(d.Properties) > 0 {
		schema.Properties = make(map[string]models.PropertyInput, len(d.Properties))
	}
	for name, prop := range d.Properties {
		input, err := prop.toInput()
		if err != nil {
			return TypeSchema{}, errors.Wrap(err, errors.CodeValidation, fmt.Sprintf("type %q property %q", d.Type, name))
		}
		schema.Properties[name] = input
	}
	return schema, nil
}

func (d propertyDecl) toInput() (models.PropertyInput, error) {
	input := models.PropertyInput{
		Kind:         models.PropertyKind(d.Kind),
		Uncertainty:  d.Uncertainty,
		FromEntity:   d.FromEntity,
		FromProperty: d.FromProperty,
		Expression:   d.Expression,
	}

	switch input.Kind {
	case models.PropertyLiteral, models.PropertyMeasured, models.PropertyInherited, models.PropertyComputed:
	default:
		return models.PropertyInput{}, errors.Newf(errors.CodeValidation, "unknown property kind %q", d.Kind)
	}

	if d.Value != nil {
		value, err := valueFromYAML(d.Value)
		if err != nil {
			return models.PropertyInput{}, err
		}
		input.Value = value
	}
	if d.MeasuredAt != "" {
		at, err := time.Parse(time.RFC3339, d.MeasuredAt)
		if err != nil {
			return models.PropertyInput{}, errors.Newf(errors.CodeValidation, "invalid measured_at %q", d.MeasuredAt)
		}
		input.MeasuredAt = &at
	}
	return input, nil
}

// valueFromYAML maps decoded YAML scalars onto tagged values. Mappings become
// records, sequences become lists with the element kind of the first item.
func valueFromYAML(raw any) (*values.Value, error) {
	switch v := raw.(type) {
	case bool:
		return values.Boolean(v), nil
	case int:
		return values.Number(float64(v)), nil
	case int64:
		return values.Number(float64(v)), nil
	case float64:
		return values.Number(v), nil
	case string:
		return values.Text(v), nil
	case []any:
		items := make([]*values.Value, 0, len(v))
		elementKind := values.KindText
		for i, item := range v {
			value, err := valueFromYAML(item)
			if err != nil {
				return nil, err
			}
			if i == 0 && value != nil {
				elementKind = value.Kind
			}
			items = append(items, value)
		}
		return values.List(elementKind, items), nil
	case map[string]any:
		fields := make(map[string]*values.Value, len(v))
		for key, item := range v {
			value, err := valueFromYAML(item)
			if err != nil {
				return nil, err
			}
			fields[key] = value
		}
		return values.Record(fields), nil
	case nil:
		return nil, nil
	default:
		return nil, errors.Newf(errors.CodeValidation, "unsupported config value %v", fmt.Sprintf("%T", raw))
	}
}
