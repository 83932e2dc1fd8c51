package yaml

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaSpec is a compiled YAML schema specification, the runtime
// representation used for validation.
type SchemaSpec struct {
	Event       string            `yaml:"event"`
	Version     int               `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	Fields      map[string]*Field `yaml:"fields"`
}

// Field defines a single field in a YAML schema.
//
// Fields support two declaration styles:
//
//	shorthand (scalar): event_id: string!
//	long form (mapping): currencyCode:
//	                       type: string!
//	                       pattern: "^[A-Z]{3}$"
//
// Scalar type names: string, bool, int32, int64, float, double.
// Composite types use long form: "object" with a nested fields map, and
// "array" with an items declaration. Append "!" to mark a field required.
type Field struct {
	// Type is the internal type tag: "string", "boolean", "number",
	// "object" or "array". Populated by UnmarshalYAML from the user-facing
	// type name.
	Type string `yaml:"type"`

	// Kind specifies numeric precision: int32, int64, float, double.
	// Internal only, derived from the type name.
	Kind string `yaml:"-"`

	// Required indicates the field must be present (default: false).
	Required bool `yaml:"required,omitempty"`

	// Enum restricts values to a specific set (strings and numbers).
	Enum []interface{} `yaml:"enum,omitempty"`

	// Min/Max constraints for numbers.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// String constraints.
	MinLength *int   `yaml:"minLength,omitempty"`
	MaxLength *int   `yaml:"maxLength,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`

	// Fields holds the nested field map for object types.
	Fields map[string]*Field `yaml:"fields,omitempty"`

	// Items declares the element schema for array types.
	Items *Field `yaml:"items,omitempty"`

	// Compiled regex, populated during Validate.
	compiledPattern *regexp.Regexp `yaml:"-"`
}

// UnmarshalYAML supports both shorthand and long-form field declarations.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseTypeString(value.Value)
	}

	// Long form: decode struct fields via alias (avoids infinite
	// recursion), then normalize the type string.
	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)

	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.parseTypeString(f.Type)
}

// parseTypeString parses a user-facing type name like "int32!" and sets
// Type, Kind, and (if "!" is present) Required on the receiver.
func (f *Field) parseTypeString(s string) error {
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}

	switch s {
	case "string":
		f.Type = "string"
	case "bool":
		f.Type = "boolean"
	case "int32", "int64", "float", "double":
		f.Type = "number"
		f.Kind = s
	case "object":
		f.Type = "object"
	case "array":
		f.Type = "array"
	default:
		return fmt.Errorf("unsupported type %q (must be: string, bool, int32, int64, float, double, object, array)", s)
	}
	return nil
}

// Validate checks if the YAML schema spec is structurally valid. Called
// during compilation to catch definition errors before first use.
func (s *SchemaSpec) Validate() error {
	if s.Event == "" {
		return fmt.Errorf("event type is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema must define at least one field")
	}

	for name, field := range s.Fields {
		if field == nil {
			return fmt.Errorf("field %q: type cannot be empty", name)
		}
		if err := field.Validate(name); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}

	return nil
}

// Validate checks if a field definition is structurally valid, recursing
// into object fields and array item declarations.
func (f *Field) Validate(path string) error {
	switch f.Type {
	case "string":
		return f.validateStringField()
	case "boolean":
		return f.validateBooleanField()
	case "number":
		return f.validateNumberField()
	case "object":
		return f.validateObjectField(path)
	case "array":
		return f.validateArrayField(path)
	default:
		return fmt.Errorf("unsupported type %q", f.Type)
	}
}

func (f *Field) validateStringField() error {
	if f.MinLength != nil && *f.MinLength < 0 {
		return fmt.Errorf("minLength cannot be negative")
	}
	if f.MaxLength != nil && *f.MaxLength < 0 {
		return fmt.Errorf("maxLength cannot be negative")
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("minLength (%d) cannot exceed maxLength (%d)", *f.MinLength, *f.MaxLength)
	}

	if f.Pattern != "" {
		compiled, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		f.compiledPattern = compiled
	}

	for i, val := range f.Enum {
		if _, ok := val.(string); !ok {
			return fmt.Errorf("enum[%d]: expected string, got %T", i, val)
		}
	}

	return nil
}

func (f *Field) validateBooleanField() error {
	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		return fmt.Errorf("boolean fields do not support length or pattern constraints")
	}
	if f.Min != nil || f.Max != nil {
		return fmt.Errorf("boolean fields do not support min/max constraints")
	}
	if len(f.Enum) > 0 {
		return fmt.Errorf("boolean fields do not support enum constraints")
	}
	return nil
}

func (f *Field) validateNumberField() error {
	if f.Kind == "" {
		return fmt.Errorf("number type requires kind (int32, int64, float, or double)")
	}

	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min (%v) cannot exceed max (%v)", *f.Min, *f.Max)
	}

	for i, val := range f.Enum {
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("enum[%d]: expected number, got %T", i, val)
		}
	}

	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		return fmt.Errorf("number fields do not support length or pattern constraints")
	}

	return nil
}

func (f *Field) validateObjectField(path string) error {
	if len(f.Fields) == 0 {
		return fmt.Errorf("object type requires a nested fields map")
	}
	if f.Items != nil {
		return fmt.Errorf("object fields do not support items")
	}
	for name, nested := range f.Fields {
		if nested == nil {
			return fmt.Errorf("nested field %q: type cannot be empty", name)
		}
		if err := nested.Validate(path + "." + name); err != nil {
			return fmt.Errorf("nested field %q: %w", name, err)
		}
	}
	return nil
}

func (f *Field) validateArrayField(path string) error {
	if f.Items == nil {
		return fmt.Errorf("array type requires an items declaration")
	}
	if len(f.Fields) > 0 {
		return fmt.Errorf("array fields do not support a fields map")
	}
	if err := f.Items.Validate(path + "[]"); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	return nil
}

// IsRequired returns true if the field must be present.
func (f *Field) IsRequired() bool {
	return f.Required
}

// String returns a human-readable description of the field type.
func (f *Field) String() string {
	var parts []string
	parts = append(parts, f.Type)

	if f.Kind != "" {
		parts = append(parts, fmt.Sprintf("(%s)", f.Kind))
	}
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Enum) > 0 {
		parts = append(parts, fmt.Sprintf("enum[%d]", len(f.Enum)))
	}

	return strings.Join(parts, " ")
}
