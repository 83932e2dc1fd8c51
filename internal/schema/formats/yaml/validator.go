package yaml

import (
	"context"
	"fmt"

	"github.com/commercekit/relay/internal/schema"
)

// Validator validates event payloads against YAML schemas.
type Validator struct{}

// NewValidator creates a new YAML validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateData validates the payload against the compiled YAML schema,
// walking nested objects and arrays-of-objects and reporting each violation
// with a dotted path ("ecommerce.purchase.products[0].id").
func (v *Validator) ValidateData(ctx context.Context, compiled *schema.CompiledSchema, data map[string]interface{}) error {
	specIntf := compiled.YAMLSpec
	spec, ok := specIntf.(*SchemaSpec)
	if !ok {
		return fmt.Errorf("compiled schema is not a YAML SchemaSpec: %T", specIntf)
	}

	var errs []*schema.ValidationError
	v.validateFields(compiled, "", spec.Fields, data, &errs)

	if len(errs) > 0 {
		return &schema.MultiValidationError{Errors: errs}
	}
	return nil
}

// validateFields walks one fields map against one object value, appending
// violations to errs. prefix is the dotted path of the enclosing object
// ("" at the top level).
func (v *Validator) validateFields(s *schema.CompiledSchema, prefix string, fields map[string]*Field, data map[string]interface{}, errs *[]*schema.ValidationError) {
	for name, fieldSpec := range fields {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		value, exists := data[name]
		if !exists {
			if fieldSpec.Required {
				*errs = append(*errs, schema.NewRequiredFieldError(s.Event, s.Version, path))
			}
			continue
		}

		v.validateValue(s, path, fieldSpec, value, errs)
	}
}

// validateValue validates one value against its field spec.
func (v *Validator) validateValue(s *schema.CompiledSchema, path string, spec *Field, value interface{}, errs *[]*schema.ValidationError) {
	if value == nil {
		if spec.Required {
			*errs = append(*errs, &schema.ValidationError{
				Event:   s.Event,
				Version: s.Version,
				Path:    path,
				Message: "required field cannot be null",
			})
		}
		return
	}

	switch spec.Type {
	case "string":
		v.validateString(s, path, spec, value, errs)
	case "boolean":
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, schema.NewTypeMismatchError(s.Event, s.Version, path, "boolean", jsonTypeName(value)))
		}
	case "number":
		v.validateNumber(s, path, spec, value, errs)
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			*errs = append(*errs, schema.NewTypeMismatchError(s.Event, s.Version, path, "object", jsonTypeName(value)))
			return
		}
		v.validateFields(s, path, spec.Fields, obj, errs)
	case "array":
		arr, ok := value.([]interface{})
		if !ok {
			*errs = append(*errs, schema.NewTypeMismatchError(s.Event, s.Version, path, "array", jsonTypeName(value)))
			return
		}
		for i, elem := range arr {
			v.validateValue(s, fmt.Sprintf("%s[%d]", path, i), spec.Items, elem, errs)
		}
	default:
		*errs = append(*errs, &schema.ValidationError{
			Event:   s.Event,
			Version: s.Version,
			Path:    path,
			Message: fmt.Sprintf("unknown field type: %s", spec.Type),
		})
	}
}

func (v *Validator) validateString(s *schema.CompiledSchema, path string, spec *Field, value interface{}, errs *[]*schema.ValidationError) {
	str, ok := value.(string)
	if !ok {
		*errs = append(*errs, schema.NewTypeMismatchError(s.Event, s.Version, path, "string", jsonTypeName(value)))
		return
	}

	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			if allowedStr, ok := allowed.(string); ok && allowedStr == str {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, &schema.ValidationError{
				Event:   s.Event,
				Version: s.Version,
				Path:    path,
				Message: fmt.Sprintf("value %q not in enum %v", str, spec.Enum),
			})
			return
		}
	}

	length := len(str)
	if spec.MinLength != nil && length < *spec.MinLength {
		*errs = append(*errs, &schema.ValidationError{
			Event:   s.Event,
			Version: s.Version,
			Path:    path,
			Message: fmt.Sprintf("string length %d is less than minimum %d", length, *spec.MinLength),
		})
	}
	if spec.MaxLength != nil && length > *spec.MaxLength {
		*errs = append(*errs, &schema.ValidationError{
			Event:   s.Event,
			Version: s.Version,
			Path:    path,
			Message: fmt.Sprintf("string length %d exceeds maximum %d", length, *spec.MaxLength),
		})
	}

	if spec.compiledPattern != nil && !spec.compiledPattern.MatchString(str) {
		*errs = append(*errs, &schema.ValidationError{
			Event:   s.Event,
			Version: s.Version,
			Path:    path,
			Message: fmt.Sprintf("string does not match pattern %q", spec.Pattern),
		})
	}
}

func (v *Validator) validateNumber(s *schema.CompiledSchema, path string, spec *Field, value interface{}, errs *[]*schema.ValidationError) {
	// JSON unmarshals all numbers as float64; the YAML parser may hand
	// back native ints.
	var num float64
	switch n := value.(type) {
	case float64:
		num = n
	case int:
		num = float64(n)
	case int64:
		num = float64(n)
	default:
		*errs = append(*errs, schema.NewTypeMismatchError(s.Event, s.Version, path, "number", jsonTypeName(value)))
		return
	}

	switch spec.Kind {
	case "int32":
		if num != float64(int64(num)) {
			*errs = append(*errs, &schema.ValidationError{
				Event: s.Event, Version: s.Version, Path: path,
				Message: "expected integer, got float with fractional part",
			})
			return
		}
		if num < -2147483648 || num > 2147483647 {
			*errs = append(*errs, &schema.ValidationError{
				Event: s.Event, Version: s.Version, Path: path,
				Message: fmt.Sprintf("value %v out of range for int32", num),
			})
			return
		}
	case "int64":
		if num != float64(int64(num)) {
			*errs = append(*errs, &schema.ValidationError{
				Event: s.Event, Version: s.Version, Path: path,
				Message: "expected integer, got float with fractional part",
			})
			return
		}
	case "float", "double", "":
		// float64 covers both; no range check needed here.
	default:
		*errs = append(*errs, &schema.ValidationError{
			Event: s.Event, Version: s.Version, Path: path,
			Message: fmt.Sprintf("unknown number kind: %s", spec.Kind),
		})
		return
	}

	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			var allowedNum float64
			switch a := allowed.(type) {
			case int:
				allowedNum = float64(a)
			case int64:
				allowedNum = float64(a)
			case float64:
				allowedNum = a
			default:
				continue
			}
			if allowedNum == num {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, &schema.ValidationError{
				Event: s.Event, Version: s.Version, Path: path,
				Message: fmt.Sprintf("value %v not in enum %v", num, spec.Enum),
			})
			return
		}
	}

	if spec.Min != nil && num < *spec.Min {
		*errs = append(*errs, &schema.ValidationError{
			Event: s.Event, Version: s.Version, Path: path,
			Message: fmt.Sprintf("value %v is less than minimum %v", num, *spec.Min),
		})
	}
	if spec.Max != nil && num > *spec.Max {
		*errs = append(*errs, &schema.ValidationError{
			Event: s.Event, Version: s.Version, Path: path,
			Message: fmt.Sprintf("value %v exceeds maximum %v", num, *spec.Max),
		})
	}
}

// jsonTypeName returns a human-readable type name for JSON values.
func jsonTypeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
