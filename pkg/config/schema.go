package config

import (
	"fmt"
	"reflect"
	"strings"
)

func lookupSchema(schema *ConfigSchema, key string) *SchemaNode {
	props := schema.Properties
	parts := strings.Split(key, ".")
	for i, part := range parts {
		node, ok := props[part]
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return node
		}
		props = node.Properties
	}
	return nil
}

func validateSchema(schema *ConfigSchema, values map[string]*ConfigValue, errs *MultiError) {
	var walk func(prefix string, props map[string]*SchemaNode)
	walk = func(prefix string, props map[string]*SchemaNode) {
		for name, node := range props {
			key := joinKey(prefix, name)
			if len(node.Properties) > 0 {
				walk(key, node.Properties)
				continue
			}
			v, ok := values[key]
			if !ok {
				if node.Required {
					errs.Add(&ConfigError{Key: key, Message: "required by schema"})
				}
				continue
			}
			if err := validateNode(node, v.Value); err != nil {
				errs.Add(&ConfigError{Key: key, Message: "schema mismatch", Err: err})
			}
		}
	}
	walk("", schema.Properties)
}

func validateNode(node *SchemaNode, value interface{}) error {
	kind := reflect.Invalid
	if value != nil {
		kind = reflect.TypeOf(value).Kind()
	}
	switch node.Type {
	case "string":
		if kind != reflect.String {
			return fmt.Errorf("expected string, got %s", kind)
		}
	case "integer", "number":
		f, ok := toFloat(value)
		if !ok || kind == reflect.String {
			return fmt.Errorf("expected %s, got %s", node.Type, kind)
		}
		if node.Type == "integer" && f != float64(int64(f)) {
			return fmt.Errorf("expected integer, got %v", value)
		}
		if node.Min != nil && f < *node.Min {
			return fmt.Errorf("value %v is less than min %v", value, *node.Min)
		}
		if node.Max != nil && f > *node.Max {
			return fmt.Errorf("value %v is greater than max %v", value, *node.Max)
		}
	case "duration":
		if _, ok := toDuration(value); !ok {
			return fmt.Errorf("expected duration, got %v", value)
		}
	case "boolean":
		if kind != reflect.Bool {
			return fmt.Errorf("expected boolean, got %s", kind)
		}
	case "array":
		if kind != reflect.Slice && kind != reflect.Array {
			return fmt.Errorf("expected array, got %s", kind)
		}
		if node.Items != nil {
			slice := reflect.ValueOf(value)
			for i := 0; i < slice.Len(); i++ {
				if err := validateNode(node.Items, slice.Index(i).Interface()); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	}
	if len(node.Enum) > 0 {
		for _, allowed := range node.Enum {
			if reflect.DeepEqual(allowed, value) {
				return nil
			}
		}
		return fmt.Errorf("value %v is not one of %v", value, node.Enum)
	}
	return nil
}
