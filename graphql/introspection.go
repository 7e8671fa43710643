package graphql

import (
	"fmt"
	"strings"

	"github.com/99designs/gqlgen/graphql/introspection"
)

func isIntrospection(typeName string) bool {
	return strings.HasPrefix(typeName, "__")
}

func (s *Schema) introspectSchema() *introspection.Schema {
	return introspection.WrapSchema(s.schema)
}

func (s *Schema) introspectType(name string) *introspection.Type {
	def := s.schema.Types[name]
	if def == nil {
		return nil
	}
	return introspection.WrapTypeFromDef(s.schema, def)
}

// introspect resolves a field of an introspection type on the gqlgen
// wrappers of the schema.
func introspect(source any, field string, args map[string]any) (any, error) {
	deprecated, _ := args["includeDeprecated"].(bool)
	switch src := source.(type) {
	case *introspection.Schema:
		switch field {
		case "description":
			return src.Description(), nil
		case "types":
			return src.Types(), nil
		case "queryType":
			return src.QueryType(), nil
		case "mutationType":
			return src.MutationType(), nil
		case "subscriptionType":
			return src.SubscriptionType(), nil
		case "directives":
			return src.Directives(), nil
		}
	case *introspection.Type:
		switch field {
		case "kind":
			return src.Kind(), nil
		case "name":
			return src.Name(), nil
		case "description":
			return src.Description(), nil
		case "specifiedByURL":
			return src.SpecifiedByURL(), nil
		case "fields":
			return src.Fields(deprecated), nil
		case "interfaces":
			return src.Interfaces(), nil
		case "possibleTypes":
			return src.PossibleTypes(), nil
		case "enumValues":
			return src.EnumValues(deprecated), nil
		case "inputFields":
			return src.InputFields(), nil
		case "ofType":
			return src.OfType(), nil
		case "isOneOf":
			return false, nil
		}
	case *introspection.Field:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return src.Description(), nil
		case "args":
			return src.Args, nil
		case "type":
			return src.Type, nil
		case "isDeprecated":
			return src.IsDeprecated(), nil
		case "deprecationReason":
			return src.DeprecationReason(), nil
		}
	case *introspection.InputValue:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return src.Description(), nil
		case "type":
			return src.Type, nil
		case "defaultValue":
			return src.DefaultValue, nil
		case "isDeprecated":
			return false, nil
		case "deprecationReason":
			return nil, nil
		}
	case *introspection.EnumValue:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return src.Description(), nil
		case "isDeprecated":
			return src.IsDeprecated(), nil
		case "deprecationReason":
			return src.DeprecationReason(), nil
		}
	case *introspection.Directive:
		switch field {
		case "name":
			return src.Name, nil
		case "description":
			return src.Description(), nil
		case "locations":
			return src.Locations, nil
		case "args":
			return src.Args, nil
		case "isRepeatable":
			return src.IsRepeatable, nil
		}
	}
	return nil, fmt.Errorf("introspection field %s is not supported on %T", field, source)
}
