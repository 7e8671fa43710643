package config

import (
	"fmt"
	"strings"

	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/scalar"
)

// typeKey is the pseudo type of business keys.
const typeKey = "Key"

// typeExpr is a parsed type shorthand such as "[String!]!".
type typeExpr struct {
	Name         string
	List         bool
	Required     bool
	ItemRequired bool
}

// parseTypeExpr parses a type shorthand. A trailing "!" marks the type
// required; inside brackets it marks the list items required.
func parseTypeExpr(s string) (typeExpr, error) {
	var t typeExpr
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "!") {
		t.Required = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "!"))
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return t, fmt.Errorf("unbalanced list type %q", s)
		}
		t.List = true
		s = strings.TrimSpace(s[1 : len(s)-1])
		if strings.HasSuffix(s, "!") {
			t.ItemRequired = true
			s = strings.TrimSpace(strings.TrimSuffix(s, "!"))
		}
	}
	if s == "" || strings.ContainsAny(s, "[]! ") {
		return t, fmt.Errorf("malformed type %q", s)
	}
	t.Name = s
	return t, nil
}

// attributeKind resolves the type name of an attribute to a scalar, File
// with a media kind, the Key pseudo type, or an enum of m.
func attributeKind(name string, m *model.Model) (kind, media string, ok bool) {
	switch strings.ToLower(name) {
	case model.MediaImage, model.MediaVideo, model.MediaAudio:
		return scalar.File, strings.ToLower(name), true
	case "key":
		return typeKey, "", true
	}
	if s, ok := scalar.Normalize(name); ok {
		return s, "", true
	}
	if en := m.Enum(name); en != nil {
		return en.Name, "", true
	}
	if en := m.Enum(model.Pascal(name)); en != nil {
		return en.Name, "", true
	}
	return "", "", false
}

// resolveTypeRef turns a return or argument type shorthand into a TypeRef
// naming a scalar, an enum or an entity type.
func resolveTypeRef(s string, m *model.Model) (model.TypeRef, error) {
	t, err := parseTypeExpr(s)
	if err != nil {
		return model.TypeRef{}, err
	}
	ref := model.TypeRef{List: t.List, Required: t.Required, ItemRequired: t.ItemRequired}
	switch {
	case strings.EqualFold(t.Name, scalar.Upload):
		ref.Name = scalar.Upload
	case isScalarName(t.Name):
		ref.Name, _ = scalar.Normalize(t.Name)
	case m.Enum(t.Name) != nil:
		ref.Name = t.Name
	case m.Entity(t.Name) != nil:
		ref.Name = m.Entity(t.Name).TypeName
	default:
		return ref, fmt.Errorf("unknown type %q", t.Name)
	}
	return ref, nil
}

func isScalarName(name string) bool {
	_, ok := scalar.Normalize(name)
	return ok
}
