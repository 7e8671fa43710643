// Package config holds the raw, shorthand-friendly configuration of a data
// model and resolves it into the canonical model.Model.
//
// Configuration can be written in Go or loaded from YAML files:
//
//	entity:
//	  car:
//	    attributes:
//	      licence: Key
//	      brand: String!
//	      fuel: Fuel
//	      colors: "[String]"
//	      picture: image
//	    assocTo: driver!
//	    assocFrom:
//	      - type: trip
//	        delete: cascade
//	enum:
//	  Fuel: [gas, diesel, electric]
//
// Resolution is fail-soft: one malformed declaration is reported as a
// Diagnostic and dropped while the rest of the model is built.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/syssam/veloql/model"
)

// Config is the raw configuration of a data model.
type Config struct {
	Entities map[string]*EntityConfig `yaml:"entity"`
	// Enums maps an enum name to a list of values or a value => label map.
	Enums         map[string]any              `yaml:"enum"`
	Queries       map[string]*OperationConfig `yaml:"query"`
	Mutations     map[string]*OperationConfig `yaml:"mutation"`
	Subscriptions map[string]*OperationConfig `yaml:"subscription"`
}

// EntityConfig is the raw configuration of one entity.
type EntityConfig struct {
	// Derived name overrides. Empty values are derived by convention.
	TypeName       string `yaml:"typeName"`
	Singular       string `yaml:"singular"`
	Plural         string `yaml:"plural"`
	Collection     string `yaml:"collection"`
	Path           string `yaml:"path"`
	ForeignKey     string `yaml:"foreignKey"`
	ForeignKeys    string `yaml:"foreignKeys"`
	CreateInput    string `yaml:"createInputTypeName"`
	UpdateInput    string `yaml:"updateInputTypeName"`
	Filter         string `yaml:"filterTypeName"`
	Sorter         string `yaml:"sorterEnumName"`
	TypesEnum      string `yaml:"typesEnumName"`
	MutationResult string `yaml:"mutationResultName"`
	CreateMutation string `yaml:"createMutationName"`
	UpdateMutation string `yaml:"updateMutationName"`
	DeleteMutation string `yaml:"deleteMutationName"`
	TypeQuery      string `yaml:"typeQueryName"`
	TypesQuery     string `yaml:"typesQueryName"`
	StatsQuery     string `yaml:"statsQueryName"`

	Description string `yaml:"description"`

	// Attributes maps names to a type shorthand string, an Attribute, a
	// *Attribute or a map with the Attribute keys.
	Attributes map[string]any `yaml:"attributes"`
	// AttributeOrder fixes the order of Attributes. YAML loading fills it
	// from the document; otherwise attributes are sorted by name.
	AttributeOrder []string `yaml:"-"`

	// Associations accept a target name shorthand ("driver", "driver!"), an
	// Association, a map with the Association keys, or a list of those.
	AssocTo     any `yaml:"assocTo"`
	AssocToMany any `yaml:"assocToMany"`
	AssocFrom   any `yaml:"assocFrom"`

	// Union lists the member entities of a union entity.
	Union []string `yaml:"union"`
	// Interface marks an entity implemented by other entities.
	Interface bool `yaml:"interface"`
	// Implements names one interface entity or a list of them.
	Implements any `yaml:"implements"`

	Subscriptions bool `yaml:"subscriptions"`
	// Disable lists standard operations left out of the API: create,
	// update, delete, typeQuery, typesQuery, statsQuery.
	Disable []string `yaml:"disable"`

	// Permissions is a *privacy.Policy, a privacy.Policy, privacy.Policies,
	// a Permissions value or a map {read, save, delete} of role lists.
	Permissions any `yaml:"permissions"`

	// Seeds are named sample records.
	Seeds map[string]map[string]any `yaml:"seeds"`

	// Code-only settings.
	Operations model.Operations   `yaml:"-"`
	Hooks      model.Hooks        `yaml:"-"`
	Validate   model.ValidateFunc `yaml:"-"`
}

// Attribute is the long form of an attribute declaration.
type Attribute struct {
	// Type accepts the same shorthand as a bare attribute declaration.
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	List     bool   `yaml:"list"`
	// Unique is a bool, or the name of the attribute scoping uniqueness.
	Unique  any  `yaml:"unique"`
	Virtual bool `yaml:"virtual"`
	// Nil visibility toggles default to true for stored attributes.
	CreateInput     *bool `yaml:"createInput"`
	UpdateInput     *bool `yaml:"updateInput"`
	ObjectTypeField *bool `yaml:"objectTypeField"`
	// FilterType is false to suppress filtering or a filter type name.
	FilterType  any                        `yaml:"filterType"`
	Default     any                        `yaml:"defaultValue"`
	DefaultFunc model.DefaultFunc          `yaml:"-"`
	Resolve     model.AttributeResolveFunc `yaml:"-"`
	MediaType   string                     `yaml:"mediaType"`
	Validation  string                     `yaml:"validation"`
	QueryBy     bool                       `yaml:"queryBy"`
	Description string                     `yaml:"description"`
}

// Association is the long form of an association declaration.
type Association struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Input    bool   `yaml:"input"`
	// Delete is the policy of an assocFrom: prevent, nullify or cascade.
	Delete      string `yaml:"delete"`
	Description string `yaml:"description"`
}

// Permissions is the role shorthand of an entity policy. An empty list
// leaves the operation group unrestricted.
type Permissions struct {
	Read   []string `yaml:"read"`
	Save   []string `yaml:"save"`
	Delete []string `yaml:"delete"`
}

// OperationConfig declares a custom query, mutation or subscription.
type OperationConfig struct {
	// Type is the return type shorthand, e.g. "[Car!]!" or "int".
	Type string `yaml:"type"`
	// Args maps argument names to type shorthands.
	Args    map[string]string `yaml:"args"`
	Resolve model.ResolveFunc `yaml:"-"`
	// Topic is the event bus topic feeding a subscription. It defaults to
	// the operation name.
	Topic       string `yaml:"topic"`
	Description string `yaml:"description"`
}

// UnmarshalYAML decodes an entity and records the attribute order of the
// document.
func (ec *EntityConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain EntityConfig
	if err := node.Decode((*plain)(ec)); err != nil {
		return err
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "attributes" {
			continue
		}
		attrs := node.Content[i+1]
		if attrs.Kind != yaml.MappingNode {
			return fmt.Errorf("config: line %d: attributes must be a mapping", attrs.Line)
		}
		ec.AttributeOrder = ec.AttributeOrder[:0]
		for j := 0; j+1 < len(attrs.Content); j += 2 {
			ec.AttributeOrder = append(ec.AttributeOrder, attrs.Content[j].Value)
		}
	}
	return nil
}
