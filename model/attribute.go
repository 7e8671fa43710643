package model

import "github.com/syssam/veloql/scalar"

// Media kinds of File attributes.
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
)

// Attribute is a resolved attribute of an entity.
type Attribute struct {
	// Name of the attribute, also its API field name.
	Name string
	// Type is a built-in scalar name, an enum name or File.
	Type string
	// Required marks the attribute as mandatory.
	Required bool
	// List marks a multi-valued attribute.
	List bool
	// Unique requires the value to be unique across the entity, or within
	// the records sharing the UniqueScope attribute value when set.
	Unique      bool
	UniqueScope string
	// Key marks a business key: required, unique, immutable after create.
	Key bool
	// Virtual attributes are computed on read and never persisted.
	Virtual bool
	// Visibility of the attribute in the generated create input, update
	// input and object type.
	CreateInput     bool
	UpdateInput     bool
	ObjectTypeField bool
	// FilterType names the filter input of the attribute. Empty means the
	// attribute cannot be filtered.
	FilterType string
	// Default is a static default value, DefaultFunc a computed one. Only
	// one is used, DefaultFunc wins.
	Default     any
	DefaultFunc DefaultFunc
	// Resolve computes the value on every read.
	Resolve AttributeResolveFunc
	// MediaType classifies File attributes (image, video, audio).
	MediaType string
	// Validation holds validator tag rules, e.g. "min=2,max=20".
	Validation string
	// QueryBy adds a lookup query for the attribute.
	QueryBy bool
	// Description is copied into the generated API.
	Description string
}

// HasDefault reports whether a default value is configured.
func (a *Attribute) HasDefault() bool {
	return a.Default != nil || a.DefaultFunc != nil
}

// IsFile reports whether the attribute holds a file.
func (a *Attribute) IsFile() bool {
	return a.Type == scalar.File
}

// Persisted reports whether the attribute value is stored.
func (a *Attribute) Persisted() bool {
	return !a.Virtual
}

// Filterable reports whether the attribute takes part in the filter input.
func (a *Attribute) Filterable() bool {
	return !a.Virtual && a.FilterType != "" && scalar.Filterable(a.Type)
}

// Sortable reports whether sort keys are generated for the attribute. Every
// stored attribute is sortable: lists order element-wise, File and JSON
// values by their encoding.
func (a *Attribute) Sortable() bool {
	return !a.Virtual
}
