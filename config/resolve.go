package config

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/privacy"
	"github.com/syssam/veloql/scalar"
)

// Diagnostic reports a declaration that was dropped or corrected during
// resolution.
type Diagnostic struct {
	Entity  string
	Field   string
	Message string
}

// String implements fmt.Stringer.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Entity != "" {
		b.WriteString(d.Entity)
		if d.Field != "" {
			b.WriteByte('.')
			b.WriteString(d.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// Diagnostics is the list of problems of one resolution.
type Diagnostics []Diagnostic

// Err returns the diagnostics joined into one error, or nil when there are
// none. Callers wanting fail-fast startup return it.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	errs := make([]error, len(ds))
	for i, d := range ds {
		errs[i] = errors.New("config: " + d.String())
	}
	return errors.Join(errs...)
}

// Option configures resolution.
type Option func(*resolver)

// WithLogger logs every diagnostic at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(r *resolver) {
		if l != nil {
			r.log = l
		}
	}
}

var (
	nameRE   = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)
	reserved = []string{veloql.FieldID, veloql.FieldCreatedAt, veloql.FieldUpdatedAt, veloql.FieldTypename}
)

type resolver struct {
	cfg    *Config
	m      *model.Model
	log    *zap.Logger
	diags  Diagnostics
	order  []*model.Entity
	config map[*model.Entity]*EntityConfig
}

// Resolve builds the canonical model from cfg. It never fails as a whole:
// malformed declarations are dropped and reported in the returned
// diagnostics.
func Resolve(cfg *Config, opts ...Option) (*model.Model, Diagnostics) {
	r := &resolver{
		cfg:    cfg,
		m:      model.New(),
		log:    zap.NewNop(),
		config: make(map[*model.Entity]*EntityConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg == nil {
		return r.m, nil
	}
	r.enums()
	for _, name := range sortedKeys(cfg.Entities) {
		r.declare(name, cfg.Entities[name])
	}
	for _, e := range r.order {
		r.attributes(e, r.config[e])
	}
	for _, e := range r.order {
		r.polymorphism(e, r.config[e])
	}
	for _, e := range r.order {
		ec := r.config[e]
		e.AssocTo = r.associations(e, model.AssocTo, ec.AssocTo)
		e.AssocToMany = r.associations(e, model.AssocToMany, ec.AssocToMany)
		e.AssocFrom = r.associations(e, model.AssocFrom, ec.AssocFrom)
	}
	for _, e := range r.order {
		r.inherit(e)
	}
	for _, e := range r.order {
		ec := r.config[e]
		r.operationToggles(e, ec)
		r.permissions(e, ec)
		r.seeds(e, ec)
	}
	r.m.Queries = r.operations("query", cfg.Queries, true)
	r.m.Mutations = r.operations("mutation", cfg.Mutations, true)
	r.m.Subscriptions = r.operations("subscription", cfg.Subscriptions, false)
	return r.m, r.diags
}

func (r *resolver) diag(entity, field, format string, args ...any) {
	d := Diagnostic{Entity: entity, Field: field, Message: fmt.Sprintf(format, args...)}
	r.diags = append(r.diags, d)
	r.log.Warn("configuration problem",
		zap.String("entity", entity),
		zap.String("field", field),
		zap.String("problem", d.Message),
	)
}

func (r *resolver) enums() {
	for _, name := range sortedKeys(r.cfg.Enums) {
		en := &model.Enum{Name: model.Pascal(name)}
		switch v := r.cfg.Enums[name].(type) {
		case []string:
			en.Values = slices.Clone(v)
		case []any:
			for _, x := range v {
				en.Values = append(en.Values, fmt.Sprint(x))
			}
		case map[string]any:
			en.Labels = make(map[string]string, len(v))
			for _, k := range sortedKeys(v) {
				en.Values = append(en.Values, k)
				en.Labels[k] = fmt.Sprint(v[k])
			}
		case map[string]string:
			en.Labels = make(map[string]string, len(v))
			for _, k := range sortedKeys(v) {
				en.Values = append(en.Values, k)
				en.Labels[k] = v[k]
			}
		default:
			r.diag(name, "", "enum must be a list of values or a value map, got %T", v)
			continue
		}
		en.Values = slices.DeleteFunc(en.Values, func(v string) bool {
			if nameRE.MatchString(v) && v != "true" && v != "false" && v != "null" {
				return false
			}
			r.diag(name, v, "invalid enum value dropped")
			return true
		})
		if len(en.Values) == 0 {
			r.diag(name, "", "enum without values dropped")
			continue
		}
		if err := r.m.AddEnum(en); err != nil {
			r.diag(name, "", "enum dropped: %v", err)
		}
	}
}

func (r *resolver) declare(name string, ec *EntityConfig) {
	if ec == nil {
		r.diag(name, "", "empty entity declaration dropped")
		return
	}
	if !nameRE.MatchString(model.Pascal(name)) {
		r.diag(name, "", "invalid entity name dropped")
		return
	}
	e := &model.Entity{
		Name: name,
		Names: model.DeriveNames(name, model.Names{
			TypeName:       ec.TypeName,
			Singular:       ec.Singular,
			Plural:         ec.Plural,
			Collection:     ec.Collection,
			Path:           ec.Path,
			ForeignKey:     ec.ForeignKey,
			ForeignKeys:    ec.ForeignKeys,
			CreateInput:    ec.CreateInput,
			UpdateInput:    ec.UpdateInput,
			Filter:         ec.Filter,
			Sorter:         ec.Sorter,
			TypesEnum:      ec.TypesEnum,
			MutationResult: ec.MutationResult,
			CreateMutation: ec.CreateMutation,
			UpdateMutation: ec.UpdateMutation,
			DeleteMutation: ec.DeleteMutation,
			TypeQuery:      ec.TypeQuery,
			TypesQuery:     ec.TypesQuery,
			StatsQuery:     ec.StatsQuery,
		}),
		Description:   ec.Description,
		Interface:     ec.Interface,
		Subscriptions: ec.Subscriptions,
		Hooks:         ec.Hooks,
		Validate:      ec.Validate,
	}
	if len(ec.Union) > 0 {
		if ec.Interface {
			r.diag(name, "", "an entity is either a union or an interface, interface flag ignored")
			e.Interface = false
		}
		for _, member := range ec.Union {
			if _, ok := r.cfg.Entities[member]; !ok {
				r.diag(name, member, "unknown union member dropped")
				continue
			}
			e.Union = append(e.Union, member)
		}
		if len(e.Union) == 0 {
			r.diag(name, "", "union without members dropped")
			return
		}
	}
	if err := r.m.AddEntity(e); err != nil {
		r.diag(name, "", "entity dropped: %v", err)
		return
	}
	r.order = append(r.order, e)
	r.config[e] = ec
}

func (r *resolver) attributes(e *model.Entity, ec *EntityConfig) {
	if e.IsUnion() && len(ec.Attributes) > 0 {
		r.diag(e.Name, "", "attributes of a union are ignored")
		return
	}
	for _, name := range attributeOrder(ec) {
		switch {
		case slices.Contains(reserved, name):
			r.diag(e.Name, name, "reserved attribute name, attribute dropped")
			continue
		case !nameRE.MatchString(name):
			r.diag(e.Name, name, "invalid attribute name, attribute dropped")
			continue
		}
		a, err := r.attribute(e, name, ec.Attributes[name])
		if err != nil {
			r.diag(e.Name, name, "attribute dropped: %v", err)
			continue
		}
		e.AddAttribute(a)
	}
	for _, a := range e.Attributes {
		if a.UniqueScope == "" {
			continue
		}
		if e.Attribute(a.UniqueScope) == nil {
			r.diag(e.Name, a.Name, "unknown unique scope %q, uniqueness is entity wide", a.UniqueScope)
			a.UniqueScope = ""
		}
	}
}

func attributeOrder(ec *EntityConfig) []string {
	var names []string
	seen := make(map[string]bool, len(ec.Attributes))
	for _, n := range ec.AttributeOrder {
		if _, ok := ec.Attributes[n]; ok && !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	for _, n := range sortedKeys(ec.Attributes) {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

func (r *resolver) attribute(e *model.Entity, name string, decl any) (*model.Attribute, error) {
	var ac Attribute
	switch d := decl.(type) {
	case string:
		ac.Type = d
	case []any:
		// YAML reads an unquoted [String] as a one element list.
		s, ok := listShorthand(d)
		if !ok {
			return nil, fmt.Errorf("unsupported list declaration %v", d)
		}
		ac.Type = s
	case Attribute:
		ac = d
	case *Attribute:
		if d == nil {
			return nil, errors.New("nil declaration")
		}
		ac = *d
	case map[string]any:
		if err := r.decodeAttribute(e, name, d, &ac); err != nil {
			return nil, err
		}
	case nil:
		return nil, errors.New("missing type")
	default:
		return nil, fmt.Errorf("unsupported declaration %T", decl)
	}
	t, err := parseTypeExpr(ac.Type)
	if err != nil {
		return nil, err
	}
	kind, media, ok := attributeKind(t.Name, r.m)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", t.Name)
	}
	a := &model.Attribute{
		Name:        name,
		Type:        kind,
		Required:    ac.Required || t.Required || t.ItemRequired,
		List:        ac.List || t.List,
		Virtual:     ac.Virtual,
		Default:     ac.Default,
		DefaultFunc: ac.DefaultFunc,
		Resolve:     ac.Resolve,
		MediaType:   media,
		Validation:  ac.Validation,
		QueryBy:     ac.QueryBy,
		Description: ac.Description,
	}
	if kind == scalar.File && ac.MediaType != "" {
		a.MediaType = strings.ToLower(ac.MediaType)
	}
	switch u := ac.Unique.(type) {
	case nil:
	case bool:
		a.Unique = u
	case string:
		a.Unique = u != "" && u != "false"
		if a.Unique && u != "true" {
			a.UniqueScope = u
		}
	default:
		r.diag(e.Name, name, "unique must be a bool or an attribute name, got %T", u)
	}
	stored := !a.Virtual
	a.CreateInput = deref(ac.CreateInput, stored)
	a.UpdateInput = deref(ac.UpdateInput, stored)
	a.ObjectTypeField = deref(ac.ObjectTypeField, true)
	if kind == typeKey {
		a.Type = scalar.String
		a.Key = true
		a.Required = true
		a.Unique = true
		a.UpdateInput = false
	}
	if a.Virtual && (a.CreateInput || a.UpdateInput) {
		r.diag(e.Name, name, "virtual attributes are never input, input visibility ignored")
		a.CreateInput, a.UpdateInput = false, false
	}
	a.FilterType = r.filterType(e, a, ac.FilterType)
	return a, nil
}

// filterType applies the filter type defaulting: stored filterable
// attributes get <Type>Filter unless suppressed or overridden.
func (r *resolver) filterType(e *model.Entity, a *model.Attribute, decl any) string {
	if a.Virtual || !scalar.Filterable(a.Type) {
		return ""
	}
	def := a.Type + "Filter"
	if en := r.m.Enum(a.Type); en != nil {
		def = en.FilterName()
	}
	switch ft := decl.(type) {
	case nil:
		return def
	case bool:
		if ft {
			return def
		}
		return ""
	case string:
		switch ft {
		case "", "true":
			return def
		case "false":
			return ""
		}
		return ft
	default:
		r.diag(e.Name, a.Name, "filterType must be false or a name, got %T", ft)
		return def
	}
}

func (r *resolver) decodeAttribute(e *model.Entity, name string, m map[string]any, ac *Attribute) error {
	for _, k := range sortedKeys(m) {
		v := m[k]
		var ok = true
		switch k {
		case "type":
			ac.Type, ok = v.(string)
		case "required":
			ac.Required, ok = asBool(v)
		case "list":
			ac.List, ok = asBool(v)
		case "unique":
			ac.Unique = v
		case "virtual":
			ac.Virtual, ok = asBool(v)
		case "createInput":
			ac.CreateInput, ok = asBoolPtr(v)
		case "updateInput":
			ac.UpdateInput, ok = asBoolPtr(v)
		case "objectTypeField":
			ac.ObjectTypeField, ok = asBoolPtr(v)
		case "filterType":
			ac.FilterType = v
		case "defaultValue", "default":
			switch fn := v.(type) {
			case model.DefaultFunc:
				ac.DefaultFunc = fn
			case func(context.Context, veloql.Item, model.Services) (any, error):
				ac.DefaultFunc = fn
			default:
				ac.Default = v
			}
		case "resolve":
			switch fn := v.(type) {
			case model.AttributeResolveFunc:
				ac.Resolve = fn
			case func(context.Context, veloql.Item, model.Services) (any, error):
				ac.Resolve = fn
			default:
				ok = false
			}
		case "mediaType":
			ac.MediaType, ok = v.(string)
		case "validation":
			ac.Validation, ok = v.(string)
		case "queryBy":
			ac.QueryBy, ok = asBool(v)
		case "description":
			ac.Description, ok = v.(string)
		default:
			r.diag(e.Name, name, "unknown attribute key %q ignored", k)
		}
		if !ok {
			return fmt.Errorf("invalid value %v for %q", v, k)
		}
	}
	if ac.Type == "" {
		return errors.New("missing type")
	}
	return nil
}

func (r *resolver) polymorphism(e *model.Entity, ec *EntityConfig) {
	var names []string
	switch v := ec.Implements.(type) {
	case nil:
	case string:
		names = []string{v}
	case []string:
		names = v
	case []any:
		for _, x := range v {
			names = append(names, fmt.Sprint(x))
		}
	default:
		r.diag(e.Name, "", "implements must be a name or a list of names, got %T", v)
	}
	for _, n := range names {
		iface := r.m.Entity(n)
		switch {
		case iface == nil:
			r.diag(e.Name, n, "unknown interface dropped")
		case !iface.Interface:
			r.diag(e.Name, n, "entity %q is not an interface, dropped", n)
		case iface == e:
			r.diag(e.Name, n, "an interface cannot implement itself")
		default:
			e.Implements = append(e.Implements, iface.Name)
		}
	}
	if e.IsPolymorphic() && len(e.Implements) > 0 {
		r.diag(e.Name, "", "polymorphic entities cannot implement interfaces, implements ignored")
		e.Implements = nil
	}
}

func (r *resolver) associations(e *model.Entity, kind model.AssocKind, raw any) []*model.Association {
	decls, err := assocDecls(raw)
	if err != nil {
		r.diag(e.Name, kind.String(), "associations dropped: %v", err)
		return nil
	}
	if len(decls) > 0 && e.IsUnion() {
		r.diag(e.Name, kind.String(), "associations of a union are ignored")
		return nil
	}
	var out []*model.Association
	for _, d := range decls {
		target := r.m.Entity(d.Type)
		if target == nil {
			r.diag(e.Name, d.Type, "unknown %s target, association dropped", kind)
			continue
		}
		a := &model.Association{
			Kind:        kind,
			Type:        target.Name,
			Target:      target,
			Required:    d.Required,
			Input:       d.Input,
			Description: d.Description,
		}
		if p := model.DeletePolicy(strings.ToLower(d.Delete)); p != model.DeleteNone {
			switch {
			case kind != model.AssocFrom:
				r.diag(e.Name, a.Field(), "delete policies apply to assocFrom only, ignored")
			case !p.Valid():
				r.diag(e.Name, a.Field(), "unknown delete policy %q ignored", d.Delete)
			default:
				a.Delete = p
			}
		}
		if kind != model.AssocTo && a.Input {
			r.diag(e.Name, a.Field(), "inline input applies to assocTo only, ignored")
			a.Input = false
		}
		if a.Input && a.Polymorphic() {
			r.diag(e.Name, a.Field(), "inline input of a polymorphic target is not supported, ignored")
			a.Input = false
		}
		if kind == model.AssocFrom {
			a.Required = false
		}
		if clash := r.assocClash(e, a, out); clash != "" {
			r.diag(e.Name, a.Field(), "association dropped: %s", clash)
			continue
		}
		out = append(out, a)
	}
	return out
}

// assocClash reports a name used by a's field or stored keys and by an
// attribute or an association declared before it.
func (r *resolver) assocClash(e *model.Entity, a *model.Association, declared []*model.Association) string {
	names := []string{a.Field(), a.ForeignKey(), a.TypeField()}
	for _, n := range names {
		if n == "" {
			continue
		}
		if e.Attribute(n) != nil {
			return fmt.Sprintf("name %q is used by an attribute", n)
		}
	}
	for _, prev := range slices.Concat(e.AssocTo, e.AssocToMany, declared) {
		if prev.Field() == a.Field() {
			return fmt.Sprintf("field %q is used by another association", a.Field())
		}
	}
	return ""
}

func assocDecls(raw any) ([]Association, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		t, err := parseTypeExpr(v)
		if err != nil {
			return nil, err
		}
		return []Association{{Type: t.Name, Required: t.Required}}, nil
	case Association:
		return []Association{v}, nil
	case *Association:
		if v == nil {
			return nil, nil
		}
		return []Association{*v}, nil
	case []Association:
		return v, nil
	case []string:
		var out []Association
		for _, s := range v {
			d, err := assocDecls(s)
			if err != nil {
				return nil, err
			}
			out = append(out, d...)
		}
		return out, nil
	case []any:
		var out []Association
		for _, x := range v {
			d, err := assocDecls(x)
			if err != nil {
				return nil, err
			}
			out = append(out, d...)
		}
		return out, nil
	case map[string]any:
		var d Association
		for k, x := range v {
			var ok = true
			switch k {
			case "type":
				d.Type, ok = x.(string)
			case "required":
				d.Required, ok = asBool(x)
			case "input":
				d.Input, ok = asBool(x)
			case "delete":
				d.Delete, ok = x.(string)
			case "description":
				d.Description, ok = x.(string)
			default:
				return nil, fmt.Errorf("unknown association key %q", k)
			}
			if !ok {
				return nil, fmt.Errorf("invalid value %v for %q", x, k)
			}
		}
		if d.Type == "" {
			return nil, errors.New("association without type")
		}
		if t, err := parseTypeExpr(d.Type); err == nil {
			d.Type = t.Name
			d.Required = d.Required || t.Required
		}
		return []Association{d}, nil
	}
	return nil, fmt.Errorf("unsupported association declaration %T", raw)
}

// inherit merges the attributes and associations of the implemented
// interfaces into e. Own declarations win.
func (r *resolver) inherit(e *model.Entity) {
	for _, n := range e.Implements {
		iface := r.m.Entity(n)
		for _, a := range iface.Attributes {
			if e.Attribute(a.Name) == nil {
				c := *a
				e.AddAttribute(&c)
			}
		}
		for _, a := range iface.AssocTo {
			if e.Association(a.Field()) == nil {
				e.AssocTo = append(e.AssocTo, a.Clone())
			}
		}
		for _, a := range iface.AssocToMany {
			if e.Association(a.Field()) == nil {
				e.AssocToMany = append(e.AssocToMany, a.Clone())
			}
		}
		for _, a := range iface.AssocFrom {
			if e.Association(a.Field()) == nil {
				e.AssocFrom = append(e.AssocFrom, a.Clone())
			}
		}
	}
}

func (r *resolver) operationToggles(e *model.Entity, ec *EntityConfig) {
	e.Operations = ec.Operations
	for _, op := range ec.Disable {
		switch op {
		case "create":
			e.Operations.Create.Disabled = true
		case "update":
			e.Operations.Update.Disabled = true
		case "delete":
			e.Operations.Delete.Disabled = true
		case "typeQuery":
			e.Operations.TypeQuery.Disabled = true
		case "typesQuery":
			e.Operations.TypesQuery.Disabled = true
		case "statsQuery":
			e.Operations.StatsQuery.Disabled = true
		default:
			r.diag(e.Name, op, "unknown operation in disable list ignored")
		}
	}
}

func (r *resolver) permissions(e *model.Entity, ec *EntityConfig) {
	switch p := ec.Permissions.(type) {
	case nil:
	case *privacy.Policy:
		e.Permissions = p
	case privacy.Policy:
		e.Permissions = &p
	case privacy.Policies:
		e.Permissions = p.Policy()
	case Permissions:
		e.Permissions = privacy.RolePolicy(p.Read, p.Save, p.Delete)
	case *Permissions:
		e.Permissions = privacy.RolePolicy(p.Read, p.Save, p.Delete)
	case map[string]any:
		var roles Permissions
		for k, v := range p {
			list, ok := asStrings(v)
			if !ok {
				r.diag(e.Name, "permissions", "roles of %q must be a name or a list of names", k)
				continue
			}
			switch k {
			case "read":
				roles.Read = list
			case "save":
				roles.Save = list
			case "delete":
				roles.Delete = list
			default:
				r.diag(e.Name, "permissions", "unknown permission group %q ignored", k)
			}
		}
		e.Permissions = privacy.RolePolicy(roles.Read, roles.Save, roles.Delete)
	default:
		r.diag(e.Name, "permissions", "unsupported permissions %T ignored", p)
	}
}

func (r *resolver) seeds(e *model.Entity, ec *EntityConfig) {
	if len(ec.Seeds) == 0 {
		return
	}
	if e.IsPolymorphic() {
		r.diag(e.Name, "seeds", "seeds of a polymorphic entity are ignored")
		return
	}
	e.Seeds = make(map[string]veloql.Item, len(ec.Seeds))
	for name, seed := range ec.Seeds {
		e.Seeds[name] = veloql.Item(seed)
	}
}

func (r *resolver) operations(kind string, ops map[string]*OperationConfig, needResolve bool) []*model.Operation {
	var out []*model.Operation
	for _, name := range sortedKeys(ops) {
		oc := ops[name]
		if oc == nil || !nameRE.MatchString(name) {
			r.diag("", name, "invalid custom %s dropped", kind)
			continue
		}
		if needResolve && oc.Resolve == nil {
			r.diag("", name, "custom %s without resolve function dropped", kind)
			continue
		}
		op := &model.Operation{Name: name, Resolve: oc.Resolve, Topic: oc.Topic, Description: oc.Description}
		if op.Topic == "" && kind == "subscription" {
			op.Topic = name
		}
		t, err := resolveTypeRef(oc.Type, r.m)
		if err != nil {
			r.diag("", name, "custom %s dropped: %v", kind, err)
			continue
		}
		op.Type = t
		valid := true
		for _, arg := range sortedKeys(oc.Args) {
			t, err := resolveTypeRef(oc.Args[arg], r.m)
			if err != nil || !nameRE.MatchString(arg) {
				r.diag("", name, "custom %s dropped: argument %q: %v", kind, arg, err)
				valid = false
				break
			}
			op.Args = append(op.Args, model.Arg{Name: arg, Type: t})
		}
		if valid {
			out = append(out, op)
		}
	}
	return out
}

func listShorthand(l []any) (string, bool) {
	if len(l) != 1 {
		return "", false
	}
	s, ok := l[0].(string)
	return "[" + s + "]", ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "yes":
			return true, true
		case "false", "no", "":
			return false, true
		}
	}
	return false, false
}

func asBoolPtr(v any) (*bool, bool) {
	b, ok := asBool(v)
	if !ok {
		return nil, false
	}
	return &b, true
}

func asStrings(v any) ([]string, bool) {
	switch l := v.(type) {
	case string:
		return []string{l}, true
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
