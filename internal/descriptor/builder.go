package descriptor

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Definition is the host-supplied declaration of one entity.
type Definition struct {
	// Target is a zero value of the entity's Go struct; attributes are
	// reflected from its fields unless Attributes overrides them.
	Target any

	Name   string // defaults to the struct type name
	Plural string // defaults to Pluralize(Snake(Name))

	Attributes []AttributeDescriptor // explicit override, skips reflection
	Callables  []*CallableDescriptor

	PrivateFields []string
	CompactFields []string

	Storable    bool
	Description string
}

// Registry accumulates definitions before the one-time Build at startup.
type Registry struct {
	definitions []Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register queues an entity definition. Errors surface from Build, never at
// request time.
func (r *Registry) Register(def Definition) *Registry {
	r.definitions = append(r.definitions, def)
	return r
}

// Project is the immutable catalog produced by Build. Readers need no
// synchronization.
type Project struct {
	byName   map[string]*EntityDescriptor
	byPlural map[string]*EntityDescriptor
	ordered  []*EntityDescriptor
}

// Entity resolves an entity by name.
func (p *Project) Entity(name string) (*EntityDescriptor, bool) {
	e, ok := p.byName[name]
	return e, ok
}

// EntityByPlural resolves the URL segment to its entity.
func (p *Project) EntityByPlural(plural string) (*EntityDescriptor, bool) {
	e, ok := p.byPlural[plural]
	return e, ok
}

// Entities returns the catalog in registration order.
func (p *Project) Entities() []*EntityDescriptor {
	return p.ordered
}

// Build reflects every definition into a descriptor, resolves cross-entity
// references, attaches conventional CRUD callables to storable entities, and
// freezes the catalog. Any failure here is a startup error.
func (r *Registry) Build() (*Project, error) {
	p := &Project{
		byName:   make(map[string]*EntityDescriptor),
		byPlural: make(map[string]*EntityDescriptor),
	}

	// First pass: names only, so OBJECT references can resolve in any order.
	types := make(map[reflect.Type]string)
	for i := range r.definitions {
		def := &r.definitions[i]
		t, err := structType(def.Target)
		if err != nil {
			return nil, fmt.Errorf("register entity %d: %w", i, err)
		}
		name := def.Name
		if name == "" {
			name = t.Name()
		}
		if name == "" {
			return nil, fmt.Errorf("register entity %d: anonymous struct requires an explicit name", i)
		}
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", name)
		}
		snake := Snake(name)
		plural := def.Plural
		if plural == "" {
			plural = Pluralize(snake)
		}
		if _, dup := p.byPlural[plural]; dup {
			return nil, fmt.Errorf("duplicate plural segment %q", plural)
		}

		e := &EntityDescriptor{
			Name:          name,
			Snake:         snake,
			Plural:        plural,
			GoType:        t,
			PrivateFields: def.PrivateFields,
			CompactFields: def.CompactFields,
			Storable:      def.Storable,
			Description:   def.Description,
		}
		p.byName[name] = e
		p.byPlural[plural] = e
		p.ordered = append(p.ordered, e)
		types[t] = name
	}

	// Second pass: attributes and callables.
	for i := range r.definitions {
		def := &r.definitions[i]
		e := p.ordered[i]

		if def.Attributes != nil {
			e.Attributes = def.Attributes
		} else {
			attrs, err := reflectAttributes(e.GoType, types)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", e.Name, err)
			}
			e.Attributes = attrs
		}

		for _, a := range e.Attributes {
			if (a.Type == TypeObject || (a.Type == TypeArray && a.ElemType == TypeObject)) && a.TypeOf != "" {
				if _, known := p.byName[a.TypeOf]; !known {
					return nil, fmt.Errorf("entity %q: attribute %q references unknown entity %q", e.Name, a.Name, a.TypeOf)
				}
			}
		}

		for _, c := range def.Callables {
			if err := normalizeCallable(c, e); err != nil {
				return nil, fmt.Errorf("entity %q: %w", e.Name, err)
			}
			e.Callables = append(e.Callables, c)
		}

		if def.Storable {
			attachConventional(e)
		}
	}

	return p, nil
}

// MustBuild is Build for wiring paths where a broken catalog is fatal.
func (r *Registry) MustBuild() *Project {
	p, err := r.Build()
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeCallable(c *CallableDescriptor, e *EntityDescriptor) error {
	if c.Name == "" {
		return fmt.Errorf("callable without a name")
	}
	switch c.Verb {
	case VerbGet, VerbPost, VerbPut, VerbDelete:
	case "":
		c.Verb = VerbPost
	default:
		return fmt.Errorf("callable %q: unsupported verb %q", c.Name, c.Verb)
	}
	if c.Handler == nil && !c.Conventional {
		return fmt.Errorf("callable %q: handler is required", c.Name)
	}
	if c.RequestKey == "" {
		c.RequestKey = e.Snake
	}
	if c.ResponseKey == "" {
		c.ResponseKey = e.Snake
	}
	for i := range c.Args {
		// A literal nil means the host declared nothing; NoDefault keeps that
		// distinct from an explicit "default = null".
		if c.Args[i].Default == nil {
			c.Args[i].Default = NoDefault
		}
	}
	return nil
}

func attachConventional(e *EntityDescriptor) {
	conventional := []struct {
		name   string
		verb   Verb
		static bool
		plural bool
	}{
		{"all", VerbGet, true, true},
		{"get", VerbGet, false, false},
		{"create", VerbPost, true, false},
		{"update", VerbPut, false, false},
		{"remove", VerbDelete, false, false},
	}

	for _, conv := range conventional {
		if _, exists := e.FindCallable(conv.name, conv.verb); exists {
			continue
		}
		cd := &CallableDescriptor{
			Name:         conv.name,
			Static:       conv.static,
			Verb:         conv.verb,
			Conventional: true,
			Authenticate: true,
			RequestKey:   e.Snake,
			ResponseKey:  e.Snake,
		}
		if conv.plural {
			cd.ResponseKey = e.Plural
		}
		if conv.name == "create" || conv.name == "update" {
			cd.Args = writableArgs(e, conv.name == "create")
		}
		e.Callables = append(e.Callables, cd)
	}
}

// writableArgs derives the body argument list of create/update from the
// entity's own attributes. Updates never require fields.
func writableArgs(e *EntityDescriptor, create bool) []AttributeDescriptor {
	args := make([]AttributeDescriptor, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		if a.Name == "id" || a.Name == "date_created" {
			continue
		}
		arg := a
		if !create {
			arg.Required = false
		}
		args = append(args, arg)
	}
	return args
}

func structType(target any) (reflect.Type, error) {
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}
	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("target must be a struct, got %s", t.Kind())
	}
	return t, nil
}

var timeType = reflect.TypeOf(time.Time{})

// reflectAttributes infers the attribute list from struct fields. Resolution
// order per field type: the literal type table, a registered entity match,
// the element type of a slice. Anything else fails the build.
func reflectAttributes(t reflect.Type, entities map[reflect.Type]string) ([]AttributeDescriptor, error) {
	attrs := make([]AttributeDescriptor, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := parseTag(field.Tag.Get("model"))
		if tag.skip {
			continue
		}

		name := tag.name
		if name == "" {
			name = Snake(field.Name)
		}

		ft := field.Type
		required := true
		if ft.Kind() == reflect.Pointer {
			required = false
			ft = ft.Elem()
		}

		attr := AttributeDescriptor{
			Name:        name,
			Required:    required,
			Default:     NoDefault,
			Choices:     tag.choices,
			Description: tag.description,
		}
		if tag.optional {
			attr.Required = false
		}
		if tag.hasDefault {
			attr.Default = tag.defaultValue
			attr.Required = false
		}

		resolved, err := resolveType(ft, tag, entities, &attr)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		attr.Type = resolved

		if name == "id" || name == "date_created" {
			attr.Required = false
		}

		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func resolveType(ft reflect.Type, tag fieldTag, entities map[reflect.Type]string, attr *AttributeDescriptor) (AttrType, error) {
	// Literal type table.
	switch ft.Kind() {
	case reflect.String:
		return TypeString, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	case reflect.Bool:
		return TypeBoolean, nil
	}

	if ft == timeType {
		switch tag.kind {
		case "date":
			return TypeDate, nil
		case "time":
			return TypeTime, nil
		default:
			return TypeDateTime, nil
		}
	}

	// Registered entity match.
	if name, ok := entities[ft]; ok {
		attr.TypeOf = name
		return TypeObject, nil
	}

	// Element type of a parameterized collection.
	if ft.Kind() == reflect.Slice {
		elem := ft.Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		var elemAttr AttributeDescriptor
		elemType, err := resolveType(elem, fieldTag{}, entities, &elemAttr)
		if err != nil {
			return "", fmt.Errorf("slice element: %w", err)
		}
		if elemType == TypeArray {
			return "", fmt.Errorf("nested arrays are not supported")
		}
		attr.ElemType = elemType
		attr.TypeOf = elemAttr.TypeOf
		return TypeArray, nil
	}

	if tag.kind == "file" {
		return TypeFile, nil
	}

	return "", fmt.Errorf("cannot infer attribute type for %s", ft)
}

type fieldTag struct {
	name         string
	kind         string
	skip         bool
	optional     bool
	hasDefault   bool
	defaultValue any
	choices      []string
	description  string
}

// parseTag reads the `model` struct tag:
//
//	model:"-"                          skip the field
//	model:"title"                      rename
//	model:",optional"                  not required
//	model:",kind=date"                 force DATE/TIME/FILE for ambiguous Go types
//	model:",default=foo"               declared default (string form)
//	model:",choices=a|b|c"             enumerated values
func parseTag(raw string) fieldTag {
	var tag fieldTag
	if raw == "" {
		return tag
	}
	if raw == "-" {
		tag.skip = true
		return tag
	}

	parts := strings.Split(raw, ",")
	tag.name = parts[0]
	for _, part := range parts[1:] {
		switch {
		case part == "optional":
			tag.optional = true
		case strings.HasPrefix(part, "kind="):
			tag.kind = strings.TrimPrefix(part, "kind=")
		case strings.HasPrefix(part, "default="):
			tag.hasDefault = true
			tag.defaultValue = strings.TrimPrefix(part, "default=")
		case strings.HasPrefix(part, "choices="):
			tag.choices = strings.Split(strings.TrimPrefix(part, "choices="), "|")
		case strings.HasPrefix(part, "desc="):
			tag.description = strings.TrimPrefix(part, "desc=")
		}
	}
	return tag
}
