// Package descriptor holds the in-memory catalog of entities and callables the
// runtime serves. The catalog is built once at startup and treated as
// immutable thereafter; both dispatch and document generation read from it, so
// behavior and docs agree by construction.
package descriptor

import (
	"context"
	"net/url"
	"reflect"
	"strings"

	"github.com/Afshari9978/avishan/internal/envelope"
)

// AttrType is the canonical attribute type set.
type AttrType string

const (
	TypeString   AttrType = "STRING"
	TypeInt      AttrType = "INT"
	TypeFloat    AttrType = "FLOAT"
	TypeDate     AttrType = "DATE"
	TypeTime     AttrType = "TIME"
	TypeDateTime AttrType = "DATETIME"
	TypeBoolean  AttrType = "BOOLEAN"
	TypeObject   AttrType = "OBJECT"
	TypeArray    AttrType = "ARRAY"
	TypeFile     AttrType = "FILE"
)

type noDefault struct{}

// NoDefault is the sentinel distinguishing "no default" from "default = null".
var NoDefault any = noDefault{}

// AttributeDescriptor describes one typed attribute of an entity or one typed
// argument of a callable.
type AttributeDescriptor struct {
	Name        string
	Type        AttrType
	TypeOf      string // referent entity for OBJECT, element entity or "" for ARRAY
	ElemType    AttrType
	Required    bool
	Default     any
	Choices     []string
	Description string
}

// HasDefault reports whether a default value (possibly nil) was declared.
func (a AttributeDescriptor) HasDefault() bool {
	_, sentinel := a.Default.(noDefault)
	return !sentinel
}

// Verb is the HTTP verb a callable answers to.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
)

// Instance is one hydrated entity row keyed by attribute name. OBJECT
// attributes hold a nested Instance; ARRAY-of-entity attributes hold
// []Instance.
type Instance map[string]any

// ID returns the row id of the instance, when present. Ids arrive as int64
// from bigint columns, int32 from int4 scans, and float64 from decoded JSON.
func (i Instance) ID() (int64, bool) {
	switch v := i["id"].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// CallContext carries the request-scoped inputs of one callable invocation.
type CallContext struct {
	Env      *envelope.Envelope
	Entity   *EntityDescriptor
	Instance Instance // nil for static callables
	Args     map[string]any
	Query    url.Values
}

// CallableFunc is the invocation target of a callable. Wiring-time closures
// capture the services the handler needs; only request state travels here.
type CallableFunc func(ctx context.Context, call *CallContext) (any, error)

// RawResponse lets a handler opt out of envelope serialization entirely.
type RawResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// ResponseSpec documents one structured response of a callable.
type ResponseSpec struct {
	Description string
	Fields      []AttributeDescriptor
}

// CallableDescriptor describes one directly callable method of an entity.
type CallableDescriptor struct {
	Name   string
	Static bool // classmethod vs instance method; observable in URL shape
	Verb   Verb
	Args   []AttributeDescriptor

	Authenticate bool

	RequestKey         string
	ResponseKey        string
	DismissRequestKey  bool
	DismissResponseKey bool

	HideInDocs  bool
	Responses   map[int]ResponseSpec
	Description string

	// Conventional marks the auto-attached CRUD callables executed directly
	// against the entity store; Handler is nil for those.
	Conventional bool
	Handler      CallableFunc
}

// PathTemplate renders the documented URL shape of the callable.
func (c *CallableDescriptor) PathTemplate(e *EntityDescriptor) string {
	base := "/" + e.Plural
	if !c.Static {
		base += "/{id}"
	}
	if !c.Conventional {
		base += "/" + c.Name
	}
	return base
}

// EntityDescriptor describes one persistent entity of the catalog.
type EntityDescriptor struct {
	Name   string
	Snake  string
	Plural string
	GoType reflect.Type

	Attributes []AttributeDescriptor
	Callables  []*CallableDescriptor

	PrivateFields []string
	CompactFields []string

	// Storable entities get the conventional CRUD surface backed by the
	// entity store. Auth-owned tables opt out and expose explicit callables.
	Storable    bool
	Description string
}

// Attribute finds an attribute by name.
func (e *EntityDescriptor) Attribute(name string) (*AttributeDescriptor, bool) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			return &e.Attributes[i], true
		}
	}
	return nil, false
}

// FindCallable matches a method segment and verb against registered callables.
func (e *EntityDescriptor) FindCallable(name string, verb Verb) (*CallableDescriptor, bool) {
	for _, c := range e.Callables {
		if c.Name == name && c.Verb == verb {
			return c, true
		}
	}
	return nil, false
}

// ConventionalCallable picks the CRUD callable a bare verb maps to: GET
// without id is "all", GET with id is "get", POST "create", PUT "update",
// DELETE "remove".
func (e *EntityDescriptor) ConventionalCallable(verb Verb, hasID bool) (*CallableDescriptor, bool) {
	name := ""
	switch verb {
	case VerbGet:
		if hasID {
			name = "get"
		} else {
			name = "all"
		}
	case VerbPost:
		name = "create"
	case VerbPut:
		name = "update"
	case VerbDelete:
		name = "remove"
	}
	if name == "" {
		return nil, false
	}
	return e.FindCallable(name, verb)
}

// AllowedMethods lists the conventional method names actually defined on the
// entity, advertised on 405 responses.
func (e *EntityDescriptor) AllowedMethods() []string {
	conventional := []string{"get", "post", "put", "delete"}
	verbs := map[string]Verb{"get": VerbGet, "post": VerbPost, "put": VerbPut, "delete": VerbDelete}
	allowed := make([]string, 0, len(conventional))
	for _, name := range conventional {
		verb := verbs[name]
		found := false
		for _, c := range e.Callables {
			if c.Conventional && c.Verb == verb {
				found = true
				break
			}
		}
		if found {
			allowed = append(allowed, name)
		}
	}
	return allowed
}

// IsPrivate reports whether the attribute is hidden from serialized output.
func (e *EntityDescriptor) IsPrivate(field string) bool {
	return contains(e.PrivateFields, field)
}

// IsCompact reports whether the attribute survives compact (embedded) serialization.
func (e *EntityDescriptor) IsCompact(field string) bool {
	if len(e.CompactFields) == 0 {
		return field == "id"
	}
	return field == "id" || contains(e.CompactFields, field)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DefaultRequestKey derives the request_json_key from the entity name.
func DefaultRequestKey(name string) string {
	return Snake(name)
}

// Snake converts CamelCase to snake_case.
func Snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Pluralize derives the URL segment from a snake_case name.
func Pluralize(snake string) string {
	switch {
	case strings.HasSuffix(snake, "y") && !strings.HasSuffix(snake, "ey"):
		return snake[:len(snake)-1] + "ies"
	case strings.HasSuffix(snake, "s"), strings.HasSuffix(snake, "x"),
		strings.HasSuffix(snake, "z"), strings.HasSuffix(snake, "ch"),
		strings.HasSuffix(snake, "sh"):
		return snake + "es"
	default:
		return snake + "s"
	}
}
