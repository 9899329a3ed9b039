package dispatch

import (
	"time"

	"github.com/Afshari9978/avishan/internal/descriptor"
)

// Serializer renders hydrated instances to wire dicts per the attribute list.
type Serializer struct {
	catalog *descriptor.Project
}

// NewSerializer builds a serializer over the catalog.
func NewSerializer(catalog *descriptor.Project) *Serializer {
	return &Serializer{catalog: catalog}
}

// Serialize renders one instance in full form. Attributes in private_fields
// stay hidden unless the caller whitelisted them by name.
func (s *Serializer) Serialize(e *descriptor.EntityDescriptor, instance descriptor.Instance, whitelist []string) map[string]any {
	return s.serialize(e, instance, false, whitelist)
}

// SerializeCompact renders the embedded form: id plus compact_fields only.
func (s *Serializer) SerializeCompact(e *descriptor.EntityDescriptor, instance descriptor.Instance) map[string]any {
	return s.serialize(e, instance, true, nil)
}

func (s *Serializer) serialize(e *descriptor.EntityDescriptor, instance descriptor.Instance, compact bool, whitelist []string) map[string]any {
	if instance == nil {
		return nil
	}

	out := make(map[string]any, len(e.Attributes))
	for _, a := range e.Attributes {
		if compact && !e.IsCompact(a.Name) {
			continue
		}
		if e.IsPrivate(a.Name) && !whitelisted(whitelist, a.Name) {
			continue
		}

		value, present := instance[a.Name]
		if !present {
			continue
		}
		out[a.Name] = s.serializeValue(a, value)
	}
	return out
}

func (s *Serializer) serializeValue(a descriptor.AttributeDescriptor, value any) any {
	if value == nil {
		return nil
	}

	switch a.Type {
	case descriptor.TypeDate:
		if t, ok := asTime(value); ok {
			return dateDict(t)
		}
	case descriptor.TypeDateTime:
		if t, ok := asTime(value); ok {
			return datetimeDict(t)
		}
	case descriptor.TypeTime:
		if t, ok := asTime(value); ok {
			return timeDict(t)
		}
	case descriptor.TypeObject:
		if nested, ok := value.(descriptor.Instance); ok {
			if referent, known := s.catalog.Entity(a.TypeOf); known {
				return s.SerializeCompact(referent, nested)
			}
		}
		if nested, ok := value.(map[string]any); ok {
			if referent, known := s.catalog.Entity(a.TypeOf); known {
				return s.SerializeCompact(referent, descriptor.Instance(nested))
			}
		}
	case descriptor.TypeArray:
		if a.TypeOf != "" {
			referent, known := s.catalog.Entity(a.TypeOf)
			if !known {
				return value
			}
			if list, ok := value.([]descriptor.Instance); ok {
				out := make([]map[string]any, 0, len(list))
				for _, item := range list {
					out = append(out, s.SerializeCompact(referent, item))
				}
				return out
			}
		}
	}

	return value
}

func asTime(value any) (time.Time, bool) {
	switch t := value.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

func dateDict(t time.Time) map[string]any {
	return map[string]any{
		"year":  t.Year(),
		"month": int(t.Month()),
		"day":   t.Day(),
	}
}

func datetimeDict(t time.Time) map[string]any {
	return map[string]any{
		"year":        t.Year(),
		"month":       int(t.Month()),
		"day":         t.Day(),
		"hour":        t.Hour(),
		"minute":      t.Minute(),
		"second":      t.Second(),
		"microsecond": t.Nanosecond() / 1000,
		"weekday":     t.Weekday().String(),
		"month_name":  t.Month().String(),
	}
}

func timeDict(t time.Time) map[string]any {
	return map[string]any{
		"hour":        t.Hour(),
		"minute":      t.Minute(),
		"second":      t.Second(),
		"microsecond": t.Nanosecond() / 1000,
	}
}

func whitelisted(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
