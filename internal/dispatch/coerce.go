package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/repository"
)

// coerceArgs validates and converts the decoded body field-by-field against
// the callable's argument descriptors. Unknown fields are dropped; missing
// required fields fail with 400 before anything is invoked.
func (d *Dispatcher) coerceArgs(ctx context.Context, args []descriptor.AttributeDescriptor, body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))

	for _, arg := range args {
		raw, present := body[arg.Name]
		if !present {
			if arg.HasDefault() {
				out[arg.Name] = arg.Default
				continue
			}
			if arg.Required {
				return nil, domain.NewMessageError(domain.Translatable{
					EN: fmt.Sprintf("%s: %s", domain.MsgMissingRequiredField.EN, arg.Name),
					FA: fmt.Sprintf("%s: %s", domain.MsgMissingRequiredField.FA, arg.Name),
				}, http.StatusBadRequest)
			}
			continue
		}

		value, err := d.coerceValue(ctx, arg, raw)
		if err != nil {
			return nil, err
		}
		out[arg.Name] = value
	}

	return out, nil
}

func (d *Dispatcher) coerceValue(ctx context.Context, arg descriptor.AttributeDescriptor, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if len(arg.Choices) > 0 {
		if s, ok := raw.(string); ok && !choiceAllowed(arg.Choices, s) {
			return nil, domain.NewValidationError(arg.Name, domain.MsgFieldNotValid)
		}
	}

	switch arg.Type {
	case descriptor.TypeString:
		return coerceString(arg.Name, raw)
	case descriptor.TypeInt:
		return coerceInt(arg.Name, raw)
	case descriptor.TypeFloat:
		return coerceFloat(arg.Name, raw)
	case descriptor.TypeBoolean:
		return coerceBool(arg.Name, raw)
	case descriptor.TypeDate:
		return coerceTemporal(arg.Name, raw, []string{"2006-01-02"})
	case descriptor.TypeTime:
		return coerceTemporal(arg.Name, raw, []string{"15:04:05", "15:04"})
	case descriptor.TypeDateTime:
		return coerceTemporal(arg.Name, raw, []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"})
	case descriptor.TypeObject:
		return d.resolveObject(ctx, arg, raw)
	case descriptor.TypeArray:
		return d.coerceArray(ctx, arg, raw)
	case descriptor.TypeFile:
		return nil, domain.NewMessageError(domain.MsgFilesNotAccepted, http.StatusBadRequest)
	}

	return nil, domain.NewValidationError(arg.Name, domain.MsgFieldNotValid)
}

// resolveObject hydrates an OBJECT argument from its raw dict: a lone unique
// key means GET, a key plus other fields means UPDATE, no key means CREATE.
// The stored row's id is what flows onward.
func (d *Dispatcher) resolveObject(ctx context.Context, arg descriptor.AttributeDescriptor, raw any) (any, error) {
	referent, ok := d.catalog.Entity(arg.TypeOf)
	if !ok {
		return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
	}

	// A bare number is shorthand for {id: n}.
	if id, ok := asID(raw); ok {
		if _, err := d.store.Get(ctx, referent, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
			}
			return nil, err
		}
		return id, nil
	}

	dict, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
	}

	rawID, hasID := dict["id"]
	if hasID {
		id, ok := asID(rawID)
		if !ok {
			return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
		}
		if len(dict) == 1 {
			if _, err := d.store.Get(ctx, referent, id); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
				}
				return nil, err
			}
			return id, nil
		}

		fields, err := d.coerceArgs(ctx, writableAttributes(referent, false), dict)
		if err != nil {
			return nil, err
		}
		if _, err := d.store.Update(ctx, referent, id, fields); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
			}
			return nil, err
		}
		return id, nil
	}

	fields, err := d.coerceArgs(ctx, writableAttributes(referent, true), dict)
	if err != nil {
		return nil, err
	}
	created, err := d.store.Create(ctx, referent, fields)
	if err != nil {
		return nil, err
	}
	id, ok := created.ID()
	if !ok {
		return nil, domain.NewMessageError(domain.MsgObjectNotResolvable, http.StatusNotAcceptable)
	}
	return id, nil
}

func (d *Dispatcher) coerceArray(ctx context.Context, arg descriptor.AttributeDescriptor, raw any) (any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, domain.NewValidationError(arg.Name, domain.MsgFieldNotValid)
	}

	element := descriptor.AttributeDescriptor{
		Name:   arg.Name,
		Type:   arg.ElemType,
		TypeOf: arg.TypeOf,
	}
	if arg.TypeOf != "" {
		element.Type = descriptor.TypeObject
	}

	out := make([]any, 0, len(list))
	for _, item := range list {
		value, err := d.coerceValue(ctx, element, item)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// writableAttributes mirrors the argument list of the conventional
// create/update callables for nested resolution.
func writableAttributes(e *descriptor.EntityDescriptor, create bool) []descriptor.AttributeDescriptor {
	attrs := make([]descriptor.AttributeDescriptor, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		if a.Name == "id" || a.Name == "date_created" {
			continue
		}
		attr := a
		if !create {
			attr.Required = false
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

func coerceString(field string, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
}

func coerceInt(field string, raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return parsed, nil
	}
	return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
}

func coerceFloat(field string, raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return parsed, nil
	}
	return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
}

func coerceBool(field string, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return parsed, nil
	}
	return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
}

// coerceTemporal accepts either a string in one of the explicit layouts or a
// calendar dict of numeric components.
func coerceTemporal(field string, raw any, layouts []string) (any, error) {
	switch v := raw.(type) {
	case string:
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed, nil
			}
		}
	case map[string]any:
		return calendarToTime(field, v)
	case time.Time:
		return v, nil
	}
	return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
}

func calendarToTime(field string, dict map[string]any) (time.Time, error) {
	part := func(name string, fallback int) (int, error) {
		raw, ok := dict[name]
		if !ok {
			return fallback, nil
		}
		value, ok := asID(raw)
		if !ok {
			return 0, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return int(value), nil
	}

	year, err := part("year", 0)
	if err != nil {
		return time.Time{}, err
	}
	month, err := part("month", 1)
	if err != nil {
		return time.Time{}, err
	}
	day, err := part("day", 1)
	if err != nil {
		return time.Time{}, err
	}
	hour, err := part("hour", 0)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := part("minute", 0)
	if err != nil {
		return time.Time{}, err
	}
	second, err := part("second", 0)
	if err != nil {
		return time.Time{}, err
	}
	micro, err := part("microsecond", 0)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, micro*1000, time.UTC), nil
}

func choiceAllowed(choices []string, value string) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}

func asID(v any) (int64, bool) {
	switch value := v.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		if value != float64(int64(value)) {
			return 0, false
		}
		return int64(value), true
	}
	return 0, false
}
