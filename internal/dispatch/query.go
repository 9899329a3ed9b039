package dispatch

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/descriptor"
)

// reservedParams never participate in entity filtering.
var reservedParams = map[string]bool{
	"lang":  true,
	"token": true,
	"show":  true,
}

// lookup operators allowed per attribute type.
var (
	numericOps  = map[string]bool{"": true, "eq": true, "gt": true, "gte": true, "lt": true, "lte": true, "in": true}
	stringOps   = map[string]bool{"": true, "eq": true, "icontains": true, "contains": true, "in": true, "startswith": true, "endswith": true}
	datetimeOps = map[string]bool{"": true, "eq": true, "gt": true, "gte": true, "lt": true, "lte": true, "year": true, "month": true, "day": true, "hour": true, "minute": true, "second": true}
)

// BuildConditions translates `field__op=value` query parameters to declarative
// conditions. Unknown fields and reserved parameters are ignored; an operator
// the attribute's type does not support is a validation failure.
func BuildConditions(e *descriptor.EntityDescriptor, query url.Values) ([]port.Condition, error) {
	conds := make([]port.Condition, 0, len(query))

	for param, values := range query {
		if reservedParams[param] || len(values) == 0 {
			continue
		}

		field, op := param, ""
		if idx := strings.Index(param, "__"); idx > 0 {
			field, op = param[:idx], param[idx+2:]
		}

		attr, ok := e.Attribute(field)
		if !ok {
			continue
		}

		if !opAllowed(attr.Type, op) {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}

		cond, err := buildCondition(attr, field, op, values[0])
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	return conds, nil
}

func opAllowed(t descriptor.AttrType, op string) bool {
	if op == "isnull" {
		return true
	}
	switch t {
	case descriptor.TypeInt, descriptor.TypeFloat, descriptor.TypeObject:
		return numericOps[op]
	case descriptor.TypeString:
		return stringOps[op]
	case descriptor.TypeDate, descriptor.TypeTime, descriptor.TypeDateTime:
		return datetimeOps[op]
	case descriptor.TypeBoolean:
		return op == "" || op == "eq"
	}
	return false
}

func buildCondition(attr *descriptor.AttributeDescriptor, field, op, raw string) (port.Condition, error) {
	column := field
	if attr.Type == descriptor.TypeObject {
		column = field + "_id"
	}

	switch op {
	case "isnull":
		truthy, err := strconv.ParseBool(raw)
		if err != nil {
			return port.Condition{}, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return port.Condition{Field: column, Op: op, Value: truthy}, nil

	case "in":
		parts := strings.Split(raw, ",")
		values := make([]any, 0, len(parts))
		for _, part := range parts {
			value, err := scalarValue(attr, field, part)
			if err != nil {
				return port.Condition{}, err
			}
			values = append(values, value)
		}
		return port.Condition{Field: column, Op: op, Value: values}, nil

	case "year", "month", "day", "hour", "minute", "second":
		value, err := strconv.Atoi(raw)
		if err != nil {
			return port.Condition{}, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return port.Condition{Field: column, Op: op, Value: value}, nil

	default:
		value, err := scalarValue(attr, field, raw)
		if err != nil {
			return port.Condition{}, err
		}
		return port.Condition{Field: column, Op: op, Value: value}, nil
	}
}

// scalarValue casts a single query value per the attribute's type.
func scalarValue(attr *descriptor.AttributeDescriptor, field, raw string) (any, error) {
	switch attr.Type {
	case descriptor.TypeInt, descriptor.TypeObject:
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return value, nil
	case descriptor.TypeFloat:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return value, nil
	case descriptor.TypeBoolean:
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, domain.NewValidationError(field, domain.MsgFieldNotValid)
		}
		return value, nil
	default:
		return raw, nil
	}
}
