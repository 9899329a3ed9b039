// Package openapi synthesizes the OpenAPI document from the descriptor
// catalog. The same table drives dispatch, so documentation and behavior
// cannot drift apart.
package openapi

import (
	"strconv"
	"strings"

	"github.com/Afshari9978/avishan/internal/descriptor"
)

// Info carries the host-configured document metadata.
type Info struct {
	Title             string
	Description       string
	Version           string
	Servers           []string
	IgnoredPathModels []string
}

// Synthesize renders the full document as a JSON-ready tree.
func Synthesize(catalog *descriptor.Project, info Info) map[string]any {
	ignored := make(map[string]bool, len(info.IgnoredPathModels))
	for _, name := range info.IgnoredPathModels {
		ignored[name] = true
	}

	servers := make([]map[string]any, 0, len(info.Servers))
	for _, url := range info.Servers {
		servers = append(servers, map[string]any{"url": url})
	}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       info.Title,
			"description": info.Description,
			"version":     info.Version,
		},
		"servers": servers,
		"components": map[string]any{
			"schemas": schemas(catalog),
		},
		"paths": paths(catalog, ignored),
	}

	return doc
}

func schemas(catalog *descriptor.Project) map[string]any {
	out := make(map[string]any)
	for _, e := range catalog.Entities() {
		properties := make(map[string]any, len(e.Attributes))
		required := make([]string, 0)
		for _, a := range e.Attributes {
			properties[a.Name] = attrSchema(a, false)
			if a.Required {
				required = append(required, a.Name)
			}
		}

		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		if e.Description != "" {
			schema["description"] = e.Description
		}
		out[e.Name] = schema
	}
	return out
}

// attrSchema maps one attribute to its schema. Body-inbound OBJECT arguments
// collapse to {id: integer} since only a unique key is expected on the wire.
func attrSchema(a descriptor.AttributeDescriptor, inbound bool) map[string]any {
	var schema map[string]any

	switch a.Type {
	case descriptor.TypeString:
		schema = map[string]any{"type": "string"}
	case descriptor.TypeInt:
		schema = map[string]any{"type": "integer"}
	case descriptor.TypeFloat:
		schema = map[string]any{"type": "number", "format": "float"}
	case descriptor.TypeDate:
		schema = map[string]any{"type": "string", "format": "date"}
	case descriptor.TypeTime:
		schema = map[string]any{"type": "string", "format": "time"}
	case descriptor.TypeDateTime:
		schema = map[string]any{"type": "string", "format": "date-time"}
	case descriptor.TypeBoolean:
		schema = map[string]any{"type": "boolean"}
	case descriptor.TypeFile:
		schema = map[string]any{"type": "string", "format": "binary"}
	case descriptor.TypeObject:
		if inbound {
			schema = map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "integer"},
				},
			}
		} else {
			schema = map[string]any{"$ref": "#/components/schemas/" + a.TypeOf}
		}
	case descriptor.TypeArray:
		element := descriptor.AttributeDescriptor{Type: a.ElemType, TypeOf: a.TypeOf}
		if a.TypeOf != "" {
			element.Type = descriptor.TypeObject
		}
		schema = map[string]any{
			"type":  "array",
			"items": attrSchema(element, inbound),
		}
	default:
		schema = map[string]any{}
	}

	if len(a.Choices) > 0 {
		schema["enum"] = a.Choices
	}
	if a.Description != "" {
		schema["description"] = a.Description
	}
	if a.HasDefault() && a.Default != nil {
		schema["default"] = a.Default
	}

	return schema
}

func paths(catalog *descriptor.Project, ignored map[string]bool) map[string]any {
	out := make(map[string]any)

	for _, e := range catalog.Entities() {
		if ignored[e.Name] {
			continue
		}
		for _, c := range e.Callables {
			if c.HideInDocs {
				continue
			}
			path := c.PathTemplate(e)
			item, ok := out[path].(map[string]any)
			if !ok {
				item = make(map[string]any)
				out[path] = item
			}
			item[strings.ToLower(string(c.Verb))] = operation(e, c)
		}
	}

	return out
}

func operation(e *descriptor.EntityDescriptor, c *descriptor.CallableDescriptor) map[string]any {
	op := map[string]any{
		"tags":        []string{e.Name},
		"operationId": e.Snake + "_" + c.Name,
		"summary":     c.Name + " " + e.Name,
	}
	if c.Description != "" {
		op["description"] = c.Description
	}

	if !c.Static {
		op["parameters"] = []map[string]any{{
			"name":     "id",
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "integer"},
		}}
	}

	if c.Verb != descriptor.VerbGet && c.Verb != descriptor.VerbDelete && len(c.Args) > 0 {
		properties := make(map[string]any, len(c.Args))
		required := make([]string, 0)
		for _, a := range c.Args {
			properties[a.Name] = attrSchema(a, true)
			if a.Required {
				required = append(required, a.Name)
			}
		}
		argsSchema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			argsSchema["required"] = required
		}

		bodySchema := argsSchema
		if !c.DismissRequestKey {
			bodySchema = map[string]any{
				"type": "object",
				"properties": map[string]any{
					c.RequestKey: argsSchema,
				},
			}
		}

		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": bodySchema},
			},
		}
	}

	op["responses"] = responses(e, c)
	return op
}

func responses(e *descriptor.EntityDescriptor, c *descriptor.CallableDescriptor) map[string]any {
	out := make(map[string]any)

	if len(c.Responses) > 0 {
		for status, spec := range c.Responses {
			out[strconv.Itoa(status)] = responseEntry(c, spec.Description, fieldsSchema(spec.Fields))
		}
		return out
	}

	payload := map[string]any{"$ref": "#/components/schemas/" + e.Name}
	if c.Name == "all" {
		payload = map[string]any{
			"type":  "array",
			"items": map[string]any{"$ref": "#/components/schemas/" + e.Name},
		}
	}

	status := "200"
	if c.Name == "create" {
		status = "201"
	}
	out[status] = responseEntry(c, "successful call", payload)
	return out
}

func responseEntry(c *descriptor.CallableDescriptor, description string, payload map[string]any) map[string]any {
	schema := payload
	if !c.DismissResponseKey {
		schema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				c.ResponseKey: payload,
			},
		}
	}
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func fieldsSchema(fields []descriptor.AttributeDescriptor) map[string]any {
	properties := make(map[string]any, len(fields))
	for _, f := range fields {
		properties[f.Name] = attrSchema(f, false)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}
