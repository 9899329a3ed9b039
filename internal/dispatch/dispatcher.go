// Package dispatch routes inbound requests through the descriptor catalog:
// URL resolution, callable selection, argument coercion, invocation against
// the entity store or a registered handler, and response serialization.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/envelope"
	"github.com/Afshari9978/avishan/internal/repository"
)

// Dispatcher mediates every model-driven request against the catalog.
type Dispatcher struct {
	catalog *descriptor.Project
	store   port.EntityStore
	logger  *zap.Logger
}

// NewDispatcher wires the dispatcher over the immutable catalog.
func NewDispatcher(catalog *descriptor.Project, store port.EntityStore, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{catalog: catalog, store: store, logger: log}
}

// target is the resolved form of one request URL.
type target struct {
	entity *descriptor.EntityDescriptor
	id     int64
	hasID  bool
	method string
}

// resolve parses /<plural>[/<id>][/<method>] relative to the API prefix.
func (d *Dispatcher) resolve(path string) (*target, error) {
	segments := make([]string, 0, 3)
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 || len(segments) > 3 {
		return nil, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
	}

	entity, ok := d.catalog.EntityByPlural(segments[0])
	if !ok {
		return nil, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
	}

	t := &target{entity: entity}
	rest := segments[1:]
	if len(rest) > 0 {
		if id, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
			t.id = id
			t.hasID = true
			rest = rest[1:]
		}
	}
	switch len(rest) {
	case 0:
	case 1:
		t.method = rest[0]
	default:
		return nil, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
	}

	return t, nil
}

// selectCallable picks the callable the verb and method segment address.
func (d *Dispatcher) selectCallable(env *envelope.Envelope, t *target, verb descriptor.Verb) (*descriptor.CallableDescriptor, error) {
	if t.method == "" {
		callable, ok := t.entity.ConventionalCallable(verb, t.hasID)
		if !ok {
			env.Response["allowed_methods"] = t.entity.AllowedMethods()
			return nil, domain.NewMessageError(domain.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		}
		return callable, nil
	}

	callable, ok := t.entity.FindCallable(t.method, verb)
	if !ok {
		return nil, domain.NewAuthError(domain.AuthMethodNotDirectCallable)
	}
	if callable.Static == t.hasID {
		return nil, domain.NewAuthError(domain.AuthMethodNotDirectCallable)
	}
	return callable, nil
}

// decodeBody parses the JSON request body and unwraps the request_json_key.
// GET and DELETE carry no body; query parameters are their only input channel.
func decodeBody(env *envelope.Envelope, callable *descriptor.CallableDescriptor, verb descriptor.Verb) (map[string]any, error) {
	if verb == descriptor.VerbGet || verb == descriptor.VerbDelete {
		return map[string]any{}, nil
	}
	if env.Request == nil || env.Request.Body == nil {
		return map[string]any{}, nil
	}

	raw, err := io.ReadAll(env.Request.Body)
	if err != nil {
		return nil, domain.NewMessageError(domain.MsgBodyNotReadable, http.StatusBadRequest)
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, domain.NewMessageError(domain.MsgBodyNotReadable, http.StatusBadRequest)
	}

	if callable.DismissRequestKey {
		return body, nil
	}

	if wrapped, ok := body[callable.RequestKey]; ok {
		fields, ok := wrapped.(map[string]any)
		if !ok {
			return nil, domain.NewMessageError(domain.MsgBodyNotReadable, http.StatusBadRequest)
		}
		return fields, nil
	}

	// Tolerate an unwrapped body so thin clients need not know the key.
	return body, nil
}

// Dispatch runs the full pipeline for one request. Errors propagate to the
// envelope middleware, the sole place they become HTTP responses.
func (d *Dispatcher) Dispatch(ctx context.Context, env *envelope.Envelope, path string) error {
	verb := descriptor.Verb(env.Request.Method)

	t, err := d.resolve(path)
	if err != nil {
		return err
	}
	env.ViewName = t.entity.Name

	callable, err := d.selectCallable(env, t, verb)
	if err != nil {
		return err
	}
	env.ViewName = t.entity.Name + "." + callable.Name

	if callable.Authenticate && !env.Authenticated() {
		return domain.NewAuthError(domain.AuthTokenNotFound)
	}

	var instance descriptor.Instance
	if !callable.Static {
		if !t.hasID {
			return domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
		}
		instance, err = d.store.Get(ctx, t.entity, t.id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
			}
			return err
		}
	}

	body, err := decodeBody(env, callable, verb)
	if err != nil {
		return err
	}

	args, err := d.coerceArgs(ctx, callable.Args, body)
	if err != nil {
		return err
	}

	result, status, err := d.invoke(ctx, env, t, callable, instance, args)
	if err != nil {
		return err
	}

	if raw, ok := result.(*descriptor.RawResponse); ok {
		env.JSONUnsafe = true
		env.RawBody = raw.Body
		env.RawContentType = raw.ContentType
		if raw.Status > 0 {
			env.StatusCode = raw.Status
		}
		return nil
	}

	payload := d.serializeResult(t.entity, result, env.Request.URL.Query()["show"])
	if callable.DismissResponseKey {
		if fields, ok := payload.(map[string]any); ok {
			for k, v := range fields {
				env.Response[k] = v
			}
		} else if payload != nil {
			env.Response[callable.ResponseKey] = payload
		}
	} else {
		env.Response[callable.ResponseKey] = payload
	}

	if status > 0 && env.StatusCode == http.StatusOK {
		env.StatusCode = status
	}

	return nil
}

// invoke executes the callable: conventional CRUD against the store, anything
// else through the registered handler.
func (d *Dispatcher) invoke(ctx context.Context, env *envelope.Envelope, t *target, callable *descriptor.CallableDescriptor, instance descriptor.Instance, args map[string]any) (any, int, error) {
	if !callable.Conventional {
		call := &descriptor.CallContext{
			Env:      env,
			Entity:   t.entity,
			Instance: instance,
			Args:     args,
			Query:    env.Request.URL.Query(),
		}
		result, err := callable.Handler(ctx, call)
		return result, 0, err
	}

	switch callable.Name {
	case "all":
		conds, err := BuildConditions(t.entity, env.Request.URL.Query())
		if err != nil {
			return nil, 0, err
		}
		instances, err := d.store.List(ctx, t.entity, conds)
		if err != nil {
			return nil, 0, err
		}
		return instances, 0, nil

	case "get":
		return instance, 0, nil

	case "create":
		created, err := d.store.Create(ctx, t.entity, args)
		if err != nil {
			return nil, 0, err
		}
		return created, http.StatusCreated, nil

	case "update":
		updated, err := d.store.Update(ctx, t.entity, t.id, args)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, 0, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
			}
			return nil, 0, err
		}
		return updated, 0, nil

	case "remove":
		if err := d.store.Delete(ctx, t.entity, t.id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, 0, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
			}
			return nil, 0, err
		}
		return instance, 0, nil
	}

	d.logger.Error("unknown conventional callable", zap.String("name", callable.Name))
	return nil, 0, domain.NewMessageError(domain.MsgInternalError, http.StatusInternalServerError)
}

// serializeResult maps the handler's return value to the wire payload. The
// whitelist comes from the caller's ?show= parameters and lifts private
// fields explicitly requested by name.
func (d *Dispatcher) serializeResult(e *descriptor.EntityDescriptor, result any, whitelist []string) any {
	s := NewSerializer(d.catalog)
	switch value := result.(type) {
	case nil:
		return nil
	case descriptor.Instance:
		return s.Serialize(e, value, whitelist)
	case []descriptor.Instance:
		out := make([]map[string]any, 0, len(value))
		for _, instance := range value {
			out = append(out, s.Serialize(e, instance, whitelist))
		}
		return out
	default:
		return value
	}
}
