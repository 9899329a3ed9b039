package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/repository"
)

// EntityStore implements port.EntityStore against the catalog's tables. Each
// storable entity maps to one table named after its plural segment; OBJECT
// attributes map to <name>_id foreign keys and ARRAY-of-scalar attributes to
// jsonb columns.
type EntityStore struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	catalog *descriptor.Project
}

// NewEntityStore wires a PostgreSQL-backed entity store over the catalog.
func NewEntityStore(pool *pgxpool.Pool, catalog *descriptor.Project) *EntityStore {
	return &EntityStore{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		catalog: catalog,
	}
}

// WithTx returns a store instance operating within the supplied transaction.
func (s *EntityStore) WithTx(tx pgx.Tx) *EntityStore {
	if tx == nil {
		return s
	}
	return &EntityStore{
		pool:    s.pool,
		exec:    tx,
		builder: s.builder,
		catalog: s.catalog,
	}
}

// columnFor maps an attribute to its storage column. ARRAY-of-entity
// attributes have no column of their own; they hydrate from the child table.
func columnFor(a descriptor.AttributeDescriptor) (string, bool) {
	switch a.Type {
	case descriptor.TypeObject:
		return a.Name + "_id", true
	case descriptor.TypeArray:
		if a.TypeOf != "" {
			return "", false
		}
		return a.Name, true
	default:
		return a.Name, true
	}
}

func (s *EntityStore) columns(e *descriptor.EntityDescriptor) []string {
	cols := make([]string, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		if col, ok := columnFor(a); ok {
			cols = append(cols, col)
		}
	}
	return cols
}

// List returns the entity's rows matching every condition, ordered by id.
func (s *EntityStore) List(ctx context.Context, e *descriptor.EntityDescriptor, conds []port.Condition) ([]descriptor.Instance, error) {
	instances, err := s.listRows(ctx, e, conds)
	if err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if err := s.hydrate(ctx, e, instance); err != nil {
			return nil, err
		}
	}

	return instances, nil
}

func (s *EntityStore) listRows(ctx context.Context, e *descriptor.EntityDescriptor, conds []port.Condition) ([]descriptor.Instance, error) {
	query := s.builder.Select(s.columns(e)...).From(e.Plural).OrderBy("id ASC")

	for _, cond := range conds {
		clause, err := condClause(e, cond)
		if err != nil {
			return nil, err
		}
		query = query.Where(clause)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list %s sql: %w", e.Plural, err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Plural, err)
	}
	defer rows.Close()

	instances := make([]descriptor.Instance, 0)
	for rows.Next() {
		instance, err := s.scanInstance(e, rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", e.Plural, err)
	}

	return instances, nil
}

// Get fetches one row by id.
func (s *EntityStore) Get(ctx context.Context, e *descriptor.EntityDescriptor, id int64) (descriptor.Instance, error) {
	instance, err := s.fetchRow(ctx, e, id)
	if err != nil {
		return nil, err
	}

	if err := s.hydrate(ctx, e, instance); err != nil {
		return nil, err
	}

	return instance, nil
}

func (s *EntityStore) fetchRow(ctx context.Context, e *descriptor.EntityDescriptor, id int64) (descriptor.Instance, error) {
	stmt, args, err := s.builder.Select(s.columns(e)...).
		From(e.Plural).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s sql: %w", e.Snake, err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Snake, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query %s: %w", e.Snake, err)
		}
		return nil, repository.ErrNotFound
	}

	return s.scanInstance(e, rows)
}

// Create inserts a row from the resolved field map and returns the hydrated
// instance. OBJECT fields arrive as referent ids.
func (s *EntityStore) Create(ctx context.Context, e *descriptor.EntityDescriptor, fields map[string]any) (descriptor.Instance, error) {
	cols := make([]string, 0, len(fields))
	vals := make([]any, 0, len(fields))

	for _, a := range e.Attributes {
		if a.Name == "id" {
			continue
		}
		col, ok := columnFor(a)
		if !ok {
			continue
		}
		value, present := fields[a.Name]
		if !present {
			if a.Name == "date_created" {
				cols = append(cols, col)
				vals = append(vals, time.Now().UTC())
			}
			continue
		}
		encoded, err := encodeColumn(a, value)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		vals = append(vals, encoded)
	}

	stmt, args, err := s.builder.Insert(e.Plural).
		Columns(cols...).
		Values(vals...).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert %s sql: %w", e.Snake, err)
	}

	var id int64
	if err := s.exec.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert %s: %w", e.Snake, err)
	}

	return s.Get(ctx, e, id)
}

// Update applies the resolved field map to one row and returns the hydrated
// instance.
func (s *EntityStore) Update(ctx context.Context, e *descriptor.EntityDescriptor, id int64, fields map[string]any) (descriptor.Instance, error) {
	query := s.builder.Update(e.Plural).Where(squirrel.Eq{"id": id})

	touched := false
	for _, a := range e.Attributes {
		if a.Name == "id" || a.Name == "date_created" {
			continue
		}
		col, ok := columnFor(a)
		if !ok {
			continue
		}
		value, present := fields[a.Name]
		if !present {
			continue
		}
		encoded, err := encodeColumn(a, value)
		if err != nil {
			return nil, err
		}
		query = query.Set(col, encoded)
		touched = true
	}

	if !touched {
		return s.Get(ctx, e, id)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update %s sql: %w", e.Snake, err)
	}

	ct, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", e.Snake, err)
	}
	if ct.RowsAffected() == 0 {
		return nil, repository.ErrNotFound
	}

	return s.Get(ctx, e, id)
}

// Delete removes one row by id.
func (s *EntityStore) Delete(ctx context.Context, e *descriptor.EntityDescriptor, id int64) error {
	stmt, args, err := s.builder.Delete(e.Plural).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s sql: %w", e.Snake, err)
	}

	ct, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.Snake, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// encodeColumn converts an in-memory attribute value to its storage form.
func encodeColumn(a descriptor.AttributeDescriptor, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if a.Type == descriptor.TypeArray && a.TypeOf == "" {
		bytes, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", a.Name, err)
		}
		return bytes, nil
	}
	return value, nil
}

// scanInstance reads one row into an Instance keyed by attribute name. OBJECT
// attributes temporarily hold the raw foreign key until hydrate replaces it.
func (s *EntityStore) scanInstance(e *descriptor.EntityDescriptor, rows pgx.Rows) (descriptor.Instance, error) {
	attrs := make([]descriptor.AttributeDescriptor, 0, len(e.Attributes))
	targets := make([]any, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		if _, ok := columnFor(a); !ok {
			continue
		}
		attrs = append(attrs, a)
		targets = append(targets, new(any))
	}

	if err := rows.Scan(targets...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", e.Snake, err)
	}

	instance := make(descriptor.Instance, len(attrs))
	for i, a := range attrs {
		value := *(targets[i].(*any))
		if a.Type == descriptor.TypeArray && a.TypeOf == "" && value != nil {
			raw, ok := value.([]byte)
			if ok {
				var decoded []any
				if err := json.Unmarshal(raw, &decoded); err != nil {
					return nil, fmt.Errorf("unmarshal %s.%s: %w", e.Snake, a.Name, err)
				}
				value = decoded
			}
		}
		instance[a.Name] = value
	}

	return instance, nil
}

// hydrate fills one level of references: OBJECT foreign keys become the
// referent's row and ARRAY-of-entity attributes list the child rows. The
// referents' own references stay as raw keys; embedding is compact, so
// serialization reads only id and the compact fields from them. Following
// them further would cycle on parent/child back references.
func (s *EntityStore) hydrate(ctx context.Context, e *descriptor.EntityDescriptor, instance descriptor.Instance) error {
	for _, a := range e.Attributes {
		switch {
		case a.Type == descriptor.TypeObject:
			raw := instance[a.Name]
			if raw == nil {
				instance[a.Name] = nil
				continue
			}
			fk, ok := asInt64(raw)
			if !ok {
				return fmt.Errorf("%s.%s: unexpected foreign key %T", e.Snake, a.Name, raw)
			}
			referent, known := s.catalog.Entity(a.TypeOf)
			if !known {
				return fmt.Errorf("%s.%s: unknown referent %q", e.Snake, a.Name, a.TypeOf)
			}
			nested, err := s.fetchRow(ctx, referent, fk)
			if err != nil {
				return fmt.Errorf("hydrate %s.%s: %w", e.Snake, a.Name, err)
			}
			instance[a.Name] = nested

		case a.Type == descriptor.TypeArray && a.TypeOf != "":
			id, ok := instance.ID()
			if !ok {
				continue
			}
			element, known := s.catalog.Entity(a.TypeOf)
			if !known {
				return fmt.Errorf("%s.%s: unknown element entity %q", e.Snake, a.Name, a.TypeOf)
			}
			// The child table carries the back reference as an OBJECT
			// attribute named after the parent.
			back, found := element.Attribute(e.Snake)
			if !found || back.Type != descriptor.TypeObject {
				instance[a.Name] = []descriptor.Instance{}
				continue
			}
			children, err := s.listRows(ctx, element, []port.Condition{{Field: e.Snake + "_id", Op: "", Value: id}})
			if err != nil {
				return fmt.Errorf("hydrate %s.%s: %w", e.Snake, a.Name, err)
			}
			instance[a.Name] = children
		}
	}
	return nil
}

// condClause translates one declarative condition to SQL. The dispatcher has
// already validated the field name against the entity's attributes.
func condClause(e *descriptor.EntityDescriptor, cond port.Condition) (squirrel.Sqlizer, error) {
	field := cond.Field
	switch cond.Op {
	case "", "eq":
		return squirrel.Eq{field: cond.Value}, nil
	case "gt":
		return squirrel.Gt{field: cond.Value}, nil
	case "gte":
		return squirrel.GtOrEq{field: cond.Value}, nil
	case "lt":
		return squirrel.Lt{field: cond.Value}, nil
	case "lte":
		return squirrel.LtOrEq{field: cond.Value}, nil
	case "contains":
		return squirrel.Like{field: fmt.Sprintf("%%%v%%", cond.Value)}, nil
	case "icontains":
		return squirrel.ILike{field: fmt.Sprintf("%%%v%%", cond.Value)}, nil
	case "startswith":
		return squirrel.Like{field: fmt.Sprintf("%v%%", cond.Value)}, nil
	case "endswith":
		return squirrel.Like{field: fmt.Sprintf("%%%v", cond.Value)}, nil
	case "in":
		return squirrel.Eq{field: cond.Value}, nil
	case "isnull":
		truthy, _ := cond.Value.(bool)
		if truthy {
			return squirrel.Eq{field: nil}, nil
		}
		return squirrel.NotEq{field: nil}, nil
	case "year", "month", "day", "hour", "minute", "second":
		return squirrel.Expr(fmt.Sprintf("EXTRACT(%s FROM %s) = ?", cond.Op, field), cond.Value), nil
	default:
		return nil, fmt.Errorf("entity %s: unsupported lookup %q", e.Snake, cond.Op)
	}
}

func asInt64(v any) (int64, bool) {
	switch value := v.(type) {
	case int64:
		return value, true
	case int32:
		return int64(value), true
	case int:
		return int64(value), true
	case float64:
		return int64(value), true
	}
	return 0, false
}

var _ port.EntityStore = (*EntityStore)(nil)
