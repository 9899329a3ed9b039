package dispatch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/descriptor"
)

func TestCoerceArgsDefaultsAndRequired(t *testing.T) {
	d, _, _ := setup(t)

	args := []descriptor.AttributeDescriptor{
		{Name: "name", Type: descriptor.TypeString, Required: true, Default: descriptor.NoDefault},
		{Name: "limit", Type: descriptor.TypeInt, Default: int64(10)},
		{Name: "note", Type: descriptor.TypeString, Default: descriptor.NoDefault},
	}

	out, err := d.coerceArgs(context.Background(), args, map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, int64(10), out["limit"])
	_, present := out["note"]
	assert.False(t, present)

	_, err = d.coerceArgs(context.Background(), args, map[string]any{})
	var msgErr *domain.MessageError
	require.True(t, errors.As(err, &msgErr))
	assert.Equal(t, http.StatusBadRequest, msgErr.StatusCode)
	assert.Contains(t, msgErr.Message.EN, "name")
}

func TestCoercePrimitives(t *testing.T) {
	d, _, _ := setup(t)
	ctx := context.Background()

	t.Run("int from json number", func(t *testing.T) {
		v, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "n", Type: descriptor.TypeInt}, float64(7))
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
	})

	t.Run("fractional number is not an int", func(t *testing.T) {
		_, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "n", Type: descriptor.TypeInt}, 7.5)
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "n", vErr.Field)
	})

	t.Run("bool from string", func(t *testing.T) {
		v, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "b", Type: descriptor.TypeBoolean}, "true")
		require.NoError(t, err)
		assert.Equal(t, true, v)
	})

	t.Run("choices enforced", func(t *testing.T) {
		arg := descriptor.AttributeDescriptor{Name: "lang", Type: descriptor.TypeString, Choices: []string{"EN", "FA"}}
		_, err := d.coerceValue(ctx, arg, "DE")
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))

		v, err := d.coerceValue(ctx, arg, "FA")
		require.NoError(t, err)
		assert.Equal(t, "FA", v)
	})

	t.Run("file arguments rejected", func(t *testing.T) {
		_, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "upload", Type: descriptor.TypeFile}, "data")
		var msgErr *domain.MessageError
		require.True(t, errors.As(err, &msgErr))
		assert.Equal(t, http.StatusBadRequest, msgErr.StatusCode)
	})
}

func TestCoerceTemporalForms(t *testing.T) {
	d, _, _ := setup(t)
	ctx := context.Background()

	t.Run("date string", func(t *testing.T) {
		v, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "d", Type: descriptor.TypeDate}, "2022-11-05")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2022, 11, 5, 0, 0, 0, 0, time.UTC), v)
	})

	t.Run("datetime space separated", func(t *testing.T) {
		v, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "d", Type: descriptor.TypeDateTime}, "2022-11-05 09:30:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2022, 11, 5, 9, 30, 0, 0, time.UTC), v)
	})

	t.Run("calendar dict", func(t *testing.T) {
		v, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "d", Type: descriptor.TypeDateTime}, map[string]any{
			"year": float64(2022), "month": float64(11), "day": float64(5), "hour": float64(9),
		})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2022, 11, 5, 9, 0, 0, 0, time.UTC), v)
	})

	t.Run("garbage fails with the field name", func(t *testing.T) {
		_, err := d.coerceValue(ctx, descriptor.AttributeDescriptor{Name: "when", Type: descriptor.TypeDate}, "yesterday")
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "when", vErr.Field)
	})
}

func TestCoerceArrayOfScalars(t *testing.T) {
	d, _, _ := setup(t)

	arg := descriptor.AttributeDescriptor{Name: "tags", Type: descriptor.TypeArray, ElemType: descriptor.TypeString}
	v, err := d.coerceValue(context.Background(), arg, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	_, err = d.coerceValue(context.Background(), arg, "not a list")
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
}

func TestCoerceArrayOfEntities(t *testing.T) {
	d, store, catalog := setup(t)
	authors, _ := catalog.Entity("author")
	existing := store.seed(authors, descriptor.Instance{"name": "A"})

	arg := descriptor.AttributeDescriptor{
		Name: "authors", Type: descriptor.TypeArray,
		ElemType: descriptor.TypeObject, TypeOf: "author",
	}
	v, err := d.coerceValue(context.Background(), arg, []any{
		float64(existing),
		map[string]any{"name": "B"},
	})
	require.NoError(t, err)

	ids, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, ids, 2)
	assert.Equal(t, existing, ids[0])

	created, err := store.Get(context.Background(), authors, ids[1].(int64))
	require.NoError(t, err)
	assert.Equal(t, "B", created["name"])
}

func TestResolveObjectBareID(t *testing.T) {
	d, store, catalog := setup(t)
	authors, _ := catalog.Entity("author")
	id := store.seed(authors, descriptor.Instance{"name": "A"})

	arg := descriptor.AttributeDescriptor{Name: "author", Type: descriptor.TypeObject, TypeOf: "author"}

	v, err := d.coerceValue(context.Background(), arg, float64(id))
	require.NoError(t, err)
	assert.Equal(t, id, v)

	_, err = d.coerceValue(context.Background(), arg, float64(99))
	var msgErr *domain.MessageError
	require.True(t, errors.As(err, &msgErr))
	assert.Equal(t, http.StatusNotAcceptable, msgErr.StatusCode)
}

func TestResolveObjectIDOnlyDictIsGet(t *testing.T) {
	d, store, catalog := setup(t)
	authors, _ := catalog.Entity("author")
	id := store.seed(authors, descriptor.Instance{"name": "A"})

	arg := descriptor.AttributeDescriptor{Name: "author", Type: descriptor.TypeObject, TypeOf: "author"}
	v, err := d.coerceValue(context.Background(), arg, map[string]any{"id": float64(id)})
	require.NoError(t, err)
	assert.Equal(t, id, v)

	// No write happened.
	row, err := store.Get(context.Background(), authors, id)
	require.NoError(t, err)
	assert.Equal(t, "A", row["name"])
}
