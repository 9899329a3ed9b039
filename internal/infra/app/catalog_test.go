package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/dispatch"
)

func builtCatalog(t *testing.T) *descriptor.Project {
	t.Helper()
	catalog, err := buildCatalog(catalogServices{})
	require.NoError(t, err)
	return catalog
}

func TestUsersAnswerReadVerbs(t *testing.T) {
	catalog := builtCatalog(t)
	users, ok := catalog.EntityByPlural("users")
	require.True(t, ok)

	all, ok := users.ConventionalCallable(descriptor.VerbGet, false)
	require.True(t, ok)
	assert.True(t, all.Conventional)
	assert.True(t, all.Authenticate)
	assert.Equal(t, "users", all.ResponseKey)

	get, ok := users.ConventionalCallable(descriptor.VerbGet, true)
	require.True(t, ok)
	assert.True(t, get.Conventional)
	assert.False(t, get.Static)
	assert.True(t, get.Authenticate)
}

func TestUsersRejectWriteVerbsWithAdvertisedAlternatives(t *testing.T) {
	catalog := builtCatalog(t)
	users, ok := catalog.EntityByPlural("users")
	require.True(t, ok)

	_, ok = users.ConventionalCallable(descriptor.VerbPut, true)
	assert.False(t, ok, "user rows are not writable through the store")
	_, ok = users.ConventionalCallable(descriptor.VerbDelete, true)
	assert.False(t, ok)

	assert.Equal(t, []string{"get"}, users.AllowedMethods())
}

func TestEmbeddedUploadsSerializeWithURL(t *testing.T) {
	catalog := builtCatalog(t)
	countries, ok := catalog.Entity("Country")
	require.True(t, ok)

	serializer := dispatch.NewSerializer(catalog)
	out := serializer.Serialize(countries, descriptor.Instance{
		"id":   int64(1),
		"name": "Iran",
		"code": "IR",
		"flag": descriptor.Instance{
			"id":           int64(7),
			"url":          "https://cdn.example.com/flags/ir.png",
			"width":        64,
			"height":       32,
			"date_created": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}, nil)

	flag, ok := out["flag"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"id":  int64(7),
		"url": "https://cdn.example.com/flags/ir.png",
	}, flag)
}
