package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, strings.Split(encoded, ":"), 2)

	ok, err := VerifyPassword("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("Tr0ub4dor&3", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordEdgeCases(t *testing.T) {
	ok, err := VerifyPassword("", "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifyPassword("x", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "invalid-format")
	assert.Error(t, err)
}

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9', "non-digit %q in code", r)
	}

	_, err = GenerateNumericCode(0)
	assert.Error(t, err)
}

func TestGenerateSecureKey(t *testing.T) {
	key, err := GenerateSecureKey(32)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotContains(t, key, "=")

	other, err := GenerateSecureKey(32)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	_, err = GenerateSecureKey(-1)
	assert.Error(t, err)
}
