package token

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a, err := Subject(json.RawMessage(`{"login":"alice","id":42}`))
		require.NoError(t, err)
		b, err := Subject(json.RawMessage(`{"login":"alice","id":42}`))
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Len(t, a, 16)
		assert.Regexp(t, "^[0-9a-f]{16}$", a)
	})

	t.Run("key order does not matter", func(t *testing.T) {
		a, err := Subject(json.RawMessage(`{"login":"alice","id":42}`))
		require.NoError(t, err)
		b, err := Subject(json.RawMessage(`{"id":42,"login":"alice"}`))
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})

	t.Run("nested object key order does not matter", func(t *testing.T) {
		a, err := Subject(json.RawMessage(`{"user":{"name":"alice","email":"a@example.com"},"ids":[1,2]}`))
		require.NoError(t, err)
		b, err := Subject(json.RawMessage(`{"ids":[1,2],"user":{"email":"a@example.com","name":"alice"}}`))
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})

	t.Run("distinct properties yield distinct subjects", func(t *testing.T) {
		a, err := Subject(json.RawMessage(`{"login":"alice"}`))
		require.NoError(t, err)
		b, err := Subject(json.RawMessage(`{"login":"bob"}`))
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("array order matters", func(t *testing.T) {
		a, err := Subject(json.RawMessage(`{"ids":[1,2]}`))
		require.NoError(t, err)
		b, err := Subject(json.RawMessage(`{"ids":[2,1]}`))
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Subject(json.RawMessage(`{not json`))
		assert.Error(t, err)
	})
}
