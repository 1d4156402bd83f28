package jq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	runner := NewRunner(0)

	t.Run("empty expression passes data through", func(t *testing.T) {
		got, err := runner.Run(context.Background(), "", map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"a": 1}, got)
	})

	t.Run("field access", func(t *testing.T) {
		got, err := runner.Run(context.Background(), ".name", map[string]interface{}{"name": "deploy"})
		require.NoError(t, err)
		assert.Equal(t, "deploy", got)
	})

	t.Run("multiple results become a slice", func(t *testing.T) {
		got, err := runner.Run(context.Background(), ".[]", []interface{}{1, 2})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{1, 2}, got)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := runner.Run(context.Background(), ".[", nil)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	runner := NewRunner(0)
	assert.NoError(t, runner.Validate(""))
	assert.NoError(t, runner.Validate(".items | length"))
	assert.Error(t, runner.Validate(".["))
}
