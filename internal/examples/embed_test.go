package examples

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/skillrunner/pkg/skill"
)

func TestListIncludesQuickstart(t *testing.T) {
	examples, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, examples)

	names := make(map[string]bool)
	for _, ex := range examples {
		names[ex.Name] = true
		assert.NotEmpty(t, ex.Description)
	}
	assert.True(t, names["quickstart"])
	assert.True(t, names["triage-review"])
}

func TestEmbeddedExamplesAreValidSkills(t *testing.T) {
	examples, err := List()
	require.NoError(t, err)

	for _, ex := range examples {
		content, err := Get(ex.Name)
		require.NoError(t, err)

		def, err := skill.ParseDefinition(content)
		require.NoError(t, err, "example %s must parse", ex.Name)
		require.NoError(t, def.Validate(), "example %s must validate", ex.Name)
	}
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("absent")
	assert.Error(t, err)
	assert.False(t, Exists("absent"))
	assert.True(t, Exists("quickstart"))
}

func TestCopyTo(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "skills", "quickstart.yaml")
	require.NoError(t, CopyTo("quickstart", dest))

	def, err := skill.LoadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "quickstart", def.Name)
}
