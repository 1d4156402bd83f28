package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(
		map[string]interface{}{"issue": "PROJ-1"},
		map[string]interface{}{"env": "staging", "issue": "overridden-by-input"},
		"ws-1",
	)

	assert.Equal(t, "PROJ-1", ctx["issue"], "inputs win over config")
	assert.Equal(t, "staging", ctx["env"])
	assert.Equal(t, "ws-1", ctx["workspace"])
	assert.NotEmpty(t, ctx["current_date"])
	assert.NotNil(t, ctx["config"])
}

func TestParseKeyValues(t *testing.T) {
	text := `branch: main
state: clean

# a comment
url: https://example.com/path
not a pair
two words: skipped
`
	parsed := ParseKeyValues(text)
	assert.Equal(t, "main", parsed["branch"])
	assert.Equal(t, "clean", parsed["state"])
	assert.Equal(t, "https://example.com/path", parsed["url"])
	assert.NotContains(t, parsed, "two words")
	assert.Len(t, parsed, 3)
}

func TestParseKeyValuesNoMatches(t *testing.T) {
	assert.Nil(t, ParseKeyValues("just some prose\nwith no pairs"))
}
