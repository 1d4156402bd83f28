package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() map[string]interface{} {
	return map[string]interface{}{
		"name":  "deploy",
		"count": 3,
		"issue": "PROJ-42",
		"items": []interface{}{
			map[string]interface{}{"id": "a", "title": "first"},
			map[string]interface{}{"id": "b", "title": "second"},
		},
		"nested": map[string]interface{}{
			"inner": map[string]interface{}{"value": "deep"},
		},
		// ParseKeyValues produces map[string]string, so parsed output
		// bindings land in the context with this shape.
		"review_parsed": map[string]string{"branch": "main", "severity": "low"},
	}
}

func TestRender(t *testing.T) {
	r := NewResolver()
	ctx := testContext()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"non-template passthrough", "plain text", "plain text"},
		{"simple variable", "hello {{ name }}", "hello deploy"},
		{"number renders without decimals", "{{ count }}", "3"},
		{"dotted path", "{{ nested.inner.value }}", "deep"},
		{"list index bracket", "{{ items[0].title }}", "first"},
		{"list index dotted", "{{ items.1.id }}", "b"},
		{"string map lookup", "{{ review_parsed.branch }}", "main"},
		{"undefined renders empty", "[{{ missing }}]", "[]"},
		{"deep undefined chain renders empty", "[{{ a.b.c.d }}]", "[]"},
		{"undefined under defined", "[{{ nested.missing.value }}]", "[]"},
		{"multiple placeholders", "{{ name }}/{{ count }}", "deploy/3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.in, ctx))
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	r := NewResolver()
	ctx := testContext()

	rendered := r.Render("hello {{ name }}, {{ missing }} done", ctx)
	assert.Equal(t, rendered, r.Render(rendered, ctx))
}

func TestRenderFilters(t *testing.T) {
	r := NewResolver(WithLinkBases("https://jira.corp.example/browse", "https://git.corp.example/mrs"))
	ctx := testContext()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"jira_link markdown", "{{ issue | jira_link }}", "[PROJ-42](https://jira.corp.example/browse/PROJ-42)"},
		{"mr_link markdown", "{{ count | mr_link }}", "[!3](https://git.corp.example/mrs/3)"},
		{"length of list", "{{ items | length }}", "2"},
		{"length of string", "{{ name | length }}", "6"},
		{"upper", "{{ name | upper }}", "DEPLOY"},
		{"default applies to undefined", "{{ missing | default:fallback }}", "fallback"},
		{"default keeps defined", "{{ name | default:fallback }}", "deploy"},
		{"chained filters", "{{ name | upper | length }}", "6"},
		{"jq filter", "{{ items | jq:.[0].id }}", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.in, ctx))
		})
	}
}

func TestRenderSlackFormat(t *testing.T) {
	r := NewResolver(WithLinkBases("https://jira.corp.example/browse", ""))
	ctx := testContext()
	ctx["slack_format"] = true

	got := r.Render("{{ issue | jira_link }}", ctx)
	assert.Equal(t, "<https://jira.corp.example/browse/PROJ-42|PROJ-42>", got)
}

func TestRenderUnknownFilterLeavesPlaceholder(t *testing.T) {
	r := NewResolver()
	in := "{{ name | bogus }}"
	assert.Equal(t, in, r.Render(in, testContext()))
}

func TestRenderValue(t *testing.T) {
	r := NewResolver()
	ctx := testContext()

	t.Run("pure reference preserves type", func(t *testing.T) {
		got := r.RenderValue("{{ count }}", ctx)
		assert.Equal(t, 3, got)
	})

	t.Run("pure reference to list", func(t *testing.T) {
		got := r.RenderValue("{{ items }}", ctx)
		assert.Len(t, got, 2)
	})

	t.Run("mixed string renders to text", func(t *testing.T) {
		got := r.RenderValue("n={{ count }}", ctx)
		assert.Equal(t, "n=3", got)
	})

	t.Run("map resolved recursively", func(t *testing.T) {
		got := r.RenderValue(map[string]interface{}{
			"who":   "{{ name }}",
			"inner": []interface{}{"{{ count }}"},
		}, ctx)
		assert.Equal(t, map[string]interface{}{
			"who":   "deploy",
			"inner": []interface{}{3},
		}, got)
	})
}

func TestEvalCondition(t *testing.T) {
	r := NewResolver()
	ctx := testContext()
	ctx["enabled"] = "yes"
	ctx["disabled"] = "false"

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty is false", "", false},
		{"rendered yes", "{{ enabled }}", true},
		{"rendered false", "{{ disabled }}", false},
		{"rendered undefined is false", "{{ missing }}", false},
		{"rendered non-empty text is true", "{{ name }}", true},
		{"expression comparison true", "count > 2", true},
		{"expression comparison false", "count > 5", false},
		{"expression on strings", `name == "deploy"`, true},
		{"bare literal true", "true", true},
		{"bare literal no", "no", false},
		{"bare word falls back truthy", "enabled", true},
		{"broken expression is false", "count >", false},
		{"undefined in expression is false", "missing > 2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.EvalCondition(tt.expr, ctx))
		})
	}
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy("true"))
	assert.True(t, Truthy("Yes"))
	assert.True(t, Truthy("1"))
	assert.True(t, Truthy("anything else"))
	assert.False(t, Truthy("false"))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy("no"))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("None"))
	assert.False(t, Truthy("  none  "))
}
