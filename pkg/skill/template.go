package skill

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tombee/skillrunner/internal/jq"
	"github.com/tombee/skillrunner/pkg/skill/expression"
)

// templatePattern matches {{ path.to.value | filter }} expressions.
var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// indexPattern matches trailing list indexes like items[0].
var indexPattern = regexp.MustCompile(`^(.*?)\[(\d+)\]$`)

// Resolver renders template expressions against a mutable execution context.
//
// Undefined variables render as empty string rather than failing, so
// {{ a.b.c }} never raises even when a is undefined. Rendering errors are
// logged and the offending placeholder is left unchanged; Render never
// returns an error to the caller.
type Resolver struct {
	logger    *slog.Logger
	evaluator *expression.Evaluator
	jqRunner  *jq.Runner

	// Base URLs for the jira_link and mr_link filters
	jiraBaseURL string
	mrBaseURL   string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLinkBases sets the base URLs used by the jira_link and mr_link filters.
func WithLinkBases(jiraBase, mrBase string) ResolverOption {
	return func(r *Resolver) {
		if jiraBase != "" {
			r.jiraBaseURL = strings.TrimRight(jiraBase, "/")
		}
		if mrBase != "" {
			r.mrBaseURL = strings.TrimRight(mrBase, "/")
		}
	}
}

// WithResolverLogger sets the logger used for render diagnostics.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a template resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		logger:      slog.Default(),
		evaluator:   expression.New(),
		jqRunner:    jq.NewRunner(0),
		jiraBaseURL: "https://jira.example.com/browse",
		mrBaseURL:   "https://gitlab.example.com/merge_requests",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render resolves all {{ ... }} placeholders in text against the context.
// Non-template strings pass through unchanged. Always returns a string.
func (r *Resolver) Render(text string, ctx map[string]interface{}) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	return templatePattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])

		value, err := r.resolveExpression(inner, ctx)
		if err != nil {
			r.logger.Warn("template render failed",
				"expression", inner,
				"error", err)
			return match
		}
		return stringify(value)
	})
}

// RenderValue resolves template expressions in an arbitrary value.
// Strings consisting of exactly one placeholder resolve to the raw context
// value, preserving its type; mixed strings render to text. Maps and slices
// are resolved recursively.
func (r *Resolver) RenderValue(value interface{}, ctx map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if inner, ok := pureExpression(v); ok {
			resolved, err := r.resolveExpression(inner, ctx)
			if err != nil {
				r.logger.Warn("template render failed",
					"expression", inner,
					"error", err)
				return v
			}
			return resolved
		}
		return r.Render(v, ctx)
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved[k] = r.RenderValue(val, ctx)
		}
		return resolved
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, val := range v {
			resolved[i] = r.RenderValue(val, ctx)
		}
		return resolved
	default:
		return value
	}
}

// EvalCondition renders a guard expression and interprets the result as a
// boolean. "true"/"1"/"yes" are true; "false"/"0"/"no"/""/"none" are false;
// any other non-empty text is true. Non-templated guards are additionally
// tried as boolean expressions so comparisons like "count > 2" work.
// Internal errors always yield false rather than propagating.
func (r *Resolver) EvalCondition(expr string, ctx map[string]interface{}) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	if strings.Contains(expr, "{{") {
		return Truthy(r.Render(expr, ctx))
	}

	if result, err := r.evaluator.Evaluate(expr, ctx); err == nil {
		return result
	}

	// Bare literals ("yes", "enabled") fall through to truthiness; anything
	// that looks like a broken expression evaluates false.
	if bareWordPattern.MatchString(expr) {
		return Truthy(expr)
	}
	return false
}

var bareWordPattern = regexp.MustCompile(`^[\w.-]+$`)

// Truthy maps rendered text to a boolean.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no", "", "none":
		return false
	default:
		return true
	}
}

// resolveExpression resolves a single placeholder body: a context path
// followed by zero or more filters separated by pipes.
func (r *Resolver) resolveExpression(inner string, ctx map[string]interface{}) (interface{}, error) {
	segments := strings.Split(inner, "|")
	path := strings.TrimSpace(segments[0])

	value, _ := lookupPath(ctx, path)

	for _, segment := range segments[1:] {
		filtered, err := r.applyFilter(strings.TrimSpace(segment), value, ctx)
		if err != nil {
			return nil, err
		}
		value = filtered
	}

	if value == nil {
		return "", nil
	}
	return value, nil
}

// lookupPath walks a dotted path with optional list indexes (a.b[0].c)
// through the context. Missing keys at any depth resolve to (nil, false);
// the chain never errors.
func lookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = ctx

	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}

		var indexes []int
		for {
			m := indexPattern.FindStringSubmatch(part)
			if m == nil {
				break
			}
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false
			}
			indexes = append([]int{idx}, indexes...)
			part = m[1]
		}

		if part != "" {
			next, ok := lookupKey(current, part)
			if !ok {
				return nil, false
			}
			current = next
		}

		for _, idx := range indexes {
			next, ok := lookupIndex(current, idx)
			if !ok {
				return nil, false
			}
			current = next
		}
	}

	return current, true
}

func lookupKey(value interface{}, key string) (interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		out, ok := v[key]
		return out, ok
	case map[string]string:
		out, ok := v[key]
		return out, ok
	case map[interface{}]interface{}:
		out, ok := v[key]
		return out, ok
	default:
		// Numeric segments index into lists: items.0.name
		if idx, err := strconv.Atoi(key); err == nil {
			return lookupIndex(value, idx)
		}
		return nil, false
	}
}

func lookupIndex(value interface{}, idx int) (interface{}, bool) {
	list, ok := value.([]interface{})
	if !ok || idx < 0 || idx >= len(list) {
		return nil, false
	}
	return list[idx], true
}

// pureExpression reports whether s is exactly one placeholder with no
// surrounding text, returning the inner expression.
func pureExpression(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// stringify converts a resolved value to its rendered text form.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
