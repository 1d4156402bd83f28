package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// applyFilter applies a single named filter to a value. Filters take an
// optional argument after a colon, e.g. "default:unknown" or "jq:.items[0]".
func (r *Resolver) applyFilter(spec string, value interface{}, ctx map[string]interface{}) (interface{}, error) {
	name, arg := spec, ""
	if i := strings.Index(spec, ":"); i >= 0 {
		name, arg = spec[:i], strings.TrimSpace(spec[i+1:])
	}

	switch strings.TrimSpace(name) {
	case "jira_link":
		return r.jiraLink(value, ctx), nil
	case "mr_link":
		return r.mrLink(value, ctx), nil
	case "length":
		return valueLength(value)
	case "upper":
		return strings.ToUpper(stringify(value)), nil
	case "lower":
		return strings.ToLower(stringify(value)), nil
	case "trim":
		return strings.TrimSpace(stringify(value)), nil
	case "default":
		if value == nil || stringify(value) == "" {
			return arg, nil
		}
		return value, nil
	case "join":
		return joinValue(value, arg)
	case "to_json":
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("to_json: %w", err)
		}
		return string(encoded), nil
	case "jq":
		if arg == "" {
			return nil, fmt.Errorf("jq filter requires an expression argument")
		}
		return r.jqRunner.Run(context.Background(), arg, normalizeForJQ(value))
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}

// jiraLink formats an issue key as a hyperlink. The slack_format context
// flag selects chat markup over plain markdown.
func (r *Resolver) jiraLink(value interface{}, ctx map[string]interface{}) string {
	key := stringify(value)
	if key == "" {
		return ""
	}
	url := r.jiraBaseURL + "/" + key
	if slackFormat(ctx) {
		return fmt.Sprintf("<%s|%s>", url, key)
	}
	return fmt.Sprintf("[%s](%s)", key, url)
}

// mrLink formats a merge-request identifier as a hyperlink.
func (r *Resolver) mrLink(value interface{}, ctx map[string]interface{}) string {
	id := stringify(value)
	if id == "" {
		return ""
	}
	url := r.mrBaseURL + "/" + id
	label := "!" + strings.TrimPrefix(id, "!")
	if slackFormat(ctx) {
		return fmt.Sprintf("<%s|%s>", url, label)
	}
	return fmt.Sprintf("[%s](%s)", label, url)
}

func slackFormat(ctx map[string]interface{}) bool {
	v, ok := ctx["slack_format"]
	if !ok {
		return false
	}
	return Truthy(stringify(v))
}

func valueLength(value interface{}) (interface{}, error) {
	if value == nil {
		return 0, nil
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return v.Len(), nil
	default:
		return nil, fmt.Errorf("length not supported for %T", value)
	}
}

func joinValue(value interface{}, sep string) (interface{}, error) {
	if sep == "" {
		sep = ", "
	}
	list, ok := value.([]interface{})
	if !ok {
		return stringify(value), nil
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = stringify(item)
	}
	return strings.Join(parts, sep), nil
}

// normalizeForJQ round-trips a value through JSON so gojq only sees the
// types it understands.
func normalizeForJQ(value interface{}) interface{} {
	switch value.(type) {
	case nil, string, bool, float64:
		return value
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var normalized interface{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return value
	}
	return normalized
}
