package skill

import (
	"strings"
	"time"
)

// NewRunContext seeds an execution context with caller inputs, global
// config, the workspace identifier, and the current date. Every step sees
// the same map; later writes overwrite earlier ones.
func NewRunContext(inputs, config map[string]interface{}, workspace string) map[string]interface{} {
	ctx := make(map[string]interface{}, len(inputs)+len(config)+3)
	for k, v := range config {
		ctx[k] = v
	}
	for k, v := range inputs {
		ctx[k] = v
	}
	if config != nil {
		ctx["config"] = config
	}
	if workspace != "" {
		ctx["workspace"] = workspace
	}
	ctx["current_date"] = time.Now().Format("2006-01-02")
	return ctx
}

// ParseKeyValues extracts "key: value" lines from plain-text capability
// output. Backends that print status blocks get their fields into the
// context for free under the step's <output>_parsed key.
func ParseKeyValues(text string) map[string]string {
	parsed := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		parsed[key] = value
	}
	if len(parsed) == 0 {
		return nil
	}
	return parsed
}
