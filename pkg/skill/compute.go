package skill

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// DefaultComputeTimeout bounds a single compute evaluation. A bad
// expression must not wedge a run or a long-lived poll loop.
const DefaultComputeTimeout = 5 * time.Second

// Compute evaluates sandboxed expressions against the execution context.
//
// The environment is a hard security boundary: expressions may reference
// context keys and a fixed allow-list of helper namespaces (str, re, date,
// path, hash, enc) and nothing else. Unknown names are rejected at compile
// time, so there is no route to module or filesystem access.
type Compute struct {
	timeout time.Duration
}

// NewCompute creates a compute evaluator. A zero timeout selects
// DefaultComputeTimeout.
func NewCompute(timeout time.Duration) *Compute {
	if timeout == 0 {
		timeout = DefaultComputeTimeout
	}
	return &Compute{timeout: timeout}
}

// Sentinel formats a compute failure as the error sentinel stored in the
// execution context. Dependent steps detect failure by matching the prefix.
func Sentinel(err error) string {
	return fmt.Sprintf("<compute error: %s>", err.Error())
}

// IsSentinel reports whether a context value is a compute error sentinel.
func IsSentinel(value interface{}) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, "<compute error:")
}

// Evaluate runs a compute expression against the context. Errors are
// returned to the caller; the executor converts them to the sentinel and
// never lets them stop a run.
func (c *Compute) Evaluate(ctx context.Context, body string, ectx map[string]interface{}) (interface{}, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	env := make(map[string]interface{}, len(ectx)+6)
	for k, v := range ectx {
		env[k] = v
	}
	env["str"] = strHelpers
	env["re"] = reHelpers
	env["date"] = dateHelpers
	env["path"] = pathHelpers
	env["hash"] = hashHelpers
	env["enc"] = encHelpers

	// No AllowUndefinedVariables here: an unknown identifier is a compile
	// error, which is how the sandbox fails closed.
	program, err := expr.Compile(body, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("rejected: %s", compileErrorText(err))
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type evalResult struct {
		value interface{}
		err   error
	}
	done := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := expr.Run(program, env)
		done <- evalResult{value: value, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, result.err
		}
		// expr divides floats, so 1/0 yields +Inf instead of an error.
		if f, ok := result.value.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			return nil, fmt.Errorf("non-finite result (division by zero?)")
		}
		return result.value, nil
	case <-runCtx.Done():
		return nil, fmt.Errorf("timeout after %v", c.timeout)
	}
}

// compileErrorText strips expr's multi-line source snippet down to the
// first line so sentinels stay single-line.
func compileErrorText(err error) string {
	text := err.Error()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}

var strHelpers = map[string]interface{}{
	"upper":      strings.ToUpper,
	"lower":      strings.ToLower,
	"trim":       strings.TrimSpace,
	"contains":   strings.Contains,
	"has_prefix": strings.HasPrefix,
	"has_suffix": strings.HasSuffix,
	"replace":    func(s, old, new string) string { return strings.ReplaceAll(s, old, new) },
	"split": func(s, sep string) []string {
		return strings.Split(s, sep)
	},
	"join": func(parts []string, sep string) string {
		return strings.Join(parts, sep)
	},
}

var reHelpers = map[string]interface{}{
	"match": func(pattern, s string) (bool, error) {
		return regexp.MatchString(pattern, s)
	},
	"find": func(pattern, s string) (string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", err
		}
		return re.FindString(s), nil
	},
	"find_all": func(pattern, s string) ([]string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.FindAllString(s, -1), nil
	},
	"replace": func(pattern, s, repl string) (string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(s, repl), nil
	},
}

var dateHelpers = map[string]interface{}{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"today": func() string {
		return time.Now().Format("2006-01-02")
	},
	"format": func(value, layout string) (string, error) {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return "", err
		}
		return t.Format(layout), nil
	},
	"age_hours": func(value string) (float64, error) {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return 0, err
		}
		return time.Since(t).Hours(), nil
	},
}

var pathHelpers = map[string]interface{}{
	"base": filepath.Base,
	"dir":  filepath.Dir,
	"ext":  filepath.Ext,
	"join": func(parts ...string) string { return filepath.Join(parts...) },
}

var hashHelpers = map[string]interface{}{
	"sha256": func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	},
	"sha1": func(s string) string {
		sum := sha1.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	},
	"md5": func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	},
}

var encHelpers = map[string]interface{}{
	"base64": func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	},
	"base64_decode": func(s string) (string, error) {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	},
	"to_json": func(v interface{}) (string, error) {
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	},
	"from_json": func(s string) (interface{}, error) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	},
}
