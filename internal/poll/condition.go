// Package poll implements the condition-poll engine: named external data
// sources are fetched on a timer, evaluated against a small condition DSL,
// deduplicated against a triggered-hash set, and matched items start skill
// runs through a job callback.
package poll

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/skillrunner/pkg/errors"
)

// ConditionType is the DSL variant.
type ConditionType string

const (
	// ConditionAny is met when the item list is non-empty. Default.
	ConditionAny ConditionType = "any"
	// ConditionCount compares the item count against a threshold.
	ConditionCount ConditionType = "count"
	// ConditionAge matches items older or newer than a duration.
	ConditionAge ConditionType = "age"
)

// Condition is a parsed DSL expression:
//
//	any
//	count {op} N       op in > >= < <= == != <> =
//	age {op} DURATION  DURATION like 30s, 5min, 2h, 1d, 1w
type Condition struct {
	Type  ConditionType
	Op    string
	Count int
	Age   time.Duration
	Raw   string
}

var (
	countPattern    = regexp.MustCompile(`^count\s*(>=|<=|==|!=|<>|>|<|=)\s*(\d+)$`)
	agePattern      = regexp.MustCompile(`^age\s*(>=|<=|==|!=|<>|>|<|=)\s*(\d+)\s*([a-z]+)$`)
	durationUnits = map[string]time.Duration{
		"s": time.Second, "sec": time.Second, "secs": time.Second,
		"second": time.Second, "seconds": time.Second,
		"m": time.Minute, "min": time.Minute, "mins": time.Minute,
		"minute": time.Minute, "minutes": time.Minute,
		"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
		"hour": time.Hour, "hours": time.Hour,
		"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
		"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	}
)

// ParseCondition parses a condition string. Empty input means "any".
func ParseCondition(s string) (*Condition, error) {
	raw := strings.ToLower(strings.TrimSpace(s))

	if raw == "" || raw == "any" {
		return &Condition{Type: ConditionAny, Raw: raw}, nil
	}

	if m := countPattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, invalidCondition(s, "count threshold is not a number")
		}
		return &Condition{Type: ConditionCount, Op: normalizeOp(m[1]), Count: n, Raw: raw}, nil
	}

	if m := agePattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, invalidCondition(s, "age value is not a number")
		}
		unit, ok := durationUnits[m[3]]
		if !ok {
			return nil, invalidCondition(s, fmt.Sprintf("unknown duration unit %q", m[3]))
		}
		return &Condition{Type: ConditionAge, Op: normalizeOp(m[1]), Age: time.Duration(n) * unit, Raw: raw}, nil
	}

	return nil, invalidCondition(s, "unrecognized condition syntax")
}

func invalidCondition(s, reason string) error {
	return &errors.ValidationError{
		Field:      "condition",
		Message:    fmt.Sprintf("invalid condition %q: %s", s, reason),
		Suggestion: "use any, count {op} N, or age {op} DURATION (e.g. age > 2h)",
	}
}

func normalizeOp(op string) string {
	switch op {
	case "<>":
		return "!="
	case "=":
		return "=="
	default:
		return op
	}
}

// Evaluate checks the condition against the item list and returns whether
// it is met plus the matching items. Items with unparsable dates are
// excluded from age conditions, never an error.
func (c *Condition) Evaluate(items []map[string]interface{}, now time.Time) (bool, []map[string]interface{}) {
	switch c.Type {
	case ConditionCount:
		if compareInt(len(items), c.Op, c.Count) {
			return true, items
		}
		return false, nil

	case ConditionAge:
		var matching []map[string]interface{}
		for _, item := range items {
			ts, ok := itemTimestamp(item)
			if !ok {
				continue
			}
			if compareDuration(now.Sub(ts), c.Op, c.Age) {
				matching = append(matching, item)
			}
		}
		return len(matching) > 0, matching

	default: // any
		if len(items) > 0 {
			return true, items
		}
		return false, nil
	}
}

func compareInt(a int, op string, b int) bool {
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	default:
		return false
	}
}

func compareDuration(a time.Duration, op string, b time.Duration) bool {
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	default:
		return false
	}
}

// itemTimestamp extracts a timestamp from the conventional item fields.
func itemTimestamp(item map[string]interface{}) (time.Time, bool) {
	for _, field := range []string{"created_at", "updated_at", "date"} {
		raw, ok := item[field]
		if !ok {
			continue
		}
		if t, ok := raw.(time.Time); ok {
			return t, true
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if t, ok := parseItemTime(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseItemTime accepts ISO-8601 with or without zone suffix, plus bare
// dates.
func parseItemTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
