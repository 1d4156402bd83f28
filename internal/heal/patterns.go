package heal

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pattern is one learned error->fix association. The engine only updates
// the usage counters; pattern text and remediation are authored externally.
type Pattern struct {
	// Pattern is the error text fragment matched by substring
	Pattern string `yaml:"pattern"`

	// Category groups patterns: auth, network, bonfire, pipeline
	Category string `yaml:"category"`

	// Remediation lists the commands or capability invocations that fix
	// this class of failure
	Remediation []string `yaml:"remediation,omitempty"`

	// Matched counts how often this pattern matched a failure
	Matched int `yaml:"matched"`

	// Fixed counts how often the remediation actually resolved it
	Fixed int `yaml:"fixed"`

	// SuccessRate is Fixed/Matched, rounded to two decimals
	SuccessRate float64 `yaml:"success_rate"`
}

type patternDocument struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Library is the persisted pattern collection. Every read-modify-write of
// the backing YAML file happens under an exclusive flock so concurrent
// runs never lose counter updates.
type Library struct {
	path string
}

// NewLibrary creates a library backed by the YAML file at path. A missing
// file behaves as an empty library.
func NewLibrary(path string) *Library {
	return &Library{path: path}
}

// Load reads all patterns without taking the lock. Intended for read-only
// inspection (the patterns CLI).
func (l *Library) Load() ([]Pattern, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc patternDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid pattern library %s: %w", l.path, err)
	}
	return doc.Patterns, nil
}

// Match finds the first pattern whose text occurs in errText
// (case-insensitive substring), increments its match counter, and persists
// the update atomically. Returns nil when nothing matches.
func (l *Library) Match(ctx context.Context, errText string) (*Pattern, error) {
	var matched *Pattern
	err := l.update(ctx, func(doc *patternDocument) bool {
		lower := strings.ToLower(errText)
		for i := range doc.Patterns {
			p := &doc.Patterns[i]
			if p.Pattern == "" || !strings.Contains(lower, strings.ToLower(p.Pattern)) {
				continue
			}
			p.Matched++
			p.SuccessRate = successRate(p.Fixed, p.Matched)
			copied := *p
			matched = &copied
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// RecordFixed increments the fix counter of the named pattern and
// recomputes its success rate.
func (l *Library) RecordFixed(ctx context.Context, patternText string) error {
	return l.update(ctx, func(doc *patternDocument) bool {
		for i := range doc.Patterns {
			p := &doc.Patterns[i]
			if p.Pattern != patternText {
				continue
			}
			p.Fixed++
			p.SuccessRate = successRate(p.Fixed, p.Matched)
			return true
		}
		return false
	})
}

// update runs one locked read-modify-write cycle. The mutation function
// returns whether anything changed; unchanged documents are not rewritten.
func (l *Library) update(ctx context.Context, mutate func(*patternDocument) bool) error {
	lock, err := acquireLock(ctx, l.path)
	if err != nil {
		return err
	}
	defer lock.release()

	var doc patternDocument
	data, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid pattern library %s: %w", l.path, err)
		}
	}

	if !mutate(&doc) {
		return nil
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, out, 0o600)
}

func successRate(fixed, matched int) float64 {
	if matched == 0 {
		return 0
	}
	return math.Round(float64(fixed)/float64(matched)*100) / 100
}
