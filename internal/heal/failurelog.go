package heal

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxFailureEntries caps the persisted failure history. Older entries are
// dropped oldest-first.
const maxFailureEntries = 100

// FailureEntry is one recorded heal attempt, success or failure, kept for
// offline learning.
type FailureEntry struct {
	Time       time.Time `yaml:"time"`
	Capability string    `yaml:"capability"`
	Error      string    `yaml:"error"`
	HealType   string    `yaml:"heal_type"`
	Healed     bool      `yaml:"healed"`
}

type failureDocument struct {
	Failures []FailureEntry `yaml:"failures"`
}

// FailureLog is the bounded, append-only heal history. Appends happen
// under the same flock discipline as the pattern library.
type FailureLog struct {
	path string
}

// NewFailureLog creates a failure log backed by the YAML file at path.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Append adds an entry, trimming the history to the last 100.
func (f *FailureLog) Append(ctx context.Context, entry FailureEntry) error {
	lock, err := acquireLock(ctx, f.path)
	if err != nil {
		return err
	}
	defer lock.release()

	var doc failureDocument
	data, err := os.ReadFile(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid failure log %s: %w", f.path, err)
		}
	}

	doc.Failures = append(doc.Failures, entry)
	if len(doc.Failures) > maxFailureEntries {
		doc.Failures = doc.Failures[len(doc.Failures)-maxFailureEntries:]
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// Load reads the full history, oldest first.
func (f *FailureLog) Load() ([]FailureEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc failureDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid failure log %s: %w", f.path, err)
	}
	return doc.Failures, nil
}
