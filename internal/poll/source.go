package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tombee/skillrunner/pkg/capability"
	"github.com/tombee/skillrunner/pkg/errors"
)

// Source fetches the current item list for a poll source. Items are plain
// maps; the engine only looks at id/key fields for deduplication and
// timestamp fields for age conditions.
type Source interface {
	Fetch(ctx context.Context, args map[string]interface{}) ([]map[string]interface{}, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, args map[string]interface{}) ([]map[string]interface{}, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, args map[string]interface{}) ([]map[string]interface{}, error) {
	return f(ctx, args)
}

// SourceRegistry maps source type names to fetcher implementations.
// Populated at process start.
type SourceRegistry struct {
	mu    sync.RWMutex
	types map[string]Source
}

// NewSourceRegistry creates an empty source registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{types: make(map[string]Source)}
}

// Register adds a source type. Duplicate types are an error.
func (r *SourceRegistry) Register(typeName string, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if typeName == "" {
		return fmt.Errorf("source type cannot be empty")
	}
	if _, exists := r.types[typeName]; exists {
		return fmt.Errorf("source type %s already registered", typeName)
	}
	r.types[typeName] = src
	return nil
}

// Get resolves a source type.
func (r *SourceRegistry) Get(typeName string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.types[typeName]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "source type", ID: typeName}
	}
	return src, nil
}

// NewCapabilitySource adapts a capability as a poll source: the capability
// is invoked with the source args and its result text is decoded as a JSON
// array of items. This lets the same backends that serve skill steps feed
// the poll engine.
func NewCapabilitySource(invoker *capability.Invoker, capabilityName string) Source {
	return SourceFunc(func(ctx context.Context, args map[string]interface{}) ([]map[string]interface{}, error) {
		outcome := invoker.Invoke(ctx, capabilityName, args)
		if !outcome.Success {
			return nil, fmt.Errorf("source capability %s failed: %s", capabilityName, outcome.Error)
		}
		if outcome.Result == "" {
			return nil, nil
		}

		var items []map[string]interface{}
		if err := json.Unmarshal([]byte(outcome.Result), &items); err != nil {
			// Tolerate a single object
			var single map[string]interface{}
			if err2 := json.Unmarshal([]byte(outcome.Result), &single); err2 != nil {
				return nil, fmt.Errorf("source capability %s returned non-JSON output: %w", capabilityName, err)
			}
			items = []map[string]interface{}{single}
		}
		return items, nil
	})
}
