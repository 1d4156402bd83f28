// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/skillrunner/pkg/errors"
)

// DefaultInvokeTimeout bounds a single capability invocation so the engine
// never hangs indefinitely on a misbehaving backend. Backends may enforce
// tighter timeouts internally.
const DefaultInvokeTimeout = 2 * time.Minute

// Invoker resolves capability names and executes invocations, interpreting
// outcomes and recording latency and call statistics.
type Invoker struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *MetricsCollector
	timeout  time.Duration
}

// NewInvoker creates an invoker backed by the given registry.
func NewInvoker(registry *Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry,
		logger:   logger,
		timeout:  DefaultInvokeTimeout,
	}
}

// WithMetrics sets the metrics collector for the invoker.
func (i *Invoker) WithMetrics(mc *MetricsCollector) *Invoker {
	i.metrics = mc
	return i
}

// WithTimeout sets the per-invocation timeout.
func (i *Invoker) WithTimeout(d time.Duration) *Invoker {
	if d > 0 {
		i.timeout = d
	}
	return i
}

// Registry returns the backing capability registry.
func (i *Invoker) Registry() *Registry {
	return i.registry
}

// Invoke executes the named capability with the given arguments.
//
// The returned outcome is always non-nil: resolution failures, backend
// errors, timeouts, and soft failures are all folded into the outcome so
// callers apply a single error policy. Duration is always populated.
func (i *Invoker) Invoke(ctx context.Context, name string, args map[string]interface{}) *Outcome {
	start := time.Now()

	impl, ok := i.registry.Get(name)
	if !ok {
		err := &errors.NotFoundError{Resource: "capability", ID: name}
		i.logger.Error("capability resolution failed", "capability", name, "error", err)
		outcome := &Outcome{Success: false, Error: err.Error(), Duration: time.Since(start)}
		i.metrics.RecordInvocation(ctx, name, false, outcome.Duration)
		return outcome
	}

	invokeCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	outcome, err := impl.Invoke(invokeCtx, args)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		msg := err.Error()
		if invokeCtx.Err() == context.DeadlineExceeded {
			msg = (&errors.TimeoutError{Operation: "capability invocation", Duration: i.timeout, Cause: err}).Error()
		}
		outcome = &Outcome{Success: false, Error: msg}
	case outcome == nil:
		// Contract violation: implementations must return an outcome or an error.
		outcome = &Outcome{Success: false, Error: fmt.Sprintf("capability %s returned no outcome", name)}
	}
	outcome.Duration = elapsed

	if outcome.Success {
		if matched, snippet := DetectSoftFailure(outcome.Result); matched {
			softErr := &errors.CapabilityError{
				Capability: name,
				Message:    "failure signature in result text",
				Snippet:    snippet,
				Soft:       true,
			}
			i.logger.Warn("soft failure detected",
				"capability", name,
				"snippet", snippet,
			)
			outcome.Success = false
			outcome.Error = softErr.Error()
			i.metrics.RecordSoftFailure(ctx, name)
		}
	}

	i.metrics.RecordInvocation(ctx, name, outcome.Success, elapsed)

	i.logger.Debug("capability invoked",
		"capability", name,
		"success", outcome.Success,
		"duration_ms", elapsed.Milliseconds(),
	)

	return outcome
}
