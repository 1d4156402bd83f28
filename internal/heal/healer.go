// Package heal classifies capability failures and attempts one-shot
// automatic remediation: re-authenticate for auth failures, reconnect for
// network failures, then retry the original invocation exactly once.
//
// Matches against a persisted library of known error patterns are recorded
// with usage counters so the library learns which fixes actually work.
package heal

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/skillrunner/pkg/capability"
	"github.com/tombee/skillrunner/pkg/skill"
)

// Heal types returned by Classify.
const (
	HealTypeAuth    = "auth"
	HealTypeNetwork = "network"
	HealTypeNone    = "none"
)

// Remediation capability names. Deployments register their own
// implementations; the healer only knows the names.
const (
	CapReauthenticate = "reauthenticate"
	CapReconnect      = "reconnect"
)

// reconnectSettleDelay gives the transport a moment to come back before
// the retry.
const reconnectSettleDelay = 2 * time.Second

// authSignatures are checked before networkSignatures; an expired token
// often surfaces as a connection error further down the stack, and
// re-authenticating fixes both.
var authSignatures = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"credentials have expired",
	"you must be logged in",
	"token expired",
	"authentication failed",
	"login required",
	"permission denied",
}

var networkSignatures = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"no such host",
	"network is unreachable",
	"dial tcp",
	"i/o timeout",
	"unable to connect",
	"timeout",
	"tls handshake",
}

// Classify maps failure text to a heal type.
func Classify(errText string) string {
	lower := strings.ToLower(errText)
	for _, sig := range authSignatures {
		if strings.Contains(lower, sig) {
			return HealTypeAuth
		}
	}
	for _, sig := range networkSignatures {
		if strings.Contains(lower, sig) {
			return HealTypeNetwork
		}
	}
	return HealTypeNone
}

// GuessCluster derives a best-guess target environment from contextual
// keywords in the failure text, used to parameterize remediation.
func GuessCluster(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "prod"):
		return "production"
	case strings.Contains(lower, "staging"), strings.Contains(lower, "stage"):
		return "staging"
	case strings.Contains(lower, "dev"):
		return "dev"
	default:
		return ""
	}
}

// Healer implements skill.Healer against a capability invoker, the learned
// pattern library, and the bounded failure log.
type Healer struct {
	invoker  *capability.Invoker
	library  *Library
	failures *FailureLog
	logger   *slog.Logger

	settleDelay time.Duration
}

// Option configures a Healer.
type Option func(*Healer)

// WithLibrary attaches the learned pattern library.
func WithLibrary(l *Library) Option {
	return func(h *Healer) { h.library = l }
}

// WithFailureLog attaches the bounded failure log.
func WithFailureLog(f *FailureLog) Option {
	return func(h *Healer) { h.failures = f }
}

// WithSettleDelay overrides the post-reconnect settle delay (tests).
func WithSettleDelay(d time.Duration) Option {
	return func(h *Healer) { h.settleDelay = d }
}

// New creates a healer.
func New(invoker *capability.Invoker, logger *slog.Logger, opts ...Option) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Healer{
		invoker:     invoker,
		logger:      logger,
		settleDelay: reconnectSettleDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Heal classifies the failure, applies the matching remediation capability,
// and re-invokes the original capability exactly once. Unknown failure
// classes are never retried.
func (h *Healer) Heal(ctx context.Context, errText, capabilityName string, args map[string]interface{}) (*skill.HealResult, error) {
	healType := Classify(errText)
	if healType == HealTypeNone {
		return &skill.HealResult{HealType: HealTypeNone}, nil
	}

	var matched *Pattern
	if h.library != nil {
		p, err := h.library.Match(ctx, errText)
		if err != nil {
			h.logger.Warn("pattern library lookup failed", "error", err)
		} else {
			matched = p
		}
	}

	remediation := CapReauthenticate
	if healType == HealTypeNetwork {
		remediation = CapReconnect
	}

	remediationArgs := map[string]interface{}{}
	if cluster := GuessCluster(errText); cluster != "" {
		remediationArgs["cluster"] = cluster
	}

	h.logger.Info("attempting heal",
		"heal_type", healType,
		"remediation", remediation,
		"capability", capabilityName)

	fixOutcome := h.invoker.Invoke(ctx, remediation, remediationArgs)
	if !fixOutcome.Success {
		h.logger.Warn("remediation failed",
			"remediation", remediation,
			"error", fixOutcome.Error)
		h.record(ctx, capabilityName, errText, healType, false)
		return &skill.HealResult{HealType: healType}, nil
	}

	if healType == HealTypeNetwork {
		select {
		case <-time.After(h.settleDelay):
		case <-ctx.Done():
			return &skill.HealResult{HealType: healType}, ctx.Err()
		}
	}

	// The one retry. A second failure is a normal failure, never a loop.
	retried := h.invoker.Invoke(ctx, capabilityName, args)

	if retried.Success && matched != nil {
		if err := h.library.RecordFixed(ctx, matched.Pattern); err != nil {
			h.logger.Warn("failed to record pattern fix", "error", err)
		}
	}
	h.record(ctx, capabilityName, errText, healType, retried.Success)

	return &skill.HealResult{
		Healed:   retried.Success,
		HealType: healType,
		Outcome:  retried,
	}, nil
}

func (h *Healer) record(ctx context.Context, capabilityName, errText, healType string, healed bool) {
	if h.failures == nil {
		return
	}
	err := h.failures.Append(ctx, FailureEntry{
		Time:       time.Now().UTC(),
		Capability: capabilityName,
		Error:      errText,
		HealType:   healType,
		Healed:     healed,
	})
	if err != nil {
		h.logger.Warn("failed to append failure log", "error", err)
	}
}
