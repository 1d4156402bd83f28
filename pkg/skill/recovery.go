package skill

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

// RecoveryAction is the operator's choice when interactive recovery is
// enabled and a compute step fails.
type RecoveryAction int

const (
	// RecoveryApplyFix re-evaluates with a known replacement expression.
	RecoveryApplyFix RecoveryAction = iota
	// RecoveryEditRetry re-evaluates with an operator-edited expression.
	RecoveryEditRetry
	// RecoverySkip records the sentinel and moves on, same as the
	// non-interactive default.
	RecoverySkip
	// RecoveryAbort stops the run and reports the failure.
	RecoveryAbort
)

// Recoverer decides what to do with a failed compute step. The executor
// only consults it when interactive mode is enabled; the default path
// always records the sentinel and continues.
type Recoverer interface {
	// Recover presents the failure and returns the chosen action plus a
	// replacement expression for RecoveryApplyFix and RecoveryEditRetry.
	Recover(step, expression, errText string) (RecoveryAction, string, error)
}

// KnownFixLookup resolves an error to a known replacement expression,
// typically backed by the learned pattern library.
type KnownFixLookup func(errText string) (string, bool)

// SurveyRecoverer prompts the operator on the terminal.
type SurveyRecoverer struct {
	// LookupFix supplies known fixes; nil disables the apply-fix option.
	LookupFix KnownFixLookup
}

const (
	optionApplyFix = "Apply known fix and retry"
	optionEdit     = "Edit expression and retry"
	optionSkip     = "Skip (record error and continue)"
	optionAbort    = "Abort the run"
)

// Recover prompts for one of the four recovery actions.
func (r *SurveyRecoverer) Recover(step, expression, errText string) (RecoveryAction, string, error) {
	var fix string
	options := []string{optionEdit, optionSkip, optionAbort}
	if r.LookupFix != nil {
		if known, ok := r.LookupFix(errText); ok {
			fix = known
			options = append([]string{optionApplyFix}, options...)
		}
	}

	var choice string
	prompt := &survey.Select{
		Message: fmt.Sprintf("Step %q failed: %s", step, errText),
		Options: options,
		Default: optionSkip,
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return RecoverySkip, "", err
	}

	switch choice {
	case optionApplyFix:
		return RecoveryApplyFix, fix, nil
	case optionEdit:
		edited := expression
		editPrompt := &survey.Multiline{
			Message: "Edit the expression",
			Default: expression,
		}
		if err := survey.AskOne(editPrompt, &edited); err != nil {
			return RecoverySkip, "", err
		}
		return RecoveryEditRetry, edited, nil
	case optionAbort:
		return RecoveryAbort, "", nil
	default:
		return RecoverySkip, "", nil
	}
}
