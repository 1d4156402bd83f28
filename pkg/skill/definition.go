// Package skill provides the skill execution engine.
//
// Skill definitions follow a concise YAML format: a name, optional inputs
// with defaults, an ordered list of steps, and optional outputs. Steps come
// in three variants (capability call, compute expression, manual note) plus
// an early-return block. The executor walks the step list sequentially,
// threading a single mutable context map through every step.
package skill

import (
	"fmt"
	"os"
	"strings"

	"github.com/tombee/skillrunner/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OnError policies control what happens when a capability step fails.
const (
	// OnErrorFail stops the whole run at the failing step. This is the default.
	OnErrorFail = "fail"

	// OnErrorContinue records the failure and proceeds to the next step.
	OnErrorContinue = "continue"

	// OnErrorAutoHeal attempts a one-shot remediation (re-authenticate or
	// reconnect) and retries the capability once before falling back to
	// continue semantics.
	OnErrorAutoHeal = "auto_heal"
)

// Definition represents a YAML-based skill definition.
// It is immutable once loaded; the executor never writes back to it.
type Definition struct {
	// Name is the skill identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the skill
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Inputs defines the expected input parameters
	Inputs []InputDefinition `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Defaults seeds the execution context before the first step.
	// Values may contain template expressions rendered against the inputs.
	Defaults map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// Steps are the executable units of the skill, run strictly in order
	Steps []StepDefinition `yaml:"steps" json:"steps"`

	// Outputs define what data is returned when the skill completes
	Outputs []OutputDefinition `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// InputDefinition describes a skill input parameter.
type InputDefinition struct {
	// Name is the input parameter identifier
	Name string `yaml:"name" json:"name"`

	// Required inputs must be supplied by the caller
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Default provides a fallback value if the input is not provided.
	// String defaults may contain template expressions.
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`

	// Description explains what this input is for
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// StepDefinition represents a single step in a skill.
//
// Exactly one of Capability, Compute, Manual, or Then must be set:
//   - Capability: invoke a named capability with a rendered argument map
//   - Compute: evaluate a sandboxed expression and bind the result
//   - Manual: a human-readable note, recorded but performing no work
//   - Then: render the payload and terminate the run with it immediately
type StepDefinition struct {
	// Name is a human-readable step identifier (optional; the executor
	// falls back to "step-N")
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Capability names the backend operation to invoke
	Capability string `yaml:"capability,omitempty" json:"capability,omitempty"`

	// Args maps argument names to values; string values may contain
	// template expressions rendered against the execution context
	Args map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`

	// Guard is a condition evaluated before the step runs.
	// A false guard skips the step without side effects.
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`

	// Output binds the step result into the execution context under this key
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// OnError selects the failure policy: fail (default), continue, auto_heal
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// Compute is a sandboxed expression evaluated against the context
	Compute string `yaml:"compute,omitempty" json:"compute,omitempty"`

	// Manual is a human-readable instruction; the step performs no work
	Manual string `yaml:"manual,omitempty" json:"manual,omitempty"`

	// Then is an early-return payload. When the step is reached (and its
	// guard, if any, passes) the payload is rendered and the run ends
	// immediately with it as the final output.
	Then string `yaml:"then,omitempty" json:"then,omitempty"`
}

// OutputDefinition describes a declared skill output, rendered after the
// final step. Exactly one of Value or Compute should be set.
type OutputDefinition struct {
	// Name is the output identifier
	Name string `yaml:"name" json:"name"`

	// Value is a literal or templated value
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`

	// Compute is a sandboxed expression producing the output value
	Compute string `yaml:"compute,omitempty" json:"compute,omitempty"`
}

// Kind returns the step variant: "capability", "compute", "manual" or "then".
func (s *StepDefinition) Kind() string {
	switch {
	case s.Then != "":
		return "then"
	case s.Capability != "":
		return "capability"
	case s.Compute != "":
		return "compute"
	case s.Manual != "":
		return "manual"
	default:
		return ""
	}
}

// ErrorPolicy returns the step's on_error policy, defaulting to fail.
func (s *StepDefinition) ErrorPolicy() string {
	if s.OnError == "" {
		return OnErrorFail
	}
	return s.OnError
}

// ParseDefinition parses a skill definition from YAML bytes and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Field:      "skill",
			Message:    fmt.Sprintf("invalid YAML: %s", err.Error()),
			Suggestion: "check the skill file syntax",
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile loads and validates a skill definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "skill file", ID: path}
		}
		return nil, fmt.Errorf("reading skill file %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("in %s: %w", path, err)
	}
	return def, nil
}

// Validate checks structural correctness of the definition. Definition
// errors are reported before any step executes.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "skill name is required",
			Suggestion: "add a name field to the skill definition",
		}
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "skill must declare at least one step",
			Suggestion: "add a steps list to the skill definition",
		}
	}

	for i := range d.Steps {
		step := &d.Steps[i]
		if err := validateStep(step, i); err != nil {
			return err
		}
	}

	for i, out := range d.Outputs {
		if strings.TrimSpace(out.Name) == "" {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("outputs[%d].name", i),
				Message:    "output name is required",
				Suggestion: "name every declared output",
			}
		}
		if out.Value != nil && out.Compute != "" {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("outputs[%d]", i),
				Message:    fmt.Sprintf("output %q declares both value and compute", out.Name),
				Suggestion: "use value for literals or compute for expressions, not both",
			}
		}
	}

	return nil
}

func validateStep(step *StepDefinition, index int) error {
	field := fmt.Sprintf("steps[%d]", index)

	variants := 0
	for _, set := range []bool{
		step.Capability != "",
		step.Compute != "",
		step.Manual != "",
		step.Then != "",
	} {
		if set {
			variants++
		}
	}
	if variants == 0 {
		return &errors.ValidationError{
			Field:      field,
			Message:    "step declares no capability, compute, manual, or then",
			Suggestion: "every step needs exactly one variant",
		}
	}
	if variants > 1 {
		return &errors.ValidationError{
			Field:      field,
			Message:    "step declares more than one of capability, compute, manual, then",
			Suggestion: "split into separate steps",
		}
	}

	switch step.ErrorPolicy() {
	case OnErrorFail, OnErrorContinue, OnErrorAutoHeal:
	default:
		return &errors.ValidationError{
			Field:      field + ".on_error",
			Message:    fmt.Sprintf("unknown error policy %q", step.OnError),
			Suggestion: "use fail, continue, or auto_heal",
		}
	}

	if step.OnError != "" && step.Capability == "" {
		return &errors.ValidationError{
			Field:      field + ".on_error",
			Message:    "on_error only applies to capability steps",
			Suggestion: "remove on_error from compute, manual, and then steps",
		}
	}

	if step.Compute != "" && step.Output == "" {
		return &errors.ValidationError{
			Field:      field + ".output",
			Message:    "compute step requires an output binding",
			Suggestion: "add an output key to receive the computed value",
		}
	}

	return nil
}

// StepName returns the declared step name or a positional fallback.
func (d *Definition) StepName(index int) string {
	if index >= 0 && index < len(d.Steps) && d.Steps[index].Name != "" {
		return d.Steps[index].Name
	}
	return fmt.Sprintf("step-%d", index+1)
}
