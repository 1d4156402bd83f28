package skill

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/skillrunner/pkg/errors"
)

const sampleSkill = `
name: triage-issue
description: Triage a newly reported issue
inputs:
  - name: issue_key
    required: true
  - name: assignee
    default: triage-bot
defaults:
  env: staging
steps:
  - name: fetch
    capability: http.get
    args:
      url: "https://example.com/{{ issue_key }}"
    output: issue
    on_error: auto_heal
  - name: summarize
    compute: 'str.upper(issue)'
    output: summary
  - name: notify humans
    manual: Ping the on-call channel if severity is high
outputs:
  - name: report
    value: "{{ summary }}"
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleSkill))
	require.NoError(t, err)

	assert.Equal(t, "triage-issue", def.Name)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "capability", def.Steps[0].Kind())
	assert.Equal(t, OnErrorAutoHeal, def.Steps[0].ErrorPolicy())
	assert.Equal(t, "compute", def.Steps[1].Kind())
	assert.Equal(t, OnErrorFail, def.Steps[1].ErrorPolicy())
	assert.Equal(t, "manual", def.Steps[2].Kind())
	assert.Equal(t, "staging", def.Defaults["env"])
}

func TestParseDefinitionInvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{
			name: "missing name",
			def: Definition{
				Steps: []StepDefinition{{Manual: "do it"}},
			},
		},
		{
			name: "no steps",
			def:  Definition{Name: "empty"},
		},
		{
			name: "step with no variant",
			def: Definition{
				Name:  "bad",
				Steps: []StepDefinition{{Name: "nothing"}},
			},
		},
		{
			name: "step with two variants",
			def: Definition{
				Name: "bad",
				Steps: []StepDefinition{
					{Capability: "shell.run", Compute: "1 + 1"},
				},
			},
		},
		{
			name: "unknown error policy",
			def: Definition{
				Name: "bad",
				Steps: []StepDefinition{
					{Capability: "shell.run", OnError: "retry-forever"},
				},
			},
		},
		{
			name: "on_error on compute step",
			def: Definition{
				Name: "bad",
				Steps: []StepDefinition{
					{Compute: "1 + 1", Output: "x", OnError: "continue"},
				},
			},
		},
		{
			name: "compute without output",
			def: Definition{
				Name:  "bad",
				Steps: []StepDefinition{{Compute: "1 + 1"}},
			},
		},
		{
			name: "output with value and compute",
			def: Definition{
				Name:  "bad",
				Steps: []StepDefinition{{Manual: "x"}},
				Outputs: []OutputDefinition{
					{Name: "r", Value: "v", Compute: "1"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			var verr *errors.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSkill), 0o644))

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "triage-issue", def.Name)

	_, err = LoadFile(filepath.Join(dir, "absent.yaml"))
	var nf *errors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStepName(t *testing.T) {
	def := Definition{
		Name: "s",
		Steps: []StepDefinition{
			{Name: "named", Manual: "x"},
			{Manual: "y"},
		},
	}
	assert.Equal(t, "named", def.StepName(0))
	assert.Equal(t, "step-2", def.StepName(1))
}
