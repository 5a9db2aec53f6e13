package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

const sampleManifest = `
name: checkout-svc
environment: staging
default_invoker: mock
stages:
  - kind: design
    prompt: "design {{.Input}}"
    verbs: [read]
  - kind: dev
    prompt: "implement using {{.Outputs.design}}"
    verbs: [read, write]
    max_retries: 2
  - kind: deploy
    role: cicd
    prompt: "ship it"
    verbs: [deploy]
`

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Environment != schema.EnvStaging {
		t.Fatalf("environment = %q", m.Environment)
	}
	if len(m.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(m.Stages))
	}
	// Roles default from stage kind.
	if m.Stages[0].Role != "design" || m.Stages[1].Role != "dev" || m.Stages[2].Role != "cicd" {
		t.Fatalf("default roles wrong: %q %q %q", m.Stages[0].Role, m.Stages[1].Role, m.Stages[2].Role)
	}
	if m.Stages[1].MaxRetries != 2 {
		t.Fatalf("max_retries = %d", m.Stages[1].MaxRetries)
	}
}

func TestValidateRejectsBadManifests(t *testing.T) {
	cases := map[string]*Manifest{
		"no name":   {Stages: []*StageSpec{{Kind: schema.StageDev, Prompt: "x"}}},
		"no stages": {Name: "p"},
		"unknown environment": {
			Name:        "p",
			Environment: "qa",
			Stages:      []*StageSpec{{Kind: schema.StageDev, Prompt: "x"}},
		},
		"unknown kind": {
			Name:   "p",
			Stages: []*StageSpec{{Kind: "review", Prompt: "x"}},
		},
		"out of order": {
			Name: "p",
			Stages: []*StageSpec{
				{Kind: schema.StageTest, Prompt: "x"},
				{Kind: schema.StageDev, Prompt: "x"},
			},
		},
		"repeated kind": {
			Name: "p",
			Stages: []*StageSpec{
				{Kind: schema.StageDev, Prompt: "x"},
				{Kind: schema.StageDev, Prompt: "x"},
			},
		},
		"missing prompt": {
			Name:   "p",
			Stages: []*StageSpec{{Kind: schema.StageDev}},
		},
		"unknown verb": {
			Name:   "p",
			Stages: []*StageSpec{{Kind: schema.StageDev, Prompt: "x", Verbs: []schema.Verb{"destroy"}}},
		},
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			if err := m.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRenderTaskExposesPriorOutputs(t *testing.T) {
	task, err := renderTask(
		"implement {{.Input}} following {{.Outputs.design}}",
		"retry logic",
		map[schema.StageKind]string{schema.StageDesign: "use exponential backoff"},
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(task, "retry logic") || !strings.Contains(task, "exponential backoff") {
		t.Fatalf("rendered task missing data: %q", task)
	}
}
