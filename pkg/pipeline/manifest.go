package pipeline

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// StageSpec declares one stage of a pipeline manifest.
type StageSpec struct {
	Kind       schema.StageKind `yaml:"kind"`
	Role       string           `yaml:"role"`
	Invoker    string           `yaml:"invoker"`
	Model      string           `yaml:"model"`
	Prompt     string           `yaml:"prompt"`
	Verbs      []schema.Verb    `yaml:"verbs"`
	MaxRetries int              `yaml:"max_retries"`
}

// Manifest is a pipeline definition.
type Manifest struct {
	Name           string             `yaml:"name"`
	Environment    schema.Environment `yaml:"environment"`
	DefaultInvoker string             `yaml:"default_invoker"`
	DefaultModel   string             `yaml:"default_model"`
	Stages         []*StageSpec       `yaml:"stages"`
}

// defaultRoles maps each stage kind to the agent role that runs it when
// the manifest does not say otherwise.
var defaultRoles = map[schema.StageKind]string{
	schema.StageDesign:   "design",
	schema.StageDev:      "dev",
	schema.StageTest:     "test",
	schema.StageCyber:    "cyber",
	schema.StageBuild:    "cicd",
	schema.StageArtifact: "cicd",
	schema.StageDeploy:   "cicd",
}

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

func stageOrderIndex(kind schema.StageKind) int {
	for i, k := range schema.StageOrder {
		if k == kind {
			return i
		}
	}
	return -1
}

// Validate checks the manifest and fills in default roles. Stages must
// follow the fixed kind order with no kind repeated.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if m.Environment == "" {
		m.Environment = schema.EnvDev
	}
	if !schema.IsKnownEnvironment(m.Environment) {
		return fmt.Errorf("unknown environment %q", m.Environment)
	}
	if len(m.Stages) == 0 {
		return fmt.Errorf("pipeline must define at least one stage")
	}

	lastIndex := -1
	for _, stage := range m.Stages {
		if !schema.IsKnownStageKind(stage.Kind) {
			return fmt.Errorf("unknown stage kind %q", stage.Kind)
		}
		index := stageOrderIndex(stage.Kind)
		if index <= lastIndex {
			return fmt.Errorf("stage %s out of order: stages must follow %v", stage.Kind, schema.StageOrder)
		}
		lastIndex = index

		if stage.Role == "" {
			stage.Role = defaultRoles[stage.Kind]
		}
		if stage.Prompt == "" {
			return fmt.Errorf("stage %s must have a prompt", stage.Kind)
		}
		for _, verb := range stage.Verbs {
			if !schema.IsKnownVerb(verb) {
				return fmt.Errorf("stage %s: unknown verb %q", stage.Kind, verb)
			}
		}
		if stage.MaxRetries < 0 {
			return fmt.Errorf("stage %s: max_retries negative", stage.Kind)
		}
	}

	return nil
}

// renderTask expands a stage prompt template with the run input and the
// outputs of already-passed stages, keyed by stage kind.
func renderTask(prompt, input string, outputs map[schema.StageKind]string) (string, error) {
	byKind := make(map[string]string, len(outputs))
	for kind, output := range outputs {
		byKind[string(kind)] = output
	}
	data := map[string]any{
		"Input":   input,
		"input":   input,
		"Outputs": byKind,
		"outputs": byKind,
	}

	tmpl, err := template.New("task").Parse(prompt)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
