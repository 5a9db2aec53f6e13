package policy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

type staticRule struct {
	id       string
	findings []schema.PolicyFinding
	err      error
	panics   bool
}

func (r staticRule) ID() string { return r.id }

func (r staticRule) Evaluate(Input) ([]schema.PolicyFinding, error) {
	if r.panics {
		panic("bad rule")
	}
	return r.findings, r.err
}

func stage(kind schema.StageKind, output string, confidence float64) *schema.StageExecution {
	return &schema.StageExecution{
		ID:         "se-1",
		RunID:      "run-1",
		Kind:       kind,
		AgentRole:  "dev",
		Output:     output,
		Confidence: confidence,
		Status:     schema.StageRunning,
	}
}

func TestEvaluateApproveCleanHighConfidence(t *testing.T) {
	engine := NewEngine(staticRule{id: "noop"})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "clean output", 0.95)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != schema.OutcomeApprove {
		t.Fatalf("outcome = %q, want approve", decision.Outcome)
	}
	if len(decision.Findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(decision.Findings))
	}
}

func TestEvaluateBlocksOnHighSeverityRegardlessOfConfidence(t *testing.T) {
	engine := NewEngine(staticRule{
		id: "sec",
		findings: []schema.PolicyFinding{
			{RuleID: "sec", Severity: schema.SeverityCritical, Category: "secrets", Message: "leak"},
		},
	})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageCyber, "x", 0.99)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != schema.OutcomeBlock {
		t.Fatalf("outcome = %q, want block", decision.Outcome)
	}
}

func TestEvaluateBlocksWhenUnknownSeverityOutranksCritical(t *testing.T) {
	engine := NewEngine(
		staticRule{id: "sec", findings: []schema.PolicyFinding{
			{RuleID: "sec", Severity: schema.SeverityCritical, Category: "secrets", Message: "leak"},
		}},
		staticRule{id: "odd", findings: []schema.PolicyFinding{
			{RuleID: "odd", Severity: "catastrophic", Category: "x", Message: "bad severity"},
		}},
	)
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageCyber, "x", 0.95)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// The out-of-vocabulary severity ranks above critical; it must never
	// mask the critical finding into an approve.
	if decision.Outcome != schema.OutcomeBlock {
		t.Fatalf("outcome = %q, want block", decision.Outcome)
	}
}

func TestEvaluateEscalatesOnLowConfidence(t *testing.T) {
	engine := NewEngine(staticRule{id: "noop"})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDesign, "x", 0.5)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != schema.OutcomeEscalate {
		t.Fatalf("outcome = %q, want escalate", decision.Outcome)
	}
}

func TestEvaluateWarnsOnMedium(t *testing.T) {
	engine := NewEngine(staticRule{
		id: "style",
		findings: []schema.PolicyFinding{
			{RuleID: "style", Severity: schema.SeverityMedium, Category: "style", Message: "meh"},
		},
	})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "x", 0.9)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != schema.OutcomeWarn {
		t.Fatalf("outcome = %q, want warn", decision.Outcome)
	}
}

func TestEvaluateFailsClosedOnRuleError(t *testing.T) {
	engine := NewEngine(staticRule{id: "broken", err: fmt.Errorf("boom")})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "x", 0.99)})
	if err == nil {
		t.Fatalf("expected evaluation error")
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.RuleID != "broken" {
		t.Fatalf("rule id = %q", evalErr.RuleID)
	}
	if decision.Outcome != schema.OutcomeBlock {
		t.Fatalf("outcome = %q, want block on rule failure", decision.Outcome)
	}
}

func TestEvaluateFailsClosedOnRulePanic(t *testing.T) {
	engine := NewEngine(staticRule{id: "panicky", panics: true})
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "x", 0.99)})
	if err == nil {
		t.Fatalf("expected evaluation error")
	}
	if decision.Outcome != schema.OutcomeBlock {
		t.Fatalf("outcome = %q, want block on rule panic", decision.Outcome)
	}
}

func TestEvaluateMergesFindingsDeterministically(t *testing.T) {
	ruleB := staticRule{id: "b", findings: []schema.PolicyFinding{
		{RuleID: "b", Severity: schema.SeverityLow, Category: "x", Message: "m1"},
	}}
	ruleA := staticRule{id: "a", findings: []schema.PolicyFinding{
		{RuleID: "a", Severity: schema.SeverityLow, Category: "x", Message: "m2"},
		{RuleID: "a", Severity: schema.SeverityLow, Category: "x", Message: "m1"},
	}}

	for range 20 {
		engine := NewEngine(ruleB, ruleA)
		decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "x", 0.9)})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		got := make([]string, 0, len(decision.Findings))
		for _, f := range decision.Findings {
			got = append(got, f.RuleID+"/"+f.Message)
		}
		want := []string{"a/m1", "a/m2", "b/m1"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("finding order %v, want %v", got, want)
			}
		}
	}
}

func TestSetConfidenceThreshold(t *testing.T) {
	engine := NewEngine(staticRule{id: "noop"})
	engine.SetConfidenceThreshold(0.5)
	decision, err := engine.Evaluate(Input{Stage: stage(schema.StageDev, "x", 0.6)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != schema.OutcomeApprove {
		t.Fatalf("outcome = %q, want approve above lowered threshold", decision.Outcome)
	}
}
