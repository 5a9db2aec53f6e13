package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// DefaultConfidenceThreshold is the agent confidence below which a stage
// is escalated to a human regardless of findings.
const DefaultConfidenceThreshold = 0.80

// Input carries everything a rule may look at. Rules are pure functions of
// this value; they share no mutable state, so adding a rule never changes
// what another rule produces.
type Input struct {
	Stage       *schema.StageExecution
	Environment schema.Environment

	// PriorOutputs holds the outputs of already-passed stages of the
	// same run, keyed by stage kind.
	PriorOutputs map[schema.StageKind]string

	// AllowedDependencies restricts imports flagged by the dependency
	// rule; empty disables the rule.
	AllowedDependencies []string

	// RequiredMarkers must all appear in the stage output for the
	// compliance rule to stay silent; empty disables that check.
	RequiredMarkers []string

	// StrictDependencies raises dependency findings from medium to high.
	StrictDependencies bool
}

// Rule inspects a stage execution and yields zero or more findings.
type Rule interface {
	ID() string
	Evaluate(in Input) ([]schema.PolicyFinding, error)
}

// EvaluationError wraps a rule failure. The engine fails closed: a rule
// that errors or panics blocks the stage, it never approves by accident.
type EvaluationError struct {
	RuleID string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("policy rule %s failed: %v", e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Engine runs a fixed rule set and computes a decision.
type Engine struct {
	rules               []Rule
	confidenceThreshold float64
}

// NewEngine builds an engine over the given rules. A nil rule set gets the
// builtin rules.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = BuiltinRules()
	}
	return &Engine{rules: rules, confidenceThreshold: DefaultConfidenceThreshold}
}

// SetConfidenceThreshold overrides the escalation threshold. Values outside
// (0, 1] are ignored.
func (e *Engine) SetConfidenceThreshold(threshold float64) {
	if threshold > 0 && threshold <= 1 {
		e.confidenceThreshold = threshold
	}
}

type ruleOutput struct {
	findings []schema.PolicyFinding
	err      error
}

// Evaluate runs every rule against the stage and derives the decision.
// Rules execute in parallel; their findings are merged in (rule_id,
// message) order before the decision is computed, so the outcome does not
// depend on scheduling.
//
// Decision precedence, first match wins:
//  1. any finding ranked high+     -> block (unknown severities rank
//     above critical, so they block too)
//  2. confidence below threshold   -> escalate
//  3. any medium finding           -> warn
//  4. otherwise                    -> approve
//
// A failing rule returns outcome block together with an *EvaluationError.
func (e *Engine) Evaluate(in Input) (schema.Decision, error) {
	if in.Stage == nil {
		return schema.Decision{Outcome: schema.OutcomeBlock}, &EvaluationError{RuleID: "engine", Err: fmt.Errorf("stage required")}
	}

	outputs := make([]ruleOutput, len(e.rules))
	var wg sync.WaitGroup
	for i, rule := range e.rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outputs[i] = ruleOutput{err: &EvaluationError{RuleID: rule.ID(), Err: fmt.Errorf("panic: %v", r)}}
				}
			}()
			findings, err := rule.Evaluate(in)
			if err != nil {
				outputs[i] = ruleOutput{err: &EvaluationError{RuleID: rule.ID(), Err: err}}
				return
			}
			outputs[i] = ruleOutput{findings: findings}
		}(i, rule)
	}
	wg.Wait()

	var findings []schema.PolicyFinding
	var ruleErr error
	for _, out := range outputs {
		if out.err != nil && ruleErr == nil {
			ruleErr = out.err
		}
		findings = append(findings, out.findings...)
	}
	sortFindings(findings)

	decision := schema.Decision{
		Findings:   findings,
		Confidence: in.Stage.Confidence,
	}

	if ruleErr != nil {
		decision.Outcome = schema.OutcomeBlock
		return decision, ruleErr
	}

	switch max := schema.MaxSeverity(findings); {
	case len(findings) > 0 && max.Rank() >= schema.SeverityHigh.Rank():
		decision.Outcome = schema.OutcomeBlock
	case in.Stage.Confidence < e.confidenceThreshold:
		decision.Outcome = schema.OutcomeEscalate
	case max == schema.SeverityMedium:
		decision.Outcome = schema.OutcomeWarn
	default:
		decision.Outcome = schema.OutcomeApprove
	}
	return decision, nil
}

func sortFindings(findings []schema.PolicyFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].RuleID != findings[j].RuleID {
			return findings[i].RuleID < findings[j].RuleID
		}
		return findings[i].Message < findings[j].Message
	})
}
