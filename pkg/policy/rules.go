package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// BuiltinRules returns the shipped rule set in a fixed order. Order only
// affects goroutine scheduling; findings are re-sorted before the decision.
func BuiltinRules() []Rule {
	return []Rule{
		SecretPatternRule{},
		LintStyleRule{},
		ExecInjectionRule{},
		DependencyAllowlistRule{},
		ComplianceMarkerRule{},
		CompletenessRule{},
	}
}

// === secret-pattern ===

var secretPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"aws access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private key material", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |PGP )?PRIVATE KEY`)},
	{"hardcoded credential", regexp.MustCompile(`(?i)(?:password|passwd|secret|api[_-]?key|auth[_-]?token)\s*[:=]\s*["'][^"']{8,}["']`)},
	{"bearer token", regexp.MustCompile(`(?i)authorization:\s*bearer\s+[a-z0-9._\-]{20,}`)},
}

// SecretPatternRule scans stage output for credential material. Any hit is
// critical: secrets in agent output must never reach a repository or log.
type SecretPatternRule struct{}

func (SecretPatternRule) ID() string { return "secret-pattern" }

func (r SecretPatternRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	var findings []schema.PolicyFinding
	for _, pattern := range secretPatterns {
		if loc := pattern.re.FindStringIndex(in.Stage.Output); loc != nil {
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityCritical,
				Category: "secrets",
				Message:  fmt.Sprintf("%s detected in stage output", pattern.name),
				Location: lineOf(in.Stage.Output, loc[0]),
			})
		}
	}
	return findings, nil
}

// === lint-style ===

const (
	maxLineLength    = 160
	todoDensityLimit = 5
)

var todoPattern = regexp.MustCompile(`(?i)\b(?:TODO|FIXME|XXX)\b`)

// LintStyleRule raises low-severity hygiene findings; it never blocks on
// its own.
type LintStyleRule struct{}

func (LintStyleRule) ID() string { return "lint-style" }

func (r LintStyleRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	var findings []schema.PolicyFinding

	long := 0
	trailing := 0
	for _, line := range strings.Split(in.Stage.Output, "\n") {
		if len(line) > maxLineLength {
			long++
		}
		if line != strings.TrimRight(line, " \t") {
			trailing++
		}
	}
	if long > 0 {
		findings = append(findings, schema.PolicyFinding{
			RuleID:   r.ID(),
			Severity: schema.SeverityInfo,
			Category: "style",
			Message:  fmt.Sprintf("%d lines exceed %d characters", long, maxLineLength),
		})
	}
	if trailing > 0 {
		findings = append(findings, schema.PolicyFinding{
			RuleID:   r.ID(),
			Severity: schema.SeverityInfo,
			Category: "style",
			Message:  fmt.Sprintf("%d lines carry trailing whitespace", trailing),
		})
	}
	if todos := len(todoPattern.FindAllStringIndex(in.Stage.Output, -1)); todos > todoDensityLimit {
		findings = append(findings, schema.PolicyFinding{
			RuleID:   r.ID(),
			Severity: schema.SeverityLow,
			Category: "style",
			Message:  fmt.Sprintf("%d TODO/FIXME markers, limit %d", todos, todoDensityLimit),
		})
	}
	return findings, nil
}

// === exec-injection ===

var execPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"shell invocation of untrusted input", regexp.MustCompile(`(?i)os\.system\(|subprocess\..*shell\s*=\s*True|child_process\.exec\(`)},
	{"dynamic code evaluation", regexp.MustCompile(`(?i)\beval\s*\(|\bexec\s*\(`)},
	{"piped remote script execution", regexp.MustCompile(`(?i)curl[^\n|]*\|\s*(?:ba)?sh`)},
	{"sql built by string concatenation", regexp.MustCompile(`(?i)(?:select|insert|update|delete)\s[^\n"]*"\s*\+`)},
}

// ExecInjectionRule covers the OWASP-class checks: injection-prone exec
// and query construction in produced code.
type ExecInjectionRule struct{}

func (ExecInjectionRule) ID() string { return "exec-injection" }

func (r ExecInjectionRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	var findings []schema.PolicyFinding
	for _, pattern := range execPatterns {
		if loc := pattern.re.FindStringIndex(in.Stage.Output); loc != nil {
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityHigh,
				Category: "owasp",
				Message:  pattern.name,
				Location: lineOf(in.Stage.Output, loc[0]),
			})
		}
	}
	return findings, nil
}

// === dep-allowlist ===

var importPattern = regexp.MustCompile(`(?m)^\s*(?:import\s+"([^"]+)"|import\s+([a-zA-Z0-9_.]+)|from\s+([a-zA-Z0-9_.]+)\s+import|require\(['"]([^'"]+)['"]\))`)

// DependencyAllowlistRule flags imports outside the configured allowlist.
// Disabled when the allowlist is empty.
type DependencyAllowlistRule struct{}

func (DependencyAllowlistRule) ID() string { return "dep-allowlist" }

func (r DependencyAllowlistRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	if len(in.AllowedDependencies) == 0 {
		return nil, nil
	}

	severity := schema.SeverityMedium
	if in.StrictDependencies {
		severity = schema.SeverityHigh
	}

	var findings []schema.PolicyFinding
	seen := make(map[string]struct{})
	for _, match := range importPattern.FindAllStringSubmatch(in.Stage.Output, -1) {
		dep := firstGroup(match[1:])
		if dep == "" {
			continue
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		if !dependencyAllowed(dep, in.AllowedDependencies) {
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: severity,
				Category: "dependencies",
				Message:  fmt.Sprintf("dependency %q outside allowlist", dep),
			})
		}
	}
	return findings, nil
}

func dependencyAllowed(dep string, allowlist []string) bool {
	for _, prefix := range allowlist {
		if dep == prefix || strings.HasPrefix(dep, prefix+"/") || strings.HasPrefix(dep, prefix+".") {
			return true
		}
	}
	return false
}

func firstGroup(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}

// === compliance-marker ===

var selfAssessmentPattern = regexp.MustCompile(`(?m)(?:\*\*(BLOCK|WARN|APPROVE)\*\*|DECISION:\s*(BLOCK|WARN|APPROVE))`)

// ComplianceMarkerRule enforces required provenance markers and reads the
// cyber stage's own verdict. A self-reported BLOCK becomes a high finding
// so severity precedence halts the run even if every scan rule was quiet.
type ComplianceMarkerRule struct{}

func (ComplianceMarkerRule) ID() string { return "compliance-marker" }

func (r ComplianceMarkerRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	var findings []schema.PolicyFinding
	for _, marker := range in.RequiredMarkers {
		if !strings.Contains(in.Stage.Output, marker) {
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityMedium,
				Category: "compliance",
				Message:  fmt.Sprintf("required marker %q missing from stage output", marker),
			})
		}
	}

	if in.Stage.Kind == schema.StageCyber {
		switch parseSelfAssessment(in.Stage.Output) {
		case "BLOCK":
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityHigh,
				Category: "compliance",
				Message:  "security review self-reported BLOCK",
			})
		case "WARN":
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityMedium,
				Category: "compliance",
				Message:  "security review self-reported WARN",
			})
		}
	}
	return findings, nil
}

func parseSelfAssessment(output string) string {
	match := selfAssessmentPattern.FindStringSubmatch(output)
	if match == nil {
		return ""
	}
	return firstGroup(match[1:])
}

// === completeness ===

var stubPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"unimplemented marker", regexp.MustCompile(`(?i)\bnot (?:yet )?implemented\b`)},
	{"panic placeholder", regexp.MustCompile(`panic\(["'](?:unimplemented|todo)["']\)`)},
	{"raised NotImplementedError", regexp.MustCompile(`raise\s+NotImplementedError`)},
	{"empty function body", regexp.MustCompile(`(?m)^\s*(?:func|def)\s+\w+[^\n]*\{?\s*$\n^\s*(?:\}|pass\s*$)`)},
}

// CompletenessRule flags stubbed or hollow output so an empty skeleton
// cannot sail through as an approved implementation.
type CompletenessRule struct{}

func (CompletenessRule) ID() string { return "completeness" }

func (r CompletenessRule) Evaluate(in Input) ([]schema.PolicyFinding, error) {
	if in.Stage.Kind != schema.StageDev && in.Stage.Kind != schema.StageTest {
		return nil, nil
	}
	var findings []schema.PolicyFinding
	for _, pattern := range stubPatterns {
		if loc := pattern.re.FindStringIndex(in.Stage.Output); loc != nil {
			findings = append(findings, schema.PolicyFinding{
				RuleID:   r.ID(),
				Severity: schema.SeverityMedium,
				Category: "completeness",
				Message:  pattern.name,
				Location: lineOf(in.Stage.Output, loc[0]),
			})
		}
	}
	return findings, nil
}

func lineOf(text string, offset int) string {
	if offset < 0 || offset > len(text) {
		return ""
	}
	line := 1 + strings.Count(text[:offset], "\n")
	return fmt.Sprintf("line %d", line)
}
