package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// DefaultConfidence is assumed when a collaborator does not self-report.
const DefaultConfidence = 0.85

// Request is the bounded input handed to an agent collaborator.
type Request struct {
	Role         string
	Task         string
	AllowedVerbs []schema.Verb
	// Context carries prior-stage output the agent may rely on.
	Context string
	Model   string
}

// Result is the complete outcome of one invocation. Streaming, if the
// provider does it, is a transport detail below this boundary.
type Result struct {
	Output     string
	Confidence float64
	// ToolCalls declares every action the collaborator performed. The
	// orchestrator audits this list against the allowed verbs; it is a
	// report, not a trusted permission check.
	ToolCalls []schema.ToolCall
	Usage     *Usage
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Invoker is the agent invocation boundary.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	Name() string
	Models() []string
}

// buildPrompt frames the task with the role's verb budget and any prior
// context. The verb list in the prompt is advisory; enforcement happens
// in the orchestrator.
func buildPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s agent in a governed delivery pipeline.\n", req.Role)
	if len(req.AllowedVerbs) > 0 {
		verbs := make([]string, len(req.AllowedVerbs))
		for i, v := range req.AllowedVerbs {
			verbs[i] = string(v)
		}
		fmt.Fprintf(&sb, "You may only perform these actions: %s.\n", strings.Join(verbs, ", "))
	}
	sb.WriteString("Finish with a line `CONFIDENCE: <0.0-1.0>` rating your own output.\n\n")
	if req.Context != "" {
		fmt.Fprintf(&sb, "Prior stage context:\n%s\n\n", req.Context)
	}
	sb.WriteString(req.Task)
	return sb.String()
}

var confidencePattern = regexp.MustCompile(`(?mi)^CONFIDENCE:\s*([01](?:\.\d+)?)\s*$`)

// parseConfidence extracts the collaborator's self-rating, falling back
// to DefaultConfidence.
func parseConfidence(output string) float64 {
	match := confidencePattern.FindStringSubmatch(output)
	if match == nil {
		return DefaultConfidence
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil || value < 0 || value > 1 {
		return DefaultConfidence
	}
	return value
}
