package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		output string
		want   float64
	}{
		{"looks good\nCONFIDENCE: 0.92\n", 0.92},
		{"confidence: 0.5", 0.5},
		{"CONFIDENCE: 1.0", 1.0},
		{"CONFIDENCE: 0", 0},
		{"no marker here", DefaultConfidence},
		{"CONFIDENCE: 3.5", DefaultConfidence},
		{"inline CONFIDENCE: 0.4 text", DefaultConfidence},
	}
	for _, tc := range cases {
		if got := parseConfidence(tc.output); got != tc.want {
			t.Errorf("parseConfidence(%q) = %v, want %v", tc.output, got, tc.want)
		}
	}
}

func TestBuildPromptFramesVerbsAndContext(t *testing.T) {
	prompt := buildPrompt(Request{
		Role:         "dev",
		Task:         "implement the parser",
		AllowedVerbs: []schema.Verb{schema.VerbRead, schema.VerbWrite},
		Context:      "design: use a recursive descent parser",
	})

	for _, want := range []string{"dev agent", "read, write", "recursive descent", "implement the parser", "CONFIDENCE:"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", &InvocationError{Status: 429}, true},
		{"server error", &InvocationError{Status: 503}, true},
		{"bad request", &InvocationError{Status: 400}, false},
		{"flagged temporary", &InvocationError{Temporary: true}, true},
		{"wrapped", fmt.Errorf("invoke: %w", &InvocationError{Status: 500}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMockInvokerScriptedOutcome(t *testing.T) {
	m := NewMockInvoker()
	m.Script("cyber", Scripted{
		Output:     "scan clean\nDECISION: APPROVE",
		Confidence: 0.95,
		ToolCalls:  []schema.ToolCall{{Verb: schema.VerbExecute, Target: "scanner"}},
	})

	res, err := m.Invoke(context.Background(), Request{Role: "cyber", Task: "scan"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Confidence != 0.95 || len(res.ToolCalls) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if m.Attempts("cyber") != 1 {
		t.Fatalf("attempts = %d, want 1", m.Attempts("cyber"))
	}
}

func TestMockInvokerTransientFailuresThenSuccess(t *testing.T) {
	m := NewMockInvoker()
	m.Script("dev", Scripted{Output: "done", FailuresBeforeSuccess: 2})

	for i := 0; i < 2; i++ {
		_, err := m.Invoke(context.Background(), Request{Role: "dev"})
		if err == nil {
			t.Fatalf("attempt %d should fail", i+1)
		}
		if !IsTransient(err) {
			t.Fatalf("scripted failure should be transient: %v", err)
		}
	}
	res, err := m.Invoke(context.Background(), Request{Role: "dev"})
	if err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	if res.Output != "done" {
		t.Fatalf("output = %q", res.Output)
	}
}
