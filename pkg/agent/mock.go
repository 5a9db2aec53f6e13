package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Scripted is one canned outcome for a role. Err, when set, wins.
type Scripted struct {
	Output     string
	Confidence float64
	ToolCalls  []schema.ToolCall
	Err        error
	// FailuresBeforeSuccess makes the first N invocations for the role
	// fail with a transient error, then succeed. Used to exercise retry
	// paths.
	FailuresBeforeSuccess int
}

// MockInvoker returns deterministic results for local runs and tests.
type MockInvoker struct {
	mu       sync.Mutex
	byRole   map[string]*Scripted
	attempts map[string]int
	calls    []Request
}

// NewMockInvoker creates an empty mock invoker. Unscripted roles echo
// the task back with DefaultConfidence.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		byRole:   make(map[string]*Scripted),
		attempts: make(map[string]int),
	}
}

// Script installs the outcome for a role.
func (a *MockInvoker) Script(role string, s Scripted) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := s
	a.byRole[role] = &copied
}

// Name returns the invoker identifier.
func (a *MockInvoker) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockInvoker) Models() []string {
	return []string{"mock-1"}
}

// Calls returns every request seen so far, in order.
func (a *MockInvoker) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// Attempts returns how many times a role was invoked.
func (a *MockInvoker) Attempts(role string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[role]
}

// Invoke returns the scripted outcome for the request's role.
func (a *MockInvoker) Invoke(_ context.Context, req Request) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, req)
	a.attempts[req.Role]++

	s, ok := a.byRole[req.Role]
	if !ok {
		output := fmt.Sprintf("mock %s output for: %s", req.Role, req.Task)
		return &Result{Output: output, Confidence: DefaultConfidence}, nil
	}
	if s.FailuresBeforeSuccess >= a.attempts[req.Role] {
		return nil, &InvocationError{Status: 503, Temporary: true, Err: fmt.Errorf("mock transient failure %d for %s", a.attempts[req.Role], req.Role)}
	}
	if s.Err != nil {
		return nil, s.Err
	}

	confidence := s.Confidence
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	calls := make([]schema.ToolCall, len(s.ToolCalls))
	copy(calls, s.ToolCalls)
	return &Result{Output: s.Output, Confidence: confidence, ToolCalls: calls}, nil
}
