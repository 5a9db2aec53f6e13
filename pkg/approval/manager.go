package approval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// ErrRequestClosed is returned when resolution is attempted on a request
// that already reached a terminal status. The attempt is rejected loudly,
// never silently ignored.
var ErrRequestClosed = errors.New("approval request closed")

// ErrUnknownRequest is returned for request ids the manager never issued.
var ErrUnknownRequest = errors.New("approval request not found")

// Policy describes the human gate for one (stage kind, environment) pair.
type Policy struct {
	// RequiredApprovals is the number of distinct approver identities
	// needed; zero auto-satisfies the request (still recorded).
	RequiredApprovals int
	// TTL is how long the request stays open before expiring.
	TTL time.Duration
}

type policyKey struct {
	kind schema.StageKind
	env  schema.Environment
}

// PolicyTable resolves approval policies. Lookups fall back from the
// exact (kind, env) pair to an env-wide default, then to fail-closed
// single approval.
type PolicyTable struct {
	exact  map[policyKey]Policy
	byEnv  map[schema.Environment]Policy
	closed Policy
}

// DefaultPolicyTable encodes the shipped rules: production deploys need
// two distinct approvers, staging one, dev none.
func DefaultPolicyTable() *PolicyTable {
	table := NewPolicyTable()
	table.SetEnvDefault(schema.EnvDev, Policy{RequiredApprovals: 0, TTL: time.Hour})
	table.SetEnvDefault(schema.EnvStaging, Policy{RequiredApprovals: 1, TTL: 12 * time.Hour})
	table.SetEnvDefault(schema.EnvProd, Policy{RequiredApprovals: 1, TTL: 24 * time.Hour})
	table.Set(schema.StageDeploy, schema.EnvStaging, Policy{RequiredApprovals: 1, TTL: 12 * time.Hour})
	table.Set(schema.StageDeploy, schema.EnvProd, Policy{RequiredApprovals: 2, TTL: 24 * time.Hour})
	return table
}

// NewPolicyTable returns an empty table whose fallback requires one
// approver within 24h.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		exact:  make(map[policyKey]Policy),
		byEnv:  make(map[schema.Environment]Policy),
		closed: Policy{RequiredApprovals: 1, TTL: 24 * time.Hour},
	}
}

// Set binds a policy to an exact (kind, env) pair.
func (t *PolicyTable) Set(kind schema.StageKind, env schema.Environment, p Policy) {
	t.exact[policyKey{kind, env}] = p
}

// SetEnvDefault binds the fallback policy for an environment.
func (t *PolicyTable) SetEnvDefault(env schema.Environment, p Policy) {
	t.byEnv[env] = p
}

// For resolves the policy for a stage kind in an environment.
func (t *PolicyTable) For(kind schema.StageKind, env schema.Environment) Policy {
	if p, ok := t.exact[policyKey{kind, env}]; ok {
		return p
	}
	if p, ok := t.byEnv[env]; ok {
		return p
	}
	return t.closed
}

// Manager tracks pending approval requests. It coordinates and records;
// it never mutates code or deployment state itself.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*schema.ApprovalRequest
	now      func() time.Time
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		requests: make(map[string]*schema.ApprovalRequest),
		now:      time.Now,
	}
}

// Request opens a gate for a stage execution under the given policy. A
// zero-approver policy returns an already-satisfied request so the caller
// can still ledger the auto-approval.
func (m *Manager) Request(stage *schema.StageExecution, correlationID, reason string, policy Policy) (schema.ApprovalRequest, error) {
	if stage == nil {
		return schema.ApprovalRequest{}, fmt.Errorf("stage execution required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	req := &schema.ApprovalRequest{
		ID:                uuid.NewString(),
		StageExecutionID:  stage.ID,
		CorrelationID:     correlationID,
		Reason:            reason,
		RequiredApprovals: policy.RequiredApprovals,
		Status:            schema.ApprovalPending,
		Deadline:          now.Add(policy.TTL),
		CreatedAt:         now,
	}
	if policy.RequiredApprovals == 0 {
		req.Status = schema.ApprovalSatisfied
	}
	m.requests[req.ID] = req
	return *req, nil
}

// Record adds one approval. Duplicate identities do not advance the
// count; resolving a terminal request fails with ErrRequestClosed. The
// check is idempotent for the (request, approver) pair.
func (m *Manager) Record(requestID, approverID string, at time.Time) (schema.ApprovalRequest, error) {
	if approverID == "" {
		return schema.ApprovalRequest{}, fmt.Errorf("approver id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return schema.ApprovalRequest{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if req.Status.Terminal() {
		return *req, fmt.Errorf("%w: %s is %s", ErrRequestClosed, requestID, req.Status)
	}
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	if at.After(req.Deadline) {
		req.Status = schema.ApprovalExpired
		return *req, fmt.Errorf("%w: %s expired at %s", ErrRequestClosed, requestID, req.Deadline.Format(time.RFC3339))
	}

	for _, existing := range req.Approvals {
		if existing.ApproverID == approverID {
			// Same identity again: no state change.
			return *req, nil
		}
	}
	req.Approvals = append(req.Approvals, schema.Approval{ApproverID: approverID, At: at})
	if len(req.Approvals) >= req.RequiredApprovals {
		req.Status = schema.ApprovalSatisfied
	}
	return *req, nil
}

// Reject closes a pending request with an explicit refusal.
func (m *Manager) Reject(requestID, approverID, reason string) (schema.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return schema.ApprovalRequest{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if req.Status.Terminal() {
		return *req, fmt.Errorf("%w: %s is %s", ErrRequestClosed, requestID, req.Status)
	}
	req.Status = schema.ApprovalRejected
	req.RejectedBy = approverID
	if reason != "" {
		req.Reason = reason
	}
	return *req, nil
}

// Status returns the current status of a request.
func (m *Manager) Status(requestID string) (schema.ApprovalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return req.Status, nil
}

// Get returns a copy of a request.
func (m *Manager) Get(requestID string) (schema.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return schema.ApprovalRequest{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return *req, nil
}

// Pending returns copies of all unresolved requests.
func (m *Manager) Pending() []schema.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.ApprovalRequest
	for _, req := range m.requests {
		if req.Status == schema.ApprovalPending {
			out = append(out, *req)
		}
	}
	return out
}

// ExpireOverdue transitions pending requests past their deadline to
// expired and returns them. The orchestrator treats expiry like block.
func (m *Manager) ExpireOverdue(now time.Time) []schema.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.IsZero() {
		now = m.now()
	}
	var expired []schema.ApprovalRequest
	for _, req := range m.requests {
		if req.Status == schema.ApprovalPending && now.After(req.Deadline) {
			req.Status = schema.ApprovalExpired
			expired = append(expired, *req)
		}
	}
	return expired
}
