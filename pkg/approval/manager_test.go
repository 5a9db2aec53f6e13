package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

func deployStage() *schema.StageExecution {
	return &schema.StageExecution{
		ID:        "se-deploy",
		RunID:     "run-1",
		Kind:      schema.StageDeploy,
		AgentRole: "cicd",
		Status:    schema.StageAwaitingApproval,
	}
}

func TestDualApprovalRequiresDistinctIdentities(t *testing.T) {
	m := NewManager()
	policy := DefaultPolicyTable().For(schema.StageDeploy, schema.EnvProd)
	if policy.RequiredApprovals != 2 {
		t.Fatalf("prod deploy requires %d approvals, want 2", policy.RequiredApprovals)
	}

	req, err := m.Request(deployStage(), "run-1", "prod deploy", policy)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != schema.ApprovalPending {
		t.Fatalf("status = %q, want pending", req.Status)
	}

	req, err = m.Record(req.ID, "alice", time.Time{})
	if err != nil {
		t.Fatalf("record alice: %v", err)
	}
	if req.Status != schema.ApprovalPending {
		t.Fatalf("one approval should leave status pending, got %q", req.Status)
	}

	// Same identity again: count unchanged, no error.
	req, err = m.Record(req.ID, "alice", time.Time{})
	if err != nil {
		t.Fatalf("duplicate approval: %v", err)
	}
	if len(req.Approvals) != 1 {
		t.Fatalf("approvals = %d after duplicate, want 1", len(req.Approvals))
	}
	if req.Status != schema.ApprovalPending {
		t.Fatalf("duplicate approval must not satisfy the gate")
	}

	req, err = m.Record(req.ID, "bob", time.Time{})
	if err != nil {
		t.Fatalf("record bob: %v", err)
	}
	if req.Status != schema.ApprovalSatisfied {
		t.Fatalf("status = %q, want satisfied", req.Status)
	}
	if len(req.Approvals) != 2 {
		t.Fatalf("approvals = %d, want 2", len(req.Approvals))
	}
}

func TestTerminalRequestRejectsFurtherResolution(t *testing.T) {
	m := NewManager()
	req, err := m.Request(deployStage(), "run-1", "staging deploy", Policy{RequiredApprovals: 1, TTL: time.Hour})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := m.Record(req.ID, "alice", time.Time{}); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, err = m.Record(req.ID, "bob", time.Time{})
	if !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed, got %v", err)
	}
	_, err = m.Reject(req.ID, "carol", "late")
	if !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("reject on satisfied request: %v", err)
	}
}

func TestZeroApproverPolicyAutoSatisfies(t *testing.T) {
	m := NewManager()
	policy := DefaultPolicyTable().For(schema.StageDev, schema.EnvDev)
	if policy.RequiredApprovals != 0 {
		t.Fatalf("dev policy requires %d, want 0", policy.RequiredApprovals)
	}
	req, err := m.Request(deployStage(), "run-1", "dev auto", policy)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != schema.ApprovalSatisfied {
		t.Fatalf("status = %q, want satisfied", req.Status)
	}
}

func TestExpiryIsFailClosed(t *testing.T) {
	m := NewManager()
	req, err := m.Request(deployStage(), "run-1", "prod deploy", Policy{RequiredApprovals: 2, TTL: time.Minute})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	expired := m.ExpireOverdue(time.Now().Add(2 * time.Minute))
	if len(expired) != 1 || expired[0].ID != req.ID {
		t.Fatalf("expected the request to expire, got %+v", expired)
	}

	status, err := m.Status(req.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != schema.ApprovalExpired {
		t.Fatalf("status = %q, want expired", status)
	}

	_, err = m.Record(req.ID, "alice", time.Time{})
	if !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed after expiry, got %v", err)
	}
}

func TestLateApprovalExpiresRequest(t *testing.T) {
	m := NewManager()
	req, err := m.Request(deployStage(), "run-1", "prod deploy", Policy{RequiredApprovals: 1, TTL: time.Minute})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	_, err = m.Record(req.ID, "alice", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed for late approval, got %v", err)
	}
	status, _ := m.Status(req.ID)
	if status != schema.ApprovalExpired {
		t.Fatalf("status = %q, want expired", status)
	}
}

func TestRejectClosesRequest(t *testing.T) {
	m := NewManager()
	req, err := m.Request(deployStage(), "run-1", "prod deploy", Policy{RequiredApprovals: 2, TTL: time.Hour})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := m.Reject(req.ID, "alice", "injection risk")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != schema.ApprovalRejected || rejected.RejectedBy != "alice" {
		t.Fatalf("unexpected rejection state: %+v", rejected)
	}
}

func TestUnknownRequest(t *testing.T) {
	m := NewManager()
	if _, err := m.Record("nope", "alice", time.Time{}); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}
