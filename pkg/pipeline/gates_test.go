package pipeline

import (
	"context"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/ledger"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

func seedGate(t *testing.T, l *ledger.Ledger, correlationID string, required int) {
	t.Helper()
	if _, err := l.Append(ledger.Record{
		CorrelationID: correlationID,
		ActorID:       orchestratorActor,
		Action:        ActionRunStarted,
	}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if _, err := l.Append(ledger.Record{
		CorrelationID: correlationID,
		ActorID:       orchestratorActor,
		Action:        ActionApprovalRequested,
		Decision:      requiresDecision(required),
	}); err != nil {
		t.Fatalf("seed gate: %v", err)
	}
}

func TestRecordApprovalAccumulatesDistinctIdentities(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore())
	seedGate(t, l, "run-1", 2)

	status, err := RecordApproval(l, "run-1", "alice")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if status.Satisfied || status.Required != 2 || len(status.Approvers) != 1 {
		t.Fatalf("one approval of two must not satisfy: %+v", status)
	}

	// The same identity again changes nothing.
	dup, err := RecordApproval(l, "run-1", "alice")
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if dup.Satisfied || len(dup.Approvers) != 1 {
		t.Fatalf("duplicate identity advanced the count: %+v", dup)
	}

	pending, err := PendingGates(l)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("gate must stay pending, got %d", len(pending))
	}

	status, err = RecordApproval(l, "run-1", "bob")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !status.Satisfied || len(status.Approvers) != 2 {
		t.Fatalf("two distinct identities must satisfy: %+v", status)
	}

	pending, err = PendingGates(l)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("satisfied gate still listed as pending")
	}

	entries, err := l.Query("run-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var satisfied *schema.AuditEntry
	for i := range entries {
		if entries[i].Action == ActionApprovalSatisfied {
			satisfied = &entries[i]
		}
	}
	if satisfied == nil || len(satisfied.ApproverIDs) != 2 {
		t.Fatalf("satisfied entry must carry both approvers: %+v", satisfied)
	}

	if _, err := RecordApproval(l, "run-1", "carol"); err == nil {
		t.Fatalf("approving a resolved gate must fail")
	}
}

func TestRecordApprovalNeedsAnOpenGate(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore())
	if _, err := RecordApproval(l, "missing", "alice"); err == nil {
		t.Fatalf("expected error for correlation with no gate")
	}
}

func TestProdGateResolvedOutOfBand(t *testing.T) {
	// No resolver: the run halts with the gate pending in the ledger.
	f := newFixture(t, nil)
	m := manifestFor(schema.EnvProd, schema.StageDeploy)

	run, err := f.runner.Run(context.Background(), m, "ship 1.2.0")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != schema.RunBlocked {
		t.Fatalf("status = %q, want blocked on pending approval", run.Status)
	}

	status, err := RecordApproval(f.ledger, run.CorrelationID, "alice")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if status.Satisfied {
		t.Fatalf("prod deploy gate satisfied by a single identity")
	}

	status, err = RecordApproval(f.ledger, run.CorrelationID, "bob")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !status.Satisfied {
		t.Fatalf("two distinct identities must satisfy the prod gate")
	}

	pending, err := PendingGates(f.ledger)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("gate still pending after out-of-band resolution")
	}
}
