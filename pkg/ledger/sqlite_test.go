package ledger

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	l := New(store)
	if _, err := l.Append(Record{
		CorrelationID: "run-1",
		ActorID:       "orchestrator",
		Action:        "run.started",
		ApproverIDs:   []string{"alice"},
		Input:         map[string]any{"task": "ship it"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(Record{
		CorrelationID: "run-1",
		ActorID:       "orchestrator",
		Action:        "run.completed",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Reopen and verify the chain from disk alone.
	store.Close()
	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()

	l2 := New(reopened)
	if err := l2.Verify(); err != nil {
		t.Fatalf("verify after reopen: %v", err)
	}

	entries, err := l2.Query("run-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ApproverIDs[0] != "alice" {
		t.Fatalf("approver ids lost in round trip")
	}

	// The chain continues where it left off.
	tail, err := l2.Append(Record{CorrelationID: "run-2", ActorID: "orchestrator", Action: "run.started"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if tail.SequenceNumber != 3 {
		t.Fatalf("sequence = %d, want 3", tail.SequenceNumber)
	}
	if tail.PreviousEntryHash != entries[1].EntryHash {
		t.Fatalf("chain broken across reopen")
	}
}
