package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	l := New(NewMemoryStore())
	for i := 0; i < 3; i++ {
		if _, err := l.Append(Record{CorrelationID: "run-1", ActorID: "orchestrator", Action: "run.started"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	segment, err := l.Export(0, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	archive, err := NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	path, err := archive.StoreSegment(segment)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	digest := strings.TrimSuffix(filepath.Base(path), ".json")
	loaded, err := archive.LoadSegment(digest)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Entries) != 3 || loaded.TailHash != segment.TailHash {
		t.Fatalf("round trip lost data: %d entries", len(loaded.Entries))
	}

	// Same segment twice is a no-op.
	again, err := archive.StoreSegment(segment)
	if err != nil || again != path {
		t.Fatalf("idempotent store: %q, %v", again, err)
	}
}

func TestArchiveDetectsCorruption(t *testing.T) {
	l := New(NewMemoryStore())
	if _, err := l.Append(Record{CorrelationID: "run-1", ActorID: "orchestrator", Action: "run.started"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	segment, err := l.Export(0, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	archive, err := NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	path, err := archive.StoreSegment(segment)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"schema":"tampered"}`), 0600); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	digest := strings.TrimSuffix(filepath.Base(path), ".json")
	if _, err := archive.LoadSegment(digest); err == nil {
		t.Fatalf("tampered segment must not load")
	}
}
