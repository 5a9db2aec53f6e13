package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// IntegrityError marks a broken hash chain. A ledger that failed
// verification refuses further appends; it is never auto-repaired.
type IntegrityError struct {
	Sequence uint64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity failure at sequence %d: %s", e.Sequence, e.Reason)
}

// Store persists audit entries. Append is the only mutation; there is no
// update or delete anywhere in the interface.
type Store interface {
	Append(entry schema.AuditEntry) error
	Last() (schema.AuditEntry, bool, error)
	Len() (uint64, error)
	ByCorrelation(correlationID string) ([]schema.AuditEntry, error)
	// Range returns entries with from <= sequence <= to, in order.
	Range(from, to uint64) ([]schema.AuditEntry, error)
}

// Record is the caller-facing shape of one audit event. Inputs and outputs
// are digested (after redaction) rather than stored verbatim.
type Record struct {
	CorrelationID string
	ActorID       string
	Action        string
	Input         any
	Output        any
	Decision      string
	ApproverIDs   []string
}

// Ledger is the append-only, hash-chained audit log. A single writer lock
// totally orders appends across concurrent pipeline runs; sequence numbers
// and the hash chain both depend on that order.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	poisoned error
	now      func() time.Time
}

// New wraps a store in a ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append assigns the next sequence number, chains the hash, and persists
// the entry. It fails once the ledger is known to be corrupt.
func (l *Ledger) Append(rec Record) (schema.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil {
		return schema.AuditEntry{}, l.poisoned
	}
	if rec.CorrelationID == "" || rec.ActorID == "" || rec.Action == "" {
		return schema.AuditEntry{}, fmt.Errorf("audit record requires correlation id, actor, and action")
	}

	prevHash := schema.GenesisHash
	var seq uint64 = 1
	if last, ok, err := l.store.Last(); err != nil {
		return schema.AuditEntry{}, fmt.Errorf("read ledger tail: %w", err)
	} else if ok {
		prevHash = last.EntryHash
		seq = last.SequenceNumber + 1
	}

	entry := schema.AuditEntry{
		Schema:            schema.SchemaAuditEntryV1,
		SequenceNumber:    seq,
		Timestamp:         l.now().UTC().UnixNano(),
		CorrelationID:     rec.CorrelationID,
		ActorID:           rec.ActorID,
		Action:            rec.Action,
		Decision:          rec.Decision,
		ApproverIDs:       append([]string(nil), rec.ApproverIDs...),
		PreviousEntryHash: prevHash,
	}
	if rec.Input != nil {
		digest, err := DigestRedacted(rec.Input)
		if err != nil {
			return schema.AuditEntry{}, fmt.Errorf("digest input: %w", err)
		}
		entry.InputDigest = digest
	}
	if rec.Output != nil {
		digest, err := DigestRedacted(rec.Output)
		if err != nil {
			return schema.AuditEntry{}, fmt.Errorf("digest output: %w", err)
		}
		entry.OutputDigest = digest
	}

	hash, err := entry.ComputeHash()
	if err != nil {
		return schema.AuditEntry{}, err
	}
	entry.EntryHash = hash

	if err := l.store.Append(entry); err != nil {
		return schema.AuditEntry{}, fmt.Errorf("persist audit entry: %w", err)
	}
	return entry, nil
}

// Verify recomputes the whole chain. On the first mismatch the ledger is
// poisoned: every later Append fails with the same IntegrityError.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.store.Len()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	entries, err := l.store.Range(1, count)
	if err != nil {
		return err
	}
	if err := VerifyChain(entries, schema.GenesisHash); err != nil {
		l.poisoned = err
		return err
	}
	return nil
}

// Query returns all entries for one correlation id, in sequence order.
func (l *Ledger) Query(correlationID string) ([]schema.AuditEntry, error) {
	return l.store.ByCorrelation(correlationID)
}

// Len returns the number of entries.
func (l *Ledger) Len() (uint64, error) {
	return l.store.Len()
}

// Entries returns the inclusive sequence range [from, to]; to == 0 means
// the current tail.
func (l *Ledger) Entries(from, to uint64) ([]schema.AuditEntry, error) {
	if from == 0 {
		from = 1
	}
	if to == 0 {
		count, err := l.store.Len()
		if err != nil {
			return nil, err
		}
		to = count
	}
	if to < from {
		return nil, nil
	}
	return l.store.Range(from, to)
}

// VerifyChain checks an ordered entry sequence: contiguous sequence
// numbers, each entry hashing to its recorded EntryHash, and each entry
// referencing its predecessor. wantPrev anchors the first entry; pass an
// empty string to accept any anchor (detached segment verification).
func VerifyChain(entries []schema.AuditEntry, wantPrev string) error {
	for i := range entries {
		entry := &entries[i]
		if i > 0 && entry.SequenceNumber != entries[i-1].SequenceNumber+1 {
			return &IntegrityError{Sequence: entry.SequenceNumber, Reason: "sequence gap"}
		}
		if wantPrev != "" && entry.PreviousEntryHash != wantPrev {
			return &IntegrityError{Sequence: entry.SequenceNumber, Reason: "previous hash mismatch"}
		}
		computed, err := entry.ComputeHash()
		if err != nil {
			return &IntegrityError{Sequence: entry.SequenceNumber, Reason: err.Error()}
		}
		if computed != entry.EntryHash {
			return &IntegrityError{Sequence: entry.SequenceNumber, Reason: "entry hash mismatch"}
		}
		wantPrev = entry.EntryHash
	}
	return nil
}
