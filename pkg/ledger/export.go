package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Segment is an exported slice of the ledger. It verifies on its own:
// entry hashes chain from the first entry's recorded previous hash, so a
// receiver needs nothing but the segment itself.
type Segment struct {
	Schema    string              `json:"schema"`
	CreatedAt int64               `json:"created_at"`
	Entries   []schema.AuditEntry `json:"entries"`
	HeadHash  string              `json:"head_hash"`
	TailHash  string              `json:"tail_hash"`
	Signature *Signature          `json:"signature,omitempty"`
}

// Signature is an ed25519 signature over the segment with the signature
// field cleared.
type Signature struct {
	Alg      string `json:"alg"`
	PubKeyID string `json:"pubkey_id"`
	Sig      string `json:"sig"`
}

// Export builds a segment for the inclusive sequence range [from, to];
// to == 0 exports through the tail. The range must be non-empty.
func (l *Ledger) Export(from, to uint64) (*Segment, error) {
	entries, err := l.Entries(from, to)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("export range [%d, %d] is empty", from, to)
	}
	return &Segment{
		Schema:    schema.SchemaAuditSegmentV1,
		CreatedAt: time.Now().UTC().UnixNano(),
		Entries:   entries,
		HeadHash:  entries[0].PreviousEntryHash,
		TailHash:  entries[len(entries)-1].EntryHash,
	}, nil
}

// Verify checks the segment's internal chain using only exported fields.
func (s *Segment) Verify() error {
	if s.Schema != schema.SchemaAuditSegmentV1 {
		return fmt.Errorf("segment schema must be %q", schema.SchemaAuditSegmentV1)
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("segment has no entries")
	}
	if s.HeadHash != s.Entries[0].PreviousEntryHash {
		return &IntegrityError{Sequence: s.Entries[0].SequenceNumber, Reason: "head hash mismatch"}
	}
	if err := VerifyChain(s.Entries, s.HeadHash); err != nil {
		return err
	}
	if s.TailHash != s.Entries[len(s.Entries)-1].EntryHash {
		return &IntegrityError{Sequence: s.Entries[len(s.Entries)-1].SequenceNumber, Reason: "tail hash mismatch"}
	}
	return nil
}

// Marshal serializes the segment as indented JSON.
func (s *Segment) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseSegment decodes and verifies a serialized segment.
func ParseSegment(data []byte) (*Segment, error) {
	var segment Segment
	if err := json.Unmarshal(data, &segment); err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}
	if err := segment.Verify(); err != nil {
		return nil, err
	}
	return &segment, nil
}
