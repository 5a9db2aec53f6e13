package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Archive is content-addressed cold storage for exported segments. The
// live ledger is never pruned; retention is satisfied by exporting old
// entries into the archive and keeping the chain intact.
type Archive struct {
	BasePath string
}

// NewArchive creates the archive directory layout.
func NewArchive(basePath string) (*Archive, error) {
	if basePath == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "segments"), 0755); err != nil {
		return nil, err
	}
	return &Archive{BasePath: basePath}, nil
}

// StoreSegment writes a segment under its content hash, sharded by the
// first two hex characters. Storing the same segment twice is a no-op.
func (a *Archive) StoreSegment(segment *Segment) (string, error) {
	if err := segment.Verify(); err != nil {
		return "", fmt.Errorf("refusing to archive unverifiable segment: %w", err)
	}
	data, err := segment.Marshal()
	if err != nil {
		return "", err
	}

	digest := schema.DigestBytes(data)
	dir := filepath.Join(a.BasePath, "segments", digest[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, digest+".json")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// LoadSegment reads a segment back by its content digest and verifies it.
func (a *Archive) LoadSegment(digest string) (*Segment, error) {
	if !schema.IsHexDigest(digest) {
		return nil, fmt.Errorf("invalid segment digest %q", digest)
	}
	path := filepath.Join(a.BasePath, "segments", digest[:2], digest+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if got := schema.DigestBytes(data); got != digest {
		return nil, fmt.Errorf("archived segment %s corrupted: content digest %s", digest, got)
	}
	return ParseSegment(data)
}
