package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// The table is insert-only. No UPDATE or DELETE statement exists in this
// file; retention is handled by export-then-archive, never in place.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	sequence_number     INTEGER PRIMARY KEY,
	schema              TEXT NOT NULL,
	timestamp           INTEGER NOT NULL,
	correlation_id      TEXT NOT NULL,
	actor_id            TEXT NOT NULL,
	action              TEXT NOT NULL,
	input_digest        TEXT NOT NULL DEFAULT '',
	output_digest       TEXT NOT NULL DEFAULT '',
	decision            TEXT NOT NULL DEFAULT '',
	approver_ids        TEXT NOT NULL DEFAULT '[]',
	previous_entry_hash TEXT NOT NULL,
	entry_hash          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_entries(correlation_id);
`

// SQLiteStore persists the ledger in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(entry schema.AuditEntry) error {
	approvers, err := json.Marshal(entry.ApproverIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_entries(sequence_number, schema, timestamp, correlation_id, actor_id, action,
			input_digest, output_digest, decision, approver_ids, previous_entry_hash, entry_hash)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.SequenceNumber, entry.Schema, entry.Timestamp, entry.CorrelationID, entry.ActorID, entry.Action,
		entry.InputDigest, entry.OutputDigest, entry.Decision, string(approvers), entry.PreviousEntryHash, entry.EntryHash,
	)
	return err
}

func (s *SQLiteStore) Last() (schema.AuditEntry, bool, error) {
	row := s.db.QueryRow(selectColumns + ` ORDER BY sequence_number DESC LIMIT 1`)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return schema.AuditEntry{}, false, nil
	}
	if err != nil {
		return schema.AuditEntry{}, false, err
	}
	return entry, true, nil
}

func (s *SQLiteStore) Len() (uint64, error) {
	var count uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_entries`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) ByCorrelation(correlationID string) ([]schema.AuditEntry, error) {
	rows, err := s.db.Query(selectColumns+` WHERE correlation_id = ? ORDER BY sequence_number`, correlationID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *SQLiteStore) Range(from, to uint64) ([]schema.AuditEntry, error) {
	rows, err := s.db.Query(selectColumns+` WHERE sequence_number BETWEEN ? AND ? ORDER BY sequence_number`, from, to)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

const selectColumns = `SELECT sequence_number, schema, timestamp, correlation_id, actor_id, action,
	input_digest, output_digest, decision, approver_ids, previous_entry_hash, entry_hash FROM audit_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (schema.AuditEntry, error) {
	var entry schema.AuditEntry
	var approvers string
	err := row.Scan(
		&entry.SequenceNumber, &entry.Schema, &entry.Timestamp, &entry.CorrelationID, &entry.ActorID, &entry.Action,
		&entry.InputDigest, &entry.OutputDigest, &entry.Decision, &approvers, &entry.PreviousEntryHash, &entry.EntryHash,
	)
	if err != nil {
		return schema.AuditEntry{}, err
	}
	if err := json.Unmarshal([]byte(approvers), &entry.ApproverIDs); err != nil {
		return schema.AuditEntry{}, fmt.Errorf("decode approver_ids: %w", err)
	}
	return entry, nil
}

func collectEntries(rows *sql.Rows) ([]schema.AuditEntry, error) {
	defer rows.Close()
	var out []schema.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
