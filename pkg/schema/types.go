package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	SchemaAuditEntryV1   = "pipewarden.audit.entry.v1"
	SchemaAuditSegmentV1 = "pipewarden.audit.segment.v1"

	// GenesisHash seeds the chain; the first entry references it.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	SignatureAlgEd25519 = "ed25519"
)

// === Verbs & Roles ===

// Verb is an action an agent role may perform.
type Verb string

const (
	VerbRead     Verb = "read"
	VerbWrite    Verb = "write"
	VerbEdit     Verb = "edit"
	VerbExecute  Verb = "execute"
	VerbBuild    Verb = "build"
	VerbDeploy   Verb = "deploy"
	VerbRollback Verb = "rollback"
)

// KnownVerbs lists every verb the registry accepts from configuration.
var KnownVerbs = []Verb{VerbRead, VerbWrite, VerbEdit, VerbExecute, VerbBuild, VerbDeploy, VerbRollback}

// IsKnownVerb reports whether v is part of the fixed verb vocabulary.
func IsKnownVerb(v Verb) bool {
	for _, known := range KnownVerbs {
		if v == known {
			return true
		}
	}
	return false
}

// === Stages ===

type StageKind string

const (
	StageDesign   StageKind = "design"
	StageDev      StageKind = "dev"
	StageTest     StageKind = "test"
	StageCyber    StageKind = "cyber"
	StageBuild    StageKind = "build"
	StageArtifact StageKind = "artifact"
	StageDeploy   StageKind = "deploy"
)

// StageOrder is the mandatory execution order; a stage may not start
// before its predecessor passed.
var StageOrder = []StageKind{StageDesign, StageDev, StageTest, StageCyber, StageBuild, StageArtifact, StageDeploy}

func IsKnownStageKind(k StageKind) bool {
	for _, known := range StageOrder {
		if k == known {
			return true
		}
	}
	return false
}

type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

func IsKnownEnvironment(e Environment) bool {
	switch e {
	case EnvDev, EnvStaging, EnvProd:
		return true
	default:
		return false
	}
}

// === Statuses ===

type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunBlocked    RunStatus = "blocked"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
	RunRolledBack RunStatus = "rolled_back"
)

type StageStatus string

const (
	StagePending          StageStatus = "pending"
	StageRunning          StageStatus = "running"
	StageAwaitingApproval StageStatus = "awaiting_approval"
	StageBlocked          StageStatus = "blocked"
	StagePassed           StageStatus = "passed"
	StageFailed           StageStatus = "failed"
)

// === Policy ===

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering weight of a severity; unknown severities rank
// highest so a malformed finding can never relax a decision.
func (s Severity) Rank() int {
	if rank, ok := severityRank[s]; ok {
		return rank
	}
	return severityRank[SeverityCritical] + 1
}

func IsKnownSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// PolicyFinding is one issue raised by a policy rule against stage output.
type PolicyFinding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Location string   `json:"location,omitempty"`
}

func (f *PolicyFinding) Validate() error {
	if strings.TrimSpace(f.RuleID) == "" {
		return fmt.Errorf("finding rule_id required")
	}
	if !IsKnownSeverity(f.Severity) {
		return fmt.Errorf("finding severity %q not allowed", f.Severity)
	}
	if strings.TrimSpace(f.Message) == "" {
		return fmt.Errorf("finding message required")
	}
	return nil
}

// MaxSeverity returns the highest severity across findings, or empty when
// there are none.
func MaxSeverity(findings []PolicyFinding) Severity {
	var max Severity
	found := false
	for _, f := range findings {
		if !found || f.Severity.Rank() > max.Rank() {
			max = f.Severity
			found = true
		}
	}
	return max
}

type Outcome string

const (
	OutcomeApprove  Outcome = "approve"
	OutcomeWarn     Outcome = "warn"
	OutcomeBlock    Outcome = "block"
	OutcomeEscalate Outcome = "escalate"
)

func IsKnownOutcome(o Outcome) bool {
	switch o {
	case OutcomeApprove, OutcomeWarn, OutcomeBlock, OutcomeEscalate:
		return true
	default:
		return false
	}
}

// Decision is the policy engine's verdict on a stage's output.
type Decision struct {
	Outcome    Outcome         `json:"outcome"`
	Findings   []PolicyFinding `json:"findings,omitempty"`
	Confidence float64         `json:"confidence"`
}

// === Executions ===

// ToolCall reports one action the agent collaborator performed.
type ToolCall struct {
	Verb        Verb   `json:"verb"`
	Target      string `json:"target,omitempty"`
	InputDigest string `json:"input_digest,omitempty"`
}

// StageExecution is one agent's turn inside a run. History is append-only:
// a rollback creates a new compensating execution instead of rewriting an
// old one.
type StageExecution struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Kind       StageKind   `json:"kind"`
	AgentRole  string      `json:"agent_role"`
	Input      string      `json:"input,omitempty"`
	Output     string      `json:"output,omitempty"`
	Confidence float64     `json:"confidence"`
	Decision   *Decision   `json:"decision,omitempty"`
	Status     StageStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

func (s *StageExecution) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("stage execution id required")
	}
	if strings.TrimSpace(s.RunID) == "" {
		return fmt.Errorf("stage execution run_id required")
	}
	if !IsKnownStageKind(s.Kind) {
		return fmt.Errorf("stage kind %q not allowed", s.Kind)
	}
	if strings.TrimSpace(s.AgentRole) == "" {
		return fmt.Errorf("stage agent_role required")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("stage confidence out of range")
	}
	return nil
}

// PipelineRun identifies one pipeline execution end to end.
type PipelineRun struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id"`
	Pipeline      string            `json:"pipeline"`
	Environment   Environment       `json:"environment"`
	Stages        []*StageExecution `json:"stages"`
	Status        RunStatus         `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// === Approvals ===

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalSatisfied ApprovalStatus = "satisfied"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalRejected  ApprovalStatus = "rejected"
)

// Terminal reports whether the request can still be resolved.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalSatisfied || s == ApprovalExpired || s == ApprovalRejected
}

// Approval is one recorded human sign-off.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	At         time.Time `json:"at"`
	Comment    string    `json:"comment,omitempty"`
}

// ApprovalRequest tracks a human gate for one stage execution. Approvals
// are ordered and deduplicated by approver identity.
type ApprovalRequest struct {
	ID                string         `json:"id"`
	StageExecutionID  string         `json:"stage_execution_id"`
	CorrelationID     string         `json:"correlation_id"`
	Reason            string         `json:"reason"`
	RequiredApprovals int            `json:"required_approvals"`
	Approvals         []Approval     `json:"approvals,omitempty"`
	Status            ApprovalStatus `json:"status"`
	Deadline          time.Time      `json:"deadline"`
	CreatedAt         time.Time      `json:"created_at"`
	RejectedBy        string         `json:"rejected_by,omitempty"`
}

func (r *ApprovalRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("approval request id required")
	}
	if strings.TrimSpace(r.StageExecutionID) == "" {
		return fmt.Errorf("approval stage_execution_id required")
	}
	if r.RequiredApprovals < 0 {
		return fmt.Errorf("approval required_approvals negative")
	}
	return nil
}

// === Audit ===

// AuditEntry is one immutable record in the hash-chained ledger.
// EntryHash covers every field (with entry_hash itself zeroed) plus
// PreviousEntryHash, so editing any past entry breaks the chain.
type AuditEntry struct {
	Schema            string   `json:"schema"`
	SequenceNumber    uint64   `json:"sequence_number"`
	Timestamp         int64    `json:"timestamp"` // unix nanoseconds, UTC
	CorrelationID     string   `json:"correlation_id"`
	ActorID           string   `json:"actor_id"`
	Action            string   `json:"action"`
	InputDigest       string   `json:"input_digest,omitempty"`
	OutputDigest      string   `json:"output_digest,omitempty"`
	Decision          string   `json:"decision,omitempty"`
	ApproverIDs       []string `json:"approver_ids,omitempty"`
	PreviousEntryHash string   `json:"previous_entry_hash"`
	EntryHash         string   `json:"entry_hash"`
}

func (e *AuditEntry) Validate() error {
	if e.Schema != SchemaAuditEntryV1 {
		return fmt.Errorf("audit entry schema must be %q", SchemaAuditEntryV1)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("audit entry timestamp required")
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return fmt.Errorf("audit entry correlation_id required")
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return fmt.Errorf("audit entry actor_id required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("audit entry action required")
	}
	if !IsHexDigest(e.PreviousEntryHash) {
		return fmt.Errorf("audit entry previous_entry_hash invalid")
	}
	if !IsHexDigest(e.EntryHash) {
		return fmt.Errorf("audit entry entry_hash invalid")
	}
	expected, err := e.ComputeHash()
	if err != nil {
		return err
	}
	if e.EntryHash != expected {
		return fmt.Errorf("audit entry hash mismatch at sequence %d", e.SequenceNumber)
	}
	return nil
}

// ComputeHash returns the chain hash for the entry: sha256 over its
// canonical JSON with entry_hash cleared.
func (e *AuditEntry) ComputeHash() (string, error) {
	payload := *e
	payload.EntryHash = ""
	return ComputeSHA256(&payload)
}

// === Canonical Hashing ===

// canonicalJSON returns a stable JSON representation. encoding/json emits
// struct fields in declaration order and sorts map keys, which is enough
// for stability here.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ComputeSHA256 hashes the canonical JSON of v as lowercase hex.
func ComputeSHA256(v any) (string, error) {
	data, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

// DigestString hashes a raw string as lowercase hex sha256.
func DigestString(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// DigestBytes hashes raw bytes as lowercase hex sha256.
func DigestBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// IsHexDigest reports whether value is a 64-char lowercase hex sha256.
func IsHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	if strings.ToLower(value) != value {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
