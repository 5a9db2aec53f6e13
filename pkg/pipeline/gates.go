package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zen-systems/pipewarden/pkg/ledger"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

// requiresDecision encodes the approver count an approval.requested entry
// demands. Out-of-band resolution recovers the count from the ledger, so
// a gate's policy survives the process that opened it.
func requiresDecision(count int) string {
	return fmt.Sprintf("requires:%d", count)
}

func parseRequiresDecision(decision string) (int, error) {
	raw, ok := strings.CutPrefix(decision, "requires:")
	if !ok {
		return 0, fmt.Errorf("approval request entry carries no approver count: %q", decision)
	}
	return strconv.Atoi(raw)
}

// GateStatus summarizes the latest gate of a correlation after an
// out-of-band approval.
type GateStatus struct {
	Required  int
	Approvers []string
	Satisfied bool
}

// RecordApproval records one out-of-band approval against the latest open
// gate of a correlation. Each approval is a neutral approval.recorded
// entry; approval.satisfied is appended only once the distinct approver
// set reaches the count the gate was opened with. A duplicate identity
// changes nothing.
func RecordApproval(l *ledger.Ledger, correlationID, approverID string) (*GateStatus, error) {
	if approverID == "" {
		return nil, fmt.Errorf("approver id required")
	}
	entries, err := l.Query(correlationID)
	if err != nil {
		return nil, err
	}

	required := -1
	var approvers []string
	closed := false
	for _, entry := range entries {
		switch entry.Action {
		case ActionApprovalRequested:
			count, err := parseRequiresDecision(entry.Decision)
			if err != nil {
				return nil, err
			}
			required = count
			approvers = nil
			closed = false
		case ActionApprovalRecorded:
			approvers = append(approvers, entry.ApproverIDs...)
		case ActionApprovalSatisfied, ActionApprovalRejected, ActionApprovalExpired:
			closed = true
		}
	}
	if required < 0 {
		return nil, fmt.Errorf("no approval request recorded for correlation %s", correlationID)
	}
	if closed {
		return nil, fmt.Errorf("approval request for correlation %s already resolved", correlationID)
	}

	distinct := make(map[string]struct{}, len(approvers)+1)
	for _, id := range approvers {
		distinct[id] = struct{}{}
	}
	if _, dup := distinct[approverID]; !dup {
		if _, err := l.Append(ledger.Record{
			CorrelationID: correlationID,
			ActorID:       approverID,
			Action:        ActionApprovalRecorded,
			ApproverIDs:   []string{approverID},
		}); err != nil {
			return nil, err
		}
		approvers = append(approvers, approverID)
		distinct[approverID] = struct{}{}
	}

	status := &GateStatus{Required: required, Approvers: approvers}
	if len(distinct) >= required {
		if _, err := l.Append(ledger.Record{
			CorrelationID: correlationID,
			ActorID:       approverID,
			Action:        ActionApprovalSatisfied,
			Decision:      string(schema.OutcomeApprove),
			ApproverIDs:   approvers,
		}); err != nil {
			return nil, err
		}
		status.Satisfied = true
	}
	return status, nil
}

// PendingGates returns the latest approval.requested entry of every
// correlation whose gate has not reached a terminal resolution.
func PendingGates(l *ledger.Ledger) ([]schema.AuditEntry, error) {
	entries, err := l.Entries(0, 0)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]schema.AuditEntry)
	for _, entry := range entries {
		switch entry.Action {
		case ActionApprovalRequested:
			latest[entry.CorrelationID] = entry
		case ActionApprovalSatisfied, ActionApprovalRejected, ActionApprovalExpired,
			ActionRunCancelled, ActionOverrideRecorded:
			delete(latest, entry.CorrelationID)
		}
	}
	out := make([]schema.AuditEntry, 0, len(latest))
	for _, entry := range latest {
		out = append(out, entry)
	}
	return out, nil
}
