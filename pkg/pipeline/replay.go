package pipeline

import (
	"fmt"

	"github.com/zen-systems/pipewarden/pkg/ledger"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

// StageEvent is one stage-level entry recovered from the ledger.
type StageEvent struct {
	Sequence uint64
	ActorID  string
	Action   string
	Decision string
}

// ReplayedRun is run history rebuilt purely from audit entries. The
// ledger, not the orchestrator's memory, is the source of truth; status
// reporting goes through here.
type ReplayedRun struct {
	CorrelationID string
	Status        schema.RunStatus
	Entries       []schema.AuditEntry
	StageEvents   []StageEvent
}

// Replay reconstructs a run from its audit entries.
func Replay(l *ledger.Ledger, correlationID string) (*ReplayedRun, error) {
	entries, err := l.Query(correlationID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no audit entries for correlation %s", correlationID)
	}

	run := &ReplayedRun{
		CorrelationID: correlationID,
		Entries:       entries,
	}
	for _, entry := range entries {
		switch entry.Action {
		case ActionRunStarted, ActionRollbackRequested:
			run.Status = schema.RunRunning
		case ActionRunBlocked, ActionStageBlocked, ActionKillSwitchDenied:
			run.Status = schema.RunBlocked
		case ActionOverrideRecorded:
			// An override reopens a blocked run.
			run.Status = schema.RunRunning
		case ActionRunCompleted:
			run.Status = schema.RunCompleted
		case ActionRunAborted, ActionRunCancelled:
			run.Status = schema.RunAborted
		case ActionRollbackExecuted:
			run.Status = schema.RunRolledBack
		}

		switch entry.Action {
		case ActionStageStarted, ActionStagePassed, ActionStageFailed, ActionStageBlocked,
			ActionPolicyDecision, ActionCapabilityViolation,
			ActionApprovalRequested, ActionApprovalRecorded, ActionApprovalSatisfied,
			ActionApprovalRejected, ActionApprovalExpired:
			run.StageEvents = append(run.StageEvents, StageEvent{
				Sequence: entry.SequenceNumber,
				ActorID:  entry.ActorID,
				Action:   entry.Action,
				Decision: entry.Decision,
			})
		}
	}
	return run, nil
}
