package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Rollback reverts an environment to a previously deployed version. It is
// a first-class orchestrator action, not a stage: it creates a fresh
// compensating deploy execution, demands the same approval policy as a
// forward deploy to the environment, and carries an explicit reason.
func (r *Runner) Rollback(ctx context.Context, env schema.Environment, version, reason string) (*schema.StageExecution, error) {
	if !schema.IsKnownEnvironment(env) {
		return nil, fmt.Errorf("unknown environment %q", env)
	}
	if version == "" || reason == "" {
		return nil, fmt.Errorf("rollback requires version and reason")
	}

	correlationID := uuid.NewString()
	stage := &schema.StageExecution{
		ID:        uuid.NewString(),
		RunID:     correlationID,
		Kind:      schema.StageDeploy,
		AgentRole: "cicd",
		Status:    schema.StageAwaitingApproval,
		Input:     version,
		Reason:    reason,
		StartedAt: r.now().UTC(),
	}
	log := r.cfg.Logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("environment", string(env)),
		zap.String("version", version))

	if err := r.append(correlationID, orchestratorActor, ActionRollbackRequested,
		map[string]any{"environment": string(env), "version": version, "reason": reason}, nil, "", nil); err != nil {
		return nil, err
	}

	gatePolicy := r.cfg.Policies.For(schema.StageDeploy, env)
	req, err := r.cfg.Approvals.Request(stage, correlationID, reason, gatePolicy)
	if err != nil {
		return nil, err
	}
	if err := r.append(correlationID, orchestratorActor, ActionApprovalRequested, reason, nil, requiresDecision(req.RequiredApprovals), nil); err != nil {
		return nil, err
	}

	status := req.Status
	if status == schema.ApprovalPending && r.cfg.Resolver != nil {
		status, err = r.cfg.Resolver.Resolve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("resolve rollback approval %s: %w", req.ID, err)
		}
	}

	switch status {
	case schema.ApprovalSatisfied:
		resolved, err := r.cfg.Approvals.Get(req.ID)
		if err != nil {
			return nil, err
		}
		approvers := make([]string, 0, len(resolved.Approvals))
		for _, a := range resolved.Approvals {
			approvers = append(approvers, a.ApproverID)
		}
		if err := r.append(correlationID, orchestratorActor, ActionApprovalSatisfied, nil, nil, string(schema.OutcomeApprove), approvers); err != nil {
			return nil, err
		}

		if r.cfg.Deployer != nil {
			deployment, err := r.cfg.Deployer.Rollback(ctx, string(env), version, reason)
			if err != nil {
				stage.Status = schema.StageFailed
				stage.FinishedAt = r.now().UTC()
				r.append(correlationID, "cicd", ActionStageFailed, nil, nil, "", nil)
				return stage, fmt.Errorf("rollback %s to %s: %w", env, version, err)
			}
			if err := r.append(correlationID, "cicd", ActionRollbackExecuted, nil, deployment, "", approvers); err != nil {
				return stage, err
			}
		}
		stage.Status = schema.StagePassed
		stage.FinishedAt = r.now().UTC()
		log.Info("rollback executed", zap.Strings("approvers", approvers))
		return stage, nil

	case schema.ApprovalRejected:
		stage.Status = schema.StageBlocked
		stage.FinishedAt = r.now().UTC()
		r.append(correlationID, orchestratorActor, ActionApprovalRejected, nil, nil, string(schema.OutcomeBlock), nil)
		return stage, fmt.Errorf("rollback rejected")

	case schema.ApprovalExpired:
		stage.Status = schema.StageBlocked
		stage.FinishedAt = r.now().UTC()
		r.append(correlationID, orchestratorActor, ActionApprovalExpired, nil, nil, string(schema.OutcomeBlock), nil)
		return stage, fmt.Errorf("rollback approval expired")

	default:
		log.Warn("rollback awaiting approval", zap.String("request_id", req.ID))
		return stage, nil
	}
}
