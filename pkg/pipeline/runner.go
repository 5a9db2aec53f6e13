package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zen-systems/pipewarden/pkg/agent"
	"github.com/zen-systems/pipewarden/pkg/approval"
	"github.com/zen-systems/pipewarden/pkg/backend"
	"github.com/zen-systems/pipewarden/pkg/capability"
	"github.com/zen-systems/pipewarden/pkg/killswitch"
	"github.com/zen-systems/pipewarden/pkg/ledger"
	"github.com/zen-systems/pipewarden/pkg/policy"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Audit entry actions written by the runner.
const (
	ActionRunStarted   = "run.started"
	ActionRunCompleted = "run.completed"
	ActionRunBlocked   = "run.blocked"
	ActionRunAborted   = "run.aborted"
	ActionRunCancelled = "run.cancelled"

	ActionStageStarted = "stage.started"
	ActionStagePassed  = "stage.passed"
	ActionStageFailed  = "stage.failed"
	ActionStageBlocked = "stage.blocked"

	ActionPolicyDecision      = "policy.decision"
	ActionCapabilityViolation = "capability.violation"

	ActionApprovalRequested = "approval.requested"
	ActionApprovalRecorded  = "approval.recorded"
	ActionApprovalSatisfied = "approval.satisfied"
	ActionApprovalRejected  = "approval.rejected"
	ActionApprovalExpired   = "approval.expired"
	ActionOverrideRecorded  = "override.recorded"

	ActionBuildExecuted     = "build.executed"
	ActionArtifactUploaded  = "artifact.uploaded"
	ActionDeployExecuted    = "deploy.executed"
	ActionRollbackRequested = "rollback.requested"
	ActionRollbackExecuted  = "rollback.executed"

	ActionKillSwitchEngaged  = "killswitch.engaged"
	ActionKillSwitchReleased = "killswitch.released"
	ActionKillSwitchDenied   = "killswitch.denied"
)

const orchestratorActor = "orchestrator"

// killSwitchCorrelation groups switch lifecycle entries, which belong to
// the process rather than to any one run.
const killSwitchCorrelation = "killswitch"

// ApprovalResolver blocks until a pending approval request is resolved.
// A nil resolver leaves the run halted with the request pending.
type ApprovalResolver interface {
	Resolve(ctx context.Context, req schema.ApprovalRequest) (schema.ApprovalStatus, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Registry  *capability.Registry
	Engine    *policy.Engine
	Approvals *approval.Manager
	Policies  *approval.PolicyTable
	Ledger    *ledger.Ledger
	Invokers  map[string]agent.Invoker

	// Backends are optional; stages whose backend is absent pass on the
	// agent output alone (dry run).
	Builder   backend.Builder
	Artifacts backend.ArtifactStore
	Deployer  backend.Deployer

	Kill            *killswitch.Switch
	PendingBehavior killswitch.PendingBehavior
	Resolver        ApprovalResolver
	Logger          *zap.Logger
	Tracer          trace.Tracer

	// MaxAttempts bounds invocation retries per stage when the stage spec
	// does not set its own limit.
	MaxAttempts   int
	InvokeTimeout time.Duration

	AllowedDependencies []string
	RequiredMarkers     []string
	StrictDependencies  bool
}

// Runner drives pipeline runs through the stage state machine.
type Runner struct {
	cfg Config
	now func() time.Time
}

// NewRunner validates the wiring and returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil || cfg.Engine == nil || cfg.Approvals == nil || cfg.Policies == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("runner requires registry, engine, approvals, policies, and ledger")
	}
	if len(cfg.Invokers) == 0 {
		return nil, fmt.Errorf("runner requires at least one agent invoker")
	}
	if cfg.Kill == nil {
		cfg.Kill = killswitch.New()
	}
	if cfg.PendingBehavior == "" {
		cfg.PendingBehavior = killswitch.PendingHold
	}
	if !killswitch.IsKnownPendingBehavior(cfg.PendingBehavior) {
		return nil, fmt.Errorf("unknown kill-switch pending behavior %q", cfg.PendingBehavior)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/zen-systems/pipewarden/pkg/pipeline")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 2 * time.Minute
	}
	return &Runner{cfg: cfg, now: time.Now}, nil
}

// Run executes the manifest's stages in order. A blocked run returns with
// status blocked and no error; failures that abort the run return the
// causing error alongside the partial run.
func (r *Runner) Run(ctx context.Context, m *Manifest, input string) (*schema.PipelineRun, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	run := &schema.PipelineRun{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Pipeline:      m.Name,
		Environment:   m.Environment,
		Status:        schema.RunRunning,
		CreatedAt:     now,
	}
	log := r.cfg.Logger.With(zap.String("run_id", run.ID), zap.String("correlation_id", run.CorrelationID), zap.String("pipeline", m.Name))

	if _, err := r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: run.CorrelationID,
		ActorID:       orchestratorActor,
		Action:        ActionRunStarted,
		Input:         input,
	}); err != nil {
		return nil, err
	}
	log.Info("run started", zap.String("environment", string(m.Environment)))

	outputs := make(map[schema.StageKind]string)
	for _, spec := range m.Stages {
		stage := &schema.StageExecution{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			Kind:      spec.Kind,
			AgentRole: spec.Role,
			Status:    schema.StagePending,
		}
		run.Stages = append(run.Stages, stage)

		halted, err := r.runStage(ctx, run, m, spec, stage, input, outputs)
		if err != nil {
			// The run is already failing; the terminal marker is best
			// effort and the append logs its own failure.
			if ctx.Err() != nil {
				r.append(run.CorrelationID, orchestratorActor, ActionRunCancelled, nil, nil, "", nil)
				run.Status = schema.RunAborted
				log.Warn("run cancelled", zap.Error(err))
				return run, err
			}
			r.append(run.CorrelationID, orchestratorActor, ActionRunAborted, nil, nil, "", nil)
			run.Status = schema.RunAborted
			log.Error("run aborted", zap.String("stage", string(spec.Kind)), zap.Error(err))
			return run, err
		}
		if halted {
			if err := r.append(run.CorrelationID, orchestratorActor, ActionRunBlocked, nil, nil, "", nil); err != nil {
				run.Status = schema.RunAborted
				return run, err
			}
			run.Status = schema.RunBlocked
			log.Warn("run blocked", zap.String("stage", string(spec.Kind)))
			return run, nil
		}

		outputs[spec.Kind] = stage.Output
	}

	if _, err := r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: run.CorrelationID,
		ActorID:       orchestratorActor,
		Action:        ActionRunCompleted,
	}); err != nil {
		return run, err
	}
	run.Status = schema.RunCompleted
	log.Info("run completed", zap.Int("stages", len(run.Stages)))
	return run, nil
}

// runStage executes one stage. It returns halted=true when the run must
// stop without aborting (blocked or awaiting approval) and a non-nil
// error when the run must abort.
func (r *Runner) runStage(ctx context.Context, run *schema.PipelineRun, m *Manifest, spec *StageSpec, stage *schema.StageExecution, input string, outputs map[schema.StageKind]string) (bool, error) {
	ctx, span := r.cfg.Tracer.Start(ctx, "stage."+string(spec.Kind), trace.WithAttributes(
		attribute.String("pipeline.run_id", run.ID),
		attribute.String("pipeline.stage", string(spec.Kind)),
		attribute.String("pipeline.role", spec.Role),
	))
	defer span.End()
	log := r.cfg.Logger.With(zap.String("run_id", run.ID), zap.String("stage", string(spec.Kind)), zap.String("role", spec.Role))

	if r.cfg.Kill.Engaged() {
		if err := r.append(run.CorrelationID, orchestratorActor, ActionKillSwitchDenied, nil, nil, "", nil); err != nil {
			return false, err
		}
		log.Warn("stage denied, kill switch engaged")
		return true, nil
	}

	if err := r.cfg.Registry.Check(spec.Role, spec.Verbs); err != nil {
		stage.Status = schema.StageFailed
		stage.Reason = err.Error()
		if aerr := r.append(run.CorrelationID, spec.Role, ActionCapabilityViolation, err.Error(), nil, string(schema.OutcomeBlock), nil); aerr != nil {
			return false, aerr
		}
		return false, err
	}

	task, err := renderTask(spec.Prompt, input, outputs)
	if err != nil {
		stage.Status = schema.StageFailed
		return false, fmt.Errorf("render task for stage %s: %w", spec.Kind, err)
	}

	stage.Status = schema.StageRunning
	stage.StartedAt = r.now().UTC()
	stage.Input = task
	if err := r.append(run.CorrelationID, spec.Role, ActionStageStarted, task, nil, "", nil); err != nil {
		stage.Status = schema.StageFailed
		return false, err
	}

	result, attempts, err := r.invokeWithRetry(ctx, m, spec, task, outputs)
	stage.Attempts = attempts
	if err != nil {
		stage.Status = schema.StageFailed
		stage.Reason = err.Error()
		stage.FinishedAt = r.now().UTC()
		r.append(run.CorrelationID, spec.Role, ActionStageFailed, task, nil, "", nil)
		return false, fmt.Errorf("stage %s invocation failed after %d attempts: %w", spec.Kind, attempts, err)
	}

	stage.Output = result.Output
	stage.Confidence = result.Confidence
	stage.ToolCalls = result.ToolCalls
	span.SetAttributes(attribute.Float64("pipeline.confidence", result.Confidence))

	// The tool-call report is audited, not trusted: a reported verb
	// outside the allowed set fails the stage exactly like a pre-check
	// violation would.
	for _, call := range result.ToolCalls {
		if !r.cfg.Registry.IsPermitted(spec.Role, call.Verb) {
			violation := &capability.ViolationError{Role: spec.Role, Verb: call.Verb}
			stage.Status = schema.StageFailed
			stage.Reason = violation.Error()
			stage.FinishedAt = r.now().UTC()
			if aerr := r.append(run.CorrelationID, spec.Role, ActionCapabilityViolation, violation.Error(), nil, string(schema.OutcomeBlock), nil); aerr != nil {
				return false, aerr
			}
			return false, violation
		}
	}

	decision, evalErr := r.cfg.Engine.Evaluate(policy.Input{
		Stage:               stage,
		Environment:         m.Environment,
		PriorOutputs:        outputs,
		AllowedDependencies: r.cfg.AllowedDependencies,
		RequiredMarkers:     r.cfg.RequiredMarkers,
		StrictDependencies:  r.cfg.StrictDependencies,
	})
	stage.Decision = &decision
	span.SetAttributes(attribute.String("pipeline.decision", string(decision.Outcome)))

	// The decision is ledgered before the orchestrator acts on it. If the
	// ledger refuses the entry the stage must not proceed on an unrecorded
	// decision.
	if err := r.append(run.CorrelationID, spec.Role, ActionPolicyDecision, task, stage.Output, string(decision.Outcome), nil); err != nil {
		stage.Status = schema.StageFailed
		stage.Reason = err.Error()
		stage.FinishedAt = r.now().UTC()
		return false, err
	}
	log.Info("policy decision",
		zap.String("outcome", string(decision.Outcome)),
		zap.Int("findings", len(decision.Findings)),
		zap.Float64("confidence", decision.Confidence))

	if evalErr != nil {
		stage.Status = schema.StageBlocked
		stage.Reason = evalErr.Error()
		stage.FinishedAt = r.now().UTC()
		if err := r.append(run.CorrelationID, spec.Role, ActionStageBlocked, nil, nil, string(schema.OutcomeBlock), nil); err != nil {
			return false, err
		}
		log.Error("rule evaluation failed, blocking", zap.Error(evalErr))
		return true, nil
	}

	switch decision.Outcome {
	case schema.OutcomeBlock:
		stage.Status = schema.StageBlocked
		stage.FinishedAt = r.now().UTC()
		if err := r.append(run.CorrelationID, spec.Role, ActionStageBlocked, nil, nil, string(schema.OutcomeBlock), nil); err != nil {
			return false, err
		}
		return true, nil

	case schema.OutcomeWarn, schema.OutcomeEscalate:
		reason := fmt.Sprintf("policy findings on %s stage require sign-off", spec.Kind)
		if decision.Outcome == schema.OutcomeEscalate {
			reason = fmt.Sprintf("needs clarification: %s stage confidence %.2f below threshold", spec.Kind, decision.Confidence)
		}
		halted, err := r.gate(ctx, run, m, spec, stage, reason, 1)
		if halted || err != nil {
			return halted, err
		}

	case schema.OutcomeApprove:
		gatePolicy := r.cfg.Policies.For(spec.Kind, m.Environment)
		if gatePolicy.RequiredApprovals > 0 {
			halted, err := r.gate(ctx, run, m, spec, stage, fmt.Sprintf("%s to %s requires approval", spec.Kind, m.Environment), 0)
			if halted || err != nil {
				return halted, err
			}
		}
	}

	if err := r.executeBackend(ctx, run, m, spec, stage); err != nil {
		stage.Status = schema.StageFailed
		stage.Reason = err.Error()
		stage.FinishedAt = r.now().UTC()
		r.append(run.CorrelationID, spec.Role, ActionStageFailed, nil, nil, "", nil)
		return false, err
	}

	stage.Status = schema.StagePassed
	stage.FinishedAt = r.now().UTC()
	if err := r.append(run.CorrelationID, spec.Role, ActionStagePassed, nil, stage.Output, string(decision.Outcome), nil); err != nil {
		return false, err
	}
	return false, nil
}

// gate opens an approval request for the stage and waits on the resolver.
// minApprovals raises the configured count (warn and escalate always need
// at least one human).
func (r *Runner) gate(ctx context.Context, run *schema.PipelineRun, m *Manifest, spec *StageSpec, stage *schema.StageExecution, reason string, minApprovals int) (bool, error) {
	gatePolicy := r.cfg.Policies.For(spec.Kind, m.Environment)
	if gatePolicy.RequiredApprovals < minApprovals {
		gatePolicy.RequiredApprovals = minApprovals
	}

	stage.Status = schema.StageAwaitingApproval
	req, err := r.cfg.Approvals.Request(stage, run.CorrelationID, reason, gatePolicy)
	if err != nil {
		return false, err
	}
	if err := r.append(run.CorrelationID, orchestratorActor, ActionApprovalRequested, reason, nil, requiresDecision(req.RequiredApprovals), nil); err != nil {
		return false, err
	}
	r.cfg.Logger.Info("approval requested",
		zap.String("run_id", run.ID),
		zap.String("request_id", req.ID),
		zap.Int("required", req.RequiredApprovals),
		zap.String("reason", reason))

	status := req.Status
	if status == schema.ApprovalPending && r.cfg.Resolver != nil {
		status, err = r.cfg.Resolver.Resolve(ctx, req)
		if err != nil {
			return false, fmt.Errorf("resolve approval %s: %w", req.ID, err)
		}
	}

	switch status {
	case schema.ApprovalSatisfied:
		resolved, err := r.cfg.Approvals.Get(req.ID)
		if err != nil {
			return false, err
		}
		approvers := make([]string, 0, len(resolved.Approvals))
		for _, a := range resolved.Approvals {
			approvers = append(approvers, a.ApproverID)
		}
		if err := r.append(run.CorrelationID, orchestratorActor, ActionApprovalSatisfied, nil, nil, string(schema.OutcomeApprove), approvers); err != nil {
			return false, err
		}
		return false, nil

	case schema.ApprovalRejected:
		stage.Status = schema.StageBlocked
		stage.FinishedAt = r.now().UTC()
		if err := r.append(run.CorrelationID, orchestratorActor, ActionApprovalRejected, nil, nil, string(schema.OutcomeBlock), nil); err != nil {
			return false, err
		}
		return true, nil

	case schema.ApprovalExpired:
		// Timeout is fail-closed: treated exactly like a block.
		stage.Status = schema.StageBlocked
		stage.FinishedAt = r.now().UTC()
		if err := r.append(run.CorrelationID, orchestratorActor, ActionApprovalExpired, nil, nil, string(schema.OutcomeBlock), nil); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Still pending: the run suspends, the process does not.
		return true, nil
	}
}

func (r *Runner) invokeWithRetry(ctx context.Context, m *Manifest, spec *StageSpec, task string, outputs map[schema.StageKind]string) (*agent.Result, int, error) {
	invoker, model, err := r.pickInvoker(m, spec)
	if err != nil {
		return nil, 0, err
	}

	attempts := r.cfg.MaxAttempts
	if spec.MaxRetries > 0 {
		attempts = spec.MaxRetries + 1
	}

	var priorContext string
	if len(outputs) > 0 {
		// Closest predecessor output is the bounded context.
		for i := len(schema.StageOrder) - 1; i >= 0; i-- {
			if out, ok := outputs[schema.StageOrder[i]]; ok {
				priorContext = out
				break
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		invokeCtx, cancel := context.WithTimeout(ctx, r.cfg.InvokeTimeout)
		result, err := invoker.Invoke(invokeCtx, agent.Request{
			Role:         spec.Role,
			Task:         task,
			AllowedVerbs: spec.Verbs,
			Context:      priorContext,
			Model:        model,
		})
		cancel()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || !agent.IsTransient(err) {
			return nil, attempt, lastErr
		}
		r.cfg.Logger.Warn("transient invocation failure, retrying",
			zap.String("role", spec.Role),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, attempts, lastErr
}

func (r *Runner) pickInvoker(m *Manifest, spec *StageSpec) (agent.Invoker, string, error) {
	name := spec.Invoker
	if name == "" {
		name = m.DefaultInvoker
	}
	if name == "" && len(r.cfg.Invokers) == 1 {
		for key := range r.cfg.Invokers {
			name = key
		}
	}
	invoker, ok := r.cfg.Invokers[name]
	if !ok {
		return nil, "", fmt.Errorf("invoker %q not configured", name)
	}

	model := spec.Model
	if model == "" {
		model = m.DefaultModel
	}
	if model == "" {
		if models := invoker.Models(); len(models) > 0 {
			model = models[0]
		}
	}
	return invoker, model, nil
}

// executeBackend runs the external side effect for build, artifact, and
// deploy stages. Absent backends make the stage a dry run.
func (r *Runner) executeBackend(ctx context.Context, run *schema.PipelineRun, m *Manifest, spec *StageSpec, stage *schema.StageExecution) error {
	version := runVersion(run)

	switch spec.Kind {
	case schema.StageBuild:
		if r.cfg.Builder == nil {
			return nil
		}
		result, err := r.cfg.Builder.TriggerBuild(ctx, m.Name, map[string]string{"version": version})
		if err != nil {
			return fmt.Errorf("trigger build: %w", err)
		}
		if !result.Succeeded {
			return fmt.Errorf("build %s #%d failed", result.JobName, result.BuildNumber)
		}
		if err := r.append(run.CorrelationID, spec.Role, ActionBuildExecuted, nil, result, "", nil); err != nil {
			return err
		}

	case schema.StageArtifact:
		if r.cfg.Artifacts == nil {
			return nil
		}
		stored, err := r.cfg.Artifacts.Upload(ctx, m.Name, m.Name+".tgz", version, []byte(stage.Output))
		if err != nil {
			return fmt.Errorf("upload artifact: %w", err)
		}
		if err := r.append(run.CorrelationID, spec.Role, ActionArtifactUploaded, nil, stored, "", nil); err != nil {
			return err
		}

	case schema.StageDeploy:
		if r.cfg.Deployer == nil {
			return nil
		}
		deployment, err := r.cfg.Deployer.Deploy(ctx, string(m.Environment), version)
		if err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
		if err := r.append(run.CorrelationID, spec.Role, ActionDeployExecuted, nil, deployment, "", nil); err != nil {
			return err
		}
	}
	return nil
}

// runVersion derives the artifact version from the run id.
func runVersion(run *schema.PipelineRun) string {
	if len(run.ID) >= 8 {
		return run.ID[:8]
	}
	return run.ID
}

// Override records a human decision to proceed past a blocked stage. It
// is a distinct ledger action, never a normal approval.
func (r *Runner) Override(correlationID, stageID, operatorID, reason string) (schema.AuditEntry, error) {
	if operatorID == "" || reason == "" {
		return schema.AuditEntry{}, fmt.Errorf("override requires operator id and reason")
	}
	return r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: correlationID,
		ActorID:       operatorID,
		Action:        ActionOverrideRecorded,
		Input:         map[string]any{"stage_execution_id": stageID, "reason": reason},
		Decision:      "override",
		ApproverIDs:   []string{operatorID},
	})
}

// Cancel records explicit cancellation of a suspended run.
func (r *Runner) Cancel(correlationID, operatorID, reason string) (schema.AuditEntry, error) {
	if operatorID == "" {
		return schema.AuditEntry{}, fmt.Errorf("cancel requires operator id")
	}
	return r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: correlationID,
		ActorID:       operatorID,
		Action:        ActionRunCancelled,
		Input:         reason,
	})
}

// EngageKillSwitch stops new stage invocations and applies the configured
// behavior to approvals that are already pending.
func (r *Runner) EngageKillSwitch(actorID, reason string) error {
	if actorID == "" || reason == "" {
		return fmt.Errorf("kill switch engage requires actor id and reason")
	}
	r.cfg.Kill.Engage(actorID, reason)
	if _, err := r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: killSwitchCorrelation,
		ActorID:       actorID,
		Action:        ActionKillSwitchEngaged,
		Input:         reason,
	}); err != nil {
		return err
	}
	r.cfg.Logger.Warn("kill switch engaged", zap.String("actor", actorID), zap.String("reason", reason))

	switch r.cfg.PendingBehavior {
	case killswitch.PendingHold:
		// Pending requests stay open for manual resolution.

	case killswitch.PendingExpire:
		for _, req := range r.cfg.Approvals.ExpireOverdue(r.now().AddDate(1000, 0, 0)) {
			if err := r.append(req.CorrelationID, actorID, ActionApprovalExpired, reason, nil, string(schema.OutcomeBlock), nil); err != nil {
				return err
			}
		}

	case killswitch.PendingReject:
		for _, req := range r.cfg.Approvals.Pending() {
			if _, err := r.cfg.Approvals.Reject(req.ID, actorID, reason); err != nil {
				if errors.Is(err, approval.ErrRequestClosed) {
					continue
				}
				return err
			}
			if err := r.append(req.CorrelationID, actorID, ActionApprovalRejected, reason, nil, string(schema.OutcomeBlock), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReleaseKillSwitch re-enables stage invocations.
func (r *Runner) ReleaseKillSwitch(actorID string) error {
	if actorID == "" {
		return fmt.Errorf("kill switch release requires actor id")
	}
	r.cfg.Kill.Release(actorID)
	_, err := r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: killSwitchCorrelation,
		ActorID:       actorID,
		Action:        ActionKillSwitchReleased,
	})
	return err
}

// append writes a ledger record. A failed append is fatal to whatever the
// caller was about to do: the orchestrator never acts on a decision the
// ledger did not accept.
func (r *Runner) append(correlationID, actorID, action string, input, output any, decision string, approverIDs []string) error {
	if _, err := r.cfg.Ledger.Append(ledger.Record{
		CorrelationID: correlationID,
		ActorID:       actorID,
		Action:        action,
		Input:         input,
		Output:        output,
		Decision:      decision,
		ApproverIDs:   approverIDs,
	}); err != nil {
		r.cfg.Logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
		return fmt.Errorf("audit append %s: %w", action, err)
	}
	return nil
}
