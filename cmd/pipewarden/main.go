package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/pipewarden/pkg/agent"
	"github.com/zen-systems/pipewarden/pkg/approval"
	"github.com/zen-systems/pipewarden/pkg/backend"
	"github.com/zen-systems/pipewarden/pkg/config"
	"github.com/zen-systems/pipewarden/pkg/killswitch"
	"github.com/zen-systems/pipewarden/pkg/ledger"
	"github.com/zen-systems/pipewarden/pkg/logging"
	"github.com/zen-systems/pipewarden/pkg/pipeline"
	"github.com/zen-systems/pipewarden/pkg/policy"
	"github.com/zen-systems/pipewarden/pkg/schema"
	"github.com/zen-systems/pipewarden/pkg/telemetry"
)

var (
	configFile   string
	memoryLedger bool
	traceFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipewarden",
		Short: "Governed multi-agent delivery pipeline",
		Long: `Pipewarden drives AI agent pipelines through capability checks,
policy gates, and human approvals, recording every decision in a
hash-chained audit ledger.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&memoryLedger, "memory-ledger", false, "use an in-memory ledger (dry runs)")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "emit OpenTelemetry spans to stdout")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(killCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime bundles the wired components for one CLI invocation.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	ledger    *ledger.Ledger
	approvals *approval.Manager
	kill      *killswitch.Switch
	runner    *pipeline.Runner
	store     *backend.Memory
	shutdown  func()
}

func newRuntime(approvers []string) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	shutdown := func() { _ = logger.Sync() }
	if traceFlag {
		stop, err := telemetry.Init("pipewarden")
		if err != nil {
			return nil, err
		}
		shutdown = func() {
			_ = stop(context.Background())
			_ = logger.Sync()
		}
	}

	var l *ledger.Ledger
	if memoryLedger {
		l = ledger.New(ledger.NewMemoryStore())
	} else {
		store, err := ledger.OpenSQLite(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger %s: %w", cfg.LedgerPath, err)
		}
		l = ledger.New(store)
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}
	policies, err := cfg.BuildPolicyTable()
	if err != nil {
		return nil, err
	}

	engine := policy.NewEngine()
	if cfg.ConfidenceThreshold > 0 {
		engine.SetConfidenceThreshold(cfg.ConfidenceThreshold)
	}

	approvals := approval.NewManager()
	kill := killswitch.New()
	restoreKillState(cfg, kill)

	invokers := map[string]agent.Invoker{"mock": agent.NewMockInvoker()}
	if cfg.HasInvoker("anthropic") {
		inv, err := agent.NewAnthropicInvoker(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["anthropic"] = inv
	}
	if cfg.HasInvoker("openai") {
		inv, err := agent.NewOpenAIInvoker(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["openai"] = inv
	}
	if cfg.HasInvoker("google") {
		inv, err := agent.NewGoogleInvoker(cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		invokers["google"] = inv
	}

	store := backend.NewMemory()
	runnerCfg := pipeline.Config{
		Registry:            registry,
		Engine:              engine,
		Approvals:           approvals,
		Policies:            policies,
		Ledger:              l,
		Invokers:            invokers,
		Builder:             store,
		Artifacts:           store,
		Deployer:            store,
		Kill:                kill,
		PendingBehavior:     cfg.KillSwitchPending,
		Logger:              logger,
		Tracer:              telemetry.Tracer(),
		MaxAttempts:         cfg.MaxAttempts,
		AllowedDependencies: cfg.AllowedDependencies,
		RequiredMarkers:     cfg.RequiredMarkers,
		StrictDependencies:  cfg.StrictDependencies,
	}
	if len(approvers) > 0 {
		runnerCfg.Resolver = staticResolver{m: approvals, approvers: approvers}
	}
	runner, err := pipeline.NewRunner(runnerCfg)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		ledger:    l,
		approvals: approvals,
		kill:      kill,
		runner:    runner,
		store:     store,
		shutdown:  shutdown,
	}, nil
}

// staticResolver resolves gates with approver identities supplied on the
// command line.
type staticResolver struct {
	m         *approval.Manager
	approvers []string
}

func (r staticResolver) Resolve(_ context.Context, req schema.ApprovalRequest) (schema.ApprovalStatus, error) {
	status := req.Status
	for _, approver := range r.approvers {
		current, err := r.m.Record(req.ID, approver, time.Time{})
		if err != nil {
			return "", err
		}
		status = current.Status
		if status.Terminal() {
			break
		}
	}
	return status, nil
}

func killStatePath(cfg *config.Config) string {
	return filepath.Join(cfg.ConfigDir, "killswitch.json")
}

// restoreKillState re-engages the switch if a previous invocation left it
// engaged. The switch is process state; the file carries it across CLI
// invocations.
func restoreKillState(cfg *config.Config, s *killswitch.Switch) {
	data, err := os.ReadFile(killStatePath(cfg))
	if err != nil {
		return
	}
	var state killswitch.State
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if state.Engaged {
		s.Engage(state.ActorID, state.Reason)
	}
}

func saveKillState(cfg *config.Config, state killswitch.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(killStatePath(cfg), data, 0600)
}

func runCmd() *cobra.Command {
	var input string
	var approvers []string

	cmd := &cobra.Command{
		Use:   "run [manifest]",
		Short: "Execute a pipeline manifest",
		Long: `Runs the manifest's stages in order. Approval gates are resolved
with the identities given via --approve-as; without them a gated run
halts with the request pending.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(approvers)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			m, err := pipeline.LoadManifest(args[0])
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			run, runErr := rt.runner.Run(cmd.Context(), m, input)
			if run != nil {
				printRun(run)
			}
			if runErr != nil {
				return runErr
			}
			if run.Status != schema.RunCompleted {
				fmt.Fprintf(os.Stderr, "run %s: %s\n", run.CorrelationID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "task input handed to the first stage")
	cmd.Flags().StringArrayVar(&approvers, "approve-as", nil, "approver identity for gates (repeatable)")
	return cmd
}

func printRun(run *schema.PipelineRun) {
	fmt.Printf("run %s (%s) correlation %s\n", run.ID, run.Status, run.CorrelationID)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Stage", "Role", "Status", "Outcome", "Confidence", "Attempts"})
	for _, stage := range run.Stages {
		outcome := ""
		if stage.Decision != nil {
			outcome = string(stage.Decision.Outcome)
		}
		tw.AppendRow(table.Row{stage.Kind, stage.AgentRole, stage.Status, outcome, fmt.Sprintf("%.2f", stage.Confidence), stage.Attempts})
	}
	tw.Render()

	for _, stage := range run.Stages {
		if stage.Decision == nil {
			continue
		}
		for _, finding := range stage.Decision.Findings {
			fmt.Printf("  [%s] %s %s: %s\n", finding.Severity, stage.Kind, finding.RuleID, finding.Message)
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [correlation-id]",
		Short: "Rebuild a run's status from the audit ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			replayed, err := pipeline.Replay(rt.ledger, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s (%d entries)\n", replayed.CorrelationID, replayed.Status, len(replayed.Entries))

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Seq", "Actor", "Action", "Decision"})
			for _, event := range replayed.StageEvents {
				tw.AppendRow(table.Row{event.Sequence, event.ActorID, event.Action, event.Decision})
			}
			tw.Render()
			return nil
		},
	}
}

func approvalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approvals",
		Short: "List runs halted on an unresolved approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			pending, err := pipeline.PendingGates(rt.ledger)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Correlation", "Requested At", "Reason Digest"})
			for _, entry := range pending {
				tw.AppendRow(table.Row{entry.CorrelationID, time.Unix(0, entry.Timestamp).UTC().Format(time.RFC3339), entry.InputDigest})
			}
			tw.Render()
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	var approver string

	cmd := &cobra.Command{
		Use:   "approve [correlation-id]",
		Short: "Record an out-of-band approval for a halted run",
		Long: `Adds one approval to the run's open gate. The gate is only marked
satisfied once the distinct approver count the gate was opened with is
reached; a duplicate identity does not advance the count.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approver == "" {
				return fmt.Errorf("--approver is required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			status, err := pipeline.RecordApproval(rt.ledger, args[0], approver)
			if err != nil {
				return err
			}
			if status.Satisfied {
				fmt.Printf("gate satisfied with %d of %d approvals\n", len(status.Approvers), status.Required)
			} else {
				fmt.Printf("approval recorded, %d of %d\n", len(status.Approvers), status.Required)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver identity")
	return cmd
}

func rejectCmd() *cobra.Command {
	var approver, reason string

	cmd := &cobra.Command{
		Use:   "reject [correlation-id]",
		Short: "Record an out-of-band rejection for a halted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approver == "" || reason == "" {
				return fmt.Errorf("--approver and --reason are required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			entry, err := rt.ledger.Append(ledger.Record{
				CorrelationID: args[0],
				ActorID:       approver,
				Action:        pipeline.ActionApprovalRejected,
				Input:         reason,
				Decision:      string(schema.OutcomeBlock),
			})
			if err != nil {
				return err
			}
			fmt.Printf("rejection recorded at sequence %d\n", entry.SequenceNumber)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver identity")
	cmd.Flags().StringVar(&reason, "reason", "", "why the run must not proceed")
	return cmd
}

func overrideCmd() *cobra.Command {
	var stageID, operator, reason string

	cmd := &cobra.Command{
		Use:   "override [correlation-id]",
		Short: "Record an operator override for a blocked run",
		Long: `Records a permanent override entry in the audit ledger. The run
is considered reopened on replay; the override never rewrites the
blocking decision that precedes it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" || reason == "" {
				return fmt.Errorf("--operator and --reason are required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			entry, err := rt.runner.Override(args[0], stageID, operator, reason)
			if err != nil {
				return err
			}
			fmt.Printf("override recorded at sequence %d\n", entry.SequenceNumber)
			return nil
		},
	}

	cmd.Flags().StringVar(&stageID, "stage", "", "blocked stage id")
	cmd.Flags().StringVar(&operator, "operator", "", "operator identity")
	cmd.Flags().StringVar(&reason, "reason", "", "why the block is overridden")
	return cmd
}

func cancelCmd() *cobra.Command {
	var operator, reason string

	cmd := &cobra.Command{
		Use:   "cancel [correlation-id]",
		Short: "Cancel a run and record the cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				return fmt.Errorf("--operator is required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			entry, err := rt.runner.Cancel(args[0], operator, reason)
			if err != nil {
				return err
			}
			fmt.Printf("cancellation recorded at sequence %d\n", entry.SequenceNumber)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "operator identity")
	cmd.Flags().StringVar(&reason, "reason", "", "why the run is cancelled")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export the audit ledger",
	}
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditVerifyCmd())
	cmd.AddCommand(auditExportCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [correlation-id]",
		Short: "List audit entries, optionally for one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			var entries []schema.AuditEntry
			if len(args) == 1 {
				entries, err = rt.ledger.Query(args[0])
			} else {
				entries, err = rt.ledger.Entries(0, 0)
			}
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Seq", "Time", "Correlation", "Actor", "Action", "Decision"})
			for _, entry := range entries {
				tw.AppendRow(table.Row{
					entry.SequenceNumber,
					time.Unix(0, entry.Timestamp).UTC().Format(time.RFC3339),
					entry.CorrelationID,
					entry.ActorID,
					entry.Action,
					entry.Decision,
				})
			}
			tw.Render()
			return nil
		},
	}
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the full hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.ledger.Verify(); err != nil {
				return fmt.Errorf("LEDGER INTEGRITY FAILURE: %w", err)
			}
			count, err := rt.ledger.Len()
			if err != nil {
				return err
			}
			fmt.Printf("chain intact: %d entries\n", count)
			return nil
		},
	}
}

func auditExportCmd() *cobra.Command {
	var from, to uint64
	var out, keyID string
	var sign, archive bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a verifiable ledger segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			segment, err := rt.ledger.Export(from, to)
			if err != nil {
				return err
			}
			if sign {
				signer, err := ledger.NewSigner(filepath.Join(rt.cfg.ConfigDir, "keys"), keyID)
				if err != nil {
					return err
				}
				if err := signer.Sign(segment); err != nil {
					return err
				}
			}

			if archive {
				store, err := ledger.NewArchive(filepath.Join(rt.cfg.ConfigDir, "archive"))
				if err != nil {
					return err
				}
				path, err := store.StoreSegment(segment)
				if err != nil {
					return err
				}
				fmt.Printf("archived %d entries to %s\n", len(segment.Entries), path)
			}

			data, err := segment.Marshal()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0600); err != nil {
				return err
			}
			fmt.Printf("exported %d entries to %s\n", len(segment.Entries), out)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "first sequence number (0 = start)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last sequence number (0 = tail)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the segment with ed25519")
	cmd.Flags().BoolVar(&archive, "archive", false, "also store the segment in the content-addressed archive")
	cmd.Flags().StringVar(&keyID, "key-id", "audit-export", "signing key id")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var reason string
	var approvers []string

	cmd := &cobra.Command{
		Use:   "rollback [environment] [version]",
		Short: "Roll an environment back to a recorded version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(approvers)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			stage, err := rt.runner.Rollback(cmd.Context(), schema.Environment(args[0]), args[1], reason)
			if err != nil {
				return err
			}
			fmt.Printf("rollback %s: %s (correlation %s)\n", args[1], stage.Status, stage.RunID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the rollback is needed (required)")
	cmd.Flags().StringArrayVar(&approvers, "approve-as", nil, "approver identity for the gate (repeatable)")
	return cmd
}

func killCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Engage or release the global kill switch",
	}

	var actor, reason string
	engage := &cobra.Command{
		Use:   "engage",
		Short: "Stop all new stage invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || reason == "" {
				return fmt.Errorf("--actor and --reason are required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.runner.EngageKillSwitch(actor, reason); err != nil {
				return err
			}
			if err := saveKillState(rt.cfg, rt.kill.Current()); err != nil {
				return err
			}
			fmt.Println("kill switch engaged")
			return nil
		},
	}
	engage.Flags().StringVar(&actor, "actor", "", "operator identity")
	engage.Flags().StringVar(&reason, "reason", "", "why agents must stop")

	var releaseActor string
	release := &cobra.Command{
		Use:   "release",
		Short: "Re-enable stage invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if releaseActor == "" {
				return fmt.Errorf("--actor is required")
			}
			rt, err := newRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.runner.ReleaseKillSwitch(releaseActor); err != nil {
				return err
			}
			if err := saveKillState(rt.cfg, rt.kill.Current()); err != nil {
				return err
			}
			fmt.Println("kill switch released")
			return nil
		},
	}
	release.Flags().StringVar(&releaseActor, "actor", "", "operator identity")

	cmd.AddCommand(engage)
	cmd.AddCommand(release)
	return cmd
}
