// missionctl is a thin operational shell over the mission core: create
// missions, drive them through the workflow, and inspect their audit
// trail. Phase work and gate checks are performed by external
// collaborators in a real deployment; this tool wires pass-through stand-ins
// so operators can drive workflows whose work happens out-of-band.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"missioncore/pkg/config"
	"missioncore/pkg/eventlog"
	"missioncore/pkg/gate"
	"missioncore/pkg/metrics"
	"missioncore/pkg/orchestrator"
	"missioncore/pkg/persistence"
	"missioncore/pkg/workflow"
)

// manualExecutor reports success without producing artifacts: phase work
// is assumed to happen out-of-band when driving missions from the CLI.
type manualExecutor struct{}

func (manualExecutor) Execute(_ context.Context, _ *persistence.Mission, _ workflow.Phase) (*orchestrator.PhaseResult, error) {
	return &orchestrator.PhaseResult{Success: true}, nil
}

// manualAuditor passes every check; real gate verdicts come from an
// auditor service wired in the hosting process.
type manualAuditor struct{}

func (manualAuditor) Check(_ context.Context, _ string, _ *persistence.Mission) (*gate.AuditReport, error) {
	return &gate.AuditReport{Status: persistence.GateStatusPass}, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	flagSet := flag.NewFlagSet("missionctl", flag.ExitOnError)
	configPath := flagSet.String("config", "missioncore.json", "Config file path")
	missionUUID := flagSet.String("uuid", "", "Mission UUID")
	phase := flagSet.String("phase", "", "Initial phase for create")
	intent := flagSet.String("intent", "", "Transition intent for advance")
	maxCost := flagSet.Float64("max-cost", 0, "Budget ceiling in USD for create")
	cost := flagSet.Float64("cost", 0, "Cost delta in USD for charge")
	approver := flagSet.String("approver", "", "Approver name for approve")
	approved := flagSet.Bool("approved", true, "Approval verdict for approve")
	status := flagSet.String("status", "", "Status filter for list")
	flagSet.Usage = printUsage

	if err := flagSet.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(command, cfg, runArgs{
		missionUUID: *missionUUID,
		phase:       *phase,
		intent:      *intent,
		maxCost:     *maxCost,
		cost:        *cost,
		approver:    *approver,
		approved:    *approved,
		status:      *status,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runArgs struct {
	missionUUID string
	phase       string
	intent      string
	maxCost     float64
	cost        float64
	approver    string
	approved    bool
	status      string
}

// effectiveMaxCost resolves the budget ceiling for a new mission: the
// -max-cost flag wins, otherwise the configured default applies.
func effectiveMaxCost(flagValue, configDefault float64) float64 {
	if flagValue > 0 {
		return flagValue
	}
	return configDefault
}

func run(command string, cfg *config.Config, args runArgs) error {
	db, err := persistence.InitializeDatabase(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	store := persistence.NewStore(db)
	defer func() { _ = store.Close() }()

	def, err := workflow.Load(cfg.WorkflowFile)
	if err != nil {
		return err
	}

	events, err := eventlog.NewWriter(cfg.EventLogDir)
	if err != nil {
		return err
	}
	defer func() { _ = events.Close() }()

	gateOpts := []gate.Option{
		gate.WithCheckTimeout(time.Duration(cfg.GateTimeoutSec) * time.Second),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithExecTimeout(time.Duration(cfg.ExecutorTimeoutSec) * time.Second),
		orchestrator.WithEventSink(events),
	}
	if cfg.MetricsEnabled {
		recorder := metrics.NewPrometheusRecorder()
		gateOpts = append(gateOpts, gate.WithRecorder(recorder))
		orchOpts = append(orchOpts, orchestrator.WithRecorder(recorder))
	}

	engine := gate.NewEngine(store, manualAuditor{}, gateOpts...)
	orch := orchestrator.New(store, def, engine, manualExecutor{}, orchOpts...)

	ctx := context.Background()

	switch command {
	case "create":
		if args.phase == "" {
			return fmt.Errorf("create requires -phase")
		}
		maxCost := effectiveMaxCost(args.maxCost, cfg.DefaultMaxCostUSD)
		alertThreshold := maxCost * cfg.AlertThresholdRatio
		uuid, err := orch.CreateMission(workflow.Phase(args.phase), maxCost, alertThreshold, nil)
		if err != nil {
			return err
		}
		fmt.Println(uuid)
		return nil

	case "charge":
		if args.missionUUID == "" || args.cost <= 0 {
			return fmt.Errorf("charge requires -uuid and a positive -cost")
		}
		// Pre-spend recording: hard enforcement (configurable) rejects the
		// charge outright when it would blow the budget.
		total, err := store.IncrementCost(args.missionUUID, args.cost, cfg.HardBudgetEnforce)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"uuid": args.missionUUID, "current_cost": total})

	case "advance":
		if args.missionUUID == "" {
			return fmt.Errorf("advance requires -uuid")
		}
		mission, err := orch.Advance(ctx, args.missionUUID, args.intent)
		if err != nil {
			return err
		}
		return printJSON(mission)

	case "approve":
		if args.missionUUID == "" || args.approver == "" {
			return fmt.Errorf("approve requires -uuid and -approver")
		}
		mission, err := orch.Approve(ctx, args.missionUUID, args.approver, args.approved)
		if err != nil {
			return err
		}
		return printJSON(mission)

	case "status":
		if args.missionUUID == "" {
			return fmt.Errorf("status requires -uuid")
		}
		mission, err := orch.GetMissionStatus(args.missionUUID)
		if err != nil {
			return err
		}
		return printJSON(mission)

	case "audit":
		if args.missionUUID == "" {
			return fmt.Errorf("audit requires -uuid")
		}
		trail, err := orch.GetAuditTrail(args.missionUUID)
		if err != nil {
			return err
		}
		return printJSON(trail)

	case "list":
		missions, err := store.ListMissions(args.status)
		if err != nil {
			return err
		}
		return printJSON(missions)

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "missionctl - Mission Core Control\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  missionctl <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  create   -phase <PHASE> [-max-cost <usd>]   Create a mission\n")
	fmt.Fprintf(os.Stderr, "  advance  -uuid <UUID> [-intent <intent>]    Advance a mission\n")
	fmt.Fprintf(os.Stderr, "  charge   -uuid <UUID> -cost <usd>           Record cost against a mission\n")
	fmt.Fprintf(os.Stderr, "  approve  -uuid <UUID> -approver <name> [-approved=false]\n")
	fmt.Fprintf(os.Stderr, "  status   -uuid <UUID>                       Show mission state\n")
	fmt.Fprintf(os.Stderr, "  audit    -uuid <UUID>                       Show merged audit trail\n")
	fmt.Fprintf(os.Stderr, "  list     [-status <status>]                 List missions\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -config <file>   Config file (default: missioncore.json)\n")
}
