package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"forgeline/internal/activity"
	"forgeline/internal/artifact"
	"forgeline/internal/config"
	"forgeline/internal/ethics"
	"forgeline/internal/gate"
	"forgeline/internal/generate"
	"forgeline/internal/graph"
	"forgeline/internal/ingest"
	"forgeline/internal/lineage"
	"forgeline/internal/pipeline"
	"forgeline/internal/sandbox"
	"forgeline/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// system bundles the wired components behind every command.
type system struct {
	cfg      *config.Config
	store    *store.ContentStore
	ledger   *lineage.Ledger
	graph    *graph.Graph
	gate     *gate.PolicyGate
	ethics   ethics.Checker
	sandbox  sandbox.Sandbox
	activity activity.Sink
	pipeline *pipeline.Pipeline
}

// buildSystem loads configuration and wires the full component stack.
func buildSystem() (*system, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	cfg, err := config.Load(path, workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cs, err := store.NewContentStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	ledger, err := lineage.NewLedger(cs.DB())
	if err != nil {
		cs.Close()
		return nil, err
	}
	gr, err := graph.New(cs.DB())
	if err != nil {
		cs.Close()
		return nil, err
	}

	rules, err := gate.LoadRules(cfg.Policy.RulesPath)
	if err != nil {
		cs.Close()
		return nil, err
	}
	pg := gate.New(rules)

	sink, err := activity.NewFileLog(cfg.Storage.ActivityPath)
	if err != nil {
		cs.Close()
		return nil, err
	}

	checker := ethics.NewPrincipleChecker()
	var sb sandbox.Sandbox
	if cfg.Pipeline.SandboxEnabled {
		sb = sandbox.NewInterpreter()
	}

	sys := &system{
		cfg:      cfg,
		store:    cs,
		ledger:   ledger,
		graph:    gr,
		gate:     pg,
		ethics:   checker,
		sandbox:  sb,
		activity: sink,
	}
	sys.pipeline = pipeline.New(cs, ledger, gr, pg, checker, sb, nil, nil, sink, pipeline.Options{
		SandboxEnabled:  cfg.Pipeline.SandboxEnabled,
		SandboxTimeout:  cfg.GetSandboxTimeout(),
		MaxGateAttempts: cfg.Pipeline.MaxGateAttempts,
	})
	return sys, nil
}

func (s *system) close() {
	_ = s.store.Close()
}

// buildCoordinator wires the generation backends from configuration.
func (s *system) buildCoordinator() (*generate.Coordinator, error) {
	var backends []generate.Backend
	for _, bc := range s.cfg.Generation.Backends {
		switch bc.Provider {
		case "gemini":
			b, err := generate.NewGeminiBackend(bc)
			if err != nil {
				return nil, err
			}
			backends = append(backends, b)
		case "static", "mock":
			backends = append(backends, &generate.StaticBackend{BackendName: bc.Provider})
		}
	}
	return generate.New(backends, s.ethics, s.gate, s.store, s.activity,
		s.cfg.Generation.MaxRetries, s.cfg.GetBackoff()), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	name, file := args[0], args[1]

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	a, err := sys.store.Add(name, artifact.Kind(submitKind), string(data), submitCreator, submitParent, nil)
	if err != nil {
		return err
	}

	logger.Info("artifact submitted", zap.String("id", a.ID), zap.String("name", name))
	fmt.Printf("Submitted %s as %s (pending)\n", name, a.ID)
	return nil
}

func runCycle(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	coord, err := sys.buildCoordinator()
	if err != nil {
		return err
	}
	sys.pipeline.SetNotifier(coord)

	stats, err := sys.pipeline.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Cycle complete: processed=%d accepted=%d rejected=%d load_failed=%d content_missing=%d errors=%d\n",
		stats.Processed, stats.Accepted, stats.Rejected, stats.LoadFailed, stats.ContentMissing, stats.Errors)
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	coord, err := sys.buildCoordinator()
	if err != nil {
		return err
	}
	sys.pipeline.SetNotifier(coord)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var watcher *ingest.Watcher
	if sys.cfg.Ingest.Enabled {
		watcher, err = ingest.NewWatcher(sys.store, sys.activity, sys.cfg.Ingest.DropDir,
			sys.cfg.Ingest.Creator, sys.cfg.Ingest.MaxBytes)
		if err != nil {
			return err
		}
	}

	sys.pipeline.StartWorker(sys.cfg.GetInterval())
	if watcher != nil {
		if err := watcher.Start(); err != nil {
			sys.pipeline.StopWorker()
			return err
		}
	}

	logger.Info("daemon running",
		zap.String("interval", sys.cfg.Pipeline.Interval),
		zap.Bool("ingest", watcher != nil))
	fmt.Println("forgeline daemon running; Ctrl-C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		sys.pipeline.StopWorker()
		if watcher != nil {
			watcher.Stop()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	health := sys.pipeline.Health()
	fmt.Printf("Stopped after %d cycles: accepted=%d rejected=%d load_failed=%d errors=%d\n",
		health.Cycles, health.Accepted, health.Rejected, health.LoadFailed, health.Errors)
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	name := args[0]
	intent := strings.Join(args[1:], " ")

	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	coord, err := sys.buildCoordinator()
	if err != nil {
		return err
	}

	a, err := coord.Generate(cmd.Context(), generate.Request{
		Name:    name,
		Kind:    artifact.KindCode,
		Intent:  intent,
		Creator: "coordinator",
		Metadata: map[string]string{
			"intent": intent,
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Generated %s as %s (pending)\n", name, a.ID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	chain, err := sys.store.History(args[0])
	if err != nil {
		return err
	}

	for i, a := range chain {
		fmt.Printf("%2d  %s  %-22s  %s  %s\n", i+1, a.CreatedAt.Format("2006-01-02 15:04:05"),
			a.Status, a.ID, a.ContentHash[:12])
	}
	return nil
}

func runDAG(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	dag, err := sys.ledger.DAG(args[0], dagDepth)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(dag, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runExportGraph(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	if err := sys.graph.Export(args[0]); err != nil {
		return err
	}
	fmt.Printf("Graph exported to %s\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}
	defer sys.close()

	tables, err := sys.store.Stats()
	if err != nil {
		return err
	}
	fmt.Println("Tables:")
	for table, count := range tables {
		fmt.Printf("  %-18s %d\n", table, count)
	}

	fmt.Println("Artifacts by status:")
	for _, status := range []artifact.Status{
		artifact.StatusPending, artifact.StatusAccepted, artifact.StatusRejected,
		artifact.StatusContentMissing, artifact.StatusAcceptedLoadFailed,
	} {
		list, err := sys.store.List("", status)
		if err != nil {
			return err
		}
		fmt.Printf("  %-22s %d\n", status, len(list))
	}
	return nil
}
