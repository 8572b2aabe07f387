package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sourceplane/mapflow/internal/cluster"
	"github.com/sourceplane/mapflow/internal/dispatch"
	"github.com/sourceplane/mapflow/internal/loader"
	"github.com/sourceplane/mapflow/internal/mapfile"
	"github.com/sourceplane/mapflow/internal/model"
	"github.com/sourceplane/mapflow/internal/runner"
)

var (
	runInputs []string
	runDryRun bool
	runResume string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline",
	Long:  "Render and build a pipeline, then run its steps in order across the configured nodes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	addDefinitionFlags(runCmd)
	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "External mapfile name=path (repeatable)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Prepare every unit but do not execute commands")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Continue the run with this id")
}

func runPipeline(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs, err := loader.ParseAssignments(runInputs)
	if err != nil {
		return err
	}
	l, err := loadDefinition(inputs)
	if err != nil {
		return err
	}

	store := mapfile.NewStore(cfg.MapFileDir, logger)
	for name, path := range inputs {
		mf, err := store.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load input %s: %w", name, err)
		}
		store.Register(name, mf)
	}

	var inv cluster.Inventory = cluster.NewLocal(cfg.Cluster.Nodes, cfg.Cluster.Launcher, logger)
	dryRun := runDryRun || cfg.Cluster.DryRun
	var recorder *cluster.DryRun
	if dryRun {
		fmt.Println("□ Dry-run mode enabled, commands are not executed.")
		recorder = cluster.NewDryRun(inv, logger)
		inv = recorder
	}

	dispatcher := dispatch.NewDispatcher(inv, dispatch.Config{
		WorkDir:            cfg.WorkDir,
		ScriptDir:          cfg.ScriptDir,
		CasapyExecutable:   cfg.Recipes.Casapy.Executable,
		CasapyArguments:    cfg.Recipes.Casapy.Arguments,
		AbortOnUnitFailure: cfg.Runner.AbortStepOnUnitFailure,
		UnitTimeout:        cfg.Runner.UnitTimeout,
	}, logger)

	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithStateDir(cfg.StateDir),
		runner.WithDefinitionText(l.text),
	}
	resume := runResume
	if resume == "" {
		resume = cfg.Runner.Resume
	}
	if resume != "" {
		fmt.Printf("□ Resuming run %s...\n", resume)
		opts = append(opts, runner.WithResume(filepath.Join(cfg.StateDir, resume)))
	}

	fmt.Printf("□ Running %d steps...\n", l.def.Len())
	res, runErr := runner.New(l.def, store, dispatcher, inv, opts...).Run(ctx)
	if res != nil {
		printRun(res)
	}
	if runErr != nil {
		var re *model.RuntimeError
		if errors.As(runErr, &re) && len(re.Units) > 1 {
			for _, u := range re.Units {
				fmt.Printf("  ✗ unit %d on %s: %v\n", u.Index, u.Node, u.Err)
			}
		}
		return runErr
	}

	if recorder != nil {
		fmt.Printf("✓ Dry-run complete, %d commands prepared\n", len(recorder.Invocations()))
	} else {
		fmt.Println("✓ Run complete")
	}
	if res.Dir != "" {
		fmt.Printf("✓ Run state: %s\n", res.Dir)
	}
	return nil
}

func printRun(res *runner.RunResult) {
	for _, sr := range res.Steps {
		switch sr.State {
		case runner.StateSucceeded:
			note := fmt.Sprintf("%d units", len(sr.Units))
			if sr.Restored {
				note = "restored"
			}
			fmt.Printf("  ✓ %s (%s) → %s\n", sr.ID, note, sr.Output.Path)
		case runner.StateFailed:
			fmt.Printf("  ✗ %s\n", sr.ID)
		default:
			fmt.Printf("  - %s (%s)\n", sr.ID, sr.State)
		}
	}
}
