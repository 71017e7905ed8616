package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/coordinator"
	"github.com/torosent/rampfire/internal/output"
	"github.com/torosent/rampfire/internal/paths"
	"github.com/torosent/rampfire/internal/threshold"
	"github.com/torosent/rampfire/internal/worker"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code. A run
// that reaches its summary exits 0 whatever its failure count; only startup
// failures exit 1.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rampfire [config.json]",
		Short:         "Ramp concurrent HTTP load against a target from several workers",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags(), args)
			if errors.Is(err, config.ErrHelpRequested) {
				return cmd.Help()
			}
			if err != nil {
				return err
			}
			return runCoordinator(cmd.Context(), *cfg, stdout, stderr)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd)
	cmd.AddCommand(newWorkerCommand(stdout, stderr))
	return cmd
}

// newWorkerCommand is the entry point of a worker process. The coordinator
// passes the config through the environment and reads messages from stdout.
func newWorkerCommand(stdout, stderr io.Writer) *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:           "worker",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout is the message stream; once the coordinator stops reading,
			// writes must fail with EPIPE instead of killing the process.
			signal.Ignore(syscall.SIGPIPE)
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			logger := log.New(stderr, fmt.Sprintf("[worker %d] ", id), log.LstdFlags)
			return worker.Run(cmd.Context(), id, *cfg, stdout, logger)
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "Worker id assigned by the coordinator")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runCoordinator(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.New(stderr, "[rampfire] ", log.LstdFlags)
	for _, warning := range cfg.Warnings() {
		logger.Printf("WARNING: %s", warning)
	}

	// every worker loads its own copy; a bad file should fail here, once
	if _, err := paths.Load(cfg.PathsFile); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	// With JSON output stdout carries only the summary document.
	console := stdout
	if cfg.JSONOutput {
		console = stderr
	}

	c, err := coordinator.New(coordinator.Options{
		Config:   cfg,
		Spawner:  newSpawner(cfg, stderr, logger),
		Reporter: output.NewConsole(console, cfg.MaxBatch),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	printBanner(console, cfg, c.Workers())

	summary, err := c.Run(ctx)
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(summary)
	if cfg.JSONOutput {
		return output.PrintJSONSummary(stdout, summary, results)
	}
	output.PrintSummary(stdout, summary, results)
	return nil
}

func newSpawner(cfg config.Config, stderr io.Writer, logger *log.Logger) coordinator.Spawner {
	if cfg.InProcess {
		return coordinator.LocalSpawner{Stderr: stderr, Logger: logger}
	}
	return coordinator.ProcessSpawner{Stderr: stderr, Logger: logger}
}

func printBanner(w io.Writer, cfg config.Config, workers int) {
	source := cfg.ConfigFile
	if source == "" {
		source = "command line"
	}
	host := cfg.TargetURL
	if u, err := url.Parse(cfg.TargetURL); err == nil && u.Host != "" {
		host = u.Host
	}
	mode := "processes"
	if cfg.InProcess {
		mode = "in-process"
	}
	fmt.Fprintf(w, "Config:      %s\n", source)
	fmt.Fprintf(w, "Target host: %s\n", host)
	fmt.Fprintf(w, "Workers:     %d (%s)\n", workers, mode)
	fmt.Fprintf(w, "Batches:     %d..%d\n\n", cfg.MinBatch, cfg.MaxBatch)
}
