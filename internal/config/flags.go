package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rampfire [config.json]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("target", "", "Target base URL; request paths are appended to it")
	flags.String("paths", "", "Path to the list of request paths (JSON, YAML or text)")

	// Ramp flags
	flags.IntP("workers", "w", 0, "Maximum number of worker processes (capped at the CPU count)")
	flags.Int("min-batch", 0, "Concurrent requests in the first phase")
	flags.Int("max-batch", 0, "Concurrent requests in the last phase")
	flags.Duration("cooldown", 0, "Pause between phases (0 disables)")
	flags.Float64("failure-threshold", 0, "Stop a worker's ramp once a phase's failure rate exceeds this fraction (0 disables)")
	flags.Int64("seed", 0, "Seed for random path selection (0 uses the clock)")

	// Transport flags
	flags.Int("max-sockets", 0, "Maximum connections per host in each worker")
	flags.Int("max-free-sockets", 0, "Maximum idle connections kept per host in each worker")
	flags.Duration("timeout", 0, "Per-request timeout (default 2m)")

	// Coordination flags
	flags.Duration("rollup-period", 0, "Interval between aggregated reports (default 1m)")
	flags.Duration("worker-timeout", 0, "Give up on a worker silent for this long (default timeout+cooldown+30s)")
	flags.Bool("in-process", false, "Run workers as goroutines instead of child processes")

	// Output flags
	flags.Bool("json-output", false, "Emit the final summary as JSON")
	flags.StringSlice("threshold", nil, "Summary assertions (repeatable, e.g. 'requests_failed:rate < 0.01')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS to the OTLP collector")
	flags.Float64("tracing-sample-rate", 1, "Fraction of requests to trace")
	flags.Bool("tracing-propagate", true, "Inject W3C trace headers into requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("paths") {
		val, err := fs.GetString("paths")
		if err != nil {
			return err
		}
		cfg.PathsFile = strings.TrimSpace(val)
	}

	ints := []struct {
		flag string
		dst  *int
	}{
		{"workers", &cfg.MaxCPUCount},
		{"min-batch", &cfg.MinBatch},
		{"max-batch", &cfg.MaxBatch},
		{"max-sockets", &cfg.MaxSockets},
		{"max-free-sockets", &cfg.MaxFreeSockets},
	}
	for _, f := range ints {
		if !fs.Changed(f.flag) {
			continue
		}
		val, err := fs.GetInt(f.flag)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("cooldown") {
		val, err := fs.GetDuration("cooldown")
		if err != nil {
			return err
		}
		cfg.Cooldown = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("rollup-period") {
		val, err := fs.GetDuration("rollup-period")
		if err != nil {
			return err
		}
		cfg.RollupPeriod = val
	}
	if fs.Changed("worker-timeout") {
		val, err := fs.GetDuration("worker-timeout")
		if err != nil {
			return err
		}
		cfg.WorkerTimeout = val
	}
	if fs.Changed("failure-threshold") {
		val, err := fs.GetFloat64("failure-threshold")
		if err != nil {
			return err
		}
		cfg.FailureThreshold = val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("in-process") {
		val, err := fs.GetBool("in-process")
		if err != nil {
			return err
		}
		cfg.InProcess = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyTracingFlags(tc *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		tc.Endpoint = strings.TrimSpace(val)
		if tc.SampleRate == 0 && !fs.Changed("tracing-sample-rate") {
			tc.SampleRate = 1
		}
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		tc.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		tc.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		tc.Propagate = &val
	}
	return nil
}
