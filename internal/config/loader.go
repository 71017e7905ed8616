package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read when no config path is given and the file exists.
const DefaultConfigFile = "./config.json"

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	cfg, err := l.FromFlags(flagSet, flagSet.Args())
	if errors.Is(err, ErrHelpRequested) {
		displayHelp(cmd)
	}
	return cfg, err
}

// FromFlags builds a Config from an already parsed flag set. The config file
// is taken from --config, then the first positional argument, then
// DefaultConfigFile if it exists. Flags override file settings.
func (Loader) FromFlags(flagSet *pflag.FlagSet, positional []string) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}
	if configPath == "" && len(positional) > 0 {
		configPath = strings.TrimSpace(positional[0])
	}
	if configPath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			configPath = DefaultConfigFile
		}
	}

	if configPath == "" && flagSet.NFlag() == 0 {
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		MaxCPUCount:    1,
		MaxSockets:     DefaultPoolSize,
		MaxFreeSockets: DefaultPoolSize,
		MinBatch:       1,
		Timeout:        DefaultTimeout,
		PathsFile:      DefaultPathsFile,
		RollupPeriod:   DefaultRollupPeriod,
		ConfigFile:     configPath,
	}

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.PathsFile = strings.TrimSpace(cfg.PathsFile)
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
// Both the camelCase keys of the original JSON format and snake_case keys are
// accepted.
func applyConfigSettings(cfg *Config, raw map[string]interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	s := settings(raw)

	readers := []func() error{
		func() error { return s.str(&cfg.TargetURL, "target", "target") },
		func() error {
			return s.integer(&cfg.MaxCPUCount, "maxCPUcount", "maxcpucount", "max_cpu_count", "workers")
		},
		func() error { return s.integer(&cfg.MaxSockets, "maxSockets", "maxsockets", "max_sockets") },
		func() error {
			return s.integer(&cfg.MaxFreeSockets, "maxFreeSockets", "maxfreesockets", "max_free_sockets")
		},
		func() error {
			return s.integer(&cfg.MinBatch, "minCountOfReqsInBatch", "mincountofreqsinbatch", "min_batch")
		},
		func() error {
			return s.integer(&cfg.MaxBatch, "maxCountOfReqsInBatch", "maxcountofreqsinbatch", "max_batch")
		},
		func() error {
			return s.duration(&cfg.Cooldown, "delayBetweenBatchesMs", "delaybetweenbatchesms", "cooldown")
		},
		func() error { return s.duration(&cfg.Timeout, "timeout", "timeoutms", "timeout_ms", "timeout") },
		func() error {
			return s.fraction(&cfg.FailureThreshold, "failureThreshold", "failurethreshold", "failure_threshold")
		},
		func() error { return s.str(&cfg.PathsFile, "paths", "paths", "pathsfile", "paths_file") },
		func() error { return s.duration(&cfg.RollupPeriod, "rollup_period", "rollupperiod", "rollup_period") },
		func() error {
			return s.duration(&cfg.WorkerTimeout, "worker_timeout", "workertimeout", "worker_timeout")
		},
		func() error { return s.integer64(&cfg.Seed, "seed", "seed") },
		func() error { return s.flag(&cfg.JSONOutput, "json_output", "jsonoutput", "json_output") },
		func() error { return s.flag(&cfg.InProcess, "in_process", "inprocess", "in_process") },
		func() error { return s.list(&cfg.Thresholds, "thresholds", "thresholds") },
	}
	for _, read := range readers {
		if err := read(); err != nil {
			return err
		}
	}

	if section, ok := s.lookup("tracing"); ok && section != nil {
		tracing, err := parseTracing(section)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}
	return nil
}

func parseTracing(value interface{}) (TracingConfig, error) {
	s, err := newSettings(value)
	if err != nil {
		return TracingConfig{}, err
	}

	tc := TracingConfig{SampleRate: 1}
	var propagate *bool
	if _, ok := s.lookup("propagate"); ok {
		propagate = new(bool)
	}
	readers := []func() error{
		func() error { return s.str(&tc.Endpoint, "endpoint", "endpoint") },
		func() error { return s.str(&tc.Protocol, "protocol", "protocol") },
		func() error { return s.str(&tc.ServiceName, "service_name", "servicename", "service_name") },
		func() error { return s.flag(&tc.Insecure, "insecure", "insecure") },
		func() error { return s.fraction(&tc.SampleRate, "sample_rate", "samplerate", "sample_rate") },
	}
	if propagate != nil {
		readers = append(readers, func() error { return s.flag(propagate, "propagate", "propagate") })
	}
	for _, read := range readers {
		if err := read(); err != nil {
			return TracingConfig{}, err
		}
	}
	tc.Protocol = strings.ToLower(tc.Protocol)
	tc.Propagate = propagate
	return tc, nil
}
