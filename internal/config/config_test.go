package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/rampfire/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		TargetURL:      "https://example.com",
		MaxCPUCount:    2,
		MaxSockets:     10,
		MaxFreeSockets: 5,
		MinBatch:       1,
		MaxBatch:       3,
		Timeout:        config.DefaultTimeout,
		PathsFile:      "paths.json",
		RollupPeriod:   config.DefaultRollupPeriod,
	}
}

func TestLoadWithoutArgumentsRequestsHelp(t *testing.T) {
	loader := config.NewLoader()
	_, err := loader.Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadFlagsOnlyAppliesDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--target", " http://localhost:8080 ", "--max-batch", "5"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetURL != "http://localhost:8080" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.MinBatch != 1 || cfg.MaxBatch != 5 {
		t.Errorf("batch = %d..%d, want 1..5", cfg.MinBatch, cfg.MaxBatch)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 2m", cfg.Timeout)
	}
	if cfg.RollupPeriod != time.Minute {
		t.Errorf("RollupPeriod = %v, want 1m", cfg.RollupPeriod)
	}
	if cfg.PathsFile != config.DefaultPathsFile {
		t.Errorf("PathsFile = %q", cfg.PathsFile)
	}
	if cfg.Cooldown != 0 || cfg.FailureThreshold != 0 {
		t.Errorf("optional policies must default to off, got cooldown=%v threshold=%v", cfg.Cooldown, cfg.FailureThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadOriginalJSONConfigFromPositionalArg(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"target": "https://api.example.com",
		"maxCPUcount": 8,
		"maxSockets": 100,
		"maxFreeSockets": 20,
		"minCountOfReqsInBatch": 10,
		"maxCountOfReqsInBatch": 500,
		"delayBetweenBatchesMs": 0
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{path, "--max-batch", "50"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.TargetURL != "https://api.example.com" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.MaxCPUCount != 8 || cfg.MaxSockets != 100 || cfg.MaxFreeSockets != 20 {
		t.Errorf("unexpected pool settings: %+v", cfg)
	}
	if cfg.MinBatch != 10 {
		t.Errorf("MinBatch = %d, want 10", cfg.MinBatch)
	}
	if cfg.MaxBatch != 50 {
		t.Errorf("MaxBatch = %d, want flag override 50", cfg.MaxBatch)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
target: http://localhost:9000
max_cpu_count: 2
min_batch: 3
max_batch: 9
cooldown: 500ms
failure_threshold: 0.5
paths: ./paths.yaml
rollup_period: 10s
thresholds:
  - "requests_failed:rate < 0.05"
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cooldown != 500*time.Millisecond {
		t.Errorf("Cooldown = %v, want 500ms", cfg.Cooldown)
	}
	if cfg.FailureThreshold != 0.5 {
		t.Errorf("FailureThreshold = %v", cfg.FailureThreshold)
	}
	if cfg.PathsFile != "./paths.yaml" {
		t.Errorf("PathsFile = %q", cfg.PathsFile)
	}
	if cfg.RollupPeriod != 10*time.Second {
		t.Errorf("RollupPeriod = %v", cfg.RollupPeriod)
	}
	if len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.json")})
	if err == nil {
		t.Fatal("expected error for unreadable config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		issue  string
	}{
		{"missing target", func(c *config.Config) { c.TargetURL = "" }, "target is required"},
		{"relative target", func(c *config.Config) { c.TargetURL = "example.com/api" }, "absolute http or https URL"},
		{"no workers", func(c *config.Config) { c.MaxCPUCount = 0 }, "maxCPUcount"},
		{"no sockets", func(c *config.Config) { c.MaxSockets = 0 }, "maxSockets"},
		{"no free sockets", func(c *config.Config) { c.MaxFreeSockets = 0 }, "maxFreeSockets"},
		{"zero min", func(c *config.Config) { c.MinBatch = 0 }, "minCountOfReqsInBatch"},
		{"max below min", func(c *config.Config) { c.MinBatch = 5; c.MaxBatch = 4 }, "maxCountOfReqsInBatch"},
		{"zero timeout", func(c *config.Config) { c.Timeout = 0 }, "timeout"},
		{"negative cooldown", func(c *config.Config) { c.Cooldown = -time.Second }, "delayBetweenBatchesMs"},
		{"threshold above one", func(c *config.Config) { c.FailureThreshold = 1.5 }, "failureThreshold"},
		{"zero rollup", func(c *config.Config) { c.RollupPeriod = 0 }, "rollup_period"},
		{"bad tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "udp" }, "tracing.protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var vErr config.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if !strings.Contains(vErr.Error(), tt.issue) {
				t.Errorf("error %q does not mention %q", vErr.Error(), tt.issue)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestWarningsForHighBatch(t *testing.T) {
	cfg := validConfig()
	if got := cfg.Warnings(); len(got) != 0 {
		t.Errorf("Warnings() = %v, want none", got)
	}

	cfg.MaxBatch = 20000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("a high batch is valid, got %v", err)
	}
	got := cfg.Warnings()
	if len(got) != 1 || !strings.Contains(got[0], "20000 concurrent requests") {
		t.Errorf("Warnings() = %v, want one high batch warning", got)
	}
}

func TestWorkerCount(t *testing.T) {
	cfg := validConfig()
	cfg.MaxCPUCount = 4

	tests := []struct {
		cpus int
		want int
	}{
		{cpus: 1, want: 1},
		{cpus: 2, want: 2},
		{cpus: 8, want: 4},
		{cpus: 0, want: 1},
	}
	for _, tt := range tests {
		if got := cfg.WorkerCount(tt.cpus); got != tt.want {
			t.Errorf("WorkerCount(%d) = %d, want %d", tt.cpus, got, tt.want)
		}
	}
}

func TestLivenessTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = 10 * time.Second
	cfg.Cooldown = 2 * time.Second
	if got := cfg.LivenessTimeout(); got != 42*time.Second {
		t.Errorf("LivenessTimeout() = %v, want 42s", got)
	}
	cfg.WorkerTimeout = time.Second
	if got := cfg.LivenessTimeout(); got != time.Second {
		t.Errorf("LivenessTimeout() = %v, want explicit 1s", got)
	}
}

func TestEncodeDecodeKeepsRampSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Cooldown = 300 * time.Millisecond
	cfg.FailureThreshold = 0.2
	cfg.Seed = 42

	raw, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := config.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.TargetURL != cfg.TargetURL || decoded.MaxBatch != cfg.MaxBatch ||
		decoded.Cooldown != cfg.Cooldown || decoded.FailureThreshold != cfg.FailureThreshold ||
		decoded.Seed != cfg.Seed || decoded.Timeout != cfg.Timeout {
		t.Fatalf("decoded config differs: %+v vs %+v", decoded, cfg)
	}

	if _, err := config.Decode(""); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := validConfig()
	raw, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	t.Setenv(config.EnvConfig, raw)

	got, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if got.TargetURL != cfg.TargetURL || got.MaxSockets != cfg.MaxSockets {
		t.Errorf("FromEnv() = %+v, want %+v", got, cfg)
	}

	t.Setenv(config.EnvConfig, "{not json")
	if _, err := config.FromEnv(); err == nil {
		t.Error("expected error for malformed payload")
	}
}
