package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 120 * time.Second
	DefaultRollupPeriod = 60 * time.Second
	DefaultPathsFile    = "./paths.json"
	DefaultPoolSize     = 256

	// EnvConfig carries the encoded config from the coordinator to a worker
	// process.
	EnvConfig = "RAMPFIRE_CONFIG"

	// livenessGrace is added on top of the longest legitimate silence of a
	// worker (one timed-out phase plus the cooldown).
	livenessGrace = 30 * time.Second
)

// Config is loaded once by the coordinator and copied to every worker. It is
// never mutated after Load returns.
type Config struct {
	TargetURL        string        `json:"target"`
	MaxCPUCount      int           `json:"max_cpu_count"`
	MaxSockets       int           `json:"max_sockets"`
	MaxFreeSockets   int           `json:"max_free_sockets"`
	MinBatch         int           `json:"min_batch"`
	MaxBatch         int           `json:"max_batch"`
	Cooldown         time.Duration `json:"cooldown"`
	FailureThreshold float64       `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
	PathsFile        string        `json:"paths_file"`
	RollupPeriod     time.Duration `json:"rollup_period"`
	WorkerTimeout    time.Duration `json:"worker_timeout"`
	Seed             int64         `json:"seed"`
	JSONOutput       bool          `json:"json_output"`
	InProcess        bool          `json:"in_process"`
	Thresholds       []string      `json:"thresholds,omitempty"`
	Tracing          TracingConfig `json:"tracing"`
	ConfigFile       string        `json:"-"`
}

// TracingConfig enables OpenTelemetry spans around every dispatched request.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint"`
	Protocol    string  `json:"protocol"` // "grpc" or "http"
	Insecure    bool    `json:"insecure"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
	Propagate   *bool   `json:"propagate,omitempty"` // nil means propagate when enabled
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into requests.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	return t.Propagate == nil || *t.Propagate
}

// WorkerCount returns how many worker processes to start on a host with cpus
// logical CPUs.
func (c Config) WorkerCount(cpus int) int {
	if cpus <= 1 {
		return 1
	}
	n := c.MaxCPUCount
	if n > cpus {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}

// LivenessTimeout is how long a worker may stay silent before the
// coordinator gives up on it.
func (c Config) LivenessTimeout() time.Duration {
	if c.WorkerTimeout > 0 {
		return c.WorkerTimeout
	}
	return c.Timeout + c.Cooldown + livenessGrace
}

// Phases returns the number of phases one worker runs.
func (c Config) Phases() int {
	if c.MaxBatch < c.MinBatch {
		return 0
	}
	return c.MaxBatch - c.MinBatch + 1
}

// Encode serializes the config for handing to a worker process.
func (c Config) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// Decode parses a config produced by Encode.
func Decode(raw string) (*Config, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("decode config: empty payload")
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// FromEnv decodes the config handed to a worker process through EnvConfig.
func FromEnv() (*Config, error) {
	raw, ok := os.LookupEnv(EnvConfig)
	if !ok {
		return nil, fmt.Errorf("%s is not set", EnvConfig)
	}
	return Decode(raw)
}

// highBatch is the phase size above which Warnings asks the operator to
// double-check authorization.
const highBatch = 10000

// Warnings lists settings that are valid but worth a second look. The caller
// decides where they are reported.
func (c Config) Warnings() []string {
	var warnings []string
	if c.MaxBatch > highBatch {
		warnings = append(warnings, fmt.Sprintf("high batch size configured (%d concurrent requests per worker); ensure you have authorization to test the target system", c.MaxBatch))
	}
	return warnings
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	target := strings.TrimSpace(c.TargetURL)
	if target == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target %q must be an absolute http or https URL", target))
	}

	if c.MaxCPUCount < 1 {
		issues = append(issues, "maxCPUcount must be >= 1")
	}
	if c.MaxSockets < 1 {
		issues = append(issues, "maxSockets must be >= 1")
	}
	if c.MaxFreeSockets < 1 {
		issues = append(issues, "maxFreeSockets must be >= 1")
	}
	if c.MinBatch < 1 {
		issues = append(issues, "minCountOfReqsInBatch must be >= 1")
	}
	if c.MaxBatch < c.MinBatch {
		issues = append(issues, "maxCountOfReqsInBatch must be >= minCountOfReqsInBatch")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}
	if c.Cooldown < 0 {
		issues = append(issues, "delayBetweenBatchesMs must be >= 0")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		issues = append(issues, "failureThreshold must be between 0 and 1")
	}
	if c.RollupPeriod <= 0 {
		issues = append(issues, "rollup_period must be > 0")
	}
	if c.WorkerTimeout < 0 {
		issues = append(issues, "worker_timeout must be >= 0")
	}
	if strings.TrimSpace(c.PathsFile) == "" {
		issues = append(issues, "paths file is required")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0 and 1")
	}
	if p := strings.ToLower(c.Tracing.Protocol); p != "" && p != "grpc" && p != "http" {
		issues = append(issues, fmt.Sprintf("tracing.protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
