// Package config loads environment-driven and subsystem configuration for
// the hybrid memory coordination core, following core/config.go's
// struct+DefaultConfig()+Validate() convention.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates per-subsystem configuration loaded once at construction
// time, per spec §6.3 and §A.3.
type Config struct {
	Registry       RegistryConfig
	Coordinator    CoordinatorConfig
	Router         RouterConfig
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
	Bulkhead       BulkheadConfig
	ErrorLogger    ErrorLoggerConfig
	Logging        LoggingConfig

	// NoFileLogging mirrors DEVSYNTH_NO_FILE_LOGGING: when true, adapters
	// that would touch disk use in-memory fallbacks and never create
	// directories.
	NoFileLogging bool

	// ResearchPersonas mirrors DEVSYNTH_EXTERNAL_RESEARCH_PERSONAS /
	// DEVSYNTH_AUTORESEARCH_PERSONAS: comma-separated persona tags enabling
	// research-role assignment in collaboration teams.
	ResearchPersonas []string
}

// RegistryConfig configures the adapter registry.
type RegistryConfig struct {
	DefaultStore string
}

// CoordinatorConfig configures the transaction coordinator.
type CoordinatorConfig struct {
	// PrimaryStorePreference is the ordered preference list used by the
	// collaboration-entity fanout helper to pick a primary store:
	// tinydb -> graph -> kuzu -> first-available, per spec §4.6.
	PrimaryStorePreference []string
}

// RouterConfig configures the query router.
type RouterConfig struct {
	DefaultCascadeOrder []string
}

// RetryConfig configures default retry policy parameters.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	ExponentialBase float64
	Jitter          bool
	MaxDelay        time.Duration
}

// CircuitBreakerConfig configures default circuit breaker parameters.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	TestCalls        int
}

// BulkheadConfig configures default bulkhead parameters.
type BulkheadConfig struct {
	MaxConcurrentCalls int
	MaxQueueSize       int
}

// ErrorLoggerConfig configures the bounded error ring buffer.
type ErrorLoggerConfig struct {
	Capacity int
	LogDir   string // empty disables JSON-per-file persistence
}

// LoggingConfig mirrors core.LoggingConfig without importing core, to keep
// config dependency-free.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultConfig returns the conventional defaults for every subsystem.
func DefaultConfig() Config {
	return Config{
		Registry: RegistryConfig{DefaultStore: "kv"},
		Coordinator: CoordinatorConfig{
			PrimaryStorePreference: []string{"tinydb", "graph", "kuzu"},
		},
		Router: RouterConfig{
			DefaultCascadeOrder: []string{"document", "relational", "vector", "graph"},
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
			MaxDelay:        60 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			TestCalls:        1,
		},
		Bulkhead: BulkheadConfig{
			MaxConcurrentCalls: 10,
			MaxQueueSize:       5,
		},
		ErrorLogger: ErrorLoggerConfig{Capacity: 100},
		Logging:     LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Validate normalizes zero-valued fields to their defaults and reports any
// unrecoverable misconfiguration.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.Registry.DefaultStore == "" {
		c.Registry.DefaultStore = d.Registry.DefaultStore
	}
	if len(c.Coordinator.PrimaryStorePreference) == 0 {
		c.Coordinator.PrimaryStorePreference = d.Coordinator.PrimaryStorePreference
	}
	if len(c.Router.DefaultCascadeOrder) == 0 {
		c.Router.DefaultCascadeOrder = d.Router.DefaultCascadeOrder
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.ExponentialBase <= 0 {
		c.Retry.ExponentialBase = d.Retry.ExponentialBase
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		c.CircuitBreaker.RecoveryTimeout = d.CircuitBreaker.RecoveryTimeout
	}
	if c.CircuitBreaker.TestCalls <= 0 {
		c.CircuitBreaker.TestCalls = d.CircuitBreaker.TestCalls
	}
	if c.Bulkhead.MaxConcurrentCalls <= 0 {
		c.Bulkhead.MaxConcurrentCalls = d.Bulkhead.MaxConcurrentCalls
	}
	if c.Bulkhead.MaxQueueSize < 0 {
		c.Bulkhead.MaxQueueSize = d.Bulkhead.MaxQueueSize
	}
	if c.ErrorLogger.Capacity <= 0 {
		c.ErrorLogger.Capacity = d.ErrorLogger.Capacity
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}
	return nil
}

// boolEnvTrue mirrors the {1,true,yes} truthy set from spec §6.3 (case
// insensitive).
func boolEnvTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func splitPersonas(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FromEnv builds a Config from DefaultConfig() overlaid with the recognized
// environment variables from spec §6.3:
//
//	DEVSYNTH_NO_FILE_LOGGING
//	DEVSYNTH_EXTERNAL_RESEARCH_PERSONAS / DEVSYNTH_AUTORESEARCH_PERSONAS
func FromEnv() Config {
	c := DefaultConfig()
	c.NoFileLogging = boolEnvTrue(os.Getenv("DEVSYNTH_NO_FILE_LOGGING"))

	personas := os.Getenv("DEVSYNTH_EXTERNAL_RESEARCH_PERSONAS")
	if personas == "" {
		personas = os.Getenv("DEVSYNTH_AUTORESEARCH_PERSONAS")
	}
	c.ResearchPersonas = splitPersonas(personas)

	if c.NoFileLogging {
		c.ErrorLogger.LogDir = ""
	}
	_ = c.Validate()
	return c
}

// fileOverrides mirrors the subset of Config a deployment typically wants
// to override from a checked-in YAML file rather than the environment;
// zero-valued fields leave the base config (normally FromEnv's result)
// untouched.
type fileOverrides struct {
	Registry struct {
		DefaultStore string `yaml:"default_store"`
	} `yaml:"registry"`
	Coordinator struct {
		PrimaryStorePreference []string `yaml:"primary_store_preference"`
	} `yaml:"coordinator"`
	Router struct {
		DefaultCascadeOrder []string `yaml:"default_cascade_order"`
	} `yaml:"router"`
	Retry struct {
		MaxRetries      int     `yaml:"max_retries"`
		InitialDelay    string  `yaml:"initial_delay"`
		ExponentialBase float64 `yaml:"exponential_base"`
		MaxDelay        string  `yaml:"max_delay"`
	} `yaml:"retry"`
	ErrorLogger struct {
		Capacity int    `yaml:"capacity"`
		LogDir   string `yaml:"log_dir"`
	} `yaml:"error_logger"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
}

// LoadYAMLOverrides reads a YAML file at path and applies any fields it
// sets on top of base, returning the merged, validated config. A missing
// path is not an error: it returns base unchanged.
func LoadYAMLOverrides(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, err
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return base, err
	}

	c := base
	if overrides.Registry.DefaultStore != "" {
		c.Registry.DefaultStore = overrides.Registry.DefaultStore
	}
	if len(overrides.Coordinator.PrimaryStorePreference) > 0 {
		c.Coordinator.PrimaryStorePreference = overrides.Coordinator.PrimaryStorePreference
	}
	if len(overrides.Router.DefaultCascadeOrder) > 0 {
		c.Router.DefaultCascadeOrder = overrides.Router.DefaultCascadeOrder
	}
	if overrides.Retry.MaxRetries > 0 {
		c.Retry.MaxRetries = overrides.Retry.MaxRetries
	}
	if overrides.Retry.InitialDelay != "" {
		if d, err := time.ParseDuration(overrides.Retry.InitialDelay); err == nil {
			c.Retry.InitialDelay = d
		}
	}
	if overrides.Retry.MaxDelay != "" {
		if d, err := time.ParseDuration(overrides.Retry.MaxDelay); err == nil {
			c.Retry.MaxDelay = d
		}
	}
	if overrides.Retry.ExponentialBase > 0 {
		c.Retry.ExponentialBase = overrides.Retry.ExponentialBase
	}
	if overrides.ErrorLogger.Capacity > 0 {
		c.ErrorLogger.Capacity = overrides.ErrorLogger.Capacity
	}
	if overrides.ErrorLogger.LogDir != "" {
		c.ErrorLogger.LogDir = overrides.ErrorLogger.LogDir
	}
	if overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}
	if overrides.Logging.Format != "" {
		c.Logging.Format = overrides.Logging.Format
	}
	if overrides.Logging.Output != "" {
		c.Logging.Output = overrides.Logging.Output
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
