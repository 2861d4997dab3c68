package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yumyai/process-otu-data/logger"
	"github.com/yumyai/process-otu-data/pkg/model"
	"github.com/yumyai/process-otu-data/pkg/taxonomy"
)

const ENV_PREFIX = "OTUDATA_"

// Config holds every tunable of a run. Zero values are never used directly:
// Default fills them and Validate checks the result.
type Config struct {
	PruningValue float64 `yaml:"pruning_value"`

	TNRS TNRSConfig `yaml:"tnrs"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// Optional outputs, empty means disabled.
	Ledger           string `yaml:"ledger"`
	UnresolvedReport string `yaml:"unresolved_report"`
}

// TNRSConfig configures the taxonomic name resolution service client.
type TNRSConfig struct {
	URL                 string        `yaml:"url"`
	MaxConcurrency      int           `yaml:"max_concurrency"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryWait           time.Duration `yaml:"retry_wait"`
	MaxRetryWait        time.Duration `yaml:"max_retry_wait"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	ApproximateMatching bool          `yaml:"approximate_matching"`
	ContextName         string        `yaml:"context_name"`
}

func Default() *Config {
	return &Config{
		PruningValue: model.DEFAULT_PRUNING_VALUE,
		TNRS: TNRSConfig{
			URL:               taxonomy.DEFAULT_BASE_URL,
			MaxConcurrency:    taxonomy.DEFAULT_MAX_CONCURRENCY,
			MaxRetries:        taxonomy.DEFAULT_MAX_RETRIES,
			RetryWait:         taxonomy.DEFAULT_RETRY_WAIT,
			MaxRetryWait:      taxonomy.DEFAULT_MAX_RETRY_WAIT,
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
		},
		LogLevel: "info",
	}
}

// Load builds a configuration from the defaults, the YAML file at path (when
// path is not empty) and OTUDATA_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		logger.Debug("Loaded config file", zap.String("path", path))
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides reads OTUDATA_* variables. A variable that is set but
// cannot be parsed is an error rather than silently ignored.
func (c *Config) applyEnvOverrides(lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(ENV_PREFIX + name); ok && v != "" {
			*dst = v
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(ENV_PREFIX + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", ENV_PREFIX, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(ENV_PREFIX + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", ENV_PREFIX, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(ENV_PREFIX + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", ENV_PREFIX, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(ENV_PREFIX + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", ENV_PREFIX, name, err))
				return
			}
			*dst = b
		}
	}

	float("PRUNING_VALUE", &c.PruningValue)
	str("TNRS_URL", &c.TNRS.URL)
	integer("MAX_CONCURRENCY", &c.TNRS.MaxConcurrency)
	integer("MAX_RETRIES", &c.TNRS.MaxRetries)
	duration("RETRY_WAIT", &c.TNRS.RetryWait)
	duration("MAX_RETRY_WAIT", &c.TNRS.MaxRetryWait)
	duration("REQUEST_TIMEOUT", &c.TNRS.RequestTimeout)
	float("REQUESTS_PER_SECOND", &c.TNRS.RequestsPerSecond)
	boolean("APPROXIMATE_MATCHING", &c.TNRS.ApproximateMatching)
	str("CONTEXT_NAME", &c.TNRS.ContextName)
	str("LOG_LEVEL", &c.LogLevel)
	str("LEDGER", &c.Ledger)
	str("UNRESOLVED_REPORT", &c.UnresolvedReport)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if err := model.CheckPruningValue(c.PruningValue); err != nil {
		errs = append(errs, err)
	}
	if c.TNRS.URL == "" {
		errs = append(errs, errors.New("tnrs url must not be empty"))
	}
	if c.TNRS.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max concurrency must be at least 1, got %d", c.TNRS.MaxConcurrency))
	}
	if c.TNRS.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.TNRS.MaxRetries))
	}
	if c.TNRS.RetryWait <= 0 {
		errs = append(errs, fmt.Errorf("retry wait must be positive, got %s", c.TNRS.RetryWait))
	}
	if c.TNRS.MaxRetryWait < c.TNRS.RetryWait {
		errs = append(errs, fmt.Errorf("max retry wait %s is shorter than retry wait %s", c.TNRS.MaxRetryWait, c.TNRS.RetryWait))
	}
	if c.TNRS.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.TNRS.RequestTimeout))
	}
	if c.TNRS.RequestsPerSecond < 0 || math.IsNaN(c.TNRS.RequestsPerSecond) || math.IsInf(c.TNRS.RequestsPerSecond, 0) {
		errs = append(errs, fmt.Errorf("requests per second must be a finite number >= 0, got %v", c.TNRS.RequestsPerSecond))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) ClientOptions() taxonomy.ClientOptions {
	return taxonomy.ClientOptions{
		BaseURL:             c.TNRS.URL,
		Timeout:             c.TNRS.RequestTimeout,
		RequestsPerSecond:   c.TNRS.RequestsPerSecond,
		ApproximateMatching: c.TNRS.ApproximateMatching,
		ContextName:         c.TNRS.ContextName,
	}
}

func (c *Config) ResolverOptions() taxonomy.ResolverOptions {
	return taxonomy.ResolverOptions{
		MaxRetries:     c.TNRS.MaxRetries,
		RetryWait:      c.TNRS.RetryWait,
		MaxRetryWait:   c.TNRS.MaxRetryWait,
		MaxConcurrency: c.TNRS.MaxConcurrency,
	}
}
