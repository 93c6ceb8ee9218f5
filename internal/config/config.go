package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dyluth/pledge/internal/decision"
	"github.com/dyluth/pledge/internal/logging"
	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/internal/progress"
	"github.com/dyluth/pledge/internal/reconcile"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is not given.
const DefaultPath = "pledge.yml"

// Environment overrides applied after the file is loaded.
const (
	EnvInstance = "PLEDGE_INSTANCE"
	EnvRedisURL = "REDIS_URL"
	EnvLogLevel = "PLEDGE_LOG_LEVEL"
)

// MaxInstanceNameLength bounds instance names, which appear in every ledger key.
const MaxInstanceNameLength = 63

// instanceNamePattern: lowercase alphanumeric, hyphens allowed but not at start or end.
var instanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstanceName checks an instance name.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !instanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// PledgeConfig represents the complete pledge.yml configuration
type PledgeConfig struct {
	Version   string          `yaml:"version"`
	Instance  string          `yaml:"instance"`
	Redis     RedisConfig     `yaml:"redis"`
	Linking   LinkingConfig   `yaml:"linking"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   logging.Config  `yaml:"logging"`
	Health    HealthConfig    `yaml:"health"`
}

// RedisConfig locates the ledger store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LinkingConfig tunes the linking pipeline.
type LinkingConfig struct {
	Workers        int           `yaml:"workers"`
	MaxItemsPerRun int           `yaml:"max_items_per_run"`
	MaxCandidates  int           `yaml:"max_candidates"`
	MinSimilarity  *float64      `yaml:"min_similarity,omitempty"`
	MinConfidence  *float64      `yaml:"min_confidence,omitempty"`
	CorpusRefresh  time.Duration `yaml:"corpus_refresh"`
	Scope          ScopeConfig   `yaml:"scope"`
}

// ScopeConfig restricts the promise corpus.
type ScopeConfig struct {
	PartyCodes        []string `yaml:"party_codes,omitempty"`
	MaxRank           int      `yaml:"max_rank,omitempty"`
	ParliamentSession string   `yaml:"parliament_session,omitempty"`
}

// OracleConfig configures the OpenAI-compatible oracle endpoint.
// The API key itself is never stored in the file; APIKeyEnv names the variable holding it.
type OracleConfig struct {
	Model              string        `yaml:"model"`
	BaseURL            string        `yaml:"base_url,omitempty"`
	APIKeyEnv          string        `yaml:"api_key_env"`
	Timeout            time.Duration `yaml:"timeout"`
	Temperature        *float64      `yaml:"temperature,omitempty"`
	RateLimitPerMinute float64       `yaml:"rate_limit_per_minute"`
	Burst              int           `yaml:"burst"`
	MaxRetries         *int          `yaml:"max_retries,omitempty"`
}

// ScoringConfig tunes the progress policy.
type ScoringConfig struct {
	RecencyWindow time.Duration `yaml:"recency_window"`
	MomentumCount int           `yaml:"momentum_count"`
}

// ReconcileConfig tunes reconciliation.
type ReconcileConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// HealthConfig configures the watch-mode health server.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a validated configuration with every default applied.
func Default() *PledgeConfig {
	cfg := &PledgeConfig{}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate applies defaults and checks ranges.
func (c *PledgeConfig) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected '1.0')", c.Version)
	}
	if c.Instance == "" {
		c.Instance = "default"
	}
	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}

	if err := c.Linking.validate(); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	if err := c.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.Scoring.validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = reconcile.MaxBatchSize
	}
	if c.Reconcile.BatchSize < 1 || c.Reconcile.BatchSize > reconcile.MaxBatchSize {
		return fmt.Errorf("reconcile: batch_size must be between 1 and %d", reconcile.MaxBatchSize)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.Health.Addr == "" {
		c.Health.Addr = pipeline.DefaultHealthAddr
	}
	return nil
}

func (l *LinkingConfig) validate() error {
	if l.Workers == 0 {
		l.Workers = pipeline.DefaultWorkers
	}
	if l.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if l.MaxItemsPerRun == 0 {
		l.MaxItemsPerRun = pipeline.DefaultMaxItemsPerRun
	}
	if l.MaxItemsPerRun < 1 {
		return fmt.Errorf("max_items_per_run must be >= 1")
	}
	if l.MaxCandidates == 0 {
		l.MaxCandidates = prefilter.DefaultMaxCandidates
	}
	if l.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be >= 1")
	}

	if l.MinSimilarity == nil {
		v := prefilter.DefaultMinSimilarity
		l.MinSimilarity = &v
	}
	if *l.MinSimilarity < 0 || *l.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be between 0 and 1")
	}
	if l.MinConfidence == nil {
		v := decision.DefaultMinConfidence
		l.MinConfidence = &v
	}
	if *l.MinConfidence < 0 || *l.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1")
	}

	if l.CorpusRefresh == 0 {
		l.CorpusRefresh = pipeline.DefaultCorpusRefresh
	}
	if l.CorpusRefresh < time.Second {
		return fmt.Errorf("corpus_refresh must be at least 1s")
	}
	if l.Scope.MaxRank < 0 {
		return fmt.Errorf("scope.max_rank must be >= 0")
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.Timeout == 0 {
		o.Timeout = oracle.DefaultTimeout
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if o.Temperature == nil {
		v := 0.0
		o.Temperature = &v
	}
	if *o.Temperature < 0 || *o.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if o.RateLimitPerMinute == 0 {
		o.RateLimitPerMinute = 50
	}
	if o.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if o.Burst == 0 {
		o.Burst = 5
	}
	if o.Burst < 1 {
		return fmt.Errorf("burst must be >= 1")
	}
	if o.MaxRetries == nil {
		v := 3
		o.MaxRetries = &v
	}
	if *o.MaxRetries < 0 || *o.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10")
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.RecencyWindow == 0 {
		s.RecencyWindow = progress.DefaultRecencyWindow
	}
	if s.RecencyWindow < 0 {
		return fmt.Errorf("recency_window must be positive")
	}
	if s.MomentumCount == 0 {
		s.MomentumCount = progress.DefaultMomentumCount
	}
	if s.MomentumCount < 1 {
		return fmt.Errorf("momentum_count must be >= 1")
	}
	return nil
}

// ApplyEnv overrides deployment settings from the environment.
func (c *PledgeConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvInstance); v != "" {
		if err := ValidateInstanceName(v); err != nil {
			return fmt.Errorf("%s: %w", EnvInstance, err)
		}
		c.Instance = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	return nil
}

// PrefilterOptions returns the candidate selection options.
func (l LinkingConfig) PrefilterOptions() prefilter.Options {
	opts := prefilter.Options{MaxCandidates: l.MaxCandidates, MinSimilarity: prefilter.DefaultMinSimilarity}
	if l.MinSimilarity != nil {
		opts.MinSimilarity = *l.MinSimilarity
	}
	return opts
}

// PipelineOptions returns the engine options.
func (l LinkingConfig) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Workers:        l.Workers,
		MaxItemsPerRun: l.MaxItemsPerRun,
		Prefilter:      l.PrefilterOptions(),
	}
}

// PromiseScope returns the configured corpus restriction.
func (l LinkingConfig) PromiseScope() prefilter.Scope {
	return prefilter.Scope{
		PartyCodes:        l.Scope.PartyCodes,
		MaxRank:           l.Scope.MaxRank,
		ParliamentSession: l.Scope.ParliamentSession,
	}
}

// Policy returns the progress policy.
func (s ScoringConfig) Policy() progress.Policy {
	return progress.Policy{RecencyWindow: s.RecencyWindow, MomentumCount: s.MomentumCount}
}

// OpenAIConfig resolves the completer settings, reading the API key from the environment.
func (o OracleConfig) OpenAIConfig(getenv func(string) string) (oracle.OpenAIConfig, error) {
	key := getenv(o.APIKeyEnv)
	if key == "" {
		return oracle.OpenAIConfig{}, fmt.Errorf("oracle API key not set: export %s", o.APIKeyEnv)
	}
	cfg := oracle.OpenAIConfig{
		Model:              o.Model,
		BaseURL:            o.BaseURL,
		APIKey:             key,
		RateLimitPerMinute: o.RateLimitPerMinute,
		Burst:              o.Burst,
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxRetries != nil {
		// The completer treats 0 as "use the default" and negative as "no retries"
		cfg.MaxRetries = *o.MaxRetries
		if cfg.MaxRetries == 0 {
			cfg.MaxRetries = -1
		}
	}
	return cfg, nil
}

// Load reads and validates pledge.yml from the specified path
func Load(path string) (*PledgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config PledgeConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
