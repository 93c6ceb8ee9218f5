package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dyluth/pledge/internal/config"
	"github.com/dyluth/pledge/internal/decision"
	"github.com/dyluth/pledge/internal/logging"
	"github.com/dyluth/pledge/internal/metrics"
	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/dyluth/pledge/internal/progress"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Replaced in tests.
var (
	getenv       = os.Getenv
	newCompleter = oracle.NewOpenAICompleter
)

// app holds everything a command needs; it is built once per invocation and closed on exit.
type app struct {
	cfg      *config.PledgeConfig
	logger   *zap.Logger
	client   *ledger.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	out      *printer.Printer
}

func loadConfig(cmd *cobra.Command) (*config.PledgeConfig, error) {
	var (
		cfg *config.PledgeConfig
		err error
	)

	explicit := cmd.Flag("config") != nil && cmd.Flag("config").Changed
	if _, statErr := os.Stat(configPath); !explicit && errors.Is(statErr, fs.ErrNotExist) {
		cfg = config.Default()
	} else if cfg, err = config.Load(configPath); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if instanceName != "" {
		if err := config.ValidateInstanceName(instanceName); err != nil {
			return nil, fmt.Errorf("--instance: %w", err)
		}
		cfg.Instance = instanceName
	}
	return cfg, nil
}

// bootstrap loads configuration, builds the logger and opens the ledger.
func bootstrap(cmd *cobra.Command) (*app, error) {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, out.Error(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Fix pledge.yml, or pass --config with a valid file"},
		)
	}

	logger, err := logging.NewWithWriter(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, out.Error(
			"invalid Redis URL",
			err.Error(),
			map[string]string{"URL": cfg.Redis.URL},
			[]string{"Set redis.url in pledge.yml or " + config.EnvRedisURL + ", e.g. redis://localhost:6379/0"},
		)
	}

	client, err := ledger.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	if err := client.Ping(cmd.Context()); err != nil {
		client.Close()
		return nil, out.Error(
			"Redis not accessible",
			fmt.Sprintf("Could not reach the ledger store: %v", err),
			map[string]string{"URL": cfg.Redis.URL, "Instance": cfg.Instance},
			[]string{"Check that Redis is running and " + config.EnvRedisURL + " is correct"},
		)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		registry: registry,
		metrics:  metrics.New(registry),
		out:      out,
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Sync()
	a.client.Close()
}

func (a *app) aggregator() *progress.Aggregator {
	return progress.NewAggregator(a.client, a.cfg.Scoring.Policy(), a.logger)
}

// engine builds the pipeline. withOracle is false for commands that never link.
func (a *app) engine(withOracle bool) (*pipeline.Engine, error) {
	var judge pipeline.Oracle
	if withOracle {
		openaiCfg, err := a.cfg.Oracle.OpenAIConfig(getenv)
		if err != nil {
			return nil, a.out.Error(
				"oracle not configured",
				err.Error(),
				nil,
				[]string{
					fmt.Sprintf("export %s=<key>", a.cfg.Oracle.APIKeyEnv),
					"Set oracle.api_key_env in pledge.yml to the variable holding the key",
				},
			)
		}
		completer, err := newCompleter(openaiCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create oracle client: %w", err)
		}
		judge = oracle.NewAdapter(completer, a.cfg.Oracle.Timeout, a.logger)
	}

	return pipeline.NewEngine(
		a.client,
		judge,
		decision.NewEngine(*a.cfg.Linking.MinConfidence),
		a.aggregator(),
		a.cfg.Linking.PipelineOptions(),
		a.logger,
		a.metrics,
	), nil
}
