package commands

import (
	"context"
	"sync"
	"time"

	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchEvidence    evidenceFlags
	watchScope       scopeFlags
	watchSkipBacklog bool
	watchHealthAddr  string
	watchNoHealth    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Link evidence as soon as it is ingested or reset",
	Long: `Subscribe to evidence events and link each new or reset item immediately.

On start the pending backlog is linked first (unless --skip-backlog). The promise
corpus is reloaded every linking.corpus_refresh. A health server exposes /healthz
and Prometheus /metrics while watch runs.

Events are delivered at most once: an item missed while watch was down stays
pending and is picked up by the next backlog pass or batch run.

Stop with Ctrl-C or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchEvidence.register(watchCmd)
	watchScope.register(watchCmd)
	watchCmd.Flags().BoolVar(&watchSkipBacklog, "skip-backlog", false, "Do not link already-pending evidence on start")
	watchCmd.Flags().StringVar(&watchHealthAddr, "health-addr", "", "Health server listen address (overrides health.addr)")
	watchCmd.Flags().BoolVar(&watchNoHealth, "no-health", false, "Do not start the health server")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	criteria, err := watchEvidence.criteria(time.Now())
	if err != nil {
		return out.Error("invalid evidence filter", err.Error(), nil, nil)
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	scope, err := watchScope.scope(cmd, a.cfg.Linking.PromiseScope())
	if err != nil {
		return out.Error("invalid promise scope", err.Error(), nil, nil)
	}

	engine, err := a.engine(true)
	if err != nil {
		return err
	}

	if !watchNoHealth {
		addr := a.cfg.Health.Addr
		if watchHealthAddr != "" {
			addr = watchHealthAddr
		}
		health := pipeline.NewHealthServer(a.client, a.registry, addr, a.logger)
		if err := health.Start(); err != nil {
			return out.Error("failed to start health server", err.Error(), map[string]string{"Addr": addr}, nil)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := health.Shutdown(ctx); err != nil {
				a.logger.Warn("health_server_shutdown_failed", zap.Error(err))
			}
		}()
	}

	// Results arrive from concurrent workers
	var mu sync.Mutex

	out.Step("Watching instance '%s' for evidence events (Ctrl-C to stop)\n", a.cfg.Instance)

	err = engine.Watch(cmd.Context(), pipeline.WatchRequest{
		Criteria:      criteria,
		Scope:         scope,
		CorpusRefresh: a.cfg.Linking.CorpusRefresh,
		SkipBacklog:   watchSkipBacklog,
		OnResult: func(r pipeline.ItemResult) {
			mu.Lock()
			defer mu.Unlock()
			out.Info("  %s  %-10s  +%d -%d\n", shortID(r.EvidenceID), r.Status, len(r.Added), len(r.Removed))
		},
	})
	if err != nil {
		return out.Error("watch failed", err.Error(), map[string]string{"Instance": a.cfg.Instance}, nil)
	}

	out.Success("Watch stopped\n")
	return nil
}
