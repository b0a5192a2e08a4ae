// Package cmd defines and implements the CLI commands for the pricewatch
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/api"
	"github.com/pricewatchbd/crawler/internal/config"
	"github.com/pricewatchbd/crawler/internal/controller"
	"github.com/pricewatchbd/crawler/internal/extract"
	"github.com/pricewatchbd/crawler/internal/logging"
	"github.com/pricewatchbd/crawler/internal/pipeline"
	"github.com/pricewatchbd/crawler/internal/record"
	"github.com/pricewatchbd/crawler/internal/scheduler"
	"github.com/pricewatchbd/crawler/internal/sink"
)

var cfgFile string

// runtime bundles the per-invocation services commands share.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	stats  *record.RunStats
	runID  string
}

type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "A two-phase product catalog crawler for Bangladeshi retail sites.",
		Long: `pricewatch crawls supported retail sites in two phases: the categories
command discovers the site's category URLs from its navigation, and the
products command walks each category's listing pages and exports every
product's details as JSON Lines for downstream price tracking.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt := &runtime{
				cfg:    cfg,
				logger: logger,
				stats:  record.NewRunStats(),
				runID:  uuid.NewString(),
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches only the environment)")

	cmd.AddCommand(newCategoriesCmd())
	cmd.AddCommand(newProductsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime services not initialized")
	}
	return rt, nil
}

// buildController assembles the crawl stack for the configured site. The
// returned cleanup releases the product store pool when one was opened.
func buildController(ctx context.Context, rt *runtime, withStore bool) (*controller.Controller, func(), error) {
	profile, err := extract.ProfileFor(rt.cfg.Crawl.Site)
	if err != nil {
		return nil, nil, err
	}

	fetcher, err := scheduler.NewCollyFetcher(rt.cfg.FetcherConfig(), rt.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}
	sched := scheduler.New(fetcher, rt.cfg.SchedulerConfig(), rt.logger)
	stage := pipeline.New(rt.logger, rt.stats)

	cleanup := func() {}
	var store controller.ProductStore
	if withStore && rt.cfg.DB.Enabled {
		ps, err := sink.NewProductStore(ctx, sink.ProductStoreConfig{
			DSN:      rt.cfg.DB.DSN,
			Table:    rt.cfg.DB.Table,
			MaxConns: int32(rt.cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init product store: %w", err)
		}
		store = ps
		cleanup = ps.Close
	}

	ctrlCfg := rt.cfg.ControllerConfig()
	ctrlCfg.CategoryRules = pipeline.DefaultCategoryRules()
	ctrlCfg.ProductRules = pipeline.DefaultProductRules(rt.cfg.Crawl.Site)

	ctrl := controller.New(ctrlCfg, profile, sched, stage, rt.stats, rt.runID, store, rt.logger)
	return ctrl, cleanup, nil
}

// startStatusServer serves /healthz, /metrics, and /progress for the run
// when enabled. It lives for the process; crawl commands exit when done.
func startStatusServer(rt *runtime) {
	if !rt.cfg.Server.Enabled {
		return
	}
	srv := api.NewServer(rt.stats, rt.runID, rt.cfg.Crawl.Site, rt.logger)
	addr := fmt.Sprintf(":%d", rt.cfg.Server.Port)
	go func() {
		rt.logger.Info("status server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
			rt.logger.Error("status server stopped", zap.Error(err))
		}
	}()
}
