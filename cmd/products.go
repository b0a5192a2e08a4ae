package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newProductsCmd creates the 'products' subcommand: phase two of a crawl,
// walking every category's listing pages and exporting product details.
func newProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "Crawl product details for every discovered category",
		Long: `Reads the site's category file produced by the categories command,
paginates through each category's listings, and exports every product's
details as JSON Lines. When the database sink is enabled, validated
products are mirrored into Postgres as well.`,

		RunE: runProductsCommand,
	}
}

func runProductsCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, cleanup, err := buildController(ctx, rt, true)
	if err != nil {
		return err
	}
	defer cleanup()

	startStatusServer(rt)

	rt.logger.Info("starting product crawl",
		zap.String("site", rt.cfg.Crawl.Site),
		zap.String("run_id", rt.runID),
	)
	return ctrl.RunProductPhase(ctx)
}
