package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCategoriesCmd creates the 'categories' subcommand: phase one of a
// crawl, discovering the site's category URLs from its seed page.
func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Discover the site's category URLs",
		Long: `Fetches the configured site's seed page and writes every category link
found in its navigation to the site's category file. The products command
reads that file as its crawl frontier.`,

		RunE: runCategoriesCommand,
	}
}

func runCategoriesCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, cleanup, err := buildController(ctx, rt, false)
	if err != nil {
		return err
	}
	defer cleanup()

	startStatusServer(rt)

	rt.logger.Info("starting category discovery",
		zap.String("site", rt.cfg.Crawl.Site),
		zap.String("run_id", rt.runID),
	)
	return ctrl.RunCategoryPhase(ctx)
}
