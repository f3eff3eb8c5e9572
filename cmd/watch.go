package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/chapterwatch/internal/app"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the feed forever",
		Long: `Runs a feed cycle immediately and then once per watch.interval_minutes
until interrupted. When server.addr is set the status server runs alongside.`,
		Args: cobra.NoArgs,
		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return a.Watcher().Run(ctx)
	})
	if srv := a.StatusServer(); srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	rt.logger.Info("watch command finished")
	return nil
}
