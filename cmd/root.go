// Package cmd defines the chapterwatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/config"
	"github.com/JakeFAU/chapterwatch/internal/logging"
)

type envKeyType string

const envKey envKeyType = "env"

// cliEnv carries what PersistentPreRunE loaded to the subcommands.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "chapterwatch",
		Short: "Watches a release feed and turns new chapters into PDF documents.",
		Long: `chapterwatch polls an RSS/Atom feed for chapter announcements, follows
each announcement to its storage link, downloads and unpacks the archive and
assembles the page images into one PDF. Processed announcements are recorded
in an append-only ledger so they are never handled twice.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &cliEnv{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey).(*cliEnv); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CHAPTERWATCH_* env vars override it")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newLedgerCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*cliEnv, error) {
	rt, ok := ctx.Value(envKey).(*cliEnv)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "chapterwatch:", err)
		os.Exit(1)
	}
}
