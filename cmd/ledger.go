package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/app"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the processed-link ledger",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every recorded announcement link",
		Args:  cobra.NoArgs,
		RunE:  runLedgerListCommand,
	})
	return cmd
}

func runLedgerListCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	l, err := app.OpenLedger(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			rt.logger.Warn("close ledger", zap.Error(cerr))
		}
	}()

	out := cmd.OutOrStdout()
	for _, link := range l.Links() {
		if _, err := fmt.Fprintln(out, link); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
	}
	return nil
}
