package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterwatch/internal/app"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one feed cycle and print its summary",
		Args:  cobra.NoArgs,
		RunE:  runCheckCommand,
	}
}

func runCheckCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	defer a.Close()

	summary, cycleErr := a.Watcher().RunOnce(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if cycleErr != nil {
		return fmt.Errorf("feed cycle: %w", cycleErr)
	}
	return nil
}
