package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterwatch/internal/app"
	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

type processResult struct {
	chapter.Outcome
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newProcessCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "process <landing-url>",
		Short: "Run the pipeline for a single landing page",
		Long: `Runs the ingestion pipeline for one announcement page without consulting
the feed. The ledger still gates the run, so an already processed page is
reported as skipped. --title feeds the chapter-number fallback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessCommand(cmd, args[0], title)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "announcement title used when the archive name has no chapter number")
	return cmd
}

func runProcessCommand(cmd *cobra.Command, link, title string) error {
	rt, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	defer a.Close()

	outcome := a.Coordinator().Process(cmd.Context(), chapter.Announcement{
		Title:       title,
		Link:        link,
		PublishedAt: time.Now().UTC(),
	})
	result := processResult{Outcome: outcome, Status: outcome.Status()}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	if outcome.Err != nil {
		return fmt.Errorf("process %s failed at %s: %w", link, outcome.Stage, outcome.Err)
	}
	return nil
}
