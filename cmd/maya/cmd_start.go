package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deniel666/news-agent-maya/engine"
)

var startFlags struct {
	year     int
	week     int
	language string
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a weekly briefing run",
	Long: `Start a new briefing thread for the given ISO week. The pipeline runs
through aggregation, synthesis, and script compilation, then pauses for
script review. Submit the review with 'maya review'.`,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.IntVar(&startFlags.year, "year", 0, "ISO year (default: current)")
	f.IntVar(&startFlags.week, "week", 0, "ISO week number (default: current)")
	f.StringVar(&startFlags.language, "language", "", "Briefing language code, e.g. en-SG")
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	language := startFlags.language
	if language == "" {
		language = cfg.Language
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	res, err := p.StartBriefing(cmd.Context(), startFlags.year, startFlags.week, language)
	if err != nil {
		return fmt.Errorf("start briefing: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thread:  %s\n", res.ThreadID)
	fmt.Fprintf(out, "Status:  %s\n", res.Status)
	switch res.Status {
	case engine.StatusPaused:
		fmt.Fprintf(out, "Paused:  %s\n", res.PausedAt)
		if res.State.Script != nil {
			fmt.Fprintf(out, "\nScript v%d (~%ds spoken):\n\n%s\n",
				res.State.Script.Version, res.State.Script.EstimatedSeconds, res.State.Script.Full)
		}
		fmt.Fprintf(out, "\nApprove with: maya review %s --gate script --approve\n", res.ThreadID)
	case engine.StatusCompleted:
		fmt.Fprintf(out, "Posts:   %v\n", res.State.PostResults)
	}
	return nil
}
