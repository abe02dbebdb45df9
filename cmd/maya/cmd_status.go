package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show a briefing thread's checkpoint and review history",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	threadID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	cp, err := p.Checkpoint(cmd.Context(), threadID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thread:   %s\n", cp.ThreadID)
	fmt.Fprintf(out, "Status:   %s\n", cp.Status)
	fmt.Fprintf(out, "Stage:    %d\n", cp.StageIndex)
	if cp.PausedAt != "" {
		fmt.Fprintf(out, "Paused:   %s\n", cp.PausedAt)
	}
	if len(cp.NextNodes) > 0 {
		fmt.Fprintf(out, "Next:     %v\n", cp.NextNodes)
	}
	fmt.Fprintf(out, "Updated:  %s\n", cp.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	s := cp.State
	fmt.Fprintf(out, "Pipeline: %s\n", s.Status)
	fmt.Fprintf(out, "Articles: %d fetched, %d dropped\n", len(s.NewsItems), len(s.Dropped))
	if s.Script != nil {
		fmt.Fprintf(out, "Script:   v%d (%s), ~%ds spoken\n", s.Script.Version, s.Script.ReviewStatus, s.Script.EstimatedSeconds)
	}
	if s.VideoURL != "" {
		fmt.Fprintf(out, "Video:    %s\n", s.VideoURL)
	}
	if len(s.PostResults) > 0 {
		fmt.Fprintf(out, "Posts:\n")
		for platform, id := range s.PostResults {
			fmt.Fprintf(out, "  %s: %s\n", platform, id)
		}
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(out, "Node errors:\n")
		for node, msg := range s.Errors {
			fmt.Fprintf(out, "  %s: %s\n", node, msg)
		}
	}
	for gate, n := range cp.Revisions {
		fmt.Fprintf(out, "Revisions at %s: %d\n", gate, n)
	}

	decisions, err := p.DecisionLog(cmd.Context(), threadID)
	if err == nil && len(decisions) > 0 {
		fmt.Fprintf(out, "Reviews:\n")
		for _, d := range decisions {
			verdict := "rejected"
			if d.Approved {
				verdict = "approved"
			}
			fmt.Fprintf(out, "  %s v%d %s by %s at %s\n",
				d.GateID, d.RevisionOfVersion, verdict, d.ReviewerID, d.DecidedAt.Format("2006-01-02 15:04"))
			if len(d.ReasonCodes) > 0 {
				fmt.Fprintf(out, "    reasons: %v\n", d.ReasonCodes)
			}
		}
	}
	return nil
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List known briefing threads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		threads, err := p.Threads(cmd.Context())
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No briefing threads yet. Run 'maya start'.")
			return nil
		}
		for _, id := range threads {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}
