package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deniel666/news-agent-maya/briefing"
	"github.com/deniel666/news-agent-maya/engine"
)

var reviewFlags struct {
	gate     string
	approve  bool
	reject   bool
	feedback string
	reasons  []string
	reviewer string
}

var reviewCmd = &cobra.Command{
	Use:   "review <thread-id>",
	Short: "Submit a script or video review decision",
	Long: `Submit the human review decision a paused thread is waiting on.

A rejected script is revised and recompiled, then pauses for review again,
up to the configured revision budget. A rejected video ends the thread.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.StringVar(&reviewFlags.gate, "gate", "script", "Which gate to answer: script or video")
	f.BoolVar(&reviewFlags.approve, "approve", false, "Approve the content")
	f.BoolVar(&reviewFlags.reject, "reject", false, "Reject the content")
	f.StringVar(&reviewFlags.feedback, "feedback", "", "Reviewer feedback (drives script revision)")
	f.StringSliceVar(&reviewFlags.reasons, "reason", nil, "Structured rejection reason, repeatable")
	f.StringVar(&reviewFlags.reviewer, "reviewer", "", "Reviewer identifier for the audit log")

	reviewCmd.MarkFlagsOneRequired("approve", "reject")
	reviewCmd.MarkFlagsMutuallyExclusive("approve", "reject")
}

func runReview(cmd *cobra.Command, args []string) error {
	threadID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	review := briefing.Review{
		Approved:    reviewFlags.approve,
		ReasonCodes: reviewFlags.reasons,
		Feedback:    reviewFlags.feedback,
		ReviewerID:  reviewFlags.reviewer,
	}

	var res engine.RunResult[briefing.State]
	switch reviewFlags.gate {
	case "script":
		res, err = p.SubmitScriptReview(cmd.Context(), threadID, review)
	case "video":
		res, err = p.SubmitVideoReview(cmd.Context(), threadID, review)
	default:
		return fmt.Errorf("unknown gate %q, want script or video", reviewFlags.gate)
	}
	if err != nil {
		return fmt.Errorf("submit review: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thread:  %s\n", res.ThreadID)
	fmt.Fprintf(out, "Status:  %s\n", res.Status)
	switch res.Status {
	case engine.StatusPaused:
		fmt.Fprintf(out, "Paused:  %s\n", res.PausedAt)
		if res.PausedAt == briefing.GateScriptReview && res.State.Script != nil {
			fmt.Fprintf(out, "\nRevised script v%d:\n\n%s\n", res.State.Script.Version, res.State.Script.Full)
		}
		if res.PausedAt == briefing.GateVideoReview {
			fmt.Fprintf(out, "Video:   %s\n", res.State.VideoURL)
		}
	case engine.StatusCompleted:
		fmt.Fprintf(out, "Posts:   %v\n", res.State.PostResults)
	case engine.StatusTerminated:
		fmt.Fprintf(out, "Thread ended without publishing.\n")
	}
	return nil
}
