package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deniel666/news-agent-maya/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the compiled execution plan",
	Long: `Print the staged execution order the engine compiled from the node
table: which nodes run in which stage, and where the review gates pause.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, stage := range p.ExecutionOrder() {
		marker := ""
		if len(stage) == 1 {
			if c, ok := p.Configs().Get(stage[0]); ok && c.Type == engine.TypeGate {
				marker = "  (pauses for review)"
			}
		}
		fmt.Fprintf(out, "%2d. %s%s\n", i+1, strings.Join(stage, ", "), marker)
	}
	return nil
}
