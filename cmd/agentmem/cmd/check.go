package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/output"
)

func newCheckCmd() *cobra.Command {
	var (
		jsonOutput bool
		repair     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the indexes match the memory catalog",
		Long: `Compare the BM25 index and the vector index with the memory catalog and
report memories missing from an index or index entries with no memory.

A read-only open already rebuilds missing vectors in memory, so problems
reported here are usually in a persistent BM25 index. --repair opens the
store for writing, which repairs every index before checking.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd, jsonOutput, repair)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&repair, "repair", false, "Repair drift before checking")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, jsonOutput, repair bool) error {
	svc, _, err := openService(ctx, !repair)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	result, err := svc.Check(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return encodeJSON(cmd, result)
	}

	out := output.New(cmd.OutOrStdout())
	if len(result.Inconsistencies) == 0 {
		out.Successf("%d memories checked, indexes are consistent (%s)", result.Checked, result.Duration.Round(time.Millisecond))
		return nil
	}
	out.Warningf("%d memories checked, %d problems found", result.Checked, len(result.Inconsistencies))
	for _, issue := range result.Inconsistencies {
		out.Statusf("", "%-20s %s", issue.Type, issue.MemoryID)
	}
	if !repair {
		out.Dim("Run 'agentmem check --repair' to fix them")
	}
	return nil
}
