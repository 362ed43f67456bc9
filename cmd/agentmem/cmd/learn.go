package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/output"
)

// feedbackOptions holds CLI flags for feedback.
type feedbackOptions struct {
	label     string
	overrides overrideFlags
}

func newFeedbackCmd() *cobra.Command {
	var opts feedbackOptions

	cmd := &cobra.Command{
		Use:   "feedback <query> <effectiveness>",
		Short: "Record how useful a search was",
		Long: `Record how useful the results of a search were, from 0 (useless) to
1 (exactly right). The sample is credited to the weights the engine picks for
the query, so repeat any weight or filter flags the search used.

Samples accumulate per query pattern (question, technical, short, long,
conversational, general). Run 'agentmem optimize' to turn them into new
default weights.`,
		Example: `  agentmem feedback "what did we decide about the release date?" 0.9
  agentmem feedback "deploy schedule" 0.2 --fulltext-weight 1 --vector-weight 0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := strconv.ParseFloat(args[len(args)-1], 64)
			if err != nil {
				return fmt.Errorf("effectiveness must be a number between 0 and 1, got %q", args[len(args)-1])
			}
			query := strings.Join(args[:len(args)-1], " ")
			return runFeedback(cmd.Context(), cmd, query, eff, opts)
		},
	}

	cmd.Flags().StringVar(&opts.label, "label", "", "Free-form label stored with the sample")
	opts.overrides.register(cmd)

	return cmd
}

func runFeedback(ctx context.Context, cmd *cobra.Command, query string, eff float64, opts feedbackOptions) error {
	overrides, err := opts.overrides.build(cmd)
	if err != nil {
		return err
	}

	svc, _, err := openService(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	pattern, err := svc.Feedback(query, overrides, eff, opts.label)
	if err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Successf("Recorded feedback %.2f for %s queries", eff, pattern)
	return nil
}

func newOptimizeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Update learned weights from recorded feedback",
		Long: `Run one learning pass: for each query pattern with enough feedback,
move its weights toward the weights that worked best and report the
estimated improvement.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			report := svc.Optimize()
			if jsonOutput {
				return encodeJSON(cmd, report)
			}

			out := output.New(cmd.OutOrStdout())
			if len(report.Improvements) == 0 {
				out.Statusf("•", "No pattern changed (%d samples recorded)", report.TotalSamples)
				return nil
			}
			out.Successf("Updated %d patterns from %d samples", len(report.Improvements), report.TotalSamples)
			for _, imp := range report.Improvements {
				out.Statusf("", "%-14s vector %.2f → %.2f  fulltext %.2f → %.2f  (%+.3f, %d samples)",
					imp.Pattern,
					imp.OldWeights.VectorWeight, imp.NewWeights.VectorWeight,
					imp.OldWeights.FulltextWeight, imp.NewWeights.FulltextWeight,
					imp.EffectivenessImprovement, imp.SampleCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}
