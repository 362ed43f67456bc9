package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/output"
	"github.com/Aman-CERP/agentmem/internal/store"
)

// addOptions holds CLI flags for add.
type addOptions struct {
	id         string
	metadata   []string
	importance float64
	jsonOutput bool
}

func newAddCmd() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory",
		Long: `Store one memory and index it for keyword and vector search.

Without --id a random ID is assigned. Adding an existing ID replaces it.`,
		Example: `  agentmem add "User prefers metric units"
  agentmem add "Ticket P000123 closed" --id P000123 --meta type=ticket --meta priority=2
  agentmem add "Deploys happen on Tuesdays" --importance 0.8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Memory ID (default: random UUID)")
	cmd.Flags().StringArrayVarP(&opts.metadata, "meta", "m", nil, "Metadata key=value (repeatable)")
	cmd.Flags().Float64Var(&opts.importance, "importance", 0, "Importance between 0 and 1")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the stored memory as JSON")

	return cmd
}

func runAdd(ctx context.Context, cmd *cobra.Command, content string, opts addOptions) error {
	metadata, err := parseMetadata(opts.metadata)
	if err != nil {
		return fmt.Errorf("invalid --meta: %w", err)
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	svc, _, err := openService(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	m := &store.Memory{
		ID:         opts.id,
		Content:    content,
		Metadata:   metadata,
		Importance: opts.importance,
	}
	if err := svc.Add(ctx, []*store.Memory{m}); err != nil {
		return err
	}

	if opts.jsonOutput {
		return encodeJSON(cmd, index.RecordFromMemory(m))
	}
	output.New(cmd.OutOrStdout()).Successf("Stored memory %s", m.ID)
	return nil
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one memory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			m, err := svc.Get(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("memory %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return encodeJSON(cmd, index.RecordFromMemory(m))
		},
	}
}

func newDeleteCmd() *cobra.Command {
	var (
		source string
		prefix bool
	)

	cmd := &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete memories by ID or by import source",
		Example: `  agentmem delete 3f2c1a7e-...
  agentmem delete --source notes/team.jsonl
  agentmem delete --source notes --prefix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" && len(args) == 0 {
				return fmt.Errorf("give memory IDs or --source")
			}
			if source != "" && len(args) > 0 {
				return fmt.Errorf("give either memory IDs or --source, not both")
			}

			ctx := cmd.Context()
			svc, _, err := openService(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			out := output.New(cmd.OutOrStdout())
			if source != "" {
				n, err := svc.DeleteSource(ctx, source, prefix)
				if err != nil {
					return err
				}
				out.Successf("Deleted %d memories from %s", n, source)
				return nil
			}
			if err := svc.Delete(ctx, args); err != nil {
				return err
			}
			out.Successf("Deleted %d memories", len(args))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Delete every memory imported from this source")
	cmd.Flags().BoolVar(&prefix, "prefix", false, "With --source, also delete sources under it as a directory")

	return cmd
}

// encodeJSON writes v as indented JSON to the command's output.
func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

