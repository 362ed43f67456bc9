package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/output"
	"github.com/Aman-CERP/agentmem/internal/ui"
)

// importOptions holds CLI flags for import.
type importOptions struct {
	source    string
	replace   bool
	batchSize int
	plain     bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.jsonl|->...",
		Short: "Import memories from JSONL files",
		Long: `Import memories from JSONL files, one JSON object per line:

  {"id": "m1", "content": "...", "metadata": {"tag": "x"}, "importance": 0.5}

Only "content" is required. Each file's memories are tagged with a source
(the file name unless --source is given), and records without an ID get one
derived from their source and content, so reimporting a file updates its
memories in place. Use - to read standard input.`,
		Example: `  agentmem import notes.jsonl
  agentmem import team/*.jsonl --replace
  cat export.jsonl | agentmem import - --source backup`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Source tag for the imported memories (default: file name)")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "Delete memories from the same source that are missing from the file")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 256, "Memories written per batch")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output even on a terminal")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, paths []string, opts importOptions) error {
	if opts.source != "" && len(paths) > 1 {
		return fmt.Errorf("--source applies to a single file; got %d", len(paths))
	}

	svc, _, err := openService(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(noColor),
		ui.WithTitle("agentmem import"),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	var total ui.CompletionStats
	for _, path := range paths {
		source := opts.source
		if source == "" && path != "-" {
			source = filepath.Base(path)
		}
		if opts.replace && source == "" {
			renderer.AddError(ui.ErrorEvent{Source: path, Err: fmt.Errorf("--replace needs a source")})
			total.Errors++
			continue
		}

		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageReading, Source: path, Message: "reading " + path})
		importOpts := index.ImportOptions{
			Source:    source,
			Replace:   opts.replace,
			BatchSize: opts.batchSize,
			Progress: func(done, n int) {
				renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: done, Total: n, Source: path})
			},
		}

		var result index.ImportResult
		if path == "-" {
			result, err = svc.Import(ctx, bufio.NewReader(cmd.InOrStdin()), importOpts)
		} else {
			result, err = svc.ImportFile(ctx, path, importOpts)
		}
		if err != nil {
			slog.Warn("import failed", slog.String("path", path), slog.String("error", err.Error()))
			renderer.AddError(ui.ErrorEvent{Source: path, Err: err})
			total.Errors++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		total.Read += result.Read
		total.Added += result.Added
		total.Removed += result.Removed
	}

	total.Duration = time.Since(start)
	renderer.Complete(total)
	if err := renderer.Stop(); err != nil {
		return err
	}

	if total.Errors > 0 {
		return fmt.Errorf("%d of %d inputs failed to import", total.Errors, len(paths))
	}
	return nil
}

func newExportCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export memories as JSONL",
		Long: `Export stored memories as JSONL in the same format import reads.
Writes to standard output unless a file is given.`,
		Example: `  agentmem export > backup.jsonl
  agentmem export backup.jsonl --limit 1000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if len(args) == 0 {
				_, err := svc.Export(ctx, cmd.OutOrStdout(), limit)
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			w := bufio.NewWriter(f)
			n, err := svc.Export(ctx, w, limit)
			if err == nil {
				err = w.Flush()
			}
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("failed to export to %s: %w", args[0], err)
			}
			output.New(cmd.ErrOrStderr()).Successf("Exported %d memories to %s", n, args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum memories to export (0: all)")

	return cmd
}
