package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/agentmem/internal/config"
	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/output"
	"github.com/Aman-CERP/agentmem/internal/telemetry"
	"github.com/Aman-CERP/agentmem/internal/watcher"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	polling       bool
	metricsListen string
	noSync        bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep the store in sync with a directory of JSONL files",
		Long: `Import every memory file (*.jsonl, *.ndjson by default) under dir and
keep the store in step as files are created, changed, renamed or deleted.
Each file's path relative to dir becomes the source of its memories.

Files changed while nobody was watching are picked up by an initial sync.
With metrics.listen set (or --metrics-listen) search and feedback metrics
are served for Prometheus while watching.`,
		Example: `  agentmem watch ./memories
  agentmem watch ./memories --metrics-listen :9464
  agentmem watch /mnt/share/memories --polling`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runWatch(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.polling, "polling", false, "Poll for changes instead of using file system notifications")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
	cmd.Flags().BoolVar(&opts.noSync, "no-sync", false, "Skip the initial sync")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, root string, opts watchOptions) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.metricsListen != "" {
		cfg.Metrics.Listen = opts.metricsListen
	}
	if opts.polling {
		cfg.Watch.ForcePolling = true
	}

	var exporter *telemetry.PrometheusExporter
	if cfg.Metrics.Listen != "" {
		exporter = telemetry.NewPrometheusExporter(nil)
	}

	svc, err := index.Open(ctx, cfg, index.Options{Exporter: exporter})
	if err != nil {
		return fmt.Errorf("failed to open memory store at %s: %w", cfg.Storage.DataDir, err)
	}
	defer func() { _ = svc.Close() }()

	out := output.New(cmd.OutOrStdout())
	coord := index.NewCoordinator(index.CoordinatorConfig{
		RootPath: root,
		Service:  svc,
		Watch:    cfg.Watch,
		OnConfigChange: func(_ context.Context, path string) error {
			if _, err := config.Load(root); err != nil {
				return err
			}
			out.Warningf("%s changed; restart watch to apply it", path)
			return nil
		},
	})

	if !opts.noSync {
		changes, err := coord.Sync(ctx)
		if err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
		reportChanges(out, changes)
	}

	w, err := watcher.NewHybridWatcher(cfg.Watch)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() { _ = w.Stop() }()
		return w.Start(gctx, root)
	})
	g.Go(func() error {
		return handleWatchEvents(gctx, w, coord, out)
	})
	if exporter != nil {
		g.Go(func() error {
			return exporter.Serve(gctx, cfg.Metrics.Listen, cfg.Metrics.Path)
		})
		out.Statusf("•", "Metrics on http://%s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
	}

	out.Statusf("•", "Watching %s (%s, Ctrl+C to stop)", root, w.WatcherType())
	err = g.Wait()
	if ctx.Err() != nil {
		// Interrupted: a clean shutdown.
		out.Success("Stopped watching")
		return nil
	}
	return err
}

// handleWatchEvents applies event batches until ctx is done or the watcher
// closes its channels.
func handleWatchEvents(ctx context.Context, w *watcher.HybridWatcher, coord *index.Coordinator, out *output.Writer) error {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			reportChanges(out, coord.HandleEvents(ctx, batch))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// reportChanges prints one line per file that changed the store.
func reportChanges(out *output.Writer, changes []index.FileChange) {
	for _, c := range changes {
		if c.Skipped {
			continue
		}
		switch {
		case c.Operation == watcher.OpDelete:
			out.Statusf("-", "%s: removed %d", c.Path, c.Result.Removed)
		case c.Operation == watcher.OpConfigChange:
		case c.Result.Removed > 0:
			out.Statusf("+", "%s: %d memories, %d removed", c.Path, c.Result.Added, c.Result.Removed)
		default:
			out.Statusf("+", "%s: %d memories", c.Path, c.Result.Added)
		}
	}
}
