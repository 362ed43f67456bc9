// Package cmd provides the CLI commands for agentmem.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/config"
	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/logging"
	"github.com/Aman-CERP/agentmem/pkg/version"
)

// Global flags
var (
	debugMode      bool
	configFile     string
	dataDir        string
	noColor        bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for agentmem CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentmem",
		Short: "Adaptive hybrid memory search for AI agents",
		Long: `agentmem stores agent memories and searches them with a hybrid of
BM25 keyword search and vector similarity.

Each query is classified and the mix of keyword and vector evidence is
chosen for it. Feedback on results tunes that mix per query pattern.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("agentmem version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.agentmem/logs/")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: user config + .agentmem.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides storage.data_dir)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFeedbackCmd())
	cmd.AddCommand(newOptimizeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging if requested.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

// stopLogging flushes and closes the log file.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Debug("Logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the configuration for the current directory, applies
// --data-dir and installs the configured logger unless --debug already did.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", cwdErr)
		}
		cfg, err = config.Load(cwd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if !debugMode && loggingCleanup == nil {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to setup logging: %w", err)
		}
		slog.SetDefault(logger)
		loggingCleanup = cleanup
	}
	return cfg, nil
}

// openService loads the configuration and opens the memory store.
func openService(ctx context.Context, readOnly bool) (*index.Service, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := index.Open(ctx, cfg, index.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open memory store at %s: %w", cfg.Storage.DataDir, err)
	}
	return svc, cfg, nil
}
