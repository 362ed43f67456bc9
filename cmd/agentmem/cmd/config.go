package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/agentmem/internal/config"
	"github.com/Aman-CERP/agentmem/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage agentmem configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/agentmem/config.yaml)
  3. Project config (.agentmem.yaml in the current directory)
  4. Environment variables (AGENTMEM_*)`,
		Example: `  # Write the defaults to the user config
  agentmem config init

  # Show effective configuration
  agentmem config show

  # Print user config file path
  agentmem config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the default configuration to the user config file, or with
--project to .agentmem.yaml in the current directory.

An existing user config is left alone unless --force is given, in which case
it is backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, project)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Write .agentmem.yaml in the current directory")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force, project bool) error {
	out := output.New(cmd.OutOrStdout())

	path := config.GetUserConfigPath()
	if project {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, config.ProjectConfigNames[0])
	}

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("", "Location: %s", path)
			out.Dim("Use --force to overwrite it")
			return nil
		}
		if !project {
			backup, err := config.BackupUserConfig()
			if err != nil {
				return fmt.Errorf("failed to backup config: %w", err)
			}
			out.Statusf("•", "Backup: %s", backup)
		}
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}
	out.Success("Wrote default configuration")
	out.Statusf("", "Location: %s", path)
	out.Dim("Edit it, then run 'agentmem config show' to verify")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  agentmem config show
  agentmem config show --json
  agentmem config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg *config.Config
		err error
	)
	switch source {
	case "merged":
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("", "Expected at: %s", path)
			out.Dim("Run 'agentmem config init' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
	case "project":
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path := config.FindProjectConfig(cwd)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf("", "Expected at: %s", filepath.Join(cwd, config.ProjectConfigNames[0]))
			out.Dim("Run 'agentmem config init --project' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
	case "defaults":
		cfg = config.NewConfig()
	default:
		return fmt.Errorf("unknown --source %q: use merged, user, project or defaults", source)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
