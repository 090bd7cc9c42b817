package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/logging"
	"github.com/nvandessel/refinery/internal/service"
	"github.com/nvandessel/refinery/internal/store"
)

var version = "0.1.0-dev"

// configFile is the project config file name inside .refinery/.
const configFile = "config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "refinery",
		Short: "Confidence-scored draft refinement and thought chains",
		Long: `refinery scores iterative drafts and sequential thoughts submitted by
AI agents. Each step gets a confidence and a category; drafts are
persisted per session so later revisions are held to growth and
revision floors.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <root>/.refinery/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newConfigCmd(),
		newDraftCmd(),
		newSessionsCmd(),
		newExportCmd(),
		newImportCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refinery version %s\n", version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a project-local .refinery directory",
		Long: `Create .refinery/ in the project root with a config.yaml whose
session database lives next to it, and a .gitignore that keeps the
database out of version control. Existing files are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir := store.LocalPath(root)

			if err := store.EnsureDir(dir); err != nil {
				return err
			}
			if err := store.EnsureGitignore(dir); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, configFile)
			created := false
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				cfg := config.Default()
				abs, err := filepath.Abs(filepath.Join(dir, store.DatabaseFile))
				if err != nil {
					return fmt.Errorf("failed to resolve database path: %w", err)
				}
				cfg.Storage.Path = abs
				if err := cfg.WriteFile(cfgPath); err != nil {
					return err
				}
				created = true
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"status":         "initialized",
					"path":           dir,
					"config_created": created,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s/ in %s\n", store.DirName, root)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file and
REFINERY_* environment variables. The coherence API key is masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				if cfg.Coherence.APIKey != "" {
					cfg.Coherence.APIKey = "********"
				}
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// configPath returns --config, or the project config file.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	root, _ := cmd.Flags().GetString("root")
	return filepath.Join(store.LocalPath(root), configFile)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(config.LoadOptions{Path: configPath(cmd)})
}

// openService loads the config and builds the service. Logs go to stderr
// so stdout stays clean for JSON and MCP traffic.
func openService(cmd *cobra.Command) (*service.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, true)
	svc, err := service.New(cfg, service.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return svc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
