package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/refinery/internal/backup"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted sessions to a JSON file",
		Long: `Export persisted drafts to a JSON file.

Default location: ~/.refinery/backups/refinery-export-YYYYMMDD-HHMMSS.json
Keeps the last 10 exports in that directory. Paths ending in .gz are
written compressed with a checksum header.

Examples:
  refinery export                              # every session, default location
  refinery export --session s1 --session s2    # selected sessions
  refinery export --output sessions.json.gz    # compressed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			sessions, _ := cmd.Flags().GetStringSlice("session")
			compress, _ := cmd.Flags().GetBool("compress")

			rotate := false
			if outputPath == "" {
				dir, err := backup.DefaultBackupDir()
				if err != nil {
					return fmt.Errorf("failed to get backup directory: %w", err)
				}
				outputPath = backup.GenerateBackupPath(dir)
				rotate = true
			}
			if compress && !strings.HasSuffix(outputPath, ".gz") {
				outputPath += ".gz"
			}

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := backup.Export(context.Background(), svc.Store, outputPath,
				&backup.WriteOptions{AppVersion: version}, sessions...)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if rotate {
				if err := backup.RotateBackups(filepath.Dir(outputPath), backup.DefaultKeep); err != nil {
					svc.Logger.Warn().Err(err).Msg("failed to rotate exports")
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":          outputPath,
					"session_count": len(result.Sessions),
					"draft_count":   result.DraftCount(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d sessions, %d drafts\n", len(result.Sessions), result.DraftCount())
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path (default: auto-generated in ~/.refinery/backups/)")
	cmd.Flags().StringSlice("session", nil, "Session to export (repeatable; default: all)")
	cmd.Flags().Bool("compress", false, "Write a compressed export with a checksum header")

	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore sessions from an export file",
		Long: `Restore persisted drafts from an export file of either format.

Modes:
  merge   - Keep existing drafts, skip their exported copies (default)
  replace - Delete each exported session first, then restore it`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			mode, _ := cmd.Flags().GetString("mode")

			restoreMode := backup.RestoreMode(mode)
			if restoreMode != backup.RestoreMerge && restoreMode != backup.RestoreReplace {
				return fmt.Errorf("unknown mode %q (want merge or replace)", mode)
			}

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := backup.Restore(context.Background(), svc.Store, args[0], restoreMode)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Import complete (mode: %s)\n", mode)
			fmt.Fprintf(cmd.OutOrStdout(), "  Drafts: %d restored, %d skipped\n", result.DraftsRestored, result.DraftsSkipped)
			return nil
		},
	}

	cmd.Flags().String("mode", string(backup.RestoreMerge), "Import mode: merge or replace")

	return cmd
}
