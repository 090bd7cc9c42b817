package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/refinery/internal/models"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Submit and inspect persisted drafts",
	}
	cmd.AddCommand(newDraftSubmitCmd(), newDraftHistoryCmd())
	return cmd
}

func newDraftSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Score and persist one draft",
		Long: `Score one draft and persist it under (session, number).

Examples:
  refinery draft submit --session s1 --number 1 --total 3 --content "..."
  refinery draft submit --session s1 --number 2 --total 3 --file draft.md --revises 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sessionID, _ := cmd.Flags().GetString("session")
			content, _ := cmd.Flags().GetString("content")
			file, _ := cmd.Flags().GetString("file")
			number, _ := cmd.Flags().GetInt("number")
			total, _ := cmd.Flags().GetInt("total")
			revises, _ := cmd.Flags().GetInt("revises")
			category, _ := cmd.Flags().GetString("category")
			scope, _ := cmd.Flags().GetString("scope")
			assumptions, _ := cmd.Flags().GetStringSlice("assumption")
			constraints, _ := cmd.Flags().GetStringSlice("constraint")

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read draft file: %w", err)
				}
				content = string(data)
			}

			rec := models.StepRecord{
				Content:        content,
				SequenceNumber: number,
				TotalEstimated: total,
				Category:       models.Category{Type: models.CategoryType(category)},
				Context: models.StepContext{
					ProblemScope: scope,
					Assumptions:  assumptions,
					Constraints:  constraints,
				},
			}
			if revises > 0 {
				rec.IsRevision = true
				rec.RevisesSequenceNumber = models.IntPtr(revises)
			}

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Drafts.Submit(context.Background(), sessionID, rec)
			if err != nil {
				if jsonOut {
					writeJSON(cmd.OutOrStdout(), map[string]string{"error": err.Error(), "status": "failed"})
				}
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✓ Draft %d/%d accepted", res.Record.SequenceNumber, res.Record.TotalEstimated)
			fmt.Fprintf(out, " (session %s)\n", res.SessionID)
			printDraft(out, res.Record)
			fmt.Fprintf(out, "  Phase:      %s\n", res.State.Phase)
			fmt.Fprintf(out, "  Content:    %s\n", res.Breakdown.ContentType)
			return nil
		},
	}

	cmd.Flags().String("session", "default", "Session id")
	cmd.Flags().String("content", "", "Draft text")
	cmd.Flags().String("file", "", "Read the draft text from a file")
	cmd.Flags().Int("number", 1, "Draft number (1-based)")
	cmd.Flags().Int("total", 0, "Estimated total number of drafts")
	cmd.Flags().Int("revises", 0, "Draft number this draft revises")
	cmd.Flags().String("category", "", "Draft category: initial, critique, revision or final")
	cmd.Flags().String("scope", "", "Problem scope used for relevance scoring")
	cmd.Flags().StringSlice("assumption", nil, "Assumption (repeatable)")
	cmd.Flags().StringSlice("constraint", nil, "Constraint (repeatable)")

	return cmd
}

func newDraftHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the persisted drafts of a session, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sessionID, _ := cmd.Flags().GetString("session")
			limit, _ := cmd.Flags().GetInt("limit")

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			drafts, err := svc.Drafts.History(context.Background(), sessionID, limit)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"sessionId": sessionID,
					"drafts":    drafts,
					"count":     len(drafts),
				})
			}
			out := cmd.OutOrStdout()
			if len(drafts) == 0 {
				fmt.Fprintf(out, "No drafts in session %s.\n", sessionID)
				return nil
			}
			fmt.Fprintf(out, "Drafts in session %s (%d):\n\n", sessionID, len(drafts))
			for _, d := range drafts {
				color.New(color.Bold).Fprintf(out, "#%d", d.SequenceNumber)
				fmt.Fprintf(out, " of %d\n", d.TotalEstimated)
				printDraft(out, d)
				fmt.Fprintf(out, "  %s\n\n", excerpt(d.Content, 100))
			}
			return nil
		},
	}

	cmd.Flags().String("session", "default", "Session id")
	cmd.Flags().Int("limit", 0, "Maximum number of drafts (0 = all)")

	return cmd
}

func printDraft(out io.Writer, rec models.StepRecord) {
	fmt.Fprintf(out, "  Confidence: ")
	confidenceColor(rec.Confidence).Fprintf(out, "%.2f\n", rec.Confidence)
	fmt.Fprintf(out, "  Category:   %s\n", rec.Category.Type)
	if rec.IsRevision {
		fmt.Fprintf(out, "  Revises:    #%d\n", rec.Revises())
	}
}

func confidenceColor(c float64) *color.Color {
	switch {
	case c >= 0.75:
		return color.New(color.FgGreen)
	case c >= 0.55:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
