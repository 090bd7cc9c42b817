package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or delete persisted sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions with their draft counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			sessions, err := svc.Store.Sessions(context.Background())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"sessions": sessions,
					"count":    len(sessions),
				})
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions yet.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%-36s  %3d drafts  updated %s\n", s.SessionID, s.Drafts, s.LastUpdated.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete every persisted draft of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.Store.DeleteSession(context.Background(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"sessionId": args[0],
					"deleted":   n,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d drafts from session %s\n", n, args[0])
			return nil
		},
	}
}
