package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/refinery/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run refinery as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes refinery over stdio.

Tools:

  • refinery_draft       - Submit one draft of an iterative refinement
  • refinery_thought     - Submit one step of a sequential thought chain
  • refinery_integrated  - Submit a thought and a draft for the same turn
  • refinery_history     - List the drafts and thoughts of a session

The server communicates via JSON-RPC 2.0 over stdin/stdout. Requests
without a sessionId share one session per server process.

Example client config:

  {
    "mcpServers": {
      "refinery": {
        "command": "refinery",
        "args": ["mcp-server"],
        "cwd": "${workspaceFolder}"
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = svc.Config.Metrics.Addr
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:      "refinery",
				Version:   version,
				Service:   svc,
				SessionID: sessionID,
			})
			if err != nil {
				svc.Close()
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				metricsSrv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(svc.Metrics.Handler()),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						svc.Logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics endpoint stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					metricsSrv.Shutdown(shutdownCtx)
				}()
				svc.Logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			}

			// Blocks until the client disconnects or SIGTERM/SIGINT.
			if err := server.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("session", "", "Default session id (default: random per process)")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address (overrides metrics.addr)")

	return cmd
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}
