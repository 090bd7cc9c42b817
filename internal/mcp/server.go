// Package mcp exposes the draft, thought and integrated step tools over
// the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/logging"
	"github.com/nvandessel/refinery/internal/service"
)

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string

	// Service provides the machines. It is closed with the server.
	Service *service.Service

	// SessionID is used when a request omits sessionId. A random id is
	// generated when empty.
	SessionID string
}

// Server is the refinery MCP server.
type Server struct {
	server    *mcp.Server
	svc       *service.Service
	sessionID string
	verbosity config.Verbosity
	logger    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a server and registers its tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Service == nil {
		return nil, errors.New("mcp server requires a service")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	verbosity := cfg.Service.Config.Logging.Verbosity
	if !verbosity.Valid() {
		verbosity = config.VerbosityStandard
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:       cfg.Service,
		sessionID: sessionID,
		verbosity: verbosity,
		logger:    logging.Component(cfg.Service.Logger, "mcp"),
	}
	s.registerTools()
	return s, nil
}

// SessionID returns the default session of this server.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Run serves over stdio until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("session", s.sessionID).Msg("mcp server starting")
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("run mcp server: %w", err)
	}
	return nil
}

// Close releases the service. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.svc.Close()
	})
	return s.closeErr
}
