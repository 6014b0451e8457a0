// Package mcp exposes the memory daemon over the Model Context Protocol
// stdio transport: typed tools calling the internal services directly.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/extract"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/search"
	"github.com/vbcherepanov/claude-total-memory/internal/session"
	"github.com/vbcherepanov/claude-total-memory/internal/soul"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "memoryd").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Registerer for tool metrics; nil uses the default.
	Registerer prometheus.Registerer
}

// Server wires the tool surface to the internal services.
type Server struct {
	mcp     *mcp.Server
	store   *store.Store
	engine  *search.Engine
	soul    *soul.Service
	queue   *extract.Queue
	sess    *session.Context
	metrics *Metrics
	logger  *logging.Logger
}

// New builds the server and registers every tool.
func New(cfg Config, st *store.Store, engine *search.Engine, soulSvc *soul.Service,
	queue *extract.Queue, sess *session.Context, logger *logging.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if soulSvc == nil {
		return nil, fmt.Errorf("soul service is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("extract queue is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "memoryd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:   st,
		engine:  engine,
		soul:    soulSvc,
		queue:   queue,
		sess:    sess,
		metrics: NewMetrics(cfg.Registerer),
		logger:  logger.Named("mcp"),
	}
	s.registerMemoryTools()
	s.registerSoulTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done. stdout belongs to the
// transport; all logging goes to stderr.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// observe finishes one tool call: metrics, the raw call log, and the session
// tool counter. Bookkeeping failures never fail the call.
func (s *Server) observe(ctx context.Context, tool string, start time.Time, args any, err error) {
	took := time.Since(start)
	s.metrics.RecordInvocation(tool, took, err)
	if err != nil {
		s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
	}
	if s.sess == nil {
		return
	}
	s.sess.LogToolCall(tool, args, took, err)
	if berr := s.store.BumpToolCalls(ctx, s.sess.ID); berr != nil {
		s.logger.Warn("bumping session tool count failed", zap.Error(berr))
	}
}

func (s *Server) sessionID() string {
	if s.sess == nil {
		return ""
	}
	return s.sess.ID
}

// textResult wraps a short human-readable confirmation.
func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
