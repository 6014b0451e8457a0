// Memoryd is a local persistent memory daemon for Claude Code, served over
// the MCP stdio transport.
//
// All state lives under a single storage root (default ~/.claude-memory):
// the SQLite database, the vector index, raw call logs, exports, and the
// transcript extraction queue.
//
// Usage:
//
//	# Start the daemon (stdio transport; stdout belongs to MCP)
//	memoryd
//
//	# Serve the read-only dashboard
//	memoryd dashboard
//
//	# Configure via environment
//	MEMORY_DIR=/tmp/mem MEMORY_DECAY_HALF_LIFE=30 memoryd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/dashboard"
	"github.com/vbcherepanov/claude-total-memory/internal/embeddings"
	"github.com/vbcherepanov/claude-total-memory/internal/extract"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/mcp"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/search"
	"github.com/vbcherepanov/claude-total-memory/internal/session"
	"github.com/vbcherepanov/claude-total-memory/internal/soul"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
	"github.com/vbcherepanov/claude-total-memory/internal/vectorindex"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Persistent memory daemon for Claude Code",
	Long: `memoryd stores knowledge, observations, and behavioral rules in a
local SQLite database and serves them to Claude Code over MCP stdio.

Run it with no arguments from an MCP client configuration.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(signalContext())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("memoryd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the read-only web dashboard",
	Long: `Serve a read-only HTTP dashboard over the memory database.

The dashboard opens the database in read-only mode and can run while the
daemon is serving MCP traffic.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard(signalContext())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// runDaemon wires the full service stack and serves MCP on stdio until the
// context is cancelled.
//
//  1. Load and validate configuration
//  2. Initialize the logger (stderr only; stdout belongs to the transport)
//  3. Open the embedding provider and vector index, degrading to
//     keyword-only search when either is unavailable
//  4. Open the store and build the search, soul, and extraction services
//  5. Start a session bound to the working directory
//  6. Serve MCP on stdio
func runDaemon(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	logger.Info("starting memoryd",
		zap.String("version", version),
		zap.String("dir", cfg.Dir),
		zap.Int("decay_half_life_days", cfg.DecayHalfLife))

	// Semantic search is optional: without a model or index every recall
	// still works through the keyword, fuzzy, and graph tiers.
	var embedder embeddings.Embedder
	provider, err := embeddings.NewProvider(embeddings.Config{
		Model:    cfg.EmbeddingModel,
		CacheDir: filepath.Join(cfg.Dir, "models"),
	})
	if err != nil {
		logger.Warn("embedding provider unavailable, semantic tier disabled",
			zap.String("model", cfg.EmbeddingModel), zap.Error(err))
	} else {
		embedder = provider
		defer func() { _ = provider.Close() }()
	}

	var vectors *vectorindex.Index
	if embedder != nil {
		vectors, err = vectorindex.Open(cfg.VectorStorePath(), logger)
		if err != nil {
			logger.Warn("vector index unavailable, semantic tier disabled", zap.Error(err))
			vectors = nil
		}
	}

	st, err := store.Open(cfg, vectors, embedder, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	engine := search.New(st, vectors, embedder, cfg, logger)
	soulSvc := soul.New(st, logger)

	queue, err := extract.New(cfg.ExtractQueueDir(), logger)
	if err != nil {
		return err
	}

	// The session is best effort: tool calls still work without one, they
	// just lose the project default and the raw call log.
	var sess *session.Context
	if wd, werr := os.Getwd(); werr == nil {
		sess, err = session.Start(wd, cfg.RawLogDir(), logger)
		if err != nil {
			logger.Warn("session start failed", zap.Error(err))
		} else {
			defer func() { _ = sess.Close() }()
			if err := st.StartSession(ctx, memory.Session{
				ID:        sess.ID,
				StartedAt: sess.StartedAt,
				Project:   sess.Project,
				Branch:    sess.Branch,
			}); err != nil {
				logger.Warn("recording session failed", zap.Error(err))
			}
		}
	}

	srv, err := mcp.New(mcp.Config{Name: "memoryd", Version: version},
		st, engine, soulSvc, queue, sess, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// runDashboard serves the read-only dashboard until the context is cancelled.
func runDashboard(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := dashboard.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()
	return srv.Start(ctx)
}
