// Package dashboard serves a read-only HTTP view of the memory store: JSON
// API, prometheus metrics, and a single embedded HTML page. It opens the
// SQLite file in read-only mode so it can run beside a live daemon without
// ever taking a write lock.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

// Server is the dashboard HTTP server.
type Server struct {
	echo   *echo.Echo
	store  *store.Store
	cfg    *config.Config
	logger *logging.Logger
}

// New opens the store read-only and builds the server.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	st, err := store.OpenReadOnly(cfg, logger)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{echo: e, store: st, cfg: cfg, logger: logger.Named("dashboard")}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/knowledge", s.handleKnowledgeList)
	api.GET("/knowledge/:id", s.handleKnowledgeDetail)
	api.GET("/sessions", s.handleSessions)
	api.GET("/graph", s.handleGraph)

	reg := prometheus.NewRegistry()
	reg.MustRegister(newStoreCollector(s.store))
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("localhost:%d", s.cfg.DashboardPort)
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("dashboard listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Close releases the read-only store handle.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleKnowledgeList(c echo.Context) error {
	status := memory.Status(c.QueryParam("status"))
	if status != "" {
		if _, err := memory.ParseStatus(string(status)); err != nil {
			return s.jsonError(c, err)
		}
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			return s.jsonError(c, fmt.Errorf("%w: limit %q", memory.ErrInvalidArgument, raw))
		}
		limit = n
	}

	typ := c.QueryParam("type")
	if typ != "" {
		if _, err := memory.ParseType(typ); err != nil {
			return s.jsonError(c, err)
		}
	}
	q := strings.ToLower(c.QueryParam("q"))

	// Type and substring filters apply after the SQL filters, so overfetch
	// when either is present.
	fetchLimit := limit
	if typ != "" || q != "" {
		fetchLimit = 0
	}
	records, err := s.store.ListKnowledge(c.Request().Context(), status, c.QueryParam("project"), fetchLimit)
	if err != nil {
		return s.jsonError(c, err)
	}
	filtered := make([]memory.Knowledge, 0, len(records))
	for _, k := range records {
		if typ != "" && string(k.Type) != typ {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(k.Content), q) {
			continue
		}
		filtered = append(filtered, k)
		if len(filtered) >= limit {
			break
		}
	}
	records = filtered
	return c.JSON(http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleKnowledgeDetail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return s.jsonError(c, fmt.Errorf("%w: id %q", memory.ErrInvalidArgument, c.Param("id")))
	}
	ctx := c.Request().Context()

	k, err := s.store.GetKnowledge(ctx, id)
	if err != nil {
		return s.jsonError(c, err)
	}
	relations, err := s.store.Relations(ctx, id)
	if err != nil {
		return s.jsonError(c, err)
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return s.jsonError(c, err)
	}
	if relations == nil {
		relations = []memory.Relation{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"record":    k,
		"relations": relations,
		"history":   history,
	})
}

func (s *Server) handleSessions(c echo.Context) error {
	sessions, err := s.store.Sessions(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// graphNode is one vertex in the relation graph view.
type graphNode struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type graphEdge struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Type string `json:"type"`
}

func (s *Server) handleGraph(c echo.Context) error {
	ctx := c.Request().Context()
	records, err := s.store.ListKnowledge(ctx, memory.StatusActive, c.QueryParam("project"), 0)
	if err != nil {
		return s.jsonError(c, err)
	}
	relations, err := s.store.AllRelations(ctx)
	if err != nil {
		return s.jsonError(c, err)
	}

	active := make(map[int64]bool, len(records))
	nodes := make([]graphNode, 0, len(records))
	for _, k := range records {
		active[k.ID] = true
		label := k.Content
		if len(label) > 80 {
			label = label[:77] + "..."
		}
		nodes = append(nodes, graphNode{ID: k.ID, Label: label, Type: string(k.Type)})
	}
	edges := []graphEdge{}
	for _, r := range relations {
		if active[r.FromID] && active[r.ToID] {
			edges = append(edges, graphEdge{From: r.FromID, To: r.ToID, Type: string(r.Type)})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

func (s *Server) jsonError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memory.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
