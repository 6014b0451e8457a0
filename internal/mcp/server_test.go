package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/extract"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/search"
	"github.com/vbcherepanov/claude-total-memory/internal/soul"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

func newTestDeps(t *testing.T) (*store.Store, *search.Engine, *soul.Service, *extract.Queue) {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.Open(cfg, nil, nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	queue, err := extract.New(cfg.ExtractQueueDir(), logging.NewNop())
	require.NoError(t, err)

	return st, search.New(st, nil, nil, cfg, logging.NewNop()), soul.New(st, logging.NewNop()), queue
}

func TestNewValidatesDependencies(t *testing.T) {
	st, engine, soulSvc, queue := newTestDeps(t)

	_, err := New(Config{}, nil, engine, soulSvc, queue, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{}, st, nil, soulSvc, queue, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{}, st, engine, nil, queue, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{}, st, engine, soulSvc, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewRegistersTools(t *testing.T) {
	st, engine, soulSvc, queue := newTestDeps(t)

	s, err := New(Config{Registerer: prometheus.NewRegistry()},
		st, engine, soulSvc, queue, nil, logging.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.metrics)
}

func TestMetricsRecordInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordInvocation("memory_save", 5*time.Millisecond, nil)
	m.RecordInvocation("memory_save", 3*time.Millisecond, nil)
	m.RecordInvocation("memory_save", time.Millisecond, errors.New("boom"))

	ok := m.invocations.WithLabelValues("memory_save", "ok")
	failed := m.invocations.WithLabelValues("memory_save", "error")
	assert.InDelta(t, 2.0, testutil.ToFloat64(ok), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(failed), 1e-9)
}

func TestObserveWithoutSession(t *testing.T) {
	st, engine, soulSvc, queue := newTestDeps(t)
	s, err := New(Config{Registerer: prometheus.NewRegistry()},
		st, engine, soulSvc, queue, nil, logging.NewNop())
	require.NoError(t, err)

	// No session attached: observe must not panic and must still count.
	s.observe(context.Background(), "memory_recall", time.Now(), nil, nil)
	assert.Equal(t, "", s.sessionID())
}
