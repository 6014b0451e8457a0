package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	require.NoError(t, cfg.EnsureDirs())

	s, err := Open(cfg, nil, nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setNow pins the store clock and restores it after the test.
func setNow(t *testing.T, ts time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return ts }
	t.Cleanup(func() { timeNow = orig })
}

func mustSave(t *testing.T, s *Store, p SaveParams) int64 {
	t.Helper()
	if p.Type == "" {
		p.Type = memory.TypeFact
	}
	id, dup, err := s.SaveKnowledge(context.Background(), p)
	require.NoError(t, err)
	require.False(t, dup)
	return id
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, dup, err := s.SaveKnowledge(ctx, SaveParams{
		Type:    memory.TypeDecision,
		Content: "Use SQLite WAL mode for concurrent readers",
		Context: "storage layer design",
		Project: "memoryd",
		Tags:    []string{"storage", "sqlite", "storage"},
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Positive(t, id)

	k, err := s.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, memory.TypeDecision, k.Type)
	assert.Equal(t, "Use SQLite WAL mode for concurrent readers", k.Content)
	assert.Equal(t, "memoryd", k.Project)
	assert.Equal(t, []string{"storage", "sqlite"}, k.Tags, "duplicate tags collapse")
	assert.Equal(t, memory.DefaultConfidence, k.Confidence)
	assert.Equal(t, memory.StatusActive, k.Status)
	assert.Equal(t, 1, k.Version)
	assert.Zero(t, k.RecallCount)
}

func TestSaveValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.SaveKnowledge(ctx, SaveParams{Type: memory.TypeFact, Content: "   "})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, _, err = s.SaveKnowledge(ctx, SaveParams{Type: "opinion", Content: "x y z"})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, _, err = s.SaveKnowledge(ctx, SaveParams{Type: memory.TypeFact, Content: "x y z", Confidence: 1.5})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestSaveDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	setNow(t, t0)
	id := mustSave(t, s, SaveParams{
		Content: "The staging database connection string lives in vault under infra/staging",
		Project: "infra",
	})

	// Same content a day later confirms instead of duplicating.
	setNow(t, t0.AddDate(0, 0, 1))
	id2, dup, err := s.SaveKnowledge(ctx, SaveParams{
		Type:    memory.TypeFact,
		Content: "The staging database connection string lives in vault under infra/staging",
		Project: "infra",
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, id, id2)

	k, err := s.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 1), k.LastConfirmed)
	assert.Equal(t, t0, k.CreatedAt, "created_at untouched by confirmation")

	// Same content in another project is a distinct record.
	id3, dup, err := s.SaveKnowledge(ctx, SaveParams{
		Type:    memory.TypeFact,
		Content: "The staging database connection string lives in vault under infra/staging",
		Project: "webapp",
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, id, id3)
}

func TestSaveRedactsSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustSave(t, s, SaveParams{
		Content: "Deploy uses api_key=sk-abc123def456ghi789jkl012 for the billing service",
		Project: "billing",
	})
	k, err := s.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, k.Content, "sk-abc123def456ghi789jkl012")
	assert.Contains(t, k.Content, "[REDACTED]")
}

func TestSupersedeAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustSave(t, s, SaveParams{
		Type:    memory.TypeConvention,
		Content: "All handlers return wrapped sentinel errors",
		Project: "memoryd",
		Tags:    []string{"errors"},
	})

	v2, err := s.Supersede(ctx, id, "All handlers return wrapped sentinel errors; transport maps them to codes", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, id, v2.Supersedes)
	assert.Equal(t, memory.StatusActive, v2.Status)
	assert.Equal(t, []string{"errors"}, v2.Tags, "tags inherited")

	old, err := s.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusSuperseded, old.Status)

	// Updating the superseded version again is a precondition failure.
	_, err = s.Supersede(ctx, id, "stale edit", "", "")
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed)

	v3, err := s.Supersede(ctx, v2.ID, "third revision", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	// History from any chain member yields the whole chain, newest first.
	for _, start := range []int64{id, v2.ID, v3.ID} {
		chain, err := s.History(ctx, start)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, v3.ID, chain[0].ID)
		assert.Equal(t, v2.ID, chain[1].ID)
		assert.Equal(t, id, chain[2].ID)
	}
}

func TestSupersedeRaceKeepsOneActiveHead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustSave(t, s, SaveParams{Content: "Connection pool size is tuned to eight workers"})

	// Two writers race to version the same record. The status re-check
	// inside the write transaction lets exactly one of them through.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			_, err := s.Supersede(ctx, id,
				fmt.Sprintf("Connection pool size is tuned to %d workers", 16+n), "", "")
			results <- err
		}(i)
	}
	var failed int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.ErrorIs(t, err, memory.ErrPreconditionFailed)
			failed++
		}
	}
	assert.Equal(t, 1, failed, "exactly one writer wins")

	var active int
	require.NoError(t, s.db.QueryRow(
		`SELECT count(*) FROM knowledge WHERE status = 'active'`).Scan(&active))
	assert.Equal(t, 1, active, "the chain keeps a single active head")
}

func TestDeleteKnowledge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustSave(t, s, SaveParams{Content: "temporary scratch note for the migration"})
	require.NoError(t, s.DeleteKnowledge(ctx, id))

	_, err := s.GetKnowledge(ctx, id)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	// Purged rows leave the keyword index via the status trigger.
	hits, err := s.KeywordSearch(ctx, "migration scratch", "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.ErrorIs(t, s.DeleteKnowledge(ctx, id), memory.ErrNotFound)
	assert.ErrorIs(t, s.DeleteKnowledge(ctx, 9999), memory.ErrNotFound)
}

func TestKeywordSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	relevant := mustSave(t, s, SaveParams{
		Content: "Postgres connection pooling is handled by pgbouncer in transaction mode",
		Project: "infra",
	})
	mustSave(t, s, SaveParams{
		Content: "Frontend bundle size budget is 250kb gzipped",
		Project: "webapp",
	})

	hits, err := s.KeywordSearch(ctx, "postgres pooling pgbouncer", "", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, relevant, hits[0].Knowledge.ID)

	// Project filter excludes other projects.
	hits, err = s.KeywordSearch(ctx, "postgres pooling", "webapp", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Queries of only short words match nothing rather than erroring.
	hits, err = s.KeywordSearch(ctx, "a an it", "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBranchFilterIncludesUnbranched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	onBranch := mustSave(t, s, SaveParams{
		Content: "Feature flag checkout_v2 guards the new checkout flow",
		Project: "webapp", Branch: "feat/checkout",
	})
	global := mustSave(t, s, SaveParams{
		Content: "Feature flags are served from the config service",
		Project: "webapp",
	})
	mustSave(t, s, SaveParams{
		Content: "Feature flag payments_v3 is permanently enabled",
		Project: "webapp", Branch: "feat/payments",
	})

	hits, err := s.KeywordSearch(ctx, "feature flag", "webapp", "feat/checkout", 10)
	require.NoError(t, err)
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Knowledge.ID)
	}
	assert.ElementsMatch(t, []int64{onBranch, global}, ids)
}

func TestSearchByTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagged := mustSave(t, s, SaveParams{
		Content: "Redis eviction policy is allkeys-lru in production",
		Tags:    []string{"redis", "production-config"},
	})
	mustSave(t, s, SaveParams{
		Content: "Memcached was retired in 2024",
		Tags:    []string{"history"},
	})

	exact, err := s.SearchByTag(ctx, "REDIS", "", false, 10)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, tagged, exact[0].ID)

	// Exact match does not do substrings.
	none, err := s.SearchByTag(ctx, "prod", "", false, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	partial, err := s.SearchByTag(ctx, "prod", "", true, 10)
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, tagged, partial[0].ID)

	_, err = s.SearchByTag(ctx, "  ", "", false, 10)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bug := mustSave(t, s, SaveParams{Type: memory.TypeLesson, Content: "Race in the cache invalidation path under concurrent writes"})
	fix := mustSave(t, s, SaveParams{Type: memory.TypeSolution, Content: "Serialize invalidations through a single goroutine channel"})

	rel, created, err := s.AddRelation(ctx, fix, bug, memory.RelationSolution)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, fix, rel.FromID)

	// Idempotent on repeat.
	rel2, created, err := s.AddRelation(ctx, fix, bug, memory.RelationSolution)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rel.ID, rel2.ID)

	_, _, err = s.AddRelation(ctx, bug, bug, memory.RelationRelated)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, _, err = s.AddRelation(ctx, bug, 9999, memory.RelationRelated)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, _, err = s.AddRelation(ctx, fix, bug, "friendship")
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	// Neighbors sees the edge from both ends.
	nb, err := s.Neighbors(ctx, bug)
	require.NoError(t, err)
	require.Len(t, nb, 1)
	assert.Equal(t, fix, nb[0].ID)

	nb, err = s.Neighbors(ctx, fix)
	require.NoError(t, err)
	require.Len(t, nb, 1)
	assert.Equal(t, bug, nb[0].ID)
}

func TestBumpRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	setNow(t, t0)
	id := mustSave(t, s, SaveParams{Content: "Rollbacks go through the deploy bot, never kubectl directly"})

	setNow(t, t0.AddDate(0, 0, 10))
	require.NoError(t, s.BumpRecall(ctx, []int64{id}))

	k, err := s.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, k.RecallCount)
	assert.Equal(t, t0.AddDate(0, 0, 10), k.LastConfirmed)
}

func TestObservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddObservation(ctx, memory.Observation{
		SessionID: "sess-1",
		ToolName:  "Edit",
		Summary:   "Fixed nil deref in the retry loop",
		Type:      memory.ObservationBugfix,
		FilesAffected: []string{
			"internal/retry/retry.go",
		},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.AddObservation(ctx, memory.Observation{Summary: "x", Type: "guess"})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, err = s.AddObservation(ctx, memory.Observation{Summary: " ", Type: memory.ObservationChange})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	obs, err := s.RecentObservations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, []string{"internal/retry/retry.go"}, obs[0].FilesAffected)
}

func TestForgetSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	setNow(t, t0)

	// Low-confidence, never recalled: archive candidate.
	staleLow, _, err := s.SaveKnowledge(ctx, SaveParams{
		Type: memory.TypeFact, Content: "The old CI runner lives on bare metal", Confidence: 0.5,
	})
	require.NoError(t, err)
	// High confidence protects from archiving.
	staleHigh := mustSave(t, s, SaveParams{Content: "Production deploys require two approvals"})
	// Recalled records are protected too.
	recalled, _, err := s.SaveKnowledge(ctx, SaveParams{
		Type: memory.TypeFact, Content: "Artifacts expire after ninety days in the registry", Confidence: 0.5,
	})
	require.NoError(t, err)
	require.NoError(t, s.BumpRecall(ctx, []int64{recalled}))

	_, err = s.AddObservation(ctx, memory.Observation{
		SessionID: "s", ToolName: "Bash", Summary: "ran migrations", Type: memory.ObservationChange,
	})
	require.NoError(t, err)

	// 200 days later: past archive_after_days (180), short of purge (365).
	setNow(t, t0.AddDate(0, 0, 200))

	dry, err := s.Forget(ctx, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, []int64{staleLow}, dry.ArchivedIDs)
	assert.Empty(t, dry.PurgedIDs)
	assert.Equal(t, 1, dry.ObservationsDeleted)

	// Dry run changed nothing.
	k, err := s.GetKnowledge(ctx, staleLow)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusActive, k.Status)

	res, err := s.Forget(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{staleLow}, res.ArchivedIDs)
	assert.Equal(t, 1, res.ObservationsDeleted)

	k, err = s.GetKnowledge(ctx, staleLow)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusArchived, k.Status)
	for _, id := range []int64{staleHigh, recalled} {
		k, err := s.GetKnowledge(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, memory.StatusActive, k.Status)
	}

	obs, err := s.RecentObservations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, obs)

	// Another 400 days: the archived record crosses purge_after_days.
	setNow(t, t0.AddDate(0, 0, 600))
	res, err = s.Forget(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{staleLow}, res.PurgedIDs)

	_, err = s.GetKnowledge(ctx, staleLow)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestForgetLeavesSupersededAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	setNow(t, t0)
	old, _, err := s.SaveKnowledge(ctx, SaveParams{
		Type: memory.TypeFact, Content: "API rate limit is one hundred requests per minute", Confidence: 0.5,
	})
	require.NoError(t, err)
	_, err = s.Supersede(ctx, old, "API rate limit is two hundred requests per minute", "", "")
	require.NoError(t, err)

	setNow(t, t0.AddDate(0, 0, 400))
	res, err := s.Forget(ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, res.ArchivedIDs, old)

	k, err := s.GetKnowledge(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusSuperseded, k.Status)
}

func TestConsolidate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	setNow(t, t0)
	older := mustSave(t, s, SaveParams{
		Content: "Deploy the billing service with the canary pipeline before full rollout",
		Project: "billing",
	})
	seed := mustSave(t, s, SaveParams{
		Content: "Rollout strategy notes pending review",
		Project: "billing",
	})
	unrelated := mustSave(t, s, SaveParams{
		Content: "Invoices render with the wkhtmltopdf sidecar",
		Project: "billing",
	})

	// An edit drifts a record into near-duplicate territory; updates skip the
	// save-path dedup, so consolidation is what catches it.
	setNow(t, t0.AddDate(0, 0, 5))
	v2, err := s.Supersede(ctx, seed,
		"Deploy the billing service with the canary pipeline before any full rollout", "", "")
	require.NoError(t, err)
	newer := v2.ID

	setNow(t, t0.AddDate(0, 0, 6))
	groups, err := s.Consolidate(ctx, "billing", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, newer, groups[0].KeeperID, "most recently confirmed wins")
	assert.Equal(t, []int64{older}, groups[0].MergedIDs)

	// Dry run left both active.
	k, err := s.GetKnowledge(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusActive, k.Status)

	groups, err = s.Consolidate(ctx, "billing", false)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	k, err = s.GetKnowledge(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusArchived, k.Status)

	keeper, err := s.GetKnowledge(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusActive, keeper.Status)
	assert.Equal(t, t0.AddDate(0, 0, 6), keeper.LastConfirmed)

	rels, err := s.Relations(ctx, older)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, memory.RelationRelated, rels[0].Type)
	assert.Equal(t, newer, rels[0].ToID)

	ku, err := s.GetKnowledge(ctx, unrelated)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusActive, ku.Status)
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	setNow(t, t0)
	fresh := mustSave(t, s, SaveParams{Type: memory.TypeDecision, Content: "Keep the monolith until the team doubles", Project: "platform"})
	mustSave(t, s, SaveParams{Content: "The build cache key includes the Go version", Project: "platform"})

	setNow(t, t0.AddDate(0, 0, 100))
	require.NoError(t, s.BumpRecall(ctx, []int64{fresh}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalKnowledge)
	assert.Equal(t, 1, st.ByType["decision"])
	assert.Equal(t, 2, st.ByStatus["active"])
	assert.Equal(t, 2, st.ByProject["platform"])
	// One stale (unconfirmed for >90d) and one never recalled, of two active.
	assert.Equal(t, 1, st.StaleActive)
	assert.Equal(t, 1, st.NeverRecalled)
	assert.InDelta(t, 1.0-0.5*0.5-0.5*0.3, st.HealthScore, 1e-9)
	assert.Positive(t, st.StorageBytes)
}

func TestHealthScoreBounds(t *testing.T) {
	assert.Equal(t, 1.0, healthScore(0, 0, 0))
	assert.Equal(t, 1.0, healthScore(10, 0, 0))
	assert.Equal(t, 0.0, healthScore(10, 10, 10))
}

func TestExport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustSave(t, s, SaveParams{Content: "Exports are plain JSON snapshots"})
	purged := mustSave(t, s, SaveParams{Content: "This one gets purged before export"})
	require.NoError(t, s.DeleteKnowledge(ctx, purged))

	// The self-improvement tables travel with the snapshot too.
	now := formatTime(timeNow())
	_, err := s.db.Exec(`
		INSERT INTO errors (description, category, severity, fix, project, created_at)
		VALUES ('flag was off in staging', 'config_error', 'medium', '', 'infra', ?)`, now)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO insights (content, category, source_error_ids, created_at)
		VALUES ('Check staging flags before deploying', 'config_error', '[1]', ?)`, now)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO rules (content, project, fire_count, success_count, created_at)
		VALUES ('Verify feature flags per environment', 'infra', 4, 3, ?)`, now)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO reflections (reflection, created_at)
		VALUES ('Read the deploy checklist first', ?)`, now)
	require.NoError(t, err)

	snap, path, err := s.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Knowledge, 1)
	assert.Equal(t, id, snap.Knowledge[0].ID)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "config_error", snap.Errors[0].Category)
	require.Len(t, snap.Insights, 1)
	assert.JSONEq(t, "[1]", string(snap.Insights[0].SourceErrorIDs))
	require.Len(t, snap.Rules, 1)
	assert.Equal(t, 4, snap.Rules[0].FireCount)
	require.Len(t, snap.Reflections, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Exports are plain JSON snapshots")
	assert.Contains(t, string(data), "Verify feature flags per environment")
	assert.Equal(t, filepath.Dir(path), s.cfg.ExportDir())
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := memory.Session{ID: "sess-42", StartedAt: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), Project: "memoryd"}
	require.NoError(t, s.StartSession(ctx, sess))
	require.NoError(t, s.BumpToolCalls(ctx, "sess-42"))
	require.NoError(t, s.BumpToolCalls(ctx, "sess-42"))

	got, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ToolCallCount)
	assert.Equal(t, sess.StartedAt, got[0].StartedAt)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"postgres" OR "pooling"`, ftsQuery("postgres is pooling"))
	assert.Empty(t, ftsQuery("a an it"))
	assert.Empty(t, ftsQuery(""))
	// Quotes inside terms are stripped, not allowed to break the expression.
	assert.NotContains(t, ftsQuery(`weird"term here`), `"""`)
}

func TestGetKnowledgeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetKnowledge(context.Background(), 12345)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	assert.True(t, errors.Is(err, memory.ErrNotFound))
}
