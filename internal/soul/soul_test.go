package soul

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	require.NoError(t, cfg.EnsureDirs())
	st, err := store.Open(cfg, nil, nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logging.NewNop())
}

func logErr(t *testing.T, s *Service, cat ErrorCategory, desc string) (ErrorEntry, bool, *Insight) {
	t.Helper()
	e, detected, ins, err := s.LogError(context.Background(), ErrorEntry{
		Description: desc, Category: cat, Severity: SeverityMedium,
	})
	require.NoError(t, err)
	return e, detected, ins
}

func TestLogErrorValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, _, _, err := s.LogError(ctx, ErrorEntry{Description: " ", Category: CategoryTimeout})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, _, _, err = s.LogError(ctx, ErrorEntry{Description: "x", Category: "oops"})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, _, _, err = s.LogError(ctx, ErrorEntry{Description: "x", Category: CategoryTimeout, Severity: "fatal"})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	// Empty severity defaults to medium.
	e, _, _, err := s.LogError(ctx, ErrorEntry{Description: "slow fetch", Category: CategoryTimeout})
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, e.Severity)
}

func TestPatternDetection(t *testing.T) {
	s := newTestService(t)

	_, detected, ins := logErr(t, s, CategoryWrongAssumption, "assumed the cache was warm")
	assert.False(t, detected, "one occurrence is not a pattern")
	assert.Nil(t, ins)
	_, detected, ins = logErr(t, s, CategoryWrongAssumption, "assumed the flag was enabled")
	assert.False(t, detected)
	assert.Nil(t, ins)
	// Different category does not contribute.
	_, detected, ins = logErr(t, s, CategoryTimeout, "request timed out")
	assert.False(t, detected)
	assert.Nil(t, ins)

	_, detected, ins = logErr(t, s, CategoryWrongAssumption, "assumed the schema was migrated")
	assert.True(t, detected, "third same-category error crosses the threshold")
	require.NotNil(t, ins)
	assert.Equal(t, CategoryWrongAssumption, ins.Category)
	assert.Equal(t, initialImportance, ins.Importance)
	assert.Equal(t, initialConfidence, ins.Confidence)
	assert.Equal(t, InsightCandidate, ins.Status)
	assert.Len(t, ins.SourceErrorIDs, 3)

	// A live insight covers the category: the pattern still reports, but no
	// duplicate insight is minted on the fourth.
	_, detected, again := logErr(t, s, CategoryWrongAssumption, "assumed the test suite was green")
	assert.True(t, detected, "the pattern persists while the errors repeat")
	assert.Nil(t, again)
}

func TestPatternIgnoresOldErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Two old occurrences outside the window.
	old := store.FormatTime(time.Now().AddDate(0, 0, -patternWindowDays-5))
	for i := 0; i < 2; i++ {
		_, err := s.store.Reader().ExecContext(ctx, `
			INSERT INTO errors (description, category, severity, fix, project, created_at)
			VALUES ('stale', 'api_error', 'low', '', 'general', ?)`, old)
		require.NoError(t, err)
	}

	_, detected, ins := logErr(t, s, CategoryAPIError, "rate limited again")
	assert.False(t, detected, "old occurrences do not count toward the window")
	assert.Nil(t, ins)
}

func TestAddInsightLinksSourceErrors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	e1, _, _ := logErr(t, s, CategoryConfigError, "missing env var in staging")
	e2, _, _ := logErr(t, s, CategoryConfigError, "stale config map after rollout")

	ins, err := s.AddInsight(ctx, "Audit config before every staging deploy",
		CategoryConfigError, []int64{e1.ID, e2.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{e1.ID, e2.ID}, ins.SourceErrorIDs)

	got, err := s.GetInsight(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{e1.ID, e2.ID}, got.SourceErrorIDs)

	// Omitted sources stay an empty list, never null.
	bare, err := s.AddInsight(ctx, "Prefer explicit defaults", CategoryConfigError, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{}, bare.SourceErrorIDs)

	_, err = s.AddInsight(ctx, "  ", CategoryConfigError, nil)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestInsightVoting(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		logErr(t, s, CategoryLoopDetected, fmt.Sprintf("looped on retry %d", i))
	}
	all, err := s.Insights(ctx, InsightCandidate)
	require.NoError(t, err)
	require.Len(t, all, 1)
	id := all[0].ID

	up, err := s.VoteInsight(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, initialImportance+1, up.Importance)
	assert.InDelta(t, initialConfidence+voteConfidenceStep, up.Confidence, 1e-9)

	down, err := s.VoteInsight(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, initialImportance, down.Importance)

	// Down to zero importance archives for good.
	var last Insight
	for i := 0; i < initialImportance; i++ {
		last, err = s.VoteInsight(ctx, id, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, last.Importance)
	assert.Equal(t, InsightArchived, last.Status)

	_, err = s.VoteInsight(ctx, id, true)
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed, "archived is terminal")

	_, err = s.VoteInsight(ctx, 9999, true)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestPromotionGate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		logErr(t, s, CategoryConfigError, fmt.Sprintf("bad env var %d", i))
	}
	all, err := s.Insights(ctx, InsightCandidate)
	require.NoError(t, err)
	id := all[0].ID

	// Fresh insights are below both thresholds.
	_, err = s.PromoteInsight(ctx, id, "infra")
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed)

	// Six upvotes: importance 8, confidence 0.8.
	for i := 0; i < 6; i++ {
		_, err = s.VoteInsight(ctx, id, true)
		require.NoError(t, err)
	}

	rule, err := s.PromoteInsight(ctx, id, "infra")
	require.NoError(t, err)
	assert.Equal(t, RuleActive, rule.Status)
	assert.Equal(t, "infra", rule.Project)
	assert.Equal(t, id, rule.FromInsight)

	ins, err := s.GetInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, InsightPromoted, ins.Status)

	// Promoted is terminal: no double promotion, no more votes.
	_, err = s.PromoteInsight(ctx, id, "infra")
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed)
	_, err = s.VoteInsight(ctx, id, true)
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed)
}

func promotedRule(t *testing.T, s *Service, cat ErrorCategory, project string) Rule {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		logErr(t, s, cat, fmt.Sprintf("%s occurrence %d", cat, i))
	}
	all, err := s.Insights(ctx, InsightCandidate)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	id := all[0].ID
	for i := 0; i < 6; i++ {
		_, err = s.VoteInsight(ctx, id, true)
		require.NoError(t, err)
	}
	rule, err := s.PromoteInsight(ctx, id, project)
	require.NoError(t, err)
	return rule
}

func TestRuleFireCountsIndependentOfOutcome(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	rule := promotedRule(t, s, CategoryTimeout, "general")

	r, err := s.FireRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.FireCount)
	assert.Equal(t, 0, r.SuccessCount)
	assert.Equal(t, 0, r.Applications)

	// Rating moves success and applications, never the fire count.
	r, err = s.RateRule(ctx, rule.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, r.FireCount)
	assert.Equal(t, 1, r.SuccessCount)
	assert.Equal(t, 1, r.Applications)

	r, err = s.RateRule(ctx, rule.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, r.FireCount)
	assert.Equal(t, 1, r.SuccessCount)
	assert.Equal(t, 2, r.Applications)

	_, err = s.FireRule(ctx, 9999)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestRuleAutoSuspend(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	rule := promotedRule(t, s, CategoryCodeError, "general")

	// Nine fires and failing ratings: below the minimum fire count, no
	// suspension no matter how bad the rate is.
	var r Rule
	var err error
	for i := 0; i < 9; i++ {
		_, err = s.FireRule(ctx, rule.ID)
		require.NoError(t, err)
		r, err = s.RateRule(ctx, rule.ID, false)
		require.NoError(t, err)
		assert.Equal(t, RuleActive, r.Status, "no suspension before ten fires")
	}

	// The tenth fire plus one more failing rating crosses the floor.
	_, err = s.FireRule(ctx, rule.ID)
	require.NoError(t, err)
	r, err = s.RateRule(ctx, rule.ID, false)
	require.NoError(t, err)
	assert.Equal(t, RuleSuspended, r.Status)
	assert.Equal(t, 10, r.FireCount)

	_, err = s.FireRule(ctx, rule.ID)
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed, "suspended rules do not fire")
	_, err = s.RateRule(ctx, rule.ID, true)
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed, "suspended rules do not accept ratings")
}

func TestRuleKeepsWorkingAboveFloor(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	rule := promotedRule(t, s, CategoryLogicError, "general")

	var r Rule
	var err error
	for i := 0; i < 12; i++ {
		_, err = s.FireRule(ctx, rule.ID)
		require.NoError(t, err)
		r, err = s.RateRule(ctx, rule.ID, i%2 == 0)
		require.NoError(t, err)
	}
	assert.Equal(t, RuleActive, r.Status)
	assert.InDelta(t, 0.5, r.SuccessRate(), 1e-9)
}

func TestRuleManualTransitions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	rule := promotedRule(t, s, CategoryMissingContext, "general")

	r, err := s.SetRuleStatus(ctx, rule.ID, RuleSuspended)
	require.NoError(t, err)
	assert.Equal(t, RuleSuspended, r.Status)

	// Suspension is reversible.
	r, err = s.SetRuleStatus(ctx, rule.ID, RuleActive)
	require.NoError(t, err)
	assert.Equal(t, RuleActive, r.Status)

	r, err = s.SetRuleStatus(ctx, rule.ID, RuleRetired)
	require.NoError(t, err)
	assert.Equal(t, RuleRetired, r.Status)

	// Retired is terminal.
	_, err = s.SetRuleStatus(ctx, rule.ID, RuleActive)
	assert.ErrorIs(t, err, memory.ErrPreconditionFailed)

	_, err = s.SetRuleStatus(ctx, rule.ID, "frozen")
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, err = s.SetRuleStatus(ctx, 9999, RuleRetired)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestTransitionTables(t *testing.T) {
	assert.True(t, CanInsightTransition(InsightCandidate, InsightArchived))
	assert.True(t, CanInsightTransition(InsightCandidate, InsightPromoted))
	assert.False(t, CanInsightTransition(InsightArchived, InsightCandidate))
	assert.False(t, CanInsightTransition(InsightPromoted, InsightCandidate))

	assert.True(t, CanRuleTransition(RuleActive, RuleSuspended))
	assert.True(t, CanRuleTransition(RuleSuspended, RuleActive))
	assert.True(t, CanRuleTransition(RuleSuspended, RuleRetired))
	assert.False(t, CanRuleTransition(RuleRetired, RuleActive))
	assert.False(t, CanRuleTransition(RuleActive, RuleActive))
}

func TestRulesContext(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := store.FormatTime(time.Now())

	insert := func(content, project, status string, fires, successes int) {
		_, err := s.store.Reader().ExecContext(ctx, `
			INSERT INTO rules (content, project, status, fire_count, success_count, created_at)
			VALUES (?,?,?,?,?,?)`, content, project, status, fires, successes, now)
		require.NoError(t, err)
	}
	insert("Always check the migration state first", "general", "active", 10, 9)
	insert("Pin toolchain versions in CI", "webapp", "active", 0, 0)
	insert("Use the legacy formatter", "webapp", "suspended", 10, 1)
	insert("Other project rule", "billing", "active", 5, 5)

	out, err := s.RulesContext(ctx, "webapp")
	require.NoError(t, err)
	assert.Contains(t, out, "Always check the migration state first")
	assert.Contains(t, out, "worked 9/10 times")
	assert.Contains(t, out, "Pin toolchain versions in CI")
	assert.NotContains(t, out, "legacy formatter")
	assert.NotContains(t, out, "Other project rule")

	// Serving the context is read-only: applications move on ratings only.
	rules, err := s.Rules(ctx, "webapp", RuleActive)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 0, rules[0].Applications)

	// No rules, no block.
	empty, err := s.RulesContext(ctx, "emptyproj")
	require.NoError(t, err)
	assert.Contains(t, empty, "migration state", "general rules apply everywhere")
}

func TestPatterns(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	logErr(t, s, CategoryTimeout, "slow upstream")
	logErr(t, s, CategoryTimeout, "slower upstream")
	logErr(t, s, CategoryCodeError, "off by one")

	// Outside the window: invisible.
	old := store.FormatTime(time.Now().AddDate(0, 0, -patternWindowDays-1))
	_, err := s.store.Reader().ExecContext(ctx, `
		INSERT INTO errors (description, category, severity, fix, project, created_at)
		VALUES ('ancient', 'timeout', 'low', '', 'general', ?)`, old)
	require.NoError(t, err)

	got, err := s.Patterns(ctx, ViewErrors)
	require.NoError(t, err)
	report, ok := got.(ErrorReport)
	require.True(t, ok)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.ByCategory["timeout"])
	assert.Equal(t, 1, report.ByCategory["code_error"])
	assert.Equal(t, "timeout", report.TopCategory)

	// Empty view means errors.
	got, err = s.Patterns(ctx, "")
	require.NoError(t, err)
	_, ok = got.(ErrorReport)
	assert.True(t, ok)

	_, err = s.Patterns(ctx, "vibes")
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestPatternsTrend(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Three errors last week, one this week.
	lastWeek := store.FormatTime(time.Now().AddDate(0, 0, -10))
	for i := 0; i < 3; i++ {
		_, err := s.store.Reader().ExecContext(ctx, `
			INSERT INTO errors (description, category, severity, fix, project, created_at)
			VALUES ('older', 'timeout', 'low', '', 'general', ?)`, lastWeek)
		require.NoError(t, err)
	}
	logErr(t, s, CategoryTimeout, "fresh one")

	got, err := s.Patterns(ctx, ViewTrend)
	require.NoError(t, err)
	trend, ok := got.(TrendReport)
	require.True(t, ok)
	assert.Equal(t, 1, trend.ThisWeek)
	assert.Equal(t, 3, trend.LastWeek)
	assert.Equal(t, -2, trend.Delta)
	assert.Equal(t, "improving", trend.Reading)
}

func TestPatternsCandidatesAndEffectiveness(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	rule := promotedRule(t, s, CategoryAPIError, "general")
	_, err := s.FireRule(ctx, rule.ID)
	require.NoError(t, err)
	_, err = s.RateRule(ctx, rule.ID, true)
	require.NoError(t, err)

	got, err := s.Patterns(ctx, ViewEffectiveness)
	require.NoError(t, err)
	eff, ok := got.([]RuleEffectiveness)
	require.True(t, ok)
	require.Len(t, eff, 1)
	assert.Equal(t, 1.0, eff[0].SuccessRate)

	// The promoted insight left the candidate pool.
	got, err = s.Patterns(ctx, ViewCandidates)
	require.NoError(t, err)
	cands, ok := got.([]Insight)
	require.True(t, ok)
	assert.Empty(t, cands)
}

func TestReflect(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	r, err := s.Reflect(ctx, Reflection{
		Reflection:  "Should have read the failing test before editing the implementation",
		TaskSummary: "fix flaky auth test",
		Outcome:     "success",
		Project:     "webapp",
	})
	require.NoError(t, err)
	assert.Positive(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	_, err = s.Reflect(ctx, Reflection{Reflection: "  "})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}
