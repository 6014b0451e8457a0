package soul

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/sanitize"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

// Service runs the pipeline over the shared store.
type Service struct {
	store  *store.Store
	logger *logging.Logger
}

// New builds a Service.
func New(st *store.Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, logger: logger.Named("soul")}
}

// LogError records a failure and checks the repetition gate. The returned
// bool reports whether the category has repeated enough inside the window; on
// top of that, when no live insight covers the category yet, a candidate
// insight is minted and returned.
func (s *Service) LogError(ctx context.Context, e ErrorEntry) (ErrorEntry, bool, *Insight, error) {
	if strings.TrimSpace(e.Description) == "" {
		return ErrorEntry{}, false, nil, fmt.Errorf("%w: description must not be empty", memory.ErrInvalidArgument)
	}
	var err error
	if e.Category, err = ParseErrorCategory(string(e.Category)); err != nil {
		return ErrorEntry{}, false, nil, err
	}
	if e.Severity, err = ParseSeverity(string(e.Severity)); err != nil {
		return ErrorEntry{}, false, nil, err
	}
	e.Description = sanitize.Text(e.Description)
	e.Fix = sanitize.Text(e.Fix)
	e.Project = sanitize.Identifier(e.Project)

	now := s.store.Now()
	e.CreatedAt = now

	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO errors (description, category, severity, fix, project, created_at)
			VALUES (?,?,?,?,?,?)`,
			e.Description, string(e.Category), string(e.Severity), e.Fix, e.Project,
			store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting error: %v", memory.ErrStorageFailure, err)
		}
		e.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	if err != nil {
		return ErrorEntry{}, false, nil, err
	}

	detected, insight, err := s.detectPattern(ctx, e.Category)
	if err != nil {
		return ErrorEntry{}, false, nil, err
	}
	return e, detected, insight, nil
}

// detectPattern reports whether the category crossed the repetition threshold
// inside the window, and mints a candidate insight when no live insight
// already covers it. The signal stays true while the pattern persists, even
// after an insight exists.
func (s *Service) detectPattern(ctx context.Context, cat ErrorCategory) (bool, *Insight, error) {
	cutoff := store.FormatTime(s.store.Now().AddDate(0, 0, -patternWindowDays))

	ids, err := s.int64List(ctx, `
		SELECT id FROM errors WHERE category = ? AND created_at >= ? ORDER BY id`,
		string(cat), cutoff)
	if err != nil {
		return false, nil, err
	}
	if len(ids) < patternThreshold {
		return false, nil, nil
	}

	var covered int
	err = s.store.Reader().QueryRowContext(ctx, `
		SELECT count(*) FROM insights WHERE category = ? AND status != 'archived' AND created_at >= ?`,
		string(cat), cutoff).Scan(&covered)
	if err != nil {
		return false, nil, fmt.Errorf("%w: checking insight coverage: %v", memory.ErrStorageFailure, err)
	}
	if covered > 0 {
		return true, nil, nil
	}

	content := fmt.Sprintf("Errors of category %s repeated %d times in the last %d days; review the common cause.",
		cat, len(ids), patternWindowDays)
	sourceJSON, _ := json.Marshal(ids)
	now := s.store.Now()

	ins := Insight{
		Content:        content,
		Category:       cat,
		Importance:     initialImportance,
		Confidence:     initialConfidence,
		SourceErrorIDs: ids,
		Status:         InsightCandidate,
		CreatedAt:      now,
	}
	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO insights (content, category, importance, confidence, source_error_ids, status, created_at)
			VALUES (?,?,?,?,?,'candidate',?)`,
			content, string(cat), initialImportance, initialConfidence, string(sourceJSON),
			store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting insight: %v", memory.ErrStorageFailure, err)
		}
		ins.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	s.logger.Info("error pattern detected",
		zap.String("category", string(cat)),
		zap.Int("occurrences", len(ids)),
		zap.Int64("insight_id", ins.ID),
	)
	return true, &ins, nil
}

// AddInsight stores a hand-written candidate insight, entering the pipeline
// at the same starting importance and confidence as detected ones. sourceIDs
// links it to the error records it derives from.
func (s *Service) AddInsight(ctx context.Context, content string, cat ErrorCategory, sourceIDs []int64) (Insight, error) {
	if strings.TrimSpace(content) == "" {
		return Insight{}, fmt.Errorf("%w: content must not be empty", memory.ErrInvalidArgument)
	}
	var err error
	if cat, err = ParseErrorCategory(string(cat)); err != nil {
		return Insight{}, err
	}
	if sourceIDs == nil {
		sourceIDs = []int64{}
	}
	sourceJSON, _ := json.Marshal(sourceIDs)
	now := s.store.Now()
	ins := Insight{
		Content:        sanitize.Text(content),
		Category:       cat,
		Importance:     initialImportance,
		Confidence:     initialConfidence,
		SourceErrorIDs: sourceIDs,
		Status:         InsightCandidate,
		CreatedAt:      now,
	}
	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO insights (content, category, importance, confidence, source_error_ids, status, created_at)
			VALUES (?,?,?,?,?,'candidate',?)`,
			ins.Content, string(cat), initialImportance, initialConfidence,
			string(sourceJSON), store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting insight: %v", memory.ErrStorageFailure, err)
		}
		ins.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	return ins, err
}

// VoteInsight moves a candidate insight up or down. Downvoting to zero
// importance archives it for good.
func (s *Service) VoteInsight(ctx context.Context, id int64, up bool) (Insight, error) {
	ins, err := s.GetInsight(ctx, id)
	if err != nil {
		return Insight{}, err
	}
	if ins.Status != InsightCandidate {
		return Insight{}, fmt.Errorf("%w: insight %d is %s, only candidates accept votes",
			memory.ErrPreconditionFailed, id, ins.Status)
	}

	if up {
		ins.Importance += voteImportanceStep
		ins.Confidence += voteConfidenceStep
	} else {
		ins.Importance -= voteImportanceStep
		ins.Confidence -= voteConfidenceStep
	}
	if ins.Confidence > 1 {
		ins.Confidence = 1
	}
	if ins.Confidence < 0 {
		ins.Confidence = 0
	}
	if ins.Importance <= 0 {
		ins.Importance = 0
		ins.Status = InsightArchived
	}

	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE insights SET importance = ?, confidence = ?, status = ? WHERE id = ?`,
			ins.Importance, ins.Confidence, string(ins.Status), id)
		if err != nil {
			return fmt.Errorf("%w: updating insight %d: %v", memory.ErrStorageFailure, id, err)
		}
		return nil
	})
	return ins, err
}

// PromoteInsight turns a sufficiently voted-up candidate into an active rule.
func (s *Service) PromoteInsight(ctx context.Context, id int64, project string) (Rule, error) {
	ins, err := s.GetInsight(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if !CanInsightTransition(ins.Status, InsightPromoted) {
		return Rule{}, fmt.Errorf("%w: insight %d is %s", memory.ErrPreconditionFailed, id, ins.Status)
	}
	if ins.Importance < promoteImportanceMin || ins.Confidence < promoteConfidenceMin {
		return Rule{}, fmt.Errorf("%w: insight %d has importance %d and confidence %.2f, needs %d and %.2f",
			memory.ErrPreconditionFailed, id, ins.Importance, ins.Confidence,
			promoteImportanceMin, promoteConfidenceMin)
	}

	project = sanitize.Identifier(project)
	now := s.store.Now()
	rule := Rule{
		Content:     ins.Content,
		Project:     project,
		Status:      RuleActive,
		FromInsight: id,
		CreatedAt:   now,
	}
	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rules (content, project, status, created_from_insight_id, created_at)
			VALUES (?,?,'active',?,?)`,
			rule.Content, project, id, store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting rule: %v", memory.ErrStorageFailure, err)
		}
		rule.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE insights SET status = 'promoted' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("%w: promoting insight %d: %v", memory.ErrStorageFailure, id, err)
		}
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	s.logger.Info("insight promoted to rule",
		zap.Int64("insight_id", id), zap.Int64("rule_id", rule.ID))
	return rule, nil
}

// FireRule counts one application of a rule during work, independent of how
// it turns out. The outcome is rated separately.
func (s *Service) FireRule(ctx context.Context, id int64) (Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if rule.Status != RuleActive {
		return Rule{}, fmt.Errorf("%w: rule %d is %s, only active rules fire",
			memory.ErrPreconditionFailed, id, rule.Status)
	}

	rule.FireCount++
	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE rules SET fire_count = ? WHERE id = ?`, rule.FireCount, id)
		if err != nil {
			return fmt.Errorf("%w: updating rule %d: %v", memory.ErrStorageFailure, id, err)
		}
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// RateRule records whether an applied rule helped. Every rating counts as an
// application; a rule failing most of its fires suspends itself after the
// rating.
func (s *Service) RateRule(ctx context.Context, id int64, success bool) (Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if rule.Status != RuleActive {
		return Rule{}, fmt.Errorf("%w: rule %d is %s, only active rules accept ratings",
			memory.ErrPreconditionFailed, id, rule.Status)
	}

	if success {
		rule.SuccessCount++
	}
	rule.Applications++
	autoSuspended := rule.FireCount >= suspendMinFires && rule.SuccessRate() < suspendSuccessFloor
	if autoSuspended {
		rule.Status = RuleSuspended
	}

	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE rules SET success_count = ?, applications = ?, status = ? WHERE id = ?`,
			rule.SuccessCount, rule.Applications, string(rule.Status), id)
		if err != nil {
			return fmt.Errorf("%w: updating rule %d: %v", memory.ErrStorageFailure, id, err)
		}
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	if autoSuspended {
		s.logger.Warn("rule auto-suspended for low success rate",
			zap.Int64("rule_id", id),
			zap.Int("fires", rule.FireCount),
			zap.Float64("success_rate", rule.SuccessRate()),
		)
	}
	return rule, nil
}

// SetRuleStatus applies a manual lifecycle transition.
func (s *Service) SetRuleStatus(ctx context.Context, id int64, to RuleStatus) (Rule, error) {
	if _, err := ParseRuleStatus(string(to)); err != nil {
		return Rule{}, err
	}
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if !CanRuleTransition(rule.Status, to) {
		return Rule{}, fmt.Errorf("%w: rule %d cannot move from %s to %s",
			memory.ErrPreconditionFailed, id, rule.Status, to)
	}
	err = s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE rules SET status = ? WHERE id = ?`, string(to), id)
		if err != nil {
			return fmt.Errorf("%w: updating rule %d: %v", memory.ErrStorageFailure, id, err)
		}
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	rule.Status = to
	return rule, nil
}

// RulesContext renders the active rules for a project (plus project-agnostic
// ones) as a block ready for prompt injection. Serving the block is not an
// application; fires and ratings are reported explicitly.
func (s *Service) RulesContext(ctx context.Context, project string) (string, error) {
	project = sanitize.Identifier(project)
	rules, err := s.queryRules(ctx, `
		SELECT id, content, project, status, fire_count, success_count, applications,
		       COALESCE(created_from_insight_id, 0), created_at
		FROM rules
		WHERE status = 'active' AND project IN (?, 'general')
		ORDER BY CASE WHEN fire_count = 0 THEN 0.5
		              ELSE CAST(success_count AS REAL) / fire_count END DESC, id`,
		project)
	if err != nil {
		return "", err
	}
	if len(rules) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Active rules\n")
	for _, r := range rules {
		if r.FireCount > 0 {
			fmt.Fprintf(&b, "- [rule %d] %s (worked %d/%d times)\n",
				r.ID, r.Content, r.SuccessCount, r.FireCount)
			continue
		}
		fmt.Fprintf(&b, "- [rule %d] %s\n", r.ID, r.Content)
	}
	return b.String(), nil
}

// PatternView selects what Patterns reports.
type PatternView string

const (
	ViewErrors        PatternView = "errors"
	ViewCandidates    PatternView = "candidates"
	ViewEffectiveness PatternView = "effectiveness"
	ViewTrend         PatternView = "trend"
)

// ErrorReport summarizes error volume by category over the pattern window.
type ErrorReport struct {
	WindowDays  int            `json:"window_days"`
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"by_category"`
	TopCategory string         `json:"top_category,omitempty"`
}

// TrendReport compares the two most recent 7-day windows.
type TrendReport struct {
	ThisWeek int    `json:"this_week"`
	LastWeek int    `json:"last_week"`
	Delta    int    `json:"delta"`
	Reading  string `json:"reading"`
}

// RuleEffectiveness is one rule's live track record.
type RuleEffectiveness struct {
	Rule        Rule    `json:"rule"`
	SuccessRate float64 `json:"success_rate"`
}

// Patterns reports on the pipeline from the requested angle. Empty view
// means errors.
func (s *Service) Patterns(ctx context.Context, view PatternView) (any, error) {
	switch view {
	case "", ViewErrors:
		return s.errorReport(ctx)
	case ViewCandidates:
		return s.Insights(ctx, InsightCandidate)
	case ViewEffectiveness:
		rules, err := s.Rules(ctx, "", "")
		if err != nil {
			return nil, err
		}
		out := make([]RuleEffectiveness, 0, len(rules))
		for _, r := range rules {
			out = append(out, RuleEffectiveness{Rule: r, SuccessRate: r.SuccessRate()})
		}
		return out, nil
	case ViewTrend:
		return s.trendReport(ctx)
	}
	return nil, fmt.Errorf("%w: unknown patterns view %q", memory.ErrInvalidArgument, view)
}

func (s *Service) errorReport(ctx context.Context) (ErrorReport, error) {
	cutoff := store.FormatTime(s.store.Now().AddDate(0, 0, -patternWindowDays))
	report := ErrorReport{WindowDays: patternWindowDays, ByCategory: map[string]int{}}

	rows, err := s.store.Reader().QueryContext(ctx, `
		SELECT category, count(*) FROM errors WHERE created_at >= ? GROUP BY category`,
		cutoff)
	if err != nil {
		return report, fmt.Errorf("%w: grouping errors: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return report, fmt.Errorf("%w: scanning category count: %v", memory.ErrStorageFailure, err)
		}
		report.ByCategory[cat] = n
		report.Total += n
		if report.TopCategory == "" || n > report.ByCategory[report.TopCategory] {
			report.TopCategory = cat
		}
	}
	return report, rows.Err()
}

func (s *Service) trendReport(ctx context.Context) (TrendReport, error) {
	now := s.store.Now()
	var report TrendReport
	count := func(from, to time.Time) (int, error) {
		var n int
		err := s.store.Reader().QueryRowContext(ctx, `
			SELECT count(*) FROM errors WHERE created_at >= ? AND created_at < ?`,
			store.FormatTime(from), store.FormatTime(to)).Scan(&n)
		return n, err
	}
	var err error
	if report.ThisWeek, err = count(now.AddDate(0, 0, -7), now.Add(time.Second)); err != nil {
		return report, fmt.Errorf("%w: counting this week: %v", memory.ErrStorageFailure, err)
	}
	if report.LastWeek, err = count(now.AddDate(0, 0, -14), now.AddDate(0, 0, -7)); err != nil {
		return report, fmt.Errorf("%w: counting last week: %v", memory.ErrStorageFailure, err)
	}
	report.Delta = report.ThisWeek - report.LastWeek
	switch {
	case report.Delta < 0:
		report.Reading = "improving"
	case report.Delta > 0:
		report.Reading = "regressing"
	default:
		report.Reading = "flat"
	}
	return report, nil
}

// Reflect stores an end-of-task retrospective.
func (s *Service) Reflect(ctx context.Context, r Reflection) (Reflection, error) {
	if strings.TrimSpace(r.Reflection) == "" {
		return Reflection{}, fmt.Errorf("%w: reflection must not be empty", memory.ErrInvalidArgument)
	}
	r.Reflection = sanitize.Text(r.Reflection)
	r.TaskSummary = sanitize.Text(r.TaskSummary)
	r.Project = sanitize.Identifier(r.Project)
	r.CreatedAt = s.store.Now()

	err := s.store.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO reflections (reflection, task_summary, outcome, project, session_id, created_at)
			VALUES (?,?,?,?,?,?)`,
			r.Reflection, r.TaskSummary, r.Outcome, r.Project, r.SessionID,
			store.FormatTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("%w: inserting reflection: %v", memory.ErrStorageFailure, err)
		}
		r.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	return r, err
}

// GetInsight fetches one insight.
func (s *Service) GetInsight(ctx context.Context, id int64) (Insight, error) {
	row := s.store.Reader().QueryRowContext(ctx, `
		SELECT id, content, category, importance, confidence, source_error_ids, status, created_at
		FROM insights WHERE id = ?`, id)
	ins, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Insight{}, fmt.Errorf("%w: insight %d", memory.ErrNotFound, id)
	}
	return ins, err
}

// Insights lists insights, optionally by status.
func (s *Service) Insights(ctx context.Context, status InsightStatus) ([]Insight, error) {
	q := `SELECT id, content, category, importance, confidence, source_error_ids, status, created_at
		FROM insights`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY importance DESC, id DESC`
	rows, err := s.store.Reader().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying insights: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// GetRule fetches one rule.
func (s *Service) GetRule(ctx context.Context, id int64) (Rule, error) {
	rules, err := s.queryRules(ctx, `
		SELECT id, content, project, status, fire_count, success_count, applications,
		       COALESCE(created_from_insight_id, 0), created_at
		FROM rules WHERE id = ?`, id)
	if err != nil {
		return Rule{}, err
	}
	if len(rules) == 0 {
		return Rule{}, fmt.Errorf("%w: rule %d", memory.ErrNotFound, id)
	}
	return rules[0], nil
}

// Rules lists rules filtered by project and status; empty filters match all.
func (s *Service) Rules(ctx context.Context, project string, status RuleStatus) ([]Rule, error) {
	q := `SELECT id, content, project, status, fire_count, success_count, applications,
	             COALESCE(created_from_insight_id, 0), created_at
	      FROM rules WHERE 1=1`
	args := []any{}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, sanitize.Identifier(project))
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id`
	return s.queryRules(ctx, q, args...)
}

func (s *Service) queryRules(ctx context.Context, q string, args ...any) ([]Rule, error) {
	rows, err := s.store.Reader().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying rules: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var r Rule
		var status, createdAt string
		if err := rows.Scan(&r.ID, &r.Content, &r.Project, &status, &r.FireCount,
			&r.SuccessCount, &r.Applications, &r.FromInsight, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning rule: %v", memory.ErrStorageFailure, err)
		}
		r.Status = RuleStatus(status)
		r.CreatedAt = store.ParseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanInsight(row interface{ Scan(...any) error }) (Insight, error) {
	var ins Insight
	var cat, status, sourceJSON, createdAt string
	if err := row.Scan(&ins.ID, &ins.Content, &cat, &ins.Importance, &ins.Confidence,
		&sourceJSON, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ins, err
		}
		return ins, fmt.Errorf("%w: scanning insight: %v", memory.ErrStorageFailure, err)
	}
	ins.Category = ErrorCategory(cat)
	ins.Status = InsightStatus(status)
	ins.CreatedAt = store.ParseTime(createdAt)
	ins.SourceErrorIDs = []int64{}
	if err := json.Unmarshal([]byte(sourceJSON), &ins.SourceErrorIDs); err != nil {
		ins.SourceErrorIDs = []int64{}
	}
	return ins, nil
}

func (s *Service) int64List(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.store.Reader().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ids: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scanning id: %v", memory.ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
