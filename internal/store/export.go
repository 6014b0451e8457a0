package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

// Snapshot is a full JSON export of the durable state, minus purged records
// and the raw call logs.
type Snapshot struct {
	ExportedAt   time.Time            `json:"exported_at"`
	Knowledge    []memory.Knowledge   `json:"knowledge"`
	Relations    []memory.Relation    `json:"relations"`
	Sessions     []memory.Session     `json:"sessions"`
	Observations []memory.Observation `json:"observations"`
	Errors       []ErrorExport        `json:"errors"`
	Insights     []InsightExport      `json:"insights"`
	Rules        []RuleExport         `json:"rules"`
	Reflections  []ReflectionExport   `json:"reflections"`
}

// The self-improvement tables export as flat row mirrors so this package does
// not depend on the soul types.
type ErrorExport struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Fix         string `json:"fix,omitempty"`
	Project     string `json:"project,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type InsightExport struct {
	ID             int64           `json:"id"`
	Content        string          `json:"content"`
	Category       string          `json:"category"`
	Importance     int             `json:"importance"`
	Confidence     float64         `json:"confidence"`
	SourceErrorIDs json.RawMessage `json:"source_error_ids"`
	Status         string          `json:"status"`
	CreatedAt      string          `json:"created_at"`
}

type RuleExport struct {
	ID           int64  `json:"id"`
	Content      string `json:"content"`
	Project      string `json:"project,omitempty"`
	Status       string `json:"status"`
	FireCount    int    `json:"fire_count"`
	SuccessCount int    `json:"success_count"`
	Applications int    `json:"applications"`
	FromInsight  int64  `json:"created_from_insight_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ReflectionExport struct {
	ID          int64  `json:"id"`
	Reflection  string `json:"reflection"`
	TaskSummary string `json:"task_summary,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Project     string `json:"project,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Export writes a snapshot file under the export directory and returns its
// path together with the snapshot itself.
func (s *Store) Export(ctx context.Context) (Snapshot, string, error) {
	now := timeNow()
	snap := Snapshot{ExportedAt: now.UTC()}

	var err error
	snap.Knowledge, err = s.ListKnowledge(ctx, "", "", 0)
	if err != nil {
		return snap, "", err
	}
	snap.Relations, err = s.AllRelations(ctx)
	if err != nil {
		return snap, "", err
	}
	snap.Sessions, err = s.listSessions(ctx)
	if err != nil {
		return snap, "", err
	}
	snap.Observations, err = s.RecentObservations(ctx, 0)
	if err != nil {
		return snap, "", err
	}
	snap.Errors, err = s.exportErrors(ctx)
	if err != nil {
		return snap, "", err
	}
	snap.Insights, err = s.exportInsights(ctx)
	if err != nil {
		return snap, "", err
	}
	snap.Rules, err = s.exportRules(ctx)
	if err != nil {
		return snap, "", err
	}
	snap.Reflections, err = s.exportReflections(ctx)
	if err != nil {
		return snap, "", err
	}
	if snap.Knowledge == nil {
		snap.Knowledge = []memory.Knowledge{}
	}
	if snap.Relations == nil {
		snap.Relations = []memory.Relation{}
	}
	if snap.Observations == nil {
		snap.Observations = []memory.Observation{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snap, "", fmt.Errorf("%w: encoding snapshot: %v", memory.ErrStorageFailure, err)
	}

	if err := os.MkdirAll(s.cfg.ExportDir(), 0o700); err != nil {
		return snap, "", fmt.Errorf("%w: creating export dir: %v", memory.ErrStorageFailure, err)
	}
	path := filepath.Join(s.cfg.ExportDir(),
		fmt.Sprintf("memory-export-%s.json", now.UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return snap, "", fmt.Errorf("%w: writing %s: %v", memory.ErrStorageFailure, path, err)
	}

	s.logger.Info("export written",
		zap.String("path", path),
		zap.Int("knowledge", len(snap.Knowledge)),
	)
	return snap, path, nil
}

func (s *Store) exportErrors(ctx context.Context) ([]ErrorExport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, category, severity, fix, project, created_at
		FROM errors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying errors: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	out := []ErrorExport{}
	for rows.Next() {
		var e ErrorExport
		if err := rows.Scan(&e.ID, &e.Description, &e.Category, &e.Severity,
			&e.Fix, &e.Project, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning error row: %v", memory.ErrStorageFailure, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) exportInsights(ctx context.Context) ([]InsightExport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, importance, confidence, source_error_ids, status, created_at
		FROM insights ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying insights: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	out := []InsightExport{}
	for rows.Next() {
		var i InsightExport
		var sourceJSON string
		if err := rows.Scan(&i.ID, &i.Content, &i.Category, &i.Importance,
			&i.Confidence, &sourceJSON, &i.Status, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning insight row: %v", memory.ErrStorageFailure, err)
		}
		i.SourceErrorIDs = json.RawMessage(sourceJSON)
		if !json.Valid(i.SourceErrorIDs) {
			i.SourceErrorIDs = json.RawMessage("[]")
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *Store) exportRules(ctx context.Context) ([]RuleExport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, project, status, fire_count, success_count, applications,
		       COALESCE(created_from_insight_id, 0), created_at
		FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying rules: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	out := []RuleExport{}
	for rows.Next() {
		var r RuleExport
		if err := rows.Scan(&r.ID, &r.Content, &r.Project, &r.Status, &r.FireCount,
			&r.SuccessCount, &r.Applications, &r.FromInsight, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning rule row: %v", memory.ErrStorageFailure, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) exportReflections(ctx context.Context) ([]ReflectionExport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reflection, task_summary, outcome, project, session_id, created_at
		FROM reflections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying reflections: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	out := []ReflectionExport{}
	for rows.Next() {
		var r ReflectionExport
		if err := rows.Scan(&r.ID, &r.Reflection, &r.TaskSummary, &r.Outcome,
			&r.Project, &r.SessionID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning reflection row: %v", memory.ErrStorageFailure, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) listSessions(ctx context.Context) ([]memory.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, project, branch, tool_call_count
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying sessions: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	out := []memory.Session{}
	for rows.Next() {
		var sess memory.Session
		var startedAt string
		if err := rows.Scan(&sess.ID, &startedAt, &sess.Project, &sess.Branch, &sess.ToolCallCount); err != nil {
			return nil, fmt.Errorf("%w: scanning session: %v", memory.ErrStorageFailure, err)
		}
		sess.StartedAt = parseTime(startedAt)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Sessions returns all recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]memory.Session, error) {
	return s.listSessions(ctx)
}
