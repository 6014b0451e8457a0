package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/sanitize"
)

// AddObservation stores one tool-action observation. Observations skip the
// dedup path entirely and never enter the search indexes.
func (s *Store) AddObservation(ctx context.Context, o memory.Observation) (int64, error) {
	if strings.TrimSpace(o.Summary) == "" {
		return 0, fmt.Errorf("%w: summary must not be empty", memory.ErrInvalidArgument)
	}
	if _, err := memory.ParseObservationType(string(o.Type)); err != nil {
		return 0, err
	}
	files := o.FilesAffected
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding files: %v", memory.ErrInvalidArgument, err)
	}

	now := timeNow()
	var id int64
	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO observations (session_id, tool_name, summary, files_affected, observation_type, created_at)
			VALUES (?,?,?,?,?,?)`,
			o.SessionID, o.ToolName, sanitize.Text(o.Summary), string(filesJSON),
			string(o.Type), formatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting observation: %v", memory.ErrStorageFailure, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	return id, err
}

// RecentObservations returns the newest observations, for the session recap
// and the dashboard. A non-positive limit returns everything.
func (s *Store) RecentObservations(ctx context.Context, limit int) ([]memory.Observation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, tool_name, summary, files_affected, observation_type, created_at
		FROM observations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying observations: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []memory.Observation
	for rows.Next() {
		var o memory.Observation
		var typ, filesJSON, createdAt string
		if err := rows.Scan(&o.ID, &o.SessionID, &o.ToolName, &o.Summary, &filesJSON, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning observation: %v", memory.ErrStorageFailure, err)
		}
		o.Type = memory.ObservationType(typ)
		o.CreatedAt = parseTime(createdAt)
		o.FilesAffected = []string{}
		if err := json.Unmarshal([]byte(filesJSON), &o.FilesAffected); err != nil {
			o.FilesAffected = []string{}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
