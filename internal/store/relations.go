package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

// AddRelation creates a typed directed edge between two knowledge records.
// Re-adding an identical edge is idempotent: the existing relation comes back
// with created = false.
func (s *Store) AddRelation(ctx context.Context, fromID, toID int64, typ memory.RelationType) (rel memory.Relation, created bool, err error) {
	if fromID == toID {
		return memory.Relation{}, false, fmt.Errorf("%w: relation endpoints must differ", memory.ErrInvalidArgument)
	}
	if _, err := memory.ParseRelationType(string(typ)); err != nil {
		return memory.Relation{}, false, err
	}
	for _, id := range []int64{fromID, toID} {
		if _, err := s.GetKnowledge(ctx, id); err != nil {
			return memory.Relation{}, false, err
		}
	}

	now := timeNow()
	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO relations (from_id, to_id, type, created_at)
			VALUES (?,?,?,?)`,
			fromID, toID, string(typ), formatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting relation: %v", memory.ErrStorageFailure, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: rows affected: %v", memory.ErrStorageFailure, err)
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return memory.Relation{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, from_id, to_id, type, created_at FROM relations
		WHERE from_id = ? AND to_id = ? AND type = ?`, fromID, toID, string(typ))
	rel, err = scanRelation(row)
	return rel, created, err
}

// Relations returns every edge touching id.
func (s *Store) Relations(ctx context.Context, id int64) ([]memory.Relation, error) {
	return s.queryRelations(ctx, `
		SELECT id, from_id, to_id, type, created_at FROM relations
		WHERE from_id = ? OR to_id = ?
		ORDER BY created_at`, id, id)
}

// AllRelations returns every edge in the store, for export and the dashboard
// graph view.
func (s *Store) AllRelations(ctx context.Context) ([]memory.Relation, error) {
	return s.queryRelations(ctx,
		`SELECT id, from_id, to_id, type, created_at FROM relations ORDER BY id`)
}

func (s *Store) queryRelations(ctx context.Context, q string, args ...any) ([]memory.Relation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying relations: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []memory.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelation(row rowScanner) (memory.Relation, error) {
	var r memory.Relation
	var typ, createdAt string
	if err := row.Scan(&r.ID, &r.FromID, &r.ToID, &typ, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, fmt.Errorf("%w: relation", memory.ErrNotFound)
		}
		return r, fmt.Errorf("%w: scanning relation: %v", memory.ErrStorageFailure, err)
	}
	r.Type = memory.RelationType(typ)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}
