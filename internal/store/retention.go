package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/similarity"
)

// archiveConfidenceCeiling: records at or above this confidence are never
// archived by age alone.
const archiveConfidenceCeiling = 0.8

// ForgetResult reports one retention sweep.
type ForgetResult struct {
	DryRun              bool    `json:"dry_run"`
	ArchivedIDs         []int64 `json:"archived_ids"`
	PurgedIDs           []int64 `json:"purged_ids"`
	ObservationsDeleted int     `json:"observations_deleted"`
}

// Forget runs the retention sweep: stale low-value active records move to
// archived, old archived records move to purged, and expired observations are
// deleted. With dryRun set, it reports what would happen without changing
// anything.
//
// Superseded records are left alone: their lifecycle belongs to the version
// chain, not to retention.
func (s *Store) Forget(ctx context.Context, dryRun bool) (ForgetResult, error) {
	now := timeNow()
	res := ForgetResult{DryRun: dryRun}

	archiveCutoff := formatTime(now.AddDate(0, 0, -s.cfg.ArchiveAfterDays))
	purgeCutoff := formatTime(now.AddDate(0, 0, -s.cfg.PurgeAfterDays))
	obsCutoff := formatTime(now.AddDate(0, 0, -memory.ObservationTTLDays))

	var err error
	res.ArchivedIDs, err = s.idList(ctx, `
		SELECT id FROM knowledge
		WHERE status = 'active' AND recall_count = 0 AND confidence < ?
		  AND last_confirmed < ?
		ORDER BY id`, archiveConfidenceCeiling, archiveCutoff)
	if err != nil {
		return res, err
	}
	res.PurgedIDs, err = s.idList(ctx, `
		SELECT id FROM knowledge
		WHERE status = 'archived' AND last_confirmed < ?
		ORDER BY id`, purgeCutoff)
	if err != nil {
		return res, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM observations WHERE created_at < ?`, obsCutoff)
	if err := row.Scan(&res.ObservationsDeleted); err != nil {
		return res, fmt.Errorf("%w: counting expired observations: %v", memory.ErrStorageFailure, err)
	}

	if dryRun {
		return res, nil
	}

	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, id := range res.ArchivedIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE knowledge SET status = 'archived' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("%w: archiving %d: %v", memory.ErrStorageFailure, id, err)
			}
		}
		for _, id := range res.PurgedIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE knowledge SET status = 'purged' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("%w: purging %d: %v", memory.ErrStorageFailure, id, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM observations WHERE created_at < ?`, obsCutoff); err != nil {
			return fmt.Errorf("%w: deleting expired observations: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	s.dropVector(ctx, res.ArchivedIDs...)
	s.logger.Info("retention sweep complete",
		zap.Int("archived", len(res.ArchivedIDs)),
		zap.Int("purged", len(res.PurgedIDs)),
		zap.Int("observations_deleted", res.ObservationsDeleted),
	)
	return res, nil
}

// ConsolidationGroup is one near-duplicate cluster found by Consolidate. The
// keeper is the most recently confirmed member; the rest are archived and
// linked to it.
type ConsolidationGroup struct {
	KeeperID  int64   `json:"keeper_id"`
	MergedIDs []int64 `json:"merged_ids"`
}

// Consolidate finds clusters of near-duplicate active records within each
// project (using the save-path thresholds) and merges each cluster into its
// most recently confirmed member. Merged records are archived with a
// 'related' relation to the keeper. With dryRun set, only the proposals are
// returned.
func (s *Store) Consolidate(ctx context.Context, project string, dryRun bool) ([]ConsolidationGroup, error) {
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge WHERE status = 'active'`
	args := []any{}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY project, last_confirmed DESC, id DESC`
	records, err := s.queryKnowledge(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	var groups []ConsolidationGroup
	merged := make(map[int64]bool)
	for i, keeper := range records {
		if merged[keeper.ID] {
			continue
		}
		var group ConsolidationGroup
		for _, other := range records[i+1:] {
			if merged[other.ID] || other.Project != keeper.Project {
				continue
			}
			if similarity.Jaccard(keeper.Content, other.Content) > dedupJaccardThreshold ||
				similarity.Ratio(keeper.Content, other.Content) > dedupRatioThreshold {
				group.MergedIDs = append(group.MergedIDs, other.ID)
				merged[other.ID] = true
			}
		}
		if len(group.MergedIDs) == 0 {
			continue
		}
		group.KeeperID = keeper.ID
		groups = append(groups, group)
	}

	if dryRun || len(groups) == 0 {
		return groups, nil
	}

	now := formatTime(timeNow())
	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, g := range groups {
			if _, err := tx.ExecContext(ctx,
				`UPDATE knowledge SET last_confirmed = ? WHERE id = ?`, now, g.KeeperID); err != nil {
				return fmt.Errorf("%w: refreshing keeper %d: %v", memory.ErrStorageFailure, g.KeeperID, err)
			}
			for _, id := range g.MergedIDs {
				if _, err := tx.ExecContext(ctx,
					`UPDATE knowledge SET status = 'archived' WHERE id = ?`, id); err != nil {
					return fmt.Errorf("%w: archiving merged %d: %v", memory.ErrStorageFailure, id, err)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO relations (from_id, to_id, type, created_at)
					VALUES (?,?,?,?)`, id, g.KeeperID, string(memory.RelationRelated), now); err != nil {
					return fmt.Errorf("%w: linking merged %d: %v", memory.ErrStorageFailure, id, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		s.dropVector(ctx, g.MergedIDs...)
	}
	s.logger.Info("consolidation complete", zap.Int("groups", len(groups)))
	return groups, nil
}

func (s *Store) idList(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

// AgeDays returns fractional days between t and now, for decay math.
func AgeDays(t, now time.Time) float64 {
	return now.Sub(t).Hours() / 24
}
