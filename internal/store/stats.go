package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

// Stats is a point-in-time summary of the store for the stats tool and the
// dashboard.
type Stats struct {
	TotalKnowledge int            `json:"total_knowledge"`
	ByType         map[string]int `json:"by_type"`
	ByStatus       map[string]int `json:"by_status"`
	ByProject      map[string]int `json:"by_project"`
	Relations      int            `json:"relations"`
	Observations   int            `json:"observations"`
	Sessions       int            `json:"sessions"`

	// Health: stale = active but unconfirmed for longer than the decay
	// half-life; never recalled = active with recall_count 0.
	StaleActive   int     `json:"stale_active"`
	NeverRecalled int     `json:"never_recalled"`
	HealthScore   float64 `json:"health_score"`

	StorageBytes    int64 `json:"storage_bytes"`
	VectorDocuments int   `json:"vector_documents"`

	DecayHalfLifeDays int `json:"decay_half_life_days"`
	ArchiveAfterDays  int `json:"archive_after_days"`
	PurgeAfterDays    int `json:"purge_after_days"`
}

// Stats collects counts, the health score, and on-disk sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByType:            map[string]int{},
		ByStatus:          map[string]int{},
		ByProject:         map[string]int{},
		DecayHalfLifeDays: s.cfg.DecayHalfLife,
		ArchiveAfterDays:  s.cfg.ArchiveAfterDays,
		PurgeAfterDays:    s.cfg.PurgeAfterDays,
	}

	if err := s.countsInto(ctx, `SELECT type, count(*) FROM knowledge WHERE status != 'purged' GROUP BY type`, st.ByType); err != nil {
		return st, err
	}
	if err := s.countsInto(ctx, `SELECT status, count(*) FROM knowledge GROUP BY status`, st.ByStatus); err != nil {
		return st, err
	}
	if err := s.countsInto(ctx, `SELECT project, count(*) FROM knowledge WHERE status != 'purged' GROUP BY project`, st.ByProject); err != nil {
		return st, err
	}
	for _, n := range st.ByType {
		st.TotalKnowledge += n
	}

	for _, c := range []struct {
		q    string
		dest *int
	}{
		{`SELECT count(*) FROM relations`, &st.Relations},
		{`SELECT count(*) FROM observations`, &st.Observations},
		{`SELECT count(*) FROM sessions`, &st.Sessions},
		{`SELECT count(*) FROM knowledge WHERE status = 'active' AND recall_count = 0`, &st.NeverRecalled},
	} {
		if err := s.db.QueryRowContext(ctx, c.q).Scan(c.dest); err != nil {
			return st, fmt.Errorf("%w: counting: %v", memory.ErrStorageFailure, err)
		}
	}

	staleCutoff := formatTime(timeNow().AddDate(0, 0, -s.cfg.DecayHalfLife))
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM knowledge WHERE status = 'active' AND last_confirmed < ?`,
		staleCutoff).Scan(&st.StaleActive); err != nil {
		return st, fmt.Errorf("%w: counting stale: %v", memory.ErrStorageFailure, err)
	}

	st.HealthScore = healthScore(st.ByStatus["active"], st.StaleActive, st.NeverRecalled)

	st.StorageBytes = fileSize(s.cfg.DatabasePath()) +
		dirSize(s.cfg.VectorStorePath()) +
		dirSize(s.cfg.RawLogDir())
	if s.vectors != nil {
		st.VectorDocuments = s.vectors.Count()
	}
	return st, nil
}

// healthScore penalizes stale and never-recalled shares of the active set.
// 1.0 means every active record is fresh and has been recalled at least once.
func healthScore(active, stale, neverRecalled int) float64 {
	if active == 0 {
		return 1.0
	}
	score := 1.0 -
		float64(stale)/float64(active)*0.5 -
		float64(neverRecalled)/float64(active)*0.3
	if score < 0 {
		return 0
	}
	return score
}

func (s *Store) countsInto(ctx context.Context, q string, dest map[string]int) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: counting: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("%w: scanning count: %v", memory.ErrStorageFailure, err)
		}
		dest[key] = n
	}
	return rows.Err()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
