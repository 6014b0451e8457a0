package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/sanitize"
	"github.com/vbcherepanov/claude-total-memory/internal/similarity"
	"github.com/vbcherepanov/claude-total-memory/internal/vectorindex"
)

// Dedup thresholds. A new record matching an existing active record in the
// same project above either threshold is treated as a confirmation of the
// existing record, not a new one.
const (
	dedupJaccardThreshold = 0.85
	dedupRatioThreshold   = 0.90
	dedupCandidates       = 5
)

// maxFTSQueryWords caps how much of the content seeds the dedup query.
const maxFTSQueryWords = 12

const knowledgeColumns = `id, session_id, type, content, context, project, branch, tags,
	confidence, recall_count, status, COALESCE(supersedes, 0), version, created_at, last_confirmed`

// SaveParams are the inputs to SaveKnowledge.
type SaveParams struct {
	SessionID  string
	Type       memory.Type
	Content    string
	Context    string
	Project    string
	Branch     string
	Tags       []string
	Confidence float64 // 0 means DefaultConfidence
}

// SaveKnowledge stores a new knowledge record, or refreshes an existing one
// when the content duplicates an active record in the same project. The
// returned id is the stored (or refreshed) record; duplicate reports which
// path was taken.
func (s *Store) SaveKnowledge(ctx context.Context, p SaveParams) (id int64, duplicate bool, err error) {
	if strings.TrimSpace(p.Content) == "" {
		return 0, false, fmt.Errorf("%w: content must not be empty", memory.ErrInvalidArgument)
	}
	if _, err := memory.ParseType(string(p.Type)); err != nil {
		return 0, false, err
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return 0, false, fmt.Errorf("%w: confidence %v outside [0, 1]", memory.ErrInvalidArgument, p.Confidence)
	}
	if p.Confidence == 0 {
		p.Confidence = memory.DefaultConfidence
	}
	p.Project = sanitize.Identifier(p.Project)
	p.Content = sanitize.Text(p.Content)
	p.Context = sanitize.Text(p.Context)

	now := timeNow()

	dupID, err := s.findDuplicate(ctx, p.Content, p.Project)
	if err != nil {
		return 0, false, err
	}
	if dupID != 0 {
		err = s.WriteTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE knowledge SET last_confirmed = ? WHERE id = ?`, formatTime(now), dupID)
			if err != nil {
				return fmt.Errorf("%w: refreshing duplicate %d: %v", memory.ErrStorageFailure, dupID, err)
			}
			return nil
		})
		if err != nil {
			return 0, false, err
		}
		s.logger.Debug("duplicate content refreshed", zap.Int64("id", dupID))
		return dupID, true, nil
	}

	tagsJSON, err := json.Marshal(normalizeTags(p.Tags))
	if err != nil {
		return 0, false, fmt.Errorf("%w: encoding tags: %v", memory.ErrInvalidArgument, err)
	}

	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge
				(session_id, type, content, context, project, branch, tags,
				 confidence, status, version, created_at, last_confirmed)
			VALUES (?,?,?,?,?,?,?,?,'active',1,?,?)`,
			p.SessionID, string(p.Type), p.Content, p.Context, p.Project, p.Branch,
			string(tagsJSON), p.Confidence, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting knowledge: %v", memory.ErrStorageFailure, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	s.indexVector(ctx, id, p.Content, p.Context, p.Project)
	return id, false, nil
}

// findDuplicate returns the id of an active same-project record whose content
// is near-identical to content, or 0.
func (s *Store) findDuplicate(ctx context.Context, content, project string) (int64, error) {
	query := ftsQuery(content)
	if query == "" {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.id, k.content
		FROM knowledge_fts f
		JOIN knowledge k ON k.id = f.rowid
		WHERE knowledge_fts MATCH ?
		  AND k.status = 'active'
		  AND k.project = ?
		ORDER BY bm25(knowledge_fts)
		LIMIT ?`, query, project, dedupCandidates)
	if err != nil {
		// A degenerate MATCH expression is not worth failing a save over.
		s.logger.Debug("dedup query failed", zap.Error(err))
		return 0, nil
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var existing string
		if err := rows.Scan(&id, &existing); err != nil {
			return 0, fmt.Errorf("%w: scanning dedup candidate: %v", memory.ErrStorageFailure, err)
		}
		if similarity.Jaccard(content, existing) > dedupJaccardThreshold ||
			similarity.Ratio(content, existing) > dedupRatioThreshold {
			return id, nil
		}
	}
	return 0, rows.Err()
}

// indexVector embeds and upserts one record into the semantic index.
// Failures degrade to keyword-only search for this record and are logged,
// never surfaced: the SQLite row is already durable.
func (s *Store) indexVector(ctx context.Context, id int64, content, context_, project string) {
	if s.vectors == nil || s.embedder == nil {
		return
	}
	text := content
	if context_ != "" {
		text += "\n" + context_
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, record not in semantic index",
			zap.Int64("id", id), zap.Error(err))
		return
	}
	err = s.vectors.Upsert(ctx, vectorindex.Document{
		ID: id, Content: text, Project: project, Embedding: vec,
	})
	if err != nil {
		s.logger.Warn("vector upsert failed", zap.Int64("id", id), zap.Error(err))
	}
}

func (s *Store) dropVector(ctx context.Context, ids ...int64) {
	if s.vectors == nil || len(ids) == 0 {
		return
	}
	if err := s.vectors.Delete(ctx, ids...); err != nil {
		s.logger.Warn("vector delete failed", zap.Int64s("ids", ids), zap.Error(err))
	}
}

// GetKnowledge fetches one record by id. Purged records are gone.
func (s *Store) GetKnowledge(ctx context.Context, id int64) (memory.Knowledge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ? AND status != 'purged'`, id)
	k, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Knowledge{}, fmt.Errorf("%w: knowledge %d", memory.ErrNotFound, id)
	}
	return k, err
}

// Supersede creates a new version of oldID with newContent and marks the old
// record superseded. The new version inherits type, project, branch, tags,
// and confidence.
func (s *Store) Supersede(ctx context.Context, oldID int64, newContent, context_, sessionID string) (memory.Knowledge, error) {
	if strings.TrimSpace(newContent) == "" {
		return memory.Knowledge{}, fmt.Errorf("%w: content must not be empty", memory.ErrInvalidArgument)
	}
	old, err := s.GetKnowledge(ctx, oldID)
	if err != nil {
		return memory.Knowledge{}, err
	}
	if old.Status != memory.StatusActive {
		return memory.Knowledge{}, fmt.Errorf("%w: knowledge %d is %s, only active records can be updated",
			memory.ErrPreconditionFailed, oldID, old.Status)
	}

	newContent = sanitize.Text(newContent)
	if context_ == "" {
		context_ = old.Context
	} else {
		context_ = sanitize.Text(context_)
	}
	tagsJSON, _ := json.Marshal(normalizeTags(old.Tags))
	now := timeNow()

	var newID int64
	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge
				(session_id, type, content, context, project, branch, tags,
				 confidence, status, supersedes, version, created_at, last_confirmed)
			VALUES (?,?,?,?,?,?,?,?,'active',?,?,?,?)`,
			sessionID, string(old.Type), newContent, context_, old.Project, old.Branch,
			string(tagsJSON), old.Confidence, oldID, old.Version+1, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("%w: inserting new version: %v", memory.ErrStorageFailure, err)
		}
		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading insert id: %v", memory.ErrStorageFailure, err)
		}
		// Re-check the status inside the transaction: the read above ran
		// before the write lock, and another writer may have won the race.
		flip, err := tx.ExecContext(ctx,
			`UPDATE knowledge SET status = 'superseded' WHERE id = ? AND status = 'active'`, oldID)
		if err != nil {
			return fmt.Errorf("%w: superseding %d: %v", memory.ErrStorageFailure, oldID, err)
		}
		n, err := flip.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: rows affected: %v", memory.ErrStorageFailure, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: knowledge %d is no longer active", memory.ErrPreconditionFailed, oldID)
		}
		return nil
	})
	if err != nil {
		return memory.Knowledge{}, err
	}

	s.dropVector(ctx, oldID)
	s.indexVector(ctx, newID, newContent, context_, old.Project)
	return s.GetKnowledge(ctx, newID)
}

// DeleteKnowledge marks a record purged and removes it from both indexes.
func (s *Store) DeleteKnowledge(ctx context.Context, id int64) error {
	err := s.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE knowledge SET status = 'purged' WHERE id = ? AND status != 'purged'`, id)
		if err != nil {
			return fmt.Errorf("%w: purging %d: %v", memory.ErrStorageFailure, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: rows affected: %v", memory.ErrStorageFailure, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: knowledge %d", memory.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.dropVector(ctx, id)
	return nil
}

// History returns the full version chain containing id, newest first.
func (s *Store) History(ctx context.Context, id int64) ([]memory.Knowledge, error) {
	cur, err := s.getAnyStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	// Walk forward to the newest version.
	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+knowledgeColumns+` FROM knowledge WHERE supersedes = ?`, cur.ID)
		next, err := scanKnowledge(row)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}

	// Then back along the supersedes links.
	chain := []memory.Knowledge{cur}
	for cur.Supersedes != 0 {
		prev, err := s.getAnyStatus(ctx, cur.Supersedes)
		if errors.Is(err, memory.ErrNotFound) {
			break // older version purged out of the chain
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, prev)
		cur = prev
	}
	return chain, nil
}

func (s *Store) getAnyStatus(ctx context.Context, id int64) (memory.Knowledge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ?`, id)
	k, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Knowledge{}, fmt.Errorf("%w: knowledge %d", memory.ErrNotFound, id)
	}
	return k, err
}

// BumpRecall increments recall counters and refreshes last_confirmed for the
// given records. Called after a recall returns results.
func (s *Store) BumpRecall(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(timeNow())
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE knowledge
				SET recall_count = recall_count + 1, last_confirmed = ?
				WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("%w: bumping recall for %d: %v", memory.ErrStorageFailure, id, err)
			}
		}
		return nil
	})
}

// KeywordHit is one FTS match with its raw bm25 score (lower is better in
// SQLite; callers normalize per batch).
type KeywordHit struct {
	Knowledge memory.Knowledge
	BM25      float64
}

// KeywordSearch runs the inverted-index tier over active records.
func (s *Store) KeywordSearch(ctx context.Context, query, project, branch string, limit int) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}
	q := `
		SELECT ` + prefixColumns("k") + `, bm25(knowledge_fts)
		FROM knowledge_fts f
		JOIN knowledge k ON k.id = f.rowid
		WHERE knowledge_fts MATCH ? AND k.status = 'active'`
	args := []any{match}
	if project != "" {
		q += ` AND k.project = ?`
		args = append(args, project)
	}
	if branch != "" {
		q += ` AND (k.branch = ? OR k.branch = '')`
		args = append(args, branch)
	}
	q += ` ORDER BY bm25(knowledge_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logger.Debug("keyword search failed", zap.String("match", match), zap.Error(err))
		return nil, nil
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := scanKnowledgeInto(rows, &h.Knowledge, &h.BM25); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// FuzzyCandidates returns recently confirmed active records for the in-memory
// fuzzy matching tier.
func (s *Store) FuzzyCandidates(ctx context.Context, project, branch string, limit int) ([]memory.Knowledge, error) {
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge WHERE status = 'active'`
	args := []any{}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, project)
	}
	if branch != "" {
		q += ` AND (branch = ? OR branch = '')`
		args = append(args, branch)
	}
	q += ` ORDER BY last_confirmed DESC LIMIT ?`
	args = append(args, limit)
	return s.queryKnowledge(ctx, q, args...)
}

// Neighbors returns active records one relation hop from id, in either
// direction.
func (s *Store) Neighbors(ctx context.Context, id int64) ([]memory.Knowledge, error) {
	return s.queryKnowledge(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge
		WHERE status = 'active' AND id IN (
			SELECT to_id FROM relations WHERE from_id = ?
			UNION
			SELECT from_id FROM relations WHERE to_id = ?
		)`, id, id)
}

// SearchByTag returns active records carrying the tag. With partial set, tag
// matching is case-insensitive substring; otherwise case-insensitive exact.
func (s *Store) SearchByTag(ctx context.Context, tag, project string, partial bool, limit int) ([]memory.Knowledge, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, fmt.Errorf("%w: tag must not be empty", memory.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge WHERE status = 'active' AND tags != '[]'`
	args := []any{}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY last_confirmed DESC`
	all, err := s.queryKnowledge(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(tag)
	var out []memory.Knowledge
	for _, k := range all {
		for _, t := range k.Tags {
			lt := strings.ToLower(t)
			if lt == want || (partial && strings.Contains(lt, want)) {
				out = append(out, k)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListKnowledge returns records filtered by status and project for the
// dashboard and export paths. Empty filters match everything except purged.
func (s *Store) ListKnowledge(ctx context.Context, status memory.Status, project string, limit int) ([]memory.Knowledge, error) {
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge WHERE 1=1`
	args := []any{}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	} else {
		q += ` AND status != 'purged'`
	}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY last_confirmed DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryKnowledge(ctx, q, args...)
}

func (s *Store) queryKnowledge(ctx context.Context, q string, args ...any) ([]memory.Knowledge, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying knowledge: %v", memory.ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []memory.Knowledge
	for rows.Next() {
		var k memory.Knowledge
		if err := scanKnowledgeInto(rows, &k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanKnowledge(row rowScanner) (memory.Knowledge, error) {
	var k memory.Knowledge
	err := scanKnowledgeInto(row, &k)
	return k, err
}

func scanKnowledgeInto(row rowScanner, k *memory.Knowledge, extra ...any) error {
	var typ, status, tagsJSON, createdAt, lastConfirmed string
	dest := []any{
		&k.ID, &k.SessionID, &typ, &k.Content, &k.Context, &k.Project, &k.Branch,
		&tagsJSON, &k.Confidence, &k.RecallCount, &status, &k.Supersedes,
		&k.Version, &createdAt, &lastConfirmed,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("%w: scanning knowledge: %v", memory.ErrStorageFailure, err)
	}
	k.Type = memory.Type(typ)
	k.Status = memory.Status(status)
	k.CreatedAt = parseTime(createdAt)
	k.LastConfirmed = parseTime(lastConfirmed)
	k.Tags = []string{}
	if err := json.Unmarshal([]byte(tagsJSON), &k.Tags); err != nil {
		k.Tags = []string{}
	}
	return nil
}

// prefixColumns qualifies knowledgeColumns with a table alias for joins.
func prefixColumns(alias string) string {
	cols := []string{
		"id", "session_id", "type", "content", "context", "project", "branch", "tags",
		"confidence", "recall_count", "status", "COALESCE(%s.supersedes, 0)",
		"version", "created_at", "last_confirmed",
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		if strings.Contains(c, "%s") {
			out[i] = fmt.Sprintf(c, alias)
			continue
		}
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

// ftsQuery turns free text into a safe OR-of-quoted-terms MATCH expression.
func ftsQuery(text string) string {
	var terms []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, `"'.,;:!?()[]{}`)
		if len(w) <= 2 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, ``)+`"`)
		if len(terms) >= maxFTSQueryWords {
			break
		}
	}
	return strings.Join(terms, " OR ")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}
