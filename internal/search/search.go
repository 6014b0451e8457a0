// Package search implements the four-tier recall fusion engine: keyword
// (FTS5 bm25), semantic (vector cosine), fuzzy (edit-distance backstop), and
// graph expansion over relations. Tier scores are summed per record, then
// shaped by time decay and a recall-frequency boost.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/embeddings"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/similarity"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
	"github.com/vbcherepanov/claude-total-memory/internal/vectorindex"
)

const (
	// DefaultLimit is the result count when the caller does not specify one.
	DefaultLimit = 5

	// Tier 3 only runs while cheaper tiers left the result set short.
	fuzzyThreshold     = 0.35
	fuzzyWeight        = 0.6
	fuzzyCandidatePool = 200

	// Tier 4 expands from the strongest candidates only.
	graphTopN   = 5
	graphWeight = 0.4

	// Recall-frequency boost, added after decay.
	recallBoostStep = 0.05
	recallBoostCap  = 0.3

	// Update refuses matches weaker than this.
	updateScoreFloor = 0.1

	// overfetch widens per-tier queries so decay reordering has material.
	overfetch = 3
)

// Source labels report which tiers contributed to a hit.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
	SourceFuzzy    = "fuzzy"
	SourceGraph    = "graph"
)

// Engine fuses the search tiers over one store.
type Engine struct {
	store    *store.Store
	vectors  *vectorindex.Index
	embedder embeddings.Embedder
	halfLife float64
	logger   *logging.Logger
}

// New builds an engine. vectors and embedder may be nil; the semantic tier is
// then skipped and recall degrades to the remaining tiers.
func New(st *store.Store, vectors *vectorindex.Index, embedder embeddings.Embedder, cfg *config.Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		halfLife: float64(cfg.DecayHalfLife),
		logger:   logger.Named("search"),
	}
}

// Query is one recall request.
type Query struct {
	Text    string
	Project string
	Branch  string
	Limit   int
	Detail  Detail
}

// Hit is one scored result.
type Hit struct {
	Knowledge memory.Knowledge
	Score     float64
	Sources   []string
}

type candidate struct {
	knowledge memory.Knowledge
	score     float64
	sources   []string
}

// Recall runs all tiers, fuses, decays, and bumps recall counters on the
// returned records.
func (e *Engine) Recall(ctx context.Context, q Query) ([]Hit, error) {
	hits, err := e.search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Knowledge.ID
	}
	if err := e.store.BumpRecall(ctx, ids); err != nil {
		return nil, err
	}
	return hits, nil
}

// search is Recall without the counter side effect; Update uses it to rank
// without confirming.
func (e *Engine) search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", memory.ErrInvalidArgument)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	cands := make(map[int64]*candidate)

	e.keywordTier(ctx, q, cands)
	e.semanticTier(ctx, q, cands)
	if len(cands) < q.Limit {
		e.fuzzyTier(ctx, q, cands)
	}
	e.graphTier(ctx, cands)

	if len(cands) == 0 {
		return nil, nil
	}

	now := e.store.Now()
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		hits = append(hits, Hit{
			Knowledge: c.knowledge,
			Score:     e.finalScore(c.score, c.knowledge, now),
			Sources:   c.sources,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Knowledge.LastConfirmed.After(hits[j].Knowledge.LastConfirmed)
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// finalScore applies exponential time decay to the fused score, then the
// bounded recall-frequency boost.
func (e *Engine) finalScore(fused float64, k memory.Knowledge, now time.Time) float64 {
	age := store.AgeDays(k.LastConfirmed, now)
	if age < 0 {
		age = 0
	}
	decayed := fused * math.Exp(-age*math.Ln2/e.halfLife)
	boost := float64(k.RecallCount) * recallBoostStep
	if boost > recallBoostCap {
		boost = recallBoostCap
	}
	return decayed + boost
}

func (e *Engine) keywordTier(ctx context.Context, q Query, cands map[int64]*candidate) {
	raw, err := e.store.KeywordSearch(ctx, q.Text, q.Project, q.Branch, q.Limit*overfetch)
	if err != nil {
		e.logger.Warn("keyword tier failed", zap.Error(err))
		return
	}
	if len(raw) == 0 {
		return
	}
	scores := make([]float64, len(raw))
	for i, h := range raw {
		scores[i] = h.BM25
	}
	norm := normalizeBatch(scores)
	for i, h := range raw {
		add(cands, h.Knowledge, norm[i], SourceKeyword)
	}
}

func (e *Engine) semanticTier(ctx context.Context, q Query, cands map[int64]*candidate) {
	if e.vectors == nil || e.embedder == nil {
		return
	}
	vec, err := e.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		// Degrade to the other tiers rather than failing the recall.
		e.logger.Warn("query embedding failed, semantic tier skipped", zap.Error(err))
		return
	}
	results, err := e.vectors.Query(ctx, vec, q.Limit*overfetch, q.Project)
	if err != nil {
		e.logger.Warn("semantic tier failed", zap.Error(err))
		return
	}
	for _, r := range results {
		if r.Similarity <= 0 {
			continue
		}
		k, err := e.store.GetKnowledge(ctx, r.ID)
		if err != nil {
			continue // index lag: record archived or purged since last sync
		}
		if k.Status != memory.StatusActive {
			continue
		}
		if q.Branch != "" && k.Branch != "" && k.Branch != q.Branch {
			continue
		}
		add(cands, k, r.Similarity, SourceSemantic)
	}
}

func (e *Engine) fuzzyTier(ctx context.Context, q Query, cands map[int64]*candidate) {
	pool, err := e.store.FuzzyCandidates(ctx, q.Project, q.Branch, fuzzyCandidatePool)
	if err != nil {
		e.logger.Warn("fuzzy tier failed", zap.Error(err))
		return
	}
	for _, k := range pool {
		// Fuzzy only recovers records the cheaper tiers missed.
		if _, already := cands[k.ID]; already {
			continue
		}
		r := similarity.Ratio(strings.ToLower(q.Text), strings.ToLower(k.Content))
		if r <= fuzzyThreshold {
			continue
		}
		add(cands, k, r*fuzzyWeight, SourceFuzzy)
	}
}

// graphTier pulls in records one relation hop from the strongest candidates,
// at a fraction of the source score.
func (e *Engine) graphTier(ctx context.Context, cands map[int64]*candidate) {
	if len(cands) == 0 {
		return
	}
	top := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		top = append(top, c)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].score > top[j].score })
	if len(top) > graphTopN {
		top = top[:graphTopN]
	}

	for _, src := range top {
		neighbors, err := e.store.Neighbors(ctx, src.knowledge.ID)
		if err != nil {
			e.logger.Warn("graph tier failed", zap.Int64("id", src.knowledge.ID), zap.Error(err))
			continue
		}
		for _, n := range neighbors {
			if _, already := cands[n.ID]; already {
				continue
			}
			add(cands, n, src.score*graphWeight, SourceGraph)
		}
	}
}

func add(cands map[int64]*candidate, k memory.Knowledge, score float64, source string) {
	c, ok := cands[k.ID]
	if !ok {
		cands[k.ID] = &candidate{knowledge: k, score: score, sources: []string{source}}
		return
	}
	c.score += score
	c.sources = append(c.sources, source)
}

// normalizeBatch maps raw bm25 scores (lower is better in SQLite) onto [0, 1]
// relative to this batch: the best hit gets 1, the worst 0. A single-element
// batch scores 1.
func normalizeBatch(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range scores {
		out[i] = (max - v) / (max - min)
	}
	return out
}

// Update finds the best active match for query, scoped to project when one is
// given, and supersedes it with newContent. The match must clear a minimum
// relevance floor; otherwise nothing matches and nothing changes.
func (e *Engine) Update(ctx context.Context, query, newContent, context_, project, sessionID string) (memory.Knowledge, error) {
	hits, err := e.search(ctx, Query{Text: query, Project: project, Limit: 1})
	if err != nil {
		return memory.Knowledge{}, err
	}
	if len(hits) == 0 || hits[0].Score < updateScoreFloor {
		return memory.Knowledge{}, fmt.Errorf("%w: no active record matches %q", memory.ErrNotFound, query)
	}
	return e.store.Supersede(ctx, hits[0].Knowledge.ID, newContent, context_, sessionID)
}
