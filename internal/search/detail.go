package search

import (
	"fmt"
	"time"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

// Detail controls how much of each record a recall response carries. The
// daemon's output lands in a model context window, so smaller levels exist to
// spend fewer tokens per result.
type Detail string

const (
	DetailCompact Detail = "compact"
	DetailSummary Detail = "summary"
	DetailFull    Detail = "full"
)

// Content budgets per level. Compact keeps each result near 50 tokens.
const (
	compactMaxChars = 200
	summaryMaxChars = 150
)

// ParseDetail validates a detail level string. Empty means compact.
func ParseDetail(s string) (Detail, error) {
	switch Detail(s) {
	case "":
		return DetailCompact, nil
	case DetailCompact, DetailSummary, DetailFull:
		return Detail(s), nil
	}
	return "", fmt.Errorf("%w: unknown detail level %q", memory.ErrInvalidArgument, s)
}

// Rendered is one hit shaped for a response at some detail level. Fields not
// included at the level stay zero and are omitted from JSON.
type Rendered struct {
	ID      int64       `json:"id"`
	Type    memory.Type `json:"type"`
	Content string      `json:"content"`
	Score   float64     `json:"score"`

	Context       string     `json:"context,omitempty"`
	Project       string     `json:"project,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
	RecallCount   int        `json:"recall_count,omitempty"`
	Version       int        `json:"version,omitempty"`
	Sources       []string   `json:"sources,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastConfirmed *time.Time `json:"last_confirmed,omitempty"`

	Tokens int `json:"tokens"`
}

// Response is a full recall reply.
type Response struct {
	Results     []Rendered `json:"results"`
	TotalTokens int        `json:"total_tokens"`
	Detail      Detail     `json:"detail"`
}

// Render shapes hits at the requested detail level and totals the token
// estimates.
func Render(hits []Hit, detail Detail) Response {
	resp := Response{Results: make([]Rendered, 0, len(hits)), Detail: detail}
	for _, h := range hits {
		r := renderOne(h, detail)
		resp.TotalTokens += r.Tokens
		resp.Results = append(resp.Results, r)
	}
	return resp
}

func renderOne(h Hit, detail Detail) Rendered {
	k := h.Knowledge
	r := Rendered{
		ID:      k.ID,
		Type:    k.Type,
		Content: k.Content,
		Score:   h.Score,
	}
	switch detail {
	case DetailCompact:
		r.Content = truncate(k.Content, compactMaxChars)
	case DetailSummary:
		r.Content = truncate(k.Content, summaryMaxChars)
		r.Project = k.Project
		r.Tags = k.Tags
	case DetailFull:
		r.Context = k.Context
		r.Project = k.Project
		r.Branch = k.Branch
		r.Tags = k.Tags
		r.Confidence = k.Confidence
		r.RecallCount = k.RecallCount
		r.Version = k.Version
		r.Sources = h.Sources
		created, confirmed := k.CreatedAt, k.LastConfirmed
		r.CreatedAt = &created
		r.LastConfirmed = &confirmed
	}
	r.Tokens = estimateTokens(r)
	return r
}

// estimateTokens approximates the context cost of one rendered result at
// roughly four characters per token.
func estimateTokens(r Rendered) int {
	chars := len(r.Content) + len(r.Context) + len(r.Project) + len(r.Branch)
	for _, t := range r.Tags {
		chars += len(t)
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// truncate cuts s to max characters on a rune boundary, marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
