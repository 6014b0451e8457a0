// Package memory defines the record model shared by the store, the search
// fusion engine, and the self-improvement pipeline.
package memory

import (
	"fmt"
	"time"
)

// Type classifies a knowledge record.
type Type string

const (
	TypeDecision   Type = "decision"
	TypeSolution   Type = "solution"
	TypeLesson     Type = "lesson"
	TypeFact       Type = "fact"
	TypeConvention Type = "convention"
)

// ParseType validates a knowledge type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeDecision, TypeSolution, TypeLesson, TypeFact, TypeConvention:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: unknown knowledge type %q", ErrInvalidArgument, s)
}

// Status is a retention zone plus the superseded lifecycle marker.
//
// superseded is set by update (versioning), archived by retention, purged by
// retention or delete. Only the newest version in a supersession chain may be
// active.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusArchived   Status = "archived"
	StatusPurged     Status = "purged"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSuperseded, StatusArchived, StatusPurged:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}

// Knowledge is a stored unit of decision/solution/lesson/fact/convention.
type Knowledge struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Type          Type      `json:"type"`
	Content       string    `json:"content"`
	Context       string    `json:"context,omitempty"`
	Project       string    `json:"project"`
	Branch        string    `json:"branch,omitempty"`
	Tags          []string  `json:"tags"`
	Confidence    float64   `json:"confidence"`
	RecallCount   int       `json:"recall_count"`
	Status        Status    `json:"status"`
	Supersedes    int64     `json:"supersedes,omitempty"` // 0 = first version
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	LastConfirmed time.Time `json:"last_confirmed"`
}

// RelationType is the kind of edge between two knowledge records.
type RelationType string

const (
	RelationCausal      RelationType = "causal"
	RelationSolution    RelationType = "solution"
	RelationContext     RelationType = "context"
	RelationRelated     RelationType = "related"
	RelationContradicts RelationType = "contradicts"
)

// ParseRelationType validates a relation type string.
func ParseRelationType(s string) (RelationType, error) {
	switch RelationType(s) {
	case RelationCausal, RelationSolution, RelationContext, RelationRelated, RelationContradicts:
		return RelationType(s), nil
	}
	return "", fmt.Errorf("%w: unknown relation type %q", ErrInvalidArgument, s)
}

// Relation is a typed directed edge between two knowledge records.
type Relation struct {
	ID        int64        `json:"id"`
	FromID    int64        `json:"from_id"`
	ToID      int64        `json:"to_id"`
	Type      RelationType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
}

// Session is one daemon lifetime.
type Session struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	Project       string    `json:"project"`
	Branch        string    `json:"branch,omitempty"`
	ToolCallCount int       `json:"tool_call_count"`
}

// ObservationType classifies a file-change observation.
type ObservationType string

const (
	ObservationBugfix    ObservationType = "bugfix"
	ObservationFeature   ObservationType = "feature"
	ObservationRefactor  ObservationType = "refactor"
	ObservationChange    ObservationType = "change"
	ObservationDiscovery ObservationType = "discovery"
	ObservationDecision  ObservationType = "decision"
)

// ParseObservationType validates an observation type string.
func ParseObservationType(s string) (ObservationType, error) {
	switch ObservationType(s) {
	case ObservationBugfix, ObservationFeature, ObservationRefactor,
		ObservationChange, ObservationDiscovery, ObservationDecision:
		return ObservationType(s), nil
	}
	return "", fmt.Errorf("%w: unknown observation type %q", ErrInvalidArgument, s)
}

// Observation is a lightweight, non-deduplicated record of a tool action.
// Observations carry no embedding and are deleted unconditionally after
// ObservationTTLDays.
type Observation struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	ToolName      string          `json:"tool_name"`
	Summary       string          `json:"summary"`
	FilesAffected []string        `json:"files_affected"`
	Type          ObservationType `json:"observation_type"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ObservationTTLDays is how long observations are retained.
const ObservationTTLDays = 30

// DefaultConfidence is assigned to new knowledge when the caller supplies none.
const DefaultConfidence = 0.8
