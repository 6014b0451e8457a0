// Package soul implements the self-improvement pipeline: logged errors are
// mined for repeating patterns, patterns surface as candidate insights,
// voted-up insights get promoted to behavioral rules, and rules that stop
// working suspend themselves.
package soul

import (
	"fmt"
	"time"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

// ErrorCategory is a closed taxonomy of assistant failure modes.
type ErrorCategory string

const (
	CategoryCodeError       ErrorCategory = "code_error"
	CategoryLogicError      ErrorCategory = "logic_error"
	CategoryConfigError     ErrorCategory = "config_error"
	CategoryAPIError        ErrorCategory = "api_error"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryLoopDetected    ErrorCategory = "loop_detected"
	CategoryWrongAssumption ErrorCategory = "wrong_assumption"
	CategoryMissingContext  ErrorCategory = "missing_context"
)

// ParseErrorCategory validates a category string.
func ParseErrorCategory(s string) (ErrorCategory, error) {
	switch ErrorCategory(s) {
	case CategoryCodeError, CategoryLogicError, CategoryConfigError, CategoryAPIError,
		CategoryTimeout, CategoryLoopDetected, CategoryWrongAssumption, CategoryMissingContext:
		return ErrorCategory(s), nil
	}
	return "", fmt.Errorf("%w: unknown error category %q", memory.ErrInvalidArgument, s)
}

// Severity grades a logged error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string. Empty means medium.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityMedium, nil
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", memory.ErrInvalidArgument, s)
}

// ErrorEntry is one logged failure.
type ErrorEntry struct {
	ID          int64         `json:"id"`
	Description string        `json:"description"`
	Category    ErrorCategory `json:"category"`
	Severity    Severity      `json:"severity"`
	Fix         string        `json:"fix,omitempty"`
	Project     string        `json:"project"`
	CreatedAt   time.Time     `json:"created_at"`
}

// InsightStatus is the lifecycle of a candidate insight.
type InsightStatus string

const (
	InsightCandidate InsightStatus = "candidate"
	InsightArchived  InsightStatus = "archived" // voted down to zero; terminal
	InsightPromoted  InsightStatus = "promoted" // became a rule; terminal
)

// insightTransitions is the full transition table. Absent pairs are invalid.
var insightTransitions = map[InsightStatus][]InsightStatus{
	InsightCandidate: {InsightArchived, InsightPromoted},
	InsightArchived:  {},
	InsightPromoted:  {},
}

// CanInsightTransition reports whether from may move to to.
func CanInsightTransition(from, to InsightStatus) bool {
	for _, ok := range insightTransitions[from] {
		if ok == to {
			return true
		}
	}
	return false
}

// Insight is a generalized observation distilled from repeated errors.
type Insight struct {
	ID             int64         `json:"id"`
	Content        string        `json:"content"`
	Category       ErrorCategory `json:"category"`
	Importance     int           `json:"importance"`
	Confidence     float64       `json:"confidence"`
	SourceErrorIDs []int64       `json:"source_error_ids"`
	Status         InsightStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// RuleStatus is the lifecycle of a behavioral rule.
type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RuleSuspended RuleStatus = "suspended"
	RuleRetired   RuleStatus = "retired" // terminal
)

// ruleTransitions is the full transition table. Suspension is reversible,
// retirement is not.
var ruleTransitions = map[RuleStatus][]RuleStatus{
	RuleActive:    {RuleSuspended, RuleRetired},
	RuleSuspended: {RuleActive, RuleRetired},
	RuleRetired:   {},
}

// CanRuleTransition reports whether from may move to to.
func CanRuleTransition(from, to RuleStatus) bool {
	for _, ok := range ruleTransitions[from] {
		if ok == to {
			return true
		}
	}
	return false
}

// ParseRuleStatus validates a rule status string.
func ParseRuleStatus(s string) (RuleStatus, error) {
	switch RuleStatus(s) {
	case RuleActive, RuleSuspended, RuleRetired:
		return RuleStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown rule status %q", memory.ErrInvalidArgument, s)
}

// Rule is a promoted insight with live effectiveness tracking.
type Rule struct {
	ID           int64      `json:"id"`
	Content      string     `json:"content"`
	Project      string     `json:"project"`
	Status       RuleStatus `json:"status"`
	FireCount    int        `json:"fire_count"`
	SuccessCount int        `json:"success_count"`
	Applications int        `json:"applications"`
	FromInsight  int64      `json:"from_insight_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SuccessRate is successes over fires, 0 before any fire.
func (r Rule) SuccessRate() float64 {
	if r.FireCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.FireCount)
}

// Reflection is a free-form end-of-task retrospective.
type Reflection struct {
	ID          int64     `json:"id"`
	Reflection  string    `json:"reflection"`
	TaskSummary string    `json:"task_summary,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Project     string    `json:"project"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pipeline tuning. An error category repeating patternThreshold times inside
// patternWindowDays becomes a candidate insight; promotion and suspension
// gates are below.
const (
	patternWindowDays = 30
	patternThreshold  = 3

	initialImportance = 2
	initialConfidence = 0.50

	voteImportanceStep = 1
	voteConfidenceStep = 0.05

	promoteImportanceMin = 5
	promoteConfidenceMin = 0.8

	suspendMinFires     = 10
	suspendSuccessFloor = 0.2
)
