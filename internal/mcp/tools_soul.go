package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/soul"
)

type errorLogInput struct {
	Description string `json:"description" jsonschema:"required,What went wrong"`
	Category    string `json:"category" jsonschema:"required,One of: code_error logic_error config_error api_error timeout loop_detected wrong_assumption missing_context"`
	Severity    string `json:"severity,omitempty" jsonschema:"One of: low medium high critical (default medium)"`
	Fix         string `json:"fix,omitempty" jsonschema:"How it was fixed, if known"`
	Project     string `json:"project,omitempty" jsonschema:"Project scope"`
}

type errorLogOutput struct {
	ID              int64 `json:"id" jsonschema:"Error record id"`
	PatternDetected bool  `json:"pattern_detected" jsonschema:"True when the category repeated enough inside the window"`
	InsightID       int64 `json:"insight_id,omitempty" jsonschema:"Candidate insight minted from the pattern"`
}

type insightInput struct {
	Action         string  `json:"action" jsonschema:"required,One of: list add upvote downvote promote"`
	ID             int64   `json:"id,omitempty" jsonschema:"Insight id (vote and promote)"`
	Content        string  `json:"content,omitempty" jsonschema:"Insight text (add)"`
	Category       string  `json:"category,omitempty" jsonschema:"Error category (add)"`
	SourceErrorIDs []int64 `json:"source_error_ids,omitempty" jsonschema:"Error ids this insight derives from (add)"`
	Project        string  `json:"project,omitempty" jsonschema:"Rule scope for promotion"`
	Status         string  `json:"status,omitempty" jsonschema:"Status filter for list: candidate archived promoted"`
}

type insightOutput struct {
	Insight  *soul.Insight  `json:"insight,omitempty" jsonschema:"The affected insight"`
	Insights []soul.Insight `json:"insights,omitempty" jsonschema:"Listing (list)"`
	Rule     *soul.Rule     `json:"rule,omitempty" jsonschema:"The created rule (promote)"`
}

type rulesInput struct {
	Action  string `json:"action" jsonschema:"required,One of: list fire rate suspend activate retire"`
	ID      int64  `json:"id,omitempty" jsonschema:"Rule id (all actions but list)"`
	Success bool   `json:"success,omitempty" jsonschema:"Whether the rule helped (rate)"`
	Project string `json:"project,omitempty" jsonschema:"Project filter for list"`
	Status  string `json:"status,omitempty" jsonschema:"Status filter for list: active suspended retired"`
}

type rulesOutput struct {
	Rule  *soul.Rule  `json:"rule,omitempty" jsonschema:"The affected rule"`
	Rules []soul.Rule `json:"rules,omitempty" jsonschema:"Listing (list)"`
}

type rulesContextInput struct {
	Project string `json:"project,omitempty" jsonschema:"Project scope (defaults to the session project)"`
}

type rulesContextOutput struct {
	Context string `json:"context" jsonschema:"Active rules formatted for prompt injection; empty when none"`
}

type patternsInput struct {
	View string `json:"view,omitempty" jsonschema:"One of: errors candidates effectiveness trend (default errors)"`
}

type patternsOutput struct {
	Errors        *soul.ErrorReport        `json:"errors,omitempty" jsonschema:"Error volume by category (errors view)"`
	Candidates    []soul.Insight           `json:"candidates,omitempty" jsonschema:"Candidate insights (candidates view)"`
	Effectiveness []soul.RuleEffectiveness `json:"effectiveness,omitempty" jsonschema:"Rule track records (effectiveness view)"`
	Trend         *soul.TrendReport        `json:"trend,omitempty" jsonschema:"Week-over-week error trend (trend view)"`
}

type reflectInput struct {
	Reflection  string `json:"reflection" jsonschema:"required,What to do differently next time"`
	TaskSummary string `json:"task_summary,omitempty" jsonschema:"What the task was"`
	Outcome     string `json:"outcome,omitempty" jsonschema:"How it went"`
	Project     string `json:"project,omitempty" jsonschema:"Project scope"`
}

type reflectOutput struct {
	ID int64 `json:"id" jsonschema:"Reflection id"`
}

func (s *Server) registerSoulTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_error_log",
		Description: "Log a failure. Three same-category errors inside 30 days mint a candidate insight automatically.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args errorLogInput) (*mcp.CallToolResult, errorLogOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_error_log", start, args, toolErr) }()

		entry, detected, insight, err := s.soul.LogError(ctx, soul.ErrorEntry{
			Description: args.Description,
			Category:    soul.ErrorCategory(args.Category),
			Severity:    soul.Severity(args.Severity),
			Fix:         args.Fix,
			Project:     s.defaultProject(args.Project),
		})
		if err != nil {
			toolErr = err
			return nil, errorLogOutput{}, err
		}
		out := errorLogOutput{ID: entry.ID, PatternDetected: detected}
		msg := fmt.Sprintf("Error logged: id %d", entry.ID)
		switch {
		case insight != nil:
			out.InsightID = insight.ID
			msg = fmt.Sprintf("Error logged: id %d. Pattern detected, insight %d created", entry.ID, insight.ID)
		case detected:
			msg = fmt.Sprintf("Error logged: id %d. Pattern detected", entry.ID)
		}
		return textResult("%s", msg), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_insight",
		Description: "Manage candidate insights: list, add, vote up or down, or promote one to a rule (needs importance >= 5 and confidence >= 0.8).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args insightInput) (*mcp.CallToolResult, insightOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_insight", start, args, toolErr) }()

		switch args.Action {
		case "list":
			insights, err := s.soul.Insights(ctx, soul.InsightStatus(args.Status))
			if err != nil {
				toolErr = err
				return nil, insightOutput{}, err
			}
			return textResult("%d insights", len(insights)), insightOutput{Insights: insights}, nil
		case "add":
			ins, err := s.soul.AddInsight(ctx, args.Content, soul.ErrorCategory(args.Category), args.SourceErrorIDs)
			if err != nil {
				toolErr = err
				return nil, insightOutput{}, err
			}
			return textResult("Insight added: id %d", ins.ID), insightOutput{Insight: &ins}, nil
		case "upvote", "downvote":
			ins, err := s.soul.VoteInsight(ctx, args.ID, args.Action == "upvote")
			if err != nil {
				toolErr = err
				return nil, insightOutput{}, err
			}
			return textResult("Insight %d: importance %d, confidence %.2f (%s)",
				ins.ID, ins.Importance, ins.Confidence, ins.Status), insightOutput{Insight: &ins}, nil
		case "promote":
			rule, err := s.soul.PromoteInsight(ctx, args.ID, s.defaultProject(args.Project))
			if err != nil {
				toolErr = err
				return nil, insightOutput{}, err
			}
			return textResult("Insight %d promoted to rule %d", args.ID, rule.ID),
				insightOutput{Rule: &rule}, nil
		}
		toolErr = fmt.Errorf("%w: unknown action %q", memory.ErrInvalidArgument, args.Action)
		return nil, insightOutput{}, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_rules",
		Description: "Manage behavioral rules: list, fire (count one application), rate an outcome (rules failing 8 of 10 fires suspend themselves), suspend, activate, or retire.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args rulesInput) (*mcp.CallToolResult, rulesOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_rules", start, args, toolErr) }()

		switch args.Action {
		case "list":
			rules, err := s.soul.Rules(ctx, args.Project, soul.RuleStatus(args.Status))
			if err != nil {
				toolErr = err
				return nil, rulesOutput{}, err
			}
			return textResult("%d rules", len(rules)), rulesOutput{Rules: rules}, nil
		case "fire":
			rule, err := s.soul.FireRule(ctx, args.ID)
			if err != nil {
				toolErr = err
				return nil, rulesOutput{}, err
			}
			return textResult("Rule %d fired %d times", rule.ID, rule.FireCount), rulesOutput{Rule: &rule}, nil
		case "rate":
			rule, err := s.soul.RateRule(ctx, args.ID, args.Success)
			if err != nil {
				toolErr = err
				return nil, rulesOutput{}, err
			}
			return textResult("Rule %d: %d/%d successful (%s)",
				rule.ID, rule.SuccessCount, rule.FireCount, rule.Status), rulesOutput{Rule: &rule}, nil
		case "suspend", "activate", "retire":
			to := map[string]soul.RuleStatus{
				"suspend":  soul.RuleSuspended,
				"activate": soul.RuleActive,
				"retire":   soul.RuleRetired,
			}[args.Action]
			rule, err := s.soul.SetRuleStatus(ctx, args.ID, to)
			if err != nil {
				toolErr = err
				return nil, rulesOutput{}, err
			}
			return textResult("Rule %d is now %s", rule.ID, rule.Status), rulesOutput{Rule: &rule}, nil
		}
		toolErr = fmt.Errorf("%w: unknown action %q", memory.ErrInvalidArgument, args.Action)
		return nil, rulesOutput{}, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_rules_context",
		Description: "Render the active rules for a project as a block ready to inject into a prompt.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args rulesContextInput) (*mcp.CallToolResult, rulesContextOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_rules_context", start, args, toolErr) }()

		block, err := s.soul.RulesContext(ctx, s.defaultProject(args.Project))
		if err != nil {
			toolErr = err
			return nil, rulesContextOutput{}, err
		}
		if block == "" {
			return textResult("No active rules"), rulesContextOutput{}, nil
		}
		return textResult("%s", block), rulesContextOutput{Context: block}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_patterns",
		Description: "Inspect the self-improvement pipeline: recent error patterns, candidate insights, rule effectiveness, or the weekly trend.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args patternsInput) (*mcp.CallToolResult, patternsOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_patterns", start, args, toolErr) }()

		got, err := s.soul.Patterns(ctx, soul.PatternView(args.View))
		if err != nil {
			toolErr = err
			return nil, patternsOutput{}, err
		}
		var out patternsOutput
		switch v := got.(type) {
		case soul.ErrorReport:
			out.Errors = &v
		case []soul.Insight:
			out.Candidates = v
		case []soul.RuleEffectiveness:
			out.Effectiveness = v
		case soul.TrendReport:
			out.Trend = &v
		}
		return textResult("patterns view: %s", orDefault(args.View, "errors")), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "soul_reflect",
		Description: "Store an end-of-task retrospective for future reference.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args reflectInput) (*mcp.CallToolResult, reflectOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "soul_reflect", start, args, toolErr) }()

		r, err := s.soul.Reflect(ctx, soul.Reflection{
			Reflection:  args.Reflection,
			TaskSummary: args.TaskSummary,
			Outcome:     args.Outcome,
			Project:     s.defaultProject(args.Project),
			SessionID:   s.sessionID(),
		})
		if err != nil {
			toolErr = err
			return nil, reflectOutput{}, err
		}
		return textResult("Reflection stored: id %d", r.ID), reflectOutput{ID: r.ID}, nil
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
