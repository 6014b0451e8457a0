package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vbcherepanov/claude-total-memory/internal/extract"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/search"
	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

// project/branch default to the running session's when omitted.
func (s *Server) defaultProject(p string) string {
	if p == "" && s.sess != nil {
		return s.sess.Project
	}
	return p
}

func (s *Server) defaultBranch(b string) string {
	if b == "" && s.sess != nil {
		return s.sess.Branch
	}
	return b
}

type saveInput struct {
	Content    string   `json:"content" jsonschema:"required,The knowledge to remember"`
	Type       string   `json:"type" jsonschema:"required,Knowledge type: decision solution lesson fact or convention"`
	Context    string   `json:"context,omitempty" jsonschema:"Why this was true / surrounding circumstances"`
	Project    string   `json:"project,omitempty" jsonschema:"Project scope (defaults to the session project)"`
	Branch     string   `json:"branch,omitempty" jsonschema:"Branch scope (defaults to the session branch)"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Free-form tags"`
	Confidence float64  `json:"confidence,omitempty" jsonschema:"Initial confidence in [0 1] (default 0.8)"`
}

type saveOutput struct {
	ID        int64 `json:"id" jsonschema:"Stored record id"`
	Duplicate bool  `json:"duplicate" jsonschema:"True when existing near-identical record was refreshed instead"`
}

type updateInput struct {
	Query   string `json:"query" jsonschema:"required,Search text locating the record to update"`
	Content string `json:"content" jsonschema:"required,The corrected knowledge"`
	Context string `json:"context,omitempty" jsonschema:"New context (keeps the old one when omitted)"`
	Project string `json:"project,omitempty" jsonschema:"Project scope for the match (defaults to the session project)"`
}

type updateOutput struct {
	ID         int64 `json:"id" jsonschema:"New version record id"`
	Version    int   `json:"version" jsonschema:"Version number of the new record"`
	Supersedes int64 `json:"supersedes" jsonschema:"Id of the superseded record"`
}

type recallInput struct {
	Query   string `json:"query" jsonschema:"required,What to recall"`
	Project string `json:"project,omitempty" jsonschema:"Project filter (defaults to the session project)"`
	Branch  string `json:"branch,omitempty" jsonschema:"Branch filter"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5)"`
	Detail  string `json:"detail,omitempty" jsonschema:"Detail level: compact summary or full (default compact)"`
}

type tagSearchInput struct {
	Tag     string `json:"tag" jsonschema:"required,Tag to search for"`
	Project string `json:"project,omitempty" jsonschema:"Project filter"`
	Partial bool   `json:"partial,omitempty" jsonschema:"Substring tag matching instead of exact"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20)"`
}

type tagSearchOutput struct {
	Results []memory.Knowledge `json:"results" jsonschema:"Matching active records in recency order"`
	Count   int                `json:"count" jsonschema:"Number of results"`
}

type observeInput struct {
	Summary       string   `json:"summary" jsonschema:"required,One-line description of what happened"`
	Type          string   `json:"type" jsonschema:"required,Observation type: bugfix feature refactor change discovery or decision"`
	ToolName      string   `json:"tool_name,omitempty" jsonschema:"Tool that performed the action"`
	FilesAffected []string `json:"files_affected,omitempty" jsonschema:"Files touched by the action"`
}

type observeOutput struct {
	ID int64 `json:"id" jsonschema:"Observation id"`
}

type deleteInput struct {
	ID int64 `json:"id" jsonschema:"required,Record id to delete"`
}

type deleteOutput struct {
	ID      int64 `json:"id" jsonschema:"Deleted record id"`
	Deleted bool  `json:"deleted" jsonschema:"Always true on success"`
}

type relateInput struct {
	FromID int64  `json:"from_id" jsonschema:"required,Source record id"`
	ToID   int64  `json:"to_id" jsonschema:"required,Target record id"`
	Type   string `json:"type" jsonschema:"required,Relation type: causal solution context related or contradicts"`
}

type relateOutput struct {
	RelationID int64 `json:"relation_id" jsonschema:"Relation id"`
	Created    bool  `json:"created" jsonschema:"False when the identical relation already existed"`
}

type historyInput struct {
	ID int64 `json:"id" jsonschema:"required,Any record id in the version chain"`
}

type historyOutput struct {
	Versions []memory.Knowledge `json:"versions" jsonschema:"Full version chain newest first"`
	Count    int                `json:"count" jsonschema:"Chain length"`
}

type consolidateInput struct {
	Project string `json:"project,omitempty" jsonschema:"Restrict to one project"`
	DryRun  bool   `json:"dry_run,omitempty" jsonschema:"Report proposals without merging"`
}

type consolidateOutput struct {
	Groups []store.ConsolidationGroup `json:"groups" jsonschema:"Near-duplicate clusters"`
	DryRun bool                       `json:"dry_run" jsonschema:"Whether anything was changed"`
}

type forgetInput struct {
	DryRun bool `json:"dry_run,omitempty" jsonschema:"Report what would happen without changing anything"`
}

type exportInput struct{}

type exportOutput struct {
	Path         string `json:"path" jsonschema:"Snapshot file path"`
	Knowledge    int    `json:"knowledge" jsonschema:"Exported knowledge records"`
	Relations    int    `json:"relations" jsonschema:"Exported relations"`
	Sessions     int    `json:"sessions" jsonschema:"Exported sessions"`
	Observations int    `json:"observations" jsonschema:"Exported observations"`
	Errors       int    `json:"errors" jsonschema:"Exported error records"`
	Insights     int    `json:"insights" jsonschema:"Exported insights"`
	Rules        int    `json:"rules" jsonschema:"Exported rules"`
	Reflections  int    `json:"reflections" jsonschema:"Exported reflections"`
}

type statsInput struct{}

type extractInput struct {
	Action string `json:"action" jsonschema:"required,One of: list get complete"`
	Name   string `json:"name,omitempty" jsonschema:"Transcript name (for get and complete)"`
	Chunk  int    `json:"chunk,omitempty" jsonschema:"0-based chunk index (for get)"`
}

type extractOutput struct {
	Items     []extract.Item `json:"items,omitempty" jsonschema:"Pending transcripts (list)"`
	Chunk     *extract.Chunk `json:"chunk,omitempty" jsonschema:"Requested chunk (get)"`
	Completed bool           `json:"completed,omitempty" jsonschema:"True after complete"`
}

func (s *Server) registerMemoryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_save",
		Description: "Persist a piece of knowledge (decision, solution, lesson, fact, or convention). Near-duplicates refresh the existing record instead of creating a new one.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args saveInput) (*mcp.CallToolResult, saveOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_save", start, args, toolErr) }()

		id, dup, err := s.store.SaveKnowledge(ctx, store.SaveParams{
			SessionID:  s.sessionID(),
			Type:       memory.Type(args.Type),
			Content:    args.Content,
			Context:    args.Context,
			Project:    s.defaultProject(args.Project),
			Branch:     s.defaultBranch(args.Branch),
			Tags:       args.Tags,
			Confidence: args.Confidence,
		})
		if err != nil {
			toolErr = err
			return nil, saveOutput{}, err
		}
		verb := "saved"
		if dup {
			verb = "confirmed (duplicate)"
		}
		return textResult("Knowledge %s: id %d", verb, id), saveOutput{ID: id, Duplicate: dup}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_update",
		Description: "Correct existing knowledge: finds the best match for the query and stores a new version superseding it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args updateInput) (*mcp.CallToolResult, updateOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_update", start, args, toolErr) }()

		k, err := s.engine.Update(ctx, args.Query, args.Content, args.Context,
			s.defaultProject(args.Project), s.sessionID())
		if err != nil {
			toolErr = err
			return nil, updateOutput{}, err
		}
		return textResult("Knowledge updated: id %d is now version %d", k.ID, k.Version),
			updateOutput{ID: k.ID, Version: k.Version, Supersedes: k.Supersedes}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_recall",
		Description: "Search stored knowledge across keyword, semantic, fuzzy, and graph tiers. Returned records count as confirmed.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recallInput) (*mcp.CallToolResult, search.Response, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_recall", start, args, toolErr) }()

		detail, err := search.ParseDetail(args.Detail)
		if err != nil {
			toolErr = err
			return nil, search.Response{}, err
		}
		hits, err := s.engine.Recall(ctx, search.Query{
			Text:    args.Query,
			Project: s.defaultProject(args.Project),
			Branch:  args.Branch,
			Limit:   args.Limit,
		})
		if err != nil {
			toolErr = err
			return nil, search.Response{}, err
		}
		resp := search.Render(hits, detail)
		return textResult("%d results (%d tokens)", len(resp.Results), resp.TotalTokens), resp, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search_by_tag",
		Description: "List active knowledge carrying a tag, newest first. No relevance scoring.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args tagSearchInput) (*mcp.CallToolResult, tagSearchOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_search_by_tag", start, args, toolErr) }()

		results, err := s.store.SearchByTag(ctx, args.Tag, args.Project, args.Partial, args.Limit)
		if err != nil {
			toolErr = err
			return nil, tagSearchOutput{}, err
		}
		if results == nil {
			results = []memory.Knowledge{}
		}
		return textResult("%d records tagged %q", len(results), args.Tag),
			tagSearchOutput{Results: results, Count: len(results)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_observe",
		Description: "Record a lightweight observation of a tool action. Observations skip dedup and expire after 30 days.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args observeInput) (*mcp.CallToolResult, observeOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_observe", start, args, toolErr) }()

		id, err := s.store.AddObservation(ctx, memory.Observation{
			SessionID:     s.sessionID(),
			ToolName:      args.ToolName,
			Summary:       args.Summary,
			FilesAffected: args.FilesAffected,
			Type:          memory.ObservationType(args.Type),
		})
		if err != nil {
			toolErr = err
			return nil, observeOutput{}, err
		}
		return textResult("Observation recorded: id %d", id), observeOutput{ID: id}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_delete",
		Description: "Permanently remove a knowledge record from search and storage.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deleteInput) (*mcp.CallToolResult, deleteOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_delete", start, args, toolErr) }()

		if err := s.store.DeleteKnowledge(ctx, args.ID); err != nil {
			toolErr = err
			return nil, deleteOutput{}, err
		}
		return textResult("Knowledge %d deleted", args.ID), deleteOutput{ID: args.ID, Deleted: true}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_relate",
		Description: "Link two knowledge records with a typed directed relation. Duplicate links are idempotent.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args relateInput) (*mcp.CallToolResult, relateOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_relate", start, args, toolErr) }()

		rel, created, err := s.store.AddRelation(ctx, args.FromID, args.ToID, memory.RelationType(args.Type))
		if err != nil {
			toolErr = err
			return nil, relateOutput{}, err
		}
		return textResult("Relation %d -> %d (%s)", args.FromID, args.ToID, args.Type),
			relateOutput{RelationID: rel.ID, Created: created}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_history",
		Description: "Show the full version chain of a knowledge record, newest first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args historyInput) (*mcp.CallToolResult, historyOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_history", start, args, toolErr) }()

		chain, err := s.store.History(ctx, args.ID)
		if err != nil {
			toolErr = err
			return nil, historyOutput{}, err
		}
		return textResult("%d versions", len(chain)), historyOutput{Versions: chain, Count: len(chain)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_consolidate",
		Description: "Find and merge near-duplicate active records; the most recently confirmed member of each cluster survives.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args consolidateInput) (*mcp.CallToolResult, consolidateOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_consolidate", start, args, toolErr) }()

		groups, err := s.store.Consolidate(ctx, args.Project, args.DryRun)
		if err != nil {
			toolErr = err
			return nil, consolidateOutput{}, err
		}
		if groups == nil {
			groups = []store.ConsolidationGroup{}
		}
		return textResult("%d duplicate clusters", len(groups)),
			consolidateOutput{Groups: groups, DryRun: args.DryRun}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_forget",
		Description: "Run the retention sweep: archive stale unused knowledge, purge old archives, drop expired observations.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args forgetInput) (*mcp.CallToolResult, store.ForgetResult, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_forget", start, args, toolErr) }()

		res, err := s.store.Forget(ctx, args.DryRun)
		if err != nil {
			toolErr = err
			return nil, store.ForgetResult{}, err
		}
		return textResult("archived %d, purged %d, dropped %d observations",
			len(res.ArchivedIDs), len(res.PurgedIDs), res.ObservationsDeleted), res, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_export",
		Description: "Write a JSON snapshot of all non-purged state to the exports directory.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args exportInput) (*mcp.CallToolResult, exportOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_export", start, args, toolErr) }()

		snap, path, err := s.store.Export(ctx)
		if err != nil {
			toolErr = err
			return nil, exportOutput{}, err
		}
		return textResult("Export written to %s", path), exportOutput{
			Path:         path,
			Knowledge:    len(snap.Knowledge),
			Relations:    len(snap.Relations),
			Sessions:     len(snap.Sessions),
			Observations: len(snap.Observations),
			Errors:       len(snap.Errors),
			Insights:     len(snap.Insights),
			Rules:        len(snap.Rules),
			Reflections:  len(snap.Reflections),
		}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Summarize the store: counts, health score, and on-disk sizes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args statsInput) (*mcp.CallToolResult, store.Stats, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_stats", start, args, toolErr) }()

		st, err := s.store.Stats(ctx)
		if err != nil {
			toolErr = err
			return nil, store.Stats{}, err
		}
		return textResult("%d records, health %.2f", st.TotalKnowledge, st.HealthScore), st, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_extract_session",
		Description: "Work the transcript extraction queue: list pending transcripts, read one in chunks, mark it complete.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args extractInput) (*mcp.CallToolResult, extractOutput, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.observe(ctx, "memory_extract_session", start, args, toolErr) }()

		switch args.Action {
		case "list":
			items, err := s.queue.List()
			if err != nil {
				toolErr = err
				return nil, extractOutput{}, err
			}
			return textResult("%d pending transcripts", len(items)), extractOutput{Items: items}, nil
		case "get":
			chunk, err := s.queue.Get(args.Name, args.Chunk)
			if err != nil {
				toolErr = err
				return nil, extractOutput{}, err
			}
			return textResult("chunk %d/%d of %s", chunk.Index+1, chunk.Total, args.Name),
				extractOutput{Chunk: &chunk}, nil
		case "complete":
			if err := s.queue.Complete(args.Name); err != nil {
				toolErr = err
				return nil, extractOutput{}, err
			}
			return textResult("%s marked complete", args.Name), extractOutput{Completed: true}, nil
		}
		toolErr = fmt.Errorf("%w: unknown action %q", memory.ErrInvalidArgument, args.Action)
		return nil, extractOutput{}, toolErr
	})
}
