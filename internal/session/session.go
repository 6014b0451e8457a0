// Package session tracks one daemon lifetime: a uuid session id, the project
// and branch it runs under, and an append-only raw call log.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/sanitize"
)

var timeNow = time.Now

// Context identifies the running session. It is created once at startup and
// handed to every tool handler.
type Context struct {
	ID        string
	Project   string
	Branch    string
	StartedAt time.Time

	mu        sync.Mutex
	toolCalls int
	logFile   *os.File
	logger    *logging.Logger
}

// Start creates a session rooted at workDir: the project is the directory
// name, the branch is read from .git/HEAD when present. The raw call log is
// opened append-only under rawDir.
func Start(workDir, rawDir string, logger *logging.Logger) (*Context, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		workDir = wd
	}

	c := &Context{
		ID:        uuid.NewString(),
		Project:   sanitize.Identifier(filepath.Base(workDir)),
		Branch:    detectBranch(workDir),
		StartedAt: timeNow(),
		logger:    logger.Named("session"),
	}

	if err := os.MkdirAll(rawDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating raw log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(rawDir, c.ID+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening raw call log: %w", err)
	}
	c.logFile = f

	c.logger.Info("session started",
		zap.String("id", c.ID),
		zap.String("project", c.Project),
		zap.String("branch", c.Branch),
	)
	return c, nil
}

// detectBranch reads the checked-out branch from .git/HEAD, walking up to the
// repository root. Detached heads and non-repos yield "".
func detectBranch(dir string) string {
	for {
		head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
		if err == nil {
			ref := strings.TrimSpace(string(head))
			if name, ok := strings.CutPrefix(ref, "ref: refs/heads/"); ok {
				return name
			}
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// rawEntry is one call log line.
type rawEntry struct {
	Time     string          `json:"time"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"args,omitempty"`
	Duration string          `json:"duration,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// LogToolCall appends one line to the raw call log and bumps the counter.
// Each line is fsync'd so a crash never loses confirmed calls. Logging
// failures are reported but must not fail the tool call itself.
func (c *Context) LogToolCall(tool string, args any, took time.Duration, callErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCalls++

	entry := rawEntry{
		Time:     timeNow().UTC().Format(time.RFC3339),
		Tool:     tool,
		Duration: took.String(),
	}
	if args != nil {
		if raw, err := json.Marshal(args); err == nil {
			entry.Args = raw
		}
	}
	if callErr != nil {
		entry.Err = callErr.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("raw log marshal failed", zap.Error(err))
		return
	}
	if _, err := c.logFile.Write(append(line, '\n')); err != nil {
		c.logger.Warn("raw log write failed", zap.Error(err))
		return
	}
	if err := c.logFile.Sync(); err != nil {
		c.logger.Warn("raw log sync failed", zap.Error(err))
	}
}

// ToolCalls returns how many tool calls this session has logged.
func (c *Context) ToolCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolCalls
}

// Close closes the raw call log.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile == nil {
		return nil
	}
	err := c.logFile.Close()
	c.logFile = nil
	return err
}
