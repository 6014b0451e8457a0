// Package store implements the durable record store: SQLite in WAL mode as
// primary storage with an FTS5 inverted keyword index maintained by triggers,
// plus a chromem-go vector index kept in sync on every write.
//
// Single-writer discipline: all mutations go through writeTx, which holds the
// store mutex and commits atomically. Readers are plain queries and never
// block on the writer (WAL), so a second read-only process (the dashboard)
// can share the file safely.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vbcherepanov/claude-total-memory/internal/config"
	"github.com/vbcherepanov/claude-total-memory/internal/embeddings"
	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
	"github.com/vbcherepanov/claude-total-memory/internal/vectorindex"
)

// timeNow is swapped in tests to exercise decay and retention windows.
var timeNow = time.Now

// timeLayout keeps stored timestamps fixed-width so SQL string comparison
// orders them correctly.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is the record store.
type Store struct {
	db       *sql.DB
	vectors  *vectorindex.Index // nil disables the semantic index
	embedder embeddings.Embedder
	cfg      *config.Config
	logger   *logging.Logger

	mu sync.Mutex // serializes writers
}

// Open opens (creating if needed) the store under cfg.Dir. vectors and
// embedder may be nil; the store then runs without the semantic index.
func Open(cfg *config.Config, vectors *vectorindex.Index, embedder embeddings.Embedder, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := openDB("sqlite", cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", memory.ErrStorageFailure, cfg.DatabasePath(), err)
	}

	s := &Store{db: db, vectors: vectors, embedder: embedder, cfg: cfg, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", memory.ErrStorageFailure, pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", memory.ErrStorageFailure, err)
	}

	if err := s.checkFTS(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store opened", zap.String("path", cfg.DatabasePath()))
	return s, nil
}

// OpenReadOnly opens an existing store without taking any write lock, for
// the dashboard process running beside a live daemon. Mutating methods fail
// at the driver level.
func OpenReadOnly(cfg *config.Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := openDB("sqlite", "file:"+cfg.DatabasePath()+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s read-only: %v", memory.ErrStorageFailure, cfg.DatabasePath(), err)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA query_only = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", memory.ErrStorageFailure, pragma, err)
		}
	}
	return &Store{db: db, cfg: cfg, logger: logger}, nil
}

// checkFTS verifies FTS5 index integrity on startup and rebuilds it from the
// knowledge table if corrupted.
func (s *Store) checkFTS() error {
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM knowledge_fts WHERE knowledge_fts MATCH '"test"'`).Scan(&n); err == nil {
		return nil
	}
	s.logger.Warn("keyword index corrupted, rebuilding")
	if _, err := s.db.Exec(`INSERT INTO knowledge_fts(knowledge_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("%w: rebuilding keyword index: %v", memory.ErrStorageFailure, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reader exposes the database for read-only queries by collaborating
// packages (the self-improvement pipeline shares the store file).
func (s *Store) Reader() *sql.DB { return s.db }

// WriteTx runs fn inside a serialized write transaction. Commit errors are
// storage failures; fn errors roll the transaction back with nothing visible.
func (s *Store) WriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", memory.ErrStorageFailure, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", memory.ErrStorageFailure, err)
	}
	return nil
}

// Now returns the store's current time (injectable in tests).
func (s *Store) Now() time.Time { return timeNow() }

// FormatTime renders t in the store's timestamp column layout.
func FormatTime(t time.Time) string { return formatTime(t) }

// ParseTime reads a stored timestamp, zero time on malformed input.
func ParseTime(s string) time.Time { return parseTime(s) }

// StartSession records a new session row.
func (s *Store) StartSession(ctx context.Context, sess memory.Session) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, started_at, project, branch, tool_call_count) VALUES (?,?,?,?,0)`,
			sess.ID, formatTime(sess.StartedAt), sess.Project, sess.Branch)
		if err != nil {
			return fmt.Errorf("%w: inserting session: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
}

// BumpToolCalls increments a session's tool call counter.
func (s *Store) BumpToolCalls(ctx context.Context, sessionID string) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions SET tool_call_count = tool_call_count + 1 WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("%w: bumping tool calls: %v", memory.ErrStorageFailure, err)
		}
		return nil
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	project         TEXT NOT NULL DEFAULT 'general',
	branch          TEXT NOT NULL DEFAULT '',
	tool_call_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS knowledge (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL CHECK(type IN ('decision','solution','lesson','fact','convention')),
	content        TEXT NOT NULL,
	context        TEXT NOT NULL DEFAULT '',
	project        TEXT NOT NULL DEFAULT 'general',
	branch         TEXT NOT NULL DEFAULT '',
	tags           TEXT NOT NULL DEFAULT '[]',
	confidence     REAL NOT NULL DEFAULT 0.8,
	recall_count   INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'active'
	               CHECK(status IN ('active','superseded','archived','purged')),
	supersedes     INTEGER,
	version        INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL,
	last_confirmed TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_status ON knowledge(status);
CREATE INDEX IF NOT EXISTS idx_knowledge_project ON knowledge(project);
CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge(type);
CREATE INDEX IF NOT EXISTS idx_knowledge_last_confirmed ON knowledge(last_confirmed);
CREATE INDEX IF NOT EXISTS idx_knowledge_supersedes ON knowledge(supersedes);

CREATE TABLE IF NOT EXISTS relations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id    INTEGER NOT NULL,
	to_id      INTEGER NOT NULL,
	type       TEXT NOT NULL CHECK(type IN ('causal','solution','context','related','contradicts')),
	created_at TEXT NOT NULL,
	UNIQUE(from_id, to_id, type)
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);

CREATE TABLE IF NOT EXISTS observations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL,
	tool_name        TEXT NOT NULL,
	summary          TEXT NOT NULL,
	files_affected   TEXT NOT NULL DEFAULT '[]',
	observation_type TEXT NOT NULL
	                 CHECK(observation_type IN ('bugfix','feature','refactor','change','discovery','decision')),
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);

CREATE TABLE IF NOT EXISTS errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	category    TEXT NOT NULL CHECK(category IN (
	            'code_error','logic_error','config_error','api_error',
	            'timeout','loop_detected','wrong_assumption','missing_context')),
	severity    TEXT NOT NULL CHECK(severity IN ('low','medium','high','critical')),
	fix         TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT 'general',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_category ON errors(category);
CREATE INDEX IF NOT EXISTS idx_errors_created ON errors(created_at);

CREATE TABLE IF NOT EXISTS insights (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	content          TEXT NOT NULL,
	category         TEXT NOT NULL,
	importance       INTEGER NOT NULL DEFAULT 2,
	confidence       REAL NOT NULL DEFAULT 0.5,
	source_error_ids TEXT NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL DEFAULT 'candidate'
	                 CHECK(status IN ('candidate','archived','promoted')),
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	content                 TEXT NOT NULL,
	project                 TEXT NOT NULL DEFAULT 'general',
	status                  TEXT NOT NULL DEFAULT 'active'
	                        CHECK(status IN ('active','suspended','retired')),
	fire_count              INTEGER NOT NULL DEFAULT 0,
	success_count           INTEGER NOT NULL DEFAULT 0,
	applications            INTEGER NOT NULL DEFAULT 0,
	created_from_insight_id INTEGER,
	created_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reflections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	reflection   TEXT NOT NULL,
	task_summary TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT '',
	project      TEXT NOT NULL DEFAULT 'general',
	session_id   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
	content, context, tags, content='knowledge', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS knowledge_fts_insert AFTER INSERT ON knowledge BEGIN
	INSERT INTO knowledge_fts(rowid, content, context, tags)
	SELECT new.id, new.content, new.context, new.tags WHERE new.status = 'active';
END;

-- Only active rows live in the keyword index: the update trigger drops the
-- old entry and reinserts only while the record stays active, so supersede,
-- archive, and purge all remove the record from keyword search atomically.
CREATE TRIGGER IF NOT EXISTS knowledge_fts_update AFTER UPDATE ON knowledge BEGIN
	INSERT INTO knowledge_fts(knowledge_fts, rowid, content, context, tags)
	SELECT 'delete', old.id, old.content, old.context, old.tags WHERE old.status = 'active';
	INSERT INTO knowledge_fts(rowid, content, context, tags)
	SELECT new.id, new.content, new.context, new.tags WHERE new.status = 'active';
END;
`
