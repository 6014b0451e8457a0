// Package extract manages the transcript extraction queue: session
// transcripts dropped under extract-queue/ wait for the assistant to read
// them in chunks, distill anything worth keeping, and mark them done.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/logging"
	"github.com/vbcherepanov/claude-total-memory/internal/memory"
)

const (
	// ChunkSize bounds one Get response so a transcript never blows a
	// context window in a single call.
	ChunkSize = 100 * 1024

	doneDir = "done"

	// Completed transcripts are kept briefly for debugging, then removed.
	doneRetentionDays = 7
)

var timeNow = time.Now

// Queue is the on-disk extraction queue.
type Queue struct {
	dir    string
	logger *logging.Logger
}

// New opens the queue rooted at dir, creating the layout if needed, and
// sweeps expired completed transcripts.
func New(dir string, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{dir: dir, logger: logger.Named("extract")}
	if err := os.MkdirAll(filepath.Join(dir, doneDir), 0o700); err != nil {
		return nil, fmt.Errorf("creating extract queue: %w", err)
	}
	q.sweepDone()
	return q, nil
}

// Item is one pending transcript.
type Item struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Chunks    int       `json:"chunks"`
	QueuedAt  time.Time `json:"queued_at"`
}

// List returns pending transcripts, oldest first.
func (q *Queue) List() ([]Item, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading extract queue: %v", memory.ErrStorageFailure, err)
	}
	items := []Item{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		chunks := int((info.Size() + ChunkSize - 1) / ChunkSize)
		if chunks == 0 {
			chunks = 1
		}
		items = append(items, Item{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			Chunks:    chunks,
			QueuedAt:  info.ModTime().UTC(),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].QueuedAt.Before(items[j].QueuedAt) })
	return items, nil
}

// Chunk is one slice of a pending transcript.
type Chunk struct {
	Name    string `json:"name"`
	Index   int    `json:"chunk"`
	Total   int    `json:"total_chunks"`
	Content string `json:"content"`
	EOF     bool   `json:"eof"`
}

// Get reads chunk index (0-based) of a pending transcript.
func (q *Queue) Get(name string, index int) (Chunk, error) {
	path, err := q.pendingPath(name)
	if err != nil {
		return Chunk{}, err
	}
	if index < 0 {
		return Chunk{}, fmt.Errorf("%w: chunk index %d", memory.ErrInvalidArgument, index)
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Chunk{}, fmt.Errorf("%w: transcript %q", memory.ErrNotFound, name)
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: opening transcript: %v", memory.ErrStorageFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: stat transcript: %v", memory.ErrStorageFailure, err)
	}
	total := int((info.Size() + ChunkSize - 1) / ChunkSize)
	if total == 0 {
		total = 1
	}
	if index >= total {
		return Chunk{}, fmt.Errorf("%w: chunk %d of %d in %q", memory.ErrInvalidArgument, index, total, name)
	}

	buf := make([]byte, ChunkSize)
	n, err := f.ReadAt(buf, int64(index)*ChunkSize)
	if err != nil && err != io.EOF {
		return Chunk{}, fmt.Errorf("%w: reading transcript: %v", memory.ErrStorageFailure, err)
	}
	return Chunk{
		Name:    name,
		Index:   index,
		Total:   total,
		Content: string(buf[:n]),
		EOF:     index == total-1,
	}, nil
}

// Complete moves a pending transcript into done/, out of the pending list.
func (q *Queue) Complete(name string) error {
	path, err := q.pendingPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: transcript %q", memory.ErrNotFound, name)
	}
	dest := filepath.Join(q.dir, doneDir,
		timeNow().UTC().Format("20060102-150405")+"-"+name)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("%w: completing transcript %q: %v", memory.ErrStorageFailure, name, err)
	}
	q.logger.Info("transcript extraction complete", zap.String("name", name))
	return nil
}

// Enqueue drops content into the queue under name. Hooks normally write the
// files directly; this exists for tooling and tests.
func (q *Queue) Enqueue(name string, content []byte) error {
	path, err := q.pendingPath(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("%w: enqueueing transcript %q: %v", memory.ErrStorageFailure, name, err)
	}
	return nil
}

// pendingPath validates name and resolves it inside the queue directory.
func (q *Queue) pendingPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: transcript name %q", memory.ErrInvalidArgument, name)
	}
	return filepath.Join(q.dir, name), nil
}

// sweepDone removes completed transcripts older than the retention window.
func (q *Queue) sweepDone() {
	cutoff := timeNow().AddDate(0, 0, -doneRetentionDays)
	entries, err := os.ReadDir(filepath.Join(q.dir, doneDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(q.dir, doneDir, e.Name())
		if err := os.Remove(path); err != nil {
			q.logger.Warn("sweeping done transcript failed", zap.String("path", path), zap.Error(err))
		}
	}
}
