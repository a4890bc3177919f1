// Package watcher ingests PDFs and note archives dropped into a directory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"iqbot/internal/logger"
	"iqbot/models"
	"iqbot/services"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is how long a file must stay unchanged before it is read.
const defaultSettle = 500 * time.Millisecond

type Ingester interface {
	Ingest(ctx context.Context, kind models.SourceKind, name string, data []byte) (services.IngestResult, error)
}

// Inbox watches one directory. Files already present when Run starts are
// ingested too; the registry turns repeats into no-ops.
type Inbox struct {
	dir      string
	ingester Ingester
	settle   time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func NewInbox(dir string, ingester Ingester) *Inbox {
	return &Inbox{
		dir:      dir,
		ingester: ingester,
		settle:   defaultSettle,
		pending:  make(map[string]*time.Timer),
	}
}

// KindForFile maps a file extension to the source kind that reads it.
func KindForFile(path string) (models.SourceKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return models.SourceKindPDF, true
	case ".zip":
		return models.SourceKindArchive, true
	}
	return "", false
}

// Run blocks until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", in.dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}
	logger.Info("Watching inbox", "dir", in.dir)

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			in.schedule(ctx, filepath.Join(in.dir, e.Name()))
		}
	}

	defer in.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			in.schedule(ctx, event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Inbox watcher error", "dir", in.dir, "error", err)
		}
	}
}

// schedule (re)starts the settle timer of path.
func (in *Inbox) schedule(ctx context.Context, path string) {
	if _, ok := KindForFile(path); !ok {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.pending[path]; ok && t.Stop() {
		t.Reset(in.settle)
		return
	}
	in.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(in.settle, func() {
		defer in.wg.Done()
		in.mu.Lock()
		if in.pending[path] == t {
			delete(in.pending, path)
		}
		in.mu.Unlock()
		if ctx.Err() == nil {
			in.ingestFile(ctx, path)
		}
	})
	in.pending[path] = t
}

func (in *Inbox) ingestFile(ctx context.Context, path string) {
	kind, _ := KindForFile(path)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read inbox file", "path", path, "error", err)
		return
	}

	res, err := in.ingester.Ingest(ctx, kind, filepath.Base(path), data)
	if err != nil {
		logger.Warn("Inbox file not ingested", "path", path, "error", err)
		return
	}
	logger.Info("Inbox file processed", "path", path, "status", res.Status, "chunks", res.Source.ChunkCount)
}

// stop cancels timers that have not fired and waits for running ones.
func (in *Inbox) stop() {
	in.mu.Lock()
	for path, t := range in.pending {
		if t.Stop() {
			in.wg.Done()
		}
		delete(in.pending, path)
	}
	in.mu.Unlock()
	in.wg.Wait()
}
