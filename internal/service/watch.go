package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// DefaultSettleTime is how long a file must stay unchanged before upload.
const DefaultSettleTime = 500 * time.Millisecond

// WatchTarget is the entry key every file dropped into the inbox is filed under.
type WatchTarget struct {
	JobID        string
	Company      string
	Role         string
	Date         string
	PersonName   string
	KeepOriginal *bool
}

// UploadFunc stores one file; VersionService.UploadResume satisfies it.
type UploadFunc func(ctx context.Context, req UploadRequest) (*models.ManifestEntry, error)

// InboxWatcher uploads files that appear in a directory as new versions.
type InboxWatcher struct {
	dir      string
	target   WatchTarget
	upload   UploadFunc
	supports func(ext string) bool
	settle   time.Duration

	// OnUpload, when set, is called after every attempt.
	OnUpload func(path string, entry *models.ManifestEntry, err error)
}

// NewInboxWatcher creates a watcher over dir.
func NewInboxWatcher(dir string, target WatchTarget, upload UploadFunc, supports func(ext string) bool, settle time.Duration) *InboxWatcher {
	if settle <= 0 {
		settle = DefaultSettleTime
	}
	return &InboxWatcher{dir: dir, target: target, upload: upload, supports: supports, settle: settle}
}

// Run watches until ctx is cancelled. Create and write events are debounced
// per file until the file has been quiet for the settle time.
func (w *InboxWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("watching inbox", "dir", w.dir, "job_id", w.target.JobID)

	pending := map[string]time.Time{}
	tick := w.settle / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if w.accepts(ev.Name) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "dir", w.dir, "error", err)
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

func (w *InboxWatcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	return w.supports == nil || w.supports(filepath.Ext(name))
}

func (w *InboxWatcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	entry, err := w.upload(ctx, UploadRequest{
		FilePath:     path,
		JobID:        w.target.JobID,
		Company:      w.target.Company,
		Role:         w.target.Role,
		Date:         w.target.Date,
		PersonName:   w.target.PersonName,
		KeepOriginal: w.target.KeepOriginal,
	})
	if err != nil {
		slog.Warn("inbox upload failed", "path", path, "error", err)
	} else if active := entry.ActiveVersion(); active != nil {
		slog.Info("inbox upload stored", "path", path, "managed_path", active.ManagedPath)
	}
	if w.OnUpload != nil {
		w.OnUpload(path, entry, err)
	}
}
