package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/models"
)

// DefaultOperationsCap is the number of entries kept in the operations log.
const DefaultOperationsCap = 500

// OperationLog is the capped, session-tagged audit log of mutating operations.
// The whole log is rewritten atomically on every append.
type OperationLog struct {
	mu      sync.Mutex
	path    string
	cap     int
	session string
	now     func() time.Time
}

// NewOperationLog opens the log at path. An empty session gets a random id.
func NewOperationLog(path string, capacity int, session string) *OperationLog {
	if capacity <= 0 {
		capacity = DefaultOperationsCap
	}
	if session == "" {
		session = uuid.New().String()
	}
	return &OperationLog{path: path, cap: capacity, session: session, now: time.Now}
}

// SessionID returns the session tag applied to new entries.
func (l *OperationLog) SessionID() string {
	return l.session
}

// LogOperation appends one entry and trims the log to its cap, dropping the
// oldest entries first.
func (l *OperationLog) LogOperation(ctx context.Context, opType models.OperationType, details models.OperationDetails, canUndo bool) (*models.OperationLogEntry, error) {
	entry := models.OperationLogEntry{
		ID:        uuid.New().String(),
		Type:      opType,
		Timestamp: l.now().UTC(),
		Details:   details,
		CanUndo:   canUndo,
		SessionID: l.session,
	}

	err := l.update(func(entries []models.OperationLogEntry) ([]models.OperationLogEntry, error) {
		entries = append(entries, entry)
		if over := len(entries) - l.cap; over > 0 {
			entries = entries[over:]
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("operation logged", "id", entry.ID, "type", entry.Type, "can_undo", canUndo)
	return &entry, nil
}

// GetUndoableOperations returns this session's entries that can still be
// undone, most recent first.
func (l *OperationLog) GetUndoableOperations(ctx context.Context) ([]models.OperationLogEntry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.OperationLogEntry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].CanUndo && entries[i].SessionID == l.session {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

// ListOperations returns entries of all sessions, most recent first.
// limit <= 0 returns everything.
func (l *OperationLog) ListOperations(ctx context.Context, limit int) ([]models.OperationLogEntry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns one entry by id.
func (l *OperationLog) Get(ctx context.Context, id string) (*models.OperationLogEntry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
}

// markUndone clears can_undo on id and appends the non-undoable rollback
// record in the same rewrite.
func (l *OperationLog) markUndone(ctx context.Context, id string, details models.OperationDetails) (*models.OperationLogEntry, error) {
	details.UndoneOperation = id
	record := models.OperationLogEntry{
		ID:        uuid.New().String(),
		Type:      models.OpRollback,
		Timestamp: l.now().UTC(),
		Details:   details,
		CanUndo:   false,
		SessionID: l.session,
	}

	err := l.update(func(entries []models.OperationLogEntry) ([]models.OperationLogEntry, error) {
		found := false
		for i := range entries {
			if entries[i].ID == id {
				entries[i].CanUndo = false
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
		}
		entries = append(entries, record)
		if over := len(entries) - l.cap; over > 0 {
			entries = entries[over:]
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *OperationLog) load() ([]models.OperationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *OperationLog) loadLocked() ([]models.OperationLogEntry, error) {
	var entries []models.OperationLogEntry
	if err := db.ReadJSON(l.path, &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.OperationLogEntry{}, nil
		}
		return nil, fmt.Errorf("load operations log: %w", err)
	}
	return entries, nil
}

func (l *OperationLog) update(fn func([]models.OperationLogEntry) ([]models.OperationLogEntry, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.loadLocked()
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	if next == nil {
		next = []models.OperationLogEntry{}
	}
	if err := db.WriteJSONAtomic(l.path, next); err != nil {
		return fmt.Errorf("save operations log: %w", err)
	}
	return nil
}
