package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/models"
)

// UndoResult reports what an undo removed, restored and failed to reverse.
// Individual failures do not fail the undo.
type UndoResult struct {
	OperationID string
	Type        models.OperationType
	Removed     []string
	Restored    []string
	Failed      []string
}

func (r *UndoResult) fail(item string, err error) {
	r.Failed = append(r.Failed, fmt.Sprintf("%s: %v", item, err))
	slog.Warn("undo step failed", "operation", r.OperationID, "item", item, "error", err)
}

func (r *UndoResult) removePath(path string) {
	if err := removeFile(path); err != nil {
		r.fail(path, err)
		return
	}
	r.Removed = append(r.Removed, path)
}

// removeTree deletes folder recursively; folders outside root are refused.
func (r *UndoResult) removeTree(root, folder string) {
	if folder == "" || filepath.Clean(folder) == filepath.Clean(root) || !within(root, folder) {
		r.fail(folder, fmt.Errorf("refusing to remove folder outside %s", root))
		return
	}
	if err := os.RemoveAll(folder); err != nil {
		r.fail(folder, classifyIOError("remove", folder, err))
		return
	}
	r.Removed = append(r.Removed, folder)
}

// Undoer reverses logged operations by replaying their undo data.
type Undoer struct {
	db          *db.Client
	ops         *OperationLog
	migration   *MigrationService
	attachments *AttachmentService
	metrics     *metrics.Collector
}

// NewUndoer creates an undo executor.
func NewUndoer(dbClient *db.Client, ops *OperationLog, migration *MigrationService, attachments *AttachmentService, m *metrics.Collector) *Undoer {
	return &Undoer{db: dbClient, ops: ops, migration: migration, attachments: attachments, metrics: m}
}

// Undo reverses the operation with the given id. Deletes, renames and
// rollback records are never undoable; an operation that was already undone
// fails with ErrAlreadyUndone without touching the filesystem.
func (u *Undoer) Undo(ctx context.Context, operationID string) (res *UndoResult, err error) {
	start := time.Now()
	defer func() { u.metrics.RecordTiming(metrics.OpUndo, time.Since(start), err) }()

	op, err := u.ops.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}

	switch op.Type {
	case models.OpDelete:
		return nil, fmt.Errorf("%w: deletions take no backup", ErrNotSupported)
	case models.OpRename, models.OpRollback:
		return nil, fmt.Errorf("%w: %s operations", ErrNotSupported, op.Type)
	}
	if !op.CanUndo {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyUndone, operationID)
	}
	if op.SessionID != u.ops.SessionID() {
		return nil, fmt.Errorf("%w: %s was recorded by session %s", ErrSessionMismatch, operationID, op.SessionID)
	}

	res = &UndoResult{OperationID: op.ID, Type: op.Type}
	switch op.Type {
	case models.OpUpload:
		u.undoUpload(ctx, op, res)
	case models.OpRestore:
		u.undoVersions(ctx, op, res)
	case models.OpBulkImport:
		if err := u.migration.undoImport(ctx, op, res); err != nil {
			return res, err
		}
		u.removeEntries(ctx, op.Details.ManifestEntryIDs, res)
	case models.OpConvert:
		if err := u.attachments.undoBulkOperation(ctx, op.Details.RunID, res); err != nil {
			return res, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown operation type %q", ErrNotSupported, op.Type)
	}

	details := models.OperationDetails{
		Files:       res.Removed,
		JobID:       op.Details.JobID,
		RunID:       op.Details.RunID,
		Description: fmt.Sprintf("undo %s (%d removed, %d restored, %d failed)", op.Type, len(res.Removed), len(res.Restored), len(res.Failed)),
	}
	if _, err := u.ops.markUndone(ctx, op.ID, details); err != nil {
		return res, fmt.Errorf("mark operation undone: %w", err)
	}

	slog.Info("operation undone", "id", op.ID, "type", op.Type, "removed", len(res.Removed), "failed", len(res.Failed))
	return res, nil
}

// undoUpload drops the uploaded version, restores a moved source file and
// removes entries the upload created once they hold no versions.
func (u *Undoer) undoUpload(ctx context.Context, op *models.OperationLogEntry, res *UndoResult) {
	if op.Details.RestoreSource && op.Details.SourcePath != "" && !pathExists(op.Details.SourcePath) {
		if _, err := copyFile(op.Details.TargetPath, op.Details.SourcePath, true); err != nil {
			res.fail(op.Details.SourcePath, err)
		} else {
			res.Restored = append(res.Restored, op.Details.SourcePath)
		}
	}
	u.undoVersions(ctx, op, res)
	u.removeEntries(ctx, op.Details.ManifestEntryIDs, res)
}

// undoVersions removes the listed versions and their files, reactivating
// the previously active version.
func (u *Undoer) undoVersions(ctx context.Context, op *models.OperationLogEntry, res *UndoResult) {
	for _, ref := range op.Details.Versions {
		var removed models.VersionEntry
		_, err := u.db.QueryUpdateEntry(ctx, ref.EntryID, func(e *models.ManifestEntry) error {
			v, ok := e.RemoveVersion(ref.VersionID)
			if !ok {
				return fmt.Errorf("%w: version %s", db.ErrNotFound, ref.VersionID)
			}
			removed = v
			if prev := op.Details.PreviousActive; prev != nil && prev.EntryID == e.ID && e.ActiveVersion() == nil {
				e.Activate(prev.VersionID)
			}
			e.LastUpdated = time.Now().UTC()
			return nil
		})
		if err != nil {
			res.fail(ref.VersionID, err)
			continue
		}
		res.removePath(removed.ManagedPath)
	}
}

// removeEntries deletes manifest entries, keeping any that still hold
// versions added by later operations.
func (u *Undoer) removeEntries(ctx context.Context, ids []string, res *UndoResult) {
	for _, id := range ids {
		entry, err := u.db.QueryGetEntry(ctx, id)
		if err != nil {
			res.fail(id, err)
			continue
		}
		if len(entry.Versions) > 0 {
			slog.Warn("keeping manifest entry with later versions", "entry", id, "versions", len(entry.Versions))
			continue
		}
		if _, err := u.db.QueryDeleteEntry(ctx, id); err != nil {
			res.fail(id, err)
			continue
		}
		res.Removed = append(res.Removed, "manifest:"+id)
	}
}
