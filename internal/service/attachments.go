package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/models"
)

// AttachmentOptions configures an AttachmentService.
type AttachmentOptions struct {
	LogDir  string // migration-log directory; bulk files go to LogDir/bulk-operations
	Metrics *metrics.Collector
}

// AttachmentService converts jobs between copy and reference attachment modes.
type AttachmentService struct {
	jobs    *JobRepository
	ops     *OperationLog
	bulkDir string
	metrics *metrics.Collector
	now     func() time.Time
}

// NewAttachmentService creates an attachment mode converter.
func NewAttachmentService(jobs *JobRepository, ops *OperationLog, opts AttachmentOptions) *AttachmentService {
	return &AttachmentService{
		jobs:    jobs,
		ops:     ops,
		bulkDir: filepath.Join(opts.LogDir, "bulk-operations"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// CopyToReference removes the managed copies of each job's attachments and
// records where they live instead.
func (s *AttachmentService) CopyToReference(ctx context.Context, jobIDs []string, createBackup bool) (*models.BulkOperation, error) {
	return s.runBulk(ctx, models.BulkCopyToReference, jobIDs, createBackup)
}

// ReferenceToCopy copies each job's referenced attachments into its folder.
func (s *AttachmentService) ReferenceToCopy(ctx context.Context, jobIDs []string, createBackup bool) (*models.BulkOperation, error) {
	return s.runBulk(ctx, models.BulkReferenceToCopy, jobIDs, createBackup)
}

func (s *AttachmentService) runBulk(ctx context.Context, kind models.BulkOperationType, jobIDs []string, createBackup bool) (bulk *models.BulkOperation, err error) {
	defer s.metrics.Time(metrics.OpConvert)(&err)

	bulk = &models.BulkOperation{
		ID:           uuid.New().String(),
		Type:         kind,
		Timestamp:    s.now().UTC(),
		JobIDs:       append([]string(nil), jobIDs...),
		CreateBackup: createBackup,
		Log:          []models.MigrationLogEntry{},
	}
	if createBackup {
		bulk.BackupFolder = filepath.Join(s.bulkDir, bulk.ID, "backups")
		if err := os.MkdirAll(bulk.BackupFolder, 0o755); err != nil {
			return nil, classifyIOError("create backup folder", bulk.BackupFolder, err)
		}
	}

	for _, id := range jobIDs {
		if ctx.Err() != nil {
			break
		}
		var entry models.MigrationLogEntry
		switch kind {
		case models.BulkCopyToReference:
			entry = s.copyToReference(ctx, id, bulk.BackupFolder)
		default:
			entry = s.referenceToCopy(ctx, id, bulk.BackupFolder)
		}

		switch entry.Action {
		case models.ActionSkip:
			bulk.Skipped++
		case models.ActionError:
			bulk.Failed++
		default:
			bulk.Successful++
		}
		bulk.Log = append(bulk.Log, entry)
	}

	bulk.Status = models.BulkCompleted
	if bulk.Successful == 0 && bulk.Failed > 0 {
		bulk.Status = models.BulkFailed
	}

	if err := s.saveBulk(bulk); err != nil {
		slog.Warn("failed to write bulk operation log", "id", bulk.ID, "error", err)
	}

	if s.ops != nil {
		details := models.OperationDetails{
			RunID:       bulk.ID,
			Description: fmt.Sprintf("%s: %d converted, %d failed, %d skipped", kind, bulk.Successful, bulk.Failed, bulk.Skipped),
		}
		if len(jobIDs) == 1 {
			details.JobID = jobIDs[0]
		}
		if _, err := s.ops.LogOperation(ctx, models.OpConvert, details, bulk.Successful > 0); err != nil {
			slog.Warn("failed to record operation", "type", models.OpConvert, "error", err)
		}
	}

	slog.Info("bulk conversion complete",
		"id", bulk.ID,
		"type", kind,
		"status", bulk.Status,
		"successful", bulk.Successful,
		"failed", bulk.Failed,
		"skipped", bulk.Skipped)
	return bulk, nil
}

func (s *AttachmentService) logEntry(id string, action models.LogAction) models.MigrationLogEntry {
	return models.MigrationLogEntry{ID: uuid.New().String(), Timestamp: s.now().UTC(), Action: action, JobID: id}
}

func (s *AttachmentService) errorEntry(id string, err error) models.MigrationLogEntry {
	entry := s.logEntry(id, models.ActionError)
	entry.Error = err.Error()
	slog.Warn("attachment conversion failed", "job_id", id, "error", err)
	return entry
}

// copyToReference converts one job. The external location is referenced
// only when it still holds the managed bytes. Otherwise a file is removed
// only when a backup copy exists to reference instead, and stays in place
// referencing itself when there is none.
func (s *AttachmentService) copyToReference(ctx context.Context, id, backupRoot string) models.MigrationLogEntry {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return s.errorEntry(id, err)
	}
	rec := job.Record
	if rec.AttachmentMode == models.AttachmentReference {
		entry := s.logEntry(id, models.ActionSkip)
		entry.SourcePath = job.Folder
		entry.Error = "already in reference mode"
		return entry
	}

	files, err := attachmentFiles(job.Folder)
	if err != nil {
		return s.errorEntry(id, err)
	}

	undo := &models.ReferenceUndo{
		JobFolder:     job.Folder,
		RemovedFiles:  []string{},
		PreviousMode:  rec.AttachmentMode,
		PreviousPaths: maps.Clone(rec.AttachmentPaths),
	}
	if backupRoot != "" {
		undo.BackupPath = filepath.Join(backupRoot, id)
		if _, err := copyDir(job.Folder, undo.BackupPath); err != nil {
			return s.errorEntry(id, fmt.Errorf("backup job folder: %w", err))
		}
	}

	paths := maps.Clone(rec.AttachmentPaths)
	if paths == nil {
		paths = map[string]string{}
	}
	backups := maps.Clone(rec.AttachmentBackups)
	sums := maps.Clone(rec.AttachmentSums)
	if sums == nil {
		sums = map[string]string{}
	}

	var kept []string
	for _, name := range files {
		current := filepath.Join(job.Folder, name)
		sum, err := checksumFile(current)
		if err != nil {
			restoreRemoved(job.Folder, undo)
			return s.errorEntry(id, err)
		}
		external := rec.OriginalPaths[name]
		if external == "" {
			external = paths[name]
		}

		var ref string
		switch {
		case external != "" && external != current && sameContent(external, sum):
			ref = external
		case undo.BackupPath != "":
			ref = filepath.Join(undo.BackupPath, name)
		default:
			paths[name] = current
			kept = append(kept, name)
			continue
		}

		if undo.BackupPath != "" {
			if backups == nil {
				backups = map[string]string{}
			}
			backups[name] = filepath.Join(undo.BackupPath, name)
		}
		if err := removeFile(current); err != nil {
			restoreRemoved(job.Folder, undo)
			return s.errorEntry(id, err)
		}
		paths[name] = ref
		sums[name] = sum
		undo.RemovedFiles = append(undo.RemovedFiles, name)
	}

	rec.AttachmentMode = models.AttachmentReference
	rec.AttachmentPaths = paths
	rec.AttachmentBackups = backups
	if len(sums) == 0 {
		sums = nil
	}
	rec.AttachmentSums = sums
	rec.UpdatedAt = s.now().UTC()
	if err := s.jobs.Save(ctx, job.Folder, rec); err != nil {
		restoreRemoved(job.Folder, undo)
		return s.errorEntry(id, err)
	}

	entry := s.logEntry(id, models.ActionReference)
	entry.SourcePath = job.Folder
	entry.CanUndo = true
	entry.UndoData = &models.UndoData{Reference: undo}
	if len(kept) > 0 {
		entry.Error = "kept in place (no matching external copy): " + strings.Join(kept, ", ")
	}
	return entry
}

// referenceToCopy converts one job. Failed copies keep their reference.
func (s *AttachmentService) referenceToCopy(ctx context.Context, id, backupRoot string) models.MigrationLogEntry {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return s.errorEntry(id, err)
	}
	rec := job.Record
	if rec.AttachmentMode != models.AttachmentReference {
		entry := s.logEntry(id, models.ActionSkip)
		entry.SourcePath = job.Folder
		entry.Error = "already in copy mode"
		return entry
	}

	undo := &models.CopyUndo{
		JobFolder:     job.Folder,
		CopiedFiles:   []string{},
		PreviousMode:  rec.AttachmentMode,
		PreviousPaths: maps.Clone(rec.AttachmentPaths),
	}
	if backupRoot != "" {
		undo.BackupPath = filepath.Join(backupRoot, id)
		if _, err := copyDir(job.Folder, undo.BackupPath); err != nil {
			return s.errorEntry(id, fmt.Errorf("backup job folder: %w", err))
		}
	}

	remaining := maps.Clone(rec.AttachmentPaths)
	originals := maps.Clone(rec.OriginalPaths)
	if originals == nil {
		originals = map[string]string{}
	}

	var failed []string
	for _, name := range slices.Sorted(maps.Keys(rec.AttachmentPaths)) {
		ref := rec.AttachmentPaths[name]
		dst := filepath.Join(job.Folder, name)

		if ref == dst && fileExists(dst) {
			delete(remaining, name)
			continue
		}

		src := copySource(ref, rec.AttachmentBackups[name], rec.AttachmentSums[name])
		if src == "" {
			failed = append(failed, name)
			continue
		}
		if fileExists(dst) {
			failed = append(failed, name+" (destination exists)")
			continue
		}
		if _, err := copyFile(src, dst, true); err != nil {
			slog.Warn("failed to copy referenced attachment", "job_id", id, "file", name, "error", err)
			failed = append(failed, name)
			continue
		}
		undo.CopiedFiles = append(undo.CopiedFiles, name)
		if ref != dst && ref != rec.AttachmentBackups[name] {
			originals[name] = ref
		}
		delete(remaining, name)
	}

	if len(failed) > 0 && len(undo.CopiedFiles) == 0 && len(remaining) > 0 {
		return s.errorEntry(id, fmt.Errorf("no referenced attachment could be copied: %s", strings.Join(failed, ", ")))
	}

	rec.AttachmentMode = models.AttachmentCopy
	if len(remaining) == 0 {
		remaining = nil
	}
	rec.AttachmentPaths = remaining
	rec.OriginalPaths = originals
	rec.UpdatedAt = s.now().UTC()
	if err := s.jobs.Save(ctx, job.Folder, rec); err != nil {
		for _, name := range undo.CopiedFiles {
			_ = removeFile(filepath.Join(job.Folder, name))
		}
		return s.errorEntry(id, err)
	}

	entry := s.logEntry(id, models.ActionCopy)
	entry.SourcePath = job.Folder
	entry.CanUndo = true
	entry.UndoData = &models.UndoData{Copy: undo}
	if len(failed) > 0 {
		entry.Error = "kept as reference: " + strings.Join(failed, ", ")
	}
	return entry
}

// copySource picks the file to restore a referenced attachment from. A
// candidate matching the checksum recorded at conversion wins; without a
// match the reference is used if it still exists.
func copySource(ref, backup, sum string) string {
	candidates := []string{ref, backup}
	if sum != "" {
		for _, c := range candidates {
			if c != "" && sameContent(c, sum) {
				return c
			}
		}
		if fileExists(ref) {
			slog.Warn("referenced attachment changed since conversion", "path", ref)
		}
	}
	for _, c := range candidates {
		if c != "" && fileExists(c) {
			return c
		}
	}
	return ""
}

// sameContent reports whether path is a regular file with the given sha256.
func sameContent(path, sum string) bool {
	if !fileExists(path) {
		return false
	}
	got, err := checksumFile(path)
	return err == nil && got == sum
}

// restoreRemoved copies removed files back from the backup after a
// conversion failed halfway.
func restoreRemoved(folder string, undo *models.ReferenceUndo) {
	if undo.BackupPath == "" {
		return
	}
	for _, name := range undo.RemovedFiles {
		if _, err := copyFile(filepath.Join(undo.BackupPath, name), filepath.Join(folder, name), false); err != nil {
			slog.Warn("failed to restore attachment", "file", name, "error", err)
		}
	}
}

// attachmentFiles lists the non-metadata regular files of a job folder.
func attachmentFiles(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, classifyIOError("list", folder, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || models.IsMetadataFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *AttachmentService) bulkPath(id string) string {
	return filepath.Join(s.bulkDir, id+".json")
}

func (s *AttachmentService) saveBulk(bulk *models.BulkOperation) error {
	return db.WriteJSONAtomic(s.bulkPath(bulk.ID), bulk)
}

// LoadBulkOperation reads one bulk operation file.
func (s *AttachmentService) LoadBulkOperation(id string) (*models.BulkOperation, error) {
	var bulk models.BulkOperation
	if err := db.ReadJSON(s.bulkPath(id), &bulk); err != nil {
		return nil, fmt.Errorf("load bulk operation %s: %w", id, err)
	}
	return &bulk, nil
}

// undoBulkOperation replays the undo data of every converted job, newest
// first, and rewrites the bulk file.
func (s *AttachmentService) undoBulkOperation(ctx context.Context, id string, res *UndoResult) error {
	bulk, err := s.LoadBulkOperation(id)
	if err != nil {
		return err
	}

	for i := len(bulk.Log) - 1; i >= 0; i-- {
		entry := &bulk.Log[i]
		if !entry.CanUndo || entry.UndoData == nil {
			continue
		}

		var undoErr error
		switch {
		case entry.UndoData.Reference != nil:
			undoErr = s.undoReference(ctx, entry.UndoData.Reference, res)
		case entry.UndoData.Copy != nil:
			undoErr = s.undoCopy(ctx, entry.UndoData.Copy, res)
		default:
			continue
		}
		if undoErr != nil {
			res.fail(entry.JobID, undoErr)
			continue
		}

		entry.CanUndo = false
		bulk.Log = append(bulk.Log, models.MigrationLogEntry{
			ID:         uuid.New().String(),
			Timestamp:  s.now().UTC(),
			Action:     models.ActionUndo,
			SourcePath: entry.SourcePath,
			JobID:      entry.JobID,
		})
	}

	if err := s.saveBulk(bulk); err != nil {
		slog.Warn("failed to rewrite bulk operation log", "id", id, "error", err)
	}
	return nil
}

// undoReference copies removed files back into the job folder, preferring
// the backup, and restores the previous mode and references.
func (s *AttachmentService) undoReference(ctx context.Context, undo *models.ReferenceUndo, res *UndoResult) error {
	rec, err := s.jobs.LoadFolder(undo.JobFolder)
	if err != nil {
		return err
	}

	var failures []string
	for _, name := range undo.RemovedFiles {
		dst := filepath.Join(undo.JobFolder, name)
		if fileExists(dst) {
			continue
		}
		var src string
		if undo.BackupPath != "" && fileExists(filepath.Join(undo.BackupPath, name)) {
			src = filepath.Join(undo.BackupPath, name)
		} else if ref := rec.AttachmentPaths[name]; ref != "" && fileExists(ref) {
			src = ref
		}
		if src == "" {
			failures = append(failures, name)
			continue
		}
		if _, err := copyFile(src, dst, true); err != nil {
			failures = append(failures, name)
			continue
		}
		res.Restored = append(res.Restored, dst)
	}
	if len(failures) > 0 {
		return fmt.Errorf("could not restore %s", strings.Join(failures, ", "))
	}

	rec.AttachmentMode = undo.PreviousMode
	rec.AttachmentPaths = undo.PreviousPaths
	rec.UpdatedAt = s.now().UTC()
	return s.jobs.Save(ctx, undo.JobFolder, *rec)
}

// undoCopy deletes the copies a reference->copy conversion made and puts
// the reference map back verbatim.
func (s *AttachmentService) undoCopy(ctx context.Context, undo *models.CopyUndo, res *UndoResult) error {
	rec, err := s.jobs.LoadFolder(undo.JobFolder)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range undo.CopiedFiles {
		path := filepath.Join(undo.JobFolder, name)
		if err := removeFile(path); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Removed = append(res.Removed, path)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	rec.AttachmentMode = undo.PreviousMode
	rec.AttachmentPaths = undo.PreviousPaths
	rec.UpdatedAt = s.now().UTC()
	return s.jobs.Save(ctx, undo.JobFolder, *rec)
}
