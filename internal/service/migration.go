package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/models"
	"github.com/raphaelgruber/applytrack/internal/parser"
)

// DefaultMaxCandidateSize caps how much of the source tree is read per file.
const DefaultMaxCandidateSize = 4 << 20

const suggestionStamp = "20060102-150405"

// resumeLikeExtensions mark sibling files of a job folder as attachments.
var resumeLikeExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".odt": true, ".rtf": true,
}

// MigrationOptions configures a MigrationService.
type MigrationOptions struct {
	LogDir           string // migration-log directory
	Concurrency      int    // parallel candidate parsers (default 4)
	MaxCandidateSize int64
	Metrics          *metrics.Collector
}

// ImportOptions controls ExecuteImport.
type ImportOptions struct {
	// HandleConflicts imports conflicting jobs into their suggested folder
	// instead of skipping them.
	HandleConflicts bool
	// CreateBackup copies each job's source files (and anything that would be
	// overwritten) into a per-run backup folder before importing.
	CreateBackup bool
}

// MigrationService discovers job files in external folders and imports them
// into the jobs folder.
type MigrationService struct {
	db          *db.Client
	jobs        *JobRepository
	ops         *OperationLog
	logDir      string
	concurrency int
	maxSize     int64
	metrics     *metrics.Collector
	now         func() time.Time
}

// NewMigrationService creates a migration service.
func NewMigrationService(dbClient *db.Client, jobs *JobRepository, ops *OperationLog, opts MigrationOptions) *MigrationService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxCandidateSize <= 0 {
		opts.MaxCandidateSize = DefaultMaxCandidateSize
	}
	return &MigrationService{
		db:          dbClient,
		jobs:        jobs,
		ops:         ops,
		logDir:      opts.LogDir,
		concurrency: opts.Concurrency,
		maxSize:     opts.MaxCandidateSize,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// ScanForImportableJobs walks sourceDir and returns one candidate per
// distinct job found, in walk order. Later duplicates are dropped.
func (s *MigrationService) ScanForImportableJobs(ctx context.Context, sourceDir string) (jobs []models.ImportableJob, err error) {
	defer s.metrics.Time(metrics.OpScan)(&err)

	sourceDir = absPath(sourceDir)
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, classifyIOError("scan", sourceDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path must be a directory: %s", sourceDir)
	}

	cfg := s.db.ServiceConfig()
	skip := map[string]bool{}
	for _, dir := range []string{cfg.JobsFolder, cfg.ManagedFolder, s.logDir} {
		if dir != "" {
			skip[absPath(dir)] = true
		}
	}

	var candidates []string
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == sourceDir {
				return err
			}
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != sourceDir && (strings.HasPrefix(d.Name(), ".") || skip[path]) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && parser.IsCandidate(d.Name()) {
			candidates = append(candidates, path)
		}
		return nil
	}
	if err := filepath.WalkDir(sourceDir, walkFn); err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}

	detected := s.parseCandidates(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	jobs = make([]models.ImportableJob, 0, len(candidates))
	for i, path := range candidates {
		det := detected[i]
		if det == nil {
			continue
		}
		key := parser.DedupKey(*det)
		if seen[key] {
			slog.Debug("dropping duplicate candidate", "path", path)
			continue
		}
		seen[key] = true

		jobs = append(jobs, models.ImportableJob{
			ID:             uuid.New().String(),
			OriginalPath:   path,
			Detected:       *det,
			ProposedFolder: filepath.Join(cfg.JobsFolder, models.FolderName(cfg.NamingFormat, det.Company, det.Role, det.Date)),
			Status:         models.ImportMapped,
		})
	}

	slog.Info("scan complete", "dir", sourceDir, "candidates", len(candidates), "jobs", len(jobs))
	return jobs, nil
}

// parseCandidates reads and parses files with a worker pool. The result is
// indexed like paths; nil marks files that are not jobs.
func (s *MigrationService) parseCandidates(ctx context.Context, paths []string) []*models.DetectedJob {
	out := make([]*models.DetectedJob, len(paths))
	work := make(chan int, len(paths))
	var wg sync.WaitGroup

	for w := 0; w < s.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					return
				}
				out[i] = s.parseCandidate(paths[i])
			}
		}()
	}
	for i := range paths {
		work <- i
	}
	close(work)
	wg.Wait()
	return out
}

func (s *MigrationService) parseCandidate(path string) *models.DetectedJob {
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.maxSize {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("failed to read candidate", "path", path, "error", err)
		return nil
	}
	det, ok := parser.ParseJobFile(filepath.Base(path), data)
	if !ok {
		return nil
	}
	return &det
}

// CheckForConflicts recomputes each candidate's target folder and marks it
// ready or conflict. Two candidates mapping to one folder conflict on the
// later one.
func (s *MigrationService) CheckForConflicts(ctx context.Context, jobs []models.ImportableJob) []models.ImportableJob {
	cfg := s.db.ServiceConfig()
	root := filepath.Clean(cfg.JobsFolder)
	stamp := s.now().Format(suggestionStamp)
	claimed := make(map[string]bool)

	out := make([]models.ImportableJob, len(jobs))
	for i, job := range jobs {
		job.Conflicts = nil
		if job.Status == models.ImportImported {
			out[i] = job
			continue
		}

		name := models.FolderName(cfg.NamingFormat, job.Detected.Company, job.Detected.Role, job.Detected.Date)
		target := filepath.Join(root, name)
		job.ProposedFolder = target

		if target == root || !within(root, target) {
			job.Conflicts = []models.ConflictInfo{{Type: models.ConflictInvalidPath, Path: target}}
			job.Status = models.ImportConflict
			out[i] = job
			continue
		}

		switch {
		case pathExists(target):
			job.Conflicts = append(job.Conflicts, models.ConflictInfo{Type: models.ConflictFolderExists, Path: target})
			for _, f := range []string{models.JobMetadataFile, models.JobTextFile} {
				if p := filepath.Join(target, f); pathExists(p) {
					job.Conflicts = append(job.Conflicts, models.ConflictInfo{Type: models.ConflictFileExists, Path: p})
				}
			}
		case claimed[target]:
			job.Conflicts = append(job.Conflicts, models.ConflictInfo{Type: models.ConflictFolderExists, Path: target})
		}

		if len(job.Conflicts) == 0 {
			claimed[target] = true
			job.Status = models.ImportReady
			out[i] = job
			continue
		}

		suggested := suggestFolderName(root, name, stamp, claimed)
		claimed[filepath.Join(root, suggested)] = true
		for c := range job.Conflicts {
			job.Conflicts[c].SuggestedName = suggested
		}
		job.Status = models.ImportConflict
		out[i] = job
	}
	return out
}

// suggestFolderName returns name_<stamp>, numbered further if that is taken.
func suggestFolderName(root, name, stamp string, claimed map[string]bool) string {
	base := name + "_" + stamp
	candidate := base
	for n := 2; claimed[filepath.Join(root, candidate)] || pathExists(filepath.Join(root, candidate)); n++ {
		candidate = base + "_" + strconv.Itoa(n)
	}
	return candidate
}

// ExecuteImport imports jobs into the jobs folder. Conflicts are re-checked
// first because the filesystem may have changed since the scan. Per-job
// failures are logged and do not stop the run.
func (s *MigrationService) ExecuteImport(ctx context.Context, jobs []models.ImportableJob, opts ImportOptions) (result *models.MigrationResult, err error) {
	defer s.metrics.Time(metrics.OpImport)(&err)

	runID := uuid.New().String()
	result = &models.MigrationResult{
		RunID:     runID,
		StartedAt: s.now().UTC(),
		Total:     len(jobs),
		Log:       []models.MigrationLogEntry{},
	}
	if len(jobs) > 0 {
		result.SourceDir = commonDir(jobs)
	}

	if opts.CreateBackup {
		result.BackupFolder = filepath.Join(s.logDir, "backups", runID)
		if err := os.MkdirAll(result.BackupFolder, 0o755); err != nil {
			return nil, classifyIOError("create backup folder", result.BackupFolder, err)
		}
	}

	checked := s.CheckForConflicts(ctx, jobs)
	root := filepath.Clean(s.db.ServiceConfig().JobsFolder)

	var (
		folders []string
		files   []string
	)
	for i := range checked {
		job := &checked[i]
		entry := models.MigrationLogEntry{
			ID:         uuid.New().String(),
			Timestamp:  s.now().UTC(),
			SourcePath: job.OriginalPath,
			TargetPath: job.ProposedFolder,
		}

		switch {
		case job.Status == models.ImportImported:
			entry.Action = models.ActionSkip
			entry.Error = "already imported"
			result.Skipped++
		case hasConflict(job, models.ConflictInvalidPath):
			entry.Action = models.ActionError
			entry.Error = "target folder escapes the jobs folder: " + job.ProposedFolder
			job.Status = models.ImportFailed
			result.Failed++
		case job.Status == models.ImportConflict && !opts.HandleConflicts:
			entry.Action = models.ActionSkip
			entry.Error = describeConflicts(job.Conflicts)
			result.Skipped++
		default:
			entry.Action = models.ActionImport
			target := job.ProposedFolder
			if job.Status == models.ImportConflict {
				entry.Action = models.ActionRename
				target = filepath.Join(root, job.Conflicts[0].SuggestedName)
			}
			entry.TargetPath = target

			jobID, undo, err := s.importJob(ctx, job, target, result.BackupFolder)
			entry.JobID = jobID
			if err != nil {
				entry.Action = models.ActionError
				entry.Error = err.Error()
				job.Status = models.ImportFailed
				result.Failed++
				slog.Warn("import failed", "source", job.OriginalPath, "target", target, "error", err)
				break
			}
			entry.CanUndo = true
			entry.UndoData = &models.UndoData{Import: undo}
			job.Status = models.ImportImported
			result.Successful++
			if undo.CreatedFolder != "" {
				folders = append(folders, undo.CreatedFolder)
			}
			files = append(files, undo.CreatedFiles...)
		}

		jobs[i].Status = job.Status
		jobs[i].Conflicts = job.Conflicts
		jobs[i].ProposedFolder = job.ProposedFolder
		result.Log = append(result.Log, entry)
	}
	result.CompletedAt = s.now().UTC()

	if _, err := s.saveMigrationResult(result); err != nil {
		slog.Warn("failed to write migration log", "run_id", runID, "error", err)
	}

	if s.ops != nil {
		details := models.OperationDetails{
			Files:       files,
			Folders:     folders,
			SourcePath:  result.SourceDir,
			TargetPath:  root,
			RunID:       runID,
			Description: fmt.Sprintf("imported %d of %d jobs", result.Successful, result.Total),
		}
		if _, err := s.ops.LogOperation(ctx, models.OpBulkImport, details, result.Successful > 0); err != nil {
			slog.Warn("failed to record operation", "type", models.OpBulkImport, "error", err)
		}
	}

	slog.Info("import complete",
		"run_id", runID,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}

// importJob writes one job folder. On failure everything it created is
// removed again.
func (s *MigrationService) importJob(ctx context.Context, job *models.ImportableJob, target, backupRoot string) (string, *models.ImportUndo, error) {
	cfg := s.db.ServiceConfig()

	jobID := job.Detected.UUID
	if jobID == "" || s.jobs.Exists(ctx, jobID) {
		jobID = job.ID
	}

	undo := &models.ImportUndo{CreatedFiles: []string{}}
	created := !pathExists(target)
	if created {
		undo.CreatedFolder = target
	}

	if backupRoot != "" {
		undo.BackupPath = filepath.Join(backupRoot, jobID)
		if _, err := copyFile(job.OriginalPath, filepath.Join(undo.BackupPath, "source", filepath.Base(job.OriginalPath)), false); err != nil {
			return jobID, nil, fmt.Errorf("backup source: %w", err)
		}
	}

	fail := func(err error) (string, *models.ImportUndo, error) {
		if created {
			_ = os.RemoveAll(target)
		} else {
			for _, f := range undo.CreatedFiles {
				_ = removeFile(f)
			}
			restoreOverwritten(undo.BackupPath, target)
		}
		return jobID, nil, err
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fail(classifyIOError("create job folder", target, err))
	}

	now := s.now().UTC()
	rec := models.JobRecord{
		ID:             jobID,
		Company:        job.Detected.Company,
		Role:           job.Detected.Role,
		Date:           job.Detected.Date,
		URL:            job.Detected.URL,
		Text:           job.Detected.Text,
		SourcePath:     job.OriginalPath,
		ImportedAt:     now,
		UpdatedAt:      now,
		AttachmentMode: cfg.AttachmentMode,
		OriginalPaths:  map[string]string{},
	}

	for _, att := range attachmentCandidates(job.OriginalPath) {
		rec.OriginalPaths[att.name] = att.source
		if undo.BackupPath != "" {
			if _, err := copyFile(att.source, filepath.Join(undo.BackupPath, "source", filepath.Base(att.source)), false); err != nil {
				return fail(fmt.Errorf("backup attachment: %w", err))
			}
		}
		if cfg.AttachmentMode == models.AttachmentReference {
			if rec.AttachmentPaths == nil {
				rec.AttachmentPaths = map[string]string{}
			}
			rec.AttachmentPaths[att.name] = att.source
			continue
		}
		dst := filepath.Join(target, att.name)
		if err := backupExisting(undo.BackupPath, dst); err != nil {
			return fail(err)
		}
		if _, err := copyFile(att.source, dst, false); err != nil {
			return fail(err)
		}
		undo.CreatedFiles = append(undo.CreatedFiles, dst)
	}

	for _, f := range []string{models.JobMetadataFile, models.JobTextFile} {
		if err := backupExisting(undo.BackupPath, filepath.Join(target, f)); err != nil {
			return fail(err)
		}
	}
	written, err := s.jobs.Create(ctx, target, rec)
	undo.CreatedFiles = append(undo.CreatedFiles, written...)
	if err != nil {
		s.jobs.Forget(jobID)
		return fail(err)
	}

	slog.Debug("job imported", "job_id", jobID, "source", job.OriginalPath, "target", target, "files", len(undo.CreatedFiles))
	return jobID, undo, nil
}

// backupExisting copies path into backupDir/overwritten before it is replaced.
func backupExisting(backupDir, path string) error {
	if backupDir == "" || !fileExists(path) {
		return nil
	}
	if _, err := copyFile(path, filepath.Join(backupDir, "overwritten", filepath.Base(path)), false); err != nil {
		return fmt.Errorf("backup %s: %w", filepath.Base(path), err)
	}
	return nil
}

// restoreOverwritten puts files saved by backupExisting back into folder.
func restoreOverwritten(backupDir, folder string) []string {
	if backupDir == "" {
		return nil
	}
	dir := filepath.Join(backupDir, "overwritten")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var restored []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		dst := filepath.Join(folder, e.Name())
		if _, err := copyFile(filepath.Join(dir, e.Name()), dst, false); err != nil {
			slog.Warn("failed to restore overwritten file", "path", dst, "error", err)
			continue
		}
		restored = append(restored, dst)
	}
	return restored
}

type attachment struct {
	source string
	name   string // normalized name inside the job folder
}

// attachmentCandidates lists sibling files of source that belong to the job:
// names mentioning resume, cv or cover, files sharing the source's stem and,
// when source is a job-metadata file, any resume-like document.
func attachmentCandidates(source string) []attachment {
	dir := filepath.Dir(source)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	base := filepath.Base(source)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	inJobFolder := isMetadataName(base)

	used := make(map[string]bool)
	var out []attachment
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == base || strings.HasPrefix(name, ".") || isMetadataName(name) {
			continue
		}
		lower := strings.ToLower(name)
		ext := strings.ToLower(filepath.Ext(name))
		fileStem := strings.TrimSuffix(lower, ext)

		related := strings.Contains(lower, "resume") || strings.Contains(lower, "cv") || strings.Contains(lower, "cover") ||
			fileStem == stem ||
			(inJobFolder && resumeLikeExtensions[ext])
		if !related {
			continue
		}
		out = append(out, attachment{source: filepath.Join(dir, name), name: normalizedAttachmentName(name, used)})
	}
	return out
}

// normalizedAttachmentName maps resume/cv files to resume<ext> and cover
// letters to cover_letter<ext>; repeats get _2, _3, ...
func normalizedAttachmentName(name string, used map[string]bool) string {
	lower := strings.ToLower(name)
	ext := strings.ToLower(filepath.Ext(name))

	var stem string
	switch {
	case strings.Contains(lower, "cover"):
		stem = "cover_letter"
	case strings.Contains(lower, "resume") || strings.Contains(lower, "cv"):
		stem = "resume"
	default:
		stem = models.SanitizeComponent(strings.TrimSuffix(name, filepath.Ext(name)))
		if stem == "" {
			stem = "attachment"
		}
	}

	candidate := stem + ext
	for n := 2; used[candidate] || models.IsMetadataFile(candidate); n++ {
		candidate = stem + "_" + strconv.Itoa(n) + ext
	}
	used[candidate] = true
	return candidate
}

func isMetadataName(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range parser.MetadataFilenames {
		if lower == m {
			return true
		}
	}
	return false
}

func hasConflict(job *models.ImportableJob, t models.ConflictType) bool {
	for _, c := range job.Conflicts {
		if c.Type == t {
			return true
		}
	}
	return false
}

func describeConflicts(conflicts []models.ConflictInfo) string {
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%s: %s", c.Type, c.Path))
	}
	return strings.Join(parts, "; ")
}

// commonDir returns the deepest directory containing every candidate.
func commonDir(jobs []models.ImportableJob) string {
	dir := filepath.Dir(jobs[0].OriginalPath)
	for _, j := range jobs[1:] {
		for !within(dir, j.OriginalPath) {
			parent := filepath.Dir(dir)
			if parent == dir {
				return dir
			}
			dir = parent
		}
	}
	return dir
}

// migrationResultPath names the per-run log file.
func (s *MigrationService) migrationResultPath(result *models.MigrationResult) string {
	return filepath.Join(s.logDir, fmt.Sprintf("migration-%s-%s.json", result.StartedAt.Format(suggestionStamp), result.RunID))
}

func (s *MigrationService) saveMigrationResult(result *models.MigrationResult) (string, error) {
	path := s.migrationResultPath(result)
	if err := db.WriteJSONAtomic(path, result); err != nil {
		return "", err
	}
	return path, nil
}

// LoadMigrationResult reads the log file of one run.
func (s *MigrationService) LoadMigrationResult(runID string) (*models.MigrationResult, error) {
	matches, err := filepath.Glob(filepath.Join(s.logDir, "migration-*-"+runID+".json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migration run %s: %w", runID, fs.ErrNotExist)
	}
	var result models.MigrationResult
	if err := db.ReadJSON(matches[0], &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// undoImport reverses every undoable job of one run and rewrites its log.
func (s *MigrationService) undoImport(ctx context.Context, op *models.OperationLogEntry, res *UndoResult) error {
	root := filepath.Clean(s.db.ServiceConfig().JobsFolder)

	result, err := s.LoadMigrationResult(op.Details.RunID)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// No run log; fall back to the folders recorded on the operation.
		slog.Warn("migration log missing, using operation details", "run_id", op.Details.RunID)
		for _, folder := range op.Details.Folders {
			res.removeTree(root, folder)
		}
		return nil
	}

	for i := len(result.Log) - 1; i >= 0; i-- {
		entry := &result.Log[i]
		if !entry.CanUndo || entry.UndoData == nil || entry.UndoData.Import == nil {
			continue
		}
		undo := entry.UndoData.Import
		if undo.CreatedFolder != "" {
			res.removeTree(root, undo.CreatedFolder)
		} else {
			for _, f := range undo.CreatedFiles {
				res.removePath(f)
			}
			if restored := restoreOverwritten(undo.BackupPath, entry.TargetPath); len(restored) > 0 {
				res.Restored = append(res.Restored, restored...)
			}
		}
		if entry.JobID != "" {
			s.jobs.Forget(entry.JobID)
		}
		entry.CanUndo = false
		result.Log = append(result.Log, models.MigrationLogEntry{
			ID:         uuid.New().String(),
			Timestamp:  s.now().UTC(),
			Action:     models.ActionUndo,
			SourcePath: entry.SourcePath,
			TargetPath: entry.TargetPath,
			JobID:      entry.JobID,
		})
	}

	if _, err := s.saveMigrationResult(result); err != nil {
		slog.Warn("failed to rewrite migration log", "run_id", result.RunID, "error", err)
	}
	return nil
}
