package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/lock"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/models"
)

// LockFilename is the advisory marker created inside the managed folder.
const LockFilename = ".applytrack.lock"

// DefaultLockTimeout bounds how long version assignment waits for the lock.
const DefaultLockTimeout = 10 * time.Second

// maxSuffixProbes bounds the suffix search in one namespace.
const maxSuffixProbes = 10000

var validate = validator.New()

// UploadRequest is one incoming resume file.
type UploadRequest struct {
	FilePath   string `validate:"required"`
	JobID      string `validate:"required"`
	Company    string `validate:"max=200"`
	Role       string `validate:"max=200"`
	Date       string `validate:"omitempty,datetime=2006-01-02"` // defaults to today
	PersonName string `validate:"max=200"`

	// KeepOriginal nil uses the service default. false moves the source file.
	KeepOriginal *bool
}

// ExtractionUpdate carries results from the external text extractor.
type ExtractionUpdate struct {
	Text   *string
	Status string `validate:"omitempty,oneof=pending completed failed"`
	Error  *string
	Method string
}

// VersionOptions configures a VersionService.
type VersionOptions struct {
	LockTimeout time.Duration
	Metrics     *metrics.Collector
}

// VersionService assigns version suffixes, copies resume files into the
// managed folder and keeps the manifest in step.
type VersionService struct {
	db          *db.Client
	ops         *OperationLog
	locker      *lock.Locker
	lockTimeout time.Duration
	metrics     *metrics.Collector
	now         func() time.Time
}

// NewVersionService creates a version service. locker must guard the
// managed folder configured in dbClient.
func NewVersionService(dbClient *db.Client, ops *OperationLog, locker *lock.Locker, opts VersionOptions) *VersionService {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &VersionService{
		db:          dbClient,
		ops:         ops,
		locker:      locker,
		lockTimeout: opts.LockTimeout,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// LockPath returns the marker path for a managed folder.
func LockPath(managedFolder string) string {
	return filepath.Join(managedFolder, LockFilename)
}

// NextVersionSuffix returns the first free suffix for base+ext in folder.
// The probe runs under the version lock, but the name is not reserved after
// the call returns; UploadResume and RollbackToVersion probe and copy in one
// lock hold.
func (s *VersionService) NextVersionSuffix(ctx context.Context, base, ext, folder string) (string, error) {
	var suffix string
	err := s.withVersionLock(ctx, func() error {
		taken, err := s.db.QueryManagedPaths(ctx)
		if err != nil {
			return err
		}
		suffix, err = probeSuffix(base, ext, folder, taken)
		return err
	})
	return suffix, err
}

// UploadResume stores filePath as the newest active version of the entry
// keyed by (job, company, role, date), creating the entry when none exists.
func (s *VersionService) UploadResume(ctx context.Context, req UploadRequest) (entry *models.ManifestEntry, err error) {
	start := time.Now()
	var copied int64
	defer func() { s.metrics.RecordCopy(metrics.OpUpload, time.Since(start), copied, err) }()

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid upload request: %w", err)
	}
	cfg := s.db.ServiceConfig()
	ext := models.NormalizeExtension(filepath.Ext(req.FilePath))
	if !cfg.Supports(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		return nil, classifyIOError("stat", req.FilePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", req.FilePath)
	}

	date := req.Date
	if date == "" {
		date = s.now().Format(time.DateOnly)
	}
	keep := cfg.KeepOriginalDefault
	if req.KeepOriginal != nil {
		keep = *req.KeepOriginal
	}

	existing, err := s.db.QueryFindEntry(ctx, req.JobID, req.Company, req.Role, date)
	if err != nil {
		return nil, err
	}

	var template models.ManifestEntry
	if existing != nil {
		template = *existing
	} else {
		now := s.now().UTC()
		template = models.ManifestEntry{
			ID:           uuid.New().String(),
			JobID:        req.JobID,
			Company:      req.Company,
			Role:         req.Role,
			Date:         date,
			PersonName:   req.PersonName,
			BaseFilename: models.BaseFilename(req.Company, req.Role, req.PersonName, date),
			Extension:    ext,
			KeepOriginal: keep,
			Versions:     []models.VersionEntry{},
			CreatedAt:    now,
			LastUpdated:  now,
		}
	}

	result, err := s.addVersion(ctx, template, existing == nil, req.FilePath, ext, keep)
	if err != nil {
		return nil, err
	}
	copied = result.bytes
	return result.entry, nil
}

// AddVersionToEntry adds filePath as the newest active version of an
// existing entry.
func (s *VersionService) AddVersionToEntry(ctx context.Context, entryID, filePath string) (entry *models.ManifestEntry, err error) {
	start := time.Now()
	var copied int64
	defer func() { s.metrics.RecordCopy(metrics.OpUpload, time.Since(start), copied, err) }()

	current, err := s.db.QueryGetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	ext := models.NormalizeExtension(filepath.Ext(filePath))
	if !s.db.ServiceConfig().Supports(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if !fileExists(filePath) {
		return nil, classifyIOError("stat", filePath, os.ErrNotExist)
	}

	result, err := s.addVersion(ctx, *current, false, filePath, ext, current.KeepOriginal)
	if err != nil {
		return nil, err
	}
	copied = result.bytes
	return result.entry, nil
}

// RollbackToVersion mints a new active version whose bytes are a copy of
// versionID. No existing version is modified or removed.
func (s *VersionService) RollbackToVersion(ctx context.Context, entryID, versionID string) (entry *models.ManifestEntry, err error) {
	start := time.Now()
	var copied int64
	defer func() { s.metrics.RecordCopy(metrics.OpRollback, time.Since(start), copied, err) }()

	current, err := s.db.QueryGetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	target := current.Version(versionID)
	if target == nil {
		return nil, fmt.Errorf("%w: version %s of entry %s", db.ErrNotFound, versionID, entryID)
	}
	if !fileExists(target.ManagedPath) {
		return nil, fmt.Errorf("%w: %s", ErrVersionMissing, target.ManagedPath)
	}

	ext := models.NormalizeExtension(filepath.Ext(target.ManagedPath))
	folder := filepath.Dir(target.ManagedPath)

	var previous *models.VersionRef
	if active := current.ActiveVersion(); active != nil {
		previous = &models.VersionRef{EntryID: current.ID, VersionID: active.VersionID}
	}

	managedPath, suffix, res, err := s.reserveAndCopy(ctx, target.ManagedPath, current.BaseFilename, ext, folder)
	if err != nil {
		return nil, err
	}
	copied = res.Bytes

	version := models.VersionEntry{
		VersionID:        uuid.New().String(),
		VersionSuffix:    suffix,
		ManagedPath:      managedPath,
		Checksum:         res.Checksum,
		UploadTimestamp:  s.now().UTC(),
		OriginalPath:     target.ManagedPath,
		OriginalFilename: target.OriginalFilename,
		MimeType:         target.MimeType,
		IsActive:         true,
		ExtractedText:    target.ExtractedText,
		ExtractionStatus: target.ExtractionStatus,
		ExtractionError:  target.ExtractionError,
		ExtractionMethod: target.ExtractionMethod,
	}

	updated, err := s.db.QueryUpdateEntry(ctx, entryID, func(e *models.ManifestEntry) error {
		e.DeactivateAll()
		e.Versions = append(e.Versions, version)
		e.LastUpdated = version.UploadTimestamp
		return nil
	})
	if err != nil {
		if rmErr := removeFile(managedPath); rmErr != nil {
			slog.Warn("failed to clean up rollback copy", "path", managedPath, "error", rmErr)
		}
		return nil, err
	}

	s.logOperation(ctx, models.OpRestore, models.OperationDetails{
		Files:          []string{managedPath},
		Versions:       []models.VersionRef{{EntryID: entryID, VersionID: version.VersionID}},
		PreviousActive: previous,
		SourcePath:     target.ManagedPath,
		TargetPath:     managedPath,
		JobID:          updated.JobID,
		Description:    fmt.Sprintf("rollback %s to version %q", updated.BaseFilename, target.VersionSuffix),
	})

	slog.Info("rolled back version", "entry", entryID, "from_version", versionID, "new_suffix", suffix)
	return updated, nil
}

// ListEntries returns manifest entries of a job, or all entries for "".
func (s *VersionService) ListEntries(ctx context.Context, jobID string) ([]models.ManifestEntry, error) {
	return s.db.QueryListEntries(ctx, jobID)
}

// GetEntry returns one manifest entry.
func (s *VersionService) GetEntry(ctx context.Context, entryID string) (*models.ManifestEntry, error) {
	return s.db.QueryGetEntry(ctx, entryID)
}

// ListVersions returns the versions of an entry in upload order.
func (s *VersionService) ListVersions(ctx context.Context, entryID string) ([]models.VersionEntry, error) {
	entry, err := s.db.QueryGetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return entry.Versions, nil
}

// DeleteEntry removes an entry and every version file it references.
// Deletions take no backup and are never undoable.
func (s *VersionService) DeleteEntry(ctx context.Context, entryID string) (*models.ManifestEntry, error) {
	removed, err := s.db.QueryDeleteEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: %s", db.ErrNotFound, entryID)
	}
	entry := removed[0]

	files := make([]string, 0, len(entry.Versions))
	for _, v := range entry.Versions {
		if err := removeFile(v.ManagedPath); err != nil {
			slog.Warn("failed to remove version file", "path", v.ManagedPath, "error", err)
			continue
		}
		files = append(files, v.ManagedPath)
	}

	s.logOperation(ctx, models.OpDelete, models.OperationDetails{
		Files:            files,
		ManifestEntryIDs: []string{entry.ID},
		JobID:            entry.JobID,
		Description:      "delete " + entry.BaseFilename,
	})
	return &entry, nil
}

// SetExtraction records text-extraction results on one version.
func (s *VersionService) SetExtraction(ctx context.Context, entryID, versionID string, upd ExtractionUpdate) (*models.VersionEntry, error) {
	if err := validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("invalid extraction update: %w", err)
	}
	var out models.VersionEntry
	_, err := s.db.QueryUpdateEntry(ctx, entryID, func(e *models.ManifestEntry) error {
		v := e.Version(versionID)
		if v == nil {
			return fmt.Errorf("%w: version %s", db.ErrNotFound, versionID)
		}
		if upd.Text != nil {
			v.ExtractedText = upd.Text
		}
		if upd.Status != "" {
			v.ExtractionStatus = upd.Status
		}
		if upd.Error != nil {
			v.ExtractionError = upd.Error
		}
		if upd.Method != "" {
			v.ExtractionMethod = upd.Method
		}
		out = *v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type addResult struct {
	entry *models.ManifestEntry
	bytes int64
}

// addVersion copies source into the entry's namespace and persists the new
// active version. Creating entries is merged by key at persist time so two
// racing first uploads end up in one entry.
func (s *VersionService) addVersion(ctx context.Context, template models.ManifestEntry, create bool, source, ext string, keep bool) (*addResult, error) {
	folder := s.db.ServiceConfig().ManagedFolder

	managedPath, suffix, res, err := s.reserveAndCopy(ctx, source, template.BaseFilename, ext, folder)
	if err != nil {
		return nil, err
	}

	sum, err := checksumFile(managedPath)
	if err == nil && sum != res.Checksum {
		err = fmt.Errorf("checksum mismatch after copying %s", source)
	}
	if err != nil {
		if rmErr := removeFile(managedPath); rmErr != nil {
			slog.Warn("failed to clean up managed copy", "path", managedPath, "error", rmErr)
		}
		return nil, err
	}

	version := models.VersionEntry{
		VersionID:        uuid.New().String(),
		VersionSuffix:    suffix,
		ManagedPath:      managedPath,
		Checksum:         sum,
		UploadTimestamp:  s.now().UTC(),
		OriginalPath:     source,
		OriginalFilename: filepath.Base(source),
		MimeType:         detectMime(managedPath),
		IsActive:         true,
		ExtractionStatus: models.ExtractionPending,
	}

	var (
		saved    models.ManifestEntry
		created  bool
		previous *models.VersionRef
	)
	err = s.db.QueryUpdate(ctx, func(entries []models.ManifestEntry) ([]models.ManifestEntry, error) {
		idx := -1
		for i := range entries {
			if entries[i].ID == template.ID {
				idx = i
				break
			}
		}
		if idx < 0 && create {
			for i := range entries {
				if entries[i].MatchesKey(template.JobID, template.Company, template.Role, template.Date) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			if !create {
				return nil, fmt.Errorf("%w: %s", db.ErrNotFound, template.ID)
			}
			entries = append(entries, template)
			idx = len(entries) - 1
			created = true
		}

		e := &entries[idx]
		if active := e.ActiveVersion(); active != nil {
			previous = &models.VersionRef{EntryID: e.ID, VersionID: active.VersionID}
		}
		e.DeactivateAll()
		e.Versions = append(e.Versions, version)
		e.Extension = ext
		e.LastUpdated = version.UploadTimestamp
		saved = *e
		return entries, nil
	})
	if err != nil {
		if rmErr := removeFile(managedPath); rmErr != nil {
			slog.Warn("failed to clean up managed copy", "path", managedPath, "error", rmErr)
		}
		return nil, err
	}

	moved := false
	if !keep {
		if err := os.Remove(source); err != nil {
			slog.Warn("failed to remove original after copy", "path", source, "error", err)
		} else {
			moved = true
		}
	}

	details := models.OperationDetails{
		Files:          []string{managedPath},
		Versions:       []models.VersionRef{{EntryID: saved.ID, VersionID: version.VersionID}},
		PreviousActive: previous,
		SourcePath:     source,
		TargetPath:     managedPath,
		RestoreSource:  moved,
		JobID:          saved.JobID,
		Description:    fmt.Sprintf("upload %s as %s", filepath.Base(source), filepath.Base(managedPath)),
	}
	if created {
		details.ManifestEntryIDs = []string{saved.ID}
	}
	s.logOperation(ctx, models.OpUpload, details)

	slog.Info("resume version stored",
		"entry", saved.ID,
		"job_id", saved.JobID,
		"suffix", suffix,
		"path", managedPath,
		"created_entry", created)
	return &addResult{entry: &saved, bytes: res.Bytes}, nil
}

// reserveAndCopy probes the next free suffix and copies source into it
// without releasing the version lock in between.
func (s *VersionService) reserveAndCopy(ctx context.Context, source, base, ext, folder string) (string, string, copyResult, error) {
	var (
		managedPath string
		suffix      string
		res         copyResult
	)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", "", res, classifyIOError("create managed folder", folder, err)
	}

	err := s.withVersionLock(ctx, func() error {
		taken, err := s.db.QueryManagedPaths(ctx)
		if err != nil {
			return err
		}
		suffix, err = probeSuffix(base, ext, folder, taken)
		if err != nil {
			return err
		}
		managedPath = filepath.Join(folder, models.ManagedFilename(base, suffix, ext))
		res, err = copyFile(source, managedPath, true)
		return err
	})
	if err != nil {
		return "", "", res, err
	}
	return managedPath, suffix, res, nil
}

func (s *VersionService) withVersionLock(ctx context.Context, fn func() error) error {
	start := time.Now()
	if err := s.locker.Acquire(ctx, s.lockTimeout); err != nil {
		s.metrics.RecordTiming(metrics.OpLockWait, time.Since(start), err)
		return classifyIOError("version lock", s.locker.Path(), err)
	}
	s.metrics.RecordTiming(metrics.OpLockWait, time.Since(start), nil)
	defer func() {
		if err := s.locker.Release(); err != nil {
			slog.Warn("failed to release version lock", "path", s.locker.Path(), "error", err)
		}
	}()
	return fn()
}

// probeSuffix returns the first suffix whose path exists neither on disk nor
// in the manifest.
func probeSuffix(base, ext, folder string, taken map[string]bool) (string, error) {
	for n := 0; n < maxSuffixProbes; n++ {
		suffix := models.VersionSuffix(n)
		candidate := filepath.Join(folder, models.ManagedFilename(base, suffix, ext))
		if taken[candidate] {
			continue
		}
		if _, err := os.Lstat(candidate); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", classifyIOError("probe", candidate, err)
		}
		return suffix, nil
	}
	return "", fmt.Errorf("no free version suffix for %s%s in %s", base, ext, folder)
}

func (s *VersionService) logOperation(ctx context.Context, opType models.OperationType, details models.OperationDetails) {
	if s.ops == nil {
		return
	}
	canUndo := opType != models.OpDelete
	if _, err := s.ops.LogOperation(ctx, opType, details, canUndo); err != nil {
		slog.Warn("failed to record operation", "type", opType, "error", err)
	}
}
