package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/models"
)

// Job is a job folder together with its job.json record.
type Job struct {
	Folder string
	Record models.JobRecord
}

// JobRepository finds and persists job folders under the jobs root.
// It keeps an id -> folder index that is rebuilt lazily from disk.
type JobRepository struct {
	root string

	mu    sync.RWMutex
	index map[string]string
}

// NewJobRepository creates a repository over root.
func NewJobRepository(root string) *JobRepository {
	return &JobRepository{root: root, index: make(map[string]string)}
}

// Root returns the jobs folder.
func (r *JobRepository) Root() string {
	return r.root
}

// Create writes job.json and job.txt into folder and indexes the job.
// Returns the paths written.
func (r *JobRepository) Create(ctx context.Context, folder string, rec models.JobRecord) ([]string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, classifyIOError("create job folder", folder, err)
	}
	if err := r.Save(ctx, folder, rec); err != nil {
		return nil, err
	}
	written := []string{filepath.Join(folder, models.JobMetadataFile)}

	textPath := filepath.Join(folder, models.JobTextFile)
	if err := db.WriteFileAtomic(textPath, []byte(rec.Text), 0o644); err != nil {
		return written, classifyIOError("write", textPath, err)
	}
	written = append(written, textPath)

	slog.Debug("job folder created", "job_id", rec.ID, "folder", folder)
	return written, nil
}

// Save rewrites folder/job.json and updates the index.
func (r *JobRepository) Save(ctx context.Context, folder string, rec models.JobRecord) error {
	path := filepath.Join(folder, models.JobMetadataFile)
	if err := db.WriteJSONAtomic(path, rec); err != nil {
		return classifyIOError("write", path, err)
	}
	r.mu.Lock()
	r.index[rec.ID] = folder
	r.mu.Unlock()
	return nil
}

// LoadFolder reads folder/job.json.
func (r *JobRepository) LoadFolder(folder string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := db.ReadJSON(filepath.Join(folder, models.JobMetadataFile), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s in %s", ErrJobNotFound, models.JobMetadataFile, folder)
		}
		return nil, err
	}
	if rec.AttachmentMode == "" {
		rec.AttachmentMode = models.AttachmentCopy
	}
	return &rec, nil
}

// Get returns the job with the given id.
func (r *JobRepository) Get(ctx context.Context, id string) (*Job, error) {
	if job, ok := r.lookup(id); ok {
		return job, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	if job, ok := r.lookup(id); ok {
		return job, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func (r *JobRepository) lookup(id string) (*Job, bool) {
	r.mu.RLock()
	folder, ok := r.index[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rec, err := r.LoadFolder(folder)
	if err != nil || rec.ID != id {
		r.Forget(id)
		return nil, false
	}
	return &Job{Folder: folder, Record: *rec}, true
}

// Forget drops id from the index.
func (r *JobRepository) Forget(id string) {
	r.mu.Lock()
	delete(r.index, id)
	r.mu.Unlock()
}

// Refresh rebuilds the index from every job folder under the root. Naming
// formats may nest job folders, so the whole tree is walked; a job folder's
// own subfolders are not searched.
func (r *JobRepository) Refresh(ctx context.Context) error {
	index := map[string]string{}
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == r.root {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() || path == r.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		rec, err := r.LoadFolder(path)
		if err != nil {
			if !errors.Is(err, ErrJobNotFound) {
				slog.Warn("skipping unreadable job folder", "folder", path, "error", err)
				return fs.SkipDir
			}
			return nil
		}
		if rec.ID != "" {
			index[rec.ID] = path
		}
		return fs.SkipDir
	})
	if err != nil {
		return classifyIOError("list jobs", r.root, err)
	}

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()
	return nil
}

// List returns every job, most recently imported first.
func (r *JobRepository) List(ctx context.Context) ([]Job, error) {
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	folders := make(map[string]string, len(r.index))
	for id, folder := range r.index {
		folders[id] = folder
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(folders))
	for _, folder := range folders {
		rec, err := r.LoadFolder(folder)
		if err != nil {
			continue
		}
		jobs = append(jobs, Job{Folder: folder, Record: *rec})
	}

	slices.SortFunc(jobs, func(a, b Job) int {
		if c := b.Record.ImportedAt.Compare(a.Record.ImportedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Folder, b.Folder)
	})
	return jobs, nil
}

// Exists reports whether a job with id is known.
func (r *JobRepository) Exists(ctx context.Context, id string) bool {
	_, err := r.Get(ctx, id)
	return err == nil
}
