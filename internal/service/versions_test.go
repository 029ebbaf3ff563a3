package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/lock"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/models"
)

func acmeUpload(path string) UploadRequest {
	return UploadRequest{FilePath: path, JobID: "J1", Company: "Acme", Role: "Engineer", Date: "2024-01-01"}
}

func TestUploadRollbackScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "%PDF-1.4 first draft")

	first, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.NoError(t, err)
	require.Len(t, first.Versions, 1)
	assert.Equal(t, "Acme_Engineer_2024-01-01", first.BaseFilename)
	assert.Equal(t, "", first.Versions[0].VersionSuffix)

	second, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same key reuses the entry")
	require.Len(t, second.Versions, 2)
	assert.Equal(t, "_v1", second.Versions[1].VersionSuffix)
	assert.False(t, second.Versions[0].IsActive)
	assert.True(t, second.Versions[1].IsActive)

	original := second.Versions[0]
	rolled, err := env.versions.RollbackToVersion(ctx, second.ID, original.VersionID)
	require.NoError(t, err)
	require.Len(t, rolled.Versions, 3)

	third := rolled.Versions[2]
	assert.Equal(t, "_v2", third.VersionSuffix)
	assert.Equal(t, original.Checksum, third.Checksum)
	assert.True(t, third.IsActive)
	untouched := rolled.Versions[0]
	assert.Equal(t, original.ManagedPath, untouched.ManagedPath, "rolled-back version is untouched")
	assert.Equal(t, original.Checksum, untouched.Checksum)
	assert.False(t, untouched.IsActive)

	for _, v := range rolled.Versions {
		assert.FileExists(t, v.ManagedPath)
	}
	assert.Equal(t, filepath.Join(env.db.ServiceConfig().ManagedFolder, "Acme_Engineer_2024-01-01_v2.pdf"), third.ManagedPath)
	assert.FileExists(t, src, "keep_original default leaves the source")

	ops, err := env.ops.ListOperations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, models.OpRestore, ops[0].Type)
	assert.Equal(t, models.OpUpload, ops[1].Type)

	snap := env.metrics.Get(metrics.OpRollback)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Count)
}

func TestUploadVersionUniquenessConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "%PDF-1.4 body")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.versions.UploadResume(ctx, acmeUpload(src))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := env.versions.ListEntries(ctx, "J1")
	require.NoError(t, err)
	require.Len(t, entries, 1, "racing first uploads merge into one entry")

	paths := map[string]bool{}
	active := 0
	for _, v := range entries[0].Versions {
		assert.False(t, paths[v.ManagedPath], "duplicate managed path %s", v.ManagedPath)
		paths[v.ManagedPath] = true
		if v.IsActive {
			active++
		}
	}
	assert.Len(t, paths, n)
	assert.Equal(t, 1, active)
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "x")

	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{name: "unsupported extension is rejected before any io", req: UploadRequest{FilePath: "/does/not/exist.exe", JobID: "J1"}, wantErr: ErrUnsupportedFileType},
		{name: "missing job id", req: UploadRequest{FilePath: pdf}},
		{name: "bad date", req: UploadRequest{FilePath: pdf, JobID: "J1", Date: "01/02/2024"}},
		{name: "missing source", req: UploadRequest{FilePath: filepath.Join(env.home, "nope.pdf"), JobID: "J1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.versions.UploadResume(ctx, tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	entries, err := env.versions.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadMoveAndUndoRestoresSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "cv.docx"), "docx bytes")

	req := acmeUpload(src)
	req.KeepOriginal = boolPtr(false)
	entry, err := env.versions.UploadResume(ctx, req)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
	assert.Equal(t, ".docx", entry.Extension)
	managed := entry.Versions[0].ManagedPath

	undoable, err := env.ops.GetUndoableOperations(ctx)
	require.NoError(t, err)
	require.Len(t, undoable, 1)

	res, err := env.undoer.Undo(ctx, undoable[0].ID)
	require.NoError(t, err)
	assert.Contains(t, res.Restored, src)
	assert.Equal(t, "docx bytes", readFile(t, src))
	assert.NoFileExists(t, managed)

	_, err = env.versions.GetEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUploadNewExtensionUsesOwnNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "pdf")
	docx := writeFile(t, filepath.Join(env.home, "inbox", "resume.docx"), "docx")

	_, err := env.versions.UploadResume(ctx, acmeUpload(pdf))
	require.NoError(t, err)
	entry, err := env.versions.UploadResume(ctx, acmeUpload(docx))
	require.NoError(t, err)

	require.Len(t, entry.Versions, 2)
	assert.Equal(t, "", entry.Versions[1].VersionSuffix)
	assert.Equal(t, ".docx", filepath.Ext(entry.Versions[1].ManagedPath))
	assert.Equal(t, ".docx", entry.Extension)
}

func TestRollbackMissingFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "pdf")

	entry, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.NoError(t, err)
	require.NoError(t, removeFile(entry.Versions[0].ManagedPath))

	_, err = env.versions.RollbackToVersion(ctx, entry.ID, entry.Versions[0].VersionID)
	assert.ErrorIs(t, err, ErrVersionMissing)

	_, err = env.versions.RollbackToVersion(ctx, entry.ID, "unknown")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestNextVersionSuffixSkipsManifestPaths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	folder := env.db.ServiceConfig().ManagedFolder

	suffix, err := env.versions.NextVersionSuffix(ctx, "Base", ".pdf", folder)
	require.NoError(t, err)
	assert.Equal(t, "", suffix)

	writeFile(t, filepath.Join(folder, "Base.pdf"), "x")
	require.NoError(t, env.db.QueryUpsertEntry(ctx, models.ManifestEntry{
		ID: "e1",
		Versions: []models.VersionEntry{
			{VersionID: "gone", ManagedPath: filepath.Join(folder, "Base_v1.pdf")},
		},
	}))

	suffix, err = env.versions.NextVersionSuffix(ctx, "Base", ".pdf", folder)
	require.NoError(t, err)
	assert.Equal(t, "_v2", suffix, "a path still referenced by the manifest is never reused")
}

func TestUploadLockTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "pdf")

	holder := lock.New(LockPath(env.db.ServiceConfig().ManagedFolder), lock.Options{})
	require.NoError(t, holder.Acquire(ctx, time.Second))
	defer holder.Release()

	env.versions.lockTimeout = 50 * time.Millisecond
	_, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	entries, err := env.versions.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "pdf")

	managed := env.db.ServiceConfig().ManagedFolder
	require.NoError(t, os.MkdirAll(managed, 0o755))
	require.NoError(t, os.Chmod(managed, 0o500))
	t.Cleanup(func() { _ = os.Chmod(managed, 0o755) })

	_, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	entries, err := env.versions.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, src)
}

func TestDeleteEntryIsNotUndoable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.pdf"), "pdf")

	entry, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.NoError(t, err)

	deleted, err := env.versions.DeleteEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.NoFileExists(t, deleted.Versions[0].ManagedPath)

	ops, err := env.ops.ListOperations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpDelete, ops[0].Type)
	assert.False(t, ops[0].CanUndo)

	_, err = env.undoer.Undo(ctx, ops[0].ID)
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = env.versions.DeleteEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSetExtraction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(env.home, "inbox", "resume.txt"), "plain text resume")

	entry, err := env.versions.UploadResume(ctx, acmeUpload(src))
	require.NoError(t, err)
	v := entry.Versions[0]
	assert.Equal(t, models.ExtractionPending, v.ExtractionStatus)
	assert.Contains(t, v.MimeType, "text/plain")

	text := "plain text resume"
	got, err := env.versions.SetExtraction(ctx, entry.ID, v.VersionID, ExtractionUpdate{Text: &text, Status: models.ExtractionCompleted, Method: "plain"})
	require.NoError(t, err)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, text, *got.ExtractedText)
	assert.Equal(t, models.ExtractionCompleted, got.ExtractionStatus)

	_, err = env.versions.SetExtraction(ctx, entry.ID, v.VersionID, ExtractionUpdate{Status: "weird"})
	assert.Error(t, err)

	_, err = env.versions.SetExtraction(ctx, entry.ID, "nope", ExtractionUpdate{Method: "x"})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAddVersionToEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := writeFile(t, filepath.Join(env.home, "inbox", "a.pdf"), "a")
	b := writeFile(t, filepath.Join(env.home, "inbox", "b.pdf"), "b")

	entry, err := env.versions.UploadResume(ctx, acmeUpload(a))
	require.NoError(t, err)

	updated, err := env.versions.AddVersionToEntry(ctx, entry.ID, b)
	require.NoError(t, err)
	require.Len(t, updated.Versions, 2)
	assert.Equal(t, "_v1", updated.Versions[1].VersionSuffix)
	assert.Equal(t, "b.pdf", updated.Versions[1].OriginalFilename)

	_, err = env.versions.AddVersionToEntry(ctx, "missing", b)
	assert.ErrorIs(t, err, db.ErrNotFound)

	versions, err := env.versions.ListVersions(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	for i, v := range versions {
		assert.Contains(t, v.ManagedPath, fmt.Sprintf("Acme_Engineer_2024-01-01%s.pdf", models.VersionSuffix(i)))
	}
}
