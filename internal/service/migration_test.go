package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/applytrack/internal/models"
)

var fixedNow = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

// seedSource lays out an external folder with two distinct jobs, a
// duplicate and a hidden folder.
func seedSource(t *testing.T, env *testEnv) string {
	t.Helper()
	src := filepath.Join(env.home, "old-applications")
	writeFile(t, filepath.Join(src, "acme", "job.json"), `{"company":"Acme","role":"Engineer","date":"2024-01-01","text":"Build things"}`)
	writeFile(t, filepath.Join(src, "acme", "resume.pdf"), "%PDF acme resume")
	writeFile(t, filepath.Join(src, "acme", "Cover Letter.docx"), "cover letter")
	writeFile(t, filepath.Join(src, "acme", "photo.png"), "png")
	writeFile(t, filepath.Join(src, "dup", "job.json"), `{"company":"Acme","role":"Engineer","date":"2024-01-01","text":"Build things"}`)
	writeFile(t, filepath.Join(src, "globex", "job.json"), `{"company":"Globex","role":"Analyst","date":"2024-02-02"}`)
	writeFile(t, filepath.Join(src, ".hidden", "job.json"), `{"company":"Hidden","role":"Spy"}`)
	return src
}

func scanSource(t *testing.T, env *testEnv) []models.ImportableJob {
	t.Helper()
	jobs, err := env.migration.ScanForImportableJobs(context.Background(), seedSource(t, env))
	require.NoError(t, err)
	return jobs
}

func TestScanForImportableJobs(t *testing.T) {
	env := newTestEnv(t)
	jobs := scanSource(t, env)
	require.Len(t, jobs, 2, "duplicates and hidden folders are dropped")

	jobsRoot := env.db.ServiceConfig().JobsFolder
	assert.Equal(t, "Acme", jobs[0].Detected.Company)
	assert.Equal(t, filepath.Join(jobsRoot, "Acme_Engineer_2024-01-01"), jobs[0].ProposedFolder)
	assert.Equal(t, "Globex", jobs[1].Detected.Company)
	for _, j := range jobs {
		assert.Equal(t, models.ImportMapped, j.Status)
		assert.NotEmpty(t, j.ID)
	}
}

func TestScanRelativeDirSkipsServiceFolders(t *testing.T) {
	env := newTestEnv(t)
	src := seedSource(t, env)
	_, err := env.db.UpdateServiceConfig(context.Background(), func(c *models.ServiceConfig) {
		c.JobsFolder = filepath.Join(src, "jobs")
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(src, "jobs", "Initech_Tester", "job.json"), `{"company":"Initech","role":"Tester"}`)

	t.Chdir(src)
	jobs, err := env.migration.ScanForImportableJobs(context.Background(), ".")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.NotEqual(t, "Initech", j.Detected.Company)
		assert.True(t, filepath.IsAbs(j.OriginalPath))
	}
}

func TestScanRejectsFiles(t *testing.T) {
	env := newTestEnv(t)
	file := writeFile(t, filepath.Join(env.home, "a.txt"), "x")

	_, err := env.migration.ScanForImportableJobs(context.Background(), file)
	assert.Error(t, err)
	_, err = env.migration.ScanForImportableJobs(context.Background(), filepath.Join(env.home, "missing"))
	assert.Error(t, err)
}

func TestCheckForConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.migration.now = func() time.Time { return fixedNow }
	jobs := scanSource(t, env)
	jobsRoot := env.db.ServiceConfig().JobsFolder
	writeFile(t, filepath.Join(jobsRoot, "Globex_Analyst_2024-02-02", "job.json"), "{}")

	checked := env.migration.CheckForConflicts(context.Background(), jobs)
	require.Len(t, checked, 2)
	assert.Equal(t, models.ImportReady, checked[0].Status)
	assert.Empty(t, checked[0].Conflicts)

	globex := checked[1]
	assert.Equal(t, models.ImportConflict, globex.Status)
	require.Len(t, globex.Conflicts, 2)
	assert.Equal(t, models.ConflictFolderExists, globex.Conflicts[0].Type)
	assert.Equal(t, models.ConflictFileExists, globex.Conflicts[1].Type)
	assert.Equal(t, "Globex_Analyst_2024-02-02_20240304-050607", globex.Conflicts[0].SuggestedName)
}

func TestCheckForConflictsInBatch(t *testing.T) {
	env := newTestEnv(t)
	env.migration.now = func() time.Time { return fixedNow }
	det := models.DetectedJob{Company: "Acme", Role: "Engineer", Date: "2024-01-01"}
	jobs := []models.ImportableJob{
		{ID: "a", Detected: det, Status: models.ImportMapped},
		{ID: "b", Detected: det, Status: models.ImportMapped},
		{ID: "c", Detected: det, Status: models.ImportMapped},
	}

	checked := env.migration.CheckForConflicts(context.Background(), jobs)
	assert.Equal(t, models.ImportReady, checked[0].Status)
	assert.Equal(t, models.ImportConflict, checked[1].Status)
	assert.Equal(t, models.ImportConflict, checked[2].Status)
	assert.Equal(t, "Acme_Engineer_2024-01-01_20240304-050607", checked[1].Conflicts[0].SuggestedName)
	assert.Equal(t, "Acme_Engineer_2024-01-01_20240304-050607_2", checked[2].Conflicts[0].SuggestedName)
}

func TestCheckForConflictsInvalidPath(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.db.UpdateServiceConfig(context.Background(), func(c *models.ServiceConfig) {
		c.NamingFormat = "../{company}"
	})
	require.NoError(t, err)

	jobs := []models.ImportableJob{{ID: "a", Detected: models.DetectedJob{Company: "Acme"}, Status: models.ImportMapped}}
	checked := env.migration.CheckForConflicts(context.Background(), jobs)
	require.Len(t, checked[0].Conflicts, 1)
	assert.Equal(t, models.ConflictInvalidPath, checked[0].Conflicts[0].Type)
	assert.Equal(t, models.ImportConflict, checked[0].Status)

	res, err := env.migration.ExecuteImport(context.Background(), jobs, ImportOptions{HandleConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.ImportFailed, jobs[0].Status)
	assert.NoDirExists(t, filepath.Join(env.home, "Acme"))
}

func TestExecuteImportSkipsConflictsAndUndo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	jobs := scanSource(t, env)
	jobsRoot := env.db.ServiceConfig().JobsFolder
	existing := writeFile(t, filepath.Join(jobsRoot, "Globex_Analyst_2024-02-02", "job.json"), `{"id":"keep"}`)

	res, err := env.migration.ExecuteImport(ctx, jobs, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, models.ImportImported, jobs[0].Status)
	assert.Equal(t, models.ImportConflict, jobs[1].Status)
	assert.Equal(t, `{"id":"keep"}`, readFile(t, existing), "conflicting folder is untouched")

	acme := filepath.Join(jobsRoot, "Acme_Engineer_2024-01-01")
	assert.FileExists(t, filepath.Join(acme, models.JobMetadataFile))
	assert.Equal(t, "%PDF acme resume", readFile(t, filepath.Join(acme, "resume.pdf")))
	assert.FileExists(t, filepath.Join(acme, "cover_letter.docx"))
	assert.NoFileExists(t, filepath.Join(acme, "photo.png"))

	rec, err := env.jobs.LoadFolder(acme)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.Company)
	assert.Equal(t, models.AttachmentCopy, rec.AttachmentMode)
	assert.True(t, env.jobs.Exists(ctx, rec.ID))

	loaded, err := env.migration.LoadMigrationResult(res.RunID)
	require.NoError(t, err)
	assert.Len(t, loaded.Log, 2)

	undoable, err := env.ops.GetUndoableOperations(ctx)
	require.NoError(t, err)
	require.Len(t, undoable, 1)
	assert.Equal(t, models.OpBulkImport, undoable[0].Type)

	_, err = env.undoer.Undo(ctx, undoable[0].ID)
	require.NoError(t, err)
	assert.NoDirExists(t, acme)
	assert.FileExists(t, existing)
	assert.False(t, env.jobs.Exists(ctx, rec.ID))

	loaded, err = env.migration.LoadMigrationResult(res.RunID)
	require.NoError(t, err)
	last := loaded.Log[len(loaded.Log)-1]
	assert.Equal(t, models.ActionUndo, last.Action)
	assert.False(t, loaded.Log[0].CanUndo)
}

func TestExecuteImportHandleConflictsWithBackup(t *testing.T) {
	env := newTestEnv(t)
	env.migration.now = func() time.Time { return fixedNow }
	ctx := context.Background()
	jobs := scanSource(t, env)
	jobsRoot := env.db.ServiceConfig().JobsFolder
	writeFile(t, filepath.Join(jobsRoot, "Globex_Analyst_2024-02-02", "job.json"), "{}")

	res, err := env.migration.ExecuteImport(ctx, jobs, ImportOptions{HandleConflicts: true, CreateBackup: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	require.NotEmpty(t, res.BackupFolder)
	assert.DirExists(t, res.BackupFolder)

	renamed := filepath.Join(jobsRoot, "Globex_Analyst_2024-02-02_20240304-050607")
	assert.FileExists(t, filepath.Join(renamed, models.JobMetadataFile))
	assert.Equal(t, models.ActionRename, res.Log[1].Action)
	assert.Equal(t, renamed, res.Log[1].TargetPath)

	undo := res.Log[0].UndoData.Import
	require.NotNil(t, undo)
	assert.FileExists(t, filepath.Join(undo.BackupPath, "source", "job.json"))
	assert.FileExists(t, filepath.Join(undo.BackupPath, "source", "resume.pdf"))
}

func TestExecuteImportReferenceMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.db.UpdateServiceConfig(ctx, func(c *models.ServiceConfig) {
		c.AttachmentMode = models.AttachmentReference
	})
	require.NoError(t, err)
	jobs := scanSource(t, env)

	_, err = env.migration.ExecuteImport(ctx, jobs[:1], ImportOptions{})
	require.NoError(t, err)

	acme := filepath.Join(env.db.ServiceConfig().JobsFolder, "Acme_Engineer_2024-01-01")
	assert.NoFileExists(t, filepath.Join(acme, "resume.pdf"))
	rec, err := env.jobs.LoadFolder(acme)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentReference, rec.AttachmentMode)
	assert.Equal(t, filepath.Join(filepath.Dir(jobs[0].OriginalPath), "resume.pdf"), rec.AttachmentPaths["resume.pdf"])
}

func TestAttachmentCandidates(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, filepath.Join(dir, "Acme - Engineer.txt"), "Company: Acme")
	writeFile(t, filepath.Join(dir, "Acme - Engineer.pdf"), "same stem")
	writeFile(t, filepath.Join(dir, "cv_final.pdf"), "cv")
	writeFile(t, filepath.Join(dir, "resume.pdf"), "resume")
	writeFile(t, filepath.Join(dir, "holiday.pdf"), "unrelated")
	writeFile(t, filepath.Join(dir, ".resume.pdf"), "hidden")

	got := map[string]string{}
	for _, a := range attachmentCandidates(source) {
		got[filepath.Base(a.source)] = a.name
	}
	assert.Len(t, got, 3)
	assert.Contains(t, got, "Acme - Engineer.pdf")
	assert.NotContains(t, got, "holiday.pdf")
	assert.Equal(t, "Acme_-_Engineer.pdf", got["Acme - Engineer.pdf"])
	assert.Equal(t, "resume.pdf", got["cv_final.pdf"])
	assert.Equal(t, "resume_2.pdf", got["resume.pdf"])
}

func TestNormalizedAttachmentName(t *testing.T) {
	used := map[string]bool{}
	tests := []struct {
		in   string
		want string
	}{
		{in: "My Resume.PDF", want: "resume.pdf"},
		{in: "cv.pdf", want: "resume_2.pdf"},
		{in: "Cover Letter.docx", want: "cover_letter.docx"},
		{in: "portfolio link.pdf", want: "portfolio_link.pdf"},
		{in: "job.json", want: "job_2.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizedAttachmentName(tt.in, used), tt.in)
	}
}
