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

func TestJobRepositoryFindsNestedFolders(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writer := NewJobRepository(root)

	flat := filepath.Join(root, "Acme_Engineer")
	nested := filepath.Join(root, "Globex", "Analyst_2024-02-02")
	for id, folder := range map[string]string{"flat": flat, "nested": nested} {
		_, err := writer.Create(ctx, folder, models.JobRecord{ID: id, Company: "c", Role: "r", ImportedAt: time.Now().UTC()})
		require.NoError(t, err)
	}
	// Backups inside a job folder are not separate jobs.
	writeFile(t, filepath.Join(flat, "old", models.JobMetadataFile), `{"id":"inner"}`)
	writeFile(t, filepath.Join(root, ".trash", "x", models.JobMetadataFile), `{"id":"hidden"}`)

	repo := NewJobRepository(root)
	job, err := repo.Get(ctx, "nested")
	require.NoError(t, err)
	assert.Equal(t, nested, job.Folder)

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.Record.ID)
	}
	assert.ElementsMatch(t, []string{"flat", "nested"}, ids)
}

func TestJobRepositoryMissingRoot(t *testing.T) {
	repo := NewJobRepository(filepath.Join(t.TempDir(), "absent"))
	jobs, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestExecuteImportNestedNamingFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.db.UpdateServiceConfig(ctx, func(c *models.ServiceConfig) {
		c.NamingFormat = "{company}/{role}_{date}"
	})
	require.NoError(t, err)

	jobs := scanSource(t, env)
	res, err := env.migration.ExecuteImport(ctx, jobs, ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Successful)

	root := env.db.ServiceConfig().JobsFolder
	folder := filepath.Join(root, "Acme", "Engineer_2024-01-01")
	rec, err := env.jobs.LoadFolder(folder)
	require.NoError(t, err)

	job, err := NewJobRepository(root).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, folder, job.Folder)
}
