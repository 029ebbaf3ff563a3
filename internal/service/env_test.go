package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/lock"
	"github.com/raphaelgruber/applytrack/internal/metrics"
)

// testEnv wires every service over a temporary home folder.
type testEnv struct {
	home        string
	db          *db.Client
	ops         *OperationLog
	jobs        *JobRepository
	metrics     *metrics.Collector
	versions    *VersionService
	migration   *MigrationService
	attachments *AttachmentService
	undoer      *Undoer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	home := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client, err := db.NewClient(ctx, db.Config{
		ManifestDSN:       "file://" + filepath.Join(home, "manifest.json"),
		ServiceConfigFile: filepath.Join(home, "config.json"),
		ManagedFolder:     filepath.Join(home, "resumes"),
		JobsFolder:        filepath.Join(home, "jobs"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(ctx) })
	require.NoError(t, client.InitSchema(ctx))

	m := metrics.NewCollector()
	ops := NewOperationLog(filepath.Join(home, "operations.json"), 0, "test-session")
	jobs := NewJobRepository(client.ServiceConfig().JobsFolder)
	logDir := filepath.Join(home, "migration-logs")

	locker := lock.New(LockPath(client.ServiceConfig().ManagedFolder), lock.Options{Retry: 5 * time.Millisecond, Logger: logger})
	versions := NewVersionService(client, ops, locker, VersionOptions{LockTimeout: 2 * time.Second, Metrics: m})
	migration := NewMigrationService(client, jobs, ops, MigrationOptions{LogDir: logDir, Metrics: m})
	attachments := NewAttachmentService(jobs, ops, AttachmentOptions{LogDir: logDir, Metrics: m})

	return &testEnv{
		home:        home,
		db:          client,
		ops:         ops,
		jobs:        jobs,
		metrics:     m,
		versions:    versions,
		migration:   migration,
		attachments: attachments,
		undoer:      NewUndoer(client, ops, migration, attachments, m),
	}
}

// writeFile creates path (and its parents) with content.
func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func boolPtr(b bool) *bool {
	return &b
}
