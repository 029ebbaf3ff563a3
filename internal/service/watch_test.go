package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/applytrack/internal/models"
)

func TestInboxWatcherAccepts(t *testing.T) {
	w := NewInboxWatcher(t.TempDir(), WatchTarget{}, nil, func(ext string) bool { return ext == ".pdf" }, 0)
	assert.Equal(t, DefaultSettleTime, w.settle)

	tests := []struct {
		path string
		want bool
	}{
		{path: "/inbox/resume.pdf", want: true},
		{path: "/inbox/resume.exe", want: false},
		{path: "/inbox/.resume.pdf", want: false},
		{path: "/inbox/resume.pdf~", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.accepts(tt.path), tt.path)
	}
}

func TestInboxWatcherUploadsSettledFiles(t *testing.T) {
	env := newTestEnv(t)
	inbox := filepath.Join(env.home, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))

	w := NewInboxWatcher(inbox, WatchTarget{JobID: "J1", Company: "Acme", Role: "Engineer", Date: "2024-01-01"},
		env.versions.UploadResume, env.db.ServiceConfig().Supports, 50*time.Millisecond)

	type result struct {
		path  string
		entry *models.ManifestEntry
		err   error
	}
	results := make(chan result, 4)
	w.OnUpload = func(path string, entry *models.ManifestEntry, err error) {
		results <- result{path: path, entry: entry, err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(inbox, "notes.exe"), "ignored")
	src := writeFile(t, filepath.Join(inbox, "resume.pdf"), "%PDF from inbox")

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, src, r.path)
		require.NotNil(t, r.entry)
		assert.Equal(t, "J1", r.entry.JobID)
		require.Len(t, r.entry.Versions, 1)
		assert.Equal(t, "%PDF from inbox", readFile(t, r.entry.Versions[0].ManagedPath))
	case <-time.After(5 * time.Second):
		t.Fatal("inbox file was not uploaded")
	}
}
