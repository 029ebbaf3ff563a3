package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(t *testing.T, path string, m Marker) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".applytrack.lock")
	l := New(path, Options{Session: "s1"})

	require.NoError(t, l.Acquire(context.Background(), time.Second))

	marker := l.readMarker()
	require.NotNil(t, marker, "marker should exist while held")
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.Equal(t, "s1", marker.Session)

	require.NoError(t, l.Release())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "marker should be removed on release")
}

func TestReleaseWithoutAcquire(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "x.lock"), Options{})
	assert.ErrorIs(t, l.Release(), ErrNotHeld)
}

func TestAcquire_TimeoutWhileHeldInProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "held.lock")
	holder := New(path, Options{})
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	other := New(path, Options{Retry: 10 * time.Millisecond})
	err := other.Acquire(context.Background(), 100*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, filepath.Clean(path), te.Path)
}

func TestAcquire_TimeoutWhileHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: os.Getppid(), Host: host, Token: "other", CreatedAt: time.Now().UTC()})

	l := New(path, Options{Retry: 10 * time.Millisecond})
	err := l.Acquire(context.Background(), 150*time.Millisecond)

	assert.ErrorIs(t, err, ErrTimeout)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "a live owner's marker must not be removed")
}

func TestAcquire_RecoversDeadOwner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process probing is unavailable on windows")
	}
	path := filepath.Join(t.TempDir(), "dead.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: 1 << 22, Host: host, Token: "dead", CreatedAt: time.Now().UTC()})

	l := New(path, Options{Retry: 10 * time.Millisecond})
	require.NoError(t, l.Acquire(context.Background(), time.Second))
	defer l.Release()

	assert.Equal(t, os.Getpid(), l.readMarker().PID)
}

func TestAcquire_RecoversMarkerPastStaleAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: os.Getppid(), Host: host, Token: "old", CreatedAt: time.Now().Add(-time.Hour)})

	l := New(path, Options{Retry: 10 * time.Millisecond, StaleAfter: time.Minute})
	require.NoError(t, l.Acquire(context.Background(), time.Second))
	require.NoError(t, l.Release())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.lock")
	holder := New(path, Options{})
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(path, Options{}).Acquire(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLock_SerializesGoroutines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.lock")

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		total   int
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(path, Options{Retry: 5 * time.Millisecond})
			err := l.WithLock(context.Background(), 10*time.Second, func() error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				total++
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two holders ran at once")
	assert.Equal(t, 16, total)
}

func TestNew_RelativeAndAbsolutePathShareLock(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	abs := New(filepath.Join(dir, "m.lock"), Options{})
	rel := New("m.lock", Options{Retry: 5 * time.Millisecond})
	assert.Equal(t, abs.Path(), rel.Path())

	require.NoError(t, abs.Acquire(context.Background(), time.Second))
	defer abs.Release()

	err := rel.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRecoverStale_KeepsLiveMarkerOfThisProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "own.lock")
	holder := New(path, Options{})
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	other := New(path, Options{})
	assert.False(t, other.recoverStale())
	assert.NotNil(t, holder.readMarker())
}

func TestRecoverStale_LeftoverOfThisProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "left.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: os.Getpid(), Host: host, Token: "forgotten", CreatedAt: time.Now().UTC()})

	l := New(path, Options{Retry: 5 * time.Millisecond})
	require.NoError(t, l.Acquire(context.Background(), time.Second))
	require.NoError(t, l.Release())
}

func TestRemoveIfUnchanged_KeepsNewerMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: 1 << 22, Host: host, Token: "dead", CreatedAt: time.Now().UTC()})
	judged, err := os.ReadFile(path)
	require.NoError(t, err)

	// Another process recovered the dead marker and created its own in between.
	writeMarker(t, path, Marker{PID: os.Getppid(), Host: host, Token: "fresh", CreatedAt: time.Now().UTC()})

	l := New(path, Options{})
	assert.False(t, l.removeIfUnchanged(judged))
	m := l.readMarker()
	require.NotNil(t, m)
	assert.Equal(t, "fresh", m.Token)

	assert.NoFileExists(t, path+".recover")
}

func TestRemoveIfUnchanged_WaitsForOtherRecoverer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guarded.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: 1 << 22, Host: host, Token: "dead", CreatedAt: time.Now().UTC()})
	judged, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".recover", nil, 0o600))

	l := New(path, Options{})
	assert.False(t, l.removeIfUnchanged(judged))
	assert.FileExists(t, path, "marker stays while another recovery is in progress")

	require.NoError(t, os.Remove(path+".recover"))
	assert.True(t, l.removeIfUnchanged(judged))
	assert.NoFileExists(t, path)
}

func TestAcquire_ConcurrentRecoverersOfDeadMarker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process probing is unavailable on windows")
	}
	path := filepath.Join(t.TempDir(), "dead.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, Marker{PID: 1 << 22, Host: host, Token: "dead", CreatedAt: time.Now().UTC()})

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate semaphores stand in for separate processes.
			l := New(path, Options{Retry: 2 * time.Millisecond})
			l.sem = make(chan struct{}, 1)
			err := l.WithLock(context.Background(), 10*time.Second, func() error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two recoverers held the lock at once")
}
