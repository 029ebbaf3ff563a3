// Package lock provides an advisory, timeout-bounded lock over a single marker file.
//
// Goroutines of one process are serialized by a per-path semaphore; processes sharing
// the folder are serialized by the marker, which is created with O_EXCL and carries the
// owner's pid, host and a random token. A marker is stale when its owner is a dead
// process on this host, or when it is older than the configured stale age.
// Stale markers are removed by one recoverer at a time through a
// <marker>.recover guard file.
package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned when the lock could not be acquired before the timeout.
var ErrTimeout = errors.New("lock timeout")

// ErrNotHeld is returned by Release when the caller does not hold the lock.
var ErrNotHeld = errors.New("lock not held")

// Defaults used when Options leaves a field zero.
const (
	DefaultRetry      = 50 * time.Millisecond
	DefaultStaleAfter = 10 * time.Minute
)

// TimeoutError carries the details of a failed acquisition.
type TimeoutError struct {
	Path     string
	Waited   time.Duration
	Attempts int
	Owner    *Marker
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("lock timeout (path=%s waited=%s attempts=%d)", e.Path, e.Waited.Truncate(time.Millisecond), e.Attempts)
	if e.Owner != nil {
		msg += fmt.Sprintf(" held by pid %d on %s since %s", e.Owner.PID, e.Owner.Host, e.Owner.CreatedAt.Format(time.RFC3339))
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Marker is the JSON body of the lock file.
type Marker struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Token     string    `json:"token"`
	Session   string    `json:"session,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Options tunes a Locker.
type Options struct {
	Retry      time.Duration
	StaleAfter time.Duration
	Session    string
	Logger     *slog.Logger
}

// Locker guards one marker path. A Locker is safe for concurrent use; each
// successful Acquire must be paired with one Release.
type Locker struct {
	path       string
	retry      time.Duration
	staleAfter time.Duration
	session    string
	logger     *slog.Logger
	sem        chan struct{}

	mu    sync.Mutex
	token string
}

// semaphores maps an absolute marker path to its in-process semaphore, so two
// Lockers over the same path still exclude each other.
var semaphores sync.Map

// liveTokens holds the tokens of markers this process currently owns. A
// marker carrying our pid but none of these tokens is a leftover.
var liveTokens sync.Map

// New creates a Locker for the marker at path.
func New(path string, opts Options) *Locker {
	if opts.Retry <= 0 {
		opts.Retry = DefaultRetry
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	} else {
		path = filepath.Clean(path)
	}
	sem, _ := semaphores.LoadOrStore(path, make(chan struct{}, 1))
	return &Locker{
		path:       path,
		retry:      opts.Retry,
		staleAfter: opts.StaleAfter,
		session:    opts.Session,
		logger:     opts.Logger,
		sem:        sem.(chan struct{}),
	}
}

// Path returns the marker path.
func (l *Locker) Path() string {
	return l.path
}

// Acquire blocks until the marker is created or timeout elapses.
func (l *Locker) Acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-deadline.C:
		return &TimeoutError{Path: l.path, Waited: time.Since(start), Owner: l.readMarker()}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		<-l.sem
		return fmt.Errorf("prepare lock directory: %w", err)
	}

	attempts := 0
	for {
		attempts++
		token, err := l.tryCreate()
		if err == nil {
			l.mu.Lock()
			l.token = token
			l.mu.Unlock()
			l.logger.Debug("lock acquired", "path", l.path, "attempts", attempts, "waited_ms", time.Since(start).Milliseconds())
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			<-l.sem
			return fmt.Errorf("acquire lock: %w", err)
		}

		if l.recoverStale() {
			continue
		}

		select {
		case <-deadline.C:
			<-l.sem
			return &TimeoutError{Path: l.path, Waited: time.Since(start), Attempts: attempts, Owner: l.readMarker()}
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// Release deletes the marker if the caller holds it.
func (l *Locker) Release() error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return ErrNotHeld
	}
	defer func() { <-l.sem }()
	defer liveTokens.Delete(token)

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	l.logger.Debug("lock released", "path", l.path)
	return nil
}

// WithLock runs fn while holding the lock.
func (l *Locker) WithLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			l.logger.Warn("failed to release lock", "path", l.path, "error", err)
		}
	}()
	return fn()
}

// tryCreate registers the token before the marker exists, so no Locker of
// this process ever sees our live marker as a leftover.
func (l *Locker) tryCreate() (string, error) {
	token := uuid.NewString()
	liveTokens.Store(token, l.path)
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		liveTokens.Delete(token)
		return "", err
	}
	host, _ := os.Hostname()
	m := Marker{
		PID:       os.Getpid(),
		Host:      host,
		Token:     token,
		Session:   l.session,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(m)
	if err == nil {
		_, err = f.Write(append(data, '\n'))
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(l.path)
		liveTokens.Delete(token)
		return "", fmt.Errorf("write lock marker: %w", err)
	}
	return m.Token, nil
}

func (l *Locker) readMarker() *Marker {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	return parseMarker(data)
}

func parseMarker(data []byte) *Marker {
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

// recoverStale removes the marker when it is stale. Must be called while holding
// the in-process semaphore.
func (l *Locker) recoverStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Vanished between the create attempt and now; retry immediately.
		return errors.Is(err, os.ErrNotExist)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}

	reason := ""
	m := parseMarker(data)
	host, _ := os.Hostname()
	switch {
	case m == nil:
		if time.Since(info.ModTime()) > l.staleAfter {
			reason = "unreadable marker past stale age"
		}
	case m.PID == os.Getpid() && m.Host == host:
		if _, live := liveTokens.Load(m.Token); !live {
			reason = "leftover marker from this process"
		}
	case m.Host == host && !processAlive(m.PID):
		reason = "owner process is gone"
	case time.Since(m.CreatedAt) > l.staleAfter:
		reason = "marker past stale age"
	}
	if reason == "" {
		return false
	}

	if !l.removeIfUnchanged(data) {
		return false
	}
	attrs := []any{"path", l.path, "reason", reason}
	if m != nil {
		attrs = append(attrs, "owner_pid", m.PID)
	}
	l.logger.Warn("removed stale lock", attrs...)
	return true
}

// removeIfUnchanged deletes the marker only if it still holds judged.
// Recoverers take turns through an O_EXCL guard file, and only a recoverer
// removes a stale marker, so the marker cannot be replaced between the
// comparison and the removal.
func (l *Locker) removeIfUnchanged(judged []byte) bool {
	guard := l.path + ".recover"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > l.staleAfter {
				l.logger.Warn("removing abandoned lock recovery guard", "path", guard)
				_ = os.Remove(guard)
			}
			return false
		}
		l.logger.Warn("failed to guard stale lock recovery", "path", guard, "error", err)
		return false
	}
	_ = g.Close()
	defer func() {
		if err := os.Remove(guard); err != nil {
			l.logger.Warn("failed to remove lock recovery guard", "path", guard, "error", err)
		}
	}()

	data, err := os.ReadFile(l.path)
	if err != nil {
		// Gone already: another recoverer finished first.
		return errors.Is(err, os.ErrNotExist)
	}
	if !bytes.Equal(data, judged) {
		return false
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("failed to remove stale lock", "path", l.path, "error", err)
		return false
	}
	return true
}
