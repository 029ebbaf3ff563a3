package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// Backend persists the whole manifest document. Save always replaces the
// complete list; there are no partial updates.
type Backend interface {
	Load(ctx context.Context) ([]models.ManifestEntry, error)
	Save(ctx context.Context, entries []models.ManifestEntry) error
	Close() error
}

// OpenBackend builds a Backend from a DSN:
//
//	file:///abs/path/manifest.json  (or a bare path)
//	badger:///abs/path/dir
//	memory://
func OpenBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDSN)
	}
	if !strings.Contains(dsn, "://") {
		return NewJSONFileBackend(dsn), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "file":
		path, err := dsnPath(parsed)
		if err != nil {
			return nil, err
		}
		return NewJSONFileBackend(path), nil
	case "badger":
		path, err := dsnPath(parsed)
		if err != nil {
			return nil, err
		}
		return OpenBadgerBackend(path)
	case "memory", "mem", "inmem":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, parsed.Scheme)
	}
}

func dsnPath(u *url.URL) (string, error) {
	path := u.Path
	if u.Host != "" {
		// file://relative/path parses "relative" as the host.
		path = u.Host + path
	}
	if path == "" {
		return "", fmt.Errorf("%w: missing path", ErrInvalidDSN)
	}
	return path, nil
}

// JSONFileBackend stores the manifest as one JSON array, rewritten atomically.
type JSONFileBackend struct {
	path string
}

// NewJSONFileBackend creates a file backend at path.
func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{path: path}
}

// Path returns the manifest file path.
func (b *JSONFileBackend) Path() string {
	return b.path
}

func (b *JSONFileBackend) Load(ctx context.Context) ([]models.ManifestEntry, error) {
	var entries []models.ManifestEntry
	if err := ReadJSON(b.path, &entries); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.ManifestEntry{}, nil
		}
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if entries == nil {
		entries = []models.ManifestEntry{}
	}
	return entries, nil
}

func (b *JSONFileBackend) Save(ctx context.Context, entries []models.ManifestEntry) error {
	if entries == nil {
		entries = []models.ManifestEntry{}
	}
	if err := WriteJSONAtomic(b.path, entries); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

func (b *JSONFileBackend) Close() error {
	return nil
}

// MemoryBackend keeps a deep copy of the manifest in memory (for tests).
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(ctx context.Context) ([]models.ManifestEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := []models.ManifestEntry{}
	if b.data == nil {
		return entries, nil
	}
	if err := json.Unmarshal(b.data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *MemoryBackend) Save(ctx context.Context, entries []models.ManifestEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
