package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// manifestRecord is the stored form of one entry. Position keeps the
// manifest's list order stable across reloads.
type manifestRecord struct {
	ID       string `badgerhold:"key"`
	Position int
	Entry    models.ManifestEntry
}

// BadgerBackend keeps manifest entries as badgerhold records, one per entry.
// Save replaces the full set inside a single badger transaction.
type BadgerBackend struct {
	store *badgerhold.Store
	dir   string
}

// OpenBadgerBackend opens (or creates) a badger store in dir.
func OpenBadgerBackend(dir string) (*BadgerBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerBackend{store: store, dir: dir}, nil
}

func (b *BadgerBackend) Load(ctx context.Context) ([]models.ManifestEntry, error) {
	var records []manifestRecord
	if err := b.store.Find(&records, nil); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("load manifest: %w", wrapBackendError(err))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Position < records[j].Position
	})

	entries := make([]models.ManifestEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.Entry)
	}
	return entries, nil
}

func (b *BadgerBackend) Save(ctx context.Context, entries []models.ManifestEntry) error {
	err := b.store.Badger().Update(func(tx *badger.Txn) error {
		var existing []manifestRecord
		if err := b.store.TxFind(tx, &existing, nil); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		keep := make(map[string]bool, len(entries))
		for _, e := range entries {
			keep[e.ID] = true
		}
		for _, r := range existing {
			if keep[r.ID] {
				continue
			}
			if err := b.store.TxDelete(tx, r.ID, &manifestRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return err
			}
		}
		for i, e := range entries {
			rec := manifestRecord{ID: e.ID, Position: i, Entry: e}
			if err := b.store.TxUpsert(tx, rec.ID, &rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save manifest: %w", wrapBackendError(err))
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
