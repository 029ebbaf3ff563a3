package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// QueryListEntries returns manifest entries in stored order. An empty jobID
// returns every entry.
func (c *Client) QueryListEntries(ctx context.Context, jobID string) ([]models.ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return entries, nil
	}
	out := make([]models.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// QueryGetEntry returns the entry with the given id.
func (c *Client) QueryGetEntry(ctx context.Context, id string) (*models.ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// QueryFindEntry returns the first entry matching the find-or-create key,
// or nil when none matches.
func (c *Client) QueryFindEntry(ctx context.Context, jobID, company, role, date string) (*models.ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].MatchesKey(jobID, company, role, date) {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// QueryUpdate runs one read-modify-rewrite cycle over the whole manifest.
// When fn returns an error nothing is written.
func (c *Client) QueryUpdate(ctx context.Context, fn func(entries []models.ManifestEntry) ([]models.ManifestEntry, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backend.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	return c.backend.Save(ctx, next)
}

// QueryUpsertEntry replaces the entry with the same id or appends it.
func (c *Client) QueryUpsertEntry(ctx context.Context, entry models.ManifestEntry) error {
	return c.QueryUpdate(ctx, func(entries []models.ManifestEntry) ([]models.ManifestEntry, error) {
		for i := range entries {
			if entries[i].ID == entry.ID {
				entries[i] = entry
				return entries, nil
			}
		}
		return append(entries, entry), nil
	})
}

// QueryUpdateEntry applies fn to the entry with the given id and persists it.
func (c *Client) QueryUpdateEntry(ctx context.Context, id string, fn func(*models.ManifestEntry) error) (*models.ManifestEntry, error) {
	var updated *models.ManifestEntry
	err := c.QueryUpdate(ctx, func(entries []models.ManifestEntry) ([]models.ManifestEntry, error) {
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			if err := fn(&entries[i]); err != nil {
				return nil, err
			}
			e := entries[i]
			updated = &e
			return entries, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// QueryDeleteEntry removes entries by id and returns the removed entries.
// Unknown ids are ignored.
func (c *Client) QueryDeleteEntry(ctx context.Context, ids ...string) ([]models.ManifestEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	var removed []models.ManifestEntry
	err := c.QueryUpdate(ctx, func(entries []models.ManifestEntry) ([]models.ManifestEntry, error) {
		kept := entries[:0]
		for _, e := range entries {
			if drop[e.ID] {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// QueryManagedPaths returns the set of managed paths referenced by any version.
func (c *Client) QueryManagedPaths(ctx context.Context) (map[string]bool, error) {
	entries, err := c.QueryListEntries(ctx, "")
	if err != nil {
		return nil, err
	}
	paths := make(map[string]bool)
	for _, e := range entries {
		for _, v := range e.Versions {
			paths[v.ManagedPath] = true
		}
	}
	return paths, nil
}
