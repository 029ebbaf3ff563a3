// Package db persists the resume manifest and the service configuration.
//
// The manifest is always read, modified and rewritten as a whole document.
// Client serializes those read-modify-rewrite cycles inside the process.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// Config holds manifest store configuration.
type Config struct {
	ManifestDSN       string // file://, badger:// or memory://
	ServiceConfigFile string
	ManagedFolder     string // default managed folder for a fresh service config
	JobsFolder        string // default jobs folder for a fresh service config
}

// Client owns the manifest backend and the service configuration.
type Client struct {
	mu      sync.Mutex
	backend Backend
	cfg     Config
	service models.ServiceConfig
	logger  *slog.Logger
}

// NewClient opens the manifest backend named by cfg.ManifestDSN and loads
// (or creates) the service configuration.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	backend, err := OpenBackend(cfg.ManifestDSN)
	if err != nil {
		return nil, fmt.Errorf("open manifest backend: %w", err)
	}

	return newClient(ctx, backend, cfg, log)
}

// NewClientWithBackend builds a client over an already-open backend.
func NewClientWithBackend(ctx context.Context, backend Backend, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	return newClient(ctx, backend, cfg, log)
}

func newClient(ctx context.Context, backend Backend, cfg Config, log *slog.Logger) (*Client, error) {
	c := &Client{backend: backend, cfg: cfg, logger: log}

	service, err := LoadServiceConfig(cfg.ServiceConfigFile, DefaultServiceConfig(cfg.ManagedFolder, cfg.JobsFolder))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	c.service = service

	log.Debug("manifest store opened", "dsn", cfg.ManifestDSN, "managed_folder", service.ManagedFolder)
	return c, nil
}

// Close releases the backend.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	return err
}

// InitSchema creates the managed and jobs folders named by the service config.
func (c *Client) InitSchema(ctx context.Context) error {
	c.mu.Lock()
	service := c.service
	c.mu.Unlock()
	if err := EnsureLayout(service); err != nil {
		return err
	}
	c.logger.Debug("storage layout ready", "managed_folder", service.ManagedFolder, "jobs_folder", service.JobsFolder)
	return nil
}

// WipeData removes every manifest entry. Files on disk are left alone.
func (c *Client) WipeData(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Save(ctx, []models.ManifestEntry{})
}

// ServiceConfig returns a copy of the current service configuration.
func (c *Client) ServiceConfig() models.ServiceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.service
	out.SupportedExtensions = append([]string(nil), c.service.SupportedExtensions...)
	return out
}

// UpdateServiceConfig applies fn to a copy of the service config, validates
// the result and persists it.
func (c *Client) UpdateServiceConfig(ctx context.Context, fn func(*models.ServiceConfig)) (models.ServiceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.service
	next.SupportedExtensions = append([]string(nil), c.service.SupportedExtensions...)
	fn(&next)

	if err := SaveServiceConfig(c.cfg.ServiceConfigFile, next); err != nil {
		return c.service, err
	}
	c.service = next
	c.logger.Info("service config updated", "attachment_mode", next.AttachmentMode, "naming_format", next.NamingFormat)
	return next, nil
}
