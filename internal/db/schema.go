package db

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/applytrack/internal/models"
)

var validate = validator.New()

// DefaultServiceConfig is written on first start.
func DefaultServiceConfig(managedFolder, jobsFolder string) models.ServiceConfig {
	return models.ServiceConfig{
		ManagedFolder:       managedFolder,
		JobsFolder:          jobsFolder,
		NamingFormat:        models.DefaultNamingFormat,
		SupportedExtensions: append([]string(nil), models.DefaultSupportedExtensions...),
		KeepOriginalDefault: true,
		AttachmentMode:      models.AttachmentCopy,
	}
}

// ValidateServiceConfig checks the struct tags on models.ServiceConfig.
func ValidateServiceConfig(cfg models.ServiceConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadServiceConfig reads the service config at path. When the file does not
// exist, defaults are validated, written and returned. Fields missing from an
// older file are filled from defaults.
func LoadServiceConfig(path string, defaults models.ServiceConfig) (models.ServiceConfig, error) {
	if path == "" {
		if err := ValidateServiceConfig(defaults); err != nil {
			return models.ServiceConfig{}, err
		}
		return defaults, nil
	}

	cfg := defaults
	cfg.SupportedExtensions = nil
	if err := ReadJSON(path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return models.ServiceConfig{}, fmt.Errorf("load service config: %w", err)
		}
		if err := SaveServiceConfig(path, defaults); err != nil {
			return models.ServiceConfig{}, err
		}
		return defaults, nil
	}

	if cfg.AttachmentMode == "" {
		cfg.AttachmentMode = defaults.AttachmentMode
	}
	if len(cfg.SupportedExtensions) == 0 {
		cfg.SupportedExtensions = defaults.SupportedExtensions
	}
	if err := ValidateServiceConfig(cfg); err != nil {
		return models.ServiceConfig{}, err
	}
	return cfg, nil
}

// SaveServiceConfig validates and atomically writes cfg to path.
func SaveServiceConfig(path string, cfg models.ServiceConfig) error {
	if err := ValidateServiceConfig(cfg); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := WriteJSONAtomic(path, cfg); err != nil {
		return fmt.Errorf("save service config: %w", err)
	}
	return nil
}

// EnsureLayout creates the managed and jobs folders.
func EnsureLayout(cfg models.ServiceConfig) error {
	for _, dir := range []string{cfg.ManagedFolder, cfg.JobsFolder} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
