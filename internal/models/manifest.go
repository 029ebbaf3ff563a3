// Package models defines the persisted records of the applytrack file lifecycle engine.
package models

import "time"

// ExtractionStatus values are set by the external text-extraction collaborator.
const (
	ExtractionPending   = "pending"
	ExtractionCompleted = "completed"
	ExtractionFailed    = "failed"
)

// VersionEntry is one physical file inside the managed folder.
// ManagedPath is unique across the manifest and Checksum never changes once written.
type VersionEntry struct {
	VersionID        string    `json:"version_id"`
	VersionSuffix    string    `json:"version_suffix"` // "" for the first version, then "_v1", "_v2", ...
	ManagedPath      string    `json:"managed_path"`
	Checksum         string    `json:"checksum"`
	UploadTimestamp  time.Time `json:"upload_timestamp"`
	OriginalPath     string    `json:"original_path"`
	OriginalFilename string    `json:"original_filename"`
	MimeType         string    `json:"mime_type"`
	IsActive         bool      `json:"is_active"`

	ExtractedText    *string `json:"extracted_text,omitempty"`
	ExtractionStatus string  `json:"extraction_status,omitempty"`
	ExtractionError  *string `json:"extraction_error,omitempty"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
}

// ManifestEntry is one logical resume slot for a job.
// At most one of its versions is active.
type ManifestEntry struct {
	ID           string         `json:"id"`
	JobID        string         `json:"job_id"`
	Company      string         `json:"company"`
	Role         string         `json:"role"`
	Date         string         `json:"date"`
	PersonName   string         `json:"person_name,omitempty"`
	BaseFilename string         `json:"base_filename"`
	Extension    string         `json:"extension"`
	KeepOriginal bool           `json:"keep_original"`
	Versions     []VersionEntry `json:"versions"`
	CreatedAt    time.Time      `json:"created_at"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// ActiveVersion returns the active version, or nil if none is active.
func (e *ManifestEntry) ActiveVersion() *VersionEntry {
	for i := range e.Versions {
		if e.Versions[i].IsActive {
			return &e.Versions[i]
		}
	}
	return nil
}

// Version returns the version with the given id, or nil.
func (e *ManifestEntry) Version(versionID string) *VersionEntry {
	for i := range e.Versions {
		if e.Versions[i].VersionID == versionID {
			return &e.Versions[i]
		}
	}
	return nil
}

// DeactivateAll clears the active flag on every version.
func (e *ManifestEntry) DeactivateAll() {
	for i := range e.Versions {
		e.Versions[i].IsActive = false
	}
}

// Activate marks exactly one version active. Returns false if the id is unknown.
func (e *ManifestEntry) Activate(versionID string) bool {
	if e.Version(versionID) == nil {
		return false
	}
	for i := range e.Versions {
		e.Versions[i].IsActive = e.Versions[i].VersionID == versionID
	}
	return true
}

// RemoveVersion drops a version from the list and returns it.
func (e *ManifestEntry) RemoveVersion(versionID string) (VersionEntry, bool) {
	for i := range e.Versions {
		if e.Versions[i].VersionID == versionID {
			removed := e.Versions[i]
			e.Versions = append(e.Versions[:i], e.Versions[i+1:]...)
			return removed, true
		}
	}
	return VersionEntry{}, false
}

// MatchesKey reports whether the entry belongs to the given find-or-create key.
// Company and role are compared in sanitized form.
func (e *ManifestEntry) MatchesKey(jobID, company, role, date string) bool {
	return e.JobID == jobID &&
		SanitizeComponent(e.Company) == SanitizeComponent(company) &&
		SanitizeComponent(e.Role) == SanitizeComponent(role) &&
		e.Date == date
}
