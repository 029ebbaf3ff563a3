package models

import "time"

// Standard artifact files written into every job folder.
const (
	JobMetadataFile = "job.json"
	JobTextFile     = "job.txt"
)

// JobRecord is the canonical job.json document of a job folder.
type JobRecord struct {
	ID         string    `json:"id"`
	Company    string    `json:"company"`
	Role       string    `json:"role"`
	Date       string    `json:"date,omitempty"`
	URL        string    `json:"url,omitempty"`
	Text       string    `json:"text,omitempty"`
	SourcePath string    `json:"source_path,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	AttachmentMode    AttachmentMode    `json:"attachment_mode"`
	AttachmentPaths   map[string]string `json:"attachment_paths,omitempty"`   // file name -> external path (reference mode)
	OriginalPaths     map[string]string `json:"original_paths,omitempty"`     // file name -> best-known original location
	AttachmentBackups map[string]string `json:"attachment_backups,omitempty"` // file name -> backup copy
	AttachmentSums    map[string]string `json:"attachment_checksums,omitempty"` // file name -> sha256 of the managed copy at conversion
}

// IsMetadataFile reports whether name is one of the job folder's own artifacts.
func IsMetadataFile(name string) bool {
	return name == JobMetadataFile || name == JobTextFile
}
