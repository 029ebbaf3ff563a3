package models

// AttachmentMode is how a job folder holds its attachments.
type AttachmentMode string

const (
	AttachmentCopy      AttachmentMode = "copy"
	AttachmentReference AttachmentMode = "reference"
)

// DefaultNamingFormat builds job folder names from the mined job fields.
const DefaultNamingFormat = "{company}_{role}_{date}"

// DefaultSupportedExtensions are the resume file types accepted for upload.
var DefaultSupportedExtensions = []string{".pdf", ".docx", ".doc", ".txt", ".rtf", ".odt", ".md"}

// ServiceConfig is the persisted configuration of the file lifecycle engine.
type ServiceConfig struct {
	ManagedFolder       string         `json:"managed_folder" validate:"required"`
	JobsFolder          string         `json:"jobs_folder" validate:"required"`
	NamingFormat        string         `json:"naming_format" validate:"required"`
	SupportedExtensions []string       `json:"supported_extensions" validate:"required,min=1,dive,startswith=."`
	KeepOriginalDefault bool           `json:"keep_original_default"`
	AttachmentMode      AttachmentMode `json:"attachment_mode" validate:"oneof=copy reference"`
}

// Supports reports whether ext (with leading dot, any case) is a supported upload type.
func (c ServiceConfig) Supports(ext string) bool {
	ext = NormalizeExtension(ext)
	for _, s := range c.SupportedExtensions {
		if NormalizeExtension(s) == ext {
			return true
		}
	}
	return false
}
