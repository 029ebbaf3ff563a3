package models

import "time"

// ImportStatus is the lifecycle state of a migration candidate.
type ImportStatus string

const (
	ImportDetected ImportStatus = "detected"
	ImportMapped   ImportStatus = "mapped"
	ImportConflict ImportStatus = "conflict"
	ImportReady    ImportStatus = "ready"
	ImportImported ImportStatus = "imported"
	ImportFailed   ImportStatus = "failed"
)

// ConflictType classifies a path collision found before import.
type ConflictType string

const (
	ConflictFolderExists ConflictType = "folder_exists"
	ConflictFileExists   ConflictType = "file_exists"
	ConflictInvalidPath  ConflictType = "invalid_path"
)

// ConflictInfo describes one collision for a candidate.
type ConflictInfo struct {
	Type          ConflictType `json:"type"`
	Path          string       `json:"path"`
	SuggestedName string       `json:"suggested_name,omitempty"`
}

// DetectedJob holds the partial job fields mined from a source file.
type DetectedJob struct {
	Company string `json:"company,omitempty"`
	Role    string `json:"role,omitempty"`
	Date    string `json:"date,omitempty"`
	URL     string `json:"url,omitempty"`
	Text    string `json:"text,omitempty"`
	UUID    string `json:"uuid,omitempty"`
}

// ImportableJob is a candidate discovered while scanning a source directory.
type ImportableJob struct {
	ID             string         `json:"id"`
	OriginalPath   string         `json:"original_path"`
	Detected       DetectedJob    `json:"detected"`
	ProposedFolder string         `json:"proposed_folder"`
	Status         ImportStatus   `json:"status"`
	Conflicts      []ConflictInfo `json:"conflicts,omitempty"`
}

// LogAction is the kind of a migration or bulk-conversion log entry.
type LogAction string

const (
	ActionImport    LogAction = "import"
	ActionCopy      LogAction = "copy"
	ActionReference LogAction = "reference"
	ActionRename    LogAction = "rename"
	ActionSkip      LogAction = "skip"
	ActionError     LogAction = "error"
	ActionUndo      LogAction = "undo"
)

// ImportUndo reverses one imported job folder.
type ImportUndo struct {
	CreatedFolder string   `json:"created_folder"`
	CreatedFiles  []string `json:"created_files"`
	BackupPath    string   `json:"backup_path,omitempty"`
}

// ReferenceUndo reverses a copy->reference conversion of one job.
type ReferenceUndo struct {
	JobFolder     string            `json:"job_folder"`
	RemovedFiles  []string          `json:"removed_files"`
	BackupPath    string            `json:"backup_path,omitempty"`
	PreviousMode  AttachmentMode    `json:"previous_mode"`
	PreviousPaths map[string]string `json:"previous_paths,omitempty"`
}

// CopyUndo reverses a reference->copy conversion of one job.
type CopyUndo struct {
	JobFolder     string            `json:"job_folder"`
	CopiedFiles   []string          `json:"copied_files"`
	BackupPath    string            `json:"backup_path,omitempty"`
	PreviousMode  AttachmentMode    `json:"previous_mode"`
	PreviousPaths map[string]string `json:"previous_paths,omitempty"`
}

// UndoData is a closed variant: exactly one member is set, matching the entry's action.
type UndoData struct {
	Import    *ImportUndo    `json:"import,omitempty"`
	Reference *ReferenceUndo `json:"reference,omitempty"`
	Copy      *CopyUndo      `json:"copy,omitempty"`
}

// MigrationLogEntry records one migration or bulk-conversion action.
type MigrationLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     LogAction `json:"action"`
	SourcePath string    `json:"sourcePath,omitempty"`
	TargetPath string    `json:"targetPath,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Error      string    `json:"error,omitempty"`
	CanUndo    bool      `json:"canUndo"`
	UndoData   *UndoData `json:"undoData,omitempty"`
}

// MigrationResult is the aggregate of one import run, persisted per run.
type MigrationResult struct {
	RunID        string              `json:"run_id"`
	SourceDir    string              `json:"source_dir,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
	Total        int                 `json:"total"`
	Successful   int                 `json:"successful"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	BackupFolder string              `json:"backup_folder,omitempty"`
	Log          []MigrationLogEntry `json:"log"`
}

// BulkOperationType names the direction of an attachment conversion.
type BulkOperationType string

const (
	BulkCopyToReference BulkOperationType = "copy_to_reference"
	BulkReferenceToCopy BulkOperationType = "reference_to_copy"
)

// BulkStatus is the aggregate outcome of a bulk conversion.
type BulkStatus string

const (
	BulkCompleted BulkStatus = "completed"
	BulkFailed    BulkStatus = "failed"
)

// BulkOperation records one attachment conversion across many jobs.
type BulkOperation struct {
	ID           string              `json:"id"`
	Type         BulkOperationType   `json:"type"`
	Timestamp    time.Time           `json:"timestamp"`
	JobIDs       []string            `json:"job_ids"`
	CreateBackup bool                `json:"create_backup"`
	BackupFolder string              `json:"backup_folder,omitempty"`
	Status       BulkStatus          `json:"status"`
	Successful   int                 `json:"successful"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	Log          []MigrationLogEntry `json:"log"`
}
