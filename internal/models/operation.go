package models

import "time"

// OperationType is the kind of a mutating operation in the operations log.
type OperationType string

const (
	OpUpload     OperationType = "upload"
	OpBulkImport OperationType = "bulk_import"
	OpDelete     OperationType = "delete"
	OpRestore    OperationType = "restore"
	OpRename     OperationType = "rename"
	OpRollback   OperationType = "rollback"
	OpConvert    OperationType = "convert"
)

// VersionRef points at one version of one manifest entry.
type VersionRef struct {
	EntryID   string `json:"entry_id"`
	VersionID string `json:"version_id"`
}

// OperationDetails is the bag of affected resources of one operation.
type OperationDetails struct {
	Files            []string     `json:"files,omitempty"`
	Folders          []string     `json:"folders,omitempty"`
	ManifestEntryIDs []string     `json:"manifest_entry_ids,omitempty"`
	Versions         []VersionRef `json:"versions,omitempty"`
	PreviousActive   *VersionRef  `json:"previous_active,omitempty"`
	SourcePath       string       `json:"source_path,omitempty"`
	TargetPath       string       `json:"target_path,omitempty"`
	RestoreSource    bool         `json:"restore_source,omitempty"` // source was moved; undo copies it back
	JobID            string       `json:"job_id,omitempty"`
	RunID            string       `json:"run_id,omitempty"` // migration run or bulk operation id
	UndoneOperation  string       `json:"undone_operation,omitempty"`
	Description      string       `json:"description,omitempty"`
}

// OperationLogEntry is an append-only audit record.
type OperationLogEntry struct {
	ID        string           `json:"id"`
	Type      OperationType    `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Details   OperationDetails `json:"details"`
	CanUndo   bool             `json:"can_undo"`
	SessionID string           `json:"session_id"`
}
