package model

import "time"

// Audit actions.
const (
	ActionConverge = "converge"
)

// AuditEntry summarizes one run. Entries are append-only.
type AuditEntry struct {
	ID         string       `json:"id,omitempty"`
	At         time.Time    `json:"at"`
	GroupID    string       `json:"group_id"`
	Action     string       `json:"action"`
	Marker     string       `json:"generation_marker"`
	Details    AuditDetails `json:"details"`
	CreatedIDs []string     `json:"created_ids"`
	UpdatedIDs []string     `json:"updated_ids"`
	DeletedIDs []string     `json:"deleted_ids"`
}

// AuditDetails are the counts recorded for a run.
type AuditDetails struct {
	Planned int `json:"planned"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// ErrorEntry records one recoverable failure. Entries are append-only.
type ErrorEntry struct {
	ID      string    `json:"id,omitempty"`
	At      time.Time `json:"at"`
	GroupID string    `json:"group_id"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`

	// SourceAsText stores GroupID as plain text instead of a link. Recorders
	// set it when the linked form is rejected.
	SourceAsText bool `json:"source_as_text,omitempty"`
}
