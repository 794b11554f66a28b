// Package session defines the core data types shared by the store, scanner,
// indexer, conversation reader, and API layers.
package session

import "time"

// Record is the persisted metadata row for one session, keyed by ID.
//
// Fields split into two provenance groups: user-preference fields are set
// only by explicit API calls and are never overwritten by the indexer;
// indexed fields are written only by the indexer and never by the user API.
type Record struct {
	ID string `json:"id"`

	// User-preference fields.
	CustomName            string `json:"custom_name"`
	Pinned                bool   `json:"pinned"`
	Archived              bool   `json:"archived"`
	ContinuationSessionID string `json:"continuation_session_id,omitempty"`
	InitialCommitHead     string `json:"initial_commit_head"`
	PermissionMode        string `json:"permission_mode"`

	// Indexed fields.
	Summary         string `json:"summary,omitempty"`
	ProjectPath     string `json:"project_path,omitempty"`
	FilePath        string `json:"file_path,omitempty"`
	MessageCount    int    `json:"message_count"`
	TotalDurationMs int64  `json:"total_duration_ms"`
	Model           string `json:"model"`
	LastScannedAtMs int64  `json:"last_scanned_at_ms"`

	// Bookkeeping.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPermissionMode is the value new rows are initialized with.
const DefaultPermissionMode = "default"

// DefaultModel is the value new rows are initialized with until the scanner
// observes a message.model field.
const DefaultModel = "Unknown"

// CurrentSchemaVersion is the version marker written to new/updated rows
// and to the metadata table.
const CurrentSchemaVersion = 1

// UserFieldsPatch carries a partial update to the user-preference fields of
// a Record. Nil fields are left unchanged.
type UserFieldsPatch struct {
	CustomName            *string `json:"customName,omitempty"`
	Pinned                *bool   `json:"pinned,omitempty"`
	Archived              *bool   `json:"archived,omitempty"`
	ContinuationSessionID *string `json:"continuationSessionId,omitempty"`
	InitialCommitHead     *string `json:"initialCommitHead,omitempty"`
	PermissionMode        *string `json:"permissionMode,omitempty"`
}

// IndexedMetadata is the transient value produced by the scanner and
// consumed by the indexer. It mirrors the indexed-field subset of Record.
type IndexedMetadata struct {
	SessionID       string
	Summary         string
	ProjectPath     string
	FilePath        string
	MessageCount    int
	TotalDurationMs int64
	Model           string
	FirstTimestamp  time.Time
	LastTimestamp   time.Time
	LastScannedAtMs int64
}

// MessageType enumerates the recognized entry kinds in a JSONL session file.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeSystem    MessageType = "system"
)

// Message is the in-memory value produced by the conversation reader for a
// single entry in the reconstructed tree.
type Message struct {
	UUID             string          `json:"uuid"`
	ParentUUID       string          `json:"parent_uuid,omitempty"`
	SessionID        string          `json:"session_id"`
	Type             MessageType     `json:"type"`
	Timestamp        time.Time       `json:"timestamp"`
	IsSidechain      bool            `json:"is_sidechain"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	DurationMs       int64           `json:"duration_ms,omitempty"`
	Message          MessagePayload  `json:"message"`
}

// MessagePayload is the opaque "message" field of a raw JSONL entry: either
// a plain string, or an object whose "content" is either a string or a list
// of typed content blocks.
type MessagePayload struct {
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"-"`
	Raw     string         `json:"-"`
}

// ContentBlock is one element of a structured message's content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ListQuery describes the filter, ordering, and pagination accepted by
// Store.List.
type ListQuery struct {
	ProjectPath     *string
	Archived        *bool
	Pinned          *bool
	HasContinuation *bool

	OrderBy  OrderField
	OrderDir OrderDirection

	Limit  int
	Offset int
}

// OrderField is a column list() may sort by.
type OrderField string

const (
	OrderByCreatedAt OrderField = "created_at"
	OrderByUpdatedAt OrderField = "updated_at"
)

// OrderDirection is ascending or descending sort order.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Stats summarizes the store for diagnostics.
type Stats struct {
	Count       int       `json:"count"`
	ByteSize    int64     `json:"byte_size"`
	LastUpdated time.Time `json:"last_updated"`
}
