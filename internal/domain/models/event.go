package models

import "time"

// Event types emitted by an agent session transport.
const (
	EventTypeContent  = "content"
	EventTypeThought  = "thought"
	EventTypeToolCall = "tool_call"
	EventTypeDiff     = "diff"
	EventTypeUsage    = "usage"
)

// Normalized roles. An unrecognized inbound role is left empty.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// RawEvent is the loosely-typed inbound record delivered by the transport.
// Every field may be missing or partial; normalization is total and never
// rejects a RawEvent.
type RawEvent struct {
	EventID         string        `json:"event_id,omitempty"`
	OriginalEventID string        `json:"original_event_id,omitempty"`
	Timestamp       *time.Time    `json:"timestamp,omitempty"`
	Type            string        `json:"type,omitempty"`
	Role            string        `json:"role,omitempty"`
	Content         string        `json:"content,omitempty"`
	ToolCall        *RawToolCall  `json:"tool_call,omitempty"`
	Diff            *DiffPayload  `json:"diff,omitempty"`
	Usage           *UsagePayload `json:"usage,omitempty"`
	OrgID           string        `json:"org_id,omitempty"`
	OrgSlug         string        `json:"org_slug,omitempty"`
}

// RawToolCall is the possibly-incomplete tool invocation payload on a RawEvent.
type RawToolCall struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	PartialArgs string `json:"partial_args,omitempty"`
	Index       int    `json:"index,omitempty"`
}

// DiffPayload names a file touched by a diff hunk.
type DiffPayload struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content,omitempty"`
}

// UsagePayload carries the token counts reported at the end of a turn.
type UsagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is the canonical record produced by normalization. All identity and
// timing fields are populated; ToolCall sub-fields are defaulted to safe
// placeholders when a tool-call payload was present but incomplete.
type Event struct {
	ID         string
	OriginalID string
	Timestamp  time.Time
	Type       string
	Role       string
	Content    string
	ToolCall   *RawToolCall
	Diff       *DiffPayload
	Usage      *UsagePayload
	OrgID      string
	OrgSlug    string
}
