package models

import (
	"strings"
	"time"
)

// PlaceholderUserContent marks a turn synthesized for assistant activity that
// arrived before (or without) the initiating user message.
const PlaceholderUserContent = "[No user message captured]"

// Turn is one user/assistant exchange. It is mutable in memory while active
// and persisted incrementally as handlers run.
//
// Thread-safety: NOT thread-safe. A Turn is only ever mutated by the single
// goroutine processing its session's events, the same discipline the
// transport guarantees for event delivery.
type Turn struct {
	ID        string
	SessionID string

	UserContent      string
	AssistantContent strings.Builder

	Reasoning []*ReasoningBlock
	ToolCalls []*ToolCallRecord

	// FilesTouched aggregates per-path activity. It is deliberately
	// denormalized onto the turn instead of getting its own node type.
	FilesTouched map[string]*FileTouch

	// PendingReasoning holds reasoning-block ids not yet linked to a tool
	// call. The next tool call consumes and clears the whole list.
	PendingReasoning []string

	ToolCallCount int

	// BlockCounter is a monotonically increasing position for content blocks
	// within the turn.
	BlockCounter int

	// LastFlushedLen is the assistant-content length at the last preview
	// flush; the content handler uses it to bound write amplification.
	LastFlushedLen int

	InputTokens  int
	OutputTokens int

	SequenceIndex int
	CreatedAt     time.Time
	Finalized     bool

	// Tenant identifiers; both must be set for tenant-routed persistence.
	OrgID   string
	OrgSlug string
}

// TouchedPaths returns the touched file paths in deterministic-free map order;
// callers that need stable output sort it themselves.
func (t *Turn) TouchedPaths() []string {
	paths := make([]string, 0, len(t.FilesTouched))
	for p := range t.FilesTouched {
		paths = append(paths, p)
	}
	return paths
}

// RecordFileTouch updates the per-path aggregate.
func (t *Turn) RecordFileTouch(path string, action FileAction, toolCallID string) {
	if t.FilesTouched == nil {
		t.FilesTouched = make(map[string]*FileTouch)
	}
	if existing, ok := t.FilesTouched[path]; ok {
		existing.Count++
		existing.Action = action
		if toolCallID != "" {
			existing.ToolCallID = toolCallID
		}
		return
	}
	t.FilesTouched[path] = &FileTouch{Action: action, Count: 1, ToolCallID: toolCallID}
}

// LastToolCall returns the most recently created tool call, or nil.
func (t *Turn) LastToolCall() *ToolCallRecord {
	if len(t.ToolCalls) == 0 {
		return nil
	}
	return t.ToolCalls[len(t.ToolCalls)-1]
}

// ReasoningBlock is a discrete chain-of-thought segment. Content is kept only
// in memory; the graph stores a hash plus a bounded preview.
type ReasoningBlock struct {
	ID       string
	Sequence int
	Content  string
}

// ToolCallRecord is a single tool invocation within a turn.
type ToolCallRecord struct {
	ID           string
	CallID       string
	Name         string
	Type         ToolType
	Arguments    string
	Sequence     int
	ReasoningIDs []string
	FilePath     string
	FileAction   FileAction
}

// FileTouch is the per-path aggregate value on a turn.
type FileTouch struct {
	Action     FileAction
	Count      int
	ToolCallID string
}
