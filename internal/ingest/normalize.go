package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// Normalize coerces a loosely-typed inbound event into a canonical Event.
// Defaulting is total: missing ids get fresh UUIDs, a missing timestamp gets
// the current time, a missing type becomes "content", and an unrecognized
// role is left unset. Malformed input is never an error.
func Normalize(raw *models.RawEvent) *models.Event {
	if raw == nil {
		raw = &models.RawEvent{}
	}

	ev := &models.Event{
		ID:         raw.EventID,
		OriginalID: raw.OriginalEventID,
		Type:       raw.Type,
		Role:       normalizeRole(raw.Role),
		Content:    raw.Content,
		Diff:       raw.Diff,
		Usage:      raw.Usage,
		OrgID:      raw.OrgID,
		OrgSlug:    raw.OrgSlug,
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OriginalID == "" {
		ev.OriginalID = ev.ID
	}
	if raw.Timestamp != nil {
		ev.Timestamp = *raw.Timestamp
	} else {
		ev.Timestamp = time.Now()
	}
	if ev.Type == "" {
		ev.Type = models.EventTypeContent
	}

	if raw.ToolCall != nil {
		ev.ToolCall = normalizeToolCall(raw.ToolCall)
	}

	return ev
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case models.RoleUser:
		return models.RoleUser
	case models.RoleAssistant:
		return models.RoleAssistant
	case models.RoleSystem:
		return models.RoleSystem
	default:
		return ""
	}
}

// normalizeToolCall fills safe placeholders for an incomplete tool payload.
func normalizeToolCall(tc *models.RawToolCall) *models.RawToolCall {
	out := *tc
	if out.ID == "" {
		out.ID = "call_" + uuid.NewString()
	}
	if out.Name == "" {
		out.Name = "unknown_tool"
	}
	if out.PartialArgs == "" {
		out.PartialArgs = "{}"
	}
	if out.Index < 0 {
		out.Index = 0
	}
	return &out
}
