package ingest

import (
	"testing"
	"time"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

func TestNormalize_Defaults(t *testing.T) {
	t.Run("nil raw event yields canonical defaults", func(t *testing.T) {
		ev := Normalize(nil)

		if ev.ID == "" {
			t.Error("expected generated event id")
		}
		if ev.OriginalID != ev.ID {
			t.Errorf("expected original id to default to id, got %q vs %q", ev.OriginalID, ev.ID)
		}
		if ev.Type != models.EventTypeContent {
			t.Errorf("expected type %q, got %q", models.EventTypeContent, ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected timestamp to be defaulted")
		}
	})

	t.Run("provided identity is preserved", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		ev := Normalize(&models.RawEvent{
			EventID:         "ev-1",
			OriginalEventID: "orig-1",
			Timestamp:       &ts,
			Type:            models.EventTypeThought,
			Content:         "thinking",
		})

		if ev.ID != "ev-1" || ev.OriginalID != "orig-1" {
			t.Errorf("identity not preserved: %q / %q", ev.ID, ev.OriginalID)
		}
		if !ev.Timestamp.Equal(ts) {
			t.Errorf("timestamp not preserved: %v", ev.Timestamp)
		}
		if ev.Type != models.EventTypeThought {
			t.Errorf("type not preserved: %q", ev.Type)
		}
	})

	t.Run("original id defaults to event id when missing", func(t *testing.T) {
		ev := Normalize(&models.RawEvent{EventID: "ev-2"})
		if ev.OriginalID != "ev-2" {
			t.Errorf("expected original id %q, got %q", "ev-2", ev.OriginalID)
		}
	})
}

func TestNormalize_Role(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		expected string
	}{
		{name: "user", role: "user", expected: models.RoleUser},
		{name: "uppercase assistant", role: "ASSISTANT", expected: models.RoleAssistant},
		{name: "padded system", role: "  system ", expected: models.RoleSystem},
		{name: "unknown role cleared", role: "bot", expected: ""},
		{name: "empty stays empty", role: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize(&models.RawEvent{Role: tt.role})
			if ev.Role != tt.expected {
				t.Errorf("role %q: expected %q, got %q", tt.role, tt.expected, ev.Role)
			}
		})
	}
}

func TestNormalize_ToolCall(t *testing.T) {
	t.Run("incomplete payload gets placeholders", func(t *testing.T) {
		ev := Normalize(&models.RawEvent{
			Type:     models.EventTypeToolCall,
			ToolCall: &models.RawToolCall{Index: -3},
		})

		tc := ev.ToolCall
		if tc == nil {
			t.Fatal("expected tool call to survive normalization")
		}
		if tc.ID == "" {
			t.Error("expected generated call id")
		}
		if tc.Name != "unknown_tool" {
			t.Errorf("expected placeholder name, got %q", tc.Name)
		}
		if tc.PartialArgs != "{}" {
			t.Errorf("expected empty-object args, got %q", tc.PartialArgs)
		}
		if tc.Index != 0 {
			t.Errorf("expected index clamped to 0, got %d", tc.Index)
		}
	})

	t.Run("complete payload untouched", func(t *testing.T) {
		ev := Normalize(&models.RawEvent{
			Type: models.EventTypeToolCall,
			ToolCall: &models.RawToolCall{
				ID:          "call_1",
				Name:        "Read",
				PartialArgs: `{"file_path":"main.go"}`,
				Index:       2,
			},
		})

		tc := ev.ToolCall
		if tc.ID != "call_1" || tc.Name != "Read" || tc.Index != 2 {
			t.Errorf("payload mutated: %+v", tc)
		}
	})

	t.Run("normalization does not mutate the raw payload", func(t *testing.T) {
		raw := &models.RawEvent{ToolCall: &models.RawToolCall{}}
		Normalize(raw)
		if raw.ToolCall.ID != "" || raw.ToolCall.Name != "" {
			t.Errorf("raw payload mutated: %+v", raw.ToolCall)
		}
	})
}
