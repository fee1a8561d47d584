package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

type recordingWriter struct {
	calls []struct {
		cypher string
		params map[string]any
	}
	err error
}

func (w *recordingWriter) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.calls = append(w.calls, struct {
		cypher string
		params map[string]any
	}{cypher, params})
	return nil, nil
}

func (w *recordingWriter) last(t *testing.T) (string, map[string]any) {
	t.Helper()
	if len(w.calls) == 0 {
		t.Fatal("expected at least one graph write")
	}
	c := w.calls[len(w.calls)-1]
	return c.cypher, c.params
}

func TestTurnWriter_CreateTurn(t *testing.T) {
	w := &recordingWriter{}
	tw := NewTurnWriter(w, 500, 1000)

	vt := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	tt := vt.Add(time.Second)
	turn := &models.Turn{
		ID:            "turn-1",
		SessionID:     "sess-1",
		UserContent:   "hello",
		SequenceIndex: 3,
	}

	if err := tw.CreateTurn(context.Background(), turn, vt, tt); err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}

	cypher, params := w.last(t)
	if !strings.Contains(cypher, "MERGE (s:Session") {
		t.Error("turn create must MERGE the session anchor")
	}
	if !strings.Contains(cypher, "HAS_TURN") {
		t.Error("turn create must link HAS_TURN")
	}
	if params["user_content_hash"] != ContentHash("hello") {
		t.Errorf("user_content_hash = %v", params["user_content_hash"])
	}
	if params["vt_start"] != "2026-03-01T10:00:00.123456789Z" {
		t.Errorf("vt_start = %v", params["vt_start"])
	}
	if params["sequence_index"] != 3 {
		t.Errorf("sequence_index = %v", params["sequence_index"])
	}
}

func TestTurnWriter_Previews(t *testing.T) {
	t.Run("assistant preview is bounded", func(t *testing.T) {
		w := &recordingWriter{}
		tw := NewTurnWriter(w, 10, 1000)

		long := strings.Repeat("a", 50)
		if err := tw.UpdateAssistantPreview(context.Background(), "turn-1", long); err != nil {
			t.Fatalf("UpdateAssistantPreview: %v", err)
		}

		_, params := w.last(t)
		preview, _ := params["preview"].(string)
		if preview != strings.Repeat("a", 10)+"..." {
			t.Errorf("preview = %q", preview)
		}
	})

	t.Run("reasoning stores hash and preview, never full content", func(t *testing.T) {
		w := &recordingWriter{}
		tw := NewTurnWriter(w, 8, 1000)

		block := &models.ReasoningBlock{ID: "r-1", Sequence: 2, Content: "a long private thought"}
		if err := tw.CreateReasoning(context.Background(), "turn-1", block, time.Now()); err != nil {
			t.Fatalf("CreateReasoning: %v", err)
		}

		cypher, params := w.last(t)
		if !strings.Contains(cypher, "CONTAINS") {
			t.Error("reasoning must link CONTAINS")
		}
		if params["content_hash"] != ContentHash(block.Content) {
			t.Errorf("content_hash = %v", params["content_hash"])
		}
		if params["preview"] != "a long p..." {
			t.Errorf("preview = %v", params["preview"])
		}
		for _, v := range params {
			if s, ok := v.(string); ok && s == block.Content {
				t.Error("full reasoning content must not reach the graph")
			}
		}
	})

	t.Run("diff preview uses its own bound", func(t *testing.T) {
		w := &recordingWriter{}
		tw := NewTurnWriter(w, 5, 12)

		diff := strings.Repeat("d", 40)
		if err := tw.BackfillToolCallFile(context.Background(), "c-1", "a.go", models.FileActionEdit, diff); err != nil {
			t.Fatalf("BackfillToolCallFile: %v", err)
		}

		_, params := w.last(t)
		if params["diff_preview"] != strings.Repeat("d", 12)+"..." {
			t.Errorf("diff_preview = %v", params["diff_preview"])
		}
	})
}

func TestTurnWriter_ToolCall(t *testing.T) {
	w := &recordingWriter{}
	tw := NewTurnWriter(w, 500, 1000)

	rec := &models.ToolCallRecord{
		ID:           "tc-1",
		CallID:       "call_9",
		Name:         "Edit",
		Type:         models.ToolTypeFileEdit,
		Arguments:    `{"file_path":"a.go"}`,
		Sequence:     4,
		ReasoningIDs: []string{"r-1", "r-2"},
		FilePath:     "a.go",
		FileAction:   models.FileActionEdit,
	}

	if err := tw.CreateToolCall(context.Background(), "turn-1", rec, time.Now()); err != nil {
		t.Fatalf("CreateToolCall: %v", err)
	}

	cypher, params := w.last(t)
	if !strings.Contains(cypher, "INVOKES") {
		t.Error("tool call must link INVOKES")
	}
	if !strings.Contains(cypher, "status: 'invoked'") {
		t.Error("tool call must carry the invoked status")
	}
	if params["reasoning_sequence"] != 2 {
		t.Errorf("reasoning_sequence = %v, expected 2", params["reasoning_sequence"])
	}
	if params["tool_type"] != "file_edit" {
		t.Errorf("tool_type = %v", params["tool_type"])
	}
}

func TestTurnWriter_FinalizeTurn(t *testing.T) {
	w := &recordingWriter{}
	tw := NewTurnWriter(w, 500, 1000)

	turn := &models.Turn{
		ID:            "turn-1",
		SessionID:     "sess-1",
		ToolCallCount: 2,
		InputTokens:   100,
		OutputTokens:  30,
	}
	turn.AssistantContent.WriteString("done")
	turn.RecordFileTouch("a.go", models.FileActionEdit, "tc-1")

	if err := tw.FinalizeTurn(context.Background(), turn); err != nil {
		t.Fatalf("FinalizeTurn: %v", err)
	}

	_, params := w.last(t)
	if params["assistant_preview"] != "done" {
		t.Errorf("assistant_preview = %v", params["assistant_preview"])
	}
	if params["files_touched"] != `["a.go"]` {
		t.Errorf("files_touched = %v", params["files_touched"])
	}
	if params["tool_calls_count"] != 2 {
		t.Errorf("tool_calls_count = %v", params["tool_calls_count"])
	}
}

func TestTurnWriter_WriteErrorsPropagate(t *testing.T) {
	w := &recordingWriter{err: errors.New("connection reset")}
	tw := NewTurnWriter(w, 500, 1000)

	if err := tw.LinkTriggers(context.Background(), "r-1", "tc-1"); err == nil {
		t.Error("expected write error to propagate")
	}
	if err := tw.FinalizeTurn(context.Background(), &models.Turn{ID: "t"}); err == nil {
		t.Error("expected finalize error to propagate")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		expected string
	}{
		{name: "under limit", in: "short", max: 10, expected: "short"},
		{name: "at limit", in: "exact", max: 5, expected: "exact"},
		{name: "over limit", in: "overflowing", max: 4, expected: "over..."},
		{name: "zero limit disables", in: "anything", max: 0, expected: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, expected %q", tt.in, tt.max, got, tt.expected)
			}
		})
	}
}
