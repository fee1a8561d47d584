package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
	"github.com/rawcontext/engram-sub009/internal/notify"
)

// ContentHandler accumulates assistant text deltas on the turn and flushes a
// bounded preview to the graph once enough new content has arrived since the
// last flush. The threshold form is deliberate: delta sizes are irregular, so
// an exact-modulo condition would miss flushes.
type ContentHandler struct {
	FlushThreshold int
}

func (h *ContentHandler) Name() string { return "content" }

func (h *ContentHandler) CanHandle(ev *models.Event) bool {
	return ev.Type == models.EventTypeContent &&
		ev.Role == models.RoleAssistant &&
		ev.Content != ""
}

func (h *ContentHandler) Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error {
	turn := hctx.Turn
	turn.AssistantContent.WriteString(ev.Content)
	turn.BlockCounter++

	if turn.AssistantContent.Len()-turn.LastFlushedLen < h.FlushThreshold {
		return nil
	}

	if err := hctx.Graph.UpdateAssistantPreview(ctx, turn.ID, turn.AssistantContent.String()); err != nil {
		return fmt.Errorf("flush assistant preview: %w", err)
	}
	turn.LastFlushedLen = turn.AssistantContent.Len()
	return nil
}

// ReasoningHandler persists a Reasoning node for a thought event and parks
// its id on the pending list for the next tool call to consume.
type ReasoningHandler struct{}

func (h *ReasoningHandler) Name() string { return "reasoning" }

func (h *ReasoningHandler) CanHandle(ev *models.Event) bool {
	return ev.Type == models.EventTypeThought && ev.Content != ""
}

func (h *ReasoningHandler) Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error {
	turn := hctx.Turn

	block := &models.ReasoningBlock{
		ID:       uuid.NewString(),
		Sequence: turn.BlockCounter,
		Content:  ev.Content,
	}
	turn.BlockCounter++

	if err := hctx.Graph.CreateReasoning(ctx, turn.ID, block, ev.Timestamp); err != nil {
		return err
	}

	turn.Reasoning = append(turn.Reasoning, block)
	turn.PendingReasoning = append(turn.PendingReasoning, block.ID)

	hctx.NotifyNode(notify.Node{
		ID:    block.ID,
		Type:  "reasoning",
		Label: "Reasoning",
		Properties: map[string]any{
			"sequence_index": block.Sequence,
		},
	})
	return nil
}

// ToolCallHandler classifies the tool, resolves file attribution from the
// partial arguments when the tool is a file operation, persists the ToolCall
// node, and converts every pending reasoning block into a TRIGGERS edge.
type ToolCallHandler struct {
	Classifier *ToolClassifier
}

func (h *ToolCallHandler) Name() string { return "tool_call" }

func (h *ToolCallHandler) CanHandle(ev *models.Event) bool {
	return ev.Type == models.EventTypeToolCall && ev.ToolCall != nil
}

func (h *ToolCallHandler) Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error {
	turn := hctx.Turn
	call := ev.ToolCall

	rec := &models.ToolCallRecord{
		ID:        uuid.NewString(),
		CallID:    call.ID,
		Name:      call.Name,
		Type:      h.Classifier.Classify(call.Name),
		Arguments: call.PartialArgs,
		Sequence:  turn.BlockCounter,
	}
	turn.BlockCounter++

	if action := h.Classifier.FileAction(call.Name); action != "" {
		rec.FileAction = action
		rec.FilePath = ExtractFilePath(call.PartialArgs)
	}

	rec.ReasoningIDs = append(rec.ReasoningIDs, turn.PendingReasoning...)

	if err := hctx.Graph.CreateToolCall(ctx, turn.ID, rec, ev.Timestamp); err != nil {
		return err
	}

	for _, reasoningID := range rec.ReasoningIDs {
		if err := hctx.Graph.LinkTriggers(ctx, reasoningID, rec.ID); err != nil {
			return err
		}
	}
	// Each pending block triggers exactly this call; consumed exactly once.
	turn.PendingReasoning = turn.PendingReasoning[:0]

	turn.ToolCalls = append(turn.ToolCalls, rec)
	turn.ToolCallCount++

	if rec.FilePath != "" {
		turn.RecordFileTouch(rec.FilePath, rec.FileAction, rec.ID)
	}

	hctx.NotifyNode(notify.Node{
		ID:    rec.ID,
		Type:  "toolcall",
		Label: "ToolCall",
		Properties: map[string]any{
			"tool_name":      rec.Name,
			"tool_type":      string(rec.Type),
			"sequence_index": rec.Sequence,
		},
	})
	return nil
}

// DiffHandler recovers file attribution for tools whose arguments didn't
// expose a path at call time: the most recent tool call without a path gets
// the diff's path, an "edit" action and a bounded diff preview. The turn's
// file-touch aggregate updates regardless.
type DiffHandler struct{}

func (h *DiffHandler) Name() string { return "diff" }

func (h *DiffHandler) CanHandle(ev *models.Event) bool {
	return ev.Type == models.EventTypeDiff && ev.Diff != nil && ev.Diff.FilePath != ""
}

func (h *DiffHandler) Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error {
	turn := hctx.Turn
	path := ev.Diff.FilePath

	var attachedID string
	if last := turn.LastToolCall(); last != nil && last.FilePath == "" {
		if err := hctx.Graph.BackfillToolCallFile(ctx, last.ID, path, models.FileActionEdit, ev.Diff.Content); err != nil {
			return err
		}
		last.FilePath = path
		last.FileAction = models.FileActionEdit
		attachedID = last.ID
	}

	turn.RecordFileTouch(path, models.FileActionEdit, attachedID)
	return nil
}

// UsageHandler records token counts and triggers finalization; the usage
// report is the normal terminal signal for a turn.
type UsageHandler struct{}

func (h *UsageHandler) Name() string { return "usage" }

func (h *UsageHandler) CanHandle(ev *models.Event) bool {
	return ev.Type == models.EventTypeUsage && ev.Usage != nil
}

func (h *UsageHandler) Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error {
	turn := hctx.Turn
	turn.InputTokens += ev.Usage.InputTokens
	turn.OutputTokens += ev.Usage.OutputTokens

	return hctx.Finalize(ctx)
}
