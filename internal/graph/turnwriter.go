package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// TurnWriter issues the graph writes for one turn's lifecycle against a
// specific Writer (shared or tenant graph). Property names and edge labels
// here are the stable contract consumed by the query layer downstream.
type TurnWriter struct {
	w              Writer
	previewMaxLen  int
	diffPreviewMax int
}

func NewTurnWriter(w Writer, previewMaxLen, diffPreviewMax int) *TurnWriter {
	return &TurnWriter{w: w, previewMaxLen: previewMaxLen, diffPreviewMax: diffPreviewMax}
}

// CreateTurn persists a new Turn node and its HAS_TURN edge from the session.
func (tw *TurnWriter) CreateTurn(ctx context.Context, turn *models.Turn, vtStart, ttStart time.Time) error {
	cypher := `
		MERGE (s:Session {id: $session_id})
		CREATE (t:Turn {
			id: $id,
			session_id: $session_id,
			user_content: $user_content,
			user_content_hash: $user_content_hash,
			assistant_preview: '',
			sequence_index: $sequence_index,
			files_touched: '[]',
			tool_calls_count: 0,
			input_tokens: 0,
			output_tokens: 0,
			vt_start: $vt_start,
			tt_start: $tt_start
		})
		CREATE (s)-[:HAS_TURN]->(t)`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"id":                turn.ID,
		"session_id":        turn.SessionID,
		"user_content":      turn.UserContent,
		"user_content_hash": ContentHash(turn.UserContent),
		"sequence_index":    turn.SequenceIndex,
		"vt_start":          formatTime(vtStart),
		"tt_start":          formatTime(ttStart),
	})
	if err != nil {
		return fmt.Errorf("create turn %s: %w", turn.ID, err)
	}
	return nil
}

// LinkNextTurn connects the session's previous turn to the new one, forming
// the per-session NEXT linked list. No-op in the graph when the previous
// sequence index matches nothing.
func (tw *TurnWriter) LinkNextTurn(ctx context.Context, sessionID, turnID string, prevIndex int) error {
	cypher := `
		MATCH (p:Turn {session_id: $session_id, sequence_index: $prev_index})
		MATCH (t:Turn {id: $id})
		CREATE (p)-[:NEXT]->(t)`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"session_id": sessionID,
		"prev_index": prevIndex,
		"id":         turnID,
	})
	if err != nil {
		return fmt.Errorf("link next turn %s: %w", turnID, err)
	}
	return nil
}

// UpdateAssistantPreview refreshes the turn's bounded assistant preview.
func (tw *TurnWriter) UpdateAssistantPreview(ctx context.Context, turnID, content string) error {
	cypher := `MATCH (t:Turn {id: $id}) SET t.assistant_preview = $preview`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"id":      turnID,
		"preview": Truncate(content, tw.previewMaxLen),
	})
	if err != nil {
		return fmt.Errorf("update assistant preview %s: %w", turnID, err)
	}
	return nil
}

// CreateReasoning persists a Reasoning node (hash + bounded preview, never
// the full content) linked to its turn via CONTAINS.
func (tw *TurnWriter) CreateReasoning(ctx context.Context, turnID string, block *models.ReasoningBlock, vtStart time.Time) error {
	cypher := `
		MATCH (t:Turn {id: $turn_id})
		CREATE (r:Reasoning {
			id: $id,
			content_hash: $content_hash,
			preview: $preview,
			reasoning_type: 'thought',
			sequence_index: $sequence_index,
			vt_start: $vt_start
		})
		CREATE (t)-[:CONTAINS]->(r)`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"turn_id":        turnID,
		"id":             block.ID,
		"content_hash":   ContentHash(block.Content),
		"preview":        Truncate(block.Content, tw.previewMaxLen),
		"sequence_index": block.Sequence,
		"vt_start":       formatTime(vtStart),
	})
	if err != nil {
		return fmt.Errorf("create reasoning %s: %w", block.ID, err)
	}
	return nil
}

// CreateToolCall persists a ToolCall node linked to its turn via INVOKES.
func (tw *TurnWriter) CreateToolCall(ctx context.Context, turnID string, rec *models.ToolCallRecord, vtStart time.Time) error {
	cypher := `
		MATCH (t:Turn {id: $turn_id})
		CREATE (c:ToolCall {
			id: $id,
			call_id: $call_id,
			tool_name: $tool_name,
			tool_type: $tool_type,
			arguments_json: $arguments_json,
			arguments_preview: $arguments_preview,
			file_path: $file_path,
			file_action: $file_action,
			status: 'invoked',
			sequence_index: $sequence_index,
			reasoning_sequence: $reasoning_sequence,
			vt_start: $vt_start
		})
		CREATE (t)-[:INVOKES]->(c)`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"turn_id":            turnID,
		"id":                 rec.ID,
		"call_id":            rec.CallID,
		"tool_name":          rec.Name,
		"tool_type":          string(rec.Type),
		"arguments_json":     rec.Arguments,
		"arguments_preview":  Truncate(rec.Arguments, tw.previewMaxLen),
		"file_path":          rec.FilePath,
		"file_action":        string(rec.FileAction),
		"sequence_index":     rec.Sequence,
		"reasoning_sequence": len(rec.ReasoningIDs),
		"vt_start":           formatTime(vtStart),
	})
	if err != nil {
		return fmt.Errorf("create tool call %s: %w", rec.ID, err)
	}
	return nil
}

// LinkTriggers records that a pending reasoning block causally preceded a
// tool call.
func (tw *TurnWriter) LinkTriggers(ctx context.Context, reasoningID, toolCallID string) error {
	cypher := `
		MATCH (r:Reasoning {id: $reasoning_id})
		MATCH (c:ToolCall {id: $tool_call_id})
		CREATE (r)-[:TRIGGERS]->(c)`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"reasoning_id": reasoningID,
		"tool_call_id": toolCallID,
	})
	if err != nil {
		return fmt.Errorf("link triggers %s->%s: %w", reasoningID, toolCallID, err)
	}
	return nil
}

// BackfillToolCallFile sets file attribution and a bounded diff preview on a
// tool call whose arguments didn't expose a path at call time.
func (tw *TurnWriter) BackfillToolCallFile(ctx context.Context, toolCallID, filePath string, action models.FileAction, diff string) error {
	cypher := `
		MATCH (c:ToolCall {id: $id})
		SET c.file_path = $file_path,
		    c.file_action = $file_action,
		    c.diff_preview = $diff_preview`

	_, err := tw.w.Query(ctx, cypher, map[string]any{
		"id":           toolCallID,
		"file_path":    filePath,
		"file_action":  string(action),
		"diff_preview": Truncate(diff, tw.diffPreviewMax),
	})
	if err != nil {
		return fmt.Errorf("backfill tool call %s: %w", toolCallID, err)
	}
	return nil
}

// FinalizeTurn writes the turn's terminal state: final preview, file-touch
// aggregate, tool-call count and token totals.
func (tw *TurnWriter) FinalizeTurn(ctx context.Context, turn *models.Turn) error {
	paths := turn.TouchedPaths()
	filesJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("encode files touched: %w", err)
	}

	cypher := `
		MATCH (t:Turn {id: $id})
		SET t.assistant_preview = $assistant_preview,
		    t.files_touched = $files_touched,
		    t.tool_calls_count = $tool_calls_count,
		    t.input_tokens = $input_tokens,
		    t.output_tokens = $output_tokens`

	_, err = tw.w.Query(ctx, cypher, map[string]any{
		"id":                turn.ID,
		"assistant_preview": Truncate(turn.AssistantContent.String(), tw.previewMaxLen),
		"files_touched":     string(filesJSON),
		"tool_calls_count":  turn.ToolCallCount,
		"input_tokens":      turn.InputTokens,
		"output_tokens":     turn.OutputTokens,
	})
	if err != nil {
		return fmt.Errorf("finalize turn %s: %w", turn.ID, err)
	}
	return nil
}

// ContentHash returns the hex sha256 of content; stored in place of full
// reasoning text and alongside user content.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// Truncate bounds a string for preview fields.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
