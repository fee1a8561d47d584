// Package notify carries node-created and turn-finalized notifications to
// downstream consumers (realtime fan-out, search indexing). Sink failures are
// logged and never propagate into the persistence path.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Node is the payload emitted when a graph node is materialized.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // turn | reasoning | toolcall
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// NodeSink receives node-created notifications.
type NodeSink interface {
	NodeCreated(ctx context.Context, sessionID string, node Node) error
}

// TurnSummary is the denormalized payload emitted on successful finalization,
// consumed by the search indexer.
type TurnSummary struct {
	TurnID           string    `json:"turn_id"`
	SessionID        string    `json:"session_id"`
	SequenceIndex    int       `json:"sequence_index"`
	UserContent      string    `json:"user_content"`
	AssistantContent string    `json:"assistant_content"`
	ReasoningPreview string    `json:"reasoning_preview,omitempty"`
	ToolNames        []string  `json:"tool_names,omitempty"`
	FilesTouched     []string  `json:"files_touched,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CreatedAt        time.Time `json:"created_at"`
	FinalizedAt      time.Time `json:"finalized_at"`
	OrgID            string    `json:"org_id,omitempty"`
}

// TurnFinalizedSink receives finalize summaries.
type TurnFinalizedSink interface {
	TurnFinalized(ctx context.Context, summary TurnSummary) error
}

// Dispatch runs fn detached from the caller. Errors and panics are logged
// with the sink's identity and swallowed; the critical path never waits on or
// fails with a notification.
func Dispatch(logger *slog.Logger, sinkName string, fn func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("notification sink panicked",
					"sink", sinkName,
					"panic", r,
				)
			}
		}()
		if err := fn(); err != nil {
			logger.Warn("notification sink failed",
				"sink", sinkName,
				"error", err,
			)
		}
	}()
}

// LogSink is a NodeSink and TurnFinalizedSink that just logs; useful in dev
// and as the default wiring when no fan-out is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) NodeCreated(ctx context.Context, sessionID string, node Node) error {
	s.Logger.Debug("node created",
		"session_id", sessionID,
		"node_id", node.ID,
		"node_type", node.Type,
		"label", node.Label,
	)
	return nil
}

func (s *LogSink) TurnFinalized(ctx context.Context, summary TurnSummary) error {
	s.Logger.Info("turn finalized",
		"turn_id", summary.TurnID,
		"session_id", summary.SessionID,
		"sequence_index", summary.SequenceIndex,
		"tool_calls", len(summary.ToolNames),
		"input_tokens", summary.InputTokens,
		"output_tokens", summary.OutputTokens,
	)
	return nil
}
