package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
	"github.com/rawcontext/engram-sub009/internal/graph"
	"github.com/rawcontext/engram-sub009/internal/notify"
)

// AggregatorOptions wires an Aggregator. DefaultGraph is required; Tenants,
// Nodes and Finalized are optional collaborators.
type AggregatorOptions struct {
	DefaultGraph graph.Writer
	Tenants      graph.TenantResolver
	Nodes        notify.NodeSink
	Finalized    notify.TurnFinalizedSink
	Logger       *slog.Logger

	ContentFlushThreshold int
	PreviewMaxLen         int
	DiffPreviewMaxLen     int
	StaleTurnMaxAge       time.Duration

	// Now overrides the clock; tests use it. Defaults to time.Now.
	Now func() time.Time
}

// Aggregator reconstructs turns from a session's event stream: it detects
// turn boundaries, assigns sequence indices, routes writes to the tenant
// graph, dispatches per-kind handlers and finalizes turns.
//
// Concurrency: safe for concurrent calls across different sessions; events
// for one session must be processed one at a time in arrival order (the
// transport's single-consumer-per-session discipline). Each ProcessEvent call
// runs to completion, graph writes included, before returning.
type Aggregator struct {
	state    *StateStore
	registry *Registry

	defaultGraph graph.Writer
	tenants      graph.TenantResolver
	nodes        notify.NodeSink
	finalized    notify.TurnFinalizedSink
	logger       *slog.Logger

	previewMaxLen  int
	diffPreviewMax int
	staleMaxAge    time.Duration
	now            func() time.Time
}

// NewAggregator builds an aggregator with the default handler set registered:
// content, thought, tool_call, diff, usage.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	if opts.DefaultGraph == nil {
		return nil, errors.New("aggregator requires a default graph writer")
	}
	if opts.Logger == nil {
		return nil, errors.New("aggregator requires a logger")
	}
	if opts.ContentFlushThreshold <= 0 {
		opts.ContentFlushThreshold = 500
	}
	if opts.PreviewMaxLen <= 0 {
		opts.PreviewMaxLen = 500
	}
	if opts.DiffPreviewMaxLen <= 0 {
		opts.DiffPreviewMaxLen = 1000
	}
	if opts.StaleTurnMaxAge <= 0 {
		opts.StaleTurnMaxAge = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	classifier, err := NewToolClassifier()
	if err != nil {
		return nil, fmt.Errorf("build tool classifier: %w", err)
	}

	registry := NewRegistry()
	registry.Register(models.EventTypeContent, &ContentHandler{FlushThreshold: opts.ContentFlushThreshold})
	registry.Register(models.EventTypeThought, &ReasoningHandler{})
	registry.Register(models.EventTypeToolCall, &ToolCallHandler{Classifier: classifier})
	registry.Register(models.EventTypeDiff, &DiffHandler{})
	registry.Register(models.EventTypeUsage, &UsageHandler{})

	return &Aggregator{
		state:          NewStateStore(),
		registry:       registry,
		defaultGraph:   opts.DefaultGraph,
		tenants:        opts.Tenants,
		nodes:          opts.Nodes,
		finalized:      opts.Finalized,
		logger:         opts.Logger,
		previewMaxLen:  opts.PreviewMaxLen,
		diffPreviewMax: opts.DiffPreviewMaxLen,
		staleMaxAge:    opts.StaleTurnMaxAge,
		now:            opts.Now,
	}, nil
}

// Registry exposes the handler table so callers can register handlers for
// additional event kinds.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// ProcessEvent normalizes one inbound event and applies it to the session's
// turn state. Unmatched kinds and events with no active turn are logged
// no-ops; handler failures are logged with full identity and joined into the
// returned error without stopping later handlers.
func (a *Aggregator) ProcessEvent(ctx context.Context, sessionID string, raw *models.RawEvent) error {
	ev := Normalize(raw)

	// A user message with content always starts a new turn.
	if ev.Role == models.RoleUser && ev.Content != "" {
		return a.startTurn(ctx, sessionID, ev)
	}

	turn := a.state.ActiveTurn(sessionID)
	if turn == nil && needsSynthesizedTurn(ev) {
		// Some transports drop or reorder the initiating user message;
		// synthesize a turn so assistant activity is not lost.
		var err error
		turn, err = a.createTurn(ctx, sessionID, ev, models.PlaceholderUserContent)
		if err != nil {
			return fmt.Errorf("synthesize turn for session %s: %w", sessionID, err)
		}
	}
	if turn == nil {
		a.logger.Debug("event without active turn dropped",
			"session_id", sessionID,
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return nil
	}

	handlers := a.registry.HandlersFor(ev.Type)
	if len(handlers) == 0 {
		a.logger.Debug("no handler registered for event type",
			"session_id", sessionID,
			"event_type", ev.Type,
		)
		return nil
	}

	writer, err := a.turnWriterFor(ctx, turn)
	if err != nil {
		return err
	}

	hctx := &HandlerContext{
		SessionID:  sessionID,
		Turn:       turn,
		Graph:      writer,
		Logger:     a.logger,
		NotifyNode: a.nodeNotifier(sessionID),
		Finalize: func(ctx context.Context) error {
			return a.finalizeTurn(ctx, turn)
		},
	}

	var errs []error
	for _, h := range handlers {
		if !h.CanHandle(ev) {
			continue
		}
		if err := a.invokeHandler(ctx, h, ev, hctx); err != nil {
			a.logger.Error("event handler failed",
				"session_id", sessionID,
				"turn_id", turn.ID,
				"handler", h.Name(),
				"event_id", ev.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// invokeHandler converts a handler panic into an error so one handler cannot
// take down the stream.
func (a *Aggregator) invokeHandler(ctx context.Context, h EventHandler, ev *models.Event, hctx *HandlerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev, hctx)
}

// startTurn finalizes any active turn for the session and creates the new
// one from a user-content event.
func (a *Aggregator) startTurn(ctx context.Context, sessionID string, ev *models.Event) error {
	if existing := a.state.ActiveTurn(sessionID); existing != nil {
		if err := a.finalizeTurn(ctx, existing); err != nil {
			return fmt.Errorf("finalize previous turn %s: %w", existing.ID, err)
		}
	}

	_, err := a.createTurn(ctx, sessionID, ev, ev.Content)
	return err
}

func (a *Aggregator) createTurn(ctx context.Context, sessionID string, ev *models.Event, userContent string) (*models.Turn, error) {
	seq := a.state.NextSequence(sessionID)

	turn := &models.Turn{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		UserContent:   userContent,
		FilesTouched:  make(map[string]*models.FileTouch),
		SequenceIndex: seq,
		CreatedAt:     a.now(),
		OrgID:         ev.OrgID,
		OrgSlug:       ev.OrgSlug,
	}

	writer, err := a.turnWriterFor(ctx, turn)
	if err != nil {
		a.state.ReleaseSequence(sessionID, seq)
		return nil, err
	}

	if err := writer.CreateTurn(ctx, turn, ev.Timestamp, a.now()); err != nil {
		a.state.ReleaseSequence(sessionID, seq)
		return nil, err
	}

	if seq > 0 {
		if err := writer.LinkNextTurn(ctx, sessionID, turn.ID, seq-1); err != nil {
			return nil, err
		}
	}

	a.state.SetActiveTurn(sessionID, turn)

	a.nodeNotifier(sessionID)(notify.Node{
		ID:    turn.ID,
		Type:  "turn",
		Label: "Turn",
		Properties: map[string]any{
			"sequence_index": turn.SequenceIndex,
		},
	})

	a.logger.Debug("turn started",
		"session_id", sessionID,
		"turn_id", turn.ID,
		"sequence_index", turn.SequenceIndex,
	)
	return turn, nil
}

// finalizeTurn commits a turn's terminal state. Idempotent: a finalized turn
// is a no-op. The finalized flag flips before the write so a concurrent
// new-turn-start on the session cannot finalize the same turn twice; a failed
// write flips it back and propagates so the caller can retry.
func (a *Aggregator) finalizeTurn(ctx context.Context, turn *models.Turn) error {
	if turn.Finalized {
		return nil
	}
	turn.Finalized = true

	writer, err := a.turnWriterFor(ctx, turn)
	if err != nil {
		turn.Finalized = false
		return err
	}

	if err := writer.FinalizeTurn(ctx, turn); err != nil {
		turn.Finalized = false
		return err
	}

	a.state.RemoveActiveTurn(turn.SessionID, turn)

	if a.finalized != nil {
		summary := a.buildSummary(turn)
		notify.Dispatch(a.logger, "turn_finalized", func() error {
			return a.finalized.TurnFinalized(context.Background(), summary)
		})
	}

	a.logger.Debug("turn finalized",
		"session_id", turn.SessionID,
		"turn_id", turn.ID,
		"sequence_index", turn.SequenceIndex,
	)
	return nil
}

// ReapStaleTurns finalizes every active turn older than the configured max
// age and returns how many were reaped. Finalization failures don't stop the
// sweep; they are joined into the returned error.
func (a *Aggregator) ReapStaleTurns(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.staleMaxAge)
	stale := a.state.StaleTurns(cutoff)

	var errs []error
	reaped := 0
	for _, turn := range stale {
		if err := a.finalizeTurn(ctx, turn); err != nil {
			errs = append(errs, fmt.Errorf("reap turn %s: %w", turn.ID, err))
			continue
		}
		reaped++
		a.logger.Info("stale turn reaped",
			"session_id", turn.SessionID,
			"turn_id", turn.ID,
			"age", a.now().Sub(turn.CreatedAt).String(),
		)
	}
	return reaped, errors.Join(errs...)
}

// ClearSession drops a session's state without finalizing, for sessions that
// ended out-of-band.
func (a *Aggregator) ClearSession(sessionID string) {
	a.state.Clear(sessionID)
	a.logger.Debug("session state cleared", "session_id", sessionID)
}

// ActiveTurnCount reports how many turns are currently active.
func (a *Aggregator) ActiveTurnCount() int {
	return a.state.ActiveCount()
}

// turnWriterFor routes writes: a turn carrying a complete tenant identity
// goes to that organization's graph partition, everything else to the shared
// default graph. This is the sole multi-tenancy enforcement point.
func (a *Aggregator) turnWriterFor(ctx context.Context, turn *models.Turn) (*graph.TurnWriter, error) {
	w := a.defaultGraph
	if turn.OrgID != "" && turn.OrgSlug != "" && a.tenants != nil {
		tenant := models.TenantContext{OrgID: turn.OrgID, OrgSlug: turn.OrgSlug}
		tw, err := a.tenants.EnsureTenantGraph(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("resolve tenant graph for org %s: %w", turn.OrgID, err)
		}
		w = tw
	}
	return graph.NewTurnWriter(w, a.previewMaxLen, a.diffPreviewMax), nil
}

func (a *Aggregator) nodeNotifier(sessionID string) func(notify.Node) {
	return func(node notify.Node) {
		if a.nodes == nil {
			return
		}
		notify.Dispatch(a.logger, "node_created", func() error {
			return a.nodes.NodeCreated(context.Background(), sessionID, node)
		})
	}
}

func (a *Aggregator) buildSummary(turn *models.Turn) notify.TurnSummary {
	toolNames := make([]string, 0, len(turn.ToolCalls))
	for _, call := range turn.ToolCalls {
		toolNames = append(toolNames, call.Name)
	}

	var reasoning strings.Builder
	for _, block := range turn.Reasoning {
		if reasoning.Len() > 0 {
			reasoning.WriteString(" | ")
		}
		reasoning.WriteString(graph.Truncate(block.Content, 100))
		if reasoning.Len() >= a.previewMaxLen {
			break
		}
	}

	return notify.TurnSummary{
		TurnID:           turn.ID,
		SessionID:        turn.SessionID,
		SequenceIndex:    turn.SequenceIndex,
		UserContent:      turn.UserContent,
		AssistantContent: turn.AssistantContent.String(),
		ReasoningPreview: graph.Truncate(reasoning.String(), a.previewMaxLen),
		ToolNames:        toolNames,
		FilesTouched:     turn.TouchedPaths(),
		InputTokens:      turn.InputTokens,
		OutputTokens:     turn.OutputTokens,
		CreatedAt:        turn.CreatedAt,
		FinalizedAt:      a.now(),
		OrgID:            turn.OrgID,
	}
}

// needsSynthesizedTurn reports whether an event carries assistant activity
// worth a turn of its own when none is active.
func needsSynthesizedTurn(ev *models.Event) bool {
	switch ev.Type {
	case models.EventTypeThought:
		return ev.Content != ""
	case models.EventTypeToolCall:
		return ev.ToolCall != nil
	case models.EventTypeContent:
		return ev.Role == models.RoleAssistant && ev.Content != ""
	default:
		return false
	}
}
