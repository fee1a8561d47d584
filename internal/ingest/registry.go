package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
	"github.com/rawcontext/engram-sub009/internal/graph"
	"github.com/rawcontext/engram-sub009/internal/notify"
)

// HandlerContext is the per-invocation context passed to event handlers.
// Graph is already routed to the turn's tenant graph; NotifyNode dispatches
// detached and never fails; Finalize runs the aggregator's guarded
// finalization for the current turn.
type HandlerContext struct {
	SessionID  string
	Turn       *models.Turn
	Graph      *graph.TurnWriter
	Logger     *slog.Logger
	NotifyNode func(node notify.Node)
	Finalize   func(ctx context.Context) error
}

// EventHandler handles one event kind: it declares whether it accepts a
// normalized event and, if so, mutates the turn and issues graph writes.
type EventHandler interface {
	Name() string
	CanHandle(ev *models.Event) bool
	Handle(ctx context.Context, ev *models.Event, hctx *HandlerContext) error
}

// Registry maps an event type to its ordered handlers. New event kinds are
// supported by registering a handler; the dispatch core never changes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]EventHandler)}
}

// Register appends a handler for an event type, preserving registration
// order.
func (r *Registry) Register(eventType string, h EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// HandlersFor returns the ordered handlers for an event type.
func (r *Registry) HandlersFor(eventType string) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[eventType]
}
