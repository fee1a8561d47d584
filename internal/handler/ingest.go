package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rawcontext/engram-sub009/internal/domain"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
	"github.com/rawcontext/engram-sub009/internal/httputil"
	"github.com/rawcontext/engram-sub009/internal/ingest"
)

// maxBatchEvents caps one batch request; larger replays must be split.
const maxBatchEvents = 1000

// IngestHandler handles session event ingestion HTTP requests.
//
// The aggregator requires in-order, one-at-a-time processing per session, so
// the handler serializes requests per session id; different sessions proceed
// concurrently.
type IngestHandler struct {
	aggregator *ingest.Aggregator
	logger     *slog.Logger

	sessionLocks sync.Map // sessionID -> *sync.Mutex
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(aggregator *ingest.Aggregator, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// PostEvent ingests a single session event
// POST /api/sessions/{id}/events
func (h *IngestHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	var raw models.RawEvent
	if err := httputil.ParseJSON(w, r, &raw); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stampTenant(&raw, httputil.GetTenant(r))

	unlock := h.lockSession(sessionID)
	err := h.aggregator.ProcessEvent(r.Context(), sessionID, &raw)
	unlock()

	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sessionID,
		"accepted":   1,
	})
}

// PostEventBatch ingests an ordered batch of session events. Processing
// stops at the first failure; the response reports how many were accepted.
// POST /api/sessions/{id}/events/batch
func (h *IngestHandler) PostEventBatch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	var batch struct {
		Events []models.RawEvent `json:"events"`
	}
	if err := httputil.ParseJSON(w, r, &batch); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(batch.Events,
		validation.Required,
		validation.Length(1, maxBatchEvents),
	); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "events: "+err.Error())
		return
	}

	tenant := httputil.GetTenant(r)

	unlock := h.lockSession(sessionID)
	accepted := 0
	var procErr error
	for i := range batch.Events {
		stampTenant(&batch.Events[i], tenant)
		if err := h.aggregator.ProcessEvent(r.Context(), sessionID, &batch.Events[i]); err != nil {
			procErr = err
			break
		}
		accepted++
	}
	unlock()

	if procErr != nil {
		h.logger.Error("batch ingestion stopped",
			"session_id", sessionID,
			"accepted", accepted,
			"total", len(batch.Events),
			"error", procErr,
		)
		httputil.RespondErrorWithExtras(w, http.StatusInternalServerError,
			"event processing failed", map[string]any{
				"session_id": sessionID,
				"accepted":   accepted,
				"total":      len(batch.Events),
			})
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sessionID,
		"accepted":   accepted,
	})
}

// DeleteSession drops the session's aggregation state without finalizing
// DELETE /api/sessions/{id}
func (h *IngestHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	unlock := h.lockSession(sessionID)
	h.aggregator.ClearSession(sessionID)
	unlock()
	h.sessionLocks.Delete(sessionID)

	w.WriteHeader(http.StatusNoContent)
}

// Reap finalizes all turns past the stale age. Admin only when auth is on.
// POST /api/admin/reap
func (h *IngestHandler) Reap(w http.ResponseWriter, r *http.Request) {
	tenant := httputil.GetTenant(r)
	if httputil.GetUserID(r) != "" && !tenant.IsAdmin {
		handleError(w, r, h.logger, &domain.ForbiddenError{Message: "admin role required"})
		return
	}

	reaped, err := h.aggregator.ReapStaleTurns(r.Context())
	if err != nil {
		h.logger.Error("reap completed with failures", "reaped", reaped, "error", err)
		httputil.RespondErrorWithExtras(w, http.StatusInternalServerError,
			"some stale turns failed to finalize", map[string]any{
				"reaped": reaped,
			})
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"reaped": reaped,
	})
}

// HealthCheck is a simple health check endpoint
// GET /health
func (h *IngestHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"time":         time.Now(),
		"active_turns": h.aggregator.ActiveTurnCount(),
	})
}

// lockSession acquires the per-session mutex and returns its unlock func.
func (h *IngestHandler) lockSession(sessionID string) func() {
	v, _ := h.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// stampTenant overwrites event org fields with the verified token identity.
// Self-reported org fields are only trusted when no token is present.
func stampTenant(raw *models.RawEvent, tenant models.TenantContext) {
	if tenant.ActingUser == "" {
		return
	}
	raw.OrgID = tenant.OrgID
	raw.OrgSlug = tenant.OrgSlug
}
