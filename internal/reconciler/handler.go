package reconciler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"radio-reconciler/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the reconciliation trigger and the session read endpoints.
type Handler struct {
	rec          *Reconciler
	store        Store
	log          *slog.Logger
	metrics      *metrics.Metrics
	triggerToken string
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests). triggerToken is the shared secret the scheduler
// and admin callers must present as a bearer token.
func NewHandler(rec *Reconciler, store Store, log *slog.Logger, m *metrics.Metrics, triggerToken string) *Handler {
	return &Handler{rec: rec, store: store, log: log, metrics: m, triggerToken: triggerToken}
}

// TriggerReconcile handles POST /reconcile. Requires a bearer token matching
// the configured shared secret; the result record is returned for every
// authenticated call, including failures.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	result, err := h.rec.Reconcile(r.Context())
	RecordMetrics(h.metrics, result, err)

	status := http.StatusOK
	switch {
	case errors.Is(err, ErrReconcileBusy):
		status = http.StatusConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	case err != nil:
		status = http.StatusInternalServerError
	}
	if err != nil {
		h.log.Error("reconciliation failed", slog.String("error", err.Error()))
	}

	writeJSON(w, status, result)
}

// CurrentLive handles GET /live: the currently open session, or 404.
func (h *Handler) CurrentLive(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.CurrentLiveSession(r.Context())
	if err != nil {
		h.log.Error("current live lookup failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SessionHistory handles GET /users/{user_id}/sessions, most recent first.
func (h *Handler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sessions, err := h.store.SessionHistory(r.Context(), UserID(userID))
	if err != nil {
		h.log.Error("session history lookup failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []LiveSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.triggerToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.triggerToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RecordMetrics folds a reconciliation outcome into the metrics registry.
// Shared by the HTTP trigger and the internal poll ticker. m may be nil.
func RecordMetrics(m *metrics.Metrics, result ReconcileResult, err error) {
	if m == nil {
		return
	}
	m.IncReconcileRuns()
	if err != nil {
		m.IncReconcileFailures()
		return
	}
	if result.IsLive && !result.Matched {
		m.IncNoMatch()
	}
	if result.SessionOpened {
		m.IncSessionsOpened()
	}
	if result.SessionsClosed > 0 {
		m.AddSessionsClosed(result.SessionsClosed)
	}
}
