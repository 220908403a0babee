package interview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	httpmiddleware "github.com/wolfman30/mockinterview/internal/http/middleware"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// HistoryReader lists past sessions for the dashboard.
type HistoryReader interface {
	Recent(ctx context.Context, candidate string, limit int) ([]Record, error)
}

// Handler exposes sessions over REST. Every UI session maps to one Controller.
type Handler struct {
	registry *Registry
	history  HistoryReader
	logger   *logging.Logger
}

// NewHandler creates an interview handler. history may be nil.
func NewHandler(registry *Registry, history HistoryReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		registry: registry,
		history:  history,
		logger:   logger,
	}
}

// Routes mounts the session endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/history", h.History)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/retry", h.Retry)
		r.Post("/end", h.End)
		r.Delete("/", h.Close)
	})
	return r
}

// Create handles POST /interviews: opens a session and starts its conversation.
// The body is optional.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	ctrl := h.registry.Open(candidateFrom(r), settings)
	snap, err := ctrl.Start(r.Context())
	if err != nil {
		h.logger.Error("failed to start interview", "error", err, "session_id", ctrl.SessionID())
		h.writeJSON(w, statusFor(err), snap)
		return
	}
	w.Header().Set("Location", strings.TrimRight(r.URL.Path, "/")+"/"+snap.SessionID)
	if snap.State == StateFailed {
		h.writeJSON(w, http.StatusBadGateway, snap)
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

// Get handles GET /interviews/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// Retry handles POST /interviews/{sessionID}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := ctrl.Retry(r.Context())
	if err != nil {
		h.writeJSON(w, statusFor(err), snap)
		return
	}
	if snap.State == StateFailed {
		h.writeJSON(w, http.StatusBadGateway, snap)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// End handles POST /interviews/{sessionID}/end.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := ctrl.End(r.Context())
	if err != nil {
		h.writeJSON(w, statusFor(err), snap)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Close handles DELETE /interviews/{sessionID}: the UI left the interview
// screen. Teardown happens in the background.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.registry.Close(ctrl.SessionID()); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// History handles GET /interviews/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"interviews": []Record{}})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	records, err := h.history.Recent(r.Context(), candidateFrom(r), limit)
	if err != nil {
		h.logger.Error("failed to load interview history", "error", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"interviews": records})
}

// lookup resolves the session in the URL. Another candidate's session is
// reported as missing.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Controller, bool) {
	ctrl, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil || ctrl.Candidate() != candidateFrom(r) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrRetryRequired):
		return http.StatusConflict
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func candidateFrom(r *http.Request) string {
	if claims, ok := httpmiddleware.CandidateClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}
