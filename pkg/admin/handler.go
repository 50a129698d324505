package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/pkg/session"
)

// Handler provides HTTP handlers for the operator surface. Mount behind
// reqauth.RequireAdminToken.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an admin Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi.Router with all admin routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions/{id}/revoke", h.handleRevoke)
	r.Get("/audit", h.handleListAudit)
	return r
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	status := r.URL.Query().Get("status")
	page, err := h.svc.ListSessions(r.Context(), status, params)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, page)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Revoke(r.Context(), id); err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": string(session.StatusRevoked)})
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	entries, err := h.svc.ListAudit(r.Context(), sessionID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, entries)
}
