package session

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/internal/reqauth"
)

// Handler provides HTTP handlers for the session lifecycle API.
type Handler struct {
	svc    *Service
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a session Handler.
func NewHandler(svc *Service, logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{svc: svc, logger: logger, audit: auditWriter}
}

// ProofRoutes returns the routes that mutate a session's standing (create a
// new one, extend one, or fetch the WireGuard config it gates) and therefore
// require a proof-scoped bearer token, not merely an access one.
func (h *Handler) ProofRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Post("/renew", h.handleRenew)
		r.Post("/config", h.handleConfig)
	})
	return r
}

// AccessRoutes returns the read-mostly routes (status, revoke) that only
// require an ordinary access-scoped bearer token.
func (h *Handler) AccessRoutes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleStatus)
		r.Post("/revoke", h.handleRevoke)
	})
	return r
}

type createRequest struct {
	ClientPubkey   string `json:"client_pubkey" validate:"required,min=16"`
	TTLStepSeconds int    `json:"ttl_step_seconds" validate:"omitempty,min=1"`
}

type sessionResponse struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	ExpiresAt    string `json:"expires_at"`
	MaxExpiresAt string `json:"max_expires_at"`
	Address      string `json:"address,omitempty"`
}

func toResponse(sess *Session, address string) sessionResponse {
	return sessionResponse{
		SessionID:    sess.ID,
		Status:       string(sess.Status),
		StartedAt:    sess.StartedAt.Format(timeFormat),
		ExpiresAt:    sess.ExpiresAt.Format(timeFormat),
		MaxExpiresAt: sess.MaxExpiresAt.Format(timeFormat),
		Address:      address,
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sess, ip, err := h.svc.Create(r.Context(), id.UserID, req.ClientPubkey, req.TTLStepSeconds)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "session_created", "session", sess.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, toResponse(sess, ip.String()))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, remaining, err := h.svc.Status(r.Context(), sessionID, id.UserID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"session_id":        sess.ID,
		"status":            sess.Status,
		"started_at":        sess.StartedAt.Format(timeFormat),
		"expires_at":        sess.ExpiresAt.Format(timeFormat),
		"max_expires_at":    sess.MaxExpiresAt.Format(timeFormat),
		"remaining_seconds": remaining,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	revokedAt, err := h.svc.Revoke(r.Context(), sessionID, id.UserID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":     string(StatusRevoked),
		"revoked_at": revokedAt.Format(timeFormat),
	})
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, err := h.svc.Renew(r.Context(), sessionID, id.UserID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "session_renewed", "session", sess.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":         string(sess.Status),
		"expires_at":     sess.ExpiresAt.Format(timeFormat),
		"max_expires_at": sess.MaxExpiresAt.Format(timeFormat),
	})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	cfg, err := h.svc.ClientConfig(r.Context(), sessionID, id.UserID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, cfg)
}
