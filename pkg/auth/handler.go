package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/internal/reqauth"
	"github.com/latticevpn/sessiond/pkg/challenge"
	"github.com/latticevpn/sessiond/pkg/token"
)

// Handler provides HTTP handlers for the login and step-up MFA flows.
type Handler struct {
	svc    *Service
	tokens *token.Manager
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates an auth Handler.
func NewHandler(svc *Service, tokens *token.Manager, logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger, audit: auditWriter}
}

// PublicRoutes returns the unauthenticated login routes (start, verify-mfa).
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.handleStart)
	r.Post("/verify-mfa", h.handleVerifyMFA)
	return r
}

// StepUpRoutes returns the step-up routes, which require an access-scoped
// bearer token (mount behind reqauth.RequireScope(mgr, token.ScopeAccess)).
func (h *Handler) StepUpRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.handleStepUpStart)
	r.Post("/verify", h.handleStepUpVerify)
	return r
}

type startRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginChallengeResponse struct {
	ChallengeID        string `json:"challenge_id"`
	MFARequired        bool   `json:"mfa_required"`
	ChallengeExpiresIn int    `json:"challenge_expires_in"`
}

type stepUpChallengeResponse struct {
	ChallengeID        string `json:"challenge_id"`
	ChallengeExpiresIn int    `json:"challenge_expires_in"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.svc.Start(r.Context(), req.Username, req.Password)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "auth_start", "user", c.UserID, nil)
	}

	httpserver.Respond(w, http.StatusOK, loginChallengeResponse{
		ChallengeID:        c.ID.String(),
		MFARequired:        true,
		ChallengeExpiresIn: int(challenge.TTL.Seconds()),
	})
}

type verifyMFARequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,uuid"`
	TotpCode    string `json:"totp_code" validate:"required,len=6"`
}

type tokenPairResponse struct {
	AccessToken     string `json:"access_token"`
	AccessExpiresIn int    `json:"access_expires_in"`
	ProofToken      string `json:"proof_token"`
	ProofExpiresIn  int    `json:"proof_expires_in"`
}

func (h *Handler) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid challenge_id")
		return
	}

	access, proof, err := h.svc.VerifyMFA(r.Context(), challengeID, req.TotpCode)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "auth_mfa_verified", "challenge", req.ChallengeID, nil)
	}

	httpserver.Respond(w, http.StatusOK, tokenPairResponse{
		AccessToken:     access,
		AccessExpiresIn: h.tokens.AccessTTLSeconds(),
		ProofToken:      proof,
		ProofExpiresIn:  h.tokens.ProofTTLSeconds(),
	})
}

func (h *Handler) handleStepUpStart(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	c, err := h.svc.StepUpStart(r.Context(), id.UserID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "stepup_start", "user", id.UserID, nil)
	}

	httpserver.Respond(w, http.StatusOK, stepUpChallengeResponse{
		ChallengeID:        c.ID.String(),
		ChallengeExpiresIn: int(challenge.TTL.Seconds()),
	})
}

type proofResponse struct {
	ProofToken     string `json:"proof_token"`
	ProofExpiresIn int    `json:"proof_expires_in"`
}

func (h *Handler) handleStepUpVerify(w http.ResponseWriter, r *http.Request) {
	id := reqauth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req verifyMFARequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid challenge_id")
		return
	}

	proof, err := h.svc.StepUpVerify(r.Context(), id.UserID, challengeID, req.TotpCode)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "stepup_mfa_verified", "challenge", req.ChallengeID, nil)
	}

	httpserver.Respond(w, http.StatusOK, proofResponse{
		ProofToken:     proof,
		ProofExpiresIn: h.tokens.ProofTTLSeconds(),
	})
}
