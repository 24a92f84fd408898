package social

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/identity"
	"github.com/halcyon-id/halcyon-id/internal/platform/httpx"
	"github.com/halcyon-id/halcyon-id/internal/provider"
	"github.com/halcyon-id/halcyon-id/internal/session"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// Handler exposes social sign-in, linking and unlinking over JSON.
type Handler struct {
	svc       *Service
	providers map[accounts.Provider]provider.Client
	sessions  session.Issuer
	auth      func(http.Handler) http.Handler
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler constructs the social handler. auth is the session middleware
// guarding the link/unlink routes.
func NewHandler(svc *Service, providers map[accounts.Provider]provider.Client, sessions session.Issuer, auth func(http.Handler) http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		providers: providers,
		sessions:  sessions,
		auth:      auth,
		validate:  validator.New(),
		logger:    logger,
	}
}

// MountRoutes attaches social identity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	strict := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	r.With(strict).Post("/{provider}/signin", h.signIn)
	r.With(strict).Post("/resume", h.resume)

	r.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Post("/{provider}/link", h.link)
		r.Delete("/{provider}", h.unlink)
	})
}

type signInRequest struct {
	Token       string `json:"token" validate:"required"`
	TokenSecret string `json:"token_secret"`
}

func (h *Handler) fetchProfile(w http.ResponseWriter, r *http.Request) *provider.ExternalProfile {
	p := accounts.Provider(chi.URLParam(r, "provider"))
	client, ok := h.providers[p]
	if !ok || !p.Valid() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown provider")
		return nil
	}
	var req signInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return nil
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return nil
	}

	profile, err := client.FetchVerifiedProfile(r.Context(), provider.Credentials{
		Token:       req.Token,
		TokenSecret: req.TokenSecret,
	})
	if err != nil {
		h.logger.Warn("fetch provider profile", slog.String("provider", string(p)), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Provider Unavailable", "could not verify the provider credentials")
		return nil
	}
	return profile
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	profile := h.fetchProfile(w, r)
	if profile == nil {
		return
	}
	res, err := h.svc.Resolve(r.Context(), profile)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondResolution(w, r, res)
}

type resumeRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	res, err := h.svc.ResumeWithEmail(r.Context(), req.PendingToken, req.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusGone, "Pending Link Expired", "start the sign-in again")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	h.respondResolution(w, r, res)
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	profile := h.fetchProfile(w, r)
	if profile == nil {
		return
	}

	res, err := h.svc.LinkToAccount(r.Context(), principal.AccountID, profile)
	if err != nil {
		if errors.Is(err, ErrAlreadyLinkedElsewhere) {
			httpx.Problem(w, http.StatusConflict, "Already Linked", "this identity belongs to another account")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"outcome":    res.Outcome,
		"account_id": res.User.ID,
		"state":      identity.StateOf(res.User),
	})
}

func (h *Handler) unlink(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	p := accounts.Provider(chi.URLParam(r, "provider"))
	if !p.Valid() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown provider")
		return
	}
	if err := h.svc.Unlink(r.Context(), principal.AccountID, p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondResolution turns a resolution into either a session or a pending
// prompt. A failed session establish falls back to the unauthenticated state.
func (h *Handler) respondResolution(w http.ResponseWriter, r *http.Request, res *Resolution) {
	if res.Outcome == EmailRequired {
		httpx.JSON(w, http.StatusAccepted, map[string]any{
			"outcome":       res.Outcome,
			"pending_token": res.PendingToken,
		})
		return
	}

	body := map[string]any{
		"outcome":    res.Outcome,
		"account_id": res.User.ID,
		"login_name": res.User.LoginName,
		"state":      identity.StateOf(res.User),
	}
	token, err := h.sessions.Establish(r.Context(), res.User)
	if err != nil {
		h.logger.Error("establish session", slog.Int64("account_id", res.User.ID), slog.Any("error", err))
		body["requires_login"] = true
	} else {
		body["token"] = token
	}
	status := http.StatusOK
	if res.Outcome == SignedUp {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, body)
}
