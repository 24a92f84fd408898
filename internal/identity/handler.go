package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/platform/httpx"
	"github.com/halcyon-id/halcyon-id/internal/session"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// Handler exposes the account lifecycle over JSON.
type Handler struct {
	svc          *Service
	sessions     session.Issuer
	validate     *validator.Validate
	logger       *slog.Logger
	autoActivate bool
}

// NewHandler constructs the lifecycle handler. autoActivate is the signup
// policy knob: active-on-signup and no demotion on email change.
func NewHandler(svc *Service, sessions session.Issuer, logger *slog.Logger, autoActivate bool) *Handler {
	return &Handler{
		svc:          svc,
		sessions:     sessions,
		validate:     validator.New(),
		logger:       logger,
		autoActivate: autoActivate,
	}
}

// MountRoutes attaches account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	strict := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	r.With(strict).Post("/", h.signup)
	r.With(strict).Post("/login", h.login)
	r.Post("/{accountID}/activate", h.activate)
	r.With(strict).Post("/password-reset", h.requestPasswordReset)
	r.Post("/{accountID}/password", h.resetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Post("/logout", h.logout)
		r.Get("/me", h.me)
		r.Patch("/me", h.updateProfile)
		r.Delete("/me", h.disable)
	})
}

// RequireSession resolves the bearer token into a principal.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		principal, err := h.sessions.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session expired or unknown")
				return
			}
			h.logger.Error("resolve session", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, sessionTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type sessionTokenKey struct{}

func sessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey{}).(string)
	return token
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type profilePayload struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	CountryCode string `json:"country_code" validate:"omitempty,iso3166_1_alpha2"`
	About       string `json:"about"`
	SiteURL     string `json:"site_url" validate:"omitempty,url"`
}

func (p *profilePayload) toDomain() (accounts.Profile, error) {
	profile := accounts.Profile{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Gender:      accounts.Gender(p.Gender),
		CountryCode: p.CountryCode,
		About:       p.About,
		SiteURL:     p.SiteURL,
	}
	if p.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", p.DateOfBirth)
		if err != nil {
			return profile, err
		}
		profile.DateOfBirth = &dob
	}
	return profile, nil
}

type signupRequest struct {
	LoginName string         `json:"login_name" validate:"required,min=3,max=64"`
	Email     string         `json:"email" validate:"required,email"`
	Password  string         `json:"password" validate:"required,min=8"`
	Profile   profilePayload `json:"profile"`
}

type accountResponse struct {
	ID          int64    `json:"id"`
	LoginName   string   `json:"login_name"`
	Email       string   `json:"email"`
	State       State    `json:"state"`
	Roles       []string `json:"roles"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	About       string   `json:"about,omitempty"`
	SiteURL     string   `json:"site_url,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	DateOfBirth string   `json:"date_of_birth,omitempty"`
	LastLoginAt string   `json:"last_login_at,omitempty"`
}

func accountView(u *accounts.UserRecord) accountResponse {
	resp := accountResponse{
		ID:          u.ID,
		LoginName:   u.LoginName,
		Email:       u.Email,
		State:       StateOf(u),
		Roles:       u.Roles.Strings(),
		FirstName:   u.Profile.FirstName,
		LastName:    u.Profile.LastName,
		Gender:      string(u.Profile.Gender),
		CountryCode: u.Profile.CountryCode,
		About:       u.Profile.About,
		SiteURL:     u.Profile.SiteURL,
		AvatarURL:   u.Profile.AvatarURL,
	}
	if u.Profile.DateOfBirth != nil {
		resp.DateOfBirth = u.Profile.DateOfBirth.Format("2006-01-02")
	}
	if u.LastLoginAt != nil {
		resp.LastLoginAt = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := req.Profile.toDomain()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date_of_birth")
		return
	}

	user, err := h.svc.Signup(r.Context(), SignupInput{
		LoginName: req.LoginName,
		Email:     req.Email,
		Password:  req.Password,
		Profile:   profile,
	}, h.autoActivate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, accountView(user))
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.RecordLogin(r.Context(), user.ID); err != nil {
		h.logger.Warn("record login", slog.Int64("account_id", user.ID), slog.Any("error", err))
	}
	token, err := h.sessions.Establish(r.Context(), user)
	if err != nil {
		h.logger.Error("establish session", slog.Int64("account_id", user.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Session Unavailable", "please log in again")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": accountView(user),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionTokenFromContext(r.Context()); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			h.logger.Warn("revoke session", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type activateRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.svc.Activate(r.Context(), accountID, req.Code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	switch result {
	case ActivatedOK, AlreadyActive:
		httpx.JSON(w, http.StatusOK, map[string]string{"result": string(result)})
	default:
		httpx.Problem(w, http.StatusForbidden, "Code Mismatch", "the confirmation code does not match")
	}
}

type resetRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// requestPasswordReset always answers 202 for well-formed input so the
// endpoint cannot be used to probe which emails have accounts.
func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil && !errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetPasswordRequest struct {
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	var req resetPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.svc.ResetPassword(r.Context(), accountID, req.Code, req.NewPassword)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if result != ResetOK {
		httpx.Problem(w, http.StatusForbidden, "Code Mismatch", "the confirmation code does not match")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	user, err := h.svc.Find(r.Context(), principal.AccountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountView(user))
}

type updateProfileRequest struct {
	Email     *string         `json:"email" validate:"omitempty,email"`
	LoginName *string         `json:"login_name" validate:"omitempty,min=3,max=64"`
	Password  *string         `json:"password" validate:"omitempty,min=8"`
	Profile   *profilePayload `json:"profile"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	var req updateProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	changes := ProfileChanges{
		Email:     req.Email,
		LoginName: req.LoginName,
		Password:  req.Password,
	}
	if req.Profile != nil {
		profile, err := req.Profile.toDomain()
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date_of_birth")
			return
		}
		changes.Profile = &profile
	}

	result, err := h.svc.UpdateProfile(r.Context(), principal.AccountID, changes, h.autoActivate)
	if err != nil {
		if errors.Is(err, ErrRenameNotAllowed) {
			httpx.Problem(w, http.StatusForbidden, "Rename Not Allowed", "the one-time rename has already been used")
			return
		}
		httpx.RespondError(w, err)
		return
	}

	// The auth proof changed; the old session is no longer trustworthy.
	if result.NeedsReauth {
		if token := sessionTokenFromContext(r.Context()); token != "" {
			if err := h.sessions.Revoke(r.Context(), token); err != nil {
				h.logger.Warn("revoke session after profile change", slog.Any("error", err))
			}
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"requires_reauth":          result.NeedsReauth,
		"email_reverify_triggered": result.EmailReverifyTriggered,
	})
}

func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.svc.Disable(r.Context(), principal.AccountID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if token := sessionTokenFromContext(r.Context()); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			h.logger.Warn("revoke session after disable", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
