// Package social reconciles verified external identities against local
// accounts: sign in over an existing binding, link by verified email, or
// synthesize a new account from the provider profile.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/avatar"
	"github.com/halcyon-id/halcyon-id/internal/identity"
	"github.com/halcyon-id/halcyon-id/internal/provider"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// Outcome classifies how an external identity was reconciled.
type Outcome string

const (
	// SignedIn means an existing binding matched; tokens were refreshed.
	SignedIn Outcome = "SIGNED_IN"
	// Linked means the binding was attached to an existing active account.
	Linked Outcome = "LINKED"
	// LinkedAndActivated means attaching the binding also activated a
	// pending account through the provider-verified email.
	LinkedAndActivated Outcome = "LINKED_AND_ACTIVATED"
	// SignedUp means a new account was synthesized from the profile.
	SignedUp Outcome = "SIGNED_UP"
	// EmailRequired means the provider surfaced no verified email; the
	// caller must collect one and resume with the pending token.
	EmailRequired Outcome = "EMAIL_REQUIRED"
)

// ErrAlreadyLinkedElsewhere reports a binding conflict with another account.
var ErrAlreadyLinkedElsewhere = errors.New("social: identity already linked to another account")

// Resolution is the result of reconciling one external profile.
type Resolution struct {
	Outcome      Outcome
	User         *accounts.UserRecord
	PendingToken string
}

// SignupPort is the slice of the identity lifecycle the resolver drives.
type SignupPort interface {
	Signup(ctx context.Context, input identity.SignupInput, autoActivate bool) (*accounts.UserRecord, error)
}

// Service implements the merge/link algorithm.
type Service struct {
	repo      accounts.Repository
	lifecycle SignupPort
	providers map[accounts.Provider]provider.Client
	pending   *PendingStore
	avatars   avatar.Mirror
	logger    *slog.Logger
}

// NewService constructs the resolver.
func NewService(repo accounts.Repository, lifecycle SignupPort, providers map[accounts.Provider]provider.Client, pending *PendingStore, avatars avatar.Mirror, logger *slog.Logger) *Service {
	return &Service{repo: repo, lifecycle: lifecycle, providers: providers, pending: pending, avatars: avatars, logger: logger}
}

const signupRetries = 3

// Resolve reconciles a verified external profile in priority order: existing
// binding, existing account by verified email, fresh signup. Providers that
// surfaced no email divert to the pending merge step first.
func (s *Service) Resolve(ctx context.Context, profile *provider.ExternalProfile) (*Resolution, error) {
	existing, err := s.repo.FindBySocialID(ctx, profile.Provider, profile.ExternalID)
	switch {
	case err == nil:
		if !existing.Enabled {
			return nil, shared.ErrAccountDisabled
		}
		if err := s.refreshTokens(ctx, existing, profile); err != nil {
			return nil, err
		}
		return &Resolution{Outcome: SignedIn, User: existing}, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	if profile.Email == "" {
		token, err := s.pending.Begin(ctx, profile)
		if err != nil {
			return nil, err
		}
		return &Resolution{Outcome: EmailRequired, PendingToken: token}, nil
	}

	byEmail, err := s.repo.FindByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		return s.attach(ctx, byEmail.ID, profile, true)
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	return s.signupFromProvider(ctx, profile)
}

// ResumeWithEmail re-enters the algorithm after the user supplied the email
// the provider could not verify.
func (s *Service) ResumeWithEmail(ctx context.Context, pendingToken, email string) (*Resolution, error) {
	profile, err := s.pending.Take(ctx, pendingToken)
	if err != nil {
		return nil, err
	}
	profile.Email = email
	return s.Resolve(ctx, profile)
}

// LinkToAccount attaches the external identity to an authenticated account.
// A binding already owned by a different account is a conflict and mutates
// nothing.
func (s *Service) LinkToAccount(ctx context.Context, accountID int64, profile *provider.ExternalProfile) (*Resolution, error) {
	owner, err := s.repo.FindBySocialID(ctx, profile.Provider, profile.ExternalID)
	switch {
	case err == nil && owner.ID != accountID:
		return nil, ErrAlreadyLinkedElsewhere
	case err == nil:
		if err := s.refreshTokens(ctx, owner, profile); err != nil {
			return nil, err
		}
		return &Resolution{Outcome: SignedIn, User: owner}, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}
	return s.attach(ctx, accountID, profile, false)
}

// Unlink removes the targeted binding; when it was the last one the social
// identity record is deleted. Role state and the account itself are untouched.
func (s *Service) Unlink(ctx context.Context, accountID int64, p accounts.Provider) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if user.Social == nil || user.Social.ExternalID(p) == "" {
			return shared.ErrNotFound
		}
		switch p {
		case accounts.ProviderTwitter:
			user.Social.Twitter = nil
		case accounts.ProviderFacebook:
			user.Social.Facebook = nil
		}
		if !user.Social.HasAnyBinding() {
			user.Social = nil
			if err := tx.Update(ctx, user); err != nil {
				return err
			}
			return tx.DeleteSocialIdentity(ctx, accountID)
		}
		return tx.Update(ctx, user)
	})
}

// attach binds the profile to the account; emailTrusted activates a pending
// account when the provider-verified email matches.
func (s *Service) attach(ctx context.Context, accountID int64, profile *provider.ExternalProfile, emailTrusted bool) (*Resolution, error) {
	binding, err := s.bindingFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	outcome := Linked
	var linked *accounts.UserRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		user, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if user.Social == nil {
			user.Social = &accounts.SocialIdentity{AccountID: user.ID}
		}
		applyBinding(user.Social, binding)

		trusted := emailTrusted || strings.EqualFold(profile.Email, user.Email)
		if user.Pending() && trusted && profile.Email != "" {
			user.Roles.Activate()
			outcome = LinkedAndActivated
		}
		if err := tx.Update(ctx, user); err != nil {
			return err
		}
		linked = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Outcome: outcome, User: linked}, nil
}

// refreshTokens updates stored provider tokens when they changed; no other
// profile mutation happens on a repeat sign-in.
func (s *Service) refreshTokens(ctx context.Context, user *accounts.UserRecord, profile *provider.ExternalProfile) error {
	binding, err := s.bindingFor(ctx, profile)
	if err != nil {
		return err
	}
	if user.Social != nil && !bindingChanged(user.Social, binding) {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		fresh, err := tx.FindByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if fresh.Social == nil {
			fresh.Social = &accounts.SocialIdentity{AccountID: fresh.ID}
		}
		applyBinding(fresh.Social, binding)
		if err := tx.Update(ctx, fresh); err != nil {
			return err
		}
		user.Social = fresh.Social
		return nil
	})
}

// signupFromProvider synthesizes a new auto-activated account from the
// profile, retrying with a re-derived login name on a persist-time collision.
func (s *Service) signupFromProvider(ctx context.Context, profile *provider.ExternalProfile) (*Resolution, error) {
	binding, err := s.bindingFor(ctx, profile)
	if err != nil {
		return nil, err
	}

	first, last := splitName(profile.DisplayName)
	handle := profile.ScreenName
	if handle == "" {
		handle = profile.DisplayName
	}
	candidate := NormalizeLoginName(handle)
	avatarURL := s.avatars.MirrorAvatar(ctx, profile.AvatarURL, candidate)

	input := identity.SignupInput{
		Email: profile.Email,
		Profile: accounts.Profile{
			FirstName: first,
			LastName:  last,
			Gender:    profile.Gender,
			About:     profile.About,
			SiteURL:   profile.SiteURL,
			AvatarURL: avatarURL,
		},
		Social: &accounts.SocialIdentity{},
	}
	applyBinding(input.Social, binding)

	var lastErr error
	for attempt := 0; attempt < signupRetries; attempt++ {
		name, err := s.repo.UniqueLoginNameFor(ctx, candidate)
		if err != nil {
			return nil, err
		}
		input.LoginName = name
		user, err := s.lifecycle.Signup(ctx, input, true)
		if err == nil {
			return &Resolution{Outcome: SignedUp, User: user}, nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("login name collision during social signup",
			slog.String("candidate", name))
	}
	return nil, fmt.Errorf("social: signup retries exhausted: %w", lastErr)
}

// bindingFor turns the external profile into a stored binding, exchanging the
// Facebook short-lived token for a long-lived one first.
func (s *Service) bindingFor(ctx context.Context, profile *provider.ExternalProfile) (*accounts.SocialIdentity, error) {
	out := &accounts.SocialIdentity{}
	switch profile.Provider {
	case accounts.ProviderTwitter:
		out.Twitter = &accounts.TwitterBinding{
			TwitterID:        profile.ExternalID,
			ScreenName:       profile.ScreenName,
			OAuthToken:       profile.Credentials.Token,
			OAuthTokenSecret: profile.Credentials.TokenSecret,
		}
	case accounts.ProviderFacebook:
		client, ok := s.providers[accounts.ProviderFacebook]
		if !ok {
			return nil, fmt.Errorf("social: no client for provider %q", profile.Provider)
		}
		token, err := client.FetchLongLivedToken(ctx, profile.Credentials.Token)
		if err != nil {
			return nil, err
		}
		out.Facebook = &accounts.FacebookBinding{
			FacebookID:  profile.ExternalID,
			AccessToken: token.Value,
			TokenExpiry: token.Expiry,
		}
	default:
		return nil, fmt.Errorf("social: unknown provider %q", profile.Provider)
	}
	return out, nil
}

// applyBinding copies the populated binding onto the stored record, leaving
// the other provider's binding intact.
func applyBinding(dst, src *accounts.SocialIdentity) {
	if src.Twitter != nil {
		dst.Twitter = src.Twitter
	}
	if src.Facebook != nil {
		dst.Facebook = src.Facebook
	}
}

// bindingChanged reports whether the stored tokens differ from the fresh ones.
func bindingChanged(stored, fresh *accounts.SocialIdentity) bool {
	if fresh.Twitter != nil {
		t := stored.Twitter
		return t == nil || t.OAuthToken != fresh.Twitter.OAuthToken || t.OAuthTokenSecret != fresh.Twitter.OAuthTokenSecret
	}
	if fresh.Facebook != nil {
		f := stored.Facebook
		return f == nil || f.AccessToken != fresh.Facebook.AccessToken
	}
	return false
}

// splitName divides a display name into first/last parts.
func splitName(display string) (string, string) {
	parts := strings.Fields(display)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
