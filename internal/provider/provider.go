// Package provider abstracts the social identity sources. The OAuth
// consent/redirect handshake happens upstream; clients here only exchange or
// verify tokens the handshake already produced.
package provider

import (
	"context"
	"time"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
)

// Credentials are the provider tokens held by the caller after the handshake.
type Credentials struct {
	Token       string
	TokenSecret string
}

// ExternalProfile is the verified profile a provider hands us.
type ExternalProfile struct {
	Provider    accounts.Provider
	ExternalID  string
	// Email is empty for providers that do not surface a verified email
	// (Twitter); the resolver then enters the interactive merge-by-email step.
	Email       string
	DisplayName string
	ScreenName  string
	Gender      accounts.Gender
	AvatarURL   string
	SiteURL     string
	About       string
	Credentials Credentials
}

// Token is a provider access token with optional expiry.
type Token struct {
	Value  string
	Expiry time.Time
}

// Client fetches profile data and tokens from one provider.
type Client interface {
	// FetchVerifiedProfile resolves the held credentials into a profile.
	FetchVerifiedProfile(ctx context.Context, creds Credentials) (*ExternalProfile, error)
	// FetchLongLivedToken exchanges a short-lived token for a long-lived one.
	// Providers without the concept return the input unchanged.
	FetchLongLivedToken(ctx context.Context, shortLived string) (Token, error)
}
