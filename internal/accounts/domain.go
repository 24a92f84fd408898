package accounts

import (
	"time"

	"github.com/halcyon-id/halcyon-id/internal/roles"
)

// Provider names a social identity source.
type Provider string

const (
	ProviderTwitter  Provider = "twitter"
	ProviderFacebook Provider = "facebook"
)

// Valid reports whether the provider is known.
func (p Provider) Valid() bool {
	return p == ProviderTwitter || p == ProviderFacebook
}

// Gender values carried on the profile. Non-invariant-bearing.
type Gender string

const (
	GenderUnspecified Gender = ""
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
)

// Profile holds the descriptive account fields.
type Profile struct {
	FirstName   string
	LastName    string
	Gender      Gender
	DateOfBirth *time.Time
	CountryCode string
	About       string
	SiteURL     string
	AvatarURL   string
}

// UserRecord is the persisted account entity.
type UserRecord struct {
	ID        int64
	LoginName string
	Email     string

	PasswordHash string
	// ConfirmationCode is a single-use token proving email ownership, empty
	// when no code is outstanding.
	ConfirmationCode string

	Profile Profile
	Roles   roles.Set

	// Enabled is the soft-delete flag; a disabled account must never
	// authenticate regardless of role state.
	Enabled     bool
	LastLoginAt *time.Time

	Social *SocialIdentity

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the account still needs email confirmation.
func (u *UserRecord) Pending() bool {
	return u.Roles.Has(roles.NotActive)
}

// TwitterBinding stores Twitter credentials for one account.
type TwitterBinding struct {
	TwitterID        string
	ScreenName       string
	OAuthToken       string
	OAuthTokenSecret string
}

// FacebookBinding stores the long-lived Facebook credential for one account.
type FacebookBinding struct {
	FacebookID  string
	AccessToken string
	TokenExpiry time.Time
}

// SocialIdentity holds the provider bindings owned by exactly one account.
// A record with no binding left must be deleted, never kept empty.
type SocialIdentity struct {
	AccountID int64
	Twitter   *TwitterBinding
	Facebook  *FacebookBinding
}

// HasAnyBinding reports whether the record still owns at least one binding.
func (s *SocialIdentity) HasAnyBinding() bool {
	return s != nil && (s.Twitter != nil || s.Facebook != nil)
}

// ExternalID returns the bound external id for the provider, empty when unbound.
func (s *SocialIdentity) ExternalID(p Provider) string {
	if s == nil {
		return ""
	}
	switch p {
	case ProviderTwitter:
		if s.Twitter != nil {
			return s.Twitter.TwitterID
		}
	case ProviderFacebook:
		if s.Facebook != nil {
			return s.Facebook.FacebookID
		}
	}
	return ""
}
