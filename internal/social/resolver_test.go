package social

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/avatar"
	"github.com/halcyon-id/halcyon-id/internal/credential"
	"github.com/halcyon-id/halcyon-id/internal/identity"
	"github.com/halcyon-id/halcyon-id/internal/provider"
	"github.com/halcyon-id/halcyon-id/internal/roles"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	users  map[int64]*accounts.UserRecord
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{users: make(map[int64]*accounts.UserRecord), nextID: 1}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, accounts.Repository) error) error {
	return fn(ctx, m)
}

func copyUser(u *accounts.UserRecord) *accounts.UserRecord {
	copied := *u
	copied.Roles = u.Roles.Clone()
	if u.Social != nil {
		social := *u.Social
		if u.Social.Twitter != nil {
			t := *u.Social.Twitter
			social.Twitter = &t
		}
		if u.Social.Facebook != nil {
			f := *u.Social.Facebook
			social.Facebook = &f
		}
		copied.Social = &social
	}
	return &copied
}

func (m *mockRepository) FindByID(ctx context.Context, id int64) (*accounts.UserRecord, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *mockRepository) FindByLoginName(ctx context.Context, loginName string) (*accounts.UserRecord, error) {
	for _, u := range m.users {
		if u.LoginName == loginName {
			return copyUser(u), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) FindByEmail(ctx context.Context, email string) (*accounts.UserRecord, error) {
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) FindBySocialID(ctx context.Context, p accounts.Provider, externalID string) (*accounts.UserRecord, error) {
	for _, u := range m.users {
		if externalID != "" && u.Social.ExternalID(p) == externalID {
			return copyUser(u), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) Create(ctx context.Context, user *accounts.UserRecord) (int64, error) {
	for _, u := range m.users {
		if u.LoginName == user.LoginName || u.Email == user.Email {
			return 0, shared.ErrConflict
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = copyUser(user)
	return user.ID, nil
}

func (m *mockRepository) Update(ctx context.Context, user *accounts.UserRecord) error {
	if _, ok := m.users[user.ID]; !ok {
		return shared.ErrNotFound
	}
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *mockRepository) DeleteSocialIdentity(ctx context.Context, accountID int64) error {
	if u, ok := m.users[accountID]; ok {
		u.Social = nil
	}
	return nil
}

func (m *mockRepository) UniqueLoginNameFor(ctx context.Context, candidate string) (string, error) {
	if _, err := m.FindByLoginName(ctx, candidate); err != nil {
		return candidate, nil
	}
	for i := 2; ; i++ {
		name := candidate + strconv.Itoa(i)
		if _, err := m.FindByLoginName(ctx, name); err != nil {
			return name, nil
		}
	}
}

// ============================================================================
// STUBS
// ============================================================================

type stubProviderClient struct {
	longLived provider.Token
}

func (s *stubProviderClient) FetchVerifiedProfile(ctx context.Context, creds provider.Credentials) (*provider.ExternalProfile, error) {
	return nil, nil
}

func (s *stubProviderClient) FetchLongLivedToken(ctx context.Context, shortLived string) (provider.Token, error) {
	if s.longLived.Value != "" {
		return s.longLived, nil
	}
	return provider.Token{Value: "long-" + shortLived, Expiry: time.Now().Add(60 * 24 * time.Hour)}, nil
}

type nullNotifier struct{}

func (nullNotifier) Send(ctx context.Context, to, template string, data map[string]string) {}

func newResolver(t *testing.T) (*Service, *mockRepository) {
	t.Helper()
	repo := newMockRepository()
	lifecycle := identity.NewService(repo, credential.NewService(), nullNotifier{}, slog.Default())
	mr := miniredis.RunT(t)
	pending := NewPendingStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 15*time.Minute)
	providers := map[accounts.Provider]provider.Client{
		accounts.ProviderTwitter:  &stubProviderClient{},
		accounts.ProviderFacebook: &stubProviderClient{},
	}
	svc := NewService(repo, lifecycle, providers, pending, avatar.NoopMirror{}, slog.Default())
	return svc, repo
}

func twitterProfile(id, screenName, email string) *provider.ExternalProfile {
	return &provider.ExternalProfile{
		Provider:    accounts.ProviderTwitter,
		ExternalID:  id,
		Email:       email,
		DisplayName: "Test User",
		ScreenName:  screenName,
		Credentials: provider.Credentials{Token: "tok", TokenSecret: "sec"},
	}
}

func facebookProfile(id, email string) *provider.ExternalProfile {
	return &provider.ExternalProfile{
		Provider:    accounts.ProviderFacebook,
		ExternalID:  id,
		Email:       email,
		DisplayName: "Face User",
		Credentials: provider.Credentials{Token: "short-tok"},
	}
}

func seedPendingAccount(t *testing.T, repo *mockRepository, loginName, email string) *accounts.UserRecord {
	t.Helper()
	user := &accounts.UserRecord{
		LoginName:        loginName,
		Email:            email,
		PasswordHash:     "$2a$10$existinghash",
		ConfirmationCode: "seed-code",
		Roles:            roles.NewSet(roles.NotActive, roles.CanRename),
		Enabled:          true,
	}
	_, err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	return user
}

// ============================================================================
// TESTS
// ============================================================================

func TestResolveUnseenIDMatchingPendingAccount(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	seeded := seedPendingAccount(t, repo, "walter", "walter@x.com")

	res, err := svc.Resolve(ctx, twitterProfile("999", "walter_t", "walter@x.com"))
	require.NoError(t, err)
	assert.Equal(t, LinkedAndActivated, res.Outcome)
	require.NotNil(t, res.User)
	assert.Equal(t, seeded.ID, res.User.ID, "no duplicate account created")

	stored, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.True(t, stored.Roles.IsActive())
	require.NotNil(t, stored.Social)
	require.NotNil(t, stored.Social.Twitter)
	assert.Equal(t, "999", stored.Social.Twitter.TwitterID)
	assert.Len(t, repo.users, 1)
}

func TestResolveExistingBindingSignsIn(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, twitterProfile("42", "holly", "holly@x.com"))
	require.NoError(t, err)
	assert.Equal(t, SignedUp, first.Outcome)

	again, err := svc.Resolve(ctx, twitterProfile("42", "holly", "holly@x.com"))
	require.NoError(t, err)
	assert.Equal(t, SignedIn, again.Outcome)
	assert.Equal(t, first.User.ID, again.User.ID)
	assert.Len(t, repo.users, 1)
}

func TestResolveRefusesDisabledAccount(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, twitterProfile("51", "dora", "dora@x.com"))
	require.NoError(t, err)
	require.Equal(t, SignedUp, first.Outcome)

	repo.users[first.User.ID].Enabled = false

	res, err := svc.Resolve(ctx, twitterProfile("51", "dora", "dora@x.com"))
	assert.ErrorIs(t, err, shared.ErrAccountDisabled)
	assert.Nil(t, res)
}

func TestResolveRefreshesChangedTokens(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, twitterProfile("42", "holly", "holly@x.com"))
	require.NoError(t, err)

	rotated := twitterProfile("42", "holly", "holly@x.com")
	rotated.Credentials = provider.Credentials{Token: "tok2", TokenSecret: "sec2"}
	res, err := svc.Resolve(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, SignedIn, res.Outcome)

	stored, err := repo.FindByID(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok2", stored.Social.Twitter.OAuthToken)
	assert.Equal(t, "sec2", stored.Social.Twitter.OAuthTokenSecret)
}

func TestResolveSignupDerivesUniqueLoginName(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	taken := &accounts.UserRecord{
		LoginName: "bob", Email: "bob@x.com",
		PasswordHash: "$2a$10$existinghash",
		Roles:        roles.NewSet(roles.Active),
		Enabled:      true,
	}
	_, err := repo.Create(ctx, taken)
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, twitterProfile("500", "bob", "newbob@x.com"))
	require.NoError(t, err)
	assert.Equal(t, SignedUp, res.Outcome)
	assert.Equal(t, "bob2", res.User.LoginName)
	assert.True(t, res.User.Roles.IsActive())
}

func TestResolveSignupPopulatesProfileFromProvider(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	profile := twitterProfile("77", "Jane_Doe", "jane@x.com")
	profile.DisplayName = "Jane van Doe"
	profile.About = "likes birds"
	profile.SiteURL = "https://jane.example"
	profile.AvatarURL = "https://pbs.example/jane.png"

	res, err := svc.Resolve(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, SignedUp, res.Outcome)

	stored, err := repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.Profile.FirstName)
	assert.Equal(t, "van Doe", stored.Profile.LastName)
	assert.Equal(t, "likes birds", stored.Profile.About)
	assert.Equal(t, "https://jane.example", stored.Profile.SiteURL)
	assert.Equal(t, "https://pbs.example/jane.png", stored.Profile.AvatarURL)
	assert.Equal(t, "jane_doe", stored.LoginName)
	assert.NotEmpty(t, stored.PasswordHash)
}

func TestResolveFacebookExchangesLongLivedToken(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, facebookProfile("314", "pi@x.com"))
	require.NoError(t, err)
	assert.Equal(t, SignedUp, res.Outcome)

	stored, err := repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Social.Facebook)
	assert.Equal(t, "long-short-tok", stored.Social.Facebook.AccessToken)
	assert.False(t, stored.Social.Facebook.TokenExpiry.IsZero())
}

func TestResolveEmailRequiredThenResume(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	seeded := seedPendingAccount(t, repo, "quinn", "quinn@x.com")

	res, err := svc.Resolve(ctx, twitterProfile("888", "quinn_t", ""))
	require.NoError(t, err)
	assert.Equal(t, EmailRequired, res.Outcome)
	require.NotEmpty(t, res.PendingToken)
	assert.Nil(t, res.User)

	resumed, err := svc.ResumeWithEmail(ctx, res.PendingToken, "quinn@x.com")
	require.NoError(t, err)
	assert.Equal(t, LinkedAndActivated, resumed.Outcome)
	assert.Equal(t, seeded.ID, resumed.User.ID)

	// The pending token is single-use.
	_, err = svc.ResumeWithEmail(ctx, res.PendingToken, "quinn@x.com")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLinkToAccountConflict(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	ownerRes, err := svc.Resolve(ctx, twitterProfile("600", "owner", "owner@x.com"))
	require.NoError(t, err)

	other := seedPendingAccount(t, repo, "intruder", "intruder@x.com")
	before, err := repo.FindByID(ctx, other.ID)
	require.NoError(t, err)

	_, err = svc.LinkToAccount(ctx, other.ID, twitterProfile("600", "owner", "owner@x.com"))
	require.ErrorIs(t, err, ErrAlreadyLinkedElsewhere)

	afterOwner, err := repo.FindByID(ctx, ownerRes.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "600", afterOwner.Social.Twitter.TwitterID)

	afterOther, err := repo.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Social, afterOther.Social, "conflict must not mutate bindings")
}

func TestLinkToAccountActivatesOnEmailMatch(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	seeded := seedPendingAccount(t, repo, "rosa", "rosa@x.com")

	res, err := svc.LinkToAccount(ctx, seeded.ID, facebookProfile("1000", "rosa@x.com"))
	require.NoError(t, err)
	assert.Equal(t, LinkedAndActivated, res.Outcome)

	stored, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.True(t, stored.Roles.IsActive())
}

func TestLinkToAccountDifferentEmailJustLinks(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	seeded := seedPendingAccount(t, repo, "sam", "sam@x.com")

	res, err := svc.LinkToAccount(ctx, seeded.ID, facebookProfile("1001", "other@fb.com"))
	require.NoError(t, err)
	assert.Equal(t, Linked, res.Outcome)

	stored, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.False(t, stored.Roles.IsActive(), "mismatched email must not activate")
	require.NotNil(t, stored.Social.Facebook)
}

func TestUnlinkLastBindingDeletesRecord(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, twitterProfile("700", "toni", "toni@x.com"))
	require.NoError(t, err)

	require.NoError(t, svc.Unlink(ctx, res.User.ID, accounts.ProviderTwitter))

	stored, err := repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Social)
	assert.True(t, stored.Enabled)
	assert.True(t, stored.Roles.IsActive(), "unlink never demotes roles")
}

func TestUnlinkOneOfTwoPreservesOther(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, twitterProfile("701", "uma", "uma@x.com"))
	require.NoError(t, err)
	_, err = svc.LinkToAccount(ctx, res.User.ID, facebookProfile("702", "uma@x.com"))
	require.NoError(t, err)

	require.NoError(t, svc.Unlink(ctx, res.User.ID, accounts.ProviderTwitter))

	stored, err := repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Social)
	assert.Nil(t, stored.Social.Twitter)
	require.NotNil(t, stored.Social.Facebook)
	assert.Equal(t, "702", stored.Social.Facebook.FacebookID)
}

func TestUnlinkMissingBinding(t *testing.T) {
	svc, repo := newResolver(t)
	ctx := context.Background()

	seeded := seedPendingAccount(t, repo, "vera", "vera@x.com")
	err := svc.Unlink(ctx, seeded.ID, accounts.ProviderTwitter)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
