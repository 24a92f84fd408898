package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyon-id/halcyon-id/internal/platform/db"
	"github.com/halcyon-id/halcyon-id/internal/roles"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// WithTx runs fn against a transactional copy of the repository.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx, pool: r.pool})
	})
}

const userColumns = `u.id, u.login_name, u.email, u.password_hash, u.confirmation_code,
	u.first_name, u.last_name, u.gender, u.date_of_birth, u.country_code, u.about, u.site_url, u.avatar_url,
	u.roles, u.enabled, u.last_login_at, u.created_at, u.updated_at`

func (r *PGRepository) findOne(ctx context.Context, where string, args ...any) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE ` + where
	row := r.db.QueryRow(ctx, query, args...)

	var (
		u         UserRecord
		roleNames []string
		dob       *time.Time
		lastLogin *time.Time
	)
	err := row.Scan(
		&u.ID, &u.LoginName, &u.Email, &u.PasswordHash, &u.ConfirmationCode,
		&u.Profile.FirstName, &u.Profile.LastName, &u.Profile.Gender, &dob,
		&u.Profile.CountryCode, &u.Profile.About, &u.Profile.SiteURL, &u.Profile.AvatarURL,
		&roleNames, &u.Enabled, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("accounts: find user: %w", err)
	}
	u.Profile.DateOfBirth = dob
	u.LastLoginAt = lastLogin
	u.Roles, err = roles.FromStrings(roleNames)
	if err != nil {
		return nil, fmt.Errorf("accounts: decode roles for user %d: %w", u.ID, err)
	}
	if err := r.loadSocial(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PGRepository) loadSocial(ctx context.Context, u *UserRecord) error {
	const query = `SELECT twitter_id, screen_name, oauth_token, oauth_token_secret,
		facebook_id, fb_access_token, fb_token_expiry
		FROM social_identities WHERE account_id = $1`

	var (
		twitterID, screenName, oauthToken, oauthSecret *string
		facebookID, fbToken                            *string
		fbExpiry                                       *time.Time
	)
	err := r.db.QueryRow(ctx, query, u.ID).Scan(
		&twitterID, &screenName, &oauthToken, &oauthSecret,
		&facebookID, &fbToken, &fbExpiry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			u.Social = nil
			return nil
		}
		return fmt.Errorf("accounts: load social identity: %w", err)
	}

	social := &SocialIdentity{AccountID: u.ID}
	if twitterID != nil {
		social.Twitter = &TwitterBinding{
			TwitterID:        *twitterID,
			ScreenName:       deref(screenName),
			OAuthToken:       deref(oauthToken),
			OAuthTokenSecret: deref(oauthSecret),
		}
	}
	if facebookID != nil {
		binding := &FacebookBinding{FacebookID: *facebookID, AccessToken: deref(fbToken)}
		if fbExpiry != nil {
			binding.TokenExpiry = *fbExpiry
		}
		social.Facebook = binding
	}
	u.Social = social
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FindByID fetches one account by surrogate id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	return r.findOne(ctx, "u.id = $1", id)
}

// FindByLoginName fetches one account by login name.
func (r *PGRepository) FindByLoginName(ctx context.Context, loginName string) (*UserRecord, error) {
	return r.findOne(ctx, "u.login_name = $1", loginName)
}

// FindByEmail fetches one account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return r.findOne(ctx, "u.email = $1", email)
}

// FindBySocialID fetches the account owning the given provider binding.
func (r *PGRepository) FindBySocialID(ctx context.Context, provider Provider, externalID string) (*UserRecord, error) {
	var column string
	switch provider {
	case ProviderTwitter:
		column = "s.twitter_id"
	case ProviderFacebook:
		column = "s.facebook_id"
	default:
		return nil, fmt.Errorf("accounts: unknown provider %q", provider)
	}
	return r.findOne(ctx, "u.id = (SELECT s.account_id FROM social_identities s WHERE "+column+" = $1)", externalID)
}

// Create inserts the account and its social identity, assigning the id.
func (r *PGRepository) Create(ctx context.Context, user *UserRecord) (int64, error) {
	const query = `INSERT INTO users
		(login_name, email, password_hash, confirmation_code,
		 first_name, last_name, gender, date_of_birth, country_code, about, site_url, avatar_url,
		 roles, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		user.LoginName, user.Email, user.PasswordHash, user.ConfirmationCode,
		user.Profile.FirstName, user.Profile.LastName, string(user.Profile.Gender),
		user.Profile.DateOfBirth, user.Profile.CountryCode, user.Profile.About,
		user.Profile.SiteURL, user.Profile.AvatarURL,
		user.Roles.Strings(), user.Enabled,
	).Scan(&user.ID)
	if err != nil {
		return 0, mapConflict("accounts: create user", err)
	}
	if user.Social != nil {
		user.Social.AccountID = user.ID
		if err := r.upsertSocial(ctx, user.Social); err != nil {
			return 0, err
		}
	}
	return user.ID, nil
}

// Update persists the mutable account fields and the social identity state.
func (r *PGRepository) Update(ctx context.Context, user *UserRecord) error {
	const query = `UPDATE users SET
		login_name = $2, email = $3, password_hash = $4, confirmation_code = $5,
		first_name = $6, last_name = $7, gender = $8, date_of_birth = $9,
		country_code = $10, about = $11, site_url = $12, avatar_url = $13,
		roles = $14, enabled = $15, last_login_at = $16, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		user.ID, user.LoginName, user.Email, user.PasswordHash, user.ConfirmationCode,
		user.Profile.FirstName, user.Profile.LastName, string(user.Profile.Gender),
		user.Profile.DateOfBirth, user.Profile.CountryCode, user.Profile.About,
		user.Profile.SiteURL, user.Profile.AvatarURL,
		user.Roles.Strings(), user.Enabled, user.LastLoginAt,
	)
	if err != nil {
		return mapConflict("accounts: update user", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if user.Social != nil {
		user.Social.AccountID = user.ID
		return r.upsertSocial(ctx, user.Social)
	}
	return nil
}

func (r *PGRepository) upsertSocial(ctx context.Context, social *SocialIdentity) error {
	const query = `INSERT INTO social_identities
		(account_id, twitter_id, screen_name, oauth_token, oauth_token_secret,
		 facebook_id, fb_access_token, fb_token_expiry)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (account_id) DO UPDATE SET
		 twitter_id = EXCLUDED.twitter_id,
		 screen_name = EXCLUDED.screen_name,
		 oauth_token = EXCLUDED.oauth_token,
		 oauth_token_secret = EXCLUDED.oauth_token_secret,
		 facebook_id = EXCLUDED.facebook_id,
		 fb_access_token = EXCLUDED.fb_access_token,
		 fb_token_expiry = EXCLUDED.fb_token_expiry`

	var (
		twitterID, screenName, oauthToken, oauthSecret *string
		facebookID, fbToken                            *string
		fbExpiry                                       *time.Time
	)
	if t := social.Twitter; t != nil {
		twitterID, screenName, oauthToken, oauthSecret = &t.TwitterID, &t.ScreenName, &t.OAuthToken, &t.OAuthTokenSecret
	}
	if f := social.Facebook; f != nil {
		facebookID, fbToken = &f.FacebookID, &f.AccessToken
		if !f.TokenExpiry.IsZero() {
			fbExpiry = &f.TokenExpiry
		}
	}
	_, err := r.db.Exec(ctx, query, social.AccountID,
		twitterID, screenName, oauthToken, oauthSecret,
		facebookID, fbToken, fbExpiry,
	)
	if err != nil {
		return mapConflict("accounts: upsert social identity", err)
	}
	return nil
}

// DeleteSocialIdentity removes the social identity row for the account.
func (r *PGRepository) DeleteSocialIdentity(ctx context.Context, accountID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM social_identities WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("accounts: delete social identity: %w", err)
	}
	return nil
}

// UniqueLoginNameFor suffixes the candidate with the next free number when taken.
func (r *PGRepository) UniqueLoginNameFor(ctx context.Context, candidate string) (string, error) {
	rows, err := r.db.Query(ctx, `SELECT login_name FROM users WHERE login_name LIKE $1 || '%'`, candidate)
	if err != nil {
		return "", fmt.Errorf("accounts: unique login name: %w", err)
	}
	defer rows.Close()

	taken := false
	maxSuffix := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("accounts: unique login name: %w", err)
		}
		if name == candidate {
			taken = true
			continue
		}
		suffix := strings.TrimPrefix(name, candidate)
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSuffix {
			maxSuffix = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("accounts: unique login name: %w", err)
	}
	if !taken {
		return candidate, nil
	}
	next := maxSuffix + 1
	if next < 2 {
		next = 2
	}
	return candidate + strconv.Itoa(next), nil
}

// mapConflict converts postgres unique violations into shared.ErrConflict so
// callers can retry with a re-derived login name.
func mapConflict(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, shared.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
