// Package session issues opaque authenticated-context tokens. Transport of the
// token (cookie, header) is the caller's concern.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// ErrEstablishFailed signals the caller must fall back to an unauthenticated
// state and require an explicit login.
var ErrEstablishFailed = errors.New("session: establish failed")

// Issuer establishes an authenticated context for an account.
type Issuer interface {
	Establish(ctx context.Context, user *accounts.UserRecord) (string, error)
	Resolve(ctx context.Context, token string) (*shared.Principal, error)
	Revoke(ctx context.Context, token string) error
}

// RedisIssuer stores session records in Redis keyed by an opaque token.
type RedisIssuer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIssuer constructs a RedisIssuer.
func NewRedisIssuer(client *redis.Client, ttl time.Duration) *RedisIssuer {
	return &RedisIssuer{client: client, ttl: ttl}
}

var _ Issuer = (*RedisIssuer)(nil)

type sessionRecord struct {
	AccountID int64     `json:"account_id"`
	LoginName string    `json:"login_name"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
}

func sessionKey(token string) string {
	return "session:" + token
}

// Establish creates a session record for the account and returns its token.
// Disabled accounts are refused.
func (i *RedisIssuer) Establish(ctx context.Context, user *accounts.UserRecord) (string, error) {
	if !user.Enabled {
		return "", shared.ErrAccountDisabled
	}
	record := sessionRecord{
		AccountID: user.ID,
		LoginName: user.LoginName,
		Roles:     user.Roles.Strings(),
		IssuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEstablishFailed, err)
	}
	token := uuid.NewString()
	if err := i.client.Set(ctx, sessionKey(token), payload, i.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEstablishFailed, err)
	}
	return token, nil
}

// Resolve returns the principal for a token, shared.ErrNotFound when expired
// or unknown.
func (i *RedisIssuer) Resolve(ctx context.Context, token string) (*shared.Principal, error) {
	payload, err := i.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("session: resolve: %w", err)
	}
	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("session: resolve: %w", err)
	}
	return &shared.Principal{
		AccountID:          record.AccountID,
		LoginName:          record.LoginName,
		FullyAuthenticated: true,
	}, nil
}

// Revoke deletes the session record.
func (i *RedisIssuer) Revoke(ctx context.Context, token string) error {
	if err := i.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}
