package social

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-id/halcyon-id/internal/provider"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// PendingStore keeps the short-lived merge-by-email state for providers that
// did not surface a verified email. The state is keyed by an opaque token the
// caller holds until the user supplies the missing address.
type PendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPendingStore constructs a PendingStore.
func NewPendingStore(client *redis.Client, ttl time.Duration) *PendingStore {
	return &PendingStore{client: client, ttl: ttl}
}

func pendingKey(token string) string {
	return "social:pending:" + token
}

// Begin saves the external profile and returns the token for resuming.
func (p *PendingStore) Begin(ctx context.Context, profile *provider.ExternalProfile) (string, error) {
	payload, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("social: begin pending link: %w", err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("social: begin pending link: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := p.client.Set(ctx, pendingKey(token), payload, p.ttl).Err(); err != nil {
		return "", fmt.Errorf("social: begin pending link: %w", err)
	}
	return token, nil
}

// Take consumes the pending state, shared.ErrNotFound when expired or unknown.
func (p *PendingStore) Take(ctx context.Context, token string) (*provider.ExternalProfile, error) {
	payload, err := p.client.GetDel(ctx, pendingKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("social: take pending link: %w", err)
	}
	var profile provider.ExternalProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("social: take pending link: %w", err)
	}
	return &profile, nil
}
