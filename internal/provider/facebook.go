package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
)

const facebookGraphURL = "https://graph.facebook.com"

// FacebookClient fetches profile data and exchanges tokens via the Graph API.
type FacebookClient struct {
	appID      string
	appSecret  string
	httpClient *http.Client
	graphURL   string
}

// NewFacebookClient constructs a FacebookClient with the app credentials.
func NewFacebookClient(appID, appSecret string) *FacebookClient {
	return &FacebookClient{
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		graphURL:   facebookGraphURL,
	}
}

var _ Client = (*FacebookClient)(nil)

type facebookAccount struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Gender    string `json:"gender"`
	Link      string `json:"link"`
	Picture   struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FetchVerifiedProfile resolves the access token into the user's profile.
// Facebook emails are verified by the provider.
func (c *FacebookClient) FetchVerifiedProfile(ctx context.Context, creds Credentials) (*ExternalProfile, error) {
	q := url.Values{}
	q.Set("fields", "id,name,first_name,last_name,email,gender,link,picture.type(large)")
	q.Set("access_token", creds.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+"/me?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("provider/facebook: build request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider/facebook: fetch profile: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider/facebook: fetch profile: status %d", res.StatusCode)
	}

	var account facebookAccount
	if err := json.NewDecoder(res.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("provider/facebook: decode profile: %w", err)
	}

	gender := accounts.GenderUnspecified
	switch account.Gender {
	case "female":
		gender = accounts.GenderFemale
	case "male":
		gender = accounts.GenderMale
	}
	return &ExternalProfile{
		Provider:    accounts.ProviderFacebook,
		ExternalID:  account.ID,
		Email:       account.Email,
		DisplayName: account.Name,
		Gender:      gender,
		AvatarURL:   account.Picture.Data.URL,
		SiteURL:     account.Link,
		Credentials: creds,
	}, nil
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FetchLongLivedToken exchanges a short-lived token for a long-lived one.
func (c *FacebookClient) FetchLongLivedToken(ctx context.Context, shortLived string) (Token, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.appID)
	q.Set("client_secret", c.appSecret)
	q.Set("fb_exchange_token", shortLived)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+"/oauth/access_token?"+q.Encode(), nil)
	if err != nil {
		return Token{}, fmt.Errorf("provider/facebook: build token request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("provider/facebook: exchange token: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("provider/facebook: exchange token: status %d", res.StatusCode)
	}

	var payload facebookTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("provider/facebook: decode token: %w", err)
	}
	token := Token{Value: payload.AccessToken}
	if payload.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return token, nil
}
