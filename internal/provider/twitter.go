package provider

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
)

const twitterVerifyURL = "https://api.twitter.com/1.1/account/verify_credentials.json"

// TwitterClient fetches profile data from the Twitter 1.1 API using OAuth1
// request signing.
type TwitterClient struct {
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	verifyURL      string
}

// NewTwitterClient constructs a TwitterClient with the app consumer pair.
func NewTwitterClient(consumerKey, consumerSecret string) *TwitterClient {
	return &TwitterClient{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		verifyURL:      twitterVerifyURL,
	}
}

var _ Client = (*TwitterClient)(nil)

type twitterAccount struct {
	IDStr           string `json:"id_str"`
	Name            string `json:"name"`
	ScreenName      string `json:"screen_name"`
	URL             string `json:"url"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url_https"`
	Email           string `json:"email"`
}

// FetchVerifiedProfile calls verify_credentials with the user's token pair.
func (c *TwitterClient) FetchVerifiedProfile(ctx context.Context, creds Credentials) (*ExternalProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL+"?include_email=true", nil)
	if err != nil {
		return nil, fmt.Errorf("provider/twitter: build request: %w", err)
	}
	auth, err := c.authorizationHeader(req.Method, c.verifyURL, map[string]string{"include_email": "true"}, creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider/twitter: verify credentials: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider/twitter: verify credentials: status %d", res.StatusCode)
	}

	var account twitterAccount
	if err := json.NewDecoder(res.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("provider/twitter: decode profile: %w", err)
	}
	return &ExternalProfile{
		Provider:    accounts.ProviderTwitter,
		ExternalID:  account.IDStr,
		Email:       account.Email,
		DisplayName: account.Name,
		ScreenName:  account.ScreenName,
		AvatarURL:   account.ProfileImageURL,
		SiteURL:     account.URL,
		About:       account.Description,
		Credentials: creds,
	}, nil
}

// FetchLongLivedToken is a no-op for Twitter; OAuth1 tokens do not expire.
func (c *TwitterClient) FetchLongLivedToken(ctx context.Context, shortLived string) (Token, error) {
	return Token{Value: shortLived}, nil
}

// authorizationHeader builds an OAuth1 HMAC-SHA1 Authorization header.
func (c *TwitterClient) authorizationHeader(method, rawURL string, query map[string]string, creds Credentials) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("provider/twitter: nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     c.consumerKey,
		"oauth_nonce":            base64.RawURLEncoding.EncodeToString(nonceBytes),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            creds.Token,
		"oauth_version":          "1.0",
	}

	params := make(map[string]string, len(oauthParams)+len(query))
	for k, v := range oauthParams {
		params[k] = v
	}
	for k, v := range query {
		params[k] = v
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	baseString := strings.Join([]string{
		method,
		percentEncode(rawURL),
		percentEncode(strings.Join(pairs, "&")),
	}, "&")

	signingKey := percentEncode(c.consumerSecret) + "&" + percentEncode(creds.TokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(baseString))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headerKeys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)
	headerPairs := make([]string, 0, len(headerKeys))
	for _, k := range headerKeys {
		headerPairs = append(headerPairs, percentEncode(k)+`="`+percentEncode(oauthParams[k])+`"`)
	}
	return "OAuth " + strings.Join(headerPairs, ", "), nil
}

// percentEncode implements RFC 3986 encoding as OAuth1 requires.
func percentEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	return encoded
}
