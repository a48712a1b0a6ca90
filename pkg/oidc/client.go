package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// ErrInvalidGrant indicates that the identity provider rejected the grant
// itself. Retrying cannot succeed, the authorization flow has to restart.
var ErrInvalidGrant = errors.New("invalid grant")

// Config configures access to a Keycloak realm.
type Config struct {
	// BaseURL is the realm base URL. It must end with a trailing slash for
	// the endpoint paths to resolve underneath it.
	BaseURL      string
	ClientID     string
	ClientSecret string
	// CallbackPath is the path on the protected origin the provider
	// redirects back to after login.
	CallbackPath string
}

// Validate validates the configuration.
func (cfg Config) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("missing base URL")
	}

	if cfg.ClientID == "" {
		return errors.New("missing client ID")
	}

	if cfg.ClientSecret == "" {
		return errors.New("missing client secret")
	}

	if cfg.CallbackPath == "" {
		return errors.New("missing callback path")
	}

	return nil
}

// TokenResponse is the token pair issued by the provider for a code or
// refresh grant. Tokens are opaque, they are never parsed.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string

	// ExpiresIn and RefreshExpiresIn are lifetimes in seconds, as granted
	// by the provider.
	ExpiresIn        int
	RefreshExpiresIn int
}

// UserInfo is the subset of the userinfo response this service acts on.
type UserInfo struct {
	Roles []string `json:"roles"`
}

// HasRole reports whether the user carries the given role.
func (u UserInfo) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}

	return false
}

// Client talks to a Keycloak realm using the endpoints derived from the
// realm base URL. It performs no issuer discovery and no token validation,
// the userinfo endpoint is the authority on token liveness.
type Client struct {
	authURL     *url.URL
	tokenURL    *url.URL
	userinfoURL *url.URL

	clientID     string
	clientSecret string
	callbackPath string

	httpClient *http.Client
}

// NewClient creates a Client for the realm described by cfg. All provider
// calls go through httpClient.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL %q is not absolute", cfg.BaseURL)
	}

	authURL, err := base.Parse("protocol/openid-connect/auth")
	if err != nil {
		return nil, fmt.Errorf("resolve auth URL: %w", err)
	}

	tokenURL, err := base.Parse("protocol/openid-connect/token")
	if err != nil {
		return nil, fmt.Errorf("resolve token URL: %w", err)
	}

	userinfoURL, err := base.Parse("protocol/openid-connect/userinfo")
	if err != nil {
		return nil, fmt.Errorf("resolve userinfo URL: %w", err)
	}

	return &Client{
		authURL:      authURL,
		tokenURL:     tokenURL,
		userinfoURL:  userinfoURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		callbackPath: cfg.CallbackPath,
		httpClient:   httpClient,
	}, nil
}

// CallbackPath returns the configured callback path.
func (c *Client) CallbackPath() string {
	return c.callbackPath
}

// CallbackURL resolves the callback path against the origin of requestURL,
// so the provider always receives the same canonical URL it was given at
// login time.
func (c *Client) CallbackURL(requestURL *url.URL) (*url.URL, error) {
	callbackURL, err := requestURL.Parse(c.callbackPath)
	if err != nil {
		return nil, fmt.Errorf("resolve callback URL: %w", err)
	}

	return callbackURL, nil
}

// LoginURL builds the authorization endpoint URL that starts the code flow.
// The URL the user initially requested travels in the state parameter and
// comes back on the callback.
func (c *Client) LoginURL(originalURL, callbackURL *url.URL) string {
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("redirect_uri", callbackURL.String())
	query.Set("response_type", "code")
	query.Set("scope", "openid")
	query.Set("state", originalURL.String())

	loginURL := *c.authURL
	loginURL.RawQuery = query.Encode()

	return loginURL.String()
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string, callbackURL *url.URL) (TokenResponse, error) {
	token, err := c.oauthConfig(callbackURL.String()).Exchange(c.clientContext(ctx), code)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("exchange authorization code: %w", classifyTokenError(err))
	}

	return tokenResponse(token)
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	src := c.oauthConfig("").TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		return TokenResponse{}, fmt.Errorf("refresh token pair: %w", classifyTokenError(err))
	}

	return tokenResponse(token)
}

// Userinfo fetches the userinfo claims using the given access token. A
// non-OK response is a failure, which callers use as the signal that the
// access token is no longer valid.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL.String(), http.NoBody)
	if err != nil {
		return UserInfo{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("call userinfo endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("userinfo endpoint responded with status %d", resp.StatusCode)
	}

	var info UserInfo
	if err = json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("decode userinfo response: %w", err)
	}

	return info, nil
}

func (c *Client) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authURL.String(),
			TokenURL: c.tokenURL.String(),
			// Keycloak expects the client credentials in the form body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// clientContext makes the oauth2 machinery use our retrying HTTP client.
func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) &&
		retrieveErr.Response.StatusCode >= http.StatusBadRequest && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrInvalidGrant, retrieveErr.Response.StatusCode)
	}

	return err
}

func tokenResponse(token *oauth2.Token) (TokenResponse, error) {
	expiresIn, ok := secondsExtra(token, "expires_in")
	if !ok {
		return TokenResponse{}, errors.New("token response misses expires_in")
	}

	refreshExpiresIn, ok := secondsExtra(token, "refresh_expires_in")
	if !ok {
		return TokenResponse{}, errors.New("token response misses refresh_expires_in")
	}

	return TokenResponse{
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		ExpiresIn:        expiresIn,
		RefreshExpiresIn: refreshExpiresIn,
	}, nil
}

func secondsExtra(token *oauth2.Token, key string) (int, bool) {
	switch v := token.Extra(key).(type) {
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
