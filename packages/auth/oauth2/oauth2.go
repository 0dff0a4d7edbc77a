// Package oauth2 obtains the bearer token for a run from an OAuth2 token endpoint.
package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type GrantType string

const (
	ClientCredentials GrantType = "client_credentials"
	Password          GrantType = "password"
)

// expiryLeeway treats a token as expired slightly early to absorb clock skew
const expiryLeeway = 30 * time.Second

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	GrantType    GrantType
	// Username and Password are used by the password grant
	Username string
	Password string
}

// Validate reports missing settings for the configured grant.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenURL == "" {
		errs = append(errs, errors.New("oauth2: token URL is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("oauth2: client id is required"))
	}
	switch c.GrantType {
	case "", ClientCredentials:
	case Password:
		if c.Username == "" {
			errs = append(errs, errors.New("oauth2: password grant requires a username"))
		}
	default:
		errs = append(errs, fmt.Errorf("oauth2: unsupported grant type %q", c.GrantType))
	}
	return errors.Join(errs...)
}

type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	Scope       string    `json:"scope,omitempty"`
	ExpiresAt   time.Time `json:"-"`
}

// Expired reports whether the token must be refetched. Tokens without
// expires_in never expire.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(expiryLeeway).After(t.ExpiresAt)
}

// Provider fetches tokens and reuses one until it expires.
type Provider struct {
	config *Config
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	token *Token
}

type Option func(*Provider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

func NewProvider(config *Config, opts ...Option) *Provider {
	p := &Provider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccessToken returns a valid access token, fetching one when needed.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && !p.token.Expired(p.now()) {
		return p.token.AccessToken, nil
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	return token.AccessToken, nil
}

func (p *Provider) fetch(ctx context.Context) (*Token, error) {
	form := url.Values{}
	switch p.config.GrantType {
	case Password:
		form.Set("grant_type", string(Password))
		form.Set("username", p.config.Username)
		form.Set("password", p.config.Password)
	default:
		form.Set("grant_type", string(ClientCredentials))
	}
	if len(p.config.Scopes) > 0 {
		form.Set("scope", strings.Join(p.config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("token request failed: %s: %s", errResp.Error, errResp.ErrorDescription)
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = p.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &token, nil
}
