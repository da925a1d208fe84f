package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ClientConfig holds one provider's registered credentials.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
}

// Client performs the authorization-code flow for configured providers.
type Client struct {
	redirectBase string
	configs      map[string]*oauth2.Config
	providers    map[string]Provider
	httpClient   *http.Client
}

// NewClient registers every provider in creds. redirectBase is the public
// origin; callbacks land on {redirectBase}/login/oauth2/code/{provider}.
func NewClient(redirectBase string, creds map[string]ClientConfig, httpClient *http.Client) (*Client, error) {
	c := &Client{
		redirectBase: strings.TrimRight(redirectBase, "/"),
		configs:      make(map[string]*oauth2.Config, len(creds)),
		providers:    make(map[string]Provider, len(creds)),
		httpClient:   httpClient,
	}
	for name, cred := range creds {
		p, err := Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, name)
		}
		if cred.ClientID == "" || cred.ClientSecret == "" {
			return nil, fmt.Errorf("oauth provider %s: client id and secret are required", name)
		}
		c.register(p, cred)
	}
	return c, nil
}

func (c *Client) register(p Provider, cred ClientConfig) {
	c.providers[p.Name] = p
	c.configs[p.Name] = &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  c.redirectBase + "/login/oauth2/code/" + p.Name,
		Scopes:       p.Scopes,
	}
}

// Enabled reports whether provider is configured.
func (c *Client) Enabled(provider string) bool {
	if c == nil {
		return false
	}
	_, ok := c.configs[provider]
	return ok
}

// AuthCodeURL returns the provider consent URL carrying state.
func (c *Client) AuthCodeURL(provider, state string) (string, error) {
	cfg, ok := c.lookup(provider)
	if !ok {
		return "", ErrUnknownProvider
	}
	return cfg.AuthCodeURL(state), nil
}

// Exchange trades code for a token, fetches the user-info document and
// extracts the attributes. A provider that hides a private address is
// asked for its address listing and the primary verified entry is used.
func (c *Client) Exchange(ctx context.Context, provider, code string) (Attributes, error) {
	cfg, ok := c.lookup(provider)
	if !ok {
		return Attributes{}, ErrUnknownProvider
	}
	if code == "" {
		return Attributes{}, errors.New("missing authorization code")
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Attributes{}, fmt.Errorf("oauth code exchange: %w", err)
	}

	p := c.providers[provider]
	httpClient := cfg.Client(ctx, token)

	body, err := fetch(ctx, httpClient, p.UserInfoURL)
	if err != nil {
		return Attributes{}, fmt.Errorf("oauth userinfo: %w", err)
	}
	doc, err := Decode(body)
	if err != nil {
		return Attributes{}, fmt.Errorf("oauth userinfo: %w", err)
	}

	attrs, err := p.Extract(doc)
	if attrs.Email != "" || attrs.Subject == "" || p.EmailsURL == "" {
		return attrs, err
	}

	body, err = fetch(ctx, httpClient, p.EmailsURL)
	if err != nil {
		return Attributes{}, fmt.Errorf("oauth emails: %w", err)
	}
	var emails []accountEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return Attributes{}, fmt.Errorf("oauth emails: %w", err)
	}
	if attrs.Email = primaryVerified(emails); attrs.Email == "" {
		return attrs, ErrIncompleteAssertion
	}
	attrs.EmailVerified = true
	return attrs, nil
}

func fetch(ctx context.Context, httpClient *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) lookup(provider string) (*oauth2.Config, bool) {
	if c == nil {
		return nil, false
	}
	cfg, ok := c.configs[provider]
	return cfg, ok
}
