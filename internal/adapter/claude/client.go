package claude

import (
	"context"
	"encoding/base64"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var (
	baseURL  = "https://api.anthropic.com"
	tokenURL = "https://console.anthropic.com/v1/oauth/token"
)

const (
	betaHeader  = "oauth-2025-04-20"
	userAgent   = "llmeter/0.1"
	redirectURI = "https://console.anthropic.com/oauth/code/callback"
	authorize   = "https://claude.ai/oauth/authorize"
	scopes      = "org:create_api_key user:profile user:inference"
)

// clientID is the public OAuth client shared with the Claude CLI.
var clientID = mustDecode("OWQxYzI1MGEtZTYxYi00NGQ5LTg4ZWQtNTk0NGQxOTYyZjVl")

type Client struct {
	http     transport.Client
	baseURL  string
	tokenURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, baseURL: baseURL, tokenURL: tokenURL}
}

func (c *Client) headers(token string) map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + token,
		"Accept":         "application/json",
		"Content-Type":   "application/json",
		"anthropic-beta": betaHeader,
		"User-Agent":     userAgent,
	}
}

func (c *Client) GetUsage(ctx context.Context, token string) (*usageResponse, error) {
	var out usageResponse
	if err := provider.GetJSON(ctx, c.http, c.baseURL+"/api/oauth/usage", c.headers(token), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProfile(ctx context.Context, token string) (*profileResponse, error) {
	var out profileResponse
	if err := provider.GetJSON(ctx, c.http, c.baseURL+"/api/oauth/profile", c.headers(token), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken implements provider.TokenRefresher.
func (c *Client) RefreshToken(ctx context.Context, cred *auth.OAuth) (*provider.Token, error) {
	var out login.TokenResponse
	err := login.PostJSONBody(ctx, c.http, c.tokenURL, refreshRequest{
		GrantType:    "refresh_token",
		ClientID:     clientID,
		RefreshToken: cred.Refresh,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Token(nil), nil
}

func (c *Client) exchangeCode(ctx context.Context, req exchangeRequest) (*login.TokenResponse, error) {
	var out login.TokenResponse
	if err := login.PostJSONBody(ctx, c.http, c.tokenURL, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func mustDecode(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}
