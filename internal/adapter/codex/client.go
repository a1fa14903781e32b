package codex

import (
	"context"
	"net/url"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var (
	baseURL = "https://chatgpt.com/backend-api"
	authURL = "https://auth.openai.com"
)

const (
	clientID  = "app_EMoamEEZ73f0CkXaXp7hrann"
	userAgent = "llmeter/0.1"
)

type Client struct {
	http    transport.Client
	baseURL string
	authURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, baseURL: baseURL, authURL: authURL}
}

func (c *Client) GetUsage(ctx context.Context, token, accountID string) (*whamUsageResponse, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/json",
		"User-Agent":    userAgent,
	}
	if accountID != "" {
		headers["ChatGPT-Account-Id"] = accountID
	}

	var out whamUsageResponse
	if err := provider.GetJSON(ctx, c.http, c.baseURL+"/wham/usage", headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken implements provider.TokenRefresher. The account id and email
// are re-read from the new tokens so a switched workspace is picked up.
func (c *Client) RefreshToken(ctx context.Context, cred *auth.OAuth) (*provider.Token, error) {
	var out login.TokenResponse
	err := login.PostForm(ctx, c.http, c.authURL+"/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.Refresh},
		"client_id":     {clientID},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Token(identity(&out)), nil
}

func (c *Client) exchangeCode(ctx context.Context, code, redirect, verifier string) (*login.TokenResponse, error) {
	var out login.TokenResponse
	err := login.PostForm(ctx, c.http, c.authURL+"/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirect},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// identity extracts accountId and email from the access and id tokens.
func identity(t *login.TokenResponse) map[string]string {
	access := login.JWTClaims(t.AccessToken)
	id := login.JWTClaims(t.IDToken)

	account := login.ClaimString(access, "https://api.openai.com/auth", "chatgpt_account_id")
	if account == "" {
		account = login.ClaimString(id, "https://api.openai.com/auth", "chatgpt_account_id")
	}
	email := login.ClaimString(id, "email")
	if email == "" {
		email = login.ClaimString(access, "https://api.openai.com/profile", "email")
	}
	return map[string]string{"accountId": account, "email": email}
}
