package copilot

import (
	"context"
	"net/url"

	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var (
	apiURL    = "https://api.github.com"
	githubURL = "https://github.com"
)

// clientID is the GitHub OAuth app used by the Copilot editor plugins.
const clientID = "Iv1.b507a08c87ecfe98"

type Client struct {
	http      transport.Client
	apiURL    string
	githubURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, apiURL: apiURL, githubURL: githubURL}
}

func (c *Client) GetUser(ctx context.Context, token string) (*userResponse, error) {
	headers := map[string]string{
		"Authorization":         "token " + token,
		"Accept":                "application/json",
		"Editor-Version":        "vscode/1.96.2",
		"Editor-Plugin-Version": "copilot-chat/0.26.7",
		"User-Agent":            "GitHubCopilotChat/0.26.7",
		"X-Github-Api-Version":  "2025-04-01",
	}
	var out userResponse
	if err := provider.GetJSON(ctx, c.http, c.apiURL+"/copilot_internal/user", headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	var out deviceCodeResponse
	err := login.PostForm(ctx, c.http, c.githubURL+"/login/device/code", url.Values{
		"client_id": {clientID},
		"scope":     {"read:user"},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) pollAccessToken(ctx context.Context, deviceCode string) (*accessTokenResponse, error) {
	var out accessTokenResponse
	err := login.PostForm(ctx, c.http, c.githubURL+"/login/oauth/access_token", url.Values{
		"client_id":   {clientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
