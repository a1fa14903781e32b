package opencode

import (
	"context"

	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var workspaceURL = "https://opencode.ai/zen"

type Client struct {
	http         transport.Client
	workspaceURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, workspaceURL: workspaceURL}
}

// GetWorkspacePage returns the server-rendered workspace HTML for the
// session behind the auth cookie.
func (c *Client) GetWorkspacePage(ctx context.Context, authCookie string) (string, error) {
	resp, err := c.http.Get(ctx, c.workspaceURL, map[string]string{
		"Cookie":     "auth=" + authCookie,
		"Accept":     "text/html",
		"User-Agent": "llmeter/0.1",
	})
	if err != nil {
		return "", provider.TransportError(err)
	}
	if err := provider.CheckStatus(resp); err != nil {
		return "", err
	}
	return string(resp.Body), nil
}
