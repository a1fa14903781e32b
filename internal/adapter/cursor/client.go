package cursor

import (
	"context"
	"net/url"

	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var baseURL = "https://cursor.com"

const userAgent = "llmeter/0.1"

type Client struct {
	http    transport.Client
	baseURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, baseURL: baseURL}
}

func (c *Client) get(ctx context.Context, path, cookie string, v any) error {
	headers := map[string]string{
		"Cookie":     cookie,
		"Accept":     "application/json",
		"User-Agent": userAgent,
	}
	return provider.GetJSON(ctx, c.http, c.baseURL+path, headers, v)
}

func (c *Client) GetUsageSummary(ctx context.Context, cookie string) (*usageSummary, error) {
	var out usageSummary
	if err := c.get(ctx, "/api/usage-summary", cookie, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMe(ctx context.Context, cookie string) (*authMe, error) {
	var out authMe
	if err := c.get(ctx, "/api/auth/me", cookie, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRequestUsage(ctx context.Context, cookie, user string) (*requestUsage, error) {
	var out requestUsage
	if err := c.get(ctx, "/api/usage?user="+url.QueryEscape(user), cookie, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
