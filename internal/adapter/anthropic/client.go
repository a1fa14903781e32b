package anthropic

import (
	"context"
	"net/url"
	"time"

	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var baseURL = "https://api.anthropic.com"

const (
	apiVersion = "2023-06-01"
	maxPages   = 50
)

type Client struct {
	http    transport.Client
	baseURL string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, baseURL: baseURL}
}

func (c *Client) GetCostReport(ctx context.Context, apiKey string, start, end time.Time, page string) (*costReport, error) {
	q := url.Values{}
	q.Set("starting_at", start.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("ending_at", end.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("bucket_width", "1d")
	q.Set("limit", "31")
	if page != "" {
		q.Set("page", page)
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": apiVersion,
		"Accept":            "application/json",
	}

	var out costReport
	if err := provider.GetJSON(ctx, c.http, c.baseURL+"/v1/organizations/cost_report?"+q.Encode(), headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonthSpendCents sums the report between start and end across pages.
func (c *Client) MonthSpendCents(ctx context.Context, apiKey string, start, end time.Time) (float64, error) {
	total := 0.0
	page := ""
	for range maxPages {
		report, err := c.GetCostReport(ctx, apiKey, start, end, page)
		if err != nil {
			return 0, err
		}
		for _, bucket := range report.Data {
			for _, r := range bucket.Results {
				if v, ok := provider.ToFloat(r.Amount); ok {
					total += v
				}
			}
		}
		if !report.HasMore || report.NextPage == "" {
			return total, nil
		}
		page = report.NextPage
	}
	return 0, provider.ParseError("anthropic cost report pagination did not terminate after %d pages", maxPages)
}
