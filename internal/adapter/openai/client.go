package openai

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var baseURL = "https://api.openai.com"

// maxPages bounds cost pagination for one fetch.
const maxPages = 50

type Client struct {
	http         transport.Client
	baseURL      string
	organization string
	project      string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, baseURL: baseURL}
}

// WithScope returns a copy that sends the OpenAI-Organization and
// OpenAI-Project headers when set.
func (c *Client) WithScope(organization, project string) *Client {
	cp := *c
	cp.organization = organization
	cp.project = project
	return &cp
}

func (c *Client) headers(apiKey string) map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Accept":        "application/json",
	}
	if c.organization != "" {
		h["OpenAI-Organization"] = c.organization
	}
	if c.project != "" {
		h["OpenAI-Project"] = c.project
	}
	return h
}

func (c *Client) GetCosts(ctx context.Context, apiKey string, start, end time.Time, page string) (*costsResponse, error) {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start.Unix(), 10))
	q.Set("end_time", strconv.FormatInt(end.Unix(), 10))
	q.Set("bucket_width", "1d")
	q.Set("limit", "31")
	if page != "" {
		q.Set("page", page)
	}

	var out costsResponse
	if err := provider.GetJSON(ctx, c.http, c.baseURL+"/v1/organization/costs?"+q.Encode(), c.headers(apiKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonthSpend sums every cost bucket between start and end, following
// next_page tokens.
func (c *Client) MonthSpend(ctx context.Context, apiKey string, start, end time.Time) (float64, error) {
	total := 0.0
	page := ""
	for range maxPages {
		resp, err := c.GetCosts(ctx, apiKey, start, end, page)
		if err != nil {
			return 0, err
		}
		for _, bucket := range resp.Data {
			for _, r := range bucket.Results {
				if v, ok := provider.ToFloat(r.Amount.Value); ok {
					total += v
				}
			}
		}
		if resp.NextPage == "" {
			return total, nil
		}
		page = resp.NextPage
	}
	return 0, provider.ParseError("openai costs pagination did not terminate after %d pages", maxPages)
}
