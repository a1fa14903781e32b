// Package opencode reports opencode.ai Zen wallet balance and monthly spend
// scraped from the workspace page hydration payload.
package opencode

import (
	"context"
	"math"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
)

const ID = "opencode"

// costUnit converts the page's integer amounts to USD.
const costUnit = 1e8

var Meta = provider.Meta{
	ID:           ID,
	Name:         "opencode",
	Category:     provider.CategoryAPI,
	Color:        "#f5a623",
	WindowLabels: []string{"Spend"},
}

var EnvKeys = []string{"OPENCODE_AUTH_COOKIE"}

var (
	reBalance      = regexp.MustCompile(`balance:(\d+)`)
	reMonthlyUsage = regexp.MustCompile(`monthlyUsage:(\d+)`)
	reMonthlyLimit = regexp.MustCompile(`monthlyLimit:(\d+)`)
	reEmail        = regexp.MustCompile(`"([^"@\s]{1,64}@[^"@\s]{1,128})"`)
)

type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func New(client *Client, store auth.Store, logger log.FieldLogger) *provider.API {
	return provider.NewAPI(provider.APIConfig{
		Meta:    Meta,
		EnvKeys: EnvKeys,
		Store:   store,
		Fetcher: NewAdapter(client),
		Log:     logger,
	})
}

func (a *Adapter) FetchSpend(ctx context.Context, authCookie string, settings provider.Settings) (*provider.Usage, error) {
	page, err := a.client.GetWorkspacePage(ctx, authCookie)
	if err != nil {
		return nil, err
	}
	return parsePage(page, provider.Budget(settings))
}

// parsePage reads the workspace hydration payload. A configured budget
// overrides the workspace monthly limit.
func parsePage(page string, budget *float64) (*provider.Usage, error) {
	usage, ok := extractInt(page, reMonthlyUsage)
	if !ok {
		return nil, provider.ParseError("opencode workspace page has no monthlyUsage; the auth cookie may be stale")
	}
	balance, _ := extractInt(page, reBalance)
	limit, _ := extractInt(page, reMonthlyLimit)

	if budget == nil && limit > 0 {
		budget = provider.Ptr(float64(limit))
	}
	cost := provider.NewCost(math.Round(float64(usage)/costUnit*1e4)/1e4, budget)

	out := &provider.Usage{
		RateWindows: provider.SpendWindows(Meta, cost),
		Cost:        cost,
	}
	if balance > 0 {
		out.CreditsRemaining = provider.Ptr(float64(balance) / costUnit)
	}
	if m := reEmail.FindStringSubmatch(page); m != nil {
		out.AccountEmail = m[1]
	}
	return out, nil
}

func extractInt(s string, re *regexp.Regexp) (int64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	return v, err == nil
}
