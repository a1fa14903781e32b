// Package anthropic reports month-to-date Anthropic API spend from the
// admin cost report.
package anthropic

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
)

const ID = "anthropic-api"

var Meta = provider.Meta{
	ID:           ID,
	Name:         "Anthropic API",
	Category:     provider.CategoryAPI,
	Color:        "#cc785c",
	WindowLabels: []string{"Spend"},
}

var EnvKeys = []string{"ANTHROPIC_ADMIN_KEY", "ANTHROPIC_API_KEY"}

type Adapter struct {
	client *Client
	now    func() time.Time
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client, now: time.Now}
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

func (a *Adapter) FetchSpend(ctx context.Context, apiKey string, settings provider.Settings) (*provider.Usage, error) {
	now := a.now()
	start, end := provider.CurrentMonth(now)
	cents, err := a.client.MonthSpendCents(ctx, apiKey, start, end)
	if err != nil {
		return nil, err
	}

	cost := provider.NewCost(math.Round(cents)/100, provider.Budget(settings))
	return &provider.Usage{
		RateWindows: provider.MonthlySpendWindows(Meta, cost, now),
		Cost:        cost,
	}, nil
}
