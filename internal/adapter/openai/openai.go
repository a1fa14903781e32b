// Package openai reports month-to-date OpenAI API spend from the
// organization costs endpoint. Costs need an admin key.
package openai

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
)

const ID = "openai-api"

var Meta = provider.Meta{
	ID:           ID,
	Name:         "OpenAI API",
	Category:     provider.CategoryAPI,
	Color:        "#74aa9c",
	WindowLabels: []string{"Spend"},
}

var EnvKeys = []string{"OPENAI_ADMIN_KEY", "OPENAI_API_KEY"}

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

	client := a.client.WithScope(settings.String("organization"), settings.String("project"))
	total, err := client.MonthSpend(ctx, apiKey, start, end)
	if err != nil {
		return nil, err
	}

	cost := provider.NewCost(math.Round(total*100)/100, provider.Budget(settings))
	return &provider.Usage{
		RateWindows: provider.MonthlySpendWindows(Meta, cost, now),
		Cost:        cost,
	}, nil
}
