// Package copilot reports the monthly premium request quota of a GitHub
// Copilot subscription.
package copilot

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
)

const (
	ID       = "copilot"
	StoreKey = "github-copilot"
)

var Meta = provider.Meta{
	ID:           ID,
	Name:         "Copilot",
	Category:     provider.CategorySubscription,
	Color:        "#6e40c9",
	WindowLabels: []string{"Premium"},
}

type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// New builds the provider. Device-flow tokens are long-lived and never
// refreshed, so no coordinator is attached.
func New(client *Client, store auth.Store, logger log.FieldLogger) *provider.Subscription {
	return provider.NewSubscription(provider.SubscriptionConfig{
		Meta:     Meta,
		StoreKey: StoreKey,
		Store:    store,
		Fetcher:  NewAdapter(client),
		Log:      logger,
	})
}

func (a *Adapter) FetchUsage(ctx context.Context, cred auth.Credential, _ provider.Settings) (*provider.Usage, error) {
	oauth, ok := cred.(*auth.OAuth)
	if !ok || oauth.Access == "" {
		return nil, provider.NewError(provider.KindCredential, "copilot needs a GitHub OAuth token")
	}
	user, err := a.client.GetUser(ctx, oauth.Access)
	if err != nil {
		return nil, err
	}
	return buildUsage(user), nil
}

func buildUsage(u *userResponse) *provider.Usage {
	reset := u.QuotaResetDateUTC
	if reset == "" {
		reset = u.QuotaResetDate
	}
	resets := provider.ParseTime(reset)

	w := provider.NewRateWindow(Meta.Label(0, "Premium"), 0, resets)
	if p := u.QuotaSnapshots.PremiumInteractions; p != nil && !p.Unlimited {
		remaining := 100.0
		if p.PercentRemaining != nil {
			remaining = *p.PercentRemaining
		}
		w = provider.NewRateWindow(Meta.Label(0, "Premium"), provider.UsedFromRemaining(remaining), resets)
		if p.Entitlement > 0 {
			used := max(0, int(p.Entitlement)-int(p.Remaining))
			w.Label = fmt.Sprintf("Plan %d / %d reqs", used, int(p.Entitlement))
		}
	}

	return &provider.Usage{
		RateWindows:  []provider.RateWindow{w},
		PlanLabel:    planLabel(u.CopilotPlan),
		AccountEmail: u.Login,
	}
}

func planLabel(plan string) string {
	words := strings.Fields(strings.ReplaceAll(plan, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
