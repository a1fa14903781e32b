// Package claude reports Claude subscription quotas through the OAuth usage
// endpoint used by the Claude CLI.
package claude

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/provider"
)

const (
	ID       = "claude"
	StoreKey = "anthropic"
)

var Meta = provider.Meta{
	ID:             ID,
	Name:           "Claude",
	Category:       provider.CategorySubscription,
	DefaultEnabled: true,
	Color:          "#d4a27f",
	WindowLabels:   []string{"Session (5h)", "Weekly", "Sonnet"},
}

type Adapter struct {
	client *Client
	log    log.FieldLogger
}

func NewAdapter(client *Client, logger log.FieldLogger) *Adapter {
	return &Adapter{client: client, log: logging.OrDiscard(logger)}
}

// New wires the adapter into a subscription provider backed by store.
func New(client *Client, store auth.Store, refresh *provider.RefreshCoordinator, logger log.FieldLogger) *provider.Subscription {
	return provider.NewSubscription(provider.SubscriptionConfig{
		Meta:      Meta,
		StoreKey:  StoreKey,
		Store:     store,
		Refresh:   refresh,
		Refresher: client,
		Fetcher:   NewAdapter(client, logger),
		Log:       logger,
	})
}

func (a *Adapter) FetchUsage(ctx context.Context, cred auth.Credential, _ provider.Settings) (*provider.Usage, error) {
	oauth, ok := cred.(*auth.OAuth)
	if !ok {
		return nil, provider.NewError(provider.KindCredential, "claude needs an OAuth credential, got %s", cred.Kind())
	}

	raw, err := a.client.GetUsage(ctx, oauth.Access)
	if err != nil {
		return nil, err
	}
	usage, err := buildUsage(raw)
	if err != nil {
		return nil, err
	}

	// Plan and email are decoration; the quota is still worth showing without them.
	profile, err := a.client.GetProfile(ctx, oauth.Access)
	if err != nil {
		a.log.WithError(err).Debug("claude profile lookup failed")
		return usage, nil
	}
	usage.PlanLabel = planLabel(profile)
	if profile.Account != nil {
		usage.AccountEmail = profile.Account.Email
	}
	return usage, nil
}

func buildUsage(raw *usageResponse) (*provider.Usage, error) {
	if raw.FiveHour == nil || raw.FiveHour.Utilization == nil {
		return nil, provider.ParseError("claude usage response has no five_hour utilization")
	}

	windows := []provider.RateWindow{window(Meta.Label(0, "Session"), raw.FiveHour, 300)}
	if raw.SevenDay != nil && raw.SevenDay.Utilization != nil {
		windows = append(windows, window(Meta.Label(1, "Weekly"), raw.SevenDay, 7*24*60))
	}
	switch {
	case raw.SevenDaySonnet != nil && raw.SevenDaySonnet.Utilization != nil:
		windows = append(windows, window(Meta.Label(2, "Sonnet"), raw.SevenDaySonnet, 7*24*60))
	case raw.SevenDayOpus != nil && raw.SevenDayOpus.Utilization != nil:
		windows = append(windows, window("Opus", raw.SevenDayOpus, 7*24*60))
	}

	usage := &provider.Usage{RateWindows: windows}
	if x := raw.ExtraUsage; x != nil && x.IsEnabled && x.UsedCredits != nil {
		var budget *float64
		if x.MonthlyLimit != nil {
			budget = provider.Ptr(*x.MonthlyLimit / 100)
		}
		usage.Cost = provider.NewCost(*x.UsedCredits/100, budget)
		if x.Currency != "" {
			usage.Cost.Currency = strings.ToUpper(x.Currency)
		}
	}
	return usage, nil
}

func window(label string, w *usageWindow, minutes int) provider.RateWindow {
	rw := provider.NewRateWindow(label, *w.Utilization, provider.ParseTime(w.ResetsAt))
	rw.WindowMinutes = provider.Ptr(minutes)
	return rw
}

func planLabel(p *profileResponse) string {
	if p.Account != nil {
		switch {
		case p.Account.HasClaudeMax:
			return "Claude Max"
		case p.Account.HasClaudePro:
			return "Claude Pro"
		}
	}
	if p.Organization == nil {
		return ""
	}
	hint := strings.ToLower(p.Organization.OrganizationType + " " + p.Organization.RateLimitTier)
	for _, tier := range []string{"max", "pro", "team", "enterprise"} {
		if strings.Contains(hint, tier) {
			return fmt.Sprintf("Claude %s", strings.ToUpper(tier[:1])+tier[1:])
		}
	}
	if strings.Contains(strings.ToLower(p.Organization.BillingType), "stripe") {
		return "Claude Pro"
	}
	return ""
}
