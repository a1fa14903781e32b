// Package codex reports ChatGPT/Codex plan quotas from the wham usage
// endpoint.
package codex

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
)

const (
	ID       = "codex"
	StoreKey = "openai-codex"
)

var Meta = provider.Meta{
	ID:             ID,
	Name:           "Codex",
	Category:       provider.CategorySubscription,
	DefaultEnabled: true,
	Color:          "#10a37f",
	WindowLabels:   []string{"Session (5h)", "Weekly"},
}

var planNames = map[string]string{
	"guest":          "Guest",
	"free":           "Free",
	"go":             "Go",
	"plus":           "Plus",
	"pro":            "Pro",
	"free_workspace": "Free Workspace",
	"team":           "Team",
	"business":       "Business",
	"education":      "Education",
	"edu":            "Edu",
	"enterprise":     "Enterprise",
}

type Adapter struct {
	client *Client
	now    func() time.Time
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client, now: time.Now}
}

func New(client *Client, store auth.Store, refresh *provider.RefreshCoordinator, logger log.FieldLogger) *provider.Subscription {
	return provider.NewSubscription(provider.SubscriptionConfig{
		Meta:      Meta,
		StoreKey:  StoreKey,
		Store:     store,
		Refresh:   refresh,
		Refresher: client,
		Fetcher:   NewAdapter(client),
		Log:       logger,
	})
}

func (a *Adapter) FetchUsage(ctx context.Context, cred auth.Credential, _ provider.Settings) (*provider.Usage, error) {
	oauth, ok := cred.(*auth.OAuth)
	if !ok {
		return nil, provider.NewError(provider.KindCredential, "codex needs an OAuth credential, got %s", cred.Kind())
	}

	raw, err := a.client.GetUsage(ctx, oauth.Access, oauth.ExtraValue("accountId"))
	if err != nil {
		return nil, err
	}
	usage, err := a.buildUsage(raw)
	if err != nil {
		return nil, err
	}
	usage.AccountEmail = oauth.ExtraValue("email")
	return usage, nil
}

func (a *Adapter) buildUsage(raw *whamUsageResponse) (*provider.Usage, error) {
	if raw.RateLimit == nil || raw.RateLimit.PrimaryWindow == nil || raw.RateLimit.PrimaryWindow.UsedPercent == nil {
		return nil, provider.ParseError("codex usage response has no primary rate window")
	}

	usage := &provider.Usage{
		RateWindows: []provider.RateWindow{a.window(Meta.Label(0, "Session"), raw.RateLimit.PrimaryWindow)},
		PlanLabel:   planLabel(raw.PlanType),
	}
	if w := raw.RateLimit.SecondaryWindow; w != nil && w.UsedPercent != nil {
		usage.RateWindows = append(usage.RateWindows, a.window(Meta.Label(1, "Weekly"), w))
	}
	if raw.Credits != nil {
		if balance, ok := provider.ToFloat(raw.Credits.Balance); ok {
			usage.CreditsRemaining = provider.Ptr(balance)
		}
	}
	return usage, nil
}

func (a *Adapter) window(label string, w *whamWindow) provider.RateWindow {
	var resets *time.Time
	switch {
	case w.ResetAt > 0:
		resets = provider.UnixTime(w.ResetAt)
	case w.ResetAfterSeconds > 0:
		t := a.now().UTC().Add(time.Duration(w.ResetAfterSeconds) * time.Second)
		resets = &t
	}
	rw := provider.NewRateWindow(label, *w.UsedPercent, resets)
	if w.LimitWindowSeconds > 0 {
		rw.WindowMinutes = provider.Ptr(int(w.LimitWindowSeconds / 60))
	}
	return rw
}

func planLabel(plan string) string {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		return ""
	}
	if name, ok := planNames[plan]; ok {
		return "ChatGPT " + name
	}
	return "ChatGPT " + strings.ToUpper(plan[:1]) + plan[1:]
}
