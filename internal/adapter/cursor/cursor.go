// Package cursor reports Cursor plan and on-demand usage through the
// cookie-authenticated dashboard API.
package cursor

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
	ID       = "cursor"
	StoreKey = "cursor"
)

var Meta = provider.Meta{
	ID:           ID,
	Name:         "Cursor",
	Category:     provider.CategorySubscription,
	Color:        "#00bfa5",
	WindowLabels: []string{"Plan", "On-Demand"},
}

var memberships = map[string]string{
	"pro":        "Cursor Pro",
	"hobby":      "Cursor Hobby",
	"enterprise": "Cursor Enterprise",
	"team":       "Cursor Team",
	"business":   "Cursor Business",
}

type Adapter struct {
	client *Client
	store  auth.Store
	log    log.FieldLogger
}

func NewAdapter(client *Client, store auth.Store, logger log.FieldLogger) *Adapter {
	return &Adapter{client: client, store: store, log: logging.OrDiscard(logger)}
}

func New(client *Client, store auth.Store, logger log.FieldLogger) *provider.Subscription {
	return provider.NewSubscription(provider.SubscriptionConfig{
		Meta:     Meta,
		StoreKey: StoreKey,
		Store:    store,
		Fetcher:  NewAdapter(client, store, logger),
		Log:      logger,
	})
}

func (a *Adapter) FetchUsage(ctx context.Context, cred auth.Credential, _ provider.Settings) (*provider.Usage, error) {
	cookie, ok := cred.(*auth.Cookie)
	if !ok || cookie.Cookie == "" {
		return nil, provider.NewError(provider.KindCredential, "cursor needs a session cookie")
	}

	summary, err := a.client.GetUsageSummary(ctx, cookie.Cookie)
	if err != nil {
		return nil, err
	}

	me, err := a.client.GetMe(ctx, cookie.Cookie)
	if err != nil {
		a.log.WithError(err).Debug("cursor auth/me failed")
		me = nil
	}
	var requests *requestUsage
	if me != nil && me.Sub != "" {
		if requests, err = a.client.GetRequestUsage(ctx, cookie.Cookie, me.Sub); err != nil {
			a.log.WithError(err).Debug("cursor request usage failed")
			requests = nil
		}
	}

	usage := buildUsage(summary, me, requests)
	if me != nil && me.Email != "" && cookie.Email == "" {
		a.backfillEmail(cookie, me.Email)
	}
	return usage, nil
}

func (a *Adapter) backfillEmail(cookie *auth.Cookie, email string) {
	updated := &auth.Cookie{Cookie: cookie.Cookie, Email: email}
	if err := a.store.Save(StoreKey, updated); err != nil {
		a.log.WithError(err).Warn("could not save cursor account email")
	}
}

func buildUsage(s *usageSummary, me *authMe, requests *requestUsage) *provider.Usage {
	resets := provider.ParseTime(s.BillingCycleEnd)
	var plan, onDemand *centsUsage
	if s.IndividualUsage != nil {
		plan, onDemand = s.IndividualUsage.Plan, s.IndividualUsage.OnDemand
	}

	var primary provider.RateWindow
	if used, limit, ok := requestCounts(requests); ok {
		pct := 0.0
		if limit > 0 {
			pct = float64(used) / float64(limit) * 100
		}
		primary = provider.NewRateWindow(fmt.Sprintf("Plan %d / %d reqs", used, limit), pct, resets)
	} else {
		primary = provider.NewRateWindow(Meta.Label(0, "Plan"), planPercent(plan), resets)
	}
	usage := &provider.Usage{RateWindows: []provider.RateWindow{primary}}

	if onDemand != nil {
		usedCents := number(onDemand.Used)
		limitCents := number(onDemand.Limit)
		if limitCents > 0 {
			usage.RateWindows = append(usage.RateWindows,
				provider.NewRateWindow(Meta.Label(1, "On-Demand"), usedCents/limitCents*100, resets))
		}
		if usedCents > 0 {
			usage.Cost = provider.NewCost(usedCents/100, provider.Ptr(limitCents/100))
		}
	}

	if s.MembershipType != "" {
		usage.PlanLabel = membershipLabel(s.MembershipType)
	}
	if me != nil {
		usage.AccountEmail = me.Email
	}
	return usage
}

// requestCounts reads legacy request-based plans. ok is false for
// dollar-based plans.
func requestCounts(r *requestUsage) (used, limit int, ok bool) {
	if r == nil || r.GPT4 == nil {
		return 0, 0, false
	}
	l, ok := provider.ToFloat(r.GPT4.MaxRequestUsage)
	if !ok {
		return 0, 0, false
	}
	u := number(r.GPT4.NumRequestsTotal)
	if u == 0 {
		u = number(r.GPT4.NumRequests)
	}
	return int(u), int(l), true
}

func planPercent(p *centsUsage) float64 {
	if p == nil {
		return 0
	}
	if limit := number(p.Limit); limit > 0 {
		return number(p.Used) / limit * 100
	}
	if raw, ok := provider.ToFloat(p.TotalPercentUsed); ok {
		if raw <= 1 {
			return raw * 100
		}
		return raw
	}
	return 0
}

func number(v any) float64 {
	f, _ := provider.ToFloat(v)
	return f
}

func membershipLabel(m string) string {
	if label, ok := memberships[strings.ToLower(m)]; ok {
		return label
	}
	return "Cursor " + strings.ToUpper(m[:1]) + strings.ToLower(m[1:])
}
