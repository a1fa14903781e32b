// Package gemini reports Gemini CLI daily quotas from the Cloud Code
// private API.
package gemini

import (
	"context"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/provider"
)

const (
	ID       = "gemini"
	StoreKey = "google-gemini-cli"
)

var Meta = provider.Meta{
	ID:           ID,
	Name:         "Gemini",
	Category:     provider.CategorySubscription,
	Color:        "#ab87ea",
	WindowLabels: []string{"Pro (24h)", "Flash (24h)"},
}

var tierPlans = map[string]string{
	"standard-tier": "Paid",
	"free-tier":     "Free",
	"legacy-tier":   "Legacy",
}

type Adapter struct {
	client *Client
	log    log.FieldLogger
}

func NewAdapter(client *Client, logger log.FieldLogger) *Adapter {
	return &Adapter{client: client, log: logging.OrDiscard(logger)}
}

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
		return nil, provider.NewError(provider.KindCredential, "gemini needs an OAuth credential, got %s", cred.Kind())
	}

	// Tier and project discovery are best effort; quota works without a project.
	var tierID string
	project := oauth.ExtraValue("projectId")
	lca, err := a.client.LoadCodeAssist(ctx, oauth.Access, loadCodeAssistRequest{
		Metadata: codeAssistMetadata{IDEType: "GEMINI_CLI", PluginType: "GEMINI"},
	})
	if err != nil {
		a.log.WithError(err).Debug("gemini loadCodeAssist failed")
	} else {
		if lca.CurrentTier != nil {
			tierID = lca.CurrentTier.ID
		}
		if project == "" {
			project = projectID(lca.Project)
		}
	}

	quota, err := a.client.RetrieveQuota(ctx, oauth.Access, project)
	if err != nil {
		return nil, err
	}
	usage, err := buildUsage(quota)
	if err != nil {
		return nil, err
	}
	usage.PlanLabel = tierPlans[tierID]
	usage.AccountEmail = oauth.ExtraValue("email")
	return usage, nil
}

// buildUsage keeps the lowest remaining fraction per model, then reports the
// worst pro model and the worst flash model.
func buildUsage(q *quotaResponse) (*provider.Usage, error) {
	if len(q.Buckets) == 0 {
		return nil, provider.ParseError("gemini quota response has no buckets")
	}

	worst := make(map[string]quotaBucket)
	for _, b := range q.Buckets {
		if b.ModelID == "" || b.RemainingFraction == nil {
			continue
		}
		if cur, ok := worst[b.ModelID]; !ok || *b.RemainingFraction < *cur.RemainingFraction {
			worst[b.ModelID] = b
		}
	}
	models := make([]string, 0, len(worst))
	for id := range worst {
		models = append(models, id)
	}
	sort.Strings(models)

	usage := &provider.Usage{RateWindows: []provider.RateWindow{}}
	for i, family := range []string{"pro", "flash"} {
		var pick *quotaBucket
		for _, id := range models {
			if !strings.Contains(strings.ToLower(id), family) {
				continue
			}
			b := worst[id]
			if pick == nil || *b.RemainingFraction < *pick.RemainingFraction {
				pick = &b
			}
		}
		if pick == nil {
			continue
		}
		rw := provider.NewRateWindow(Meta.Label(i, family), provider.UsedFromRemaining(*pick.RemainingFraction*100), provider.ParseTime(pick.ResetTime))
		rw.WindowMinutes = provider.Ptr(24 * 60)
		usage.RateWindows = append(usage.RateWindows, rw)
	}
	return usage, nil
}
