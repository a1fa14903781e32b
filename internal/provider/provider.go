package provider

import (
	"context"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/logging"
)

// Provider is implemented by *Subscription and *API only.
type Provider interface {
	Meta() Meta
	Invoke(ctx context.Context, settings Settings) Result
	variant() Category
}

// SubscriptionFetcher performs the backend-specific part of a subscription
// fetch with an already valid credential.
type SubscriptionFetcher interface {
	FetchUsage(ctx context.Context, cred auth.Credential, settings Settings) (*Usage, error)
}

type SubscriptionFetchFunc func(ctx context.Context, cred auth.Credential, settings Settings) (*Usage, error)

func (f SubscriptionFetchFunc) FetchUsage(ctx context.Context, cred auth.Credential, settings Settings) (*Usage, error) {
	return f(ctx, cred, settings)
}

type SubscriptionConfig struct {
	Meta     Meta
	StoreKey string
	Store    auth.Store
	// Refresh and Refresher are nil for credentials that never refresh.
	Refresh   *RefreshCoordinator
	Refresher TokenRefresher
	Fetcher   SubscriptionFetcher
	Log       log.FieldLogger
}

// Subscription tracks percentage-of-quota usage behind an OAuth token or a
// session cookie.
type Subscription struct {
	meta      Meta
	storeKey  string
	store     auth.Store
	refresh   *RefreshCoordinator
	refresher TokenRefresher
	fetcher   SubscriptionFetcher
	log       log.FieldLogger
	now       func() time.Time
}

func NewSubscription(cfg SubscriptionConfig) *Subscription {
	key := cfg.StoreKey
	if key == "" {
		key = cfg.Meta.ID
	}
	cfg.Meta.Category = CategorySubscription
	return &Subscription{
		meta:      cfg.Meta,
		storeKey:  key,
		store:     cfg.Store,
		refresh:   cfg.Refresh,
		refresher: cfg.Refresher,
		fetcher:   cfg.Fetcher,
		log:       logging.OrDiscard(cfg.Log).WithField("provider", cfg.Meta.ID),
		now:       time.Now,
	}
}

func (s *Subscription) Meta() Meta        { return s.meta }
func (s *Subscription) StoreKey() string  { return s.storeKey }
func (s *Subscription) variant() Category { return CategorySubscription }

func (s *Subscription) Invoke(ctx context.Context, settings Settings) Result {
	res := newResult(s.meta)

	cred, err := s.credentials(ctx)
	if err != nil {
		return s.fail(res, err)
	}
	res.Source = sourceOf(cred)

	usage, err := s.fetcher.FetchUsage(ctx, cred, settings)
	if err != nil {
		if IsKind(err, KindAuth) {
			s.clearRejected()
		}
		return s.fail(res, err)
	}

	res.apply(usage)
	res.CostIsPrimaryDisplay = false
	res.FetchedAt = s.now()
	return res
}

// credentials loads the stored credential, refreshing OAuth tokens that are
// close to expiry.
func (s *Subscription) credentials(ctx context.Context) (auth.Credential, error) {
	cred, ok, err := s.store.Load(s.storeKey)
	if err != nil {
		return nil, WrapError(KindStore, err, "read credentials")
	}
	if !ok {
		return nil, NewError(KindCredential, "not logged in; run `llmeter login %s`", s.meta.ID)
	}

	oauth, isOAuth := cred.(*auth.OAuth)
	if !isOAuth || s.refresh == nil {
		return cred, nil
	}
	fresh, err := s.refresh.Ensure(ctx, s.storeKey, oauth, s.refresher)
	if err != nil {
		if IsKind(err, KindCredential) {
			return nil, NewError(KindCredential, "not logged in; run `llmeter login %s`", s.meta.ID)
		}
		return nil, err
	}
	return fresh, nil
}

func (s *Subscription) clearRejected() {
	if err := s.store.Clear(s.storeKey); err != nil {
		s.log.Errorf("failed to clear rejected credentials: %v", err)
		return
	}
	s.log.Info("backend rejected credentials, cleared them")
}

func (s *Subscription) fail(res Result, err error) Result {
	s.log.WithField("kind", KindOf(err)).Debugf("fetch failed: %v", err)
	res.Error = Info(err)
	res.FetchedAt = s.now()
	return res
}

// APIFetcher performs the backend-specific part of an API spend fetch. It
// must report a cost.
type APIFetcher interface {
	FetchSpend(ctx context.Context, apiKey string, settings Settings) (*Usage, error)
}

type APIFetchFunc func(ctx context.Context, apiKey string, settings Settings) (*Usage, error)

func (f APIFetchFunc) FetchSpend(ctx context.Context, apiKey string, settings Settings) (*Usage, error) {
	return f(ctx, apiKey, settings)
}

type APIConfig struct {
	Meta Meta
	// EnvKeys are consulted in order after the api_key setting.
	EnvKeys  []string
	StoreKey string
	Store    auth.Store
	Fetcher  APIFetcher
	Log      log.FieldLogger
}

// API tracks dollar spend behind a static key.
type API struct {
	meta     Meta
	envKeys  []string
	storeKey string
	store    auth.Store
	fetcher  APIFetcher
	log      log.FieldLogger
	now      func() time.Time
	getenv   func(string) string
}

func NewAPI(cfg APIConfig) *API {
	key := cfg.StoreKey
	if key == "" {
		key = cfg.Meta.ID
	}
	cfg.Meta.Category = CategoryAPI
	return &API{
		meta:     cfg.Meta,
		envKeys:  cfg.EnvKeys,
		storeKey: key,
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		log:      logging.OrDiscard(cfg.Log).WithField("provider", cfg.Meta.ID),
		now:      time.Now,
		getenv:   os.Getenv,
	}
}

func (a *API) Meta() Meta        { return a.meta }
func (a *API) StoreKey() string  { return a.storeKey }
func (a *API) variant() Category { return CategoryAPI }

type keySource int

const (
	keyFromSettings keySource = iota
	keyFromEnv
	keyFromStore
)

func (a *API) Invoke(ctx context.Context, settings Settings) Result {
	res := newResult(a.meta)
	res.Source = SourceAPI
	res.CostIsPrimaryDisplay = true

	key, from, err := a.resolveKey(settings)
	if err != nil {
		return a.fail(res, err)
	}

	usage, err := a.fetcher.FetchSpend(ctx, key, settings)
	if err == nil && (usage == nil || usage.Cost == nil) {
		err = ParseError("response carried no spend figure")
	}
	if err != nil {
		if IsKind(err, KindAuth) && from == keyFromStore {
			if cerr := a.store.Clear(a.storeKey); cerr != nil {
				a.log.Errorf("failed to clear rejected key: %v", cerr)
			} else {
				a.log.Info("backend rejected stored key, cleared it")
			}
		}
		return a.fail(res, err)
	}

	res.apply(usage)
	res.Source = SourceAPI
	res.CostIsPrimaryDisplay = true
	res.FetchedAt = a.now()
	return res
}

// resolveKey prefers the api_key setting, then the environment, then the
// store.
func (a *API) resolveKey(settings Settings) (string, keySource, error) {
	if k := settings.String("api_key"); k != "" {
		return k, keyFromSettings, nil
	}
	for _, name := range a.envKeys {
		if k := strings.TrimSpace(a.getenv(name)); k != "" {
			return k, keyFromEnv, nil
		}
	}
	if a.store != nil {
		cred, ok, err := a.store.Load(a.storeKey)
		if err != nil {
			return "", 0, WrapError(KindStore, err, "read credentials")
		}
		if k, isKey := cred.(*auth.APIKey); ok && isKey && strings.TrimSpace(k.Key) != "" {
			return strings.TrimSpace(k.Key), keyFromStore, nil
		}
	}

	hint := "add api_key to settings"
	if len(a.envKeys) > 0 {
		hint = "set " + a.envKeys[0] + " or " + hint
	}
	return "", 0, NewError(KindCredential, "%s API key not configured; %s", a.meta.ID, hint)
}

func (a *API) fail(res Result, err error) Result {
	a.log.WithField("kind", KindOf(err)).Debugf("fetch failed: %v", err)
	res.Error = Info(err)
	res.FetchedAt = a.now()
	return res
}

// SpendWindows returns the budget window for an API provider, or none when
// no budget is configured.
func SpendWindows(meta Meta, cost *CostInfo) []RateWindow {
	if cost == nil || cost.BudgetUSD == nil || *cost.BudgetUSD <= 0 {
		return []RateWindow{}
	}
	return []RateWindow{NewRateWindow(meta.Label(0, "Spend"), cost.Percent(), nil)}
}

// Budget reads the monthly_budget setting.
func Budget(settings Settings) *float64 {
	if v, ok := settings.Float("monthly_budget"); ok && v > 0 {
		return Ptr(v)
	}
	return nil
}

// CurrentMonth returns the UTC calendar month containing now as [start, end).
func CurrentMonth(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MonthlySpendWindows is SpendWindows with the window pinned to the
// calendar month containing now.
func MonthlySpendWindows(meta Meta, cost *CostInfo, now time.Time) []RateWindow {
	windows := SpendWindows(meta, cost)
	start, end := CurrentMonth(now)
	for i := range windows {
		windows[i].ResetsAt = &end
		windows[i].WindowMinutes = Ptr(int(end.Sub(start).Minutes()))
	}
	return windows
}

func newResult(meta Meta) Result {
	return Result{
		ProviderID:  meta.ID,
		DisplayName: meta.Name,
		RateWindows: []RateWindow{},
	}
}

func (r *Result) apply(u *Usage) {
	if u == nil {
		return
	}
	if u.RateWindows != nil {
		r.RateWindows = u.RateWindows
	}
	r.Cost = u.Cost
	r.PlanLabel = u.PlanLabel
	r.AccountEmail = u.AccountEmail
	r.CreditsRemaining = u.CreditsRemaining
}

func sourceOf(c auth.Credential) Source {
	if c.Kind() == auth.KindCookie {
		return SourceCookie
	}
	return SourceOAuth
}
