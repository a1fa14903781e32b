package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/llmeter/internal/config"
	"github.com/user/llmeter/internal/provider"
)

func newTestServer(t *testing.T, calls *atomic.Int32) *Server {
	t.Helper()
	registry := provider.NewRegistry(nil)
	for _, id := range []string{"alpha-api", "beta-api", "gamma-api"} {
		err := registry.Register(provider.NewAPI(provider.APIConfig{
			Meta: provider.Meta{ID: id, Name: id},
			Fetcher: provider.APIFetchFunc(func(ctx context.Context, key string, s provider.Settings) (*provider.Usage, error) {
				calls.Add(1)
				return &provider.Usage{Cost: provider.NewCost(12.5, nil)}, nil
			}),
		}))
		if err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{ID: "beta-api", Enabled: true, Settings: map[string]any{"api_key": "k1"}},
			{ID: "alpha-api", Enabled: true, Settings: map[string]any{"api_key": "k2"}},
			{ID: "gamma-api"},
		},
		RefreshInterval: time.Minute,
		Timeout:         5 * time.Second,
	}
	return NewServer(registry, cfg, "127.0.0.1:0", nil)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	var calls atomic.Int32
	rec := get(t, newTestServer(t, &calls).Handler(), "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}
}

func TestUsage_CachesResults(t *testing.T) {
	var calls atomic.Int32
	h := newTestServer(t, &calls).Handler()

	rec := get(t, h, "/api/v1/usage")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected MISS, got %q", rec.Header().Get("X-Cache"))
	}

	var results []provider.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 || results[0].ProviderID != "beta-api" || results[1].ProviderID != "alpha-api" {
		t.Fatalf("results should follow settings order: %+v", results)
	}
	if results[0].Cost == nil || results[0].Cost.AmountUSD != 12.5 {
		t.Errorf("unexpected cost: %+v", results[0].Cost)
	}

	rec = get(t, h, "/api/v1/usage")
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected HIT on second request, got %q", rec.Header().Get("X-Cache"))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected one fetch per enabled provider, got %d", n)
	}
}

func TestUsage_EnabledSetChangeRefetches(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer(t, &calls)
	h := s.Handler()

	get(t, h, "/api/v1/usage")
	s.config.Providers[2] = config.ProviderConfig{ID: "gamma-api", Enabled: true, Settings: map[string]any{"api_key": "k3"}}

	rec := get(t, h, "/api/v1/usage")
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected MISS after enabling a provider, got %q", rec.Header().Get("X-Cache"))
	}
	var results []provider.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 3 || results[2].ProviderID != "gamma-api" {
		t.Fatalf("expected the newly enabled provider: %+v", results)
	}
}

func TestUsage_ProviderFilter(t *testing.T) {
	var calls atomic.Int32
	h := newTestServer(t, &calls).Handler()

	rec := get(t, h, "/api/v1/usage?provider=alpha-api")
	var results []provider.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].ProviderID != "alpha-api" {
		t.Fatalf("unexpected filtered results: %+v", results)
	}

	rec = get(t, h, "/api/v1/usage?provider=nope")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown provider, got %d", rec.Code)
	}
}

func TestCache_Expires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }
	ids := []string{"x"}

	if _, _, ok := c.Get(ids); ok {
		t.Fatal("empty cache must miss")
	}
	c.Set(ids, []provider.Result{{ProviderID: "x"}})
	now = now.Add(30 * time.Second)
	if _, age, ok := c.Get(ids); !ok || age != 30*time.Second {
		t.Fatalf("fresh entry must hit with its age, got %v %v", age, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, _, ok := c.Get(ids); ok {
		t.Fatal("stale entry must miss")
	}
}

func TestCache_KeyedByEnabledSet(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set([]string{"x"}, []provider.Result{{ProviderID: "x"}})

	if _, _, ok := c.Get([]string{"x", "y"}); ok {
		t.Fatal("a different enabled set must miss")
	}
	c.Set([]string{"x", "y"}, []provider.Result{{ProviderID: "x"}, {ProviderID: "y"}})
	if res, _, ok := c.Get([]string{"x", "y"}); !ok || len(res) != 2 {
		t.Fatalf("expected the new set's results, got %+v %v", res, ok)
	}
	if _, _, ok := c.Get([]string{"x"}); ok {
		t.Fatal("results for the previous set must be dropped")
	}
}

func TestProviders(t *testing.T) {
	var calls atomic.Int32
	rec := get(t, newTestServer(t, &calls).Handler(), "/api/v1/providers")

	var infos []struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Enabled  bool   `json:"enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(infos))
	}
	if infos[0].ID != "alpha-api" || !infos[0].Enabled || infos[0].Category != "api" {
		t.Errorf("unexpected first provider: %+v", infos[0])
	}
	if infos[2].ID != "gamma-api" || infos[2].Enabled {
		t.Errorf("gamma-api should be listed disabled: %+v", infos[2])
	}
	if calls.Load() != 0 {
		t.Error("listing providers must not fetch")
	}
}
