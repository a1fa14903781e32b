package cursor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

func newTestClient(server *httptest.Server) *Client {
	client := NewClient(transport.NewHTTPClient(5*time.Second, nil))
	client.baseURL = server.URL
	return client
}

func TestInvoke_DollarPlanAndEmailBackfill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "WorkosCursorSessionToken=abc" {
			t.Errorf("unexpected cookie: %q", r.Header.Get("Cookie"))
		}
		switch r.URL.Path {
		case "/api/usage-summary":
			w.Write([]byte(`{
				"billingCycleEnd": "2025-07-01T00:00:00.000Z",
				"membershipType": "pro",
				"individualUsage": {
					"plan": {"used": 1000, "limit": 2000},
					"onDemand": {"used": "250", "limit": 1000}
				}
			}`))
		case "/api/auth/me":
			w.Write([]byte(`{"email": "c@example.com", "sub": "user_1"}`))
		case "/api/usage":
			if r.URL.Query().Get("user") != "user_1" {
				t.Errorf("unexpected user query: %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	store := auth.NewMemoryStore()
	store.Save(StoreKey, &auth.Cookie{Cookie: "WorkosCursorSessionToken=abc"})

	res := New(newTestClient(server), store, nil).Invoke(context.Background(), nil)
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if res.Source != provider.SourceCookie {
		t.Errorf("unexpected source: %s", res.Source)
	}
	if len(res.RateWindows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(res.RateWindows))
	}
	if res.RateWindows[0].Label != "Plan" || res.RateWindows[0].UsedPercent != 50 {
		t.Errorf("unexpected plan window: %+v", res.RateWindows[0])
	}
	if res.RateWindows[1].Label != "On-Demand" || res.RateWindows[1].UsedPercent != 25 {
		t.Errorf("unexpected on-demand window: %+v", res.RateWindows[1])
	}
	if res.Cost == nil || res.Cost.AmountUSD != 2.5 || *res.Cost.BudgetUSD != 10 {
		t.Errorf("unexpected cost: %+v", res.Cost)
	}
	if res.PlanLabel != "Cursor Pro" || res.AccountEmail != "c@example.com" {
		t.Errorf("unexpected identity: %q %q", res.PlanLabel, res.AccountEmail)
	}

	cred, ok, _ := store.Load(StoreKey)
	if !ok || cred.(*auth.Cookie).Email != "c@example.com" {
		t.Errorf("email was not written back: %#v", cred)
	}
}

func TestBuildUsage_RequestPlan(t *testing.T) {
	s := &usageSummary{MembershipType: "ultra"}
	requests := &requestUsage{GPT4: &modelRequests{NumRequestsTotal: float64(120), MaxRequestUsage: float64(500)}}
	usage := buildUsage(s, &authMe{Email: "x@example.com"}, requests)

	if len(usage.RateWindows) != 1 {
		t.Fatalf("expected one window, got %d", len(usage.RateWindows))
	}
	if w := usage.RateWindows[0]; w.Label != "Plan 120 / 500 reqs" || w.UsedPercent != 24 {
		t.Errorf("unexpected window: %+v", w)
	}
	if usage.PlanLabel != "Cursor Ultra" {
		t.Errorf("unexpected plan: %q", usage.PlanLabel)
	}
	if usage.Cost != nil {
		t.Errorf("no on-demand spend means no cost, got %+v", usage.Cost)
	}
}

func TestPlanPercent(t *testing.T) {
	tests := []struct {
		plan *centsUsage
		want float64
	}{
		{nil, 0},
		{&centsUsage{Used: 300.0, Limit: 600.0}, 50},
		{&centsUsage{TotalPercentUsed: 0.42}, 42},
		{&centsUsage{TotalPercentUsed: 42.0}, 42},
		{&centsUsage{TotalPercentUsed: "bad"}, 0},
	}
	for _, tt := range tests {
		if got := planPercent(tt.plan); got < tt.want-0.001 || got > tt.want+0.001 {
			t.Errorf("planPercent(%+v) = %v, want %v", tt.plan, got, tt.want)
		}
	}
}

func TestInvoke_ExpiredSessionClearsCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	store := auth.NewMemoryStore()
	store.Save(StoreKey, &auth.Cookie{Cookie: "x=y"})

	res := New(newTestClient(server), store, nil).Invoke(context.Background(), nil)
	if res.Error == nil || res.Error.Kind != provider.KindAuth {
		t.Fatalf("expected auth error, got %+v", res.Error)
	}
	if _, ok, _ := store.Load(StoreKey); ok {
		t.Error("expired cookie should be cleared")
	}
}

func TestInvoke_SupplementaryFailuresIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/usage-summary" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"individualUsage": {"plan": {"totalPercentUsed": 0.1}}}`))
	}))
	defer server.Close()

	store := auth.NewMemoryStore()
	store.Save(StoreKey, &auth.Cookie{Cookie: "x=y"})

	res := New(newTestClient(server), store, nil).Invoke(context.Background(), nil)
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if len(res.RateWindows) != 1 || res.RateWindows[0].UsedPercent < 9.99 || res.RateWindows[0].UsedPercent > 10.01 {
		t.Errorf("unexpected windows: %+v", res.RateWindows)
	}
}

func TestLogin_NormalizesCookie(t *testing.T) {
	tests := map[string]string{
		"abc123\n":                       "WorkosCursorSessionToken=abc123",
		"Cookie: a=b; WorkosCursor=c\n":  "a=b; WorkosCursor=c",
		"WorkosCursorSessionToken=zzz\n": "WorkosCursorSessionToken=zzz",
	}
	for in, want := range tests {
		p := login.NewScriptedPrompter(strings.NewReader(in), &strings.Builder{})
		cred, err := NewLogin().Login(context.Background(), p)
		if err != nil {
			t.Fatalf("Login(%q) failed: %v", in, err)
		}
		if got := cred.(*auth.Cookie).Cookie; got != want {
			t.Errorf("Login(%q) = %q, want %q", in, got, want)
		}
	}

	p := login.NewScriptedPrompter(strings.NewReader("\n"), &strings.Builder{})
	if _, err := NewLogin().Login(context.Background(), p); err == nil {
		t.Error("empty cookie should fail")
	}
}
