package claude

import (
	"context"
	"encoding/json"
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
	client.tokenURL = server.URL + "/v1/oauth/token"
	return client
}

func TestFetchUsage_FullResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("anthropic-beta") != betaHeader {
			t.Errorf("missing beta header")
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/oauth/usage":
			w.Write([]byte(`{
				"five_hour": {"utilization": 42.5, "resets_at": "2025-06-01T12:00:00.000000+00:00"},
				"seven_day": {"utilization": 10, "resets_at": "2025-06-05T00:00:00Z"},
				"seven_day_sonnet": {"utilization": 130},
				"extra_usage": {"is_enabled": true, "used_credits": 1234, "monthly_limit": 5000}
			}`))
		case "/api/oauth/profile":
			w.Write([]byte(`{"account": {"email": "dev@example.com", "has_claude_max": true}}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	a := NewAdapter(newTestClient(server), nil)
	usage, err := a.FetchUsage(context.Background(), &auth.OAuth{Access: "tok"}, nil)
	if err != nil {
		t.Fatalf("FetchUsage failed: %v", err)
	}

	if len(usage.RateWindows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(usage.RateWindows))
	}
	session := usage.RateWindows[0]
	if session.Label != "Session (5h)" || session.UsedPercent != 42.5 {
		t.Errorf("unexpected session window: %+v", session)
	}
	if session.WindowMinutes == nil || *session.WindowMinutes != 300 {
		t.Errorf("session window should be 300 minutes")
	}
	if session.ResetsAt == nil || session.ResetsAt.Hour() != 12 {
		t.Errorf("unexpected reset: %v", session.ResetsAt)
	}
	if usage.RateWindows[2].Label != "Sonnet" || usage.RateWindows[2].UsedPercent != 100 {
		t.Errorf("sonnet window not clamped: %+v", usage.RateWindows[2])
	}
	if usage.Cost == nil || usage.Cost.AmountUSD != 12.34 || usage.Cost.BudgetUSD == nil || *usage.Cost.BudgetUSD != 50 {
		t.Errorf("unexpected cost: %+v", usage.Cost)
	}
	if usage.PlanLabel != "Claude Max" || usage.AccountEmail != "dev@example.com" {
		t.Errorf("unexpected identity: %q %q", usage.PlanLabel, usage.AccountEmail)
	}
}

func TestFetchUsage_OpusFallbackAndProfileFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/oauth/profile" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"five_hour": {"utilization": 1}, "seven_day_opus": {"utilization": 5}}`))
	}))
	defer server.Close()

	usage, err := NewAdapter(newTestClient(server), nil).FetchUsage(context.Background(), &auth.OAuth{Access: "tok"}, nil)
	if err != nil {
		t.Fatalf("profile failure must not fail the fetch: %v", err)
	}
	if len(usage.RateWindows) != 2 || usage.RateWindows[1].Label != "Opus" {
		t.Fatalf("unexpected windows: %+v", usage.RateWindows)
	}
	if usage.PlanLabel != "" || usage.Cost != nil {
		t.Errorf("expected no plan or cost, got %q %+v", usage.PlanLabel, usage.Cost)
	}
}

func TestFetchUsage_MissingSessionIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"seven_day": {"utilization": 3}}`))
	}))
	defer server.Close()

	_, err := NewAdapter(newTestClient(server), nil).FetchUsage(context.Background(), &auth.OAuth{Access: "tok"}, nil)
	if !provider.IsKind(err, provider.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestFetchUsage_UnauthorizedIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewAdapter(newTestClient(server), nil).FetchUsage(context.Background(), &auth.OAuth{Access: "tok"}, nil)
	if !provider.IsKind(err, provider.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestPlanLabel_Inference(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"account": {"has_claude_pro": true}}`, "Claude Pro"},
		{`{"organization": {"organization_type": "claude_team"}}`, "Claude Team"},
		{`{"organization": {"rate_limit_tier": "default_claude_max_20x"}}`, "Claude Max"},
		{`{"organization": {"billing_type": "stripe_subscription"}}`, "Claude Pro"},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var p profileResponse
		if err := json.Unmarshal([]byte(tt.body), &p); err != nil {
			t.Fatal(err)
		}
		if got := planLabel(&p); got != tt.want {
			t.Errorf("planLabel(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.GrantType != "refresh_token" || req.RefreshToken != "old-refresh" || req.ClientID != clientID {
			t.Errorf("unexpected refresh request: %+v", req)
		}
		w.Write([]byte(`{"access_token": "new", "refresh_token": "rotated", "expires_in": 7200}`))
	}))
	defer server.Close()

	tok, err := newTestClient(server).RefreshToken(context.Background(), &auth.OAuth{Refresh: "old-refresh"})
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if tok.Access != "new" || tok.Refresh != "rotated" || tok.ExpiresIn != 2*time.Hour {
		t.Errorf("unexpected token: %+v", tok)
	}
}

func TestLogin_PastedCode(t *testing.T) {
	var exchanged exchangeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&exchanged)
		w.Write([]byte(`{"access_token": "acc", "refresh_token": "ref", "expires_in": 3600}`))
	}))
	defer server.Close()

	l := NewLogin(newTestClient(server))
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	var out strings.Builder
	p := &pastePrompter{out: &out}
	cred, err := l.Login(context.Background(), p)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if !strings.Contains(p.opened, "code_challenge_method=S256") || !strings.Contains(p.opened, "code=true") {
		t.Errorf("unexpected authorize URL: %s", p.opened)
	}
	if exchanged.Code != "the-code" || exchanged.CodeVerifier == "" || exchanged.GrantType != "authorization_code" {
		t.Errorf("unexpected exchange: %+v", exchanged)
	}
	oauth, ok := cred.(*auth.OAuth)
	if !ok || oauth.Access != "acc" || oauth.Refresh != "ref" {
		t.Fatalf("unexpected credential: %#v", cred)
	}
	if oauth.ExpiresAtMs != now.Add(time.Hour).UnixMilli() {
		t.Errorf("unexpected expiry: %d", oauth.ExpiresAtMs)
	}
}

func TestLogin_StateMismatch(t *testing.T) {
	l := NewLogin(NewClient(transport.Func(func(ctx context.Context, method, url string, headers map[string]string, body []byte) (*transport.Response, error) {
		t.Fatal("exchange must not run")
		return nil, nil
	})))
	p := &pastePrompter{out: &strings.Builder{}, paste: "code#wrong-state"}
	if _, err := l.Login(context.Background(), p); err == nil {
		t.Fatal("expected state mismatch error")
	}
}

// pastePrompter answers with code#<state from the opened URL> unless paste
// is set.
type pastePrompter struct {
	out    *strings.Builder
	opened string
	paste  string
}

var _ login.Prompter = (*pastePrompter)(nil)

func (p *pastePrompter) Printf(format string, args ...any)   {}
func (p *pastePrompter) Secret(label string) (string, error) { return p.Prompt(label) }
func (p *pastePrompter) OpenBrowser(u string)                { p.opened = u }

func (p *pastePrompter) Prompt(string) (string, error) {
	if p.paste != "" {
		return p.paste, nil
	}
	i := strings.Index(p.opened, "state=")
	state := p.opened[i+len("state="):]
	if j := strings.Index(state, "&"); j >= 0 {
		state = state[:j]
	}
	return "the-code#" + state, nil
}
