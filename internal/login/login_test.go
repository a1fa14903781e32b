package login

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/llmeter/internal/auth"
)

func TestNewPKCE(t *testing.T) {
	p, err := NewPKCE()
	if err != nil {
		t.Fatalf("NewPKCE failed: %v", err)
	}
	if len(p.Verifier) != 43 {
		t.Errorf("expected 43-char verifier, got %d", len(p.Verifier))
	}
	if p.Challenge != pkceS256(p.Verifier) {
		t.Error("challenge must be S256 of the verifier")
	}
	// RFC 7636 appendix B
	if got := pkceS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"); got != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Errorf("unexpected challenge %s", got)
	}
	if NewState() == NewState() {
		t.Error("states must be unique")
	}
}

func TestParsePasted(t *testing.T) {
	tests := []struct {
		in, code, state string
	}{
		{"abc#xyz", "abc", "xyz"},
		{"  abc  ", "abc", ""},
		{"http://localhost:1455/auth/callback?code=c1&state=s1", "c1", "s1"},
		{"code=c2&state=s2", "c2", "s2"},
		{"", "", ""},
	}
	for _, tt := range tests {
		code, state := ParsePasted(tt.in)
		if code != tt.code || state != tt.state {
			t.Errorf("ParsePasted(%q) = %q, %q; want %q, %q", tt.in, code, state, tt.code, tt.state)
		}
	}
}

func TestCallbackListener_AcceptsMatchingState(t *testing.T) {
	l, err := Listen("127.0.0.1:0", "/auth/callback", "good")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	base := "http://" + l.Addr() + "/auth/callback"

	done := make(chan struct{})
	var code string
	var werr error
	go func() {
		defer close(done)
		code, werr = l.Wait(context.Background())
	}()

	resp, err := http.Get(base + "?code=c&state=bad")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for state mismatch, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "?code=the-code&state=good")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Login successful") {
		t.Fatalf("unexpected page: %s", body)
	}

	<-done
	if werr != nil || code != "the-code" {
		t.Fatalf("expected code, got %q %v", code, werr)
	}

	fresh := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	if _, err := fresh.Get(base + "?code=x&state=good"); err == nil {
		t.Fatal("listener must release its port after one callback")
	}
}

func TestCallbackListener_Timeout(t *testing.T) {
	l, err := Listen("127.0.0.1:0", "/cb", "s")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := l.Wait(ctx); !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCallbackListener_Denied(t *testing.T) {
	l, err := Listen("127.0.0.1:0", "/cb", "s")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go http.Get("http://" + l.Addr() + "/cb?state=s&error=access_denied")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.Wait(ctx); err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("expected denial error, got %v", err)
	}
}

func TestCallbackListener_EscapesErrorPage(t *testing.T) {
	l, err := Listen("127.0.0.1:0", "/cb", "s")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()

	resp, err := http.Get("http://" + l.Addr() + "/cb?state=s&error=" + url.QueryEscape("<script>alert(1)</script>"))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "<script>") {
		t.Errorf("error message rendered unescaped: %s", body)
	}
	if !strings.Contains(string(body), "&lt;script&gt;") {
		t.Errorf("expected escaped message in page: %s", body)
	}
}

func TestPollDevice(t *testing.T) {
	var calls int32
	token, err := PollDevice(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (PollStatus, string, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1, 2:
			return PollPending, "", nil
		}
		return PollDone, "gho_token", nil
	})
	if err != nil {
		t.Fatalf("PollDevice failed: %v", err)
	}
	if token != "gho_token" || calls != 3 {
		t.Fatalf("unexpected result %q after %d calls", token, calls)
	}
}

func TestPollDevice_ErrorAndExpiry(t *testing.T) {
	_, err := PollDevice(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (PollStatus, string, error) {
		return 0, "", errors.New("access_denied")
	})
	if err == nil || err.Error() != "access_denied" {
		t.Fatalf("expected poll error, got %v", err)
	}

	_, err = PollDevice(context.Background(), time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (PollStatus, string, error) {
		return PollPending, "", nil
	})
	if !errors.Is(err, ErrDeviceCodeExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestJWTClaims(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"email":"me@x.io","https://api.openai.com/auth":{"chatgpt_account_id":"acct-9"}}`))
	token := "e30." + payload + ".sig"

	claims := JWTClaims(token)
	if ClaimString(claims, "email") != "me@x.io" {
		t.Errorf("unexpected email claim")
	}
	if ClaimString(claims, "https://api.openai.com/auth", "chatgpt_account_id") != "acct-9" {
		t.Errorf("unexpected nested claim")
	}
	if JWTClaims("not-a-jwt") != nil {
		t.Error("expected nil claims for garbage")
	}
}

func TestTokenResponse_Credential(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tr := &TokenResponse{AccessToken: "a", RefreshToken: "r"}
	c := tr.Credential(now, map[string]string{"email": "e", "projectId": ""})
	if c.ExpiresAtMs != now.Add(time.Hour).UnixMilli() {
		t.Errorf("expected default 1h expiry")
	}
	if len(c.Extra) != 1 || c.Extra["email"] != "e" {
		t.Errorf("unexpected extra: %v", c.Extra)
	}
}

func TestScriptedPrompter(t *testing.T) {
	var out strings.Builder
	p := NewScriptedPrompter(strings.NewReader("first\nsecret-value"), &out)

	v, err := p.Prompt("Code: ")
	if err != nil || v != "first" {
		t.Fatalf("unexpected prompt result %q %v", v, err)
	}
	s, err := p.Secret("Key: ")
	if err != nil || s != "secret-value" {
		t.Fatalf("unexpected secret result %q %v", s, err)
	}
	if _, err := p.Prompt("More: "); err == nil {
		t.Fatal("expected EOF error")
	}
	p.Printf("done %d\n", 1)
	if !strings.Contains(out.String(), "Code: ") || !strings.Contains(out.String(), fmt.Sprintf("done %d", 1)) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestAPIKeyFlow(t *testing.T) {
	var out strings.Builder
	p := NewScriptedPrompter(strings.NewReader("  sk-test  \n"), &out)
	cred, err := APIKeyFlow("Test key", "get one somewhere").Login(context.Background(), p)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if k, ok := cred.(*auth.APIKey); !ok || k.Key != "sk-test" {
		t.Fatalf("unexpected credential: %#v", cred)
	}
	if !strings.Contains(out.String(), "get one somewhere") || !strings.Contains(out.String(), "Test key: ") {
		t.Errorf("unexpected prompt output: %q", out.String())
	}

	p = NewScriptedPrompter(strings.NewReader("\n"), &out)
	if _, err := APIKeyFlow("Test key", "").Login(context.Background(), p); err == nil {
		t.Error("empty key should fail")
	}
}
