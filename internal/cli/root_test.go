package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LLMETER_CONFIG_DIR", dir)
	for _, k := range []string{"OPENAI_ADMIN_KEY", "OPENAI_API_KEY", "ANTHROPIC_ADMIN_KEY", "ANTHROPIC_API_KEY", "OPENCODE_AUTH_COOKIE"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestSnapshot_NothingEnabled(t *testing.T) {
	isolate(t)
	out, err := execute(t, "", "--output", "json")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty list, got %q", out)
	}
}

func TestSnapshot_UnknownProvider(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "snapshot", "-p", "nope")
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestSnapshot_StoreFailureExitsNonZero(t *testing.T) {
	dir := isolate(t)
	if err := os.Mkdir(filepath.Join(dir, "auth.json"), 0o700); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "snapshot", "-o", "json", "-p", "openai-api")
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	var results []struct {
		ProviderID string `json:"provider_id"`
		Error      *struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("results should still be rendered: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Error == nil || results[0].Error.Kind != "store" {
		t.Errorf("unexpected results: %s", out)
	}
}

func TestInit(t *testing.T) {
	dir := isolate(t)
	out, err := execute(t, "", "init")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, filepath.Join(dir, "settings.json")) {
		t.Errorf("expected settings path in output: %s", out)
	}
	if _, err := execute(t, "", "init"); err == nil {
		t.Error("second init should refuse to overwrite")
	}
}

type providerListing struct {
	ID         string `json:"id"`
	Enabled    bool   `json:"enabled"`
	Credential string `json:"credential"`
}

func listProviders(t *testing.T) map[string]providerListing {
	t.Helper()
	out, err := execute(t, "", "providers", "-o", "json")
	if err != nil {
		t.Fatalf("providers failed: %v", err)
	}
	var rows []providerListing
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode providers: %v\n%s", err, out)
	}
	if len(rows) != 8 || rows[0].ID != "codex" {
		t.Fatalf("unexpected provider listing: %+v", rows)
	}
	m := make(map[string]providerListing, len(rows))
	for _, r := range rows {
		m[r.ID] = r
	}
	return m
}

func TestLoginLogout_APIKey(t *testing.T) {
	isolate(t)

	if got := listProviders(t)["openai-api"]; got.Enabled || got.Credential != "-" {
		t.Fatalf("openai-api should start disabled without credentials: %+v", got)
	}

	out, err := execute(t, "sk-admin-test\n", "login", "openai-api")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, "Logged in to OpenAI API") {
		t.Errorf("unexpected login output: %s", out)
	}

	if got := listProviders(t)["openai-api"]; !got.Enabled || got.Credential != "api_key" {
		t.Errorf("login should store the key and enable the provider: %+v", got)
	}

	out, err = execute(t, "", "logout", "openai-api")
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if !strings.Contains(out, "Removed") {
		t.Errorf("unexpected logout output: %s", out)
	}

	out, err = execute(t, "", "logout", "openai-api")
	if err != nil {
		t.Fatalf("second logout failed: %v", err)
	}
	if !strings.Contains(out, "No OpenAI API credentials stored") {
		t.Errorf("unexpected second logout output: %s", out)
	}
}

func TestLogin_UnknownProvider(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "", "login", "nope"); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
