package cursor

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
)

const sessionCookie = "WorkosCursorSessionToken"

// Login stores a session cookie copied from a signed-in browser.
type Login struct{}

func NewLogin() *Login { return &Login{} }

func (Login) Login(_ context.Context, p login.Prompter) (auth.Credential, error) {
	p.Printf("Sign in at https://cursor.com/dashboard, then copy the %s cookie\n", sessionCookie)
	p.Printf("(or the whole Cookie header) from the browser developer tools.\n\n")
	raw, err := p.Secret("Cookie: ")
	if err != nil {
		return nil, err
	}
	cookie := normalizeCookie(raw)
	if cookie == "" {
		return nil, fmt.Errorf("no cookie entered")
	}
	return &auth.Cookie{Cookie: cookie}, nil
}

// normalizeCookie accepts a bare token value, a name=value pair, or a full
// Cookie header.
func normalizeCookie(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "Cookie:")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "=") {
		return sessionCookie + "=" + raw
	}
	return raw
}
