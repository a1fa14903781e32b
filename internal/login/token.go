package login

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

// Flow runs one interactive login and returns the credential to store.
type Flow interface {
	Login(ctx context.Context, p Prompter) (auth.Credential, error)
}

type FlowFunc func(ctx context.Context, p Prompter) (auth.Credential, error)

func (f FlowFunc) Login(ctx context.Context, p Prompter) (auth.Credential, error) {
	return f(ctx, p)
}

// TokenResponse is the common OAuth token endpoint body.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	IDToken          string `json:"id_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

const defaultExpiresIn = 3600

func (t *TokenResponse) Lifetime() time.Duration {
	if t.ExpiresIn <= 0 {
		return defaultExpiresIn * time.Second
	}
	return time.Duration(t.ExpiresIn) * time.Second
}

// Credential converts a code-exchange response into a stored credential.
func (t *TokenResponse) Credential(now time.Time, extra map[string]string) *auth.OAuth {
	c := &auth.OAuth{
		Access:      t.AccessToken,
		Refresh:     t.RefreshToken,
		ExpiresAtMs: now.Add(t.Lifetime()).UnixMilli(),
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]string)
		}
		c.Extra[k] = v
	}
	return c
}

// Token converts a refresh response for the refresh coordinator.
func (t *TokenResponse) Token(extra map[string]string) *provider.Token {
	return &provider.Token{
		Access:    t.AccessToken,
		Refresh:   t.RefreshToken,
		ExpiresIn: t.Lifetime(),
		Extra:     extra,
	}
}

// PostForm posts an application/x-www-form-urlencoded body and decodes the
// JSON reply into out.
func PostForm(ctx context.Context, c transport.Client, endpoint string, form url.Values, headers map[string]string, out any) error {
	h := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}
	for k, v := range headers {
		h[k] = v
	}
	return provider.PostJSON(ctx, c, endpoint, h, []byte(form.Encode()), out)
}

// PostJSONBody posts v as JSON and decodes the JSON reply into out.
func PostJSONBody(ctx context.Context, c transport.Client, endpoint string, v any, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	return provider.PostJSON(ctx, c, endpoint, h, body, out)
}

// JWTClaims decodes the payload of a JWT without verifying it.
func JWTClaims(token string) map[string]any {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil
	}

	payload := parts[1]
	payload = strings.ReplaceAll(payload, "-", "+")
	payload = strings.ReplaceAll(payload, "_", "/")
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}

	var claims map[string]any
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil
	}
	return claims
}

// ClaimString reads a string claim, descending through nested objects.
func ClaimString(claims map[string]any, path ...string) string {
	var cur any = claims
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[p]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}
