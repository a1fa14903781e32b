package login

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE returns a 32-byte base64url verifier and its S256 challenge.
func NewPKCE() (PKCE, error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return PKCE{}, err
	}
	return PKCE{Verifier: verifier, Challenge: pkceS256(verifier)}, nil
}

func NewState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ParsePasted accepts what a user pastes after authorizing: a bare code,
// "code#state", or the full redirect URL.
func ParsePasted(raw string) (code, state string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		return q.Get("code"), q.Get("state")
	}
	if strings.Contains(raw, "code=") {
		if q, err := url.ParseQuery(strings.TrimPrefix(raw, "?")); err == nil {
			return q.Get("code"), q.Get("state")
		}
	}
	code, state, _ = strings.Cut(raw, "#")
	return code, state
}

// AuthorizeURL appends params to base.
func AuthorizeURL(base string, params url.Values) string {
	return base + "?" + params.Encode()
}
