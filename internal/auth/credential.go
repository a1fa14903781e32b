package auth

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

type Kind string

const (
	KindOAuth  Kind = "oauth"
	KindCookie Kind = "cookie"
	KindAPIKey Kind = "api_key"
)

// Credential is one of *OAuth, *Cookie or *APIKey.
type Credential interface {
	Kind() Kind
	credential()
}

type OAuth struct {
	Access      string
	Refresh     string
	ExpiresAtMs int64
	// Extra holds provider-owned fields such as accountId, projectId or email.
	Extra map[string]string

	// Unknown keeps non-string fields written by other tools so a rewrite
	// carries them through unchanged.
	Unknown map[string]json.RawMessage
}

func (c *OAuth) Kind() Kind  { return KindOAuth }
func (c *OAuth) credential() {}

func (c *OAuth) ExpiresAt() time.Time {
	return time.UnixMilli(c.ExpiresAtMs)
}

// ExpiresWithin reports whether the access token is expired or will expire
// within d of now.
func (c *OAuth) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAtMs-now.UnixMilli() < d.Milliseconds()
}

func (c *OAuth) ExtraValue(key string) string {
	if c.Extra == nil {
		return ""
	}
	return c.Extra[key]
}

func (c *OAuth) Clone() *OAuth {
	out := *c
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	if c.Unknown != nil {
		out.Unknown = maps.Clone(c.Unknown)
	}
	return &out
}

type Cookie struct {
	Cookie string
	Email  string
}

func (c *Cookie) Kind() Kind  { return KindCookie }
func (c *Cookie) credential() {}

type APIKey struct {
	Key string
}

func (c *APIKey) Kind() Kind  { return KindAPIKey }
func (c *APIKey) credential() {}

var oauthFields = map[string]bool{"type": true, "access": true, "refresh": true, "expires": true}

// Encode renders a credential as the tagged object stored in auth.json.
// OAuth extras are flattened into the top level of the object.
func Encode(c Credential) (json.RawMessage, error) {
	obj := map[string]any{"type": c.Kind()}
	switch v := c.(type) {
	case *OAuth:
		for k, val := range v.Unknown {
			if oauthFields[k] {
				continue
			}
			obj[k] = val
		}
		for k, val := range v.Extra {
			if oauthFields[k] {
				continue
			}
			obj[k] = val
		}
		obj["access"] = v.Access
		if v.Refresh != "" {
			obj["refresh"] = v.Refresh
		}
		obj["expires"] = v.ExpiresAtMs
	case *Cookie:
		obj["cookie"] = v.Cookie
		if v.Email != "" {
			obj["email"] = v.Email
		}
	case *APIKey:
		obj["key"] = v.Key
	default:
		return nil, fmt.Errorf("unsupported credential type %T", c)
	}
	return json.Marshal(obj)
}

// Decode parses one tagged auth.json entry.
func Decode(data []byte) (Credential, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var kind Kind
	if err := json.Unmarshal(raw["type"], &kind); err != nil {
		return nil, fmt.Errorf("credential type: %w", err)
	}

	switch kind {
	case KindOAuth:
		var wire struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
			Expires int64  `json:"expires"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		out := &OAuth{Access: wire.Access, Refresh: wire.Refresh, ExpiresAtMs: wire.Expires}
		for k, v := range raw {
			if oauthFields[k] {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				if out.Unknown == nil {
					out.Unknown = make(map[string]json.RawMessage)
				}
				out.Unknown[k] = v
				continue
			}
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[k] = s
		}
		return out, nil
	case KindCookie:
		var wire struct {
			Cookie string `json:"cookie"`
			Email  string `json:"email"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &Cookie{Cookie: wire.Cookie, Email: wire.Email}, nil
	case KindAPIKey:
		var wire struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &APIKey{Key: wire.Key}, nil
	default:
		return nil, fmt.Errorf("unknown credential type %q", kind)
	}
}
