package codex

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
)

const (
	callbackAddr = "127.0.0.1:1455"
	callbackPath = "/auth/callback"
	redirectURI  = "http://localhost:1455/auth/callback"
)

// Login runs the browser PKCE flow against a local redirect listener,
// falling back to a pasted redirect URL when the port is taken or the
// browser never comes back.
type Login struct {
	client  *Client
	addr    string
	timeout time.Duration
	now     func() time.Time
}

func NewLogin(client *Client) *Login {
	return &Login{client: client, addr: callbackAddr, timeout: login.DefaultCallbackTimeout, now: time.Now}
}

func (l *Login) authorizeURL(pkce login.PKCE, state string) string {
	return login.AuthorizeURL(l.client.authURL+"/oauth/authorize", url.Values{
		"response_type":              {"code"},
		"client_id":                  {clientID},
		"redirect_uri":               {redirectURI},
		"scope":                      {"openid profile email offline_access"},
		"code_challenge":             {pkce.Challenge},
		"code_challenge_method":      {"S256"},
		"state":                      {state},
		"id_token_add_organizations": {"true"},
		"codex_cli_simplified_flow":  {"true"},
		"originator":                 {"llmeter"},
	})
}

func (l *Login) Login(ctx context.Context, p login.Prompter) (auth.Credential, error) {
	pkce, err := login.NewPKCE()
	if err != nil {
		return nil, err
	}
	state := login.NewState()

	listener, listenErr := login.Listen(l.addr, callbackPath, state)
	link := l.authorizeURL(pkce, state)
	p.Printf("Open this URL to sign in to ChatGPT:\n\n  %s\n\n", link)
	p.OpenBrowser(link)

	var code string
	if listenErr == nil {
		waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
		code, err = listener.Wait(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, login.ErrCallbackTimeout) {
			return nil, err
		}
		if err != nil {
			p.Printf("No browser callback received.\n")
		}
	} else {
		p.Printf("Could not listen for the browser callback (%v).\n", listenErr)
	}

	if code == "" {
		code, err = pasteCode(p, state)
		if err != nil {
			return nil, err
		}
	}

	tok, err := l.client.exchangeCode(ctx, code, redirectURI, pkce.Verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	extra := identity(tok)
	if extra["accountId"] == "" {
		return nil, fmt.Errorf("token carried no ChatGPT account id")
	}
	return tok.Credential(l.now(), extra), nil
}

func pasteCode(p login.Prompter, state string) (string, error) {
	pasted, err := p.Prompt("Paste the redirect URL from the browser: ")
	if err != nil {
		return "", err
	}
	code, got := login.ParsePasted(pasted)
	if code == "" {
		return "", fmt.Errorf("no authorization code found in input")
	}
	if got != "" && got != state {
		return "", fmt.Errorf("authorization state mismatch")
	}
	return code, nil
}
