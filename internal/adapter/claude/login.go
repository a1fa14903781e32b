package claude

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
)

// Login runs the paste-code OAuth flow: the browser shows a code#state
// string that the user copies back into the terminal.
type Login struct {
	client *Client
	now    func() time.Time
}

func NewLogin(client *Client) *Login {
	return &Login{client: client, now: time.Now}
}

func (l *Login) authorizeURL(pkce login.PKCE) string {
	return login.AuthorizeURL(authorize, url.Values{
		"code":                  {"true"},
		"client_id":             {clientID},
		"response_type":         {"code"},
		"redirect_uri":          {redirectURI},
		"scope":                 {scopes},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {pkce.Verifier},
	})
}

func (l *Login) Login(ctx context.Context, p login.Prompter) (auth.Credential, error) {
	pkce, err := login.NewPKCE()
	if err != nil {
		return nil, err
	}
	link := l.authorizeURL(pkce)
	p.Printf("Open this URL to authorize llmeter:\n\n  %s\n\n", link)
	p.OpenBrowser(link)

	pasted, err := p.Prompt("Paste the authorization code: ")
	if err != nil {
		return nil, err
	}
	code, state := login.ParsePasted(pasted)
	if code == "" {
		return nil, fmt.Errorf("no authorization code entered")
	}
	if state != "" && state != pkce.Verifier {
		return nil, fmt.Errorf("authorization state mismatch")
	}

	tok, err := l.client.exchangeCode(ctx, exchangeRequest{
		GrantType:    "authorization_code",
		ClientID:     clientID,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: pkce.Verifier,
		State:        state,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}
	return tok.Credential(l.now(), nil), nil
}
