package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
)

const (
	authorizeURL = "https://accounts.google.com/o/oauth2/v2/auth"
	callbackAddr = "127.0.0.1:8085"
	callbackPath = "/oauth2callback"
	redirectURI  = "http://localhost:8085/oauth2callback"
	scopes       = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile"
)

var ErrProjectRequired = errors.New("this account needs GOOGLE_CLOUD_PROJECT (or GOOGLE_CLOUD_PROJECT_ID) set to a Cloud Code project")

type Login struct {
	client       *Client
	addr         string
	timeout      time.Duration
	pollInterval time.Duration
	pollAttempts int
	getenv       func(string) string
	now          func() time.Time
}

func NewLogin(client *Client) *Login {
	return &Login{
		client:       client,
		addr:         callbackAddr,
		timeout:      login.DefaultCallbackTimeout,
		pollInterval: 5 * time.Second,
		pollAttempts: 30,
		getenv:       os.Getenv,
		now:          time.Now,
	}
}

func (l *Login) Login(ctx context.Context, p login.Prompter) (auth.Credential, error) {
	pkce, err := login.NewPKCE()
	if err != nil {
		return nil, err
	}
	link := login.AuthorizeURL(authorizeURL, url.Values{
		"client_id":             {clientID},
		"response_type":         {"code"},
		"redirect_uri":          {redirectURI},
		"scope":                 {scopes},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {pkce.Verifier},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	})

	listener, listenErr := login.Listen(l.addr, callbackPath, pkce.Verifier)
	if listenErr != nil {
		p.Printf("Port busy (%v); you will need to paste the redirect URL.\n", listenErr)
	}
	p.Printf("Open this URL to sign in with Google:\n\n  %s\n\n", link)
	p.OpenBrowser(link)

	var code string
	if listener != nil {
		waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
		code, err = listener.Wait(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, login.ErrCallbackTimeout) {
			return nil, err
		}
	}
	if code == "" {
		pasted, err := p.Prompt("Paste the full redirect URL or authorization code: ")
		if err != nil {
			return nil, err
		}
		var state string
		code, state = login.ParsePasted(pasted)
		if code == "" {
			return nil, fmt.Errorf("no authorization code provided")
		}
		if state != "" && state != pkce.Verifier {
			return nil, fmt.Errorf("authorization state mismatch")
		}
	}

	tok, err := l.client.exchangeCode(ctx, code, pkce.Verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("token response is missing access_token or refresh_token")
	}

	p.Printf("Discovering Cloud Code Assist project...\n")
	project, err := l.discoverProject(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	email, _ := l.client.UserEmail(ctx, tok.AccessToken)

	return tok.Credential(l.now(), map[string]string{"projectId": project, "email": email}), nil
}

// discoverProject finds the user's Cloud Code project, onboarding the
// account when it has none yet.
func (l *Login) discoverProject(ctx context.Context, token string) (string, error) {
	envProject := l.getenv("GOOGLE_CLOUD_PROJECT")
	if envProject == "" {
		envProject = l.getenv("GOOGLE_CLOUD_PROJECT_ID")
	}
	meta := codeAssistMetadata{IDEType: "IDE_UNSPECIFIED", Platform: "PLATFORM_UNSPECIFIED", PluginType: "GEMINI", DuetProject: envProject}

	lca, err := l.client.LoadCodeAssist(ctx, token, loadCodeAssistRequest{CloudAICompanionProject: envProject, Metadata: meta})
	if err != nil {
		return "", fmt.Errorf("loadCodeAssist: %w", err)
	}
	if lca.CurrentTier != nil {
		if id := projectID(lca.Project); id != "" {
			return id, nil
		}
		if envProject != "" {
			return envProject, nil
		}
	}

	tierID := "legacy-tier"
	if len(lca.AllowedTiers) > 0 {
		tierID = "free-tier"
		for _, t := range lca.AllowedTiers {
			if t.IsDefault {
				tierID = t.ID
				break
			}
		}
	}
	if tierID != "free-tier" && envProject == "" {
		return "", ErrProjectRequired
	}

	req := onboardRequest{TierID: tierID, Metadata: codeAssistMetadata{IDEType: meta.IDEType, Platform: meta.Platform, PluginType: meta.PluginType}}
	if tierID != "free-tier" {
		req.CloudAICompanionProject = envProject
		req.Metadata.DuetProject = envProject
	}
	op, err := l.client.onboardUser(ctx, token, req)
	if err != nil {
		return "", fmt.Errorf("onboardUser: %w", err)
	}
	for attempt := 1; !op.Done && op.Name != ""; attempt++ {
		if attempt > l.pollAttempts {
			return "", fmt.Errorf("timed out waiting for project provisioning")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.pollInterval):
		}
		if op, err = l.client.getOperation(ctx, token, op.Name); err != nil {
			return "", fmt.Errorf("poll onboarding: %w", err)
		}
	}

	if id := projectID(op.Response.Project); id != "" {
		return id, nil
	}
	if envProject != "" {
		return envProject, nil
	}
	return "", fmt.Errorf("could not discover or provision a Cloud Code project; set GOOGLE_CLOUD_PROJECT")
}
