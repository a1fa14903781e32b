package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

var (
	codeAssistURL = "https://cloudcode-pa.googleapis.com"
	tokenURL      = "https://oauth2.googleapis.com/token"
	userInfoURL   = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
)

// Installed-app OAuth client shared with the Gemini CLI.
var (
	clientID     = mustDecode("NjgxMjU1ODA5Mzk1LW9vOGZ0Mm9wcmRybnA5ZTNhcWY2YXYzaG1kaWIxMzVqLmFwcHMuZ29vZ2xldXNlcmNvbnRlbnQuY29t")
	clientSecret = mustDecode("R09DU1BYLTR1SGdNUG0tMW83U2stZ2VWNkN1NWNsWEZzeGw=")
)

type Client struct {
	http          transport.Client
	codeAssistURL string
	tokenURL      string
	userInfoURL   string
}

func NewClient(c transport.Client) *Client {
	return &Client{http: c, codeAssistURL: codeAssistURL, tokenURL: tokenURL, userInfoURL: userInfoURL}
}

func (c *Client) postJSON(ctx context.Context, path, token string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	return provider.PostJSON(ctx, c.http, c.codeAssistURL+path, headers, body, out)
}

func (c *Client) RetrieveQuota(ctx context.Context, token, project string) (*quotaResponse, error) {
	body := map[string]string{}
	if project != "" {
		body["project"] = project
	}
	var out quotaResponse
	if err := c.postJSON(ctx, "/v1internal:retrieveUserQuota", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LoadCodeAssist(ctx context.Context, token string, req loadCodeAssistRequest) (*loadCodeAssistResponse, error) {
	var out loadCodeAssistResponse
	if err := c.postJSON(ctx, "/v1internal:loadCodeAssist", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) onboardUser(ctx context.Context, token string, req onboardRequest) (*operation, error) {
	var out operation
	if err := c.postJSON(ctx, "/v1internal:onboardUser", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getOperation(ctx context.Context, token, name string) (*operation, error) {
	var out operation
	headers := map[string]string{"Authorization": "Bearer " + token, "Accept": "application/json"}
	if err := provider.GetJSON(ctx, c.http, c.codeAssistURL+"/v1internal/"+name, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UserEmail(ctx context.Context, token string) (string, error) {
	var out userInfo
	headers := map[string]string{"Authorization": "Bearer " + token, "Accept": "application/json"}
	if err := provider.GetJSON(ctx, c.http, c.userInfoURL, headers, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// RefreshToken implements provider.TokenRefresher. A credential saved
// without an email picks one up from userinfo on the way.
func (c *Client) RefreshToken(ctx context.Context, cred *auth.OAuth) (*provider.Token, error) {
	var out login.TokenResponse
	err := login.PostForm(ctx, c.http, c.tokenURL, url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {cred.Refresh},
		"grant_type":    {"refresh_token"},
	}, nil, &out)
	if err != nil {
		return nil, err
	}

	var extra map[string]string
	if cred.ExtraValue("email") == "" && out.AccessToken != "" {
		if email, err := c.UserEmail(ctx, out.AccessToken); err == nil && email != "" {
			extra = map[string]string{"email": email}
		}
	}
	return out.Token(extra), nil
}

func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*login.TokenResponse, error) {
	var out login.TokenResponse
	err := login.PostForm(ctx, c.http, c.tokenURL, url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// projectID reads cloudaicompanionProject in either of its shapes.
func projectID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		ID        string `json:"id"`
		ProjectID string `json:"projectId"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.ID != "" {
			return strings.TrimSpace(obj.ID)
		}
		return strings.TrimSpace(obj.ProjectID)
	}
	return ""
}

func mustDecode(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}
