package copilot

import (
	"context"
	"fmt"
	"time"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/login"
)

// Login runs the GitHub device authorization flow.
type Login struct {
	client *Client
	// minInterval bounds the server-requested poll interval from below.
	minInterval time.Duration
}

func NewLogin(client *Client) *Login {
	return &Login{client: client, minInterval: time.Second}
}

func (l *Login) Login(ctx context.Context, p login.Prompter) (auth.Credential, error) {
	dc, err := l.client.requestDeviceCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, fmt.Errorf("device code response is incomplete")
	}

	p.Printf("Open %s and enter the code: %s\n", dc.VerificationURI, dc.UserCode)
	p.OpenBrowser(dc.VerificationURI)
	p.Printf("Waiting for authorization...\n")

	interval := max(time.Duration(dc.Interval)*time.Second, l.minInterval)
	token, err := login.PollDevice(ctx, interval, time.Duration(dc.ExpiresIn)*time.Second, func(ctx context.Context) (login.PollStatus, string, error) {
		resp, err := l.client.pollAccessToken(ctx, dc.DeviceCode)
		if err != nil {
			return 0, "", err
		}
		switch resp.Error {
		case "":
			if resp.AccessToken == "" {
				return 0, "", fmt.Errorf("access token response carried no token")
			}
			return login.PollDone, resp.AccessToken, nil
		case "authorization_pending":
			return login.PollPending, "", nil
		case "slow_down":
			return login.PollSlowDown, "", nil
		case "expired_token":
			return 0, "", login.ErrDeviceCodeExpired
		default:
			msg := resp.Error
			if resp.Description != "" {
				msg += ": " + resp.Description
			}
			return 0, "", fmt.Errorf("device authorization failed: %s", msg)
		}
	})
	if err != nil {
		return nil, err
	}
	return &auth.OAuth{Access: token}, nil
}
