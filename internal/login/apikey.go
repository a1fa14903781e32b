package login

import (
	"context"
	"fmt"

	"github.com/user/llmeter/internal/auth"
)

// APIKeyFlow asks for a key without echoing it. hint is printed first,
// typically where to create the key.
func APIKeyFlow(label, hint string) Flow {
	return FlowFunc(func(_ context.Context, p Prompter) (auth.Credential, error) {
		if hint != "" {
			p.Printf("%s\n", hint)
		}
		key, err := p.Secret(label + ": ")
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, fmt.Errorf("no API key entered")
		}
		return &auth.APIKey{Key: key}, nil
	})
}
