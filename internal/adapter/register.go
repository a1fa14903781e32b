// Package adapter wires every backend into a provider registry.
package adapter

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/adapter/anthropic"
	"github.com/user/llmeter/internal/adapter/claude"
	"github.com/user/llmeter/internal/adapter/codex"
	"github.com/user/llmeter/internal/adapter/copilot"
	"github.com/user/llmeter/internal/adapter/cursor"
	"github.com/user/llmeter/internal/adapter/gemini"
	"github.com/user/llmeter/internal/adapter/openai"
	"github.com/user/llmeter/internal/adapter/opencode"
	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/login"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

type Deps struct {
	Store     auth.Store
	Transport transport.Client
	Refresh   *provider.RefreshCoordinator
	Log       log.FieldLogger
}

// Entry is one backend with the pieces the CLI needs besides Invoke.
type Entry struct {
	Provider provider.Provider
	StoreKey string
	Login    login.Flow
}

// Catalog is the fixed provider set in display order.
type Catalog struct {
	entries []Entry
	byID    map[string]Entry
}

func NewCatalog(d Deps) *Catalog {
	logger := logging.OrDiscard(d.Log)
	if d.Refresh == nil {
		d.Refresh = provider.NewRefreshCoordinator(d.Store, logger)
	}
	with := func(id string) log.FieldLogger { return logger.WithField("provider", id) }

	claudeClient := claude.NewClient(d.Transport)
	codexClient := codex.NewClient(d.Transport)
	geminiClient := gemini.NewClient(d.Transport)
	copilotClient := copilot.NewClient(d.Transport)

	entries := []Entry{
		{codex.New(codexClient, d.Store, d.Refresh, with(codex.ID)), codex.StoreKey, codex.NewLogin(codexClient)},
		{claude.New(claudeClient, d.Store, d.Refresh, with(claude.ID)), claude.StoreKey, claude.NewLogin(claudeClient)},
		{cursor.New(cursor.NewClient(d.Transport), d.Store, with(cursor.ID)), cursor.StoreKey, cursor.NewLogin()},
		{gemini.New(geminiClient, d.Store, d.Refresh, with(gemini.ID)), gemini.StoreKey, gemini.NewLogin(geminiClient)},
		{copilot.New(copilotClient, d.Store, with(copilot.ID)), copilot.StoreKey, copilot.NewLogin(copilotClient)},
		{
			openai.New(openai.NewClient(d.Transport), d.Store, with(openai.ID)), openai.ID,
			login.APIKeyFlow("OpenAI admin key", "Create an admin key at https://platform.openai.com/settings/organization/admin-keys"),
		},
		{
			anthropic.New(anthropic.NewClient(d.Transport), d.Store, with(anthropic.ID)), anthropic.ID,
			login.APIKeyFlow("Anthropic admin key", "Create an admin key at https://console.anthropic.com/settings/admin-keys"),
		},
		{
			opencode.New(opencode.NewClient(d.Transport), d.Store, with(opencode.ID)), opencode.ID,
			login.APIKeyFlow("opencode auth cookie", "Copy the value of the opencode.ai \"auth\" cookie from the browser developer tools."),
		},
	}

	c := &Catalog{entries: entries, byID: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.byID[e.Provider.Meta().ID] = e
	}
	return c
}

// RegisterAll adds every provider to r in display order.
func (c *Catalog) RegisterAll(r *provider.Registry) error {
	for _, e := range c.entries {
		if err := r.Register(e.Provider); err != nil {
			return fmt.Errorf("register %s: %w", e.Provider.Meta().ID, err)
		}
	}
	return nil
}

func (c *Catalog) Get(id string) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}
