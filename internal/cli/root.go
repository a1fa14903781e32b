// Package cli is the llmeter command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/user/llmeter/internal/adapter"
	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/config"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/platform"
	"github.com/user/llmeter/internal/provider"
	"github.com/user/llmeter/internal/transport"
)

type options struct {
	configFile string
	output     string
	debug      bool
	providers  []string
}

// app is everything a command needs, built once per invocation.
type app struct {
	opts     *options
	log      *log.Logger
	store    *auth.FileStore
	catalog  *adapter.Catalog
	registry *provider.Registry
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	snapshot := newSnapshotCmd(opts)

	rootCmd := &cobra.Command{
		Use:           "llmeter",
		Short:         "Usage limits and spend for AI coding assistants",
		Long:          `Fetches quota usage from AI coding-assistant subscriptions and spend from metered APIs, and shows them side by side.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          snapshot.RunE,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "settings file (default is $XDG_CONFIG_HOME/llmeter/settings.json)")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "output format: table, json or yaml")
	flags.BoolVar(&opts.debug, "debug", false, "log HTTP exchanges to stderr")
	flags.StringSliceVarP(&opts.providers, "provider", "p", nil, "only fetch these provider ids (overrides enabled list)")

	rootCmd.AddCommand(
		snapshot,
		newWatchCmd(opts),
		newServeCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newInitCmd(opts),
		newProvidersCmd(opts),
	)
	return rootCmd
}

func setup(cmd *cobra.Command, opts *options) (*app, error) {
	logger := logging.New(opts.debug)
	logger.SetOutput(cmd.ErrOrStderr())

	authPath, err := platform.AuthFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config dir: %w", err)
	}
	store := auth.NewFileStore(authPath, logger)

	catalog := adapter.NewCatalog(adapter.Deps{
		Store:     store,
		Transport: transport.NewHTTPClient(0, logger),
		Log:       logger,
	})
	registry := provider.NewRegistry(logger)
	if err := catalog.RegisterAll(registry); err != nil {
		return nil, err
	}

	return &app{
		opts:     opts,
		log:      logger,
		store:    store,
		catalog:  catalog,
		registry: registry,
	}, nil
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.opts.configFile, a.registry.IDs(), a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// targetIDs is the --provider list when given, otherwise the enabled list.
func (a *app) targetIDs(cfg *config.Config) ([]string, error) {
	if len(a.opts.providers) == 0 {
		return cfg.EnabledIDs(), nil
	}
	ids := lo.Uniq(lo.Map(a.opts.providers, func(s string, _ int) string { return strings.TrimSpace(s) }))
	for _, id := range ids {
		if _, ok := a.registry.Get(id); !ok {
			return nil, unknownProvider(a.registry, id)
		}
	}
	return ids, nil
}

func (a *app) fetch(ctx context.Context, cfg *config.Config) ([]provider.Result, error) {
	ids, err := a.targetIDs(cfg)
	if err != nil {
		return nil, err
	}
	return a.registry.FetchAll(ctx, ids, cfg.SettingsMap(), cfg.Timeout), nil
}

// ErrStore is returned after rendering when the credential store could
// not be read or written.
var ErrStore = errors.New("credential store unavailable")

func storeFailure(results []provider.Result) error {
	failed := lo.Filter(results, func(r provider.Result, _ int) bool {
		return r.Error != nil && r.Error.Kind == provider.KindStore
	})
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStore, failed[0].Error.Message)
}

func unknownProvider(r *provider.Registry, id string) error {
	return fmt.Errorf("unknown provider %q (known: %s)", id, strings.Join(r.IDs(), ", "))
}
