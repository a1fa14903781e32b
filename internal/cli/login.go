package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/llmeter/internal/config"
	"github.com/user/llmeter/internal/login"
)

func prompterFor(cmd *cobra.Command) login.Prompter {
	if cmd.InOrStdin() == os.Stdin {
		return login.NewTerminalPrompter()
	}
	return login.NewScriptedPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
}

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Authenticate with a provider and enable it",
		Long: `Runs the provider's interactive login (browser OAuth, device code, or pasted
cookie/key), stores the credential in auth.json and enables the provider in settings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			id := args[0]
			entry, ok := a.catalog.Get(id)
			if !ok {
				return unknownProvider(a.registry, id)
			}
			name := entry.Provider.Meta().Name

			cred, err := entry.Login.Login(cmd.Context(), prompterFor(cmd))
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := a.store.Save(entry.StoreKey, cred); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			if err := config.EnableProvider(opts.configFile, id); err != nil {
				return fmt.Errorf("saved credentials but failed to enable %s: %w", id, err)
			}

			a.log.WithField("provider", id).Info("login complete")
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s. Credentials saved to %s\n", name, a.store.Path())
			return nil
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <provider>",
		Short: "Remove a provider's stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			id := args[0]
			entry, ok := a.catalog.Get(id)
			if !ok {
				return unknownProvider(a.registry, id)
			}
			name := entry.Provider.Meta().Name

			_, stored, err := a.store.Load(entry.StoreKey)
			if err != nil {
				return fmt.Errorf("failed to read credentials: %w", err)
			}
			if !stored {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s credentials stored.\n", name)
				return nil
			}
			if err := a.store.Clear(entry.StoreKey); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s credentials from %s\n", name, a.store.Path())
			return nil
		},
	}
}
