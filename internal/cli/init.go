package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/user/llmeter/internal/adapter"
	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/config"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a settings file listing every provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			path, err := config.Init(opts.configFile, a.registry.IDs())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Every provider starts disabled; `llmeter login <provider>` enables one.")
			return nil
		},
	}
}

func newProvidersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List known providers and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			stored, err := a.store.LoadAll()
			if err != nil {
				return fmt.Errorf("failed to read credentials: %w", err)
			}

			enabled := cfg.EnabledIDs()
			rows := lo.Map(a.catalog.Entries(), func(e adapter.Entry, _ int) providerRow {
				m := e.Provider.Meta()
				return providerRow{
					ID:         m.ID,
					Name:       m.Name,
					Category:   string(m.Category),
					Enabled:    lo.Contains(enabled, m.ID),
					Default:    m.DefaultEnabled,
					Credential: credentialLabel(stored[e.StoreKey]),
				}
			})

			w := cmd.OutOrStdout()
			switch opts.output {
			case outputJSON:
				return PrintJSON(w, rows)
			case outputYAML:
				return PrintYAML(w, rows)
			}
			t := table.New().
				Border(lipgloss.ASCIIBorder()).
				StyleFunc(func(row, col int) lipgloss.Style {
					return lipgloss.NewStyle().Padding(0, 1)
				}).
				Headers("ID", "NAME", "CATEGORY", "ENABLED", "DEFAULT", "CREDENTIAL")
			for _, r := range rows {
				t.Row(r.ID, r.Name, r.Category, strconv.FormatBool(r.Enabled), strconv.FormatBool(r.Default), r.Credential)
			}
			fmt.Fprintln(w, t)
			return nil
		},
	}
}

type providerRow struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Category   string `json:"category" yaml:"category"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Default    bool   `json:"default_enabled" yaml:"default_enabled"`
	Credential string `json:"credential" yaml:"credential"`
}

func credentialLabel(c auth.Credential) string {
	if c == nil {
		return "-"
	}
	return string(c.Kind())
}
