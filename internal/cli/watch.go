package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/user/llmeter/internal/config"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/platform"
	"github.com/user/llmeter/internal/provider"
)

type fetchFunc func(ctx context.Context) ([]provider.Result, error)

type watchKeys struct {
	Refresh key.Binding
	Quit    key.Binding
}

func defaultWatchKeys() watchKeys {
	return watchKeys{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

type (
	resultsMsg struct {
		results []provider.Result
		err     error
		at      time.Time
	}
	// tickMsg carries the generation it was scheduled for; ticks from an
	// earlier generation are stale.
	tickMsg        struct{ gen int }
	fileChangedMsg struct{}
)

type watchModel struct {
	ctx      context.Context
	fetch    fetchFunc
	interval time.Duration
	changes  <-chan struct{}
	now      func() time.Time

	keys    watchKeys
	help    help.Model
	spinner spinner.Model

	results  []provider.Result
	err      error
	fetching bool
	gen      int
	updated  time.Time
}

func newWatchModel(ctx context.Context, fetch fetchFunc, interval time.Duration, changes <-chan struct{}) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{
		ctx:      ctx,
		fetch:    fetch,
		interval: interval,
		changes:  changes,
		now:      time.Now,
		keys:     defaultWatchKeys(),
		help:     help.New(),
		spinner:  s,
		fetching: true,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd(), waitForChange(m.changes))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m.refresh()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case resultsMsg:
		m.fetching = false
		m.results = msg.results
		m.err = msg.err
		m.updated = msg.at
		m.gen++
		gen := m.gen
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{gen: gen} })

	case tickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m.refresh()

	case fileChangedMsg:
		next := waitForChange(m.changes)
		r, cmd := m.refresh()
		return r, tea.Batch(cmd, next)
	}
	return m, nil
}

// refresh starts a fetch unless one is already running.
func (m watchModel) refresh() (watchModel, tea.Cmd) {
	if m.fetching {
		return m, nil
	}
	m.fetching = true
	return m, m.fetchCmd()
}

func (m watchModel) fetchCmd() tea.Cmd {
	ctx, fetch, now := m.ctx, m.fetch, m.now
	return func() tea.Msg {
		results, err := fetch(ctx)
		return resultsMsg{results: results, err: err, at: now()}
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return fileChangedMsg{}
	}
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("llmeter"))
	b.WriteString("  ")
	b.WriteString(m.status())
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.results == nil:
		b.WriteString(dimStyle.Render("Fetching usage..."))
	case len(m.results) == 0:
		b.WriteString("No providers enabled. Run `llmeter login <provider>` or edit the settings file.")
	default:
		b.WriteString(resultsTable(m.results, m.now()).String())
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.Refresh, m.keys.Quit}))
	return b.String()
}

func (m watchModel) status() string {
	if m.fetching {
		return m.spinner.View() + " refreshing"
	}
	next := m.updated.Add(m.interval).Sub(m.now())
	if next < 0 {
		next = 0
	}
	return dimStyle.Render(fmt.Sprintf("updated %s, next in %s", m.updated.Format("15:04:05"), formatDuration(next)))
}

// watchFiles signals on events whenever one of paths is written, created,
// renamed or removed. Their parent directories are watched so atomic
// rename-into-place saves are seen. stop closes the watcher.
func watchFiles(paths []string, events chan<- struct{}, logger log.FieldLogger) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(paths))
	for _, dir := range lo.Uniq(lo.Map(paths, func(p string, _ int) string { return filepath.Dir(p) })) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	for _, p := range paths {
		names[filepath.Clean(p)] = true
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !names[filepath.Clean(ev.Name)] || ev.Op == fsnotify.Chmod {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Debugf("file watcher: %v", err)
			}
		}
	}()
	return func() { w.Close() }, nil
}

func newWatchCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard that refreshes on an interval",
		Long: `Shows the usage table full screen and refreshes it every refresh_interval,
when r is pressed, and whenever settings.json or auth.json change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !logging.IsTerminal() {
				return errors.New("watch needs a terminal; use `llmeter snapshot` instead")
			}

			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := redirectLog(a, opts.debug)
			if err != nil {
				return err
			}
			defer closeLog()

			interval := cfg.RefreshInterval
			if secs, _ := cmd.Flags().GetInt("refresh"); secs > 0 {
				interval = min(max(time.Duration(secs)*time.Second, config.MinRefreshInterval), config.MaxRefreshInterval)
			}

			settingsPath, err := config.Path(opts.configFile)
			if err != nil {
				return err
			}
			changes := make(chan struct{}, 1)
			stop, err := watchFiles([]string{settingsPath, a.store.Path()}, changes, a.log)
			if err != nil {
				a.log.Warnf("not watching config files: %v", err)
				changes = nil
			} else {
				defer stop()
			}

			fetch := func(ctx context.Context) ([]provider.Result, error) {
				cfg, err := a.loadConfig()
				if err != nil {
					return nil, err
				}
				return a.fetch(ctx, cfg)
			}

			ctx := cmd.Context()
			m := newWatchModel(ctx, fetch, interval, changes)
			_, err = tea.NewProgram(m,
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			).Run()
			if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int("refresh", 0, "refresh interval in seconds (60-3600), overrides settings")
	return cmd
}

// redirectLog keeps log lines off the alt screen: they go to a file in the
// config dir with --debug and are dropped otherwise.
func redirectLog(a *app, debug bool) (func(), error) {
	if !debug {
		a.log.SetOutput(io.Discard)
		return func() {}, nil
	}
	dir, err := platform.EnsureConfigDir()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "watch-debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	a.log.SetOutput(f)
	a.log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	return func() { f.Close() }, nil
}
