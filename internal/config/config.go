package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/platform"
	"github.com/user/llmeter/internal/provider"
)

const (
	DefaultRefreshInterval = 300 * time.Second
	MinRefreshInterval     = 60 * time.Second
	MaxRefreshInterval     = 3600 * time.Second
	DefaultTimeout         = provider.DefaultTimeout
)

type ProviderConfig struct {
	ID       string         `mapstructure:"id"`
	Enabled  bool           `mapstructure:"enabled"`
	Settings map[string]any `mapstructure:",remain"`
}

type Config struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	// RefreshInterval is written as whole seconds.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		RefreshInterval: DefaultRefreshInterval,
		Timeout:         DefaultTimeout,
	}
}

// Path resolves the settings file, preferring an explicit --config value.
func Path(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return platform.SettingsFilePath()
}

// Load reads settings.json and normalizes it against known, the registered
// provider ids in display order. A missing or malformed file yields defaults
// with every provider disabled.
func Load(configFile string, known []string, logger log.FieldLogger) (*Config, error) {
	logger = logging.OrDiscard(logger)
	path, err := Path(configFile)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			var parseErr viper.ConfigParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			logger.WithField("path", path).WithError(err).Warn("unreadable settings file, using defaults")
		}
	} else {
		decodeHook := mapstructure.ComposeDecodeHookFunc(
			enabledDefaultHookFunc(),
			secondsHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			intToBoolHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		)
		if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
			logger.WithField("path", path).WithError(err).Warn("malformed settings file, using defaults")
			cfg = DefaultConfig()
		}
	}

	cfg.normalize(known, logger)
	return cfg, nil
}

func (c *Config) normalize(known []string, logger log.FieldLogger) {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	c.RefreshInterval = min(max(c.RefreshInterval, MinRefreshInterval), MaxRefreshInterval)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	seen := make(map[string]bool, len(c.Providers))
	c.Providers = lo.Filter(c.Providers, func(p ProviderConfig, _ int) bool {
		if !lo.Contains(known, p.ID) {
			logger.WithField("provider", p.ID).Warn("ignoring unknown provider in settings")
			return false
		}
		if seen[p.ID] {
			return false
		}
		seen[p.ID] = true
		return true
	})
	for _, id := range known {
		if !seen[id] {
			c.Providers = append(c.Providers, ProviderConfig{ID: id})
		}
	}
	for i := range c.Providers {
		if key, ok := c.Providers[i].Settings["api_key"].(string); ok {
			c.Providers[i].Settings["api_key"] = ExpandEnvVars(key)
		}
	}
}

// EnabledIDs lists enabled providers in settings order.
func (c *Config) EnabledIDs() []string {
	return lo.FilterMap(c.Providers, func(p ProviderConfig, _ int) (string, bool) {
		return p.ID, p.Enabled
	})
}

// SettingsMap returns the provider-specific fields keyed by id.
func (c *Config) SettingsMap() map[string]provider.Settings {
	return lo.SliceToMap(c.Providers, func(p ProviderConfig) (string, provider.Settings) {
		return p.ID, provider.Settings(p.Settings)
	})
}

func (c *Config) Provider(id string) (ProviderConfig, bool) {
	return lo.Find(c.Providers, func(p ProviderConfig) bool { return p.ID == id })
}

// Init writes a settings file listing every provider, all disabled. It
// refuses to overwrite an existing file.
func Init(configFile string, ids []string) (string, error) {
	path, err := Path(configFile)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	cfg := DefaultConfig()
	cfg.Providers = lo.Map(ids, func(id string, _ int) ProviderConfig { return ProviderConfig{ID: id} })
	return path, Save(cfg, path)
}

// EnableProvider sets enabled for id, appending the entry when absent.
// Other entries and their fields are preserved as written. A corrupt file is
// replaced as if it were empty.
func EnableProvider(configFile, id string) error {
	path, err := Path(configFile)
	if err != nil {
		return err
	}

	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
			doc = map[string]any{"refresh_interval": int(DefaultRefreshInterval / time.Second)}
		}
	case errors.Is(err, fs.ErrNotExist):
		doc["refresh_interval"] = int(DefaultRefreshInterval / time.Second)
	default:
		return err
	}

	entries, _ := doc["providers"].([]any)
	found := false
	for _, e := range entries {
		if m, ok := e.(map[string]any); ok && m["id"] == id {
			m["enabled"] = true
			found = true
		}
	}
	if !found {
		entries = append(entries, map[string]any{"id": id, "enabled": true})
	}
	doc["providers"] = entries
	return writeJSON(path, doc)
}

// Save writes cfg as settings.json.
func Save(cfg *Config, path string) error {
	providers := lo.Map(cfg.Providers, func(p ProviderConfig, _ int) map[string]any {
		m := make(map[string]any, len(p.Settings)+2)
		for k, v := range p.Settings {
			m[k] = v
		}
		m["id"] = p.ID
		m["enabled"] = p.Enabled
		return m
	})
	return writeJSON(path, map[string]any{
		"providers":        providers,
		"refresh_interval": int(cfg.RefreshInterval / time.Second),
		"timeout":          cfg.Timeout.String(),
	})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ExpandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

// secondsHookFunc decodes bare numbers into durations as seconds, so
// "refresh_interval": 300 means five minutes.
func secondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		if n, ok := provider.ToFloat(data); ok && f.Kind() != reflect.String {
			return time.Duration(n * float64(time.Second)), nil
		}
		if s, ok := data.(string); ok {
			if n, ok := provider.ToFloat(strings.TrimSpace(s)); ok {
				return time.Duration(n * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// enabledDefaultHookFunc treats a provider entry without an enabled key as
// enabled.
func enabledDefaultHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(ProviderConfig{}) {
			return data, nil
		}
		m, ok := data.(map[string]any)
		if !ok {
			return data, nil
		}
		if _, ok := m["enabled"]; ok {
			return data, nil
		}
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["enabled"] = true
		return out, nil
	}
}

// intToBoolHookFunc accepts 0/1 for booleans.
func intToBoolHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t.Kind() != reflect.Bool {
			return data, nil
		}
		if n, ok := provider.ToFloat(data); ok && f.Kind() != reflect.String {
			return n != 0, nil
		}
		return data, nil
	}
}
