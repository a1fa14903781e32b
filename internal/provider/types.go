package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type Category string

const (
	CategorySubscription Category = "subscription"
	CategoryAPI          Category = "api"
)

type Source string

const (
	SourceOAuth  Source = "oauth"
	SourceCookie Source = "cookie"
	SourceAPI    Source = "api"
)

// Meta is the static descriptor of a provider.
type Meta struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Category       Category `yaml:"category" json:"category"`
	DefaultEnabled bool     `yaml:"default_enabled" json:"default_enabled"`
	Color          string   `yaml:"color,omitempty" json:"color,omitempty"`
	// WindowLabels names the rate windows in the order the provider emits them.
	WindowLabels []string `yaml:"window_labels,omitempty" json:"window_labels,omitempty"`
}

func (m Meta) Label(i int, fallback string) string {
	if i >= 0 && i < len(m.WindowLabels) {
		return m.WindowLabels[i]
	}
	return fallback
}

type RateWindow struct {
	UsedPercent   float64    `yaml:"used_percent" json:"used_percent"`
	ResetsAt      *time.Time `yaml:"resets_at,omitempty" json:"resets_at,omitempty"`
	Label         string     `yaml:"label" json:"label"`
	WindowMinutes *int       `yaml:"window_minutes,omitempty" json:"window_minutes,omitempty"`
}

// NewRateWindow clamps used into [0, 100].
func NewRateWindow(label string, used float64, resetsAt *time.Time) RateWindow {
	return RateWindow{Label: label, UsedPercent: ClampPercent(used), ResetsAt: resetsAt}
}

// UsedFromRemaining inverts a remaining-capacity percentage.
func UsedFromRemaining(remaining float64) float64 {
	return ClampPercent(100 - remaining)
}

func ClampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type CostInfo struct {
	AmountUSD float64  `yaml:"amount_usd" json:"amount_usd"`
	Currency  string   `yaml:"currency" json:"currency"`
	BudgetUSD *float64 `yaml:"budget_usd,omitempty" json:"budget_usd,omitempty"`
	Period    string   `yaml:"period,omitempty" json:"period,omitempty"`
}

func NewCost(amount float64, budget *float64) *CostInfo {
	return &CostInfo{AmountUSD: amount, Currency: "USD", BudgetUSD: budget, Period: "Monthly"}
}

// Percent is the share of the budget spent, capped at 100. It is 0 when no
// positive budget is set.
func (c CostInfo) Percent() float64 {
	if c.BudgetUSD == nil || *c.BudgetUSD <= 0 {
		return 0
	}
	return ClampPercent(c.AmountUSD / *c.BudgetUSD * 100)
}

type Result struct {
	ProviderID           string       `yaml:"provider_id" json:"provider_id"`
	DisplayName          string       `yaml:"display_name" json:"display_name"`
	Source               Source       `yaml:"source,omitempty" json:"source,omitempty"`
	RateWindows          []RateWindow `yaml:"rate_windows" json:"rate_windows"`
	Cost                 *CostInfo    `yaml:"cost,omitempty" json:"cost,omitempty"`
	CostIsPrimaryDisplay bool         `yaml:"cost_is_primary_display" json:"cost_is_primary_display"`
	PlanLabel            string       `yaml:"plan_label,omitempty" json:"plan_label,omitempty"`
	AccountEmail         string       `yaml:"account_email,omitempty" json:"account_email,omitempty"`
	CreditsRemaining     *float64     `yaml:"credits_remaining,omitempty" json:"credits_remaining,omitempty"`
	FetchedAt            time.Time    `yaml:"fetched_at" json:"fetched_at"`
	Error                *ErrorInfo   `yaml:"error,omitempty" json:"error,omitempty"`
}

// Usage is what a backend-specific fetch step produces. The lifecycle turns
// it into a Result and owns every field not listed here.
type Usage struct {
	RateWindows      []RateWindow
	Cost             *CostInfo
	PlanLabel        string
	AccountEmail     string
	CreditsRemaining *float64
}

// Settings are the provider-specific fields of one settings.json entry.
type Settings map[string]any

func (s Settings) String(key string) string {
	if s == nil {
		return ""
	}
	switch v := s[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func (s Settings) Float(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	return ToFloat(s[key])
}

// ToFloat accepts the numeric shapes that show up in decoded JSON and in
// backends that send numbers as strings.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Ptr is a helper to create pointer to a value
func Ptr[T any](v T) *T {
	return &v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads the ISO 8601 variants backends send. Timestamps without
// a zone are UTC.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// UnixTime converts epoch seconds, treating non-positive values as unknown.
func UnixTime(secs float64) *time.Time {
	if secs <= 0 {
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}
