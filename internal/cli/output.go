package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/user/llmeter/internal/provider"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	creditStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

func render(w io.Writer, format string, results []provider.Result, now time.Time) error {
	switch format {
	case outputJSON:
		return PrintJSON(w, results)
	case outputYAML:
		return PrintYAML(w, results)
	case outputTable, "":
		return PrintTable(w, results, now)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func PrintJSON(w io.Writer, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to marshal data to YAML: %w", err)
	}
	return enc.Close()
}

func PrintTable(w io.Writer, results []provider.Result, now time.Time) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No provider data returned.")
		return nil
	}
	fmt.Fprintln(w, headerStyle.Render("LLM Usage"))
	fmt.Fprintln(w, resultsTable(results, now))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Updated: %s", now.Format(time.RFC1123))))
	return nil
}

func resultsTable(results []provider.Result, now time.Time) *table.Table {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		BorderRow(true).
		StyleFunc(func(row, col int) lipgloss.Style {
			return cellStyle
		}).
		Headers("PROVIDER", "PLAN", "USAGE")

	for _, r := range results {
		t.Row(
			formatName(r),
			formatPlan(r),
			formatUsage(r, now),
		)
	}
	return t
}

func formatName(r provider.Result) string {
	if r.AccountEmail == "" {
		return r.DisplayName
	}
	return r.DisplayName + "\n" + dimStyle.Render(r.AccountEmail)
}

func formatPlan(r provider.Result) string {
	if r.PlanLabel == "" {
		return "N/A"
	}
	return r.PlanLabel
}

func formatUsage(r provider.Result, now time.Time) string {
	if r.Error != nil {
		return errorStyle.Render(fmt.Sprintf("error (%s): %s", r.Error.Kind, r.Error.Message))
	}

	var parts []string
	if r.CostIsPrimaryDisplay && r.Cost != nil {
		parts = append(parts, formatCost(*r.Cost, "Spend"))
	}
	for _, w := range r.RateWindows {
		parts = append(parts, formatWindow(w, now))
	}
	if !r.CostIsPrimaryDisplay && r.Cost != nil {
		parts = append(parts, formatCost(*r.Cost, "Extra"))
	}
	if r.CreditsRemaining != nil && *r.CreditsRemaining > 0 {
		parts = append(parts, creditStyle.Render(fmt.Sprintf("Credits: %.2f left", *r.CreditsRemaining)))
	}
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, "\n")
}

func formatWindow(w provider.RateWindow, now time.Time) string {
	line := fmt.Sprintf("%s %s %.0f%%", w.Label, progressBar(w.UsedPercent), w.UsedPercent)
	if w.ResetsAt == nil {
		return line
	}
	if remaining := w.ResetsAt.Sub(now); remaining > 0 {
		return line + "\n" + dimStyle.Render("  resets in "+formatDuration(remaining))
	}
	return line + "\n" + dimStyle.Render("  resets soon")
}

func formatCost(c provider.CostInfo, label string) string {
	period := c.Period
	if period == "" {
		period = "Monthly"
	}
	if c.BudgetUSD == nil || *c.BudgetUSD <= 0 {
		return fmt.Sprintf("%s (%s): $%.2f", label, period, c.AmountUSD)
	}
	return fmt.Sprintf("%s (%s): $%.2f / $%.2f", label, period, c.AmountUSD, *c.BudgetUSD)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

func progressBar(percent float64) string {
	width := 10
	percent = provider.ClampPercent(percent)

	filled := int((percent / 100) * float64(width))
	empty := width - filled

	bar := lipgloss.NewStyle().Foreground(barColor(percent)).Render(strings.Repeat("#", filled))
	return fmt.Sprintf("[%s%s]", bar, strings.Repeat("-", empty))
}

func barColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 90:
		return lipgloss.Color("9")
	case percent >= 75:
		return lipgloss.Color("1")
	case percent >= 50:
		return lipgloss.Color("3")
	default:
		return lipgloss.Color("2")
	}
}
