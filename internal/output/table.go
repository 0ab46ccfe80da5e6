// Package output renders covkit results for the terminal.
//
// Tables use box-drawing rules and, when stdout is a terminal, ANSI colors
// for backup status and symbol presence. RestoreProgress reports modules as
// a session puts them back.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/covkit/internal/scanner"
	"github.com/blackwell-systems/covkit/internal/session"
	"github.com/blackwell-systems/covkit/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderModuleTable renders modules with their size and symbol status.
// The first row is expected to be the module the others were found next to.
func RenderModuleTable(modules []*scanner.Module) string {
	if len(modules) == 0 {
		return "No modules found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-32s %-8s %-9s %s\n", "Module", "Size", "Symbols", "Modified"))
	sb.WriteString(strings.Repeat("─", 68))
	sb.WriteString("\n")

	for _, m := range modules {
		// Pad before coloring so escape codes do not break alignment.
		sym := fmt.Sprintf("%-9s", formatSymbols(m))
		sb.WriteString(fmt.Sprintf("%-32s %-8s %s %s\n",
			truncate(filepath.Base(m.Path), 32),
			formatSize(m.SizeBytes),
			colorize(symbolsColor(m), sym),
			formatRelativeTime(m.ModTime)))
	}

	return sb.String()
}

func formatSymbols(m *scanner.Module) string {
	switch {
	case !m.Executable:
		return "n/a"
	case m.HasSymbols:
		return "yes"
	default:
		return "no"
	}
}

func symbolsColor(m *scanner.Module) string {
	switch {
	case !m.Executable:
		return colorGray
	case m.HasSymbols:
		return colorGreen
	default:
		return colorYellow
	}
}

// RenderBackupTable renders ledger backup records, newest first.
func RenderBackupTable(backups []*store.Backup) string {
	if len(backups) == 0 {
		return "No backups found.\n"
	}

	sorted := make([]*store.Backup, len(backups))
	copy(sorted, backups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-24s %-38s %-8s %-10s %s\n", "Module", "Identifier", "Size", "Status", "Created"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, b := range sorted {
		status := fmt.Sprintf("%-10s", b.Status)
		sb.WriteString(fmt.Sprintf("%-24s %-38s %-8s %s %s\n",
			truncate(filepath.Base(b.ModulePath), 24),
			truncate(b.Identifier, 38),
			formatSize(b.SizeBytes),
			colorize(statusColor(b.Status), status),
			formatRelativeTime(b.CreatedAt)))
	}

	return sb.String()
}

func statusColor(status string) string {
	switch status {
	case store.StatusPending:
		return colorYellow
	case store.StatusRestored:
		return colorGreen
	case store.StatusDiscarded:
		return colorGray
	default:
		return colorRed
	}
}

// RenderPlan renders the modules a session selected and the ones it skipped.
func RenderPlan(plan *session.Plan) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Session %s: %d module(s) backed up", plan.Identifier, len(plan.Modules)))
	if len(plan.Skipped) > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", len(plan.Skipped)))
	}
	sb.WriteString("\n")

	for _, m := range plan.Modules {
		sb.WriteString(fmt.Sprintf("  %s %s\n", colorize(colorGreen, "+"), filepath.Base(m)))
	}
	for _, s := range plan.Skipped {
		sb.WriteString(fmt.Sprintf("  %s %-32s %s\n",
			colorize(colorGray, "-"),
			truncate(filepath.Base(s.Path), 32),
			colorize(colorGray, "("+s.Reason+")")))
	}

	return sb.String()
}

// RenderPathList renders one path per line, or empty when there are none.
func RenderPathList(paths []string, empty string) string {
	if len(paths) == 0 {
		return empty + "\n"
	}
	return strings.Join(paths, "\n") + "\n"
}

// formatSize converts bytes to human-readable size (GB, MB, KB).
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.0f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.0f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 30*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
