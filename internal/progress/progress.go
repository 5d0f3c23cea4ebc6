// Package progress implements the default console progress sink: a
// per-driver status line and per-URL added/skipped counters. It is a
// default, not a requirement — the pipeline consumes it through the
// archive.NotifyFunc type and a plain counter callback, so a caller
// with its own GUI or TUI can supply something else entirely.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/eprints2archives/eprints2archives/internal/archive"
)

var (
	runningStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8FBC8F")) // dark_sea_green4
	rateLimitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CDAD00")).Background(lipgloss.Color("240"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8700")) // orange1
	unavailableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	addedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88"))
	skippedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Console is the default ProgressSink: one line per driver transition,
// written to w under a mutex since drivers run on their own goroutines.
type Console struct {
	w       io.Writer
	color   bool
	mu      sync.Mutex
	added   int
	skipped int
}

// NewConsole constructs a Console sink. When color is false (the
// boundary's --no-color flag), status text is written plain.
func NewConsole(w io.Writer, color bool) *Console {
	return &Console{w: w, color: color}
}

// Notify implements archive.NotifyFunc for one named destination.
func (c *Console) Notify(serviceName string, serviceColor string) archive.NotifyFunc {
	return func(status archive.Status) {
		c.mu.Lock()
		defer c.mu.Unlock()
		fmt.Fprintln(c.w, c.activity(serviceName, serviceColor, status))
	}
}

// Counted records one URL's outcome against a destination and prints a
// running added/skipped tally, mirroring _send's progress-bar fields in
// main_body.py.
func (c *Console) Counted(serviceName string, added bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if added {
		c.added++
	} else {
		c.skipped++
	}
	label := c.style(skippedStyle, "skipped")
	if added {
		label = c.style(addedStyle, "added")
	}
	fmt.Fprintf(c.w, "%s: %s (%d added / %d skipped so far)\n", serviceName, label, c.added, c.skipped)
}

func (c *Console) activity(name, color string, status archive.Status) string {
	label := c.colorName(name, color)
	switch status {
	case archive.StatusRunning:
		return c.style(runningStyle, fmt.Sprintf("Sending URLs to %s ...", label))
	case archive.StatusPausedRateLimit:
		return c.style(rateLimitStyle, fmt.Sprintf("Paused for rate limit on %s ...", label))
	case archive.StatusPausedError:
		return c.style(errorStyle, fmt.Sprintf("Paused due to %s error -- will retry ...", label))
	case archive.StatusUnavailable:
		return c.style(unavailableStyle, fmt.Sprintf("No response from %s servers ...", label))
	default:
		return fmt.Sprintf("Unknown status for %s", label)
	}
}

func (c *Console) colorName(name, color string) string {
	if !c.color || color == "" {
		return name
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(colorHex(color))).Render(name)
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if !c.color {
		return text
	}
	return s.Render(text)
}

// colorHex maps the small set of named colors ArchiveDriver.Color()
// returns into lipgloss-friendly hex/ANSI strings.
func colorHex(name string) string {
	switch name {
	case "white":
		return "255"
	case "yellow":
		return "220"
	case "cyan":
		return "51"
	case "red":
		return "196"
	case "green":
		return "46"
	default:
		return "255"
	}
}

// Totals returns the running added/skipped counts across every
// destination.
func (c *Console) Totals() (added, skipped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.added, c.skipped
}
