// Package style defines the kiln brand palette and status icons used
// by the CLI surfaces.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Ember is the primary accent color.
	Ember = lipgloss.Color("#F97316")

	// Status colors.
	Green  = lipgloss.Color("#16A34A")
	Red    = lipgloss.Color("#DC2626")
	Yellow = lipgloss.Color("#EAB308")

	// Neutrals.
	Slate = lipgloss.Color("#64748B")
	Coal  = lipgloss.Color("#111827")
	White = lipgloss.Color("#FFFFFF")
)

// Status icons, paired with the colors above.
const (
	Check   = "✓"
	Cross   = "✗"
	Warning = "!"
	Dot     = "●"
)
