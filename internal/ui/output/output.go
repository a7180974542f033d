// Package output centralizes how the CLI constructs termenv outputs so
// every surface resolves colors the same way.
package output

import (
	"io"
	"os"

	"github.com/muesli/termenv"
)

// noColor reports whether the NO_COLOR convention asks us to disable
// styling entirely.
func noColor() bool {
	return os.Getenv("NO_COLOR") != ""
}

// ColorProfile detects the profile for interactive use. The terminal's
// advertised capabilities decide the depth unless NO_COLOR is set.
func ColorProfile() termenv.Profile {
	if noColor() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// ColorProfileANSI is the profile for CI and piped output. Capability
// detection is pointless without a TTY, so it pins plain ANSI and only
// honors NO_COLOR.
func ColorProfileANSI() termenv.Profile {
	if noColor() {
		return termenv.Ascii
	}
	return termenv.ANSI
}

// New wraps w in a termenv.Output using the interactive profile.
// A nil writer falls back to stderr.
func New(w io.Writer, opts ...termenv.OutputOption) *termenv.Output {
	if w == nil {
		w = os.Stderr
	}

	opts = append(opts,
		termenv.WithProfile(ColorProfile()),
		termenv.WithTTY(true),
	)

	return termenv.NewOutput(w, opts...)
}
