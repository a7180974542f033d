package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/blazinghq/kiln/internal/ui/output"
	"github.com/blazinghq/kiln/internal/ui/style"
)

// PrettyHandler renders records as single colored lines for terminals.
// Warnings and errors carry a leading icon, attributes are appended as
// key=value pairs.
type PrettyHandler struct {
	term  *termenv.Output
	level slog.Leveler
	fixed []slog.Attr
	scope string
}

// NewPrettyHandler creates a PrettyHandler writing to w, or stderr when
// w is nil.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if w == nil {
		w = os.Stderr
	}

	lv := &slog.LevelVar{}
	lv.Set(slog.LevelInfo)
	if opts != nil && opts.Level != nil {
		lv.Set(opts.Level.Level())
	}

	return &PrettyHandler{
		term:  output.New(w),
		level: lv,
	}
}

// Enabled implements slog.Handler.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
//
//nolint:gocritic // slog.Handler passes records by value
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	line, color := h.decorate(r)

	pairs := make([]string, 0, len(h.fixed)+r.NumAttrs())
	for _, a := range h.fixed {
		pairs = append(pairs, h.pair(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		pairs = append(pairs, h.pair(a))
		return true
	})
	if len(pairs) > 0 {
		line += " " + strings.Join(pairs, " ")
	}

	styled := h.term.String(line).Foreground(color)
	_, err := h.term.WriteString(styled.String() + "\n")

	return err
}

// decorate prepends the level icon and picks the line color.
func (h *PrettyHandler) decorate(r slog.Record) (string, termenv.Color) {
	switch r.Level {
	case slog.LevelWarn:
		return style.Warning + " " + r.Message, termenv.RGBColor(string(style.Yellow))
	case slog.LevelError:
		return style.Cross + " " + r.Message, termenv.RGBColor(string(style.Red))
	default:
		return r.Message, termenv.RGBColor(string(style.Slate))
	}
}

// pair renders one attribute as key=value, qualifying the key with the
// open group.
func (h *PrettyHandler) pair(a slog.Attr) string {
	key := a.Key
	if h.scope != "" {
		key = h.scope + "." + key
	}
	return key + "=" + a.Value.String()
}

// WithAttrs implements slog.Handler.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fixed := make([]slog.Attr, 0, len(h.fixed)+len(attrs))
	fixed = append(fixed, h.fixed...)
	fixed = append(fixed, attrs...)

	return &PrettyHandler{
		term:  h.term,
		level: h.level,
		fixed: fixed,
		scope: h.scope,
	}
}

// WithGroup implements slog.Handler. Only the innermost group qualifies
// attribute keys.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	return &PrettyHandler{
		term:  h.term,
		level: h.level,
		fixed: h.fixed,
		scope: name,
	}
}
