// Package linear renders build progress as plain chronological lines,
// suitable for CI logs and piped output.
package linear

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	uioutput "github.com/blazinghq/kiln/internal/ui/output"
	"github.com/muesli/termenv"
)

// stream holds the per-stage state keyed by span ID. Log data is
// line-buffered so interleaved stages never split each other's lines.
type stream struct {
	name    string
	started time.Time
	buf     bytes.Buffer
}

// Renderer implements ports.Renderer without any terminal control:
// stage output goes to stdout with a [stage] prefix, lifecycle
// messages go to stderr.
type Renderer struct {
	stdout io.Writer
	stderr io.Writer
	term   *termenv.Output

	mu      sync.Mutex
	streams map[string]*stream
}

// NewRenderer creates a linear renderer. Nil writers default to the
// process's stdout and stderr.
func NewRenderer(stdout, stderr io.Writer) *Renderer {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Renderer{
		stdout:  stdout,
		stderr:  stderr,
		term:    termenv.NewOutput(stderr, termenv.WithProfile(uioutput.ColorProfileANSI())),
		streams: make(map[string]*stream),
	}
}

// Start does nothing: the renderer writes synchronously from the
// telemetry callbacks.
func (r *Renderer) Start(_ context.Context) error {
	return nil
}

// Stop drains every stream so partial lines are not lost.
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		r.drainLocked(s)
	}

	return nil
}

// Wait does nothing: there is no background goroutine to join.
func (r *Renderer) Wait() error {
	return nil
}

// OnPlanEmit announces the resolved plan.
func (r *Renderer) OnPlanEmit(stages []string, _ map[string][]string, targets []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.stderr, "Planning to build %d stage(s) for target(s): %v\n",
		len(stages), targets)
}

// OnStageStart registers the stage's stream and announces it.
func (r *Renderer) OnStageStart(spanID, _ string, name string, startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streams[spanID] = &stream{name: name, started: startTime}

	prefix := r.term.String(fmt.Sprintf("[%s]", name)).Faint().String()
	_, _ = fmt.Fprintf(r.stderr, "%s Starting...\n", prefix)
}

// OnStageLog appends data to the stage's buffer and emits every
// complete line. A trailing partial line stays buffered until more
// data arrives or the stage finishes.
func (r *Renderer) OnStageLog(spanID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[spanID]
	if !ok {
		return
	}

	s.buf.Write(data)
	for {
		line, err := s.buf.ReadBytes('\n')
		if err != nil {
			// ReadBytes consumed the partial remainder, keep it for later.
			s.buf.Reset()
			s.buf.Write(line)
			break
		}
		r.emitLine(s.name, line)
	}
}

// OnStageComplete drains the stream and reports the outcome.
func (r *Renderer) OnStageComplete(spanID string, endTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[spanID]
	if !ok {
		return
	}

	r.drainLocked(s)
	delete(r.streams, spanID)

	duration := endTime.Sub(s.started)
	prefix := fmt.Sprintf("[%s]", s.name)

	if err != nil {
		cross := r.term.String("✗").Foreground(termenv.ANSIRed).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Failed after %v: %v\n",
			prefix, cross, duration, err)
		return
	}

	check := r.term.String("✓").Foreground(termenv.ANSIGreen).String()
	_, _ = fmt.Fprintf(r.stderr, "%s %s Completed in %v\n",
		prefix, check, duration)
}

// drainLocked emits whatever is left in the stream's buffer, typically
// a final line without a trailing newline. Caller holds r.mu.
func (r *Renderer) drainLocked(s *stream) {
	if s.buf.Len() == 0 {
		return
	}
	r.emitLine(s.name, s.buf.Bytes())
	s.buf.Reset()
}

// emitLine writes one prefixed line of stage output to stdout.
// Blank lines are dropped to keep CI logs compact.
func (r *Renderer) emitLine(name string, line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return
	}

	_, _ = fmt.Fprintf(r.stdout, "[%s] %s\n", name, line)
}
