package output_test

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/blazinghq/kiln/internal/ui/output"
)

func TestColorProfile(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, output.ColorProfile(),
		"NO_COLOR disables styling")

	// Without NO_COLOR the result depends on the terminal, so only
	// assert it lands inside termenv's profile range.
	t.Setenv("NO_COLOR", "")
	p := output.ColorProfile()
	assert.GreaterOrEqual(t, p, termenv.TrueColor)
	assert.LessOrEqual(t, p, termenv.Ascii)
}

func TestColorProfileANSI(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.Equal(t, termenv.ANSI, output.ColorProfileANSI())

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, output.ColorProfileANSI())
}

func TestNew_WritesThrough(t *testing.T) {
	var buf bytes.Buffer
	out := output.New(&buf)

	_, err := out.WriteString("workers=2")
	assert.NoError(t, err)
	assert.Equal(t, "workers=2", buf.String())
}

func TestNew_NilWriterDefaultsToStderr(t *testing.T) {
	assert.NotNil(t, output.New(nil))
}
