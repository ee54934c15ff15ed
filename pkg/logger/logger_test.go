package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture swaps in a logger that writes to a buffer and restores the previous
// one when the test finishes.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Get()
	buf := &bytes.Buffer{}
	Set(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(prev) })
	return buf
}

func TestPrintfStyleFormatting(t *testing.T) {
	buf := capture(t)

	Infof("listening on %s:%d", "localhost", 8000)

	assert.Contains(t, buf.String(), "listening on localhost:8000")
}

func TestStructuredKeyValues(t *testing.T) {
	buf := capture(t)

	Infow("request complete", "status", 200, "path", "/health")

	out := buf.String()
	assert.Contains(t, out, "request complete")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "path=/health")
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	Debug("debug line")
	Warnf("warn %s", "line")
	Errorw("error line", "err", "boom")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "level=ERROR")
}

func TestInitializeRespectsUnstructuredLogsEnv(t *testing.T) {
	t.Setenv("UNSTRUCTURED_LOGS", "false")

	Initialize()
	t.Cleanup(Initialize)

	require.NotNil(t, Get())
	// A JSON handler is in place; the concrete check is that logging does not
	// panic and the handler accepts structured attrs.
	Infow("structured", "k", "v")
}

func TestInitializeDebugFlag(t *testing.T) {
	viper.Set("debug", true)
	t.Cleanup(func() {
		viper.Set("debug", false)
		Initialize()
	})

	Initialize()

	assert.True(t, Get().Enabled(t.Context(), slog.LevelDebug))
}
