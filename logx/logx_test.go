package logx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelInfo)

	l.Debug("hidden %d", 1)
	l.Info("shown %s", "info")
	l.Warn("careful %s", "now")

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown info")
	assert.Contains(t, out, "careful now")

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("visible %d", 2)
	assert.Contains(t, buf.String(), "visible 2")

	buf.Reset()
	l.SetLevel(LevelError)
	l.Warn("suppressed")
	l.Error("failed: %v", "boom")
	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "failed: boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelDebug, ParseLevel("trace"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("nothing %s", "happens")
	l.SetLevel(LevelDebug)
}
