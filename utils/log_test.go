package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WARN)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	l.Debug("hidden %d", 1)
	l.Info("hidden")
	l.Warn("pose stale for %d ms", 600)
	l.Critical("bus down")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"2024-05-01T12:00:00Z [WARN] pose stale for 600 ms",
		"2024-05-01T12:00:00Z [CRITICAL] bus down",
	}, lines)

	assert.False(t, l.Enabled(INFO))
	l.SetMinLevel(TRACE)
	assert.True(t, l.Enabled(TRACE))
	assert.NoError(t, l.Close())
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"trace": TRACE, "DEBUG": DEBUG, " info ": INFO, "warning": WARN,
		"error": ERROR, "critical": CRITICAL, "bogus": INFO, "": INFO,
	} {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
