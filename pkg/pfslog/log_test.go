package pfslog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, WARN, lvl)

	_, err = ParseLevel("bogus")
	require.Error(t, err)
}

func TestLoggerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: WARN, Output: &buf, Format: FormatText})
	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestWithFieldsMergesAndIsImmutable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := New(&Config{Level: INFO, Output: &buf, Format: FormatText, IncludeCaller: false})
	derived := base.WithField("mount", "/data").WithField("archive", "base.zip")

	derived.Info("mounted")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "mount=/data")
	assert.Contains(t, lines[0], "archive=base.zip")
	assert.NotContains(t, lines[1], "mount=")
}

func TestComponentLevelOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: ERROR, Output: &buf, Format: FormatText, IncludeCaller: false})
	logger.SetComponentLevel("mount", DEBUG)

	mountLogger := logger.WithComponent("mount")
	mountLogger.Debug("enumerate entries")

	assert.Contains(t, buf.String(), "enumerate entries")
}

func TestJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: INFO, Output: &buf, Format: FormatJSON, IncludeCaller: false})
	logger.Info("archive mounted", map[string]interface{}{"path": "/data/base.zip"})

	assert.Contains(t, buf.String(), `"message":"archive mounted"`)
	assert.Contains(t, buf.String(), `"path":"/data/base.zip"`)
}
