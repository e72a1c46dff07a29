package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithName(t *testing.T) {
	entry := WithName("scanner")
	assert.Equal(t, "scanner", entry.Data["component"])
}

func TestApply(t *testing.T) {
	l := logrus.New()

	require.NoError(t, apply(l, "debug"))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	require.NoError(t, apply(l, "WARN"))
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	require.Error(t, apply(l, "loud"))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestApplySilent(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	require.NoError(t, apply(l, "silent"))
	l.Error("dropped")
	assert.Empty(t, buf.String())
}

func TestApplyAfterSilentRestoresOutput(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	require.NoError(t, apply(l, "silent"))
	require.NoError(t, apply(l, "debug"))
	assert.Equal(t, os.Stderr, l.Out)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	// A redirected output is left alone.
	l.SetOutput(&buf)
	require.NoError(t, apply(l, "warn"))
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
