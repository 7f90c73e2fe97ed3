package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() { SetWriter(nil) })
	return &buf
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestWarnAndError(t *testing.T) {
	SetColorEnabled(false)
	buf := captureStderr(t)

	Warn("something happened")
	Warnf("skipping %q", "probe1")
	Error("something failed")
	Errorf("failed to connect: %s", "timeout")
	Info("plain")
	Infof("n=%d", 3)

	want := "Warning: something happened\n" +
		"Warning: skipping \"probe1\"\n" +
		"Error: something failed\n" +
		"Error: failed to connect: timeout\n" +
		"plain\n" +
		"n=3\n"
	assert.Equal(t, want, buf.String())
}

func TestColorDisabled(t *testing.T) {
	SetColorEnabled(false)
	assert.Equal(t, "x", Bold("x"))
	assert.Equal(t, "completed", State("completed"))
}

func TestColorEnabled(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	assert.Equal(t, "\033[1mx\033[0m", Bold("x"))
	assert.Equal(t, "\033[32mcompleted\033[0m", State("completed"))
	assert.Equal(t, "\033[31mfailed\033[0m", State("failed"))
	assert.Equal(t, "\033[36mrunning\033[0m", State("running"))
	assert.Equal(t, "unknown", State("unknown"))

	buf := captureStderr(t)
	Warn("w")
	assert.True(t, strings.HasPrefix(buf.String(), "\033[33mWarning:\033[0m"))
}

func TestTable(t *testing.T) {
	buf := captureStdout(t)

	table := NewTable("NAME", "METHOD")
	table.Row("probe1", "systemtap")
	table.Row("p", "perf_branch")
	require.NoError(t, table.Flush())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME    METHOD", lines[0])
	assert.Equal(t, "probe1  systemtap", lines[1])
	assert.Equal(t, "p       perf_branch", lines[2])
}

func TestPrintln(t *testing.T) {
	buf := captureStdout(t)
	Println("a", "b")
	Printf("%d\n", 1)
	assert.Equal(t, "a b\n1\n", buf.String())
}
