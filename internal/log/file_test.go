package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_WriteAndSymlink(t *testing.T) {
	tmpDir := t.TempDir()
	fw, err := NewFileWriter(tmpDir, "daemon")
	require.NoError(t, err)
	defer fw.Close()

	_, err = fw.Write([]byte(`{"msg":"test"}` + "\n"))
	require.NoError(t, err)

	today := time.Now().Format(dateLayout)
	name := "daemon-" + today + ".jsonl"
	content, err := os.ReadFile(filepath.Join(tmpDir, name))
	require.NoError(t, err)
	assert.Contains(t, string(content), `{"msg":"test"}`)

	target, err := os.Readlink(filepath.Join(tmpDir, "daemon-latest"))
	require.NoError(t, err)
	assert.Equal(t, name, target)
}

func TestFileWriter_RotatesOnDateChange(t *testing.T) {
	tmpDir := t.TempDir()
	fw, err := NewFileWriter(tmpDir, "cli")
	require.NoError(t, err)
	defer fw.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	fw.now = func() time.Time { return tomorrow }
	_, err = fw.Write([]byte("x\n"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "cli-"+tomorrow.Format(dateLayout)+".jsonl"), fw.Path())
}

func TestFileWriter_WriteAfterClose(t *testing.T) {
	fw, err := NewFileWriter(t.TempDir(), "cli")
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	_, err = fw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	old := time.Now().AddDate(0, 0, -20).Format(dateLayout)
	recent := time.Now().AddDate(0, 0, -2).Format(dateLayout)
	for _, name := range []string{
		"daemon-" + old + ".jsonl",
		"cli-" + old + ".jsonl",
		"daemon-" + recent + ".jsonl",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0644))
	}

	Cleanup(tmpDir, 14)

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(tmpDir, name))
		return err == nil
	}
	assert.False(t, exists("daemon-"+old+".jsonl"))
	assert.False(t, exists("cli-"+old+".jsonl"))
	assert.True(t, exists("daemon-"+recent+".jsonl"))
	assert.True(t, exists("notes.txt"))
}
