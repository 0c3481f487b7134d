package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingFile_RotatesOnLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keytrail.log")

	rf, err := NewRotatingFile(path, WithMaxSize(50), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	first := strings.Repeat("a", 30)
	second := strings.Repeat("b", 30)
	_, err = rf.Write([]byte(first))
	require.NoError(t, err)
	_, err = rf.Write([]byte(second))
	require.NoError(t, err)

	assert.Equal(t, second, readFile(t, path))
	assert.Equal(t, first, readFile(t, path+".1"))
}

func TestRotatingFile_KeepsMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keytrail.log")

	rf, err := NewRotatingFile(path, WithMaxSize(20), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	for _, c := range "abcd" {
		_, err = rf.Write([]byte(strings.Repeat(string(c), 15)))
		require.NoError(t, err)
	}

	assert.Equal(t, strings.Repeat("d", 15), readFile(t, path))
	assert.Equal(t, strings.Repeat("c", 15), readFile(t, path+".1"))
	assert.Equal(t, strings.Repeat("b", 15), readFile(t, path+".2"))
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFile_ZeroBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keytrail.log")

	rf, err := NewRotatingFile(path, WithMaxSize(10), WithMaxBackups(0))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("abcdef"))
	require.NoError(t, err)

	assert.Equal(t, "abcdef", readFile(t, path))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFile_OversizedWriteOnEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keytrail.log")

	rf, err := NewRotatingFile(path, WithMaxSize(4))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("longer than the limit"))
	require.NoError(t, err)

	assert.Equal(t, "longer than the limit", readFile(t, path))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFile_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keytrail.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o600))

	rf, err := NewRotatingFile(path)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("new\n"))
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew\n", readFile(t, path))
}

func TestRotatingFile_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "keytrail.log")

	rf, err := NewRotatingFile(path, WithMaxSize(10))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("before"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("after"))
	require.NoError(t, err)

	assert.Equal(t, "after", readFile(t, path))
	assert.Equal(t, "before", readFile(t, path+".1"))
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	rf, err := NewRotatingFile(filepath.Join(t.TempDir(), "keytrail.log"))
	require.NoError(t, err)

	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	_, err = rf.Write([]byte("x"))
	require.Error(t, err)
}

func TestSetup(t *testing.T) {
	t.Run("discards without debug", func(t *testing.T) {
		var fallback bytes.Buffer
		logger, closer := Setup(Options{Fallback: &fallback})
		defer closer.Close()

		logger.Error("dropped")
		assert.Empty(t, fallback.String())
	})

	t.Run("writes debug logs to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "debug.log")
		logger, closer := Setup(Options{Debug: true, Path: path})

		logger.Debug("flush done", "count", 3)
		require.NoError(t, closer.Close())

		content := readFile(t, path)
		assert.Contains(t, content, "flush done")
		assert.Contains(t, content, "count=3")
	})

	t.Run("defaults to the data dir", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("KEYTRAIL_DATA_DIR", dir)

		logger, closer := Setup(Options{Debug: true})
		logger.Info("hello")
		require.NoError(t, closer.Close())

		assert.Contains(t, readFile(t, filepath.Join(dir, DefaultFileName)), "hello")
	})

	t.Run("falls back when the file cannot be opened", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, nil, 0o600))

		var fallback bytes.Buffer
		logger, closer := Setup(Options{Debug: true, Path: filepath.Join(blocker, "debug.log"), Fallback: &fallback})
		defer closer.Close()

		logger.Debug("still logged")
		assert.Contains(t, fallback.String(), "Failed to open debug log file")
		assert.Contains(t, fallback.String(), "still logged")
	})
}
