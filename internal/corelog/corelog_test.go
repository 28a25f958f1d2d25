package corelog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultConfigWritesToStderr(t *testing.T) {
	logger, cleanup, err := New(DefaultConfig())
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, logger)
}

func TestNew_FileConfigWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.log")

	logger, cleanup, err := New(Config{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", slog.String("k", "v"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestOr_FallsBackToDefault(t *testing.T) {
	assert.Same(t, defaultLogger, Or(nil))

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))
	assert.Same(t, custom, Or(custom))
}
