package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	l, err := New(Config{Level: "debug", Filename: path, MaxSize: 1}, "production")
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"}, "production")
	assert.Error(t, err)
}

func TestNew_DailySuffix(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Filename: filepath.Join(dir, "agent.log"), Daily: true}, "production")
	require.NoError(t, err)
	l.Warn("rotated")
	require.NoError(t, l.Sync())

	matches, err := filepath.Glob(filepath.Join(dir, "agent-*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	assert.NotNil(t, Named("test"))
}
