package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesVerboseLinesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, sync, err := New(path, 1)
	require.NoError(t, err)

	log.Info("started", "tick", 7)
	log.V(1).Info("detail")
	log.V(2).Info("hidden")
	sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"msg":"started"`)
	assert.Contains(t, out, `"tick":7`)
	assert.Contains(t, out, `"msg":"detail"`)
	assert.NotContains(t, out, "hidden")
}

func TestNew_BadPath(t *testing.T) {
	_, _, err := New(filepath.Join(t.TempDir(), "missing", "dir", "x.log"), 0)
	assert.Error(t, err)
}
