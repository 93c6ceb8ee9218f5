package scaffold

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/pledge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pledge.yml")
	require.NoError(t, Initialize(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg, "the starter file documents the defaults")
}

func TestInitializeRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pledge.yml")
	require.NoError(t, os.WriteFile(path, []byte("instance: mine\n"), 0644))

	err := Initialize(path, false)
	var existing *ExistingConfigError
	require.True(t, errors.As(err, &existing))
	assert.Equal(t, path, existing.Path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "instance: mine\n", string(content))

	require.NoError(t, Initialize(path, true))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Instance)
}

func TestInitializeCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy", "pledge.yml")
	require.NoError(t, Initialize(path, false))
	assert.NoError(t, CheckExisting(filepath.Join(filepath.Dir(path), "other.yml")))
}
