package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/agentmem/internal/config"
)

func TestConfigInit(t *testing.T) {
	dataDir := testEnv(t)
	path := config.GetUserConfigPath()

	// When: initializing twice without --force
	out := mustRun(t, dataDir, "config", "init")
	assert.Contains(t, out, "Wrote default configuration")
	require.FileExists(t, path)

	out = mustRun(t, dataDir, "config", "init")
	assert.Contains(t, out, "Configuration already exists")

	// Then: --force backs up the old file first
	out = mustRun(t, dataDir, "config", "init", "--force")
	assert.Contains(t, out, "Backup:")
	backups, err := filepath.Glob(path + ".bak*")
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	// And: the written file loads
	_, err = config.LoadFile(path)
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	dataDir := testEnv(t)

	t.Run("defaults", func(t *testing.T) {
		out := mustRun(t, dataDir, "config", "show", "--source", "defaults")

		var got config.Config
		require.NoError(t, yaml.Unmarshal([]byte(out), &got))
		assert.Equal(t, config.NewConfig().Storage.BM25Backend, got.Storage.BM25Backend)
	})

	t.Run("missing user config", func(t *testing.T) {
		out := mustRun(t, dataDir, "config", "show", "--source", "user")
		assert.Contains(t, out, "No user configuration file found")
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := run(t, dataDir, "config", "show", "--source", "nope")
		assert.Error(t, err)
	})
}

func TestConfigPath(t *testing.T) {
	dataDir := testEnv(t)

	out := mustRun(t, dataDir, "config", "path")
	assert.Equal(t, config.GetUserConfigPath()+"\n", out)
	_, err := os.Stat(filepath.Dir(config.GetUserConfigPath()))
	assert.True(t, err == nil || os.IsNotExist(err))
}
