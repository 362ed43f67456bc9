package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	configPath := filepath.Join(tmpDir, "agentmem", "config.yaml")

	t.Run("no config exists", func(t *testing.T) {
		backupPath, err := BackupUserConfig()
		require.NoError(t, err)
		assert.Empty(t, backupPath)
	})

	t.Run("backup existing config", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
		content := "version: 1\nsearch:\n  rrf_k: 40\n"
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

		backupPath, err := BackupUserConfig()
		require.NoError(t, err)
		require.NotEmpty(t, backupPath)

		data, err := os.ReadFile(backupPath)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
		assert.Contains(t, filepath.Base(backupPath), "config.yaml.bak.")
	})
}

func TestBackups_PrunedToMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var made []string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := backupFile(path, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		made = append(made, p)
	}

	backups, err := listBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)

	// Newest first; the two oldest were removed.
	assert.Equal(t, made[len(made)-1], backups[0])
	assert.NoFileExists(t, made[0])
	assert.NoFileExists(t, made[1])
}

func TestListUserConfigBackups_NoDirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "missing"))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestoreUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	saved := filepath.Join(tmpDir, "saved.yaml")
	require.NoError(t, os.WriteFile(saved, []byte("version: 1\n"), 0o644))

	current := NewConfig()
	current.Search.RRFK = 99
	require.NoError(t, current.WriteYAML(GetUserConfigPath()))

	require.NoError(t, RestoreUserConfig(saved))

	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1, "the replaced config was backed up")
}

func TestRestoreUserConfig_MissingBackup(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.Error(t, RestoreUserConfig(filepath.Join(t.TempDir(), "nope.yaml")))
}
