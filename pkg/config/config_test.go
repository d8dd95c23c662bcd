package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "%", cfg.Settings.TagSeparator)
	assert.Equal(t, "#", cfg.Settings.HashSeparator)
	assert.Equal(t, "bak", cfg.Settings.BackupExtension)
	assert.Equal(t, "$HOME", cfg.Defaults.Directory)
	assert.Equal(t, 644, cfg.Defaults.Permission)
	assert.False(t, cfg.Defaults.Optional)
	assert.Empty(t, cfg.Defaults.Tags)
}

func TestLoadExplicitOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uberdot.toml")
	content := `
[settings]
tag_separator = "@"
shell_timeout = 5

[defaults]
permission = 600
tags = ["laptop", "work"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "@", cfg.Settings.TagSeparator)
	assert.Equal(t, 5, cfg.Settings.ShellTimeout)
	assert.Equal(t, 600, cfg.Defaults.Permission)
	assert.Equal(t, []string{"laptop", "work"}, cfg.Defaults.Tags)
	// Untouched values keep their embedded defaults.
	assert.Equal(t, "bak", cfg.Settings.BackupExtension)
}

func TestLoadBadToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uberdot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[settings\nbroken"), 0644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadBlacklist(t *testing.T) {
	dir := t.TempDir()
	content := ".*/\\.ssh/authorized_keys\n\n# comment\n.*/\\.bashrc\n.*/\\.ssh/authorized_keys\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "black.list"), []byte(content), 0644))

	patterns, err := config.LoadBlacklist(dir)
	require.NoError(t, err)

	assert.Contains(t, patterns, `.*/\.ssh/authorized_keys`)
	assert.Contains(t, patterns, `.*/\.bashrc`)
	// Duplicates and comments are dropped.
	count := 0
	for _, p := range patterns {
		if p == `.*/\.ssh/authorized_keys` {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
