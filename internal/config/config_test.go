package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := &Config{
		LocalDir: "/home/user/synced",
		Provider: Provider{Kind: ProviderLocalFs, LocalFsPath: "/home/user/remote"},
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.LocalDir, loaded.LocalDir)
	assert.Equal(t, cfg.Provider.Kind, loaded.Provider.Kind)
	assert.Equal(t, cfg.Provider.LocalFsPath, loaded.Provider.LocalFsPath)
}

func TestLoadMissingLocalDirIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(path, &Config{Provider: Provider{Kind: ProviderLocalFs}}))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestForInstanceFillsAllPaths(t *testing.T) {
	paths := ForInstance("default")
	assert.Contains(t, paths.ConfigFile, "default")
	assert.Contains(t, paths.TokenCache, "default")
	assert.Contains(t, paths.EntryCache, "default")
	assert.Contains(t, paths.PortFile, "default.port")
}
