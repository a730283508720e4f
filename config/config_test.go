package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s := Load(nil, t.TempDir())
	cfg := s.Get()
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 4000, cfg.LocalPort)
	assert.Equal(t, "mume.org", cfg.RemoteHost)
}

func TestLoadCorruptFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644))
	s := Load(nil, dir)
	assert.Equal(t, Defaults(), s.Get())
}

func TestPartialFileKeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"local_port": 4001, "auto_update_rooms": true}`), 0o644))
	s := Load(nil, dir)
	cfg := s.Get()
	assert.Equal(t, 4001, cfg.LocalPort)
	assert.True(t, cfg.AutoUpdateRooms)
	assert.Equal(t, "normal", cfg.OutputFormat)
}

func TestUpdateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := Load(nil, dir)
	require.NoError(t, s.Update(func(c *Config) {
		c.OutputFormat = "tintin"
		c.AutoUpdateRooms = true
	}))

	reloaded := Load(nil, dir)
	cfg := reloaded.Get()
	assert.Equal(t, "tintin", cfg.OutputFormat)
	assert.True(t, cfg.AutoUpdateRooms)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "mapperproxy")
	s := Load(nil, dir)
	require.NoError(t, s.Save())
	_, err := os.Stat(filepath.Join(dir, "config.json"))
	assert.NoError(t, err)
}

func TestDataDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg", "mapperproxy"), dir)
}
