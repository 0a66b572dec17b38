package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.gcfg"), Overrides{})
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangram.gcfg")
	contents := `
[core]
store-dir = /data/tangram
listen-addr = :9000
heartbeat-timeout-seconds = 30

[remote "origin"]
transport = http
url = https://example.test/tangram
token = secret
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.Equal(t, "/data/tangram", cfg.StoreDir)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	require.Equal(t, Defaults().CacheEntryTTL, cfg.CacheEntryTTL)

	remote, ok := cfg.Remotes["origin"]
	require.True(t, ok)
	require.Equal(t, "http", remote.Transport)
	require.Equal(t, "https://example.test/tangram", remote.URL)
	require.Equal(t, "secret", remote.Token)
}

func TestLoadFlagsOverrideFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangram.gcfg")
	contents := "[core]\nstore-dir = /data/tangram\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path, Overrides{StoreDir: "/flag/override", GCMaxCount: 5})
	require.NoError(t, err)
	require.Equal(t, "/flag/override", cfg.StoreDir)
	require.Equal(t, 5, cfg.GCMaxCount)
	// Unset flag fields fall through to the file/default layer untouched.
	require.Equal(t, Defaults().ListenAddr, cfg.ListenAddr)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tangram.gcfg")
	require.NoError(t, os.WriteFile(path, []byte("not valid gcfg [[["), 0o644))

	_, err := Load(path, Overrides{})
	require.Error(t, err)
}
