package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/require"

	"udpfs/internal/config"
)

func TestDefault(t *testing.T) {
	cfg, err := config.LoadFromFile("")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:6677", cfg.Server.Address)
	require.Equal(t, 2*time.Second, cfg.Client.Timeout.Duration)
	require.Equal(t, 3*time.Second, cfg.Client.SendBackoff.Duration)
	require.Equal(t, 3, cfg.Client.Attempts)
	require.Zero(t, cfg.Server.Workers)
	require.EqualValues(t, units.GiB, cfg.Client.MaxResourceSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "debug"

[server]
root = "/srv/files"
address = "127.0.0.1:7000"
workers = 8
read_buffer = "256KiB"
file_cache_ttl = "30s"

[client]
timeout = "500ms"
attempts = 5
max_resource_size = "16MB"
`), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/srv/files", cfg.Server.Root)
	require.Equal(t, "127.0.0.1:7000", cfg.Server.Address)
	require.Equal(t, 8, cfg.Server.Workers)
	require.EqualValues(t, 256*units.KiB, cfg.Server.ReadBuffer)
	require.Equal(t, 30*time.Second, cfg.Server.FileCacheTTL.Duration)
	require.Equal(t, 500*time.Millisecond, cfg.Client.Timeout.Duration)
	require.Equal(t, 5, cfg.Client.Attempts)
	require.EqualValues(t, 16*units.MiB, cfg.Client.MaxResourceSize)

	// untouched keys keep their defaults
	require.Equal(t, 3*time.Second, cfg.Client.SendBackoff.Duration)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[client]
timeout = "soon"
`), 0o600))

	_, err := config.LoadFromFile(path)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UDPFS_SERVER_ADDRESS", "127.0.0.1:9999")
	t.Setenv("UDPFS_CLIENT_TIMEOUT", "250ms")
	t.Setenv("UDPFS_CLIENT_ATTEMPTS", "7")
	t.Setenv("UDPFS_SERVER_WRITE_BUFFER", "1MiB")

	cfg, err := config.LoadFromFile("")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
	require.Equal(t, 250*time.Millisecond, cfg.Client.Timeout.Duration)
	require.Equal(t, 7, cfg.Client.Attempts)
	require.EqualValues(t, units.MiB, cfg.Server.WriteBuffer)
}

func TestEnvInvalid(t *testing.T) {
	t.Setenv("UDPFS_CLIENT_ATTEMPTS", "many")

	_, err := config.LoadFromFile("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Client.Attempts = 0
	cfg.Server.Workers = -1
	require.Error(t, cfg.Validate())
}
