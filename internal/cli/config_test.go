package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shufflesync/internal/config"
)

func TestConfigShow_Defaults(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "8080")
	assert.Contains(t, out, "grace_period: 30s")
	assert.Contains(t, out, "code_length: 6")
}

func TestConfigShow_FileAndFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "shufflesync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9090"
session:
  code_length: 8
`), 0o644))

	out, err := execute(t, "config", "show", "-c", file, "--driver", "memory", "--format", "json")
	require.NoError(t, err)

	var cfg config.Config
	decodeData(t, out, &cfg)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Session.CodeLength)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestConfigShow_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SHUFFLESYNC_LOG_LEVEL=warn\n"), 0o644))

	out, err := execute(t, "config", "show", "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, out, "level: warn")
}

func TestConfigCheck(t *testing.T) {
	out, err := execute(t, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("session:\n  code_length: 2\n"), 0o644))

	out, err = execute(t, "config", "check", "-c", file)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "code_length")
}
