package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/config"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	limits, err := config.Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.NoError(t, err)
	require.Equal(t, config.DefaultLimits().DefaultCapacity, limits.Default)
}

func TestLoad_ParsesJSONCWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.jsonc")
	const body = `{
  // default capacity for channels with no matching prefix
  "default_capacity": 2097152,
  "prefixes": {
    "audit.": 67108864,
  },
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	limits, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(2097152), limits.Default)
	require.Equal(t, uint64(67108864), limits.Capacity("audit.login"))
	require.Equal(t, uint64(2097152), limits.Capacity("other"))
}

func TestLoad_RejectsOverlappingPrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.jsonc")
	const body = `{"prefixes": {"a": 1024, "ab": 2048}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}
