package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseDay("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = parseDay("2024-04-15", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDay("15/04/2024", fallback)
	assert.Error(t, err)
}

func TestMigrateThenVerify(t *testing.T) {
	t.Setenv("FNO_DATABASE_DSN", filepath.Join(t.TempDir(), "cli.db"))
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	rootCmd.SetArgs([]string{"--config", configPath, "migrate"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"--config", configPath, "audit", "verify", "--since", "2024-01-01"})
	require.NoError(t, rootCmd.Execute())
}
