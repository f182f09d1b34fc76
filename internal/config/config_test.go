package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseSourceTableTabSeparated(t *testing.T) {
	path := writeTable(t, "living_room\tLiving Room\nkitchen\tKitchen\n")
	sources, err := parseSourceTable(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, Source{Name: "living_room", HumanReadableName: "Living Room"}, sources[0])
	assert.Equal(t, Source{Name: "kitchen", HumanReadableName: "Kitchen"}, sources[1])
}

func TestParseSourceTableSkipsBlankAndCommentLines(t *testing.T) {
	path := writeTable(t, "\n# a comment\nliving_room\tLiving Room\n")
	sources, err := parseSourceTable(path)
	require.NoError(t, err)
	require.Len(t, sources, 1)
}

func TestParseSourceTableRejectsMalformedLine(t *testing.T) {
	path := writeTable(t, "not_a_valid_line_at_all\n")
	_, err := parseSourceTable(path)
	assert.Error(t, err)
}

func TestLoadRequiresListenAddress(t *testing.T) {
	os.Unsetenv("API_ADDRESS_DEV")
	os.Unsetenv("YOUTUBE_API_KEY")
	path := writeTable(t, "living_room\tLiving Room\n")

	_, err := Load(Dev, path)
	assert.Error(t, err)
}

func TestLoadSucceedsWithRequiredEnvSet(t *testing.T) {
	t.Setenv("API_ADDRESS_DEV", "127.0.0.1:8080")
	t.Setenv("YOUTUBE_API_KEY", "test-key")
	path := writeTable(t, "living_room\tLiving Room\n")

	cfg, err := Load(Dev, path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddress)
	assert.Equal(t, "zonecast.db", cfg.DatabaseDSN)
	require.Len(t, cfg.Sources, 1)
}
