package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "./policies", c.BaseDirectory)
	assert.Equal(t, "./def", c.DefinitionsDirectory)
	assert.True(t, c.Recursive)
	assert.False(t, c.Optimize)
	assert.Equal(t, 10, c.MaxRenderers)
	assert.Equal(t, 2, c.ExpInfo)
	assert.Equal(t, []string{"DEPRECATED", "def"}, c.IgnoreDirectories)
}

func TestFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, "aclforge.yaml", `
base_directory: /srv/policies
optimize: true
max_renderers: 4
ignore_directories:
  - attic
`)
	c, err := Load([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "/srv/policies", c.BaseDirectory)
	assert.True(t, c.Optimize)
	assert.Equal(t, 4, c.MaxRenderers)
	assert.Equal(t, []string{"attic"}, c.IgnoreDirectories)
	// Untouched keys keep their defaults.
	assert.Equal(t, "./def", c.DefinitionsDirectory)
	assert.True(t, c.Recursive)
}

func TestLaterFileWins(t *testing.T) {
	first := writeConfig(t, "first.yaml", "output_directory: /tmp/a\nshade_check: true\n")
	second := writeConfig(t, "second.yaml", "output_directory: /tmp/b\n")
	c, err := Load([]string{first, second})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b", c.OutputDirectory)
	assert.True(t, c.ShadeCheck)
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "base_dir: /oops\n")
	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load([]string{filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.MaxRenderers = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.ExpInfo = -1
	assert.Error(t, c.Validate())

	c = Default()
	c.BaseDirectory = ""
	assert.Error(t, c.Validate())
	c.PolicyFile = "single.pol"
	assert.NoError(t, c.Validate())
}
