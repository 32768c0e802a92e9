package compile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclforge/aclforge/internal/config"
	_ "github.com/aclforge/aclforge/internal/generator/paloalto"
	"github.com/aclforge/aclforge/internal/logging"
)

const testDefs = `
network "INTERNAL" {
  members = ["10.0.0.0/8"]
}
service "SMTP" {
  members = ["25/tcp"]
}
`

const testPolicy = `
header {
  comment:: "mail filter"
  target:: paloalto from-zone trust to-zone untrust
}
term allow-smtp {
  destination-address:: INTERNAL
  destination-port:: SMTP
  protocol:: tcp
  action:: accept
}
term drop-rest {
  action:: deny
}
`

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// testTree builds a config pointing at a populated policy tree.
func testTree(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.BaseDirectory = filepath.Join(root, "policies")
	cfg.DefinitionsDirectory = filepath.Join(root, "def")
	cfg.OutputDirectory = filepath.Join(root, "filters")
	writeFile(t, filepath.Join(cfg.DefinitionsDirectory, "defs.def"), testDefs)
	writeFile(t, filepath.Join(cfg.BaseDirectory, "corp", "pol", "mail.pol"), testPolicy)
	return cfg
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "pol", "top.pol"), "x")
	writeFile(t, filepath.Join(base, "corp", "pol", "a.pol"), "x")
	writeFile(t, filepath.Join(base, "corp", "pol", "notes.txt"), "x")
	writeFile(t, filepath.Join(base, "attic", "pol", "old.pol"), "x")
	writeFile(t, filepath.Join(base, "prod", "edge", "pol", "b.pol"), "x")

	jobs, err := Discover(base, "/out", true, []string{"attic"})
	require.NoError(t, err)

	var inputs []string
	outDirs := map[string]string{}
	for _, j := range jobs {
		rel, err := filepath.Rel(base, j.Input)
		require.NoError(t, err)
		inputs = append(inputs, rel)
		outDirs[rel] = j.OutputDir
	}
	assert.ElementsMatch(t, []string{
		"pol/top.pol",
		"corp/pol/a.pol",
		"prod/edge/pol/b.pol",
	}, inputs)
	assert.Equal(t, "/out", outDirs["pol/top.pol"])
	assert.Equal(t, "/out/corp", outDirs["corp/pol/a.pol"])
	assert.Equal(t, "/out/prod/edge", outDirs["prod/edge/pol/b.pol"])
}

func TestDiscoverNonRecursive(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "pol", "top.pol"), "x")
	writeFile(t, filepath.Join(base, "corp", "pol", "a.pol"), "x")

	jobs, err := Discover(base, "/out", false, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, filepath.Join(base, "pol", "top.pol"), jobs[0].Input)
}

func TestRunWritesRenderedFilters(t *testing.T) {
	cfg := testTree(t)
	r, err := NewRunner(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Run())

	out := filepath.Join(cfg.OutputDirectory, "corp", "mail.xml")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<entry name="allow-smtp">`)
	assert.Contains(t, string(data), `<entry name="drop-rest">`)
}

func TestRenderFileSkipsUnchanged(t *testing.T) {
	cfg := testTree(t)
	r, err := NewRunner(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Run())

	// Re-render: output on disk already matches, so nothing to write.
	in := filepath.Join(cfg.BaseDirectory, "corp", "pol", "mail.pol")
	outputs, err := r.RenderFile(in, filepath.Join(cfg.OutputDirectory, "corp"))
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestRunSingleFileMode(t *testing.T) {
	cfg := testTree(t)
	cfg.PolicyFile = filepath.Join(cfg.BaseDirectory, "corp", "pol", "mail.pol")
	r, err := NewRunner(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, r.Run())

	_, err = os.Stat(filepath.Join(cfg.OutputDirectory, "mail.xml"))
	assert.NoError(t, err)
}

func TestRunReportsFailures(t *testing.T) {
	cfg := testTree(t)
	writeFile(t, filepath.Join(cfg.BaseDirectory, "corp", "pol", "broken.pol"), "term no-header {\n  action:: accept\n}\n")
	r, err := NewRunner(cfg, quietLogger())
	require.NoError(t, err)

	err = r.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 policy files failed")

	// The good sibling still rendered.
	_, statErr := os.Stat(filepath.Join(cfg.OutputDirectory, "corp", "mail.xml"))
	assert.NoError(t, statErr)
}

func TestRunnerBadDefinitionsDirectory(t *testing.T) {
	cfg := testTree(t)
	cfg.DefinitionsDirectory = filepath.Join(cfg.DefinitionsDirectory, "absent")
	_, err := NewRunner(cfg, quietLogger())
	require.Error(t, err)
}

func TestDirIncluder(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "shared", "common.inc"), "term shared {\n  action:: deny\n}\n")

	inc := DirIncluder(base)
	text, err := inc.Include("shared/common.inc")
	require.NoError(t, err)
	assert.Contains(t, text, "term shared")

	_, err = inc.Include("../outside.inc")
	assert.Error(t, err)
	_, err = inc.Include("/etc/passwd")
	assert.Error(t, err)
}
