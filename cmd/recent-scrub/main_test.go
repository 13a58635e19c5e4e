package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/recent-scrub/pkg/config"
)

const registryDoc = `<?xml version="1.0" encoding="UTF-8"?>
<xbel version="1.0"
      xmlns:bookmark="http://www.freedesktop.org/standards/desktop-bookmarks"
      xmlns:mime="http://www.freedesktop.org/standards/shared-mime-info"
>
  <bookmark href="file:///home/alice/Downloads/secret.pdf" added="2024-03-01T10:00:00Z" modified="2024-03-01T10:00:00Z" visited="2024-03-01T10:00:00Z">
    <info>
      <metadata owner="http://freedesktop.org">
        <mime:mime-type type="application/pdf"/>
      </metadata>
    </info>
  </bookmark>
  <bookmark href="file:///home/alice/Documents/report.odt" added="2024-03-01T10:00:00Z" modified="2024-03-01T10:00:00Z" visited="2024-03-01T10:00:00Z">
    <info>
      <metadata owner="http://freedesktop.org">
        <mime:mime-type type="application/vnd.oasis.opendocument.text"/>
      </metadata>
    </info>
  </bookmark>
</xbel>
`

type env struct {
	dir       string
	blacklist string
	registry  string
	config    string
}

// setup writes a config pointing at a temp blacklist and registry.
func setup(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:       dir,
		blacklist: filepath.Join(dir, "grms.conf"),
		registry:  filepath.Join(dir, "recently-used.xbel"),
		config:    filepath.Join(dir, "config.yaml"),
	}
	t.Setenv(config.EnvPath, e.config)

	require.NoError(t, os.WriteFile(e.registry, []byte(registryDoc), 0o644))
	cfg := fmt.Sprintf("blacklist: %s\ntargets:\n  - %s\ndebounce: 10ms\n", e.blacklist, e.registry)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))
	return e
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), afero.NewOsFs(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionAndHelp(t *testing.T) {
	code, out, _ := runCLI(t, "--version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "recent-scrub v"+version)

	code, _, errOut := runCLI(t, "--help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, errOut, "Usage: recent-scrub")
}

func TestBadInvocation(t *testing.T) {
	setup(t)
	tests := [][]string{
		{"--once", "--purge"},
		{"--no-such-flag"},
		{"stray"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			code, _, errOut := runCLI(t, args...)
			assert.Equal(t, exitError, code)
			assert.NotEmpty(t, errOut)
		})
	}
}

func TestAddThenOnce(t *testing.T) {
	e := setup(t)

	code, out, _ := runCLI(t, "-a", "/home/alice/Downloads")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Added file:///home/alice/Downloads")

	code, out, _ = runCLI(t, "--add", "/home/alice/Downloads/")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Already covered")

	data, err := os.ReadFile(e.blacklist)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Downloads")
	info, err := os.Stat(e.blacklist)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	code, out, _ = runCLI(t, "--once", "-v")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "removed 1 of 2 entries")

	doc, err := os.ReadFile(e.registry)
	require.NoError(t, err)
	assert.NotContains(t, string(doc), "secret.pdf")
	assert.Contains(t, string(doc), "report.odt")

	info, err = os.Stat(e.registry)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAdd_Invalid(t *testing.T) {
	e := setup(t)
	code, _, errOut := runCLI(t, "-a", "")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "Error")

	_, err := os.Stat(e.blacklist)
	assert.True(t, os.IsNotExist(err), "nothing should be written")
}

func TestRemove(t *testing.T) {
	setup(t)
	code, _, _ := runCLI(t, "-a", "/home/alice/Downloads")
	require.Equal(t, exitOK, code)

	code, out, _ := runCLI(t, "-r", "/home/alice/Downloads/secret.pdf")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Removed 1 prefix(es)")

	code, out, _ = runCLI(t, "--remove", "/home/alice/Downloads")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Not blacklisted")
}

func TestPurge(t *testing.T) {
	e := setup(t)
	code, out, _ := runCLI(t, "--purge", "-v")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "purged 2 entries")

	doc, err := os.ReadFile(e.registry)
	require.NoError(t, err)
	assert.NotContains(t, string(doc), "<bookmark ")
	assert.Contains(t, string(doc), "</xbel>")
}

func TestCorruptBlacklistFailsClosed(t *testing.T) {
	e := setup(t)
	require.NoError(t, os.WriteFile(e.blacklist, []byte("deadbeef\t3\n"), 0o600))

	code, _, _ := runCLI(t, "--once")
	assert.Equal(t, exitError, code)

	doc, err := os.ReadFile(e.registry)
	require.NoError(t, err)
	assert.Equal(t, registryDoc, string(doc), "registry must not be touched")
}

func TestBlacklistFlagOverridesConfig(t *testing.T) {
	e := setup(t)
	other := filepath.Join(e.dir, "other.conf")

	code, _, _ := runCLI(t, "--blacklist", other, "-a", "/tmp/x")
	require.Equal(t, exitOK, code)

	_, err := os.Stat(other)
	assert.NoError(t, err)
	_, err = os.Stat(e.blacklist)
	assert.True(t, os.IsNotExist(err))
}

func TestExplicitConfigMustExist(t *testing.T) {
	e := setup(t)
	code, _, errOut := runCLI(t, "--config", filepath.Join(e.dir, "missing.yaml"), "--once")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "config")
}

func TestWatchStopsOnCancel(t *testing.T) {
	setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, afero.NewOsFs(), nil, &stdout, &stderr)
	assert.Equal(t, exitOK, code)
}
