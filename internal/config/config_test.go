package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
image: /boot/vmlinux-6.1.0
script:
  file: perl
  args: [perl, ./runner.pl]
socket: /tmp/xs/sock
startupDelay: 250ms
retries: 100
retryPause: 1ms
listen: 127.0.0.1:9090
logLevel: info
commands:
  - extscript -b status
`

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileNames[0]), []byte(sample), 0o644))

	cfg, path, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FileNames[0]), path)
	assert.Equal(t, &Config{
		Image:        "/boot/vmlinux-6.1.0",
		Script:       Script{File: "perl", Args: []string{"perl", "./runner.pl"}},
		Socket:       "/tmp/xs/sock",
		StartupDelay: 250 * time.Millisecond,
		Retries:      100,
		RetryPause:   time.Millisecond,
		Listen:       "127.0.0.1:9090",
		LogLevel:     "info",
		Commands:     []string{"extscript -b status"},
	}, cfg)
}

const sampleTOML = `
image = "/boot/vmlinux-6.1.0"
socket = "/tmp/xs/sock"
startup_delay = "250ms"
redirect_stdout = true
commands = ["extscript -b status"]

[script]
file = "perl"
args = ["perl", "./runner.pl"]
`

func TestFindTOML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "extscript.toml"), []byte(sampleTOML), 0o644))

	cfg, path, err := Find(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "extscript.toml"), path)
	assert.Equal(t, &Config{
		Image:          "/boot/vmlinux-6.1.0",
		Script:         Script{File: "perl", Args: []string{"perl", "./runner.pl"}},
		Socket:         "/tmp/xs/sock",
		StartupDelay:   250 * time.Millisecond,
		RedirectStdout: true,
		Commands:       []string{"extscript -b status"},
	}, cfg)
}

func TestFindPrefersYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "extscript.toml"), []byte(sampleTOML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "extscript.yaml"), []byte("image: /yaml\n"), 0o644))

	cfg, _, err := Find(root)
	require.NoError(t, err)
	assert.Equal(t, "/yaml", cfg.Image)
}

func TestFindNearestTOMLBeatsParentYAML(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "child")
	require.NoError(t, os.MkdirAll(child, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "extscript.yaml"), []byte("image: /yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(child, "extscript.toml"), []byte(sampleTOML), 0o644))

	cfg, path, err := Find(child)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(child, "extscript.toml"), path)
	assert.Equal(t, "/boot/vmlinux-6.1.0", cfg.Image)
}

func TestFindNothing(t *testing.T) {
	cfg, path, err := Find(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("retries: [oops"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing")

	badTOML := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badTOML, []byte("retries = [oops"), 0o644))
	_, err = Load(badTOML)
	assert.ErrorContains(t, err, "parsing")
}
