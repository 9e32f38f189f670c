package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "baml_src", cfg.Project.Marker)
	assert.Equal(t, 400*time.Millisecond, cfg.Validation.Quiet.Duration)
	assert.Equal(t, 4*time.Second, cfg.Validation.MaxWait.Duration)
	assert.Equal(t, time.Second, cfg.CodeLens.Quiet.Duration)
	assert.Equal(t, []string{"build"}, cfg.Build.Args)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[project]
extensions = ["baml", ".JSON"]

[validation]
quiet = "50ms"

[compiler]
command = "baml-compile"
codec = "msgpack"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{".baml", ".json"}, cfg.Project.Extensions)
	assert.Equal(t, 50*time.Millisecond, cfg.Validation.Quiet.Duration)
	assert.Equal(t, 4*time.Second, cfg.Validation.MaxWait.Duration)
	assert.Equal(t, "baml-compile", cfg.Compiler.Command)
	assert.Equal(t, "baml_src", cfg.Project.Marker)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "[project]\nmarkr = \"x\"\n",
		"bad duration": "[validation]\nquiet = \"soon\"\n",
		"bad codec":    "[compiler]\ncodec = \"xml\"\n",
		"bad level":    "[log]\nlevel = \"loud\"\n",
		"empty marker": "[project]\nmarker = \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), body))
			assert.Error(t, err)
		})
	}
}

func TestFindWalksUp(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, err := Find(nested)
	if !errors.Is(err, ErrNotFound) {
		// a stray config above the temp dir would make this meaningless
		t.Skipf("unexpected lookup result: %v", err)
	}

	want := writeConfig(t, base, "")
	got, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg, path, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, want, path)
	assert.Equal(t, Default(), cfg)
}
