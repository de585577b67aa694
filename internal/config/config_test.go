package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var names = map[string]string{
	KeyDatabase:      "database",
	KeyDumpDirectory: "dump-dir",
	KeyLayout:        "layout",
	KeyVerbose:       "verbose",
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("database", "d", DefaultDatabase, "")
	fs.StringP("dump-dir", "D", "", "")
	fs.StringP("layout", "L", "", "")
	fs.BoolP("verbose", "v", false, "")
	return fs
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("PPD_DATABASE", "")
	t.Setenv("PPD_DUMP_DIRECTORY", "")
	t.Setenv("PPD_LAYOUT", "")

	s, err := Resolve(flagSet(), names)
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, s.Database)
	assert.False(t, s.AutoDump())
}

func TestResolve_EnvThenFlag(t *testing.T) {
	t.Setenv("PPD_DATABASE", "/tmp/env.db")
	t.Setenv("PPD_DUMP_DIRECTORY", "/tmp/out")
	t.Setenv("PPD_LAYOUT", "/tmp/rules.yml")

	fs := flagSet()
	s, err := Resolve(fs, names)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", s.Database)
	assert.Equal(t, "/tmp/out", s.DumpDirectory)
	assert.True(t, s.AutoDump())

	require.NoError(t, fs.Parse([]string{"-d", "/tmp/flag.db"}))
	s, err = Resolve(fs, names)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.db", s.Database, "an explicit flag beats the environment")
}

func TestLoadLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  - path: cattable\n    scriptable:\n      out_script: cat\n"), 0o644))

	l, err := LoadLayout(path)
	require.NoError(t, err)
	require.Len(t, l.Paths, 1)
	assert.Equal(t, "scriptable", l.Paths[0].Kind)

	_, err = LoadLayout(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadDumpConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - pattern: {host: '*'}
    actions:
      - merge_yaml: 'hosts/{host}.yml'
      - write_file: 'files/{filename}'
  - pattern: all
    actions:
      - merge_yaml: rest.yml
`), 0o644))

	c, err := LoadDumpConfig(path)
	require.NoError(t, err)
	require.Len(t, c.Rules, 2)
	assert.Equal(t, map[string]string{"host": "*"}, c.Rules[0].Pattern.Fields)
	assert.Len(t, c.Rules[0].Actions, 2)
	assert.True(t, c.Rules[1].Pattern.All)

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - pattern: all\n    actions:\n      - {}\n"), 0o644))
	_, err = LoadDumpConfig(bad)
	assert.Error(t, err)
}
