package nfsmount

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/dump"
	"github.com/agentic-research/ppd/internal/store"
	"github.com/agentic-research/ppd/internal/tree"
)

type contentFunc func(ctx context.Context, id int64) ([]byte, error)

func (f contentFunc) GetFileContents(ctx context.Context, id int64) ([]byte, error) {
	return f(ctx, id)
}

// fixture wires the full pipeline: a file-backed store that auto-dumps
// through rule-based actions, a tree over it, and the billy bridge.
type fixture struct {
	dumpDir string
	store   *store.Store
	fs      *TreeFS
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dumpDir := t.TempDir()

	rules, err := api.ParseDumpConfig([]byte(`
rules:
  - pattern: {_file_id: '*'}
    actions:
      - write_file: 'files/{host}/{filename}'
  - pattern: {host: '*'}
    actions:
      - merge_yaml: 'hosts/{host}.yml'
`))
	require.NoError(t, err)

	var st *store.Store
	d, err := dump.New(dumpDir, rules.Rules, dump.WithContent(contentFunc(func(ctx context.Context, id int64) ([]byte, error) {
		return st.GetFileContents(ctx, id)
	})))
	require.NoError(t, err)

	st, err = store.Open(filepath.Join(t.TempDir(), "ppd.db"), store.WithDumper(d), store.WithAutoDump(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	l, err := api.ParseLayout([]byte(`
paths:
  - path: hosts
    objdir: {display: '{host}'}
`))
	require.NoError(t, err)
	tr, err := tree.New(ctx, st, tree.WithLayout(l))
	require.NoError(t, err)

	return &fixture{dumpDir: dumpDir, store: st, fs: NewTreeFS(tr, nil)}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	fh, err := f.fs.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(fh, content)
	require.NoError(t, err)
	require.NoError(t, fh.Close())
}

func (f *fixture) dumped(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dumpDir, rel))
	require.NoError(t, err)
	return string(data)
}

func TestIntegration_WritesAreDumped(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.fs.MkdirAll("/hosts/10.0.0.1", 0o755))
	var host map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(f.dumped(t, "hosts/10.0.0.1.yml")), &host))
	assert.Equal(t, "10.0.0.1", host["host"])

	f.write(t, "/hosts/10.0.0.1/nmap.txt", "22/tcp open ssh\n")
	assert.Equal(t, "22/tcp open ssh\n", f.dumped(t, "files/10.0.0.1/nmap.txt"))

	// Overwriting through the mount updates the dumped copy.
	f.write(t, "/hosts/10.0.0.1/nmap.txt", "22/tcp closed ssh\n")
	assert.Equal(t, "22/tcp closed ssh\n", f.dumped(t, "files/10.0.0.1/nmap.txt"))
}

func TestIntegration_RenameMovesBetweenHosts(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.fs.MkdirAll("/hosts/a", 0o755))
	require.NoError(t, f.fs.MkdirAll("/hosts/b", 0o755))
	f.write(t, "/hosts/a/loot.txt", "secret\n")

	require.NoError(t, f.fs.Rename("/hosts/a/loot.txt", "/hosts/b/loot.txt"))
	assert.Equal(t, "secret\n", f.dumped(t, "files/b/loot.txt"))

	recs, err := f.store.ListObjects(context.Background(), map[string]string{"host": "a"})
	require.NoError(t, err)
	require.Len(t, recs, 1, "the mkdir record for host a remains")
	assert.False(t, recs[0].IsFile())
}

func TestIntegration_LayoutSwapThroughConfigFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.store.AddObject(ctx, store.Record{"host": "h1", "port": 443})
	require.NoError(t, err)

	f.write(t, "/"+tree.ConfigName, `
paths:
  - path: ports
    objdir: {display: '{port}'}
`)
	entries, err := f.fs.ReadDir("/")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"ports", tree.ConfigName}, names)

	info, err := f.fs.Stat("/ports/443")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// The layout survives a reopen of the tree.
	l, err := f.store.CurrentLayout(ctx)
	require.NoError(t, err)
	require.Len(t, l.Paths, 1)
	assert.Equal(t, "ports", l.Paths[0].Path)
}
