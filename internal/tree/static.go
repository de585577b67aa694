package tree

import (
	"context"
	"sort"

	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
)

// StaticDirectory has fixed children plus any file records whose dirname
// is this directory's path.
type StaticDirectory struct {
	dirBase
	names    []string
	children map[string]Node
}

func newStaticDirectory(env *Env, path string) *StaticDirectory {
	return &StaticDirectory{
		dirBase:  dirBase{base{env: env, path: path}},
		children: map[string]Node{},
	}
}

func (d *StaticDirectory) add(name string, n Node) {
	d.names = append(d.names, name)
	d.children[name] = n
}

func (d *StaticDirectory) Kind() Kind { return KindStatic }

func (d *StaticDirectory) Attr(ctx context.Context) (Attr, error) {
	return Attr{Kind: KindStatic, ModTime: d.env.ModTime(ctx)}, nil
}

// scope selects the file records that live in this directory.
func (d *StaticDirectory) scope() glob.Pattern {
	return glob.Pattern{
		store.FieldDirname: glob.Quote(d.path),
		store.FieldFileID:  glob.Wildcard,
	}
}

// List returns the declared children in layout order followed by the
// sorted names of scoped files.
func (d *StaticDirectory) List(ctx context.Context) ([]string, error) {
	recs, err := d.env.Store.ListObjects(ctx, d.scope())
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), d.names...)
	var files []string
	seen := map[string]bool{}
	for _, rec := range recs {
		name := rec.Filename()
		if !validName(name) || seen[name] {
			continue
		}
		if _, declared := d.children[name]; declared {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	sort.Strings(files)
	return append(out, files...), nil
}

func (d *StaticDirectory) Child(ctx context.Context, name string) (Node, error) {
	if n, ok := d.children[name]; ok {
		return n, nil
	}
	if !validName(name) {
		return nil, ErrNotFound
	}
	container := store.Record{store.FieldDirname: d.path}
	return lookupFile(ctx, d.env, Join(d.path, name), d.scope(), container, name)
}

// lookupFile returns the FileNode for the first record matching scope with
// the given filename, or a PotentialFileNode that would create it inside
// container.
func lookupFile(ctx context.Context, env *Env, path string, scope glob.Pattern, container store.Record, name string) (Node, error) {
	recs, err := env.Store.ListObjects(ctx, scope.With(store.FieldFilename, glob.Quote(name)).With(store.FieldFileID, glob.Wildcard))
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return newFileNode(env, path, recs[0].ID(), container), nil
	}
	meta := container.Clone()
	meta[store.FieldFilename] = name
	return &PotentialFileNode{base: base{env: env, path: path}, metadata: meta}, nil
}
