package tree

import (
	"context"
	"sort"

	"github.com/agentic-research/ppd/internal/display"
	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
)

// ObjectDirectory lists one entry per distinct rendering of its display
// template over the records that have every template field.
type ObjectDirectory struct {
	dirBase
	display *display.Pattern
}

func (d *ObjectDirectory) Kind() Kind { return KindObjectDir }

func (d *ObjectDirectory) Attr(ctx context.Context) (Attr, error) {
	return Attr{Kind: KindObjectDir, ModTime: d.env.ModTime(ctx)}, nil
}

func (d *ObjectDirectory) List(ctx context.Context) ([]string, error) {
	recs, err := d.env.Store.ListObjects(ctx, d.display.Query())
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	names := []string{}
	for _, rec := range recs {
		name, err := d.display.Format(rec)
		if err != nil || !validName(name) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *ObjectDirectory) Child(_ context.Context, name string) (Node, error) {
	values, ok := d.display.Parse(name)
	if !ok || !validName(name) {
		return nil, ErrNotFound
	}
	filter := glob.Pattern{}
	container := store.Record{}
	for k, v := range values {
		filter[k] = glob.Quote(v)
		container[k] = v
	}
	return &SingleObjectDirectory{
		dirBase:   dirBase{base{env: d.env, path: Join(d.path, name)}},
		filter:    filter,
		container: container,
	}, nil
}

// SingleObjectDirectory is one rendered name under an ObjectDirectory. It
// exists while at least one record carries its field values.
type SingleObjectDirectory struct {
	dirBase
	filter    glob.Pattern
	container store.Record
}

func (d *SingleObjectDirectory) Kind() Kind { return KindSingleObject }

func (d *SingleObjectDirectory) Exists(ctx context.Context) (bool, error) {
	ids, err := d.env.Store.ListIDs(ctx, d.filter)
	if err != nil {
		return false, err
	}
	return !ids.IsEmpty(), nil
}

func (d *SingleObjectDirectory) Attr(ctx context.Context) (Attr, error) {
	ok, err := d.Exists(ctx)
	if err != nil {
		return Attr{}, err
	}
	if !ok {
		return Attr{}, ErrNotFound
	}
	return Attr{Kind: KindSingleObject, ModTime: d.env.ModTime(ctx)}, nil
}

func (d *SingleObjectDirectory) List(ctx context.Context) ([]string, error) {
	recs, err := d.env.Store.ListObjects(ctx, d.filter.With(store.FieldFilename, glob.Wildcard).With(store.FieldFileID, glob.Wildcard))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		ok, err := d.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
	}
	seen := map[string]bool{}
	names := []string{}
	for _, rec := range recs {
		name := rec.Filename()
		if !validName(name) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *SingleObjectDirectory) Child(ctx context.Context, name string) (Node, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	n, err := lookupFile(ctx, d.env, Join(d.path, name), d.filter, d.container, name)
	if err != nil {
		return nil, err
	}
	if n.Kind() == KindPotential {
		ok, err := d.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
	}
	return n, nil
}

// Mkdir creates a metadata-only record carrying the directory's values.
func (d *SingleObjectDirectory) Mkdir(ctx context.Context) error {
	ok, err := d.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return ErrExists
	}
	_, err = d.env.Store.AddObject(ctx, d.container.Clone())
	return err
}
