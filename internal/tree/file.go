package tree

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
)

// FileNode is bound to one file record and its blob.
type FileNode struct {
	fileBase
	id int64
	// container holds the field values of the directory the file was found
	// in, e.g. {host: foo.com} or {dirname: /}.
	container store.Record
}

func newFileNode(env *Env, path string, id int64, container store.Record) *FileNode {
	return &FileNode{fileBase: fileBase{base{env: env, path: path}}, id: id, container: container}
}

func (f *FileNode) Kind() Kind { return KindFile }

// ID returns the bound record's id.
func (f *FileNode) ID() int64 { return f.id }

func (f *FileNode) Attr(ctx context.Context) (Attr, error) {
	size, err := f.env.Store.FileSize(ctx, f.id)
	if err != nil {
		return Attr{}, notFound(err)
	}
	return Attr{Kind: KindFile, Size: size, ModTime: f.env.ModTime(ctx)}, nil
}

func (f *FileNode) Read(ctx context.Context, buf []byte, off int64) (int, error) {
	data, err := f.env.Store.GetFileContents(ctx, f.id)
	if err != nil {
		return 0, notFound(err)
	}
	return readSlice(data, buf, off), nil
}

func (f *FileNode) Write(ctx context.Context, data []byte, off int64) (int, error) {
	n, err := f.env.Store.WriteFileAt(ctx, f.id, data, off)
	return n, notFound(err)
}

func (f *FileNode) Truncate(ctx context.Context, size int64) error {
	return notFound(f.env.Store.TruncateFile(ctx, f.id, size))
}

// Unlink detaches the file from its record. The record itself survives only
// if it still carries fields beyond those that merely place it in the tree.
func (f *FileNode) Unlink(ctx context.Context) error {
	rec, err := f.env.Store.GetObject(ctx, f.id)
	if err != nil {
		return notFound(err)
	}
	rest := rec.Fields()
	delete(rest, store.FieldFilename)
	delete(rest, store.FieldFileID)
	delete(rest, store.FieldFileHash)

	keep := false
	for k := range rest {
		if !store.IsReserved(k) && !f.env.tree.isPlacement(k) {
			keep = true
			break
		}
	}
	if !keep {
		f.env.Logger.Debug("unlink deletes record", zap.Int64("id", f.id), zap.String("path", f.path))
		return notFound(f.env.Store.DeleteObject(ctx, f.id))
	}
	f.env.Logger.Debug("unlink keeps metadata", zap.Int64("id", f.id), zap.String("path", f.path))
	_, err = f.env.Store.ReplaceObject(ctx, f.id, rest)
	return notFound(err)
}

// Rename moves the file to target. Inside the same directory only the
// filename changes; anywhere else the content is copied and this file is
// unlinked. Content is copied through memory.
func (f *FileNode) Rename(ctx context.Context, target Node) error {
	switch t := target.(type) {
	case *PotentialFileNode:
		name := t.metadata.Filename()
		if sameContainer(f.container, t.metadata) {
			_, err := f.env.Store.UpdateObject(ctx, f.id, store.Record{store.FieldFilename: name})
			return notFound(err)
		}
		created, err := t.Create(ctx)
		if err != nil {
			return err
		}
		return f.moveInto(ctx, created)
	case *FileNode:
		if t.id == f.id {
			return nil
		}
		return f.moveInto(ctx, t)
	case *ConfigNode:
		return f.moveInto(ctx, t)
	default:
		return ErrNotSupported
	}
}

func (f *FileNode) moveInto(ctx context.Context, dst Node) error {
	data, err := f.env.Store.GetFileContents(ctx, f.id)
	if err != nil {
		return notFound(err)
	}
	switch d := dst.(type) {
	case *FileNode:
		if err := f.env.Store.SetFileContents(ctx, d.id, data); err != nil {
			return fmt.Errorf("copy to %s: %w", d.path, err)
		}
	default:
		if _, err := dst.Write(ctx, data, 0); err != nil {
			return fmt.Errorf("copy to %s: %w", dst.Path(), err)
		}
	}
	return f.Unlink(ctx)
}

// sameContainer compares a file's container with a target's metadata,
// ignoring the target's filename.
func sameContainer(container, meta store.Record) bool {
	n := 0
	for k, v := range meta {
		if k == store.FieldFilename {
			continue
		}
		n++
		cv, ok := container[k]
		if !ok || glob.Stringify(cv) != glob.Stringify(v) {
			return false
		}
	}
	return n == len(container)
}

// notFound maps store misses onto the tree's ErrNotFound.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotFile) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
