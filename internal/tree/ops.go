package tree

import (
	"context"
	"fmt"
)

// Path-level operations used by both filesystem bridges.

func (t *Tree) resolveExisting(ctx context.Context, p string) (Node, error) {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	ok, err := n.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return n, nil
}

// Stat returns the attributes of the node at p.
func (t *Tree) Stat(ctx context.Context, p string) (Attr, error) {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return Attr{}, err
	}
	return n.Attr(ctx)
}

// ReadDir lists the directory at p.
func (t *Tree) ReadDir(ctx context.Context, p string) ([]string, error) {
	n, err := t.resolveExisting(ctx, p)
	if err != nil {
		return nil, err
	}
	return n.List(ctx)
}

// ReadAt reads from the file at p into buf starting at off.
func (t *Tree) ReadAt(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return 0, err
	}
	return n.Read(ctx, buf, off)
}

// ReadFile returns the whole content of the file at p.
func (t *Tree) ReadFile(ctx context.Context, p string) ([]byte, error) {
	a, err := t.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if a.IsDir() {
		return nil, ErrIsDir
	}
	buf := make([]byte, a.Size)
	n, err := t.ReadAt(ctx, p, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteAt writes data into the file at p at off.
func (t *Tree) WriteAt(ctx context.Context, p string, data []byte, off int64) (int, error) {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return 0, err
	}
	return n.Write(ctx, data, off)
}

// Create makes an empty file at p. It fails with ErrExists if p exists.
func (t *Tree) Create(ctx context.Context, p string) (Node, error) {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return n.Create(ctx)
}

// Truncate resizes the file at p.
func (t *Tree) Truncate(ctx context.Context, p string, size int64) error {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return err
	}
	return n.Truncate(ctx, size)
}

// Rename moves the node at from to to.
func (t *Tree) Rename(ctx context.Context, from, to string) error {
	src, err := t.resolveExisting(ctx, from)
	if err != nil {
		return err
	}
	dst, err := t.Resolve(ctx, to)
	if err != nil {
		return err
	}
	return src.Rename(ctx, dst)
}

// Unlink removes the file at p.
func (t *Tree) Unlink(ctx context.Context, p string) error {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return err
	}
	return n.Unlink(ctx)
}

// Mkdir creates the directory at p.
func (t *Tree) Mkdir(ctx context.Context, p string) error {
	n, err := t.Resolve(ctx, p)
	if err != nil {
		return err
	}
	return n.Mkdir(ctx)
}
