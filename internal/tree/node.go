// Package tree resolves slash-separated paths to resource nodes computed from
// the object store. Nodes are rebuilt on every lookup and carry only the
// criteria that select their records, so the tree always reflects the live
// store.
package tree

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a path names no node or record.
	ErrNotFound = errors.New("no such resource")
	// ErrNotDir is returned for directory operations on a file.
	ErrNotDir = errors.New("not a directory")
	// ErrIsDir is returned for content operations on a directory.
	ErrIsDir = errors.New("is a directory")
	// ErrExists is returned when creating a path that already exists.
	ErrExists = errors.New("resource exists")
	// ErrNotSupported is returned for operations a node kind does not allow.
	ErrNotSupported = errors.New("operation not supported")
)

// Kind tags the concrete node type.
type Kind int

const (
	KindStatic Kind = iota
	KindObjectDir
	KindSingleObject
	KindFile
	KindScriptable
	KindConfig
	KindPotential
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindObjectDir:
		return "objdir"
	case KindSingleObject:
		return "object"
	case KindFile:
		return "file"
	case KindScriptable:
		return "scriptable"
	case KindConfig:
		return "config"
	case KindPotential:
		return "potential"
	}
	return "unknown"
}

// IsDir reports whether nodes of this kind are directories.
func (k Kind) IsDir() bool {
	return k == KindStatic || k == KindObjectDir || k == KindSingleObject
}

// Attr is what a bridge needs to answer getattr.
type Attr struct {
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool { return a.Kind.IsDir() }

// Node is one resolved path element.
type Node interface {
	Kind() Kind
	Path() string
	Exists(ctx context.Context) (bool, error)
	Attr(ctx context.Context) (Attr, error)

	List(ctx context.Context) ([]string, error)
	Child(ctx context.Context, name string) (Node, error)
	Mkdir(ctx context.Context) error

	Read(ctx context.Context, buf []byte, off int64) (int, error)
	Write(ctx context.Context, data []byte, off int64) (int, error)
	Truncate(ctx context.Context, size int64) error
	Create(ctx context.Context) (Node, error)
	Rename(ctx context.Context, target Node) error
	Unlink(ctx context.Context) error
}

// base answers every operation with a default error. Concrete nodes embed
// dirBase or fileBase and override what they support.
type base struct {
	env  *Env
	path string
}

func (b base) Path() string { return b.path }

func (base) Exists(context.Context) (bool, error) { return true, nil }
func (base) List(context.Context) ([]string, error) { return nil, ErrNotDir }
func (base) Child(context.Context, string) (Node, error) { return nil, ErrNotDir }
func (base) Mkdir(context.Context) error { return ErrNotSupported }
func (base) Read(context.Context, []byte, int64) (int, error) { return 0, ErrNotSupported }
func (base) Write(context.Context, []byte, int64) (int, error) { return 0, ErrNotSupported }
func (base) Truncate(context.Context, int64) error { return ErrNotSupported }
func (base) Create(context.Context) (Node, error) { return nil, ErrExists }
func (base) Rename(context.Context, Node) error { return ErrNotSupported }
func (base) Unlink(context.Context) error { return ErrNotSupported }

type dirBase struct{ base }

func (dirBase) Mkdir(context.Context) error { return ErrExists }
func (dirBase) Read(context.Context, []byte, int64) (int, error) { return 0, ErrIsDir }
func (dirBase) Write(context.Context, []byte, int64) (int, error) { return 0, ErrIsDir }
func (dirBase) Truncate(context.Context, int64) error { return ErrIsDir }
func (dirBase) Unlink(context.Context) error { return ErrIsDir }

type fileBase struct{ base }

func (fileBase) Mkdir(context.Context) error { return ErrExists }

// readSlice copies content[off:] into buf.
func readSlice(content, buf []byte, off int64) int {
	if off < 0 || off >= int64(len(content)) {
		return 0
	}
	return copy(buf, content[off:])
}
