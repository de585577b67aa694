// Package nfsmount serves a resource tree over NFSv3. It adapts
// tree.Tree to billy.Filesystem for use with willscott/go-nfs, as an
// alternative to the FUSE backend.
package nfsmount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"go.uber.org/zap"

	"github.com/agentic-research/ppd/internal/tree"
)

// TreeFS adapts a tree.Tree to billy.Filesystem.
type TreeFS struct {
	tree      *tree.Tree
	log       *zap.Logger
	mountTime time.Time
}

// NewTreeFS creates a billy.Filesystem backed by t.
func NewTreeFS(t *tree.Tree, log *zap.Logger) *TreeFS {
	if log == nil {
		log = zap.NewNop()
	}
	return &TreeFS{tree: t, log: log, mountTime: time.Now()}
}

// --- billy.Basic ---

// Create opens filename for writing, creating it or truncating it.
func (fs *TreeFS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (fs *TreeFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *TreeFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	ctx := context.Background()
	filename = cleanPath(filename)

	if flag&os.O_CREATE != 0 {
		_, err := fs.tree.Create(ctx, filename)
		if err != nil && (!errors.Is(err, tree.ErrExists) || flag&os.O_EXCL != 0) {
			return nil, fs.pathError("create", filename, err)
		}
	}

	a, err := fs.tree.Stat(ctx, filename)
	if err != nil {
		return nil, fs.pathError("open", filename, err)
	}
	if a.IsDir() {
		return nil, fs.pathError("open", filename, tree.ErrIsDir)
	}

	if flag&os.O_TRUNC != 0 && a.Size > 0 {
		if err := fs.tree.Truncate(ctx, filename, 0); err != nil {
			return nil, fs.pathError("truncate", filename, err)
		}
	}

	f := &treeFile{fs: fs, name: filename}
	if flag&os.O_APPEND != 0 {
		f.pos = a.Size
	}
	return f, nil
}

func (fs *TreeFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *TreeFS) Rename(oldpath, newpath string) error {
	oldpath, newpath = cleanPath(oldpath), cleanPath(newpath)
	if err := fs.tree.Rename(context.Background(), oldpath, newpath); err != nil {
		return fs.pathError("rename", oldpath, err)
	}
	return nil
}

func (fs *TreeFS) Remove(filename string) error {
	filename = cleanPath(filename)
	if err := fs.tree.Unlink(context.Background(), filename); err != nil {
		return fs.pathError("remove", filename, err)
	}
	return nil
}

func (fs *TreeFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *TreeFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *TreeFS) ReadDir(path string) ([]os.FileInfo, error) {
	ctx := context.Background()
	path = cleanPath(path)

	names, err := fs.tree.ReadDir(ctx, path)
	if err != nil {
		return nil, fs.pathError("readdir", path, err)
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		a, err := fs.tree.Stat(ctx, tree.Join(path, name))
		if err != nil {
			// Listed entries can vanish between the listing and the stat.
			continue
		}
		infos = append(infos, fs.fileInfo(name, a))
	}
	return infos, nil
}

// MkdirAll creates every missing directory along filename.
func (fs *TreeFS) MkdirAll(filename string, perm os.FileMode) error {
	ctx := context.Background()
	filename = cleanPath(filename)

	cur := "/"
	for _, part := range strings.Split(strings.TrimPrefix(filename, "/"), "/") {
		if part == "" {
			continue
		}
		cur = tree.Join(cur, part)
		err := fs.tree.Mkdir(ctx, cur)
		if err == nil {
			continue
		}
		if !errors.Is(err, tree.ErrExists) {
			return fs.pathError("mkdir", cur, err)
		}
		a, err := fs.tree.Stat(ctx, cur)
		if err != nil {
			return fs.pathError("mkdir", cur, err)
		}
		if !a.IsDir() {
			return fs.pathError("mkdir", cur, tree.ErrNotDir)
		}
	}
	return nil
}

// --- billy.Symlink ---

func (fs *TreeFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	a, err := fs.tree.Stat(context.Background(), filename)
	if err != nil {
		return nil, fs.pathError("lstat", filename, err)
	}
	name := filepath.Base(filename)
	return fs.fileInfo(name, a), nil
}

func (fs *TreeFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *TreeFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Change ---

// Permission bits, owners and timestamps are not stored. Changes are
// accepted and dropped so clients like cp -p succeed.

func (fs *TreeFS) Chmod(name string, mode os.FileMode) error { return nil }

func (fs *TreeFS) Lchown(name string, uid, gid int) error { return nil }

func (fs *TreeFS) Chown(name string, uid, gid int) error { return nil }

func (fs *TreeFS) Chtimes(name string, atime time.Time, mtime time.Time) error { return nil }

// --- billy.Chroot ---

func (fs *TreeFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *TreeFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *TreeFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.WriteCapability | billy.ReadAndWriteCapability |
		billy.SeekCapability | billy.TruncateCapability
}

// --- internals ---

// pathError converts tree errors into *os.PathError values whose Err is
// the os sentinel go-nfs maps to an NFS status.
func (fs *TreeFS) pathError(op, path string, err error) error {
	var sentinel error
	switch {
	case errors.Is(err, tree.ErrNotFound):
		sentinel = os.ErrNotExist
	case errors.Is(err, tree.ErrExists):
		sentinel = os.ErrExist
	case errors.Is(err, tree.ErrNotSupported):
		sentinel = os.ErrPermission
	default:
		fs.log.Debug("nfs operation failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return &os.PathError{Op: op, Path: path, Err: err}
	}
	return &os.PathError{Op: op, Path: path, Err: sentinel}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	return tree.Clean("/" + path)
}

func (fs *TreeFS) fileInfo(name string, a tree.Attr) os.FileInfo {
	mode := os.FileMode(0o644)
	switch {
	case a.IsDir():
		mode = os.ModeDir | 0o755
	case a.Kind == tree.KindScriptable:
		mode = 0o444
	}
	modTime := a.ModTime
	if modTime.IsZero() {
		modTime = fs.mountTime
	}
	return &staticFileInfo{
		name:    name,
		size:    a.Size,
		mode:    mode,
		modTime: modTime,
	}
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

// Compile-time interface checks.
var (
	_ billy.Filesystem = (*TreeFS)(nil)
	_ billy.Capable    = (*TreeFS)(nil)
	_ billy.Change     = (*TreeFS)(nil)
)
