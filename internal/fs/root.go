package fs

import (
	"context"
	"errors"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/agentic-research/ppd/internal/store"
	"github.com/agentic-research/ppd/internal/tree"
	"github.com/agentic-research/ppd/internal/writeback"
)

// PPDFS implements the FUSE interface from cgofuse over a resource tree.
// Every callback resolves its path afresh, so the mount always shows the
// live store and picks up layout swaps immediately.
type PPDFS struct {
	fuse.FileSystemBase
	Tree      *tree.Tree
	log       *zap.Logger
	mountTime time.Time
}

func NewPPDFS(t *tree.Tree, log *zap.Logger) *PPDFS {
	if log == nil {
		log = zap.NewNop()
	}
	return &PPDFS{
		Tree:      t,
		log:       log,
		mountTime: time.Now(),
	}
}

// errno maps tree and store errors onto negative FUSE error codes.
func (fs *PPDFS) errno(op, path string, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, tree.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return -fuse.ENOENT
	case errors.Is(err, tree.ErrNotDir):
		return -fuse.ENOTDIR
	case errors.Is(err, tree.ErrIsDir):
		return -fuse.EISDIR
	case errors.Is(err, tree.ErrExists):
		return -fuse.EEXIST
	case errors.Is(err, tree.ErrNotSupported):
		return -fuse.ENOTSUP
	case errors.Is(err, store.ErrInvalidArgument), errors.Is(err, writeback.ErrNegativeOffset):
		return -fuse.EINVAL
	case errors.Is(err, writeback.ErrTooLarge):
		return -fuse.EFBIG
	}
	fs.log.Warn("fuse operation failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
	return -fuse.EIO
}

// Open checks that path is an existing file.
func (fs *PPDFS) Open(path string, flags int) (int, uint64) {
	a, err := fs.Tree.Stat(context.Background(), path)
	if err != nil {
		return fs.errno("open", path, err), 0
	}
	if a.IsDir() {
		return -fuse.EISDIR, 0
	}
	return 0, 0
}

func (fs *PPDFS) Opendir(path string) (int, uint64) {
	a, err := fs.Tree.Stat(context.Background(), path)
	if err != nil {
		return fs.errno("opendir", path, err), 0
	}
	if !a.IsDir() {
		return -fuse.ENOTDIR, 0
	}
	return 0, 0
}

// Getattr (Stat)
func (fs *PPDFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	a, err := fs.Tree.Stat(context.Background(), path)
	if err != nil {
		return fs.errno("getattr", path, err)
	}
	fillStat(stat, a, fs.mountTime)
	return 0
}

func fillStat(stat *fuse.Stat_t, a tree.Attr, fallback time.Time) {
	mtime := a.ModTime
	if mtime.IsZero() {
		mtime = fallback
	}
	ts := fuse.NewTimespec(mtime)
	stat.Atim = ts
	stat.Mtim = ts
	stat.Ctim = ts
	stat.Birthtim = ts

	switch {
	case a.IsDir():
		stat.Mode = fuse.S_IFDIR | 0o755
		stat.Nlink = 2
	case a.Kind == tree.KindScriptable:
		stat.Mode = fuse.S_IFREG | 0o444
		stat.Nlink = 1
		stat.Size = a.Size
	default:
		stat.Mode = fuse.S_IFREG | 0o644
		stat.Nlink = 1
		stat.Size = a.Size
	}
}

// Readdir (List directory)
func (fs *PPDFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	names, err := fs.Tree.ReadDir(context.Background(), path)
	if err != nil {
		return fs.errno("readdir", path, err)
	}
	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, name := range names {
		if !fill(name, nil, 0) {
			break
		}
	}
	return 0
}

// Read (Cat file)
func (fs *PPDFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := fs.Tree.ReadAt(context.Background(), path, buff, ofst)
	if err != nil {
		return fs.errno("read", path, err)
	}
	return n
}

func (fs *PPDFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := fs.Tree.WriteAt(context.Background(), path, buff, ofst)
	if err != nil {
		return fs.errno("write", path, err)
	}
	return n
}

// Create makes an empty file. Without O_EXCL an existing file is reused.
func (fs *PPDFS) Create(path string, flags int, mode uint32) (int, uint64) {
	_, err := fs.Tree.Create(context.Background(), path)
	if errors.Is(err, tree.ErrExists) && flags&fuse.O_EXCL == 0 {
		a, serr := fs.Tree.Stat(context.Background(), path)
		if serr == nil && !a.IsDir() {
			return 0, 0
		}
	}
	if err != nil {
		return fs.errno("create", path, err), 0
	}
	return 0, 0
}

func (fs *PPDFS) Truncate(path string, size int64, fh uint64) int {
	return fs.errno("truncate", path, fs.Tree.Truncate(context.Background(), path, size))
}

func (fs *PPDFS) Rename(oldpath string, newpath string) int {
	return fs.errno("rename", oldpath, fs.Tree.Rename(context.Background(), oldpath, newpath))
}

func (fs *PPDFS) Unlink(path string) int {
	return fs.errno("unlink", path, fs.Tree.Unlink(context.Background(), path))
}

func (fs *PPDFS) Mkdir(path string, mode uint32) int {
	return fs.errno("mkdir", path, fs.Tree.Mkdir(context.Background(), path))
}

// Permission bits and timestamps are not stored; accept and ignore changes
// so tools like cp -p and touch succeed.

func (fs *PPDFS) Chmod(path string, mode uint32) int { return 0 }

func (fs *PPDFS) Chown(path string, uid uint32, gid uint32) int { return 0 }

func (fs *PPDFS) Utimens(path string, tmsp []fuse.Timespec) int { return 0 }

func (fs *PPDFS) Flush(path string, fh uint64) int { return 0 }

func (fs *PPDFS) Release(path string, fh uint64) int { return 0 }

func (fs *PPDFS) Releasedir(path string, fh uint64) int { return 0 }

func (fs *PPDFS) Fsync(path string, datasync bool, fh uint64) int { return 0 }
