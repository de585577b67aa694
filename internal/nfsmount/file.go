package nfsmount

import (
	"context"
	"errors"
	"io"

	billy "github.com/go-git/go-billy/v5"
)

var errNegativeSeek = errors.New("negative seek position")

// treeFile implements billy.File over a tree path. go-nfs opens a file per
// READ or WRITE RPC, so every call goes straight through to the tree
// without buffering.
type treeFile struct {
	fs   *TreeFS
	name string
	pos  int64
}

func (f *treeFile) Name() string { return f.name }

func (f *treeFile) size() (int64, error) {
	a, err := f.fs.tree.Stat(context.Background(), f.name)
	if err != nil {
		return 0, f.fs.pathError("stat", f.name, err)
	}
	return a.Size, nil
}

func (f *treeFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *treeFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.fs.tree.ReadAt(context.Background(), f.name, p, off)
	if err != nil {
		return 0, f.fs.pathError("read", f.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *treeFile) Write(p []byte) (int, error) {
	n, err := f.fs.tree.WriteAt(context.Background(), f.name, p, f.pos)
	f.pos += int64(n)
	if err != nil {
		return n, f.fs.pathError("write", f.name, err)
	}
	return n, nil
}

func (f *treeFile) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		size, err := f.size()
		if err != nil {
			return f.pos, err
		}
		newPos = size + offset
	}
	if newPos < 0 {
		return f.pos, errNegativeSeek
	}
	f.pos = newPos
	return f.pos, nil
}

func (f *treeFile) Truncate(size int64) error {
	if err := f.fs.tree.Truncate(context.Background(), f.name, size); err != nil {
		return f.fs.pathError("truncate", f.name, err)
	}
	return nil
}

func (f *treeFile) Lock() error   { return nil }
func (f *treeFile) Unlock() error { return nil }
func (f *treeFile) Close() error  { return nil }

var _ billy.File = (*treeFile)(nil)
