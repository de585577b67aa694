package writeback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MaxSize bounds any content this package builds. It matches SQLite's
// default SQLITE_MAX_LENGTH, the largest blob the store can hold.
const MaxSize = 1_000_000_000

var (
	// ErrNegativeOffset is returned for offsets or sizes below zero.
	ErrNegativeOffset = errors.New("negative offset")
	// ErrTooLarge is returned when a result would exceed MaxSize.
	ErrTooLarge = errors.New("content too large")
)

// SpliceAt returns src with data written at off. Writing past the end grows
// the result and zero-fills any gap, like a sparse write to a file.
func SpliceAt(src, data []byte, off int64) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("splice at %d: %w", off, ErrNegativeOffset)
	}
	// Compared by subtraction so a huge off cannot overflow.
	if int64(len(data)) > MaxSize || off > MaxSize-int64(len(data)) {
		return nil, fmt.Errorf("splice %d bytes at %d: %w", len(data), off, ErrTooLarge)
	}
	end := off + int64(len(data))
	size := int64(len(src))
	if end > size {
		size = end
	}

	// result = prefix + data + suffix, zero-padded between len(src) and off
	result := make([]byte, size)
	copy(result, src)
	copy(result[off:], data)
	return result, nil
}

// Resize returns src truncated or zero-extended to size bytes.
func Resize(src []byte, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("resize to %d: %w", size, ErrNegativeOffset)
	}
	if size > MaxSize {
		return nil, fmt.Errorf("resize to %d: %w", size, ErrTooLarge)
	}
	if size <= int64(len(src)) {
		return append([]byte(nil), src[:size]...), nil
	}
	result := make([]byte, size)
	copy(result, src)
	return result, nil
}

// WriteFileAtomic replaces path with content. The write is atomic: content is
// written to a temp file in the same directory first, then renamed. Missing
// parent directories are created.
func WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ppd-write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	// Preserve original file permissions; new files get 0644.
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}
	_ = os.Chmod(tmpName, mode) // best-effort permission sync

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}
