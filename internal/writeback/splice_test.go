package writeback

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpliceAt(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data string
		off  int64
		want string
	}{
		{name: "overwrite middle", src: "hello world", data: "WORLD", off: 6, want: "hello WORLD"},
		{name: "append at end", src: "abc", data: "def", off: 3, want: "abcdef"},
		{name: "extend past end", src: "abc", data: "xyz", off: 2, want: "abxyz"},
		{name: "sparse write zero fills", src: "ab", data: "c", off: 4, want: "ab\x00\x00c"},
		{name: "into empty", src: "", data: "foo", off: 0, want: "foo"},
		{name: "empty data keeps content", src: "abc", data: "", off: 1, want: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SpliceAt([]byte(tt.src), []byte(tt.data), tt.off)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSpliceAt_DoesNotAliasSource(t *testing.T) {
	src := []byte("abc")
	got, err := SpliceAt(src, []byte("X"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Xbc", string(got))
	assert.Equal(t, "abc", string(src))
}

func TestSpliceAt_NegativeOffset(t *testing.T) {
	_, err := SpliceAt([]byte("abc"), []byte("x"), -1)
	assert.ErrorIs(t, err, ErrNegativeOffset)
}

func TestSpliceAt_TooLarge(t *testing.T) {
	tests := []struct {
		name string
		data string
		off  int64
	}{
		{name: "offset overflows", data: "x", off: math.MaxInt64},
		{name: "offset past limit", data: "", off: MaxSize + 1},
		{name: "end past limit", data: "xy", off: MaxSize - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SpliceAt([]byte("abc"), []byte(tt.data), tt.off)
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}
}

func TestResize(t *testing.T) {
	got, err := Resize([]byte("hello"), 2)
	require.NoError(t, err)
	assert.Equal(t, "he", string(got))

	got, err = Resize([]byte("hi"), 4)
	require.NoError(t, err)
	assert.Equal(t, "hi\x00\x00", string(got))

	got, err = Resize([]byte("hi"), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Resize(nil, -3)
	assert.ErrorIs(t, err, ErrNegativeOffset)

	_, err = Resize([]byte("hi"), 1<<50)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestWriteFileAtomic_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.yml")
	require.NoError(t, WriteFileAtomic(path, []byte("x: 1\n")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x: 1\n", string(got))
}

func TestWriteFileAtomic_PreservesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o755))

	require.NoError(t, WriteFileAtomic(path, []byte("new")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	got, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(got))
}

func TestWriteFileAtomic_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFileAtomic(filepath.Join(dir, "f"), []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f", entries[0].Name())
}
