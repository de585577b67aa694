package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/writeback"
)

func openMem(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func blobCount(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT count(*) FROM blobs").Scan(&n))
	return n
}

func TestAddGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	in := Record{"host": "foo.com", "port": int64(80), "ratio": 0.5, "up": true}
	id, err := s.AddObject(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := s.GetObject(ctx, id)
	require.NoError(t, err)

	want := in.Clone()
	want[FieldID] = id
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestAddObject_IgnoresCallerID(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddObject(ctx, Record{FieldID: int64(99), "a": "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var doc string
	require.NoError(t, s.db.QueryRow("SELECT fields FROM objects WHERE id = 1").Scan(&doc))
	assert.JSONEq(t, `{"a":"b"}`, doc)
}

func TestGetObject_NotFound(t *testing.T) {
	s := openMem(t)
	_, err := s.GetObject(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListObjects_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	for _, h := range []string{"b.com", "a.com", "b.org", "c.com"} {
		_, err := s.AddObject(ctx, Record{"host": h})
		require.NoError(t, err)
	}
	_, err := s.AddObject(ctx, Record{"port": int64(22)})
	require.NoError(t, err)

	all, err := s.ListObjects(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	got, err := s.ListObjects(ctx, glob.Pattern{"host": "*.com"})
	require.NoError(t, err)
	var hosts []string
	for _, r := range got {
		hosts = append(hosts, r["host"].(string))
	}
	assert.Equal(t, []string{"b.com", "a.com", "c.com"}, hosts)

	none, err := s.ListObjects(ctx, glob.Pattern{"host": "nope"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	ids, err := s.ListIDs(ctx, glob.Pattern{"host": "*"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, ids.ToArray())
}

func TestListIDs_RejectsWideIDs(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	_, err := s.db.ExecContext(ctx, "INSERT INTO objects (id, fields) VALUES (?, '{}')", int64(math.MaxUint32)+1)
	require.NoError(t, err)

	_, err = s.ListIDs(ctx, nil)
	assert.ErrorIs(t, err, ErrIDRange)
}

func TestListObjects_BadPattern(t *testing.T) {
	s := openMem(t)
	_, err := s.ListObjects(context.Background(), glob.Pattern{"a": "[z-a]"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLastUpdated_StrictlyAdvances(t *testing.T) {
	ctx := context.Background()
	// A stalled wall clock must not stall the change clock.
	frozen := time.Unix(1_700_000_000, 0)
	s := openMem(t, WithClock(func() time.Time { return frozen }))

	last, err := s.LastUpdated(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	step := func(name string, fn func() error) {
		t.Helper()
		require.NoError(t, fn(), name)
		now, err := s.LastUpdated(ctx)
		require.NoError(t, err)
		assert.Greater(t, now, last, name)
		last = now
	}

	var id, fid int64
	step("add", func() (err error) { id, err = s.AddObject(ctx, Record{"a": "1"}); return })
	step("update", func() error { _, err := s.UpdateObjects(ctx, Record{"a": "2"}, nil); return err })
	step("noop update", func() error { _, err := s.UpdateObjects(ctx, Record{"a": "2"}, nil); return err })
	step("attach", func() (err error) {
		fid, err = s.AddFile(ctx, bytes.NewReader([]byte("x")), "x.txt", nil)
		return
	})
	step("set content", func() error { return s.SetFileContents(ctx, fid, []byte("y")) })
	step("delete", func() error { return s.DeleteObject(ctx, id) })
	step("layout", func() error { return s.SetCurrentLayout(ctx, &api.Layout{}) })
}

func TestUpdateObjects_MergesAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	_, err := s.AddObject(ctx, Record{"host": "a", "env": "prod"})
	require.NoError(t, err)
	_, err = s.AddObject(ctx, Record{"host": "b", "env": "dev"})
	require.NoError(t, err)
	_, err = s.AddObject(ctx, Record{"port": int64(1)})
	require.NoError(t, err)

	got, err := s.UpdateObjects(ctx, Record{"env": "prod"}, glob.Pattern{"host": "*"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "prod", got[0]["env"])
	assert.Equal(t, "prod", got[1]["env"])
	assert.Equal(t, "b", got[1]["host"])

	other, err := s.GetObject(ctx, 3)
	require.NoError(t, err)
	assert.NotContains(t, other, "env")
}

func TestUpdateObject_Single(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	id, err := s.AddObject(ctx, Record{"a": "1"})
	require.NoError(t, err)

	rec, err := s.UpdateObject(ctx, id, Record{"b": "2", FieldID: int64(5)})
	require.NoError(t, err)
	assert.Equal(t, Record{FieldID: id, "a": "1", "b": "2"}, rec)

	_, err = s.UpdateObject(ctx, 77, Record{"b": "2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteObject_RemovesBlob(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddFile(ctx, bytes.NewReader([]byte("foo")), "foo.txt", Record{"host": "foo.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, blobCount(t, s))

	require.NoError(t, s.DeleteObject(ctx, id))
	assert.Equal(t, 0, blobCount(t, s))

	_, err = s.GetObject(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteObject(ctx, id), ErrNotFound)
}

func TestReplaceObject_DropsUnreferencedBlob(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddFile(ctx, bytes.NewReader([]byte("foo")), "foo.txt", Record{"host": "foo.com", "note": "keep"})
	require.NoError(t, err)

	rec, err := s.ReplaceObject(ctx, id, Record{"host": "foo.com", "note": "keep"})
	require.NoError(t, err)
	assert.Equal(t, Record{FieldID: id, "host": "foo.com", "note": "keep"}, rec)
	assert.Equal(t, 0, blobCount(t, s))
}

func TestAddFile(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddFile(ctx, bytes.NewReader([]byte("foo")), "/tmp/dir/foo.txt", Record{"host": "foo.com"})
	require.NoError(t, err)

	rec, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "foo.txt", rec.Filename())
	assert.Regexp(t, `^file-[0-9a-f-]{36}$`, rec.FileID())
	assert.Equal(t, HashContent([]byte("foo")), rec[FieldFileHash])
	assert.Equal(t, "foo.com", rec["host"])

	data, err := s.GetFileContents(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(data))

	size, err := s.FileSize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestAddFile_FilenameFromMetadata(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddFile(ctx, bytes.NewReader(nil), "", Record{FieldFilename: "empty.txt"})
	require.NoError(t, err)

	rec, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "empty.txt", rec.Filename())

	size, err := s.FileSize(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestAddFile_NoFilename(t *testing.T) {
	s := openMem(t)
	_, err := s.AddFile(context.Background(), bytes.NewReader([]byte("x")), "", Record{"host": "a"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, blobCount(t, s))
}

func TestFileContent_Edits(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	id, err := s.AddFile(ctx, bytes.NewReader([]byte("hello")), "h.txt", nil)
	require.NoError(t, err)

	n, err := s.WriteFileAt(ctx, id, []byte(" world"), 5)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.NoError(t, s.TruncateFile(ctx, id, 8))
	data, err := s.GetFileContents(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello wo", string(data))

	rec, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, HashContent([]byte("hello wo")), rec[FieldFileHash])

	require.NoError(t, s.SetFileContents(ctx, id, nil))
	size, err := s.FileSize(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = s.WriteFileAt(ctx, id, []byte("x"), -1)
	assert.Error(t, err)
}

func TestFileContent_TooLarge(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	id, err := s.AddFile(ctx, bytes.NewReader([]byte("abc")), "f.txt", nil)
	require.NoError(t, err)

	_, err = s.WriteFileAt(ctx, id, []byte("x"), math.MaxInt64)
	assert.ErrorIs(t, err, writeback.ErrTooLarge)
	assert.ErrorIs(t, s.TruncateFile(ctx, id, 1<<50), writeback.ErrTooLarge)

	// The rejected edits left the connection free and the content intact.
	data, err := s.GetFileContents(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestInTx_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	assert.Panics(t, func() {
		_, _ = s.inTx(ctx, func(tx *sql.Tx) ([]Record, error) {
			if _, err := tx.ExecContext(ctx, "INSERT INTO kv (key, value) VALUES ('stray', 'x')"); err != nil {
				return nil, err
			}
			panic("boom")
		})
	})

	id, err := s.AddObject(ctx, Record{"host": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT count(*) FROM kv WHERE key = 'stray'").Scan(&n))
	assert.Zero(t, n)
}

func TestFileContent_MetadataRecord(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)
	id, err := s.AddObject(ctx, Record{"a": "b"})
	require.NoError(t, err)

	_, err = s.GetFileContents(ctx, id)
	assert.ErrorIs(t, err, ErrNotFile)
	_, err = s.FileSize(ctx, id)
	assert.ErrorIs(t, err, ErrNotFile)
	assert.ErrorIs(t, s.SetFileContents(ctx, id, []byte("x")), ErrNotFile)
}

func TestLayout_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	got, err := s.CurrentLayout(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	l, err := api.ParseLayout([]byte("paths:\n  - path: hosts\n    objdir:\n      display: '{host}'\n"))
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentLayout(ctx, l))

	got, err = s.CurrentLayout(ctx)
	require.NoError(t, err)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, "hosts", got.Paths[0].Path)
	assert.Equal(t, "objdir", got.Paths[0].Kind)
	display, _ := got.Paths[0].StringParam("display")
	assert.Equal(t, "{host}", display)
}

func TestSharedFile_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	id, err := a.AddObject(ctx, Record{"from": "a"})
	require.NoError(t, err)

	got, err := b.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", got["from"])

	ca, err := a.LastUpdated(ctx)
	require.NoError(t, err)
	cb, err := b.LastUpdated(ctx)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := s.AddObject(ctx, Record{"n": int64(j)})
				assert.NoError(t, err)
				_, err = s.ListObjects(ctx, glob.Pattern{"n": "*"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all, err := s.ListObjects(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 80)
}

type recordingDumper struct {
	mu   sync.Mutex
	recs []Record
	fail bool
}

func (d *recordingDumper) DumpObject(_ context.Context, rec Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recs = append(d.recs, rec)
	if d.fail {
		return errors.New("boom")
	}
	return nil
}

func TestAutoDump(t *testing.T) {
	ctx := context.Background()
	d := &recordingDumper{}
	s := openMem(t, WithDumper(d), WithAutoDump(true))

	id, err := s.AddObject(ctx, Record{"host": "a"})
	require.NoError(t, err)
	_, err = s.UpdateObjects(ctx, Record{"port": int64(1)}, nil)
	require.NoError(t, err)
	fid, err := s.AddFile(ctx, bytes.NewReader([]byte("x")), "x", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetFileContents(ctx, fid, []byte("y")))
	require.NoError(t, s.DeleteObject(ctx, id))

	// add, update, attach, set content; delete dumps nothing.
	require.Len(t, d.recs, 4)
	assert.Equal(t, "a", d.recs[0]["host"])
	assert.Equal(t, int64(1), d.recs[1]["port"])
	assert.Equal(t, "x", d.recs[2].Filename())
	assert.Equal(t, HashContent([]byte("y")), d.recs[3][FieldFileHash])
}

func TestAutoDump_FailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	d := &recordingDumper{fail: true}
	s := openMem(t, WithDumper(d), WithAutoDump(true))

	_, err := s.AddObject(ctx, Record{"host": "a"})
	require.NoError(t, err)
	assert.Len(t, d.recs, 1)
}

func TestAutoDump_Disabled(t *testing.T) {
	d := &recordingDumper{}
	s := openMem(t, WithDumper(d))
	_, err := s.AddObject(context.Background(), Record{"host": "a"})
	require.NoError(t, err)
	assert.Empty(t, d.recs)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(Record{"i": 3, "f": 1.25, "s": "x", FieldID: int64(4)})
	require.NoError(t, err)
	assert.Equal(t, Record{"i": int64(3), "f": 1.25, "s": "x"}, got)
}
