package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agentic-research/ppd/internal/writeback"
)

// HashContent returns the hex SHA-256 used for FieldFileHash.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddFile stores r's content as a new blob and creates a file record from
// metadata. The filename comes from the argument, else from
// metadata["filename"]; with neither, AddFile fails with ErrInvalidArgument.
func (s *Store) AddFile(ctx context.Context, r io.Reader, filename string, metadata Record) (int64, error) {
	if filename == "" {
		filename, _ = metadata[FieldFilename].(string)
	}
	if filename == "" {
		return 0, fmt.Errorf("add file: no filename: %w", ErrInvalidArgument)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read file content: %w", err)
	}

	fields := metadata.Fields()
	fields[FieldFilename] = filepath.Base(filename)
	fields[FieldFileID] = "file-" + uuid.NewString()
	fields[FieldFileHash] = HashContent(data)

	recs, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		if err := writeBlob(ctx, tx, fields.FileID(), data); err != nil {
			return nil, err
		}
		rec, err := insertObject(ctx, tx, fields)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	})
	if err != nil {
		return 0, err
	}
	return recs[0].ID(), nil
}

// GetFileContents returns the blob attached to a record.
func (s *Store) GetFileContents(ctx context.Context, id int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := getObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return readBlob(ctx, s.db, rec)
}

// FileSize returns the length of a record's blob without loading it.
func (s *Store) FileSize(ctx context.Context, id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := getObject(ctx, s.db, id)
	if err != nil {
		return 0, err
	}
	if !rec.IsFile() {
		return 0, fmt.Errorf("object %d: %w", id, ErrNotFile)
	}
	var size sql.NullInt64
	err = s.db.QueryRowContext(ctx, "SELECT length(content) FROM blobs WHERE id = ?", rec.FileID()).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("blob %s: %w", rec.FileID(), ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("size blob %s: %w", rec.FileID(), err)
	}
	return size.Int64, nil
}

// SetFileContents replaces a record's blob and recomputes its hash.
func (s *Store) SetFileContents(ctx context.Context, id int64, data []byte) error {
	_, err := s.editContent(ctx, id, func([]byte) ([]byte, error) { return data, nil })
	return err
}

// WriteFileAt writes data into a record's blob at off, growing it as needed.
func (s *Store) WriteFileAt(ctx context.Context, id int64, data []byte, off int64) (int, error) {
	_, err := s.editContent(ctx, id, func(cur []byte) ([]byte, error) {
		return writeback.SpliceAt(cur, data, off)
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// TruncateFile resizes a record's blob, zero-padding when it grows.
func (s *Store) TruncateFile(ctx context.Context, id int64, size int64) error {
	_, err := s.editContent(ctx, id, func(cur []byte) ([]byte, error) {
		return writeback.Resize(cur, size)
	})
	return err
}

// editContent is the single read-modify-write path for blob content.
func (s *Store) editContent(ctx context.Context, id int64, edit func([]byte) ([]byte, error)) (Record, error) {
	recs, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		rec, err := getObject(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		cur, err := readBlob(ctx, tx, rec)
		if err != nil {
			return nil, err
		}
		next, err := edit(cur)
		if err != nil {
			return nil, fmt.Errorf("edit object %d: %w", id, err)
		}
		if err := writeBlob(ctx, tx, rec.FileID(), next); err != nil {
			return nil, err
		}
		updated, err := mergeObject(ctx, tx, rec, Record{FieldFileHash: HashContent(next)})
		if err != nil {
			return nil, err
		}
		return []Record{updated}, nil
	})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func readBlob(ctx context.Context, q querier, rec Record) ([]byte, error) {
	if !rec.IsFile() {
		return nil, fmt.Errorf("object %d: %w", rec.ID(), ErrNotFile)
	}
	var data []byte
	err := q.QueryRowContext(ctx, "SELECT content FROM blobs WHERE id = ?", rec.FileID()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", rec.FileID(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", rec.FileID(), err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func writeBlob(ctx context.Context, tx *sql.Tx, blobID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO blobs (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content",
		blobID, data)
	if err != nil {
		return fmt.Errorf("write blob %s: %w", blobID, err)
	}
	return nil
}
