package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/ppd/internal/glob"
)

// AddObject stores a new record and returns its id.
func (s *Store) AddObject(ctx context.Context, fields Record) (int64, error) {
	recs, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
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

func insertObject(ctx context.Context, tx *sql.Tx, fields Record) (Record, error) {
	doc, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, "INSERT INTO objects (fields) VALUES (?)", doc)
	if err != nil {
		return nil, fmt.Errorf("insert object: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert object: %w", err)
	}
	return decodeFields(id, doc)
}

// GetObject returns the record with the given id.
func (s *Store) GetObject(ctx context.Context, id int64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getObject(ctx, s.db, id)
}

func getObject(ctx context.Context, q querier, id int64) (Record, error) {
	var doc string
	err := q.QueryRowContext(ctx, "SELECT fields FROM objects WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch object %d: %w", id, err)
	}
	return decodeFields(id, doc)
}

// ListObjects returns every record matching pattern in insertion order.
// A nil or empty pattern matches all records.
func (s *Store) ListObjects(ctx context.Context, pattern glob.Pattern) ([]Record, error) {
	f, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listObjects(ctx, s.db, f)
}

func listObjects(ctx context.Context, q querier, f *glob.Filter) ([]Record, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, fields FROM objects ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		var (
			id  int64
			doc string
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		rec, err := decodeFields(id, doc)
		if err != nil {
			return nil, err
		}
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return out, nil
}

// ListIDs returns the ids of every record matching pattern.
func (s *Store) ListIDs(ctx context.Context, pattern glob.Pattern) (*roaring.Bitmap, error) {
	recs, err := s.ListObjects(ctx, pattern)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, rec := range recs {
		id := rec.ID()
		if id < 0 || id > math.MaxUint32 {
			return nil, fmt.Errorf("list ids: %d: %w", id, ErrIDRange)
		}
		bm.Add(uint32(id))
	}
	return bm, nil
}

// UpdateObjects shallow-merges fields into every record matching pattern and
// returns the matched records after the merge. Records the merge leaves
// unchanged are not rewritten; the change clock advances once per call.
func (s *Store) UpdateObjects(ctx context.Context, fields Record, pattern glob.Pattern) ([]Record, error) {
	f, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		matched, err := listObjects(ctx, tx, f)
		if err != nil {
			return nil, err
		}
		out := make([]Record, 0, len(matched))
		for _, rec := range matched {
			merged, err := mergeObject(ctx, tx, rec, fields)
			if err != nil {
				return nil, err
			}
			out = append(out, merged)
		}
		return out, nil
	})
}

// UpdateObject shallow-merges fields into a single record.
func (s *Store) UpdateObject(ctx context.Context, id int64, fields Record) (Record, error) {
	recs, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		rec, err := getObject(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		merged, err := mergeObject(ctx, tx, rec, fields)
		if err != nil {
			return nil, err
		}
		return []Record{merged}, nil
	})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// mergeObject writes rec+fields unless the merge changes nothing.
func mergeObject(ctx context.Context, tx *sql.Tx, rec, fields Record) (Record, error) {
	merged := rec.Clone()
	for k, v := range fields {
		if k != FieldID {
			merged[k] = v
		}
	}
	before, err := encodeFields(rec)
	if err != nil {
		return nil, err
	}
	after, err := encodeFields(merged)
	if err != nil {
		return nil, err
	}
	if before == after {
		return rec, nil
	}
	if err := writeDoc(ctx, tx, rec.ID(), after); err != nil {
		return nil, err
	}
	return decodeFields(rec.ID(), after)
}

// ReplaceObject replaces the whole field document of a record, keeping its id.
// A blob the new document no longer references is deleted.
func (s *Store) ReplaceObject(ctx context.Context, id int64, fields Record) (Record, error) {
	recs, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		old, err := getObject(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if old.IsFile() && old.FileID() != fields.FileID() {
			if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", old.FileID()); err != nil {
				return nil, fmt.Errorf("delete blob %s: %w", old.FileID(), err)
			}
		}
		doc, err := encodeFields(fields)
		if err != nil {
			return nil, err
		}
		if err := writeDoc(ctx, tx, id, doc); err != nil {
			return nil, err
		}
		rec, err := decodeFields(id, doc)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func writeDoc(ctx context.Context, tx *sql.Tx, id int64, doc string) error {
	if _, err := tx.ExecContext(ctx, "UPDATE objects SET fields = ? WHERE id = ?", doc, id); err != nil {
		return fmt.Errorf("update object %d: %w", id, err)
	}
	return nil
}

// DeleteObject removes a record and, for a file record, its blob.
func (s *Store) DeleteObject(ctx context.Context, id int64) error {
	_, err := s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		rec, err := getObject(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if rec.IsFile() {
			if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", rec.FileID()); err != nil {
				return nil, fmt.Errorf("delete blob %s: %w", rec.FileID(), err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("delete object %d: %w", id, err)
		}
		return nil, nil
	})
	return err
}
