package store

import (
	"context"
	"database/sql"

	"github.com/agentic-research/ppd/api"
)

// CurrentLayout returns the layout stored in the config slot, or nil when
// none has been saved.
func (s *Store) CurrentLayout(ctx context.Context) (*api.Layout, error) {
	s.mu.RLock()
	v, ok, err := getKV(ctx, s.db, keyCurrentLayout)
	s.mu.RUnlock()
	if err != nil || !ok {
		return nil, err
	}
	return api.ParseLayout([]byte(v))
}

// SetCurrentLayout replaces the config slot. Like every mutation it advances
// the change clock.
func (s *Store) SetCurrentLayout(ctx context.Context, layout *api.Layout) error {
	data, err := layout.Marshal()
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, func(tx *sql.Tx) ([]Record, error) {
		return nil, setKV(ctx, tx, keyCurrentLayout, string(data))
	})
	return err
}
