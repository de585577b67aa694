package tree

import (
	"bytes"
	"context"

	"github.com/agentic-research/ppd/internal/store"
)

// PotentialFileNode is a path that does not exist yet but can be created
// as a file record carrying metadata.
type PotentialFileNode struct {
	base
	metadata store.Record
}

func (p *PotentialFileNode) Kind() Kind { return KindPotential }

// Metadata returns the fields the file would be created with.
func (p *PotentialFileNode) Metadata() store.Record { return p.metadata.Clone() }

func (p *PotentialFileNode) Exists(context.Context) (bool, error) { return false, nil }

func (p *PotentialFileNode) Attr(context.Context) (Attr, error) { return Attr{}, ErrNotFound }

func (p *PotentialFileNode) List(context.Context) ([]string, error) { return nil, ErrNotFound }

func (p *PotentialFileNode) Child(context.Context, string) (Node, error) { return nil, ErrNotFound }

func (p *PotentialFileNode) Read(context.Context, []byte, int64) (int, error) { return 0, ErrNotFound }

func (p *PotentialFileNode) Write(context.Context, []byte, int64) (int, error) {
	return 0, ErrNotFound
}

func (p *PotentialFileNode) Truncate(context.Context, int64) error { return ErrNotFound }

func (p *PotentialFileNode) Unlink(context.Context) error { return ErrNotFound }

func (p *PotentialFileNode) Rename(context.Context, Node) error { return ErrNotFound }

// Create stores an empty file record and returns its node.
func (p *PotentialFileNode) Create(ctx context.Context) (Node, error) {
	id, err := p.env.Store.AddFile(ctx, bytes.NewReader(nil), "", p.metadata)
	if err != nil {
		return nil, err
	}
	container := p.metadata.Clone()
	delete(container, store.FieldFilename)
	return newFileNode(p.env, p.path, id, container), nil
}
