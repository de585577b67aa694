package tree

import (
	"bytes"
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/writeback"
)

// ConfigNode exposes the active layout as an editable YAML file. A write
// that leaves a valid layout document replaces the whole tree; anything
// else is ignored so a half-typed edit never breaks the mount.
type ConfigNode struct {
	fileBase
}

func (c *ConfigNode) Kind() Kind { return KindConfig }

// configKey ties the cached document to one layout generation, so a read
// racing a swap can only fill the old generation's entry.
func configKey(path string, gen uint64) string {
	return "config:" + path + "@" + strconv.FormatUint(gen, 10)
}

func (c *ConfigNode) content(ctx context.Context) ([]byte, error) {
	l, gen := c.env.tree.snapshot()
	return c.env.Gate.GetOrCompute(ctx, configKey(c.path, gen), func(context.Context) ([]byte, error) {
		return l.Marshal()
	})
}

func (c *ConfigNode) Attr(ctx context.Context) (Attr, error) {
	data, err := c.content(ctx)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Kind: KindConfig, Size: int64(len(data)), ModTime: c.env.ModTime(ctx)}, nil
}

func (c *ConfigNode) Read(ctx context.Context, buf []byte, off int64) (int, error) {
	data, err := c.content(ctx)
	if err != nil {
		return 0, err
	}
	return readSlice(data, buf, off), nil
}

// Write splices data into the document being edited. A write at offset 0
// starts a new document.
func (c *ConfigNode) Write(ctx context.Context, data []byte, off int64) (int, error) {
	t := c.env.tree
	t.draftMu.Lock()
	defer t.draftMu.Unlock()

	cur := t.draft
	if off == 0 {
		cur = nil
	} else if cur == nil {
		var err error
		if cur, err = c.content(ctx); err != nil {
			return 0, err
		}
	}
	doc, err := writeback.SpliceAt(cur, data, off)
	if err != nil {
		return 0, err
	}
	t.draft = doc

	if len(bytes.TrimSpace(doc)) == 0 {
		return len(data), nil
	}
	layout, err := api.ParseLayout(doc)
	if err != nil {
		c.env.Logger.Debug("ignoring unparsable layout write", zap.Int64("offset", off), zap.Error(err))
		return len(data), nil
	}
	if err := t.SetLayout(ctx, layout); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate is accepted so editors can rewrite the file; the next write at
// offset 0 replaces the document anyway.
func (c *ConfigNode) Truncate(context.Context, int64) error { return nil }
