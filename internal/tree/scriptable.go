package tree

import (
	"context"
	"fmt"

	"github.com/agentic-research/ppd/api"
)

// ScriptableNode is a read-only file whose content is the whole store,
// serialized as YAML, piped through a shell command.
type ScriptableNode struct {
	fileBase
	command string
}

func (s *ScriptableNode) Kind() Kind { return KindScriptable }

func scriptableKey(path string) string { return "scriptable:" + path }

func (s *ScriptableNode) content(ctx context.Context) ([]byte, error) {
	return s.env.Gate.GetOrCompute(ctx, scriptableKey(s.path), func(ctx context.Context) ([]byte, error) {
		recs, err := s.env.Store.ListObjects(ctx, nil)
		if err != nil {
			return nil, err
		}
		in, err := api.MarshalYAML(recs)
		if err != nil {
			return nil, fmt.Errorf("serialize records: %w", err)
		}
		out, err := s.env.Runner.Run(ctx, s.command, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		return out, nil
	})
}

func (s *ScriptableNode) Attr(ctx context.Context) (Attr, error) {
	data, err := s.content(ctx)
	if err != nil {
		return Attr{}, err
	}
	at, _ := s.env.Gate.ComputedAt(scriptableKey(s.path))
	return Attr{Kind: KindScriptable, Size: int64(len(data)), ModTime: s.env.clockTime(at)}, nil
}

func (s *ScriptableNode) Read(ctx context.Context, buf []byte, off int64) (int, error) {
	data, err := s.content(ctx)
	if err != nil {
		return 0, err
	}
	return readSlice(data, buf, off), nil
}
