package tree

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/display"
	"github.com/agentic-research/ppd/internal/store"
)

// Builder turns one layout entry into a root child mounted at path.
type Builder func(env *Env, path string, entry api.PathEntry) (Node, error)

// Registry maps layout kinds to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// DefaultRegistry returns a registry with the built-in kinds: scriptable,
// objdir and static.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("scriptable", buildScriptable)
	r.Register("objdir", buildObjectDir)
	r.Register("static", buildStatic)
	return r
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) lookup(kind string) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[kind]
	return b, ok
}

func buildScriptable(env *Env, path string, entry api.PathEntry) (Node, error) {
	cmd, ok := entry.StringParam("out_script")
	if !ok || cmd == "" {
		return nil, fmt.Errorf("scriptable %q needs out_script", entry.Path)
	}
	return &ScriptableNode{fileBase: fileBase{base{env: env, path: path}}, command: cmd}, nil
}

func buildObjectDir(env *Env, path string, entry api.PathEntry) (Node, error) {
	tmpl, ok := entry.StringParam("display")
	if !ok || tmpl == "" {
		return nil, fmt.Errorf("objdir %q needs display", entry.Path)
	}
	p, err := display.Compile(tmpl)
	if err != nil {
		return nil, err
	}
	if len(p.Fields()) == 0 {
		return nil, fmt.Errorf("objdir %q: display %q has no {field}", entry.Path, tmpl)
	}
	return &ObjectDirectory{dirBase: dirBase{base{env: env, path: path}}, display: p}, nil
}

func buildStatic(env *Env, path string, _ api.PathEntry) (Node, error) {
	return newStaticDirectory(env, path), nil
}

// build constructs a root from l. Entries that are malformed, unknown,
// duplicated or that fail to build are skipped with a warning; the layout
// file is always the last child. It also returns the layout's placement
// fields: display fields plus dirname.
func build(env *Env, reg *Registry, l *api.Layout) (*StaticDirectory, map[string]bool) {
	log := env.Logger
	root := newStaticDirectory(env, "/")
	placement := map[string]bool{store.FieldDirname: true}

	for i, entry := range l.Paths {
		if entry.Problem != "" {
			log.Warn("skipping malformed layout entry", zap.Int("index", i), zap.String("problem", entry.Problem))
			continue
		}
		if !validName(entry.Path) || entry.Path == ConfigName {
			log.Warn("skipping layout entry with unusable path", zap.Int("index", i), zap.String("path", entry.Path))
			continue
		}
		if _, dup := root.children[entry.Path]; dup {
			log.Warn("skipping duplicate layout path", zap.String("path", entry.Path))
			continue
		}
		b, ok := reg.lookup(entry.Kind)
		if !ok {
			log.Warn("skipping unknown layout kind", zap.String("path", entry.Path), zap.String("kind", entry.Kind))
			continue
		}
		n, err := b(env, Join("/", entry.Path), entry)
		if err != nil {
			log.Warn("skipping layout entry", zap.String("path", entry.Path), zap.Error(err))
			continue
		}
		if od, ok := n.(*ObjectDirectory); ok {
			for _, f := range od.display.Fields() {
				placement[f] = true
			}
		}
		root.add(entry.Path, n)
	}

	root.add(ConfigName, &ConfigNode{fileBase: fileBase{base{env: env, path: Join("/", ConfigName)}}})
	return root, placement
}
