package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/cache"
	"github.com/agentic-research/ppd/internal/script"
	"github.com/agentic-research/ppd/internal/store"
)

// ConfigName is the self-describing layout file at the root of every mount.
const ConfigName = "_layout.yml"

// Runner executes a scriptable node's transform.
type Runner interface {
	Run(ctx context.Context, command string, stdin []byte) ([]byte, error)
}

// Env is the state shared by every node of a tree. It outlives root swaps.
type Env struct {
	Store  *store.Store
	Gate   *cache.Gate
	Runner Runner
	Logger *zap.Logger

	mounted time.Time
	tree    *Tree
}

// ModTime is the store's change clock as a time, or the mount time if the
// store has never been mutated.
func (e *Env) ModTime(ctx context.Context) time.Time {
	n, err := e.Store.LastUpdated(ctx)
	if err != nil || n == 0 {
		return e.mounted
	}
	return time.Unix(0, n)
}

func (e *Env) clockTime(n int64) time.Time {
	if n == 0 {
		return e.mounted
	}
	return time.Unix(0, n)
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) { t.env.Logger = l }
}

// WithRunner replaces the subprocess runner used by scriptable nodes.
func WithRunner(r Runner) Option {
	return func(t *Tree) { t.env.Runner = r }
}

// WithLayout mounts l instead of the layout saved in the store, and saves it.
func WithLayout(l *api.Layout) Option {
	return func(t *Tree) { t.initial = l }
}

// WithRegistry replaces the set of layout kinds the tree understands.
func WithRegistry(r *Registry) Option {
	return func(t *Tree) { t.registry = r }
}

// Tree is a thread-safe holder whose root can be swapped while in use.
// Resolution runs under the read lock; a layout change builds a new root
// and swaps it under the write lock.
type Tree struct {
	env      *Env
	registry *Registry
	initial  *api.Layout

	mu        sync.RWMutex
	root      *StaticDirectory
	layout    *api.Layout
	gen       uint64 // bumped by every swap
	placement map[string]bool

	draftMu sync.Mutex
	draft   []byte // layout file content being written
}

// New builds a tree over st from the layout in its config slot, or from
// WithLayout.
func New(ctx context.Context, st *store.Store, opts ...Option) (*Tree, error) {
	t := &Tree{
		env: &Env{
			Store:   st,
			Gate:    cache.New(st),
			Runner:  script.Runner{},
			Logger:  zap.NewNop(),
			mounted: time.Now(),
		},
		registry: DefaultRegistry(),
	}
	t.env.tree = t
	for _, opt := range opts {
		opt(t)
	}

	if t.initial != nil {
		if err := t.SetLayout(ctx, t.initial); err != nil {
			return nil, err
		}
		return t, nil
	}

	layout, err := st.CurrentLayout(ctx)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	if layout == nil {
		layout = &api.Layout{}
	}
	t.swap(layout)
	return t, nil
}

// Env returns the shared node environment.
func (t *Tree) Env() *Env { return t.env }

// Layout returns the active layout.
func (t *Tree) Layout() *api.Layout {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.layout
}

// Root returns the current root directory.
func (t *Tree) Root() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// SetLayout saves l to the store's config slot and replaces the whole tree
// with one built from it.
func (t *Tree) SetLayout(ctx context.Context, l *api.Layout) error {
	if err := t.env.Store.SetCurrentLayout(ctx, l); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	prev := t.swap(l)
	t.env.Gate.Invalidate(configKey("/"+ConfigName, prev))
	t.env.Logger.Info("layout applied", zap.Int("paths", len(l.Paths)))
	return nil
}

// swap installs a root built from l and returns the generation it replaced.
func (t *Tree) swap(l *api.Layout) uint64 {
	root, placement := build(t.env, t.registry, l)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.gen
	t.root = root
	t.layout = l
	t.placement = placement
	t.gen++
	return prev
}

// snapshot returns the active layout with its generation.
func (t *Tree) snapshot() (*api.Layout, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.layout, t.gen
}

// isPlacement reports whether field only positions a record in the tree
// (a display field or a static directory scope) rather than describing it.
func (t *Tree) isPlacement(field string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.placement[field]
}

// Resolve walks path from the root. The returned node may be a
// PotentialFileNode for a creatable path that does not exist yet.
func (t *Tree) Resolve(ctx context.Context, p string) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var n Node = t.root
	for _, seg := range Split(p) {
		child, err := n.Child(ctx, seg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		n = child
	}
	return n, nil
}
