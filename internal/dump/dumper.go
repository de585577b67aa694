// Package dump mirrors store records onto a directory of real files.
//
// Rules are tried in order and the first whose pattern matches a record
// runs all of its actions. Every action is idempotent: a file is written,
// and reported, only when its content would change.
package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/display"
	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
	"github.com/agentic-research/ppd/internal/writeback"
)

var (
	// ErrOutsideBase is returned when a formatted path escapes the dump directory.
	ErrOutsideBase = errors.New("path escapes dump directory")
	// ErrNoContent is returned by write_file when no content source is configured.
	ErrNoContent = errors.New("no content source")
)

// ContentSource supplies attached file content for write_file.
type ContentSource interface {
	GetFileContents(ctx context.Context, id int64) ([]byte, error)
}

// Lister supplies the records for a bulk dump.
type Lister interface {
	ListObjects(ctx context.Context, pattern glob.Pattern) ([]store.Record, error)
}

// Option configures a Dumper.
type Option func(*Dumper)

// WithContent sets where write_file reads attached content from.
func WithContent(c ContentSource) Option {
	return func(d *Dumper) { d.content = c }
}

// WithReporter sets a callback invoked once per file actually written.
func WithReporter(fn func(path string)) Option {
	return func(d *Dumper) { d.report = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dumper) { d.log = l }
}

type rule struct {
	all     bool
	filter  *glob.Filter
	actions []api.Action
}

// Dumper applies an ordered rule list under a base directory.
type Dumper struct {
	base    string
	rules   []rule
	content ContentSource
	report  func(string)
	log     *zap.Logger
}

// New compiles rules. Every action template must be well formed.
func New(baseDir string, rules []api.Rule, opts ...Option) (*Dumper, error) {
	d := &Dumper{
		base:   filepath.Clean(baseDir),
		report: func(string) {},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i, r := range rules {
		cr := rule{all: r.Pattern.All, actions: r.Actions}
		if !cr.all {
			f, err := glob.Compile(r.Pattern.Fields)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			cr.filter = f
		}
		for j, a := range r.Actions {
			if err := a.Validate(); err != nil {
				return nil, fmt.Errorf("rule %d action %d: %w", i, j, err)
			}
			if _, err := display.Compile(target(a)); err != nil {
				return nil, fmt.Errorf("rule %d action %d: %w", i, j, err)
			}
		}
		d.rules = append(d.rules, cr)
	}
	return d, nil
}

func target(a api.Action) string {
	if a.MergeYAML != "" {
		return a.MergeYAML
	}
	return a.WriteFile
}

// DumpObject runs the actions of the first rule matching rec. Every action
// runs even if an earlier one fails; the errors are joined.
func (d *Dumper) DumpObject(ctx context.Context, rec store.Record) error {
	for _, r := range d.rules {
		if !r.all && !r.filter.Match(rec) {
			continue
		}
		var errs []error
		for _, a := range r.actions {
			if err := d.PerformAction(ctx, a, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

// DumpAll dumps every record matching pattern and returns how many records
// were processed.
func (d *Dumper) DumpAll(ctx context.Context, l Lister, pattern glob.Pattern) (int, error) {
	recs, err := l.ListObjects(ctx, pattern)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, rec := range recs {
		if err := d.DumpObject(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("object %d: %w", rec.ID(), err))
		}
	}
	return len(recs), errors.Join(errs...)
}

// PerformAction runs a single action for rec.
func (d *Dumper) PerformAction(ctx context.Context, a api.Action, rec store.Record) error {
	if err := a.Validate(); err != nil {
		return err
	}
	path, err := d.resolve(target(a), rec)
	if err != nil {
		return err
	}
	if a.MergeYAML != "" {
		return d.mergeYAML(path, rec)
	}
	return d.writeFile(ctx, path, rec)
}

func (d *Dumper) resolve(tmpl string, rec store.Record) (string, error) {
	p, err := display.Compile(tmpl)
	if err != nil {
		return "", err
	}
	rel, err := p.Format(rec)
	if err != nil {
		return "", err
	}
	path := filepath.Join(d.base, rel)
	if r, err := filepath.Rel(d.base, path); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, rel)
	}
	return path, nil
}

func (d *Dumper) mergeYAML(path string, rec store.Record) error {
	existing := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if existing == nil {
			existing = map[string]any{}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}

	before, err := api.MarshalYAML(existing)
	if err != nil {
		return err
	}
	for k, v := range rec {
		existing[k] = v
	}
	after, err := api.MarshalYAML(existing)
	if err != nil {
		return err
	}
	if data != nil && bytes.Equal(before, after) {
		return nil
	}
	if err := writeback.WriteFileAtomic(path, after); err != nil {
		return err
	}
	d.wrote(path, rec)
	return nil
}

func (d *Dumper) writeFile(ctx context.Context, path string, rec store.Record) error {
	if !rec.IsFile() {
		return fmt.Errorf("write_file %s: %w", path, store.ErrNotFile)
	}
	if d.content == nil {
		return ErrNoContent
	}
	if existing, err := os.ReadFile(path); err == nil {
		if hash, _ := rec[store.FieldFileHash].(string); hash == store.HashContent(existing) {
			return nil
		}
	}
	content, err := d.content.GetFileContents(ctx, rec.ID())
	if err != nil {
		return err
	}
	if err := writeback.WriteFileAtomic(path, content); err != nil {
		return err
	}
	d.wrote(path, rec)
	return nil
}

func (d *Dumper) wrote(path string, rec store.Record) {
	d.log.Info("dumped", zap.String("path", path), zap.Int64("id", rec.ID()))
	d.report(path)
}
