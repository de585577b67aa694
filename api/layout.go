package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Layout is the declarative description of the mounted tree.
// It is persisted in the store's config slot and exposed read-write at
// the root of every mount as a YAML file.
type Layout struct {
	// Paths are the named top-level entries, in declaration order.
	Paths []PathEntry `yaml:"paths"`
}

// PathEntry is one top-level mount point: a path segment plus exactly one
// resource kind keyed by name, e.g. {path: hosts, objdir: {display: "{host}"}}.
//
// Decoding never fails on a single entry. Entries that do not have this
// shape keep their raw form and report why in Problem, so a layout with one
// bad rule can still be loaded and the rest of it mounted.
type PathEntry struct {
	// Path is the directory or file name at the root of the mount.
	Path string
	// Kind selects the resource type from the tree's registry (objdir, scriptable, static, ...).
	Kind string
	// Params are the kind-specific settings.
	Params map[string]any
	// Problem is non-empty when the entry is malformed.
	Problem string

	raw any
}

// StringParam returns a string parameter, or false when absent or not a string.
func (e PathEntry) StringParam(name string) (string, bool) {
	v, ok := e.Params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *PathEntry) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		e.Problem = fmt.Sprintf("undecodable entry: %v", err)
		return nil
	}
	e.raw = raw

	m, ok := raw.(map[string]any)
	if !ok {
		e.Problem = "entry is not a mapping"
		return nil
	}
	path, ok := m["path"].(string)
	if !ok || path == "" {
		e.Problem = "entry has no path"
		return nil
	}
	e.Path = path

	var kinds []string
	for k := range m {
		if k != "path" {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) != 1 {
		sort.Strings(kinds)
		e.Problem = fmt.Sprintf("entry %q must name exactly one kind, got %v", path, kinds)
		return nil
	}
	e.Kind = kinds[0]

	switch p := m[e.Kind].(type) {
	case nil:
		e.Params = map[string]any{}
	case map[string]any:
		e.Params = p
	default:
		e.Problem = fmt.Sprintf("entry %q: parameters for %s must be a mapping", path, e.Kind)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler. Malformed entries are written back
// exactly as they were read.
func (e PathEntry) MarshalYAML() (any, error) {
	if e.Problem != "" && e.raw != nil {
		return e.raw, nil
	}
	params := e.Params
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"path": e.Path,
		e.Kind: params,
	}, nil
}

// ParseLayout decodes a YAML layout document. An empty document yields an
// empty layout. A document that is not a mapping, or that has top-level keys
// other than paths, is an error.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &l, nil
}

// Marshal encodes the layout as YAML with two-space indentation.
func (l *Layout) Marshal() ([]byte, error) {
	return MarshalYAML(l)
}
