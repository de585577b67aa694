package api

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DumpConfig holds the ordered rules that mirror records onto real files.
type DumpConfig struct {
	Rules []Rule `yaml:"rules"`
}

// Rule pairs a record pattern with the actions run for records it matches.
// Rules are evaluated in order and the first match wins.
type Rule struct {
	Pattern RulePattern `yaml:"pattern"`
	Actions []Action    `yaml:"actions"`
}

// RulePattern is either the literal "all" or a field -> glob mapping.
type RulePattern struct {
	All    bool
	Fields map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *RulePattern) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Value != "all" {
			return fmt.Errorf("line %d: pattern must be \"all\" or a mapping, got %q", value.Line, value.Value)
		}
		p.All = true
		return nil
	}
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: decode pattern: %w", value.Line, err)
	}
	p.Fields = make(map[string]string, len(raw))
	for k, v := range raw {
		p.Fields[k] = fmt.Sprint(v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p RulePattern) MarshalYAML() (any, error) {
	if p.All {
		return "all", nil
	}
	return p.Fields, nil
}

// Action is one output of a rule. Exactly one field is set; both hold a
// destination path template with {field} placeholders.
type Action struct {
	// MergeYAML merges the record's fields into a YAML mapping at the path.
	MergeYAML string `yaml:"merge_yaml,omitempty"`
	// WriteFile writes the record's attached file content to the path.
	WriteFile string `yaml:"write_file,omitempty"`
}

// Validate reports whether exactly one action kind is set.
func (a Action) Validate() error {
	switch {
	case a.MergeYAML != "" && a.WriteFile != "":
		return fmt.Errorf("action sets both merge_yaml and write_file")
	case a.MergeYAML == "" && a.WriteFile == "":
		return fmt.Errorf("action sets neither merge_yaml nor write_file")
	}
	return nil
}

// ParseDumpConfig decodes a YAML rules document and validates every action.
func ParseDumpConfig(data []byte) (*DumpConfig, error) {
	var c DumpConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse dump rules: %w", err)
	}
	for i, r := range c.Rules {
		for j, a := range r.Actions {
			if err := a.Validate(); err != nil {
				return nil, fmt.Errorf("rule %d action %d: %w", i, j, err)
			}
		}
	}
	return &c, nil
}

// MarshalYAML encodes any value the way every ppd component writes YAML:
// two-space indentation, mapping keys sorted.
func MarshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
