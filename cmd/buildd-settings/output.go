package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/buildd-settings/internal/settings"
)

const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

type jsonEntry struct {
	Key    string          `json:"key"`
	Kind   string          `json:"kind"`
	Value  any             `json:"value"`
	Source settings.Source `json:"source"`
}

// selectEntries returns the entries named by keys, or every entry when keys
// is empty.
func selectEntries(snap *settings.Snapshot, keys []string) ([]settings.Entry, error) {
	if len(keys) == 0 {
		return snap.Entries(), nil
	}
	entries := make([]settings.Entry, 0, len(keys))
	for _, key := range keys {
		e, ok := snap.Entry(key)
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// writeSettings prints entries in the requested format. Text output uses the
// settings file syntax; values containing '#' or surrounding whitespace are
// printed as is and do not read back through --config.
func writeSettings(w io.Writer, snap *settings.Snapshot, format string, keys []string) error {
	entries, err := selectEntries(snap, keys)
	if err != nil {
		return err
	}

	switch format {
	case formatText:
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%s = %s\n", e.Key, e.Value.String()); err != nil {
				return err
			}
		}
		return nil
	case formatJSON:
		out := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, jsonEntry{Key: e.Key, Kind: e.Kind.String(), Value: e.Value.Interface(), Source: e.Source})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entriesNode(entries)); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported format %q", format)
}

// entriesNode builds a mapping node so keys keep their table order.
func entriesNode(entries []settings.Entry) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}
		root.Content = append(root.Content, key, valueNode(e.Value))
	}
	return root
}

func valueNode(v settings.Value) *yaml.Node {
	switch v.Kind {
	case settings.KindList:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.List {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
		}
		if len(v.List) == 0 {
			seq.Style = yaml.FlowStyle
		}
		return seq
	case settings.KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v.String()}
	case settings.KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: v.String()}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Text}
	}
}

func writeSetting(w io.Writer, snap *settings.Snapshot, key string) error {
	v, ok := snap.Value(key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	_, err := fmt.Fprintln(w, v.String())
	return err
}

func writeOverrides(w io.Writer, overrides map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		if _, err := fmt.Fprintf(w, "%s = %s\n", key, overrides[key]); err != nil {
			return err
		}
	}
	return nil
}
