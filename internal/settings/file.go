package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	errMissingEquals = errors.New("expected key = value")
	errEmptyKey      = errors.New("empty key")
	errKeyWhitespace = errors.New("key contains whitespace")
)

// ParseFile reads a settings file. Files ending in .yaml or .yml are decoded
// as a flat YAML mapping; anything else uses the line format:
//
//	# comment
//	build-max-jobs = 4
//	substitute-urls = https://a.example https://b.example
//
// A '#' starts a comment anywhere on a line. Read failures wrap
// ErrFileNotReadable, malformed content wraps ErrFileParse.
func ParseFile(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: ErrFileNotReadable, Cause: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(path, data)
	default:
		return parseLines(path, data)
	}
}

func parseLines(path string, data []byte) ([]Pair, error) {
	var pairs []Pair
	lineNo := 0
	for text := range strings.Lines(string(data)) {
		lineNo++
		text = strings.TrimRight(text, "\r\n")

		line := text
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &FileError{Path: path, Line: lineNo, Text: text, Err: ErrFileParse, Cause: errMissingEquals}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &FileError{Path: path, Line: lineNo, Text: text, Err: ErrFileParse, Cause: errEmptyKey}
		}
		if strings.ContainsAny(key, " \t") {
			return nil, &FileError{Path: path, Line: lineNo, Text: text, Err: ErrFileParse, Cause: errKeyWhitespace}
		}
		pairs = append(pairs, Pair{Key: key, Value: strings.TrimSpace(value)})
	}
	return pairs, nil
}

func parseYAML(path string, data []byte) ([]Pair, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &FileError{Path: path, Err: ErrFileParse, Cause: err}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &FileError{Path: path, Line: root.Line, Err: ErrFileParse, Cause: errors.New("top level must be a mapping")}
	}

	pairs := make([]Pair, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || keyNode.Value == "" {
			return nil, &FileError{Path: path, Line: keyNode.Line, Err: ErrFileParse, Cause: errEmptyKey}
		}

		value, err := yamlRawValue(valueNode)
		if err != nil {
			return nil, &FileError{Path: path, Line: valueNode.Line, Text: keyNode.Value, Err: ErrFileParse, Cause: err}
		}
		pairs = append(pairs, Pair{Key: keyNode.Value, Value: value})
	}
	return pairs, nil
}

// yamlRawValue flattens a scalar or a sequence of scalars into raw text.
func yamlRawValue(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return "", nil
		}
		return node.Value, nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return "", errors.New("list items must be scalars")
			}
			items = append(items, item.Value)
		}
		return strings.Join(items, listSeparator), nil
	default:
		return "", errors.New("value must be a scalar or a list of scalars")
	}
}
