package layout

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/fwpack/errs"
)

// DefaultRootName names the root node of a single-image description.
const DefaultRootName = "image"

// LoadFile reads a layout description. Files ending in .json or .jsonc are
// read as JSON with comments; everything else as YAML.
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var root *Node
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		root, err = ParseJSONC(data)
	default:
		root, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return root, nil
}

// ParseJSONC parses a JSON document that may contain comments and trailing
// commas.
func ParseJSONC(data []byte) (*Node, error) {
	return ParseYAML(jsonc.ToJSON(data))
}

// ParseYAML parses a YAML document. Mapping values become subnodes; scalars
// and sequences become properties. A null value is a present boolean, like
// an empty device-tree property.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidLayout, err)
	}

	root := NewNode(DefaultRootName)
	if doc.Kind == 0 {
		return root, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: expected a single document", errs.ErrInvalidLayout)
	}

	body := resolveAlias(doc.Content[0])
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document root must be a mapping (line %d)", errs.ErrInvalidLayout, body.Line)
	}
	if err := fillNode(root, body); err != nil {
		return nil, err
	}

	return root, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	return n
}

func fillNode(node *Node, m *yaml.Node) error {
	seen := make(map[string]bool, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i]
		val := resolveAlias(m.Content[i+1])
		name := key.Value
		if seen[name] {
			return fmt.Errorf("%w: node '%s': duplicate name '%s' (line %d)",
				errs.ErrInvalidLayout, node.Path(), name, key.Line)
		}
		seen[name] = true

		if val.Kind == yaml.MappingNode {
			child := node.Child(name)
			if err := fillNode(child, val); err != nil {
				return err
			}

			continue
		}

		prop, err := decodeProp(name, val)
		if err != nil {
			return fmt.Errorf("%w: node '%s': property '%s' (line %d): %w",
				errs.ErrInvalidLayout, node.Path(), name, val.Line, err)
		}
		node.Props = append(node.Props, prop)
	}

	return nil
}

func decodeProp(name string, val *yaml.Node) (*Prop, error) {
	p := &Prop{Name: name}

	switch val.Kind {
	case yaml.ScalarNode:
		return p, decodeScalar(p, val)
	case yaml.SequenceNode:
		if len(val.Content) == 0 {
			p.Kind = KindStringList
			return p, nil
		}
		for _, item := range val.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("sequence items must be scalars")
			}
			var elem Prop
			if err := decodeScalar(&elem, item); err != nil {
				return nil, err
			}
			switch elem.Kind {
			case KindInt:
				if p.Kind == KindStringList {
					return nil, fmt.Errorf("mixed integer and string items")
				}
				p.Kind = KindIntList
				p.Ints = append(p.Ints, elem.Int)
			case KindString:
				if p.Kind == KindIntList {
					return nil, fmt.Errorf("mixed integer and string items")
				}
				p.Kind = KindStringList
				p.Strs = append(p.Strs, elem.Str)
			default:
				return nil, fmt.Errorf("sequence items must be integers or strings")
			}
		}

		return p, nil
	default:
		return nil, fmt.Errorf("unsupported value kind")
	}
}

func decodeScalar(p *Prop, val *yaml.Node) error {
	switch val.ShortTag() {
	case "!!null":
		p.Kind, p.Bool = KindBool, true
	case "!!bool":
		var b bool
		if err := val.Decode(&b); err != nil {
			return err
		}
		p.Kind, p.Bool = KindBool, b
	case "!!int":
		v, err := parseNumber(val.Value)
		if err != nil {
			return err
		}
		p.Kind, p.Int = KindInt, v
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(val.Value), ""))
		if err != nil {
			return err
		}
		p.Kind, p.Bytes = KindBytes, b
	case "!!str":
		p.Kind, p.Str = KindString, val.Value
	default:
		return fmt.Errorf("unsupported scalar tag %s", val.ShortTag())
	}

	return nil
}
