package etype

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/fwpack/endian"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
)

// Board configuration descriptor types.
const (
	boardCfgType    = 0xb
	boardCfgRmType  = 0xc
	boardCfgSecType = 0xd
	boardCfgPmType  = 0xe
)

const (
	boardCfgSwRev   = 1
	boardCfgHdrLen  = 2
	boardCfgDescLen = 8
)

var boardCfgTypes = []struct {
	marker string
	typ    uint16
}{
	{"board-cfg", boardCfgType},
	{"sec-cfg", boardCfgSecType},
	{"pm-cfg", boardCfgPmType},
	{"rm-cfg", boardCfgRmType},
}

// TIBoardConfig is a TI K3 board configuration.
//
// With `config` and `schema` it is a single configuration compiled from a
// YAML file: each value is written little-endian with the width given by
// its schema reference (#/definitions/u8, u16 or u32). Without them, each
// subnode is a single configuration and the entry combines them behind a
// header of count and software revision and one descriptor per
// configuration.
type TIBoardConfig struct {
	entry.Section

	config string
	schema string
	placed map[int][2]uint64
}

func (t *TIBoardConfig) ReadNode() error {
	if err := t.ReadSectionProps(); err != nil {
		return err
	}

	node := t.Node()
	config, ok, err := node.String("config")
	if err != nil {
		return err
	}
	if ok {
		t.config = config
		if t.schema, err = node.GetString("schema", ""); err != nil {
			return err
		}
		if t.schema == "" {
			return t.Fail(errs.ErrMissingProperty, "'ti-board-config' entry is missing properties: schema")
		}

		return nil
	}

	for _, sub := range node.Subnodes {
		if entry.IsMetaNode(sub.Name) || sub.HasProp("type") {
			continue
		}
		if _, err := t.AddChildAs(sub, "ti-board-config"); err != nil {
			return err
		}
	}

	return nil
}

// BuildSectionData compiles the configuration, or combines the children's.
func (t *TIBoardConfig) BuildSectionData() ([]byte, error) {
	if t.config != "" {
		return t.compile()
	}

	children := t.Children()
	le := endian.GetLittleEndianEngine()
	out := []byte{byte(len(children)), boardCfgSwRev}
	var body []byte
	offset := uint64(boardCfgHdrLen + len(children)*boardCfgDescLen)
	placed := make(map[int][2]uint64, len(children))
	for _, child := range children {
		cb := child.EntryBase()
		typ, ok := boardConfigType(cb.Name())
		if !ok {
			return nil, cb.Fail(errs.ErrInvalidBoardConfig, "cannot tell the board config type of '%s'", cb.Name())
		}
		data, err := child.Data()
		if err != nil {
			return nil, err
		}
		if offset > 0xffff || len(data) > 0xffff {
			return nil, cb.Fail(errs.ErrInvalidBoardConfig, "board config at %#x size %#x exceeds 16 bits",
				offset, len(data))
		}

		out = le.AppendUint16(out, typ)
		out = le.AppendUint16(out, uint16(offset))
		out = le.AppendUint16(out, uint16(len(data)))
		out = append(out, 0, 0) // devgrp, reserved
		body = append(body, data...)
		placed[cb.ID()] = [2]uint64{offset, uint64(len(data))}
		offset += uint64(len(data))
	}
	t.placed = placed

	return append(out, body...), nil
}

func boardConfigType(name string) (uint16, bool) {
	for _, bt := range boardCfgTypes {
		if strings.Contains(name, bt.marker) {
			return bt.typ, true
		}
	}

	return 0, false
}

// CheckEntries has nothing to check; the combined layout is fixed.
func (t *TIBoardConfig) CheckEntries() error { return nil }

// SetImagePos moves each configuration to its place after the descriptors.
func (t *TIBoardConfig) SetImagePos(base uint64) {
	t.Base.SetImagePos(base)
	for _, child := range t.Children() {
		if p, ok := t.placed[child.EntryBase().ID()]; ok {
			child.EntryBase().SetOffsetSize(p[0], p[1])
		}
		child.SetImagePos(t.ContentsPos())
	}
}

func (t *TIBoardConfig) compile() ([]byte, error) {
	cfg, err := t.readYAML(t.config)
	if err != nil {
		return nil, err
	}
	schema, err := t.readYAML(t.schema)
	if err != nil {
		return nil, err
	}

	out, err := compileBoardConfig(schema, cfg)
	if err != nil {
		return nil, t.Fail(errs.ErrInvalidBoardConfig, "%s: %v", t.config, err)
	}

	return out, nil
}

func (t *TIBoardConfig) readYAML(name string) (*yaml.Node, error) {
	data, err := t.Context().ReadInput(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, t.Fail(errs.ErrMissingBlob, "Filename '%s' not found in input path", name)
	}
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, t.Fail(errs.ErrInvalidBoardConfig, "%s: %v", name, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, t.Fail(errs.ErrInvalidBoardConfig, "%s: top level must be a mapping", name)
	}

	return doc.Content[0], nil
}

// compileBoardConfig writes the values of cfg in document order, sized by
// the matching schema definitions.
func compileBoardConfig(schema, cfg *yaml.Node) ([]byte, error) {
	return compileObject(schema, cfg, nil)
}

func compileObject(schema, node *yaml.Node, out []byte) ([]byte, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("expected a mapping")
	}
	props := mapValue(schema, "properties")
	if props == nil {
		return nil, errors.New("schema has no properties")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		ns := mapValue(props, key)
		if ns == nil {
			return nil, fmt.Errorf("'%s' is not described by the schema", key)
		}

		var err error
		switch typ := scalarValue(ns, "type"); typ {
		case "":
			out, err = appendValue(out, val, scalarValue(ns, "$ref"))
		case "object":
			out, err = compileObject(ns, val, out)
		case "array":
			items := mapValue(ns, "items")
			if items == nil || val.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("'%s' must be a list described by items", key)
			}
			for _, item := range val.Content {
				if item.Kind == yaml.MappingNode {
					out, err = compileObject(items, item, out)
				} else {
					out, err = appendValue(out, item, scalarValue(items, "$ref"))
				}
				if err != nil {
					break
				}
			}
		default:
			return nil, fmt.Errorf("'%s' has unsupported type '%s'", key, typ)
		}
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func appendValue(out []byte, val *yaml.Node, ref string) ([]byte, error) {
	var width int
	switch ref {
	case "#/definitions/u8":
		width = 1
	case "#/definitions/u16":
		width = 2
	case "#/definitions/u32":
		width = 4
	default:
		return nil, fmt.Errorf("unknown definition '%s'", ref)
	}

	v, err := strconv.ParseUint(val.Value, 0, 64)
	if err != nil {
		return nil, err
	}

	return endian.AppendUint(endian.GetLittleEndianEngine(), out, width, v)
}

func mapValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}

	return nil
}

func scalarValue(m *yaml.Node, key string) string {
	if v := mapValue(m, key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value
	}

	return ""
}
