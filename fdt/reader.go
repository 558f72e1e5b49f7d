package fdt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/u-root/u-root/pkg/dt"

	"github.com/arloliu/fwpack/errs"
)

// Property is a parsed property. Offset is the position of Value within the
// blob it was parsed from.
type Property struct {
	Name   string
	Value  []byte
	Offset int
}

// Uint returns the value of a one- or two-cell property.
func (p *Property) Uint() (uint64, bool) {
	switch len(p.Value) {
	case 4:
		return uint64(engine.Uint32(p.Value)), true
	case 8:
		return engine.Uint64(p.Value), true
	default:
		return 0, false
	}
}

// String returns the first string of a string property.
func (p *Property) String() string {
	if i := bytes.IndexByte(p.Value, 0); i >= 0 {
		return string(p.Value[:i])
	}

	return string(p.Value)
}

// Node is a parsed node.
type Node struct {
	Name     string
	Parent   *Node
	Props    []*Property
	Subnodes []*Node
}

// Prop returns the named property or nil.
func (n *Node) Prop(name string) *Property {
	for _, p := range n.Props {
		if p.Name == name {
			return p
		}
	}

	return nil
}

// Subnode returns the named child or nil.
func (n *Node) Subnode(name string) *Node {
	for _, s := range n.Subnodes {
		if s.Name == name {
			return s
		}
	}

	return nil
}

// Lookup resolves an absolute path such as "/images/kernel".
func (n *Node) Lookup(path string) *Node {
	cur := n
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		cur = cur.Subnode(part)
		if cur == nil {
			return nil
		}
	}

	return cur
}

// Parse reads a blob and returns its root node.
func Parse(data []byte) (*Node, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	offsets, err := valueOffsets(data, h)
	if err != nil {
		return nil, err
	}

	tree, err := dt.ReadFDT(bytes.NewReader(data[:h.TotalSize]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidHeader, err)
	}
	if tree.RootNode == nil {
		return nil, fmt.Errorf("%w: no root node", errs.ErrInvalidHeader)
	}

	return newNode(tree.RootNode, nil, "", offsets), nil
}

// newNode copies a pkg/dt node and its subtree, taking value offsets from
// offsets, which is keyed by propKey.
func newNode(src *dt.Node, parent *Node, path string, offsets map[string]int) *Node {
	n := &Node{Name: src.Name, Parent: parent}
	for _, p := range src.Properties {
		n.Props = append(n.Props, &Property{
			Name:   p.Name,
			Value:  p.Value,
			Offset: offsets[propKey(path, p.Name)],
		})
	}
	for _, c := range src.Children {
		n.Subnodes = append(n.Subnodes, newNode(c, n, path+"/"+c.Name, offsets))
	}

	return n
}

// ParseHeader reads and validates the blob header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: fdt of %d bytes is shorter than its header", errs.ErrInvalidHeader, len(data))
	}

	vals := make([]uint32, 10)
	for i := range vals {
		vals[i] = engine.Uint32(data[i*4:])
	}
	h := &Header{
		Magic: vals[0], TotalSize: vals[1], OffDtStruct: vals[2], OffDtStrings: vals[3],
		OffMemRsvmap: vals[4], Version: vals[5], LastCompVersion: vals[6], BootCPUIDPhys: vals[7],
		SizeDtStrings: vals[8], SizeDtStruct: vals[9],
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: bad fdt magic %#x", errs.ErrInvalidHeader, h.Magic)
	}
	if int(h.TotalSize) > len(data) {
		return nil, fmt.Errorf("%w: fdt total size %#x exceeds data size %#x", errs.ErrInvalidHeader, h.TotalSize, len(data))
	}

	return h, nil
}
