package layout

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/fwpack/errs"
)

// Kind identifies the type of a property value.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt
	KindString
	KindIntList
	KindStringList
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindIntList:
		return "int list"
	case KindStringList:
		return "string list"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Prop is a named property value. Exactly one value field is meaningful,
// selected by Kind.
type Prop struct {
	Name  string
	Kind  Kind
	Bool  bool
	Int   uint64
	Str   string
	Ints  []uint64
	Strs  []string
	Bytes []byte
}

// Encode returns the property's device-tree encoding: big-endian 32-bit
// cells for integers (64-bit cells when a value needs them), NUL-terminated
// strings, and an empty value for true booleans.
func (p *Prop) Encode() []byte {
	switch p.Kind {
	case KindBool:
		return []byte{}
	case KindInt:
		return encodeCells([]uint64{p.Int})
	case KindIntList:
		return encodeCells(p.Ints)
	case KindString:
		return append([]byte(p.Str), 0)
	case KindStringList:
		var out []byte
		for _, s := range p.Strs {
			out = append(out, s...)
			out = append(out, 0)
		}

		return out
	case KindBytes:
		return append([]byte(nil), p.Bytes...)
	default:
		return nil
	}
}

func encodeCells(vals []uint64) []byte {
	wide := false
	for _, v := range vals {
		if v > 0xffffffff {
			wide = true
		}
	}

	var out []byte
	for _, v := range vals {
		if wide {
			out = binary.BigEndian.AppendUint64(out, v)
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(v))
		}
	}

	return out
}

// Node is one node of a layout description. Property and subnode order is
// the order of the source document.
type Node struct {
	Name     string
	Parent   *Node
	Props    []*Prop
	Subnodes []*Node
}

// NewNode creates a detached node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Path returns the slash-separated path from the document root.
func (n *Node) Path() string {
	if n.Parent == nil {
		if n.Name == "" {
			return "/"
		}

		return "/" + n.Name
	}

	parent := n.Parent.Path()
	if parent == "/" {
		return "/" + n.Name
	}

	return parent + "/" + n.Name
}

// Prop returns the named property or nil.
func (n *Node) Prop(name string) *Prop {
	for _, p := range n.Props {
		if p.Name == name {
			return p
		}
	}

	return nil
}

// HasProp reports whether the node carries the named property.
func (n *Node) HasProp(name string) bool {
	return n.Prop(name) != nil
}

// Subnode returns the direct child with the given name or nil.
func (n *Node) Subnode(name string) *Node {
	for _, s := range n.Subnodes {
		if s.Name == name {
			return s
		}
	}

	return nil
}

// AddSubnode attaches child and returns it.
func (n *Node) AddSubnode(child *Node) *Node {
	child.Parent = n
	n.Subnodes = append(n.Subnodes, child)

	return child
}

// Child creates, attaches and returns a new subnode.
func (n *Node) Child(name string) *Node {
	return n.AddSubnode(NewNode(name))
}

// SetProp replaces or appends a property.
func (n *Node) SetProp(p *Prop) {
	for i, old := range n.Props {
		if old.Name == p.Name {
			n.Props[i] = p
			return
		}
	}
	n.Props = append(n.Props, p)
}

// RemoveProp deletes the named property if present.
func (n *Node) RemoveProp(name string) {
	for i, p := range n.Props {
		if p.Name == name {
			n.Props = append(n.Props[:i], n.Props[i+1:]...)
			return
		}
	}
}

// Set stores a Go value as a property and returns n for chaining.
// Supported values are bool, signed and unsigned integers, string,
// []string, []uint64, []int and []byte. Other types panic, since they can
// only come from programming errors.
func (n *Node) Set(name string, value any) *Node {
	p := &Prop{Name: name}
	switch v := value.(type) {
	case bool:
		p.Kind, p.Bool = KindBool, v
	case int:
		p.Kind, p.Int = KindInt, uint64(v)
	case int64:
		p.Kind, p.Int = KindInt, uint64(v)
	case uint32:
		p.Kind, p.Int = KindInt, uint64(v)
	case uint64:
		p.Kind, p.Int = KindInt, v
	case string:
		p.Kind, p.Str = KindString, v
	case []string:
		p.Kind, p.Strs = KindStringList, v
	case []uint64:
		p.Kind, p.Ints = KindIntList, v
	case []int:
		p.Kind = KindIntList
		for _, i := range v {
			p.Ints = append(p.Ints, uint64(i))
		}
	case []byte:
		p.Kind, p.Bytes = KindBytes, v
	default:
		panic(fmt.Sprintf("layout: unsupported property type %T for %q", value, name))
	}
	n.SetProp(p)

	return n
}

func (n *Node) typeError(p *Prop, want string) error {
	return fmt.Errorf("%w: node '%s': property '%s' is %s, expected %s",
		errs.ErrInvalidProperty, n.Path(), p.Name, p.Kind, want)
}

// Int returns an integer property. Strings holding a number (as written in
// JSON layouts, e.g. "0x100") are accepted.
func (n *Node) Int(name string) (uint64, bool, error) {
	p := n.Prop(name)
	if p == nil {
		return 0, false, nil
	}

	switch p.Kind {
	case KindInt:
		return p.Int, true, nil
	case KindIntList:
		if len(p.Ints) == 1 {
			return p.Ints[0], true, nil
		}
	case KindString:
		v, err := parseNumber(p.Str)
		if err == nil {
			return v, true, nil
		}
	}

	return 0, false, n.typeError(p, "int")
}

// GetInt returns an integer property or def when absent.
func (n *Node) GetInt(name string, def uint64) (uint64, error) {
	v, ok, err := n.Int(name)
	if err != nil || !ok {
		return def, err
	}

	return v, nil
}

// String returns a string property.
func (n *Node) String(name string) (string, bool, error) {
	p := n.Prop(name)
	if p == nil {
		return "", false, nil
	}

	switch p.Kind {
	case KindString:
		return p.Str, true, nil
	case KindStringList:
		if len(p.Strs) == 1 {
			return p.Strs[0], true, nil
		}
	}

	return "", false, n.typeError(p, "string")
}

// GetString returns a string property or def when absent.
func (n *Node) GetString(name string, def string) (string, error) {
	v, ok, err := n.String(name)
	if err != nil || !ok {
		return def, err
	}

	return v, nil
}

// GetBool returns true when the property is present and not explicitly false.
func (n *Node) GetBool(name string) (bool, error) {
	p := n.Prop(name)
	if p == nil {
		return false, nil
	}

	switch p.Kind {
	case KindBool:
		return p.Bool, nil
	case KindInt:
		return p.Int != 0, nil
	}

	return false, n.typeError(p, "bool")
}

// GetStringList returns a string-list property; a single string is a list
// of one. Absent properties give nil.
func (n *Node) GetStringList(name string) ([]string, error) {
	p := n.Prop(name)
	if p == nil {
		return nil, nil
	}

	switch p.Kind {
	case KindStringList:
		return p.Strs, nil
	case KindString:
		return []string{p.Str}, nil
	}

	return nil, n.typeError(p, "string list")
}

// GetBytes returns a byte-string property. Integer lists are accepted as
// one byte per element, the usual way to write short binary values such as
// UUIDs by hand.
func (n *Node) GetBytes(name string) ([]byte, bool, error) {
	p := n.Prop(name)
	if p == nil {
		return nil, false, nil
	}

	switch p.Kind {
	case KindBytes:
		return p.Bytes, true, nil
	case KindIntList:
		out := make([]byte, len(p.Ints))
		for i, v := range p.Ints {
			if v > 0xff {
				return nil, false, n.typeError(p, "byte list")
			}
			out[i] = byte(v)
		}

		return out, true, nil
	}

	return nil, false, n.typeError(p, "bytes")
}

// Images returns the image nodes described by a document root: its
// subnodes when `multiple-images` is set, otherwise the root itself.
func (n *Node) Images() ([]*Node, error) {
	multi, err := n.GetBool("multiple-images")
	if err != nil {
		return nil, err
	}
	if !multi {
		return []*Node{n}, nil
	}

	return n.Subnodes, nil
}

// EntryType returns the `type` property, defaulting to the node name
// without any `@suffix`.
func (n *Node) EntryType() (string, error) {
	etype, ok, err := n.String("type")
	if err != nil {
		return "", err
	}
	if ok {
		return etype, nil
	}
	if i := strings.IndexByte(n.Name, '@'); i > 0 {
		return n.Name[:i], nil
	}

	return n.Name, nil
}

func parseNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		return uint64(v), err
	}

	return strconv.ParseUint(s, 0, 64)
}
