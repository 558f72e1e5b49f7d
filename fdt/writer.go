package fdt

import (
	"bytes"
	"fmt"

	"github.com/u-root/u-root/pkg/dt"
)

// Writer builds a tree node by node, in document order.
//
//	w := fdt.NewWriter()
//	w.BeginNode("")
//	w.PropertyString("description", "FIT image")
//	w.BeginNode("images")
//	...
//	w.EndNode()
//	w.EndNode()
//	blob, err := w.Finish()
type Writer struct {
	root  *dt.Node
	stack []*dt.Node
	err   error
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// BeginNode opens a node. The root node has an empty name.
func (w *Writer) BeginNode(name string) {
	n := &dt.Node{Name: name}
	if len(w.stack) == 0 {
		if w.root != nil && w.err == nil {
			w.err = fmt.Errorf("fdt: second root node %q", name)
		}
		w.root = n
	} else {
		parent := w.stack[len(w.stack)-1]
		parent.Children = append(parent.Children, n)
	}
	w.stack = append(w.stack, n)
}

// EndNode closes the innermost open node.
func (w *Writer) EndNode() {
	if len(w.stack) == 0 {
		if w.err == nil {
			w.err = fmt.Errorf("fdt: EndNode without open node")
		}

		return
	}
	w.stack = w.stack[:len(w.stack)-1]
}

// Property adds a property with a raw value to the open node.
func (w *Writer) Property(name string, value []byte) {
	if len(w.stack) == 0 {
		if w.err == nil {
			w.err = fmt.Errorf("fdt: property %q outside a node", name)
		}

		return
	}
	n := w.stack[len(w.stack)-1]
	n.Properties = append(n.Properties, dt.Property{Name: name, Value: bytes.Clone(value)})
}

// PropertyString adds a NUL-terminated string property.
func (w *Writer) PropertyString(name, value string) {
	w.Property(name, append([]byte(value), 0))
}

// PropertyStrings adds a string-list property.
func (w *Writer) PropertyStrings(name string, values []string) {
	var out []byte
	for _, v := range values {
		out = append(out, v...)
		out = append(out, 0)
	}
	w.Property(name, out)
}

// PropertyU32 adds a single-cell property.
func (w *Writer) PropertyU32(name string, value uint32) {
	w.Property(name, engine.AppendUint32(nil, value))
}

// Finish returns the complete blob. All nodes must be closed.
func (w *Writer) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.stack) != 0 {
		return nil, fmt.Errorf("fdt: %d nodes left open", len(w.stack))
	}
	if w.root == nil {
		return nil, fmt.Errorf("fdt: no root node")
	}

	tree := &dt.FDT{
		Header: dt.Header{
			Magic:           Magic,
			Version:         Version,
			LastCompVersion: LastCompatible,
		},
		RootNode: w.root,
	}
	var buf bytes.Buffer
	if _, err := tree.Write(&buf); err != nil {
		return nil, fmt.Errorf("fdt: %w", err)
	}

	return buf.Bytes(), nil
}
