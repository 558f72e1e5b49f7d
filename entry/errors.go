package entry

import (
	"errors"
	"fmt"
)

// NodeError reports a failure attributed to one layout node. Its message
// has the form "Node '<path>': <detail>".
type NodeError struct {
	Path string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("Node '%s': %v", e.Path, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// kindError carries a sentinel for errors.Is without adding its text to the
// message.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// Fail returns a NodeError for this entry that matches kind under errors.Is
// and whose detail is the formatted message alone.
func (b *Base) Fail(kind error, format string, args ...any) error {
	return &NodeError{Path: b.Path(), Err: &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}}
}

// Errorf returns a NodeError for this entry.
func (b *Base) Errorf(format string, args ...any) error {
	return &NodeError{Path: b.Path(), Err: fmt.Errorf(format, args...)}
}

// wrap attributes err to the entry unless it already names a node.
func (b *Base) wrap(err error) error {
	if err == nil {
		return nil
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return err
	}

	return &NodeError{Path: b.Path(), Err: err}
}
