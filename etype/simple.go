package etype

import (
	"bytes"

	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
)

// Fill is `size` bytes of `fill-byte`.
type Fill struct {
	entry.Base

	fillByte byte
}

func (f *Fill) ReadNode() error {
	if err := f.Base.ReadNode(); err != nil {
		return err
	}
	if !f.Node().HasProp("size") {
		return f.Fail(errs.ErrMissingProperty, "'fill' entry is missing properties: size")
	}

	fb, err := f.Node().GetInt("fill-byte", 0)
	if err != nil {
		return err
	}
	if fb > 0xff {
		return f.Fail(errs.ErrInvalidProperty, "fill-byte %#x does not fit in a byte", fb)
	}
	f.fillByte = byte(fb)

	return nil
}

func (f *Fill) ObtainContents() (bool, error) {
	return true, f.SetContents(bytes.Repeat([]byte{f.fillByte}, int(f.Size())))
}

// Text holds a string given by the `text` property or by the entry argument
// named in `text-label`.
type Text struct {
	entry.Base

	value string
}

func (t *Text) ReadNode() error {
	if err := t.Base.ReadNode(); err != nil {
		return err
	}

	label, ok, err := t.Node().String("text-label")
	if err != nil {
		return err
	}
	if !ok {
		value, ok, err := t.Node().String("text")
		if err != nil {
			return err
		}
		if !ok {
			return t.Fail(errs.ErrMissingProperty, "'text' entry is missing properties: text")
		}
		t.value = value

		return nil
	}

	value, ok, err := t.EntryArg(label)
	if err != nil {
		return err
	}
	if !ok {
		return t.Fail(errs.ErrMissingProperty, "No value provided for text label '%s'", label)
	}
	t.value = value

	return nil
}

func (t *Text) ObtainContents() (bool, error) {
	return true, t.SetContents([]byte(t.value))
}

// Collection concatenates the data of the entries named in `content`. It
// waits until they all have contents and follows them when they change
// after packing.
type Collection struct {
	entry.Base

	content []string
}

func (c *Collection) ReadNode() error {
	if err := c.Base.ReadNode(); err != nil {
		return err
	}

	content, err := c.Node().GetStringList("content")
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return c.Fail(errs.ErrMissingProperty, "Collection must have a 'content' property")
	}
	c.content = content

	return nil
}

func (c *Collection) ObtainContents() (bool, error) {
	data, ready, err := c.gather()
	if err != nil || !ready {
		return false, err
	}

	return true, c.SetContents(data)
}

func (c *Collection) ProcessContents() (bool, error) {
	data, _, err := c.gather()
	if err != nil {
		return false, err
	}

	return c.ProcessContentsUpdate(data)
}

// gather returns the concatenated contents, or ready == false while some
// entry has none yet.
func (c *Collection) gather() (data []byte, ready bool, err error) {
	var buf bytes.Buffer
	for _, name := range c.content {
		e := c.find(name)
		if e == nil {
			return nil, false, c.Fail(errs.ErrEntryNotFound, "Cannot find entry for node '%s'", name)
		}
		if !complete(e) {
			return nil, false, nil
		}
		d, err := e.Data()
		if err != nil {
			return nil, false, err
		}
		buf.Write(d)
	}

	return buf.Bytes(), true, nil
}

// find looks in the collection's own section first, then in the whole
// image.
func (c *Collection) find(name string) entry.Entry {
	if e := c.Section().FindByName(name); e != nil {
		return e
	}

	return c.Image().FindByName(name)
}

// complete reports whether e and, for a section, every entry below it have
// their contents.
func complete(e entry.Entry) bool {
	s, ok := e.(interface{ AsSection() *entry.Section })
	if !ok {
		return e.EntryBase().Obtained()
	}

	done := true
	_ = s.AsSection().Walk(func(child entry.Entry, depth int) error {
		if _, isSection := child.(interface{ AsSection() *entry.Section }); !isSection && !child.EntryBase().Obtained() {
			done = false
		}
		return nil
	})

	return done
}
