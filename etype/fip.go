package etype

import (
	"github.com/google/uuid"

	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/fip"
	"github.com/arloliu/fwpack/layout"
)

// FIP is an ARM Trusted Firmware image package holding its child entries.
//
// A child is identified by `fip-uuid`, or by the well-known type named in
// `fip-type`, which defaults to the node name. A child named after a
// well-known type is a blob-ext unless it has a `type`.
type FIP struct {
	entry.Section

	hdrFlags uint64
	align    uint64

	info   map[int]fipInfo
	placed map[int]*fip.Entry
}

type fipInfo struct {
	id    uuid.UUID
	flags uint64
}

func (f *FIP) ReadNode() error {
	if err := f.ReadSectionProps(); err != nil {
		return err
	}

	var err error
	if f.hdrFlags, err = f.Node().GetInt("fip-hdr-flags", 0); err != nil {
		return err
	}
	if f.align, err = f.Node().GetInt("fip-align", 1); err != nil {
		return err
	}
	if _, err := fip.NewWriter(f.hdrFlags, f.align); err != nil {
		return f.Fail(errs.ErrInvalidAlign, "fip-align %#x must be a power of two", f.align)
	}

	f.info = make(map[int]fipInfo)
	for _, node := range f.Node().Subnodes {
		if entry.IsMetaNode(node.Name) {
			continue
		}
		if err := f.addChild(node); err != nil {
			return err
		}
	}

	return nil
}

func (f *FIP) addChild(node *layout.Node) error {
	etype := "blob-ext"
	if _, err := fip.LookupType(node.Name); err != nil || node.HasProp("type") {
		if etype, err = node.EntryType(); err != nil {
			return err
		}
	}

	child, err := f.AddChildAs(node, etype)
	if err != nil {
		return err
	}
	cb := child.EntryBase()

	var info fipInfo
	if info.flags, err = node.GetInt("fip-flags", 0); err != nil {
		return err
	}
	raw, ok, err := node.GetBytes("fip-uuid")
	if err != nil {
		return err
	}
	if ok {
		if info.id, err = fip.ParseUUID(raw); err != nil {
			return cb.Fail(errs.ErrInvalidProperty, "fip-uuid must be %d bytes, got %d", len(uuid.UUID{}), len(raw))
		}
	} else {
		name, err := node.GetString("fip-type", node.Name)
		if err != nil {
			return err
		}
		t, err := fip.LookupType(name)
		if err != nil {
			return cb.Fail(errs.ErrUnknownFipType,
				"Must provide a fip-type (node name '%s' is not a known FIP type)", node.Name)
		}
		info.id = t.UUID
	}
	f.info[cb.ID()] = info

	return nil
}

// BuildSectionData writes the package from the children's data.
func (f *FIP) BuildSectionData() ([]byte, error) {
	w, err := fip.NewWriter(f.hdrFlags, f.align)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	placed := make(map[int]*fip.Entry)
	for _, child := range f.Children() {
		data, err := child.Data()
		if err != nil {
			return nil, err
		}
		info := f.info[child.EntryBase().ID()]
		placed[child.EntryBase().ID()] = w.AddUUID(info.id, data, info.flags)
	}
	out := w.Bytes()
	f.placed = placed

	return out, nil
}

// CheckEntries has nothing to check; the writer places every child.
func (f *FIP) CheckEntries() error { return nil }

// SetImagePos moves each child to where the writer put its data.
func (f *FIP) SetImagePos(base uint64) {
	f.Base.SetImagePos(base)
	f.placeChildren()
}

func (f *FIP) placeChildren() {
	for _, child := range f.Children() {
		if e := f.placed[child.EntryBase().ID()]; e != nil {
			child.EntryBase().SetOffsetSize(e.Offset, e.Size)
		}
		child.SetImagePos(f.ContentsPos())
	}
}

// ReadChildData looks the child up in the package table.
func (f *FIP) ReadChildData(child entry.Entry, decomp bool) ([]byte, error) {
	contents, err := entry.ReadData(f, true)
	if err != nil {
		return nil, err
	}
	pkg, err := fip.Parse(contents)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	cb := child.EntryBase()
	e, err := pkg.FindUUID(f.info[cb.ID()].id)
	if err != nil {
		return nil, cb.Errorf("%w", err)
	}
	if decomp {
		return cb.Decompress(e.Data)
	}

	return e.Data, nil
}

// WriteChildData writes the package again around the child's new data.
func (f *FIP) WriteChildData(child entry.Entry) error {
	data, err := f.BuildSectionData()
	if err != nil {
		return err
	}
	if err := f.ReplaceData(data); err != nil {
		return err
	}
	f.placeChildren()

	return nil
}

// RepacksOnWrite reports that replaced children may change size.
func (f *FIP) RepacksOnWrite() bool { return true }
