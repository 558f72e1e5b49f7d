package etype

import (
	"github.com/arloliu/fwpack/cbfs"
	"github.com/arloliu/fwpack/elfsym"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
)

// CBFS is a coreboot filesystem holding its child entries as files.
//
// The filesystem size must be given. Children may set `cbfs-name`
// (default the node name), `cbfs-type` (raw or stage, where a stage is
// built from an ELF file), `cbfs-compress` and `cbfs-offset`.
type CBFS struct {
	entry.Section

	fsSize uint64
	arch   cbfs.Arch
	files  map[int]*cbfsFile
}

type cbfsFile struct {
	name     string
	ftype    cbfs.FileType
	compress cbfs.Compression
	offset   uint64
	fixed    bool

	placed *cbfs.File
}

func (c *CBFS) ReadNode() error {
	if err := c.ReadSectionProps(); err != nil {
		return err
	}

	size, ok, err := c.Node().Int("size")
	if err != nil {
		return err
	}
	if !ok {
		return c.Fail(errs.ErrMissingProperty, "'cbfs' entry is missing properties: size")
	}
	c.fsSize = size

	archName, err := c.Node().GetString("cbfs-arch", "x86")
	if err != nil {
		return err
	}
	if c.arch, err = cbfs.ParseArch(archName); err != nil {
		return c.Fail(errs.ErrInvalidProperty, "Invalid architecture '%s'", archName)
	}

	if err := c.ReadEntries(); err != nil {
		return err
	}

	c.files = make(map[int]*cbfsFile)
	for _, child := range c.Children() {
		f, err := readCBFSFile(child.EntryBase())
		if err != nil {
			return err
		}
		c.files[child.EntryBase().ID()] = f
	}

	return nil
}

func readCBFSFile(cb *entry.Base) (*cbfsFile, error) {
	node := cb.Node()
	f := &cbfsFile{}

	var err error
	if f.name, err = node.GetString("cbfs-name", cb.Name()); err != nil {
		return nil, err
	}

	typeName, err := node.GetString("cbfs-type", "raw")
	if err != nil {
		return nil, err
	}
	if f.ftype, err = cbfs.ParseFileType(typeName); err != nil ||
		(f.ftype != cbfs.TypeRaw && f.ftype != cbfs.TypeStage) {
		return nil, cb.Fail(errs.ErrInvalidProperty, "Unknown cbfs-type '%s'", typeName)
	}

	compName, err := node.GetString("cbfs-compress", "none")
	if err != nil {
		return nil, err
	}
	if f.compress, err = cbfs.ParseCompression(compName); err != nil {
		return nil, cb.Fail(errs.ErrUnknownCompression, "Invalid compression in '%s': '%s'", f.name, compName)
	}
	if f.compress == cbfs.CompressLZMA {
		return nil, cb.Fail(errs.ErrNotSupported, "Compression '%s' is not supported in CBFS", compName)
	}
	if f.compress != cbfs.CompressNone && f.ftype != cbfs.TypeRaw {
		return nil, cb.Fail(errs.ErrNotSupported, "Compression is only supported for raw CBFS files")
	}

	if f.offset, f.fixed, err = node.Int("cbfs-offset"); err != nil {
		return nil, err
	}

	return f, nil
}

// BuildSectionData writes the filesystem from the children's data.
func (c *CBFS) BuildSectionData() ([]byte, error) {
	w := cbfs.NewWriter(c.fsSize, c.arch)
	for _, child := range c.Children() {
		cb := child.EntryBase()
		f := c.files[cb.ID()]
		data, err := child.Data()
		if err != nil {
			return nil, err
		}

		opts := []cbfs.FileOption{cbfs.WithCompression(f.compress)}
		if f.fixed {
			opts = append(opts, cbfs.AtOffset(f.offset))
		}

		var placed *cbfs.File
		if f.ftype == cbfs.TypeStage {
			if !elfsym.IsELF(data) {
				return nil, cb.Fail(errs.ErrNotSupported, "CBFS stage '%s' needs an ELF file", f.name)
			}
			placed, err = w.AddStage(f.name, data, opts...)
		} else {
			placed, err = w.AddRaw(f.name, data, opts...)
		}
		if err != nil {
			return nil, cb.Errorf("%w", err)
		}
		f.placed = placed
	}

	out, err := w.Bytes()
	if err != nil {
		return nil, c.Errorf("%w", err)
	}

	return out, nil
}

// CheckEntries has nothing to check; the writer places every file.
func (c *CBFS) CheckEntries() error { return nil }

// SetImagePos moves each child to the data of its file.
func (c *CBFS) SetImagePos(base uint64) {
	c.Base.SetImagePos(base)
	c.placeChildren()
}

func (c *CBFS) placeChildren() {
	for _, child := range c.Children() {
		if f := c.files[child.EntryBase().ID()]; f != nil && f.placed != nil {
			child.EntryBase().SetOffsetSize(f.placed.DataOffset, f.placed.Size)
		}
		child.SetImagePos(c.ContentsPos())
	}
}

// ReadChildData returns the contents of the child's file, decompressed by
// the filesystem. A stage reads back as its load image.
func (c *CBFS) ReadChildData(child entry.Entry, decomp bool) ([]byte, error) {
	contents, err := entry.ReadData(c, true)
	if err != nil {
		return nil, err
	}
	fs, err := cbfs.Parse(contents)
	if err != nil {
		return nil, c.Errorf("%w", err)
	}

	cb := child.EntryBase()
	f, err := fs.Find(c.files[cb.ID()].name)
	if err != nil {
		return nil, cb.Errorf("%w", err)
	}
	if decomp {
		return cb.Decompress(f.Data)
	}

	return f.Data, nil
}

// WriteChildData writes the filesystem again with the child's new data.
func (c *CBFS) WriteChildData(child entry.Entry) error {
	data, err := c.BuildSectionData()
	if err != nil {
		return err
	}
	if err := c.ReplaceData(data); err != nil {
		return err
	}
	c.placeChildren()

	return nil
}

// RepacksOnWrite reports that replaced children may change size.
func (c *CBFS) RepacksOnWrite() bool { return true }
