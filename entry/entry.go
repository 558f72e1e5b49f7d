package entry

import (
	"bytes"
	"fmt"

	"github.com/arloliu/fwpack/compress"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/format"
	"github.com/arloliu/fwpack/layout"
)

// Entry is one node of an image: a blob of data placed at an offset within
// its parent section.
//
// Implementations embed Base (or Section, which embeds Base) and override
// the steps they need. The parent always calls through this interface, so
// an override is seen wherever the step is driven from above.
type Entry interface {
	// EntryBase returns the embedded Base.
	EntryBase() *Base
	// ReadNode reads the entry's properties from its layout node.
	ReadNode() error
	// ObtainContents produces the entry's data. It returns false when the
	// data depends on something not ready yet; it is then called again in
	// a later round. It must be safe to call repeatedly.
	ObtainContents() (bool, error)
	// Pack places the entry at or after next and returns the offset that
	// follows it.
	Pack(next uint64) (uint64, error)
	// SetImagePos records the absolute position, given the image position
	// the entry's offset is relative to.
	SetImagePos(base uint64)
	// ProcessContents updates the data once positions are known. It returns
	// false when the data changed size and the image must be packed again.
	ProcessContents() (bool, error)
	// Data returns the entry's data, excluding padding.
	Data() ([]byte, error)
	// ResetForPack forgets computed positions before a repack.
	ResetForPack()
}

// SymbolWriter is implemented by entries that patch layout references into
// their data. It runs after ProcessContents in every pack pass.
type SymbolWriter interface {
	WriteSymbols(section *Section) error
}

// Repacker is implemented by containers whose WriteChildData lays out the
// whole container again, so that a replaced child may change size. The
// container checks the fit itself.
type Repacker interface {
	RepacksOnWrite() bool
}

// SectionBuilder is implemented by sections whose data is not a plain
// concatenation of their children.
type SectionBuilder interface {
	BuildSectionData() ([]byte, error)
}

// EntryChecker validates the placement of a section's children.
type EntryChecker interface {
	CheckEntries() error
}

// ChildDataReader extracts one child's data from an already built section.
type ChildDataReader interface {
	ReadChildData(child Entry, decomp bool) ([]byte, error)
}

// ChildDataWriter stores a child's replaced data back into its section.
type ChildDataWriter interface {
	WriteChildData(child Entry) error
}

// TemplateOwner is implemented by entries that hold entries outside the
// packed tree, such as FIT generator nodes. Templates are never placed but
// count when checking for missing contents.
type TemplateOwner interface {
	Templates() []Entry
}

type sectionLike interface {
	AsSection() *Section
}

// Base holds the state shared by every entry type.
type Base struct {
	ctx    *Context
	id     int
	parent int
	node   *layout.Node
	name   string
	etype  string

	// Geometry as given in the layout; restored by ResetForPack.
	origOffset, origSize   uint64
	fixedOffset, fixedSize bool

	offset, size           uint64
	offsetSet, sizeSet     bool
	imagePos               uint64
	align, alignSize       uint64
	alignEnd               uint64
	padBefore, padAfter    uint64
	minSize                uint64
	compress               format.CompressionType
	allowMissing, optional bool
	external               bool

	missing bool
	fake    bool

	data         []byte
	contentsSize uint64
	uncompSize   uint64
	obtained     bool
}

func (b *Base) init(c *Context, id, parent int, node *layout.Node, etype string) {
	b.ctx = c
	b.id = id
	b.parent = parent
	b.node = node
	b.name = node.Name
	b.etype = etype
	b.compress = format.CompressionNone
}

func (b *Base) EntryBase() *Base { return b }

// self returns the outermost value of this entry, so that overrides of the
// embedding type are reached from Base and Section methods.
func (b *Base) self() Entry { return b.ctx.Node(b.id) }

func (b *Base) Context() *Context    { return b.ctx }
func (b *Base) ID() int              { return b.id }
func (b *Base) Node() *layout.Node   { return b.node }
func (b *Base) Name() string         { return b.name }
func (b *Base) Type() string         { return b.etype }
func (b *Base) Path() string         { return b.node.Path() }
func (b *Base) Offset() uint64       { return b.offset }
func (b *Base) Size() uint64         { return b.size }
func (b *Base) ImagePos() uint64     { return b.imagePos }
func (b *Base) PadBefore() uint64    { return b.padBefore }
func (b *Base) PadAfter() uint64     { return b.padAfter }
func (b *Base) ContentsSize() uint64 { return b.contentsSize }
func (b *Base) UncompSize() uint64   { return b.uncompSize }
func (b *Base) Missing() bool        { return b.missing }
func (b *Base) Fake() bool           { return b.fake }
func (b *Base) External() bool       { return b.external }
func (b *Base) Optional() bool       { return b.optional }
func (b *Base) Obtained() bool       { return b.obtained }

// Compression returns the algorithm applied to the entry's data.
func (b *Base) Compression() format.CompressionType { return b.compress }

// SetExternal marks the entry's contents as produced outside this build.
func (b *Base) SetExternal(external bool) { b.external = external }

// AllowMissing reports whether missing contents may be replaced by a
// placeholder, either by the entry's own property or for the whole build.
func (b *Base) AllowMissing() bool {
	return b.allowMissing || b.ctx.allowMissing
}

// Parent returns the section containing the entry, or nil for an image.
func (b *Base) Parent() Entry {
	if b.parent < 0 {
		return nil
	}

	return b.ctx.Node(b.parent)
}

// Section returns the containing section, or nil for an image.
func (b *Base) Section() *Section {
	if sl, ok := b.Parent().(sectionLike); ok {
		return sl.AsSection()
	}

	return nil
}

// Image returns the image the entry belongs to.
func (b *Base) Image() *Image {
	cur := b
	for cur.parent >= 0 {
		cur = cur.ctx.Node(cur.parent).EntryBase()
	}
	img, _ := cur.self().(*Image)

	return img
}

// SetOffsetSize records a position chosen by a container rather than by
// the generic packer.
func (b *Base) SetOffsetSize(offset, size uint64) {
	b.offset, b.offsetSet = offset, true
	b.size, b.sizeSet = size, true
}

// ReadNode reads the properties common to every entry.
func (b *Base) ReadNode() error {
	n := b.node
	var err error

	if b.origOffset, b.fixedOffset, err = n.Int("offset"); err != nil {
		return err
	}
	if b.origSize, b.fixedSize, err = n.Int("size"); err != nil {
		return err
	}

	aligns := []struct {
		prop  string
		label string
		dst   *uint64
	}{
		{"align", "Alignment", &b.align},
		{"align-size", "Alignment size", &b.alignSize},
		{"align-end", "Alignment end", &b.alignEnd},
	}
	for _, a := range aligns {
		v, err := n.GetInt(a.prop, 0)
		if err != nil {
			return err
		}
		if v != 0 && v&(v-1) != 0 {
			return b.Fail(errs.ErrInvalidAlign, "%s %d must be a power of two", a.label, v)
		}
		*a.dst = v
	}

	if b.padBefore, err = n.GetInt("pad-before", 0); err != nil {
		return err
	}
	if b.padAfter, err = n.GetInt("pad-after", 0); err != nil {
		return err
	}
	if b.minSize, err = n.GetInt("min-size", 0); err != nil {
		return err
	}

	name, err := n.GetString("compress", "")
	if err != nil {
		return err
	}
	ct, ok := format.ParseCompression(name)
	if !ok {
		return b.Fail(errs.ErrUnknownCompression, "Unknown compression algorithm '%s'", name)
	}
	if _, err := compress.GetCodec(ct); err != nil {
		return b.Fail(errs.ErrUnknownCompression, "Compression algorithm '%s' is not supported", name)
	}
	b.compress = ct

	if b.allowMissing, err = n.GetBool("allow-missing"); err != nil {
		return err
	}
	if b.optional, err = n.GetBool("optional"); err != nil {
		return err
	}

	b.ResetForPack()

	return nil
}

// ObtainContents of a plain entry yields no data.
func (b *Base) ObtainContents() (bool, error) {
	if !b.obtained {
		if err := b.SetContents(nil); err != nil {
			return false, err
		}
	}

	return true, nil
}

// SetContents stores data, compressing it first when the entry asks for
// compression.
func (b *Base) SetContents(data []byte) error {
	stored, err := b.encode(data)
	if err != nil {
		return err
	}
	b.data = stored
	b.contentsSize = uint64(len(stored))
	b.obtained = true

	return nil
}

func (b *Base) encode(data []byte) ([]byte, error) {
	if b.compress == format.CompressionNone {
		b.uncompSize = 0
		return data, nil
	}

	codec, err := compress.GetCodec(b.compress)
	if err != nil {
		return nil, b.wrap(err)
	}
	out, err := codec.Compress(data)
	if err != nil {
		return nil, b.wrap(err)
	}
	b.uncompSize = uint64(len(data))

	return out, nil
}

// Decompress reverses the entry's compression.
func (b *Base) Decompress(data []byte) ([]byte, error) {
	if b.compress == format.CompressionNone {
		return data, nil
	}

	codec, err := compress.GetCodec(b.compress)
	if err != nil {
		return nil, b.wrap(err)
	}
	out, err := codec.Decompress(data)
	if err != nil {
		return nil, b.wrap(err)
	}

	return out, nil
}

// Data returns the stored contents.
func (b *Base) Data() ([]byte, error) {
	return b.data, nil
}

// Pack places the entry.
//
// Without a fixed offset the entry starts at next rounded up to align. The
// space it needs is pad-before + contents + pad-after, at least min-size,
// rounded up to align-size; that is the size unless one is fixed. The end
// is then rounded up to align-end.
func (b *Base) Pack(next uint64) (uint64, error) {
	if !b.offsetSet {
		b.offset = alignUp(next, b.align)
		b.offsetSet = true
	}

	needed := b.padBefore + b.contentsSize + b.padAfter
	needed = max(needed, b.minSize)
	needed = alignUp(needed, b.alignSize)

	size := needed
	if b.sizeSet {
		size = b.size
	}
	end := b.offset + size
	if aligned := alignUp(end, b.alignEnd); aligned != end {
		size = aligned - b.offset
		end = aligned
	}
	if !b.sizeSet {
		b.size = size
		b.sizeSet = true
	}

	if b.size < needed {
		return 0, b.Fail(errs.ErrSizeTooSmall, "Entry contents size is %#x (%d) but entry size is %#x (%d)",
			needed, needed, b.size, b.size)
	}
	if b.size != alignUp(b.size, b.alignSize) {
		return 0, b.Fail(errs.ErrAlignMismatch, "Size %#x (%d) does not match align-size %#x (%d)",
			b.size, b.size, b.alignSize, b.alignSize)
	}
	if b.offset != alignUp(b.offset, b.align) {
		return 0, b.Fail(errs.ErrAlignMismatch, "Offset %#x (%d) does not match align %#x (%d)",
			b.offset, b.offset, b.align, b.align)
	}

	return end, nil
}

// SetImagePos sets the absolute position to base plus the entry's offset.
func (b *Base) SetImagePos(base uint64) {
	b.imagePos = base + b.offset
}

// ProcessContents of a plain entry changes nothing.
func (b *Base) ProcessContents() (bool, error) {
	return true, nil
}

// ProcessContentsUpdate replaces the data after packing. Growth reports
// false so the image is packed again. Shrinking keeps the packed size by
// zero-padding uncompressed data.
func (b *Base) ProcessContentsUpdate(data []byte) (bool, error) {
	stored, err := b.encode(data)
	if err != nil {
		return false, err
	}

	sizeOK := true
	newSize := uint64(len(stored))
	switch {
	case newSize > b.contentsSize:
		sizeOK = false
	case newSize < b.contentsSize:
		if b.compress == format.CompressionNone {
			stored = append(stored, make([]byte, b.contentsSize-newSize)...)
		} else {
			sizeOK = false
		}
	}
	if !sizeOK {
		b.ctx.logger.Debug("entry size changed", "path", b.Path(),
			"from", b.contentsSize, "to", newSize)
	}

	b.data = stored
	b.contentsSize = uint64(len(stored))

	return sizeOK, nil
}

// ResetForPack restores the geometry given in the layout.
func (b *Base) ResetForPack() {
	b.offset, b.offsetSet = b.origOffset, b.fixedOffset
	b.size, b.sizeSet = b.origSize, b.fixedSize
	b.imagePos = 0
}

// MarkMissing records that the entry's contents are unavailable and
// substitutes a zero-filled placeholder of the declared size.
func (b *Base) MarkMissing(what string) error {
	b.missing = true
	b.fake = true
	b.ctx.logger.Warn("missing contents, using placeholder", "path", b.Path(), "missing", what,
		"size", b.origSize)

	return b.SetContents(make([]byte, b.origSize))
}

// SetFake records that the entry's data is a placeholder because what
// produces it (usually an external tool) is unavailable.
func (b *Base) SetFake(what string) {
	b.fake = true
	b.ctx.logger.Warn("using placeholder data", "path", b.Path(), "missing", what)
}

// EntryArg returns a named entry argument, falling back to a property of
// the same name.
func (b *Base) EntryArg(name string) (string, bool, error) {
	if v, ok := b.ctx.EntryArg(name); ok {
		return v, true, nil
	}

	return b.node.String(name)
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}

func padBytes(b byte, n uint64) []byte {
	return bytes.Repeat([]byte{b}, int(n))
}

func (b *Base) String() string {
	return fmt.Sprintf("%s (%s) offset %#x size %#x", b.Path(), b.etype, b.offset, b.size)
}
