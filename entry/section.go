package entry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/format"
	"github.com/arloliu/fwpack/internal/pool"
	"github.com/arloliu/fwpack/layout"
)

// Section is an entry that holds other entries and lays them out.
//
// Types that encode their children in a container format embed Section and
// implement SectionBuilder, ChildDataReader and ChildDataWriter.
type Section struct {
	Base

	children     []int
	padByte      byte
	sortByOffset bool
	skipAtStart  uint64
	endAt4GB     bool

	// frozen sections return the stored data instead of rebuilding it; set
	// once a build finished or the section was loaded from an image.
	frozen bool
}

func (s *Section) AsSection() *Section { return s }

// ReadNode reads the section properties and creates the children.
func (s *Section) ReadNode() error {
	if err := s.ReadSectionProps(); err != nil {
		return err
	}

	return s.ReadEntries()
}

// ReadSectionProps reads the properties shared by every kind of section.
func (s *Section) ReadSectionProps() error {
	if err := s.Base.ReadNode(); err != nil {
		return err
	}
	if s.compress != format.CompressionNone {
		return s.Fail(errs.ErrNotSupported, "Sections cannot be compressed: compress '%s'", s.compress)
	}

	n := s.node
	pad, err := n.GetInt("pad-byte", 0)
	if err != nil {
		return err
	}
	if pad > 0xff {
		return s.Fail(errs.ErrInvalidProperty, "pad-byte %#x does not fit in a byte", pad)
	}
	s.padByte = byte(pad)

	for _, prop := range []string{"sort-by-offset", "sort-by-pos"} {
		set, err := n.GetBool(prop)
		if err != nil {
			return err
		}
		s.sortByOffset = s.sortByOffset || set
	}

	if s.skipAtStart, err = n.GetInt("skip-at-start", 0); err != nil {
		return err
	}
	if s.endAt4GB, err = n.GetBool("end-at-4gb"); err != nil {
		return err
	}
	if s.endAt4GB {
		if !s.fixedSize {
			return s.Fail(errs.ErrMissingProperty, "Section size must be provided when using end-at-4gb")
		}
		if s.skipAtStart != 0 {
			return s.Fail(errs.ErrInvalidProperty, "Provide either 'end-at-4gb' or 'skip-at-start'")
		}
		s.skipAtStart = (1 << 32) - s.origSize
	}

	return nil
}

// ReadEntries creates an entry for every subnode that describes one.
func (s *Section) ReadEntries() error {
	for _, sub := range s.node.Subnodes {
		if IsMetaNode(sub.Name) {
			continue
		}
		if _, err := s.AddChild(sub); err != nil {
			return err
		}
	}

	return nil
}

// IsMetaNode reports whether a subnode name describes hashing, signing or
// encryption of its parent rather than a child entry.
func IsMetaNode(name string) bool {
	for _, prefix := range []string{"hash", "signature", "cipher"} {
		if name == prefix || strings.HasPrefix(name, prefix+"-") || strings.HasPrefix(name, prefix+"@") {
			return true
		}
	}

	return false
}

// AddChild creates the entry described by node and appends it to the
// section.
func (s *Section) AddChild(node *layout.Node) (Entry, error) {
	child, err := NewEntry(s.ctx, s.id, node)
	if err != nil {
		return nil, err
	}
	s.children = append(s.children, child.EntryBase().id)

	return child, nil
}

// AddChildAs is AddChild with the entry type given by the caller.
func (s *Section) AddChildAs(node *layout.Node, etype string) (Entry, error) {
	child, err := NewEntryAs(s.ctx, s.id, node, etype)
	if err != nil {
		return nil, err
	}
	s.children = append(s.children, child.EntryBase().id)

	return child, nil
}

// Children returns the child entries in their current order.
func (s *Section) Children() []Entry {
	out := make([]Entry, len(s.children))
	for i, id := range s.children {
		out[i] = s.ctx.Node(id)
	}

	return out
}

// Child returns the direct child with the given name.
func (s *Section) Child(name string) Entry {
	for _, id := range s.children {
		if e := s.ctx.Node(id); e.EntryBase().name == name {
			return e
		}
	}

	return nil
}

func (s *Section) SkipAtStart() uint64 { return s.skipAtStart }

// ObtainContents runs one round over the children that have no contents
// yet, nested sections included. It reports false while any of them is
// still waiting; the image decides how many rounds to run.
func (s *Section) ObtainContents() (bool, error) {
	waiting := 0
	for _, child := range s.Children() {
		cb := child.EntryBase()
		if cb.obtained {
			continue
		}
		ok, err := child.ObtainContents()
		if err != nil {
			return false, cb.wrap(err)
		}
		if ok {
			cb.obtained = true
		} else {
			waiting++
		}
	}

	return waiting == 0, nil
}

// Pack lays out the children from skip-at-start, builds the section data
// to learn its size and then places the section itself.
func (s *Section) Pack(next uint64) (uint64, error) {
	offset := s.skipAtStart
	for _, child := range s.Children() {
		var err error
		if offset, err = child.Pack(offset); err != nil {
			return 0, child.EntryBase().wrap(err)
		}
	}
	if s.sortByOffset {
		s.sortChildren()
	}

	data, err := s.build()
	if err != nil {
		return 0, err
	}
	s.data = data
	s.contentsSize = uint64(len(data))

	if s.fixedSize {
		avail := s.origSize - min(s.origSize, s.padBefore+s.padAfter)
		if s.contentsSize > avail {
			return 0, s.Fail(errs.ErrSizeTooSmall, "contents size %#x (%d) exceeds section size %#x (%d)",
				s.contentsSize, s.contentsSize, s.origSize, s.origSize)
		}
	}

	end, err := s.Base.Pack(next)
	if err != nil {
		return 0, err
	}

	checker, ok := s.self().(EntryChecker)
	if !ok {
		checker = s
	}
	if err := checker.CheckEntries(); err != nil {
		return 0, err
	}

	return end, nil
}

func (s *Section) sortChildren() {
	slices.SortStableFunc(s.children, func(a, b int) int {
		oa, ob := s.ctx.Node(a).EntryBase().offset, s.ctx.Node(b).EntryBase().offset
		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		default:
			return 0
		}
	})
}

// build returns the section contents, through the outermost type's
// BuildSectionData when it has one.
func (s *Section) build() ([]byte, error) {
	if b, ok := s.self().(SectionBuilder); ok {
		return b.BuildSectionData()
	}

	return s.BuildSectionData()
}

// BuildSectionData places every child's padded data at its physical
// offset. Gaps hold the pad byte.
func (s *Section) BuildSectionData() ([]byte, error) {
	children := s.Children()

	var end uint64
	for _, child := range children {
		cb := child.EntryBase()
		if cb.offset < s.skipAtStart {
			return nil, s.outside(cb)
		}
		end = max(end, cb.offset-s.skipAtStart+cb.size)
	}

	buf := pool.GetImageBuffer()
	defer pool.PutImageBuffer(buf)
	buf.Fill(s.padByte, int(end))
	out := buf.Bytes()
	for _, child := range children {
		padded, err := s.PaddedData(child)
		if err != nil {
			return nil, err
		}
		copy(out[child.EntryBase().offset-s.skipAtStart:], padded)
	}

	return buf.CloneBytes(), nil
}

// PaddedData returns a child's slot contents: pad-before and pad-after in
// this section's pad byte around the data, filled to the child's size.
// A section child fills with its own pad byte.
func (s *Section) PaddedData(child Entry) ([]byte, error) {
	cb := child.EntryBase()
	data, err := child.Data()
	if err != nil {
		return nil, cb.wrap(err)
	}

	fill := s.padByte
	if sl, ok := child.(sectionLike); ok {
		fill = sl.AsSection().padByte
	}

	out := make([]byte, 0, cb.size)
	out = append(out, padBytes(s.padByte, cb.padBefore)...)
	out = append(out, data...)
	out = append(out, padBytes(s.padByte, cb.padAfter)...)
	if uint64(len(out)) > cb.size {
		return nil, cb.Fail(errs.ErrSizeTooSmall, "Entry contents size is %#x (%d) but entry size is %#x (%d)",
			len(out), len(out), cb.size, cb.size)
	}
	out = append(out, padBytes(fill, cb.size-uint64(len(out)))...)

	return out, nil
}

// CheckEntries verifies that every child lies inside the section and that
// no two children overlap.
func (s *Section) CheckEntries() error {
	limit := s.skipAtStart + s.size
	end := s.skipAtStart
	prev := ""
	for _, child := range s.Children() {
		cb := child.EntryBase()
		if cb.offset < s.skipAtStart || cb.offset+cb.size > limit {
			return s.outside(cb)
		}
		if cb.offset < end {
			return cb.Fail(errs.ErrOverlap, "Offset %#x (%d) overlaps with previous entry '%s' ending at %#x (%d)",
				cb.offset, cb.offset, prev, end, end)
		}
		end = cb.offset + cb.size
		prev = cb.name
	}

	return nil
}

func (s *Section) outside(cb *Base) error {
	return cb.Fail(errs.ErrOutsideSection,
		"Offset %#x (%d) size %#x (%d) is outside the section '%s' starting at %#x (%d) of size %#x (%d)",
		cb.offset, cb.offset, cb.size, cb.size, s.Path(), s.skipAtStart, s.skipAtStart, s.size, s.size)
}

// SetImagePos positions the section and then its children, whose offsets
// are relative to the section contents less skip-at-start.
func (s *Section) SetImagePos(base uint64) {
	s.Base.SetImagePos(base)
	for _, child := range s.Children() {
		child.SetImagePos(s.ContentsPos() - s.skipAtStart)
	}
}

// ContentsPos returns the image position of the section contents, which
// follow the section's pad-before.
func (s *Section) ContentsPos() uint64 { return s.imagePos + s.padBefore }

// ProcessContents processes every child and lets children that carry
// layout references patch them. It reports false if any child changed
// size.
func (s *Section) ProcessContents() (bool, error) {
	sizesOK := true
	for _, child := range s.Children() {
		ok, err := child.ProcessContents()
		if err != nil {
			return false, child.EntryBase().wrap(err)
		}
		if !ok {
			sizesOK = false
		}
		if sw, isWriter := child.(SymbolWriter); isWriter {
			if err := sw.WriteSymbols(s); err != nil {
				return false, child.EntryBase().wrap(err)
			}
		}
	}

	return sizesOK, nil
}

// Data returns the section contents filled to the section size less its
// padding.
func (s *Section) Data() ([]byte, error) {
	data := s.data
	if !s.frozen {
		var err error
		if data, err = s.build(); err != nil {
			return nil, err
		}
	}
	if !s.sizeSet {
		return data, nil
	}

	want := s.size - min(s.size, s.padBefore+s.padAfter)
	if uint64(len(data)) >= want {
		return data, nil
	}

	return append(slices.Clone(data), padBytes(s.padByte, want-uint64(len(data)))...), nil
}

// ResetForPack resets the section and all children.
func (s *Section) ResetForPack() {
	s.Base.ResetForPack()
	for _, child := range s.Children() {
		child.ResetForPack()
	}
}

// ReadChildData extracts a child's data from the section's stored
// contents.
func (s *Section) ReadChildData(child Entry, decomp bool) ([]byte, error) {
	contents, err := ReadData(s.self(), true)
	if err != nil {
		return nil, err
	}

	cb := child.EntryBase()
	start := cb.offset - s.skipAtStart + cb.padBefore
	n := dataLen(child)
	if cb.offset < s.skipAtStart || start+n > uint64(len(contents)) {
		return nil, cb.Fail(errs.ErrInvalidImageMap,
			"data at %#x size %#x lies outside the section contents (%#x bytes)", start, n, len(contents))
	}
	data := contents[start : start+n]
	if decomp {
		return cb.Decompress(data)
	}

	return data, nil
}

// WriteChildData copies a child's replaced data into the section's stored
// contents.
func (s *Section) WriteChildData(child Entry) error {
	padded, err := s.PaddedData(child)
	if err != nil {
		return err
	}

	cb := child.EntryBase()
	off := cb.offset - s.skipAtStart
	if cb.offset < s.skipAtStart || off+uint64(len(padded)) > uint64(len(s.data)) {
		return cb.Fail(errs.ErrSlotTooSmall, "entry at %#x size %#x does not fit in section data of %#x bytes",
			off, len(padded), len(s.data))
	}
	copy(s.data[off:], padded)

	return nil
}

// Frozen reports whether the section holds the data of a finished build.
func (s *Section) Frozen() bool { return s.frozen }

// ReplaceData stores rebuilt contents of a frozen section, filled to the
// section size with the pad byte. Contents larger than the section are
// rejected.
func (s *Section) ReplaceData(data []byte) error {
	slot := s.size - min(s.size, s.padBefore+s.padAfter)
	if uint64(len(data)) > slot {
		return s.Fail(errs.ErrSlotTooSmall, "rebuilt contents %#x (%d) exceed the section slot of %#x (%d) bytes",
			len(data), len(data), slot, slot)
	}
	s.data = append(slices.Clone(data), padBytes(s.padByte, slot-uint64(len(data)))...)
	s.contentsSize = uint64(len(data))

	return nil
}

// dataLen is the length of an entry's data within its slot.
func dataLen(e Entry) uint64 {
	b := e.EntryBase()
	if _, ok := e.(sectionLike); ok {
		return b.size - min(b.size, b.padBefore+b.padAfter)
	}

	return b.contentsSize
}

// freeze stores the built data of every section below and including s so
// that later reads and replacements work on fixed bytes.
func (s *Section) freeze() error {
	for _, child := range s.Children() {
		if sl, ok := child.(sectionLike); ok {
			if err := sl.AsSection().freeze(); err != nil {
				return err
			}
		}
	}

	data, err := s.self().Data()
	if err != nil {
		return err
	}
	s.data = data
	s.frozen = true

	return nil
}

// Walk calls fn for s and every entry below it, parents first. depth is 0
// for s.
func (s *Section) Walk(fn func(e Entry, depth int) error) error {
	return walk(s.self(), 0, fn)
}

func walk(e Entry, depth int, fn func(Entry, int) error) error {
	if err := fn(e, depth); err != nil {
		return err
	}
	sl, ok := e.(sectionLike)
	if !ok {
		return nil
	}
	for _, child := range sl.AsSection().Children() {
		if err := walk(child, depth+1, fn); err != nil {
			return err
		}
	}

	return nil
}

func (s *Section) String() string {
	return fmt.Sprintf("%s (%s, %d entries)", s.Path(), s.etype, len(s.children))
}
