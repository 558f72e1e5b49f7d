package fip

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/pool"
)

// Writer assembles a FIP.
type Writer struct {
	flags   uint64
	align   uint64
	entries []*Entry
}

// NewWriter creates a writer. align is the alignment of each image's data
// and must be a power of two; zero means 1.
func NewWriter(flags uint64, align uint64) (*Writer, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: fip alignment %#x", errs.ErrInvalidAlign, align)
	}

	return &Writer{flags: flags, align: align}, nil
}

// AddUUID adds an image with an explicit UUID.
func (w *Writer) AddUUID(id uuid.UUID, data []byte, flags uint64) *Entry {
	e := &Entry{TocEntry: TocEntry{UUID: id, Size: uint64(len(data)), Flags: flags}, Data: data}
	w.entries = append(w.entries, e)

	return e
}

// Bytes lays out and serializes the package. Offsets of the added entries
// are filled in.
func (w *Writer) Bytes() []byte {
	offset := alignUp(HeaderSize+uint64(len(w.entries)+1)*EntrySize, w.align)
	for _, e := range w.entries {
		offset = alignUp(offset, w.align)
		e.Offset = offset
		e.Size = uint64(len(e.Data))
		offset += e.Size
	}

	bb := pool.GetImageBuffer()
	defer pool.PutImageBuffer(bb)

	_, _ = bb.Write(NewHeader(w.flags).Bytes())
	for _, e := range w.entries {
		_, _ = bb.Write(e.TocEntry.Bytes())
	}
	_, _ = bb.Write(TocEntry{Offset: offset}.Bytes())
	for _, e := range w.entries {
		// Offsets were assigned in order above, so this never moves backwards.
		_ = bb.PadTo(int(e.Offset), 0)
		_, _ = bb.Write(e.Data)
	}

	return bb.CloneBytes()
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}
