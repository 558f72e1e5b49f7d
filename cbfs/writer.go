package cbfs

import (
	"fmt"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/options"
	"github.com/arloliu/fwpack/internal/pool"
)

// Writer builds a CBFS of a fixed size.
//
//	w := cbfs.NewWriter(0x10000, cbfs.ArchX86)
//	w.AddRaw("u-boot", ubootData, cbfs.WithCompression(cbfs.CompressLZ4))
//	data, err := w.Bytes()
type Writer struct {
	size           uint64
	arch           Arch
	eraseByte      byte
	align          uint64
	bootblockSize  uint64
	baseAddress    uint64
	headerOffset   uint64
	contentsOffset uint64
	hdrAtStart     bool
	files          []*File
}

// NewWriter creates a writer for a CBFS of size bytes.
func NewWriter(size uint64, arch Arch) *Writer {
	w := &Writer{
		size:      size,
		arch:      arch,
		eraseByte: defaultEraseByte,
		align:     EntryAlign,
	}

	if arch == ArchX86 {
		// The last word points at the master header, which sits just below it.
		w.baseAddress = size - max(w.bootblockSize, minBootblockSize)
		w.headerOffset = w.baseAddress - HeaderLen
		w.contentsOffset = 0
	} else {
		w.baseAddress = 0
		w.headerOffset = alignUp(w.baseAddress+w.bootblockSize, 4)
		w.contentsOffset = alignUp(w.headerOffset+FileHeaderLen+w.bootblockSize, w.align)
		w.hdrAtStart = true
	}

	return w
}

// Size returns the size of the filesystem.
func (w *Writer) Size() uint64 { return w.size }

// AddRaw adds a raw file.
func (w *Writer) AddRaw(name string, data []byte, opts ...FileOption) (*File, error) {
	return w.add(&File{Name: name, Type: TypeRaw, Data: data}, opts)
}

// AddStage adds a stage file from an ELF executable.
func (w *Writer) AddStage(name string, elfData []byte, opts ...FileOption) (*File, error) {
	return w.add(&File{Name: name, Type: TypeStage, Data: elfData}, opts)
}

func (w *Writer) add(f *File, opts []FileOption) (*File, error) {
	if err := options.Apply(f, opts...); err != nil {
		return nil, err
	}
	for _, existing := range w.files {
		if existing.Name == f.Name {
			return nil, fmt.Errorf("%w: duplicate CBFS file '%s'", errs.ErrInvalidProperty, f.Name)
		}
	}
	w.files = append(w.files, f)

	return f, nil
}

// Bytes builds the filesystem. Each added file's DataOffset and Size are
// updated to where it was written.
func (w *Writer) Bytes() ([]byte, error) {
	bb := pool.GetImageBuffer()
	defer pool.PutImageBuffer(bb)

	if w.hdrAtStart {
		if err := w.writeHeader(bb); err != nil {
			return nil, err
		}
	}
	if err := w.skipTo(bb, w.contentsOffset); err != nil {
		return nil, err
	}

	for _, f := range w.files {
		if f.Fixed {
			hl := f.headerLen()
			if f.Offset < hl {
				return nil, fmt.Errorf("%w: CBFS file '%s': offset %#x leaves no room for its %#x-byte header",
					errs.ErrNoSpace, f.Name, f.Offset, hl)
			}
			if err := w.padTo(bb, alignDown(f.Offset-hl, w.align)); err != nil {
				return nil, err
			}
		}

		pos := uint64(bb.Len())
		data, dataOffset, err := f.encode(pos, w.eraseByte)
		if err != nil {
			return nil, err
		}
		_, _ = bb.Write(data)
		if err := w.alignTo(bb, w.align); err != nil {
			return nil, err
		}
		f.DataOffset = pos + dataOffset
	}

	if !w.hdrAtStart {
		if err := w.writeHeader(bb); err != nil {
			return nil, err
		}
	}

	end := w.baseAddress
	if end == 0 {
		end = w.size - 4
	}
	if err := w.padTo(bb, end); err != nil {
		return nil, err
	}
	rel := uint32(int64(w.headerOffset) - int64(w.size))
	_, _ = bb.Write(le.AppendUint32(nil, rel))

	return bb.CloneBytes(), nil
}

func (w *Writer) writeHeader(bb *pool.ByteBuffer) error {
	if uint64(bb.Len()) > w.headerOffset {
		return fmt.Errorf("%w: no space for header at offset %#x (current offset %#x)",
			errs.ErrNoSpace, w.headerOffset, bb.Len())
	}
	if err := w.padTo(bb, w.headerOffset); err != nil {
		return err
	}

	hdr := MasterHeader{
		Magic:          HeaderMagic,
		Version:        HeaderVersion2,
		RomSize:        uint32(w.size),
		BootBlockSize:  uint32(w.bootblockSize),
		Align:          uint32(w.align),
		ContentsOffset: uint32(w.contentsOffset),
		Arch:           w.arch,
		Pad:            0xffffffff,
	}
	_, _ = bb.Write(hdr.Bytes())

	return nil
}

func (w *Writer) skipTo(bb *pool.ByteBuffer, offset uint64) error {
	if uint64(bb.Len()) > offset {
		return fmt.Errorf("%w: no space for data before offset %#x (current offset %#x)",
			errs.ErrNoSpace, offset, bb.Len())
	}
	bb.Fill(w.eraseByte, int(offset)-bb.Len())

	return nil
}

// padTo fills up to offset, using an empty file for the aligned part of the
// gap so that readers can step over it.
func (w *Writer) padTo(bb *pool.ByteBuffer, offset uint64) error {
	if err := w.alignTo(bb, w.align); err != nil {
		return err
	}
	upto := uint64(bb.Len())
	if upto > offset {
		return fmt.Errorf("%w: no space for data before pad offset %#x (current offset %#x)",
			errs.ErrNoSpace, offset, upto)
	}

	if todo := alignDown(offset-upto, w.align); todo > 0 {
		empty := &File{Type: TypeEmpty, emptySize: todo - FileHeaderLen - FilenameAlign}
		data, _, err := empty.encode(upto, w.eraseByte)
		if err != nil {
			return err
		}
		_, _ = bb.Write(data)
	}

	return w.skipTo(bb, offset)
}

// alignTo pads to align unless that would reach the end of the filesystem,
// whose last word is reserved for the master header pointer.
func (w *Writer) alignTo(bb *pool.ByteBuffer, align uint64) error {
	offset := alignUp(uint64(bb.Len()), align)
	if offset < w.size {
		return w.skipTo(bb, offset)
	}

	return nil
}
