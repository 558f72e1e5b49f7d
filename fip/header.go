package fip

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/fwpack/endian"
	"github.com/arloliu/fwpack/errs"
)

const (
	HeaderMagic  = 0xaa640001
	HeaderSerial = 0x12345678

	HeaderSize = 16
	EntrySize  = 40
)

var engine = endian.GetLittleEndianEngine()

// Header is the fixed FIP header.
type Header struct {
	Magic  uint32 // byte offset 0-3
	Serial uint32 // byte offset 4-7
	Flags  uint64 // byte offset 8-15
}

// NewHeader creates a header carrying flags.
func NewHeader(flags uint64) Header {
	return Header{Magic: HeaderMagic, Serial: HeaderSerial, Flags: flags}
}

// Bytes serializes the header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	engine.PutUint32(b[0:4], h.Magic)
	engine.PutUint32(b[4:8], h.Serial)
	engine.PutUint64(b[8:16], h.Flags)

	return b
}

// ParseHeader parses a header from the start of data. It fails with
// ErrInvalidHeader if data is short or the magic is wrong.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: fip of %d bytes is shorter than its header", errs.ErrInvalidHeader, len(data))
	}

	h := Header{
		Magic:  engine.Uint32(data[0:4]),
		Serial: engine.Uint32(data[4:8]),
		Flags:  engine.Uint64(data[8:16]),
	}
	if h.Magic != HeaderMagic {
		return Header{}, fmt.Errorf("%w: bad fip magic %#x", errs.ErrInvalidHeader, h.Magic)
	}

	return h, nil
}

// TocEntry is one table of contents record.
type TocEntry struct {
	UUID   uuid.UUID // byte offset 0-15
	Offset uint64    // byte offset 16-23
	Size   uint64    // byte offset 24-31
	Flags  uint64    // byte offset 32-39
}

// Bytes serializes the record.
func (e TocEntry) Bytes() []byte {
	b := make([]byte, EntrySize)
	copy(b[0:16], e.UUID[:])
	engine.PutUint64(b[16:24], e.Offset)
	engine.PutUint64(b[24:32], e.Size)
	engine.PutUint64(b[32:40], e.Flags)

	return b
}

// IsTerminator reports whether the record ends the table.
func (e TocEntry) IsTerminator() bool {
	return e.UUID == uuid.Nil
}

func parseTocEntry(data []byte) TocEntry {
	var e TocEntry
	copy(e.UUID[:], data[0:16])
	e.Offset = engine.Uint64(data[16:24])
	e.Size = engine.Uint64(data[24:32])
	e.Flags = engine.Uint64(data[32:40])

	return e
}
