package cbfs

import (
	"fmt"

	"github.com/arloliu/fwpack/errs"
)

// MasterHeader describes the whole filesystem.
type MasterHeader struct {
	Magic          uint32
	Version        uint32
	RomSize        uint32
	BootBlockSize  uint32
	Align          uint32
	ContentsOffset uint32
	Arch           Arch
	Pad            uint32
}

// Bytes serializes the header, big-endian.
func (h *MasterHeader) Bytes() []byte {
	b := make([]byte, HeaderLen)
	be.PutUint32(b[0:4], h.Magic)
	be.PutUint32(b[4:8], h.Version)
	be.PutUint32(b[8:12], h.RomSize)
	be.PutUint32(b[12:16], h.BootBlockSize)
	be.PutUint32(b[16:20], h.Align)
	be.PutUint32(b[20:24], h.ContentsOffset)
	be.PutUint32(b[24:28], uint32(h.Arch))
	be.PutUint32(b[28:32], h.Pad)

	return b
}

// Valid reports whether the magic and version are recognised.
func (h *MasterHeader) Valid() bool {
	return h.Magic == HeaderMagic && (h.Version == HeaderVersion1 || h.Version == HeaderVersion2)
}

func parseMasterHeader(data []byte) (MasterHeader, bool) {
	if len(data) < HeaderLen {
		return MasterHeader{}, false
	}
	h := MasterHeader{
		Magic:          be.Uint32(data[0:4]),
		Version:        be.Uint32(data[4:8]),
		RomSize:        be.Uint32(data[8:12]),
		BootBlockSize:  be.Uint32(data[12:16]),
		Align:          be.Uint32(data[16:20]),
		ContentsOffset: be.Uint32(data[20:24]),
		Arch:           Arch(be.Uint32(data[24:28])),
		Pad:            be.Uint32(data[28:32]),
	}

	return h, h.Valid()
}

// fileHeader precedes every file.
type fileHeader struct {
	Magic   [8]byte
	Size    uint32
	Type    FileType
	AttrPos uint32
	// DataOffset is the offset of the file data from the start of this header.
	DataOffset uint32
}

func (h *fileHeader) bytes() []byte {
	b := make([]byte, FileHeaderLen)
	copy(b[0:8], h.Magic[:])
	be.PutUint32(b[8:12], h.Size)
	be.PutUint32(b[12:16], uint32(h.Type))
	be.PutUint32(b[16:20], h.AttrPos)
	be.PutUint32(b[20:24], h.DataOffset)

	return b
}

func parseFileHeader(data []byte) (fileHeader, error) {
	if len(data) < FileHeaderLen {
		return fileHeader{}, fmt.Errorf("%w: file header ran out of data", errs.ErrInvalidHeader)
	}
	var h fileHeader
	copy(h.Magic[:], data[0:8])
	h.Size = be.Uint32(data[8:12])
	h.Type = FileType(be.Uint32(data[12:16]))
	h.AttrPos = be.Uint32(data[16:20])
	h.DataOffset = be.Uint32(data[20:24])

	return h, nil
}

func compressionAttr(c Compression, memLen uint32) []byte {
	b := make([]byte, AttrCompressionLen)
	be.PutUint32(b[0:4], attrTagCompression)
	be.PutUint32(b[4:8], AttrCompressionLen)
	be.PutUint32(b[8:12], uint32(c))
	be.PutUint32(b[12:16], memLen)

	return b
}

// stageHeader precedes the data of a stage file. Unlike the rest of CBFS it
// is little-endian.
type stageHeader struct {
	Compress Compression
	Entry    uint64
	Load     uint64
	Len      uint32
	MemSize  uint32
}

func (h *stageHeader) bytes() []byte {
	b := make([]byte, StageLen)
	le.PutUint32(b[0:4], uint32(h.Compress))
	le.PutUint64(b[4:12], h.Entry)
	le.PutUint64(b[12:20], h.Load)
	le.PutUint32(b[20:24], h.Len)
	le.PutUint32(b[24:28], h.MemSize)

	return b
}

func parseStageHeader(data []byte) (stageHeader, error) {
	if len(data) < StageLen {
		return stageHeader{}, fmt.Errorf("%w: stage header ran out of data", errs.ErrInvalidHeader)
	}

	return stageHeader{
		Compress: Compression(le.Uint32(data[0:4])),
		Entry:    le.Uint64(data[4:12]),
		Load:     le.Uint64(data[12:20]),
		Len:      le.Uint32(data[20:24]),
		MemSize:  le.Uint32(data[24:28]),
	}, nil
}
