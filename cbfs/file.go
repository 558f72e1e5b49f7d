package cbfs

import (
	"bytes"
	"fmt"

	"github.com/arloliu/fwpack/compress"
	"github.com/arloliu/fwpack/elfsym"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/format"
	"github.com/arloliu/fwpack/internal/options"
)

// File is a file in a CBFS.
type File struct {
	Name     string
	Type     FileType
	Compress Compression

	// Offset is the required position of the file data within the CBFS,
	// honoured when Fixed is set.
	Offset uint64
	Fixed  bool

	// Data is the uncompressed contents. A stage being written holds the ELF
	// file; a stage read back holds the flattened load image.
	Data []byte

	// DataOffset and Size locate the stored payload within the CBFS. For a
	// stage the payload starts with the stage header. They are set by
	// Writer.Bytes and Parse.
	DataOffset uint64
	Size       uint64

	MemLen uint64
	Load   uint64
	Entry  uint64

	emptySize uint64
}

// FileOption configures a file added to a Writer.
type FileOption = options.Option[*File]

// AtOffset places the file data at offset from the start of the CBFS.
func AtOffset(offset uint64) FileOption {
	return options.NoError(func(f *File) {
		f.Offset = offset
		f.Fixed = true
	})
}

// WithCompression compresses a raw file.
func WithCompression(c Compression) FileOption {
	return options.New(func(f *File) error {
		if f.Type != TypeRaw && c != CompressNone {
			return fmt.Errorf("%w: compression of %s file '%s'", errs.ErrNotSupported, f.Type, f.Name)
		}
		f.Compress = c

		return nil
	})
}

// headerLen is the space needed before the file data when no padding is
// inserted.
func (f *File) headerLen() uint64 {
	n := uint64(len(packName(f.Name)) + FileHeaderLen)
	if f.Type == TypeRaw {
		n += AttrCompressionLen
	}

	return n
}

// encode returns the file as written at pos, and the offset of its payload
// from the start of the returned bytes.
func (f *File) encode(pos uint64, eraseByte byte) ([]byte, uint64, error) {
	name := packName(f.Name)
	hdrLen := uint64(len(name) + FileHeaderLen)

	var content, attr, data []byte
	switch f.Type {
	case TypeStage:
		info, err := elfsym.DecodeELF(f.Data)
		if err != nil {
			return nil, 0, fmt.Errorf("CBFS file '%s': %w", f.Name, err)
		}
		st := stageHeader{
			Compress: CompressNone,
			Entry:    info.Entry,
			Load:     info.Load,
			Len:      uint32(len(info.Data)),
			MemSize:  uint32(info.MemSize),
		}
		content = st.bytes()
		data = info.Data
		f.Load, f.Entry, f.MemLen = info.Load, info.Entry, info.MemSize
	case TypeRaw:
		compressed, err := compressData(f.Compress, f.Data)
		if err != nil {
			return nil, 0, fmt.Errorf("CBFS file '%s': %w", f.Name, err)
		}
		data = compressed
		f.MemLen = uint64(len(f.Data))
		attr = compressionAttr(f.Compress, uint32(f.MemLen))
	case TypeEmpty:
		data = bytes.Repeat([]byte{eraseByte}, int(f.emptySize))
	default:
		return nil, 0, fmt.Errorf("%w: unknown type %#x when writing", errs.ErrNotSupported, uint32(f.Type))
	}

	var attrPos uint64
	if len(attr) > 0 {
		attrPos = hdrLen
		hdrLen += uint64(len(attr))
	}

	var pad []byte
	if f.Fixed {
		if f.Offset < pos+hdrLen {
			return nil, 0, fmt.Errorf("%w: CBFS file '%s': requested offset %#x but current output position is %#x",
				errs.ErrNoSpace, f.Name, f.Offset, pos)
		}
		pad = bytes.Repeat([]byte{eraseByte}, int(f.Offset-pos-hdrLen))
		hdrLen += uint64(len(pad))
	}

	f.Size = uint64(len(content) + len(data))
	hdr := fileHeader{
		Magic:      FileMagic,
		Size:       uint32(f.Size),
		Type:       f.Type,
		AttrPos:    uint32(attrPos),
		DataOffset: uint32(hdrLen),
	}

	out := make([]byte, 0, hdrLen+f.Size)
	out = append(out, hdr.bytes()...)
	out = append(out, name...)
	out = append(out, attr...)
	out = append(out, pad...)
	out = append(out, content...)
	out = append(out, data...)

	return out, hdrLen, nil
}

func codecFor(c Compression) (compress.Codec, error) {
	switch c {
	case CompressNone:
		return compress.GetCodec(format.CompressionNone)
	case CompressLZ4:
		return compress.GetCodec(format.CompressionLZ4)
	default:
		return nil, fmt.Errorf("%w: CBFS compression %s", errs.ErrUnknownCompression, c)
	}
}

func compressData(c Compression, data []byte) ([]byte, error) {
	codec, err := codecFor(c)
	if err != nil {
		return nil, err
	}

	return codec.Compress(data)
}

func decompressData(c Compression, data []byte) ([]byte, error) {
	codec, err := codecFor(c)
	if err != nil {
		return nil, err
	}

	return codec.Decompress(data)
}
