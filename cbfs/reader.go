package cbfs

import (
	"bytes"
	"fmt"

	"github.com/arloliu/fwpack/errs"
)

// FS is a parsed CBFS.
type FS struct {
	Header       MasterHeader
	HeaderOffset uint64
	// Files lists the non-empty files in order.
	Files []*File
}

// Find returns the named file.
func (fs *FS) Find(name string) (*File, error) {
	for _, f := range fs.Files {
		if f.Name == name {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: no CBFS file '%s'", errs.ErrEntryNotFound, name)
}

// Parse reads a CBFS. Data of uncompressed files aliases data.
func Parse(data []byte) (*FS, error) {
	hdr, hdrOffset, ok := findHeader(data)
	if !ok {
		return nil, fmt.Errorf("%w: cannot find master header", errs.ErrInvalidHeader)
	}

	align := uint64(hdr.Align)
	if align == 0 {
		align = EntryAlign
	}

	fs := &FS{Header: hdr, HeaderOffset: hdrOffset}
	pos := uint64(hdr.ContentsOffset)
	for {
		f, next, err := readFile(data, pos, align)
		if err != nil {
			return nil, err
		}
		if next == 0 {
			break
		}
		if f != nil {
			fs.Files = append(fs.Files, f)
		}
		pos = next
	}

	return fs, nil
}

// findHeader follows the relative pointer in the last word, then falls back
// to scanning the whole image.
func findHeader(data []byte) (MasterHeader, uint64, bool) {
	size := uint64(len(data))
	if size < 4 {
		return MasterHeader{}, 0, false
	}

	rel := uint64(le.Uint32(data[size-4:]))
	pos := (size + rel) & 0xffffffff
	if pos+HeaderLen <= size {
		if hdr, ok := parseMasterHeader(data[pos:]); ok {
			return hdr, pos, true
		}
	}

	for pos := uint64(0); pos+HeaderLen < size; pos += 4 {
		if hdr, ok := parseMasterHeader(data[pos:]); ok {
			return hdr, pos, true
		}
	}

	return MasterHeader{}, 0, false
}

// readFile reads the file at pos. A zero next position means the end of the
// filesystem; a nil file with a non-zero next position is a file that is
// skipped, such as padding.
func readFile(data []byte, pos, align uint64) (*File, uint64, error) {
	size := uint64(len(data))
	if pos+FileHeaderLen > size {
		return nil, 0, nil
	}
	hdr, err := parseFileHeader(data[pos:])
	if err != nil || hdr.Magic != FileMagic {
		return nil, 0, nil
	}

	name, ok := readName(data, pos+FileHeaderLen)
	if !ok {
		return nil, 0, nil
	}

	compression, err := readAttrs(data, pos, hdr)
	if err != nil {
		return nil, 0, fmt.Errorf("CBFS file '%s': %w", name, err)
	}

	dataStart := pos + uint64(hdr.DataOffset)
	end := dataStart + uint64(hdr.Size)
	if end > size {
		return nil, 0, fmt.Errorf("%w: CBFS file '%s' at %#x size %#x runs past end %#x",
			errs.ErrInvalidHeader, name, dataStart, hdr.Size, size)
	}
	next := alignUp(end, align)

	f := &File{
		Name:       name,
		Type:       hdr.Type,
		Compress:   compression,
		DataOffset: dataStart,
		Size:       uint64(hdr.Size),
	}
	switch hdr.Type {
	case TypeCBFSHeader, TypeEmpty:
		return nil, next, nil
	case TypeStage:
		st, err := parseStageHeader(data[dataStart:end])
		if err != nil {
			return nil, 0, fmt.Errorf("CBFS file '%s': %w", name, err)
		}
		if uint64(StageLen)+uint64(st.Len) > uint64(hdr.Size) {
			return nil, 0, fmt.Errorf("%w: CBFS stage '%s' data length %#x exceeds file size %#x",
				errs.ErrInvalidHeader, name, st.Len, hdr.Size)
		}
		f.Compress = st.Compress
		f.Entry = st.Entry
		f.Load = st.Load
		f.MemLen = uint64(st.MemSize)
		f.Data = data[dataStart+StageLen : dataStart+StageLen+uint64(st.Len)]
	case TypeRaw:
		stored := data[dataStart:end]
		decoded, err := decompressData(compression, stored)
		if err != nil {
			return nil, 0, fmt.Errorf("CBFS file '%s': %w", name, err)
		}
		f.Data = decoded
		f.MemLen = uint64(len(decoded))
	default:
		return nil, 0, fmt.Errorf("%w: CBFS file '%s' has unknown type %#x",
			errs.ErrInvalidHeader, name, uint32(hdr.Type))
	}

	return f, next, nil
}

func readName(data []byte, pos uint64) (string, bool) {
	var name []byte
	for ; pos+FilenameAlign <= uint64(len(data)); pos += FilenameAlign {
		chunk := data[pos : pos+FilenameAlign]
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(name, chunk[:i]...)), true
		}
		name = append(name, chunk...)
	}

	return "", false
}

func readAttrs(data []byte, filePos uint64, hdr fileHeader) (Compression, error) {
	compression := CompressNone
	if hdr.AttrPos == 0 {
		return compression, nil
	}
	if hdr.DataOffset < hdr.AttrPos {
		return 0, fmt.Errorf("%w: attributes at %#x start after data at %#x",
			errs.ErrInvalidHeader, hdr.AttrPos, hdr.DataOffset)
	}

	remaining := uint64(hdr.DataOffset - hdr.AttrPos)
	pos := filePos + uint64(hdr.AttrPos)
	for remaining >= 8 {
		if pos+8 > uint64(len(data)) {
			return 0, fmt.Errorf("%w: attribute tag at %#x ran out of data", errs.ErrInvalidHeader, pos)
		}
		tag := be.Uint32(data[pos:])
		length := uint64(be.Uint32(data[pos+4:]))
		if tag == attrTagUnused2 {
			break
		}
		if length < 8 || length > remaining || pos+length > uint64(len(data)) {
			return 0, fmt.Errorf("%w: attribute at %#x has bad length %#x", errs.ErrInvalidHeader, pos, length)
		}
		if tag == attrTagCompression && length >= AttrCompressionLen {
			compression = Compression(be.Uint32(data[pos+8:]))
		}
		pos += length
		remaining -= length
	}

	return compression, nil
}
