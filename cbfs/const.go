// Package cbfs reads and writes coreboot filesystems.
//
// A CBFS is a sequence of 0x40-aligned files, each with a big-endian header
// and a padded name, plus a master header describing the whole filesystem.
// On x86 the master header sits just below the last word of the filesystem
// and that word holds its offset relative to the end; other architectures
// put the master header at the start. Gaps between files are filled with
// empty files so the reader can walk the filesystem file by file.
package cbfs

import (
	"fmt"

	"github.com/arloliu/fwpack/endian"
	"github.com/arloliu/fwpack/errs"
)

const (
	HeaderLen      = 0x20
	HeaderMagic    = 0x4f524243
	HeaderVersion1 = 0x31313131
	HeaderVersion2 = 0x31313132

	FileHeaderLen = 0x18
	FilenameAlign = 16
	StageLen      = 0x1c

	AttrCompressionLen = 0x10

	attrTagUnused2     = 0xffffffff
	attrTagCompression = 0x42435a4c

	// EntryAlign is the alignment of every file header.
	EntryAlign = 0x40

	minBootblockSize = 4
	defaultEraseByte = 0xff
)

// FileMagic starts every file header.
var FileMagic = [8]byte{'L', 'A', 'R', 'C', 'H', 'I', 'V', 'E'}

var (
	be = endian.GetBigEndianEngine()
	le = endian.GetLittleEndianEngine()
)

// Arch is the architecture recorded in the master header.
type Arch uint32

const (
	ArchUnknown Arch = 0xffffffff
	ArchX86     Arch = 0x00000001
	ArchARM     Arch = 0x00000010
	ArchARM64   Arch = 0x0000aa64
	ArchMIPS    Arch = 0x00000100
	ArchRISCV   Arch = 0xc001d0de
	ArchPPC64   Arch = 0x407570ff
)

var archNames = map[Arch]string{
	ArchUnknown: "unknown",
	ArchX86:     "x86",
	ArchARM:     "arm",
	ArchARM64:   "arm64",
	ArchMIPS:    "mips",
	ArchRISCV:   "riscv",
	ArchPPC64:   "ppc64",
}

func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}

	return fmt.Sprintf("arch(%#x)", uint32(a))
}

// ParseArch looks up an architecture by name.
func ParseArch(name string) (Arch, error) {
	for arch, n := range archNames {
		if n == name {
			return arch, nil
		}
	}

	return 0, fmt.Errorf("%w: invalid architecture '%s'", errs.ErrInvalidProperty, name)
}

// FileType is the type of a CBFS file.
type FileType uint32

const (
	TypeCBFSHeader FileType = 0x02
	TypeStage      FileType = 0x10
	TypeRaw        FileType = 0x50
	TypeEmpty      FileType = 0xffffffff
)

func (t FileType) String() string {
	switch t {
	case TypeCBFSHeader:
		return "cbfs header"
	case TypeStage:
		return "stage"
	case TypeRaw:
		return "raw"
	case TypeEmpty:
		return "empty"
	default:
		return fmt.Sprintf("type(%#x)", uint32(t))
	}
}

// ParseFileType accepts the layout names "raw" and "stage".
func ParseFileType(name string) (FileType, error) {
	switch name {
	case "", "raw":
		return TypeRaw, nil
	case "stage":
		return TypeStage, nil
	default:
		return 0, fmt.Errorf("%w: unknown cbfs-type '%s'", errs.ErrInvalidProperty, name)
	}
}

// Compression is the per-file compression algorithm.
type Compression uint32

const (
	CompressNone Compression = 0
	CompressLZMA Compression = 1
	CompressLZ4  Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressLZMA:
		return "lzma"
	case CompressLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compress(%d)", uint32(c))
	}
}

// ParseCompression looks up a compression algorithm by name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressNone, nil
	case "lzma":
		return CompressLZMA, nil
	case "lz4":
		return CompressLZ4, nil
	default:
		return 0, fmt.Errorf("%w: invalid compression '%s'", errs.ErrUnknownCompression, name)
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

func alignDown(v, align uint64) uint64 {
	return v / align * align
}

// packName pads name with at least one NUL to a multiple of FilenameAlign.
func packName(name string) []byte {
	n := alignUp(uint64(len(name)+1), FilenameAlign)
	out := make([]byte, n)
	copy(out, name)

	return out
}
