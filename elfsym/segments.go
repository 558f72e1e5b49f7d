package elfsym

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/arloliu/fwpack/errs"
)

// Info is the flattened loadable image of an ELF file.
type Info struct {
	Data    []byte
	Load    uint64
	Entry   uint64
	MemSize uint64
}

// Segment is one loadable segment, addressed physically.
type Segment struct {
	Seq   int
	Start uint64
	Data  []byte
}

// DecodeELF flattens the PT_LOAD segments of an ELF file into one buffer
// starting at the lowest physical load address. Gaps are zero-filled. The
// entry point is translated from virtual to physical using the first
// segment.
func DecodeELF(data []byte) (*Info, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidELF, err)
	}
	defer f.Close()

	var (
		first              = true
		dataStart, dataEnd uint64
		memEnd             uint64
		virtToPhys         int64
		loads              []*elf.Prog
	)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if first {
			dataStart = p.Paddr
			virtToPhys = int64(p.Paddr) - int64(p.Vaddr)
			first = false
		}
		dataStart = min(dataStart, p.Paddr)
		dataEnd = max(dataEnd, p.Paddr+p.Filesz)
		memEnd = max(memEnd, p.Paddr+p.Memsz)
		loads = append(loads, p)
	}
	if first {
		return nil, fmt.Errorf("%w: no loadable segments", errs.ErrInvalidELF)
	}

	out := make([]byte, dataEnd-dataStart)
	for _, p := range loads {
		if p.Filesz == 0 {
			continue
		}
		seg, err := io.ReadAll(p.Open())
		if err != nil {
			return nil, fmt.Errorf("%w: reading segment at %#x: %w", errs.ErrInvalidELF, p.Paddr, err)
		}
		copy(out[p.Paddr-dataStart:], seg)
	}

	return &Info{
		Data:    out,
		Load:    dataStart,
		Entry:   uint64(int64(f.Entry) + virtToPhys),
		MemSize: memEnd - dataStart,
	}, nil
}

// ReadLoadableSegments returns each PT_LOAD segment with file data, in
// program header order, together with the ELF entry point.
func ReadLoadableSegments(data []byte) ([]Segment, uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errs.ErrInvalidELF, err)
	}
	defer f.Close()

	var segs []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		buf, err := io.ReadAll(p.Open())
		if err != nil {
			return nil, 0, fmt.Errorf("%w: reading segment at %#x: %w", errs.ErrInvalidELF, p.Paddr, err)
		}
		segs = append(segs, Segment{Seq: len(segs), Start: p.Paddr, Data: buf})
	}

	return segs, f.Entry, nil
}

// IsELF reports whether data starts with the ELF magic.
func IsELF(data []byte) bool {
	return bytes.HasPrefix(data, []byte(elf.ELFMAG))
}
