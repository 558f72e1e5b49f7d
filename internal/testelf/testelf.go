// Package testelf builds small little-endian ELF64 executables for tests.
//
// The files carry real program headers, section headers and a symbol table,
// so debug/elf reads them exactly as it reads a linker's output.
package testelf

import (
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
)

// Symbol is a symbol to place in .symtab. Section is the 1-based index of the
// segment section it belongs to; zero means the first one.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Weak    bool
	Section int
}

// Segment is a PT_LOAD segment. Each segment also gets a PROGBITS section so
// symbols can be resolved to file offsets. MemSize defaults to len(Data);
// PAddr defaults to VAddr.
type Segment struct {
	VAddr   uint64
	PAddr   uint64
	Data    []byte
	MemSize uint64
}

// File describes an executable to build.
type File struct {
	Machine  elf.Machine
	Entry    uint64
	Segments []Segment
	Symbols  []Symbol
}

// Bytes serialises the file.
func (f *File) Bytes() []byte {
	le := binary.LittleEndian
	machine := f.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_AARCH64
	}

	nseg := len(f.Segments)
	shstr := []byte{0}
	addName := func(tab *[]byte, name string) uint32 {
		off := uint32(len(*tab))
		*tab = append(*tab, name...)
		*tab = append(*tab, 0)

		return off
	}

	// File layout: ehdr, phdrs, segment data, symtab, strtab, shstrtab, shdrs.
	off := uint64(ehdrSize + phdrSize*nseg)
	segOffsets := make([]uint64, nseg)
	for i, seg := range f.Segments {
		off = alignUp(off, 16)
		segOffsets[i] = off
		off += uint64(len(seg.Data))
	}

	strtab := []byte{0}
	symtab := make([]byte, symSize) // index 0 is the null symbol
	for _, sym := range f.Symbols {
		ent := make([]byte, symSize)
		le.PutUint32(ent[0:], addName(&strtab, sym.Name))
		bind := elf.STB_GLOBAL
		if sym.Weak {
			bind = elf.STB_WEAK
		}
		ent[4] = byte(bind)<<4 | byte(elf.STT_OBJECT)
		shndx := sym.Section
		if shndx == 0 {
			shndx = 1
		}
		le.PutUint16(ent[6:], uint16(shndx))
		le.PutUint64(ent[8:], sym.Value)
		le.PutUint64(ent[16:], sym.Size)
		symtab = append(symtab, ent...)
	}

	off = alignUp(off, 8)
	symtabOff := off
	off += uint64(len(symtab))
	strtabOff := off
	off += uint64(len(strtab))

	segNames := make([]uint32, nseg)
	for i := range f.Segments {
		if i == 0 {
			segNames[i] = addName(&shstr, ".text")
		} else {
			segNames[i] = addName(&shstr, ".data"+string(rune('0'+i)))
		}
	}
	symtabName := addName(&shstr, ".symtab")
	strtabName := addName(&shstr, ".strtab")
	shstrName := addName(&shstr, ".shstrtab")
	shstrOff := off
	off += uint64(len(shstr))
	off = alignUp(off, 8)
	shOff := off

	// Sections: null, one per segment, symtab, strtab, shstrtab.
	shnum := 1 + nseg + 3
	symtabIdx := 1 + nseg
	strtabIdx := symtabIdx + 1
	shstrIdx := strtabIdx + 1

	out := make([]byte, shOff+uint64(shnum*shdrSize))
	copy(out, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le.PutUint16(out[16:], uint16(elf.ET_EXEC))
	le.PutUint16(out[18:], uint16(machine))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(out[24:], f.Entry)
	if nseg > 0 {
		le.PutUint64(out[32:], ehdrSize)
	}
	le.PutUint64(out[40:], shOff)
	le.PutUint16(out[52:], ehdrSize)
	le.PutUint16(out[54:], phdrSize)
	le.PutUint16(out[56:], uint16(nseg))
	le.PutUint16(out[58:], shdrSize)
	le.PutUint16(out[60:], uint16(shnum))
	le.PutUint16(out[62:], uint16(shstrIdx))

	for i, seg := range f.Segments {
		paddr := seg.PAddr
		if paddr == 0 {
			paddr = seg.VAddr
		}
		memsz := seg.MemSize
		if memsz == 0 {
			memsz = uint64(len(seg.Data))
		}
		ph := out[ehdrSize+i*phdrSize:]
		le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
		le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
		le.PutUint64(ph[8:], segOffsets[i])
		le.PutUint64(ph[16:], seg.VAddr)
		le.PutUint64(ph[24:], paddr)
		le.PutUint64(ph[32:], uint64(len(seg.Data)))
		le.PutUint64(ph[40:], memsz)
		le.PutUint64(ph[48:], 16)
		copy(out[segOffsets[i]:], seg.Data)
	}
	copy(out[symtabOff:], symtab)
	copy(out[strtabOff:], strtab)
	copy(out[shstrOff:], shstr)

	putShdr := func(idx int, name uint32, typ elf.SectionType, flags elf.SectionFlag,
		addr, offset, size uint64, link, info uint32, align, entsize uint64) {
		sh := out[shOff+uint64(idx*shdrSize):]
		le.PutUint32(sh[0:], name)
		le.PutUint32(sh[4:], uint32(typ))
		le.PutUint64(sh[8:], uint64(flags))
		le.PutUint64(sh[16:], addr)
		le.PutUint64(sh[24:], offset)
		le.PutUint64(sh[32:], size)
		le.PutUint32(sh[40:], link)
		le.PutUint32(sh[44:], info)
		le.PutUint64(sh[48:], align)
		le.PutUint64(sh[56:], entsize)
	}
	for i, seg := range f.Segments {
		putShdr(1+i, segNames[i], elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR,
			seg.VAddr, segOffsets[i], uint64(len(seg.Data)), 0, 0, 16, 0)
	}
	putShdr(symtabIdx, symtabName, elf.SHT_SYMTAB, 0, 0, symtabOff, uint64(len(symtab)),
		uint32(strtabIdx), 1, 8, symSize)
	putShdr(strtabIdx, strtabName, elf.SHT_STRTAB, 0, 0, strtabOff, uint64(len(strtab)), 0, 0, 1, 0)
	putShdr(shstrIdx, shstrName, elf.SHT_STRTAB, 0, 0, shstrOff, uint64(len(shstr)), 0, 0, 1, 0)

	return out
}

// Image returns a single-segment file whose code starts at base, with the
// `__image_copy_start` anchor at base followed by syms.
func Image(base uint64, code []byte, syms ...Symbol) []byte {
	all := append([]Symbol{{Name: "__image_copy_start", Value: base}}, syms...)
	f := &File{
		Entry:    base,
		Segments: []Segment{{VAddr: base, Data: code}},
		Symbols:  all,
	}

	return f.Bytes()
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
