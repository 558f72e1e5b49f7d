package elfsym

import (
	"fmt"

	"github.com/arloliu/fwpack/endian"
	"github.com/arloliu/fwpack/errs"
)

// Resolver supplies the value of a layout reference. When optional is true and
// no candidate entry exists, it reports found == false instead of an error.
type Resolver interface {
	ResolveSymbol(ref Ref, optional bool) (value uint64, found bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref Ref, optional bool) (uint64, bool, error)

// ResolveSymbol calls f.
func (f ResolverFunc) ResolveSymbol(ref Ref, optional bool) (uint64, bool, error) {
	return f(ref, optional)
}

// Patch records one write made by LookupAndWriteSymbols.
type Patch struct {
	Ref    Ref
	Offset int
	Width  int
	Value  uint64
	Found  bool
}

// LookupAndWriteSymbols patches every layout reference declared in elfData
// into a copy of contents and returns it with the writes made.
//
// Unresolved optional references, which are weak symbols, are written as an
// all-ones value of the symbol's width. contents is never modified, so
// patching the same input twice yields identical output.
func LookupAndWriteSymbols(elfData, contents []byte, resolver Resolver) ([]byte, []Patch, error) {
	base, ok, err := GetSymbolAddress(elfData, AnchorSymbol)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return contents, nil, nil
	}
	syms, err := GetSymbols(elfData, RefPrefix)
	if err != nil {
		return nil, nil, err
	}

	refs := sortedRefs(syms)
	if len(refs) == 0 {
		return contents, nil, nil
	}

	out := append([]byte(nil), contents...)
	le := endian.GetLittleEndianEngine()
	patches := make([]Patch, 0, len(refs))
	for _, sym := range refs {
		ref, err := ParseRef(sym.Name)
		if err != nil {
			return nil, nil, err
		}

		if sym.Size != 4 && sym.Size != 8 {
			return nil, nil, fmt.Errorf("%w: symbol '%s' has size %d: only 4 and 8 are supported",
				errs.ErrSymbolSize, sym.Name, sym.Size)
		}
		if sym.Address < base || sym.Address-base+sym.Size > uint64(len(out)) {
			return nil, nil, fmt.Errorf("%w: symbol '%s' has offset %#x (size %#x) but the contents size is %#x",
				errs.ErrSymbolOutOfRange, sym.Name, int64(sym.Address-base), sym.Size, len(out))
		}
		offset := int(sym.Address - base)
		width := int(sym.Size)

		value, found, err := resolver.ResolveSymbol(ref, sym.Weak)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			value = ^uint64(0)
			if width == 4 {
				value = 0xffffffff
			}
		}
		if err := endian.PutUint(le, out[offset:], width, value); err != nil {
			return nil, nil, fmt.Errorf("%w: symbol '%s': %w", errs.ErrInvalidSymbol, sym.Name, err)
		}
		patches = append(patches, Patch{Ref: ref, Offset: offset, Width: width, Value: value, Found: found})
	}

	return out, patches, nil
}
