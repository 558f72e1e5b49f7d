package elfsym

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arloliu/fwpack/errs"
)

const (
	// AnchorSymbol marks the start of the flat binary built from an ELF.
	AnchorSymbol = "__image_copy_start"
	// RefPrefix starts every layout reference symbol.
	RefPrefix = "_binman_"

	propMarker = "_prop_"
	anySuffix  = "-any"
)

// Properties that a reference may ask for.
const (
	PropOffset   = "offset"
	PropSize     = "size"
	PropImagePos = "image_pos"
)

// AnyCandidates lists the suffixes tried, in order, for an `-any` reference.
var AnyCandidates = []string{"-img", "-nodtb", ""}

// Symbol is an ELF symbol. Offset is the position of the symbol in the ELF
// file itself and is zero for symbols without file backing.
type Symbol struct {
	Name    string
	Section string
	Address uint64
	Size    uint64
	Weak    bool
	Offset  uint64
}

// Ref is a parsed layout reference.
type Ref struct {
	Symbol string
	Entry  string
	Prop   string
}

// Candidates returns the entry names the reference may resolve to, in the
// order they should be tried.
func (r Ref) Candidates() []string {
	if !strings.HasSuffix(r.Entry, anySuffix) {
		return []string{r.Entry}
	}

	root := strings.TrimSuffix(r.Entry, anySuffix)
	out := make([]string, 0, len(AnyCandidates))
	for _, suffix := range AnyCandidates {
		out = append(out, root+suffix)
	}

	return out
}

// ParseRef parses a `_binman_<entry>_prop_<property>` symbol name.
func ParseRef(name string) (Ref, error) {
	if !strings.HasPrefix(name, RefPrefix) {
		return Ref{}, fmt.Errorf("%w: '%s' does not start with %s", errs.ErrInvalidSymbol, name, RefPrefix)
	}

	body := strings.TrimPrefix(name, RefPrefix)
	pos := strings.LastIndex(body, propMarker)
	if pos <= 0 {
		return Ref{}, fmt.Errorf("%w: '%s' has no property", errs.ErrInvalidSymbol, name)
	}

	ref := Ref{
		Symbol: name,
		Entry:  strings.ReplaceAll(body[:pos], "_", "-"),
		Prop:   body[pos+len(propMarker):],
	}
	switch ref.Prop {
	case PropOffset, PropSize, PropImagePos:
	default:
		return Ref{}, fmt.Errorf("%w: '%s' has unknown property '%s'", errs.ErrInvalidSymbol, name, ref.Prop)
	}

	return ref, nil
}

// GetSymbols returns the named symbols of an ELF file. When prefixes are
// given, only symbols whose name contains one of them are returned.
func GetSymbols(data []byte, prefixes ...string) (map[string]Symbol, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidELF, err)
	}
	defer f.Close()

	elfSyms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return map[string]Symbol{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading symbols: %w", errs.ErrInvalidELF, err)
	}

	out := make(map[string]Symbol)
	for _, s := range elfSyms {
		if s.Name == "" || !matchesAny(s.Name, prefixes) {
			continue
		}

		sym := Symbol{
			Name:    s.Name,
			Address: s.Value,
			Size:    s.Size,
			Weak:    elf.ST_BIND(s.Info) == elf.STB_WEAK,
		}
		if idx := int(s.Section); idx > 0 && idx < len(f.Sections) {
			sec := f.Sections[idx]
			sym.Section = sec.Name
			if sec.Type != elf.SHT_NOBITS && s.Value >= sec.Addr && s.Value < sec.Addr+sec.Size {
				sym.Offset = sec.Offset + (s.Value - sec.Addr)
			}
		}
		out[s.Name] = sym
	}

	return out, nil
}

// GetSymbolAddress returns the address of one symbol.
func GetSymbolAddress(data []byte, name string) (uint64, bool, error) {
	syms, err := GetSymbols(data, name)
	if err != nil {
		return 0, false, err
	}
	sym, ok := syms[name]

	return sym.Address, ok, nil
}

func matchesAny(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.Contains(name, p) {
			return true
		}
	}

	return false
}

// sortedRefs returns reference symbols ordered by address so patching is
// deterministic.
func sortedRefs(syms map[string]Symbol) []Symbol {
	out := make([]Symbol, 0, len(syms))
	for name, sym := range syms {
		if strings.HasPrefix(name, RefPrefix) {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}

		return out[i].Name < out[j].Name
	})

	return out
}
