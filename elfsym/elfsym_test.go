package elfsym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/testelf"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		sym     string
		entry   string
		prop    string
		wantErr bool
	}{
		{"offset", "_binman_u_boot_spl_prop_offset", "u-boot-spl", "offset", false},
		{"image pos", "_binman_u_boot_prop_image_pos", "u-boot", "image_pos", false},
		{"size", "_binman_atf_bl31_prop_size", "atf-bl31", "size", false},
		{"any", "_binman_u_boot_any_prop_size", "u-boot-any", "size", false},
		{"no prefix", "u_boot_prop_size", "", "", true},
		{"no property", "_binman_u_boot", "", "", true},
		{"unknown property", "_binman_u_boot_prop_colour", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.sym)
			if tt.wantErr {
				require.ErrorIs(t, err, errs.ErrInvalidSymbol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry, ref.Entry)
			assert.Equal(t, tt.prop, ref.Prop)
			assert.Equal(t, tt.sym, ref.Symbol)
		})
	}
}

func TestRef_Candidates(t *testing.T) {
	assert.Equal(t, []string{"u-boot-spl"}, Ref{Entry: "u-boot-spl"}.Candidates())
	assert.Equal(t, []string{"u-boot-img", "u-boot-nodtb", "u-boot"}, Ref{Entry: "u-boot-any"}.Candidates())
}

func TestGetSymbols(t *testing.T) {
	data := testelf.Image(0x1000, make([]byte, 32),
		testelf.Symbol{Name: "_binman_u_boot_prop_offset", Value: 0x1008, Size: 4},
		testelf.Symbol{Name: "_binman_spl_prop_size", Value: 0x1010, Size: 8, Weak: true},
		testelf.Symbol{Name: "other", Value: 0x1018, Size: 4},
	)

	all, err := GetSymbols(data)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	syms, err := GetSymbols(data, RefPrefix)
	require.NoError(t, err)
	require.Len(t, syms, 2)

	sym := syms["_binman_u_boot_prop_offset"]
	assert.EqualValues(t, 0x1008, sym.Address)
	assert.EqualValues(t, 4, sym.Size)
	assert.False(t, sym.Weak)
	assert.Equal(t, ".text", sym.Section)
	assert.NotZero(t, sym.Offset)
	assert.True(t, syms["_binman_spl_prop_size"].Weak)

	addr, ok, err := GetSymbolAddress(data, AnchorSymbol)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1000, addr)

	_, ok, err = GetSymbolAddress(data, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = GetSymbols([]byte("not an elf"))
	require.ErrorIs(t, err, errs.ErrInvalidELF)
}

func fixedResolver(values map[string]uint64) Resolver {
	return ResolverFunc(func(ref Ref, optional bool) (uint64, bool, error) {
		for _, name := range ref.Candidates() {
			if v, ok := values[name+"/"+ref.Prop]; ok {
				return v, true, nil
			}
		}
		if optional {
			return 0, false, nil
		}

		return 0, false, errs.ErrEntryNotFound
	})
}

func TestLookupAndWriteSymbols(t *testing.T) {
	contents := make([]byte, 0x20)
	for i := range contents {
		contents[i] = 0xcc
	}
	elfData := testelf.Image(0x1000, contents,
		testelf.Symbol{Name: "_binman_u_boot_prop_offset", Value: 0x1000, Size: 4},
		testelf.Symbol{Name: "_binman_u_boot_any_prop_image_pos", Value: 0x1004, Size: 8},
		testelf.Symbol{Name: "_binman_missing_prop_size", Value: 0x1010, Size: 4, Weak: true},
	)

	resolver := fixedResolver(map[string]uint64{
		"u-boot/offset":          0x24,
		"u-boot-nodtb/image_pos": 0x1_0000_0040,
	})

	out, patches, err := LookupAndWriteSymbols(elfData, contents, resolver)
	require.NoError(t, err)
	require.Len(t, patches, 3)

	assert.Equal(t, []byte{0x24, 0, 0, 0}, out[0:4])
	assert.Equal(t, []byte{0x40, 0, 0, 0, 1, 0, 0, 0}, out[4:12])
	assert.Equal(t, []byte{0xcc, 0xcc, 0xcc, 0xcc}, out[12:16], "bytes between symbols are untouched")
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, out[16:20], "optional miss writes the sentinel")
	assert.False(t, patches[2].Found)
	assert.Equal(t, byte(0xcc), contents[0], "input is not modified")

	again, _, err := LookupAndWriteSymbols(elfData, out, resolver)
	require.NoError(t, err)
	assert.Equal(t, out, again, "patching is idempotent")
}

func TestLookupAndWriteSymbols_Errors(t *testing.T) {
	contents := make([]byte, 16)

	tests := []struct {
		name    string
		sym     testelf.Symbol
		wantErr error
	}{
		{"bad width", testelf.Symbol{Name: "_binman_u_boot_prop_offset", Value: 0x1000, Size: 2}, errs.ErrSymbolSize},
		{"past end", testelf.Symbol{Name: "_binman_u_boot_prop_offset", Value: 0x100c, Size: 8}, errs.ErrSymbolOutOfRange},
		{"required miss", testelf.Symbol{Name: "_binman_nothere_prop_offset", Value: 0x1000, Size: 4}, errs.ErrEntryNotFound},
		{"bad name", testelf.Symbol{Name: "_binman_u_boot_prop_colour", Value: 0x1000, Size: 4}, errs.ErrInvalidSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elfData := testelf.Image(0x1000, contents, tt.sym)
			_, _, err := LookupAndWriteSymbols(elfData, contents, fixedResolver(map[string]uint64{"u-boot/offset": 1}))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLookupAndWriteSymbols_NoAnchor(t *testing.T) {
	f := &testelf.File{
		Segments: []testelf.Segment{{VAddr: 0x1000, Data: make([]byte, 8)}},
		Symbols:  []testelf.Symbol{{Name: "_binman_u_boot_prop_offset", Value: 0x1000, Size: 4}},
	}
	contents := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	out, patches, err := LookupAndWriteSymbols(f.Bytes(), contents, fixedResolver(nil))
	require.NoError(t, err)
	assert.Empty(t, patches)
	assert.Equal(t, contents, out)
}

func TestDecodeELF(t *testing.T) {
	f := &testelf.File{
		Entry: 0x8000_0010,
		Segments: []testelf.Segment{
			{VAddr: 0x8000_0000, PAddr: 0x1000, Data: []byte{1, 2, 3, 4}},
			{VAddr: 0x8000_0010, PAddr: 0x1010, Data: []byte{5, 6}, MemSize: 0x20},
		},
	}

	info, err := DecodeELF(f.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 0x1000, info.Load)
	assert.EqualValues(t, 0x1010, info.Entry)
	assert.EqualValues(t, 0x30, info.MemSize)
	require.Len(t, info.Data, 0x12)
	assert.Equal(t, []byte{1, 2, 3, 4}, info.Data[:4])
	assert.Equal(t, make([]byte, 12), info.Data[4:16])
	assert.Equal(t, []byte{5, 6}, info.Data[16:])

	_, err = DecodeELF([]byte{0x7f, 'E', 'L', 'F'})
	require.ErrorIs(t, err, errs.ErrInvalidELF)

	_, err = DecodeELF((&testelf.File{}).Bytes())
	require.ErrorIs(t, err, errs.ErrInvalidELF)
}

func TestReadLoadableSegments(t *testing.T) {
	f := &testelf.File{
		Entry: 0x2000,
		Segments: []testelf.Segment{
			{VAddr: 0x2000, Data: []byte("text")},
			{VAddr: 0x3000, Data: []byte("data!")},
		},
	}

	segs, entry, err := ReadLoadableSegments(f.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 0x2000, entry)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Seq: 0, Start: 0x2000, Data: []byte("text")}, segs[0])
	assert.Equal(t, Segment{Seq: 1, Start: 0x3000, Data: []byte("data!")}, segs[1])

	assert.True(t, IsELF(f.Bytes()))
	assert.False(t, IsELF([]byte("u-boot")))
}
