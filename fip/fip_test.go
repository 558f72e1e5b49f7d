package fip

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/errs"
)

var (
	fwuData  = []byte("fwu_fw!")
	tbFwData = []byte("tb_fw_data_14b")
)

func buildTwoEntry(t *testing.T) []byte {
	t.Helper()

	w, err := NewWriter(0x123, 16)
	require.NoError(t, err)
	for _, img := range []struct {
		name string
		data []byte
	}{{"fwu", fwuData}, {"tb-fw", tbFwData}} {
		typ, err := LookupType(img.name)
		require.NoError(t, err)
		w.AddUUID(typ.UUID, img.data, 0)
	}

	return w.Bytes()
}

func TestWriter_TwoEntries(t *testing.T) {
	data := buildTwoEntry(t)

	hdr, err := ParseHeader(data)
	require.NoError(t, err)
	assert.EqualValues(t, HeaderMagic, hdr.Magic)
	assert.EqualValues(t, HeaderSerial, hdr.Serial)
	assert.EqualValues(t, 0x123, hdr.Flags)

	first := parseTocEntry(data[HeaderSize:])
	assert.Equal(t, uuid.MustParse("4f511d11-2be5-4e49-b4c5-83c2f715840a"), first.UUID)
	assert.Equal(t, []byte{0x4f, 0x51, 0x1d, 0x11, 0x2b, 0xe5, 0x4e, 0x49,
		0xb4, 0xc5, 0x83, 0xc2, 0xf7, 0x15, 0x84, 0x0a}, data[HeaderSize:HeaderSize+16])
	assert.EqualValues(t, 0x90, first.Offset, "header plus three records, aligned to 16")
	assert.EqualValues(t, 7, first.Size)

	second := parseTocEntry(data[HeaderSize+EntrySize:])
	assert.EqualValues(t, 0xa0, second.Offset)
	assert.EqualValues(t, 14, second.Size)

	term := parseTocEntry(data[HeaderSize+2*EntrySize:])
	assert.True(t, term.IsTerminator())
	assert.EqualValues(t, 0xae, term.Offset)
	assert.Zero(t, term.Size)

	assert.Len(t, data, 0xae)
	assert.Equal(t, fwuData, data[0x90:0x97])
	assert.Equal(t, make([]byte, 9), data[0x97:0xa0], "alignment gap is zero-filled")
	assert.Equal(t, tbFwData, data[0xa0:])
}

func TestWriter_DefaultAlign(t *testing.T) {
	w, err := NewWriter(0, 0)
	require.NoError(t, err)
	e := w.AddUUID(uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"), []byte{1, 2, 3}, 7)

	data := w.Bytes()
	assert.EqualValues(t, HeaderSize+2*EntrySize, e.Offset)
	assert.Len(t, data, HeaderSize+2*EntrySize+3)

	pkg, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, pkg.Entries, 1)
	assert.EqualValues(t, 7, pkg.Entries[0].Flags)
	assert.Equal(t, "00112233-4455-6677-8899-aabbccddeeff", pkg.Entries[0].Name())
}

func TestNewWriter_InvalidAlign(t *testing.T) {
	_, err := NewWriter(0, 24)
	require.ErrorIs(t, err, errs.ErrInvalidAlign)
}

func TestLookupType_Unknown(t *testing.T) {
	_, err := LookupType("no-such-fw")
	require.ErrorIs(t, err, errs.ErrUnknownFipType)
	assert.Contains(t, err.Error(), "no-such-fw")
}

func TestParse_Find(t *testing.T) {
	pkg, err := Parse(buildTwoEntry(t))
	require.NoError(t, err)
	require.Len(t, pkg.Entries, 2)
	assert.EqualValues(t, 0x123, pkg.Header.Flags)

	tb, err := pkg.Find("tb-fw")
	require.NoError(t, err)
	assert.Equal(t, tbFwData, tb.Data)
	assert.Equal(t, "tb-fw", tb.Name())

	fwu, err := pkg.FindUUID(Types[0].UUID)
	require.NoError(t, err)
	assert.Equal(t, fwuData, fwu.Data)

	_, err = pkg.Find("soc-fw")
	require.ErrorIs(t, err, errs.ErrEntryNotFound)

	_, err = pkg.Find("bogus")
	require.ErrorIs(t, err, errs.ErrUnknownFipType)
}

func TestParse_Invalid(t *testing.T) {
	valid := buildTwoEntry(t)

	badMagic := bytes.Clone(valid)
	badMagic[0] ^= 0xff

	noTerminator := valid[:HeaderSize+EntrySize+8]

	badOffset := bytes.Clone(valid)
	engine.PutUint64(badOffset[HeaderSize+16:], 0x1000)

	tests := []struct {
		name string
		data []byte
	}{
		{"short", valid[:8]},
		{"bad magic", badMagic},
		{"truncated table", noTerminator},
		{"entry past end", badOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.ErrorIs(t, err, errs.ErrInvalidHeader)
		})
	}
}

func TestTypes_Unique(t *testing.T) {
	names := make(map[string]bool)
	ids := make(map[uuid.UUID]bool)
	for _, typ := range Types {
		assert.False(t, names[typ.Name], typ.Name)
		assert.False(t, ids[typ.UUID], typ.Name)
		names[typ.Name] = true
		ids[typ.UUID] = true
	}
}

func TestParseUUID(t *testing.T) {
	id, err := ParseUUID(Types[1].UUID[:])
	require.NoError(t, err)
	assert.Equal(t, "tb-fw", TypeName(id))

	_, err = ParseUUID([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrInvalidProperty)
}
