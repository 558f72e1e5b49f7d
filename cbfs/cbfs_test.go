package cbfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/testelf"
)

var ubootData = []byte("u-boot image 16b")

func TestWriter_NonX86Layout(t *testing.T) {
	w := NewWriter(0x200, ArchARM64)
	f, err := w.AddRaw("u-boot", ubootData)
	require.NoError(t, err)

	data, err := w.Bytes()
	require.NoError(t, err)
	require.Len(t, data, 0x200)

	hdr, ok := parseMasterHeader(data)
	require.True(t, ok, "master header at the start")
	assert.EqualValues(t, 0x200, hdr.RomSize)
	assert.EqualValues(t, 0x40, hdr.ContentsOffset)
	assert.Equal(t, ArchARM64, hdr.Arch)
	assert.EqualValues(t, EntryAlign, hdr.Align)

	assert.Equal(t, FileMagic[:], data[0x40:0x48])
	assert.EqualValues(t, 0x78, f.DataOffset, "file header, padded name and compression attribute")
	assert.EqualValues(t, len(ubootData), f.Size)
	assert.Equal(t, ubootData, data[0x78:0x88])
	assert.Equal(t, []byte{0x00, 0xfe, 0xff, 0xff}, data[0x1fc:], "pointer back to offset 0")

	fs, err := Parse(data)
	require.NoError(t, err)
	assert.Zero(t, fs.HeaderOffset)
	require.Len(t, fs.Files, 1)
	got, err := fs.Find("u-boot")
	require.NoError(t, err)
	assert.Equal(t, ubootData, got.Data)
	assert.EqualValues(t, 0x78, got.DataOffset)
	assert.Equal(t, TypeRaw, got.Type)
}

func TestWriter_X86Layout(t *testing.T) {
	w := NewWriter(0x200, ArchX86)
	_, err := w.AddRaw("u-boot", ubootData)
	require.NoError(t, err)

	data, err := w.Bytes()
	require.NoError(t, err)
	require.Len(t, data, 0x200)

	assert.Equal(t, FileMagic[:], data[0:8], "files start at offset 0")
	hdr, ok := parseMasterHeader(data[0x1dc:])
	require.True(t, ok, "master header just below the pointer word")
	assert.Equal(t, ArchX86, hdr.Arch)
	assert.Zero(t, hdr.ContentsOffset)
	assert.Equal(t, []byte{0xdc, 0xff, 0xff, 0xff}, data[0x1fc:])

	// An empty file covers the aligned gap before the header.
	empty, err := parseFileHeader(data[0x80:])
	require.NoError(t, err)
	assert.Equal(t, TypeEmpty, empty.Type)
	assert.EqualValues(t, 0x140-FileHeaderLen-FilenameAlign, empty.Size)

	fs, err := Parse(data)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1dc, fs.HeaderOffset)
	require.Len(t, fs.Files, 1)
	assert.Equal(t, ubootData, fs.Files[0].Data)
}

func TestWriter_FixedOffset(t *testing.T) {
	w := NewWriter(0x400, ArchX86)
	_, err := w.AddRaw("first", []byte{1, 2, 3})
	require.NoError(t, err)
	fixed, err := w.AddRaw("u-boot", ubootData, AtOffset(0x140))
	require.NoError(t, err)

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.EqualValues(t, 0x140, fixed.DataOffset)
	assert.Equal(t, ubootData, data[0x140:0x150])

	fs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, fs.Files, 2)
	assert.Equal(t, "first", fs.Files[0].Name)
	assert.EqualValues(t, 0x140, fs.Files[1].DataOffset)
	assert.Equal(t, ubootData, fs.Files[1].Data)
}

func TestWriter_LZ4(t *testing.T) {
	payload := bytes.Repeat([]byte("compressible "), 40)

	w := NewWriter(0x1000, ArchARM)
	f, err := w.AddRaw("blob", payload, WithCompression(CompressLZ4))
	require.NoError(t, err)

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.Less(t, f.Size, uint64(len(payload)))
	assert.EqualValues(t, len(payload), f.MemLen)

	fs, err := Parse(data)
	require.NoError(t, err)
	got, err := fs.Find("blob")
	require.NoError(t, err)
	assert.Equal(t, CompressLZ4, got.Compress)
	assert.Equal(t, payload, got.Data)
	assert.EqualValues(t, f.Size, got.Size)
}

func TestWriter_Stage(t *testing.T) {
	elfFile := &testelf.File{
		Entry:    0x1000_0004,
		Segments: []testelf.Segment{{VAddr: 0x1000_0000, Data: []byte("stagecode")}},
	}

	w := NewWriter(0x400, ArchX86)
	f, err := w.AddStage("fallback/romstage", elfFile.Bytes())
	require.NoError(t, err)

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.EqualValues(t, StageLen+len("stagecode"), f.Size)

	fs, err := Parse(data)
	require.NoError(t, err)
	got, err := fs.Find("fallback/romstage")
	require.NoError(t, err)
	assert.Equal(t, TypeStage, got.Type)
	assert.Equal(t, []byte("stagecode"), got.Data)
	assert.EqualValues(t, 0x1000_0000, got.Load)
	assert.EqualValues(t, 0x1000_0004, got.Entry)
	assert.EqualValues(t, len("stagecode"), got.MemLen)
	assert.Equal(t, f.DataOffset, got.DataOffset)
}

func TestWriter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(w *Writer) error
		size    uint64
		wantErr error
	}{
		{
			name: "too much data",
			size: 0x100,
			build: func(w *Writer) error {
				_, err := w.AddRaw("big", make([]byte, 0x200))
				return err
			},
			wantErr: errs.ErrNoSpace,
		},
		{
			name: "offset inside header",
			size: 0x400,
			build: func(w *Writer) error {
				_, err := w.AddRaw("early", ubootData, AtOffset(0x10))
				return err
			},
			wantErr: errs.ErrNoSpace,
		},
		{
			name: "offset behind previous file",
			size: 0x400,
			build: func(w *Writer) error {
				if _, err := w.AddRaw("a", make([]byte, 0x100)); err != nil {
					return err
				}
				_, err := w.AddRaw("b", ubootData, AtOffset(0x80))
				return err
			},
			wantErr: errs.ErrNoSpace,
		},
		{
			name: "lzma",
			size: 0x400,
			build: func(w *Writer) error {
				_, err := w.AddRaw("x", ubootData, WithCompression(CompressLZMA))
				return err
			},
			wantErr: errs.ErrUnknownCompression,
		},
		{
			name: "stage from non-ELF",
			size: 0x400,
			build: func(w *Writer) error {
				_, err := w.AddStage("s", []byte("plain"))
				return err
			},
			wantErr: errs.ErrInvalidELF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(tt.size, ArchARM64)
			require.NoError(t, tt.build(w))
			_, err := w.Bytes()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWriter_AddErrors(t *testing.T) {
	w := NewWriter(0x400, ArchX86)
	_, err := w.AddRaw("dup", nil)
	require.NoError(t, err)
	_, err = w.AddRaw("dup", nil)
	require.ErrorIs(t, err, errs.ErrInvalidProperty)

	_, err = w.AddStage("s", nil, WithCompression(CompressLZ4))
	require.ErrorIs(t, err, errs.ErrNotSupported)
}

func TestParse_NoHeader(t *testing.T) {
	_, err := Parse(bytes.Repeat([]byte{0xff}, 0x100))
	require.ErrorIs(t, err, errs.ErrInvalidHeader)

	_, err = Parse([]byte{1})
	require.ErrorIs(t, err, errs.ErrInvalidHeader)
}

func TestParse_ScanFallback(t *testing.T) {
	w := NewWriter(0x200, ArchX86)
	_, err := w.AddRaw("u-boot", ubootData)
	require.NoError(t, err)
	data, err := w.Bytes()
	require.NoError(t, err)

	copy(data[0x1fc:], []byte{0, 0, 0, 0})
	fs, err := Parse(data)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1dc, fs.HeaderOffset)
	require.Len(t, fs.Files, 1)
}

func TestParseNames(t *testing.T) {
	arch, err := ParseArch("arm64")
	require.NoError(t, err)
	assert.Equal(t, ArchARM64, arch)
	assert.Equal(t, "riscv", ArchRISCV.String())
	_, err = ParseArch("z80")
	require.ErrorIs(t, err, errs.ErrInvalidProperty)

	ft, err := ParseFileType("stage")
	require.NoError(t, err)
	assert.Equal(t, TypeStage, ft)
	_, err = ParseFileType("payload")
	require.ErrorIs(t, err, errs.ErrInvalidProperty)

	c, err := ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressLZ4, c)
	_, err = ParseCompression("bzip2")
	require.ErrorIs(t, err, errs.ErrUnknownCompression)

	assert.Len(t, packName("u-boot"), 16)
	assert.Len(t, packName("0123456789abcdef"), 32)
}
