package etype

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/testelf"
)

func TestBlob_Contents(t *testing.T) {
	env := newTestEnv(t)
	env.input("u-boot.bin", []byte("uboot"))
	env.input("other.bin", []byte("blob!"))
	env.input("bl31-custom.bin", []byte("bl31"))

	doc := `
u-boot: {}
blob:
  filename: other.bin
atf-bl31: {}
`
	img, data, err := env.build(doc, entry.WithEntryArgs(map[string]string{"atf-bl31-path": "bl31-custom.bin"}))
	require.NoError(t, err)
	require.Equal(t, "ubootblob!bl31", string(data))

	assert.EqualValues(t, 5, findBase(t, img, "blob").Offset())
	assert.EqualValues(t, 10, findBase(t, img, "atf-bl31").ImagePos())
	assert.True(t, findBase(t, img, "atf-bl31").External())
	assert.Empty(t, img.Missing())
	assert.False(t, img.HasFakes())
}

func TestBlob_Missing(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
		wantMsg string
	}{
		{
			name:    "no filename",
			doc:     "blob: {}\n",
			wantErr: errs.ErrMissingProperty,
			wantMsg: "Node '/image/blob': 'blob' entry is missing properties: filename",
		},
		{
			name:    "internal blob",
			doc:     "blob:\n  filename: nothere.bin\n",
			wantErr: errs.ErrMissingBlob,
			wantMsg: "Node '/image/blob': Filename 'nothere.bin' not found in input path",
		},
		{
			name:    "external blob",
			doc:     "tee-os: {}\n",
			wantErr: errs.ErrMissingBlob,
			wantMsg: "Node '/image/tee-os': Missing external blob 'tee.bin'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestEnv(t).build(tt.doc)
			require.ErrorIs(t, err, tt.wantErr)
			require.EqualError(t, err, tt.wantMsg)
		})
	}
}

func TestBlob_Optional(t *testing.T) {
	env := newTestEnv(t)
	env.input("after.bin", []byte("after"))

	doc := `
blob:
  filename: nothere.bin
  optional: true
tail:
  type: blob
  filename: after.bin
`
	img, data, err := env.build(doc)
	require.NoError(t, err)
	require.Equal(t, "after", string(data))
	require.Zero(t, findBase(t, img, "blob").Size())
	require.Empty(t, img.Missing())
}

func TestBlob_AllowMissing(t *testing.T) {
	doc := `
scp:
  size: 16
blob-ext:
  filename: ext.bin
`
	t.Run("placeholder", func(t *testing.T) {
		env := newTestEnv(t)
		img, data, err := env.build(doc, entry.WithAllowMissing(true))
		require.NoError(t, err)
		require.Equal(t, make([]byte, 16), data)
		require.Equal(t, []string{"/image/scp", "/image/blob-ext"}, img.Missing())
		require.True(t, img.HasFakes())

		_, err = os.Stat(filepath.Join(env.outDir, "scp.bin"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("fake files", func(t *testing.T) {
		env := newTestEnv(t)
		_, _, err := env.build(doc, entry.WithAllowMissing(true), entry.WithFakeMissing(true))
		require.NoError(t, err)

		fake, err := os.ReadFile(filepath.Join(env.outDir, "scp.bin"))
		require.NoError(t, err)
		require.Equal(t, make([]byte, 16), fake)
		require.FileExists(t, filepath.Join(env.outDir, "ext.bin"))
	})

	t.Run("internal blob is never allowed", func(t *testing.T) {
		_, _, err := newTestEnv(t).build("blob:\n  filename: x.bin\n", entry.WithAllowMissing(true))
		require.ErrorIs(t, err, errs.ErrMissingBlob)
	})
}

func TestBlob_WriteSymbols(t *testing.T) {
	const base = 0x10000
	code := []byte("SPL:............................")
	splELF := testelf.Image(base, code,
		testelf.Symbol{Name: "_binman_u_boot_prop_offset", Value: base + 4, Size: 4},
		testelf.Symbol{Name: "_binman_u_boot_any_prop_image_pos", Value: base + 8, Size: 8},
		testelf.Symbol{Name: "_binman_u_boot_tpl_prop_size", Value: base + 16, Size: 4, Weak: true},
	)

	env := newTestEnv(t)
	env.input("spl/u-boot-spl.bin", code)
	env.input("spl/u-boot-spl", splELF)
	env.input("u-boot.bin", []byte("u-boot!!"))

	doc := `
section:
  offset: 0x40
  u-boot-spl: {}
  u-boot:
    offset: 0x30
`
	img, data, err := env.build(doc)
	require.NoError(t, err)
	require.EqualValues(t, 0x70, findBase(t, img, "section/u-boot").ImagePos())

	spl := data[0x40 : 0x40+len(code)]
	le := binary.LittleEndian
	assert.Equal(t, "SPL:", string(spl[:4]))
	assert.EqualValues(t, 0x30, le.Uint32(spl[4:8]), "offset within the section")
	assert.EqualValues(t, 0x70, le.Uint64(spl[8:16]), "-any resolves to u-boot")
	assert.EqualValues(t, 0xffffffff, le.Uint32(spl[16:20]), "weak symbol without an entry")
	assert.Equal(t, code[20:], spl[20:])

	t.Run("same output when built again", func(t *testing.T) {
		_, again, err := env.build(doc)
		require.NoError(t, err)
		require.Equal(t, data, again)
	})

	t.Run("missing entry", func(t *testing.T) {
		_, _, err := env.build("u-boot-spl: {}\n")
		require.ErrorIs(t, err, errs.ErrEntryNotFound)
		require.ErrorContains(t, err, "Symbol '_binman_u_boot_prop_offset': Entry 'u-boot' not found in list (u-boot-spl)")
	})

	t.Run("no ELF file", func(t *testing.T) {
		env := newTestEnv(t)
		env.input("u-boot.bin", code)
		_, data, err := env.build("u-boot: {}\n")
		require.NoError(t, err)
		require.Equal(t, code, data)
	})
}
