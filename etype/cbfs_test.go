package etype

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/cbfs"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/testelf"
)

var cbfsPayload = bytes.Repeat([]byte("compressible "), 32)

func TestCBFS_Build(t *testing.T) {
	env := newTestEnv(t)
	env.input("payload.bin", cbfsPayload)

	img, data, err := env.build(`
cbfs:
  size: 0x800
  u-boot:
    type: text
    text: u-boot image 16b
  payload:
    type: blob
    filename: payload.bin
    cbfs-compress: lz4
  fixed:
    type: text
    text: at 0x400
    cbfs-name: fixed-file
    cbfs-offset: 0x400
`)
	require.NoError(t, err)
	require.Len(t, data, 0x800)

	fs, err := cbfs.Parse(data)
	require.NoError(t, err)
	require.Len(t, fs.Files, 3)

	uboot, err := fs.Find("u-boot")
	require.NoError(t, err)
	assert.Equal(t, "u-boot image 16b", string(uboot.Data))
	assert.EqualValues(t, 0x38, uboot.DataOffset)

	payload, err := fs.Find("payload")
	require.NoError(t, err)
	assert.Equal(t, cbfs.CompressLZ4, payload.Compress)
	assert.Equal(t, cbfsPayload, payload.Data)

	fixed, err := fs.Find("fixed-file")
	require.NoError(t, err)
	assert.EqualValues(t, 0x400, fixed.DataOffset)

	// Children sit where the filesystem put their data.
	ub := findBase(t, img, "cbfs/u-boot")
	assert.EqualValues(t, 0x38, ub.Offset())
	assert.EqualValues(t, 0x38, ub.ImagePos())
	assert.Equal(t, "u-boot image 16b", string(data[ub.ImagePos():ub.ImagePos()+ub.Size()]))

	pb := findBase(t, img, "cbfs/payload")
	assert.Equal(t, payload.DataOffset, pb.Offset())
	assert.Equal(t, payload.Size, pb.Size())
	assert.EqualValues(t, 0x400, findBase(t, img, "cbfs/fixed").ImagePos())
}

func TestCBFS_ReadReplace(t *testing.T) {
	env := newTestEnv(t)
	env.input("payload.bin", cbfsPayload)

	img, _, err := env.build(`
pad:
  type: fill
  size: 0x10
cbfs:
  size: 0x400
  cbfs-arch: arm64
  u-boot:
    type: text
    text: small
  payload:
    type: blob
    filename: payload.bin
    cbfs-compress: lz4
`)
	require.NoError(t, err)

	got, err := img.ReadEntryData("cbfs/payload", false)
	require.NoError(t, err)
	require.Equal(t, cbfsPayload, got)

	bigger := []byte("u-boot grew quite a bit larger")
	changed, err := img.ReplaceEntry("cbfs/u-boot", bigger)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, img.Bytes(), 0x410)

	got, err = img.ReadEntryData("cbfs/u-boot", false)
	require.NoError(t, err)
	require.Equal(t, bigger, got)
	got, err = img.ReadEntryData("cbfs/payload", false)
	require.NoError(t, err)
	require.Equal(t, cbfsPayload, got)

	ub := findBase(t, img, "cbfs/u-boot")
	require.Equal(t, bigger, img.Bytes()[ub.ImagePos():ub.ImagePos()+ub.Size()])
}

func TestCBFS_Stage(t *testing.T) {
	code := []byte("stage code, flattened")
	env := newTestEnv(t)
	env.input("spl.elf", testelf.Image(0x100000, code))

	img, data, err := env.build(`
cbfs:
  size: 0x400
  cbfs-arch: arm
  spl:
    type: blob
    filename: spl.elf
    cbfs-type: stage
`)
	require.NoError(t, err)

	fs, err := cbfs.Parse(data)
	require.NoError(t, err)
	spl, err := fs.Find("spl")
	require.NoError(t, err)
	assert.Equal(t, cbfs.TypeStage, spl.Type)
	assert.EqualValues(t, 0x100000, spl.Load)
	assert.Equal(t, code, spl.Data)

	got, err := img.ReadEntryData("cbfs/spl", false)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestCBFS_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		build   bool
		wantErr error
		wantMsg string
	}{
		{
			name:    "no size",
			doc:     "cbfs:\n  u-boot:\n    type: text\n    text: x\n",
			wantErr: errs.ErrMissingProperty,
			wantMsg: "Node '/image/cbfs': 'cbfs' entry is missing properties: size",
		},
		{
			name:    "bad arch",
			doc:     "cbfs:\n  size: 0x100\n  cbfs-arch: vax\n",
			wantErr: errs.ErrInvalidProperty,
			wantMsg: "Node '/image/cbfs': Invalid architecture 'vax'",
		},
		{
			name:    "bad type",
			doc:     "cbfs:\n  size: 0x100\n  a:\n    type: text\n    text: x\n    cbfs-type: fsp\n",
			wantErr: errs.ErrInvalidProperty,
			wantMsg: "Node '/image/cbfs/a': Unknown cbfs-type 'fsp'",
		},
		{
			name:    "lzma",
			doc:     "cbfs:\n  size: 0x100\n  a:\n    type: text\n    text: x\n    cbfs-compress: lzma\n",
			wantErr: errs.ErrNotSupported,
			wantMsg: "Node '/image/cbfs/a': Compression 'lzma' is not supported in CBFS",
		},
		{
			name:    "stage compression",
			doc:     "cbfs:\n  size: 0x100\n  a:\n    type: text\n    text: x\n    cbfs-type: stage\n    cbfs-compress: lz4\n",
			wantErr: errs.ErrNotSupported,
			wantMsg: "Node '/image/cbfs/a': Compression is only supported for raw CBFS files",
		},
		{
			name:    "stage without ELF",
			doc:     "cbfs:\n  size: 0x100\n  a:\n    type: text\n    text: x\n    cbfs-type: stage\n",
			build:   true,
			wantErr: errs.ErrNotSupported,
			wantMsg: "Node '/image/cbfs/a': CBFS stage 'a' needs an ELF file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var err error
			if tt.build {
				_, _, err = env.build(tt.doc)
			} else {
				_, err = env.image(tt.doc)
			}
			require.ErrorIs(t, err, tt.wantErr)
			require.EqualError(t, err, tt.wantMsg)
		})
	}
}
