package etype

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/errs"
)

const boardSchema = `
definitions:
  u8: {type: integer, minimum: 0, maximum: 0xff}
  u16: {type: integer, minimum: 0, maximum: 0xffff}
  u32: {type: integer, minimum: 0, maximum: 0xffffffff}
properties:
  board-cfg:
    type: object
    properties:
      rev:
        type: object
        properties:
          boardcfg_abi_maj: {$ref: "#/definitions/u8"}
          boardcfg_abi_min: {$ref: "#/definitions/u8"}
      control:
        type: object
        properties:
          main_isolation_enable: {$ref: "#/definitions/u8"}
          main_isolation_hostid: {$ref: "#/definitions/u16"}
      host_ids:
        type: array
        items: {$ref: "#/definitions/u16"}
  sec-cfg:
    type: object
    properties:
      magic: {$ref: "#/definitions/u16"}
      size: {$ref: "#/definitions/u16"}
      flags: {$ref: "#/definitions/u32"}
      id: {$ref: "#/definitions/u8"}
`

const boardConfig = `
board-cfg:
  rev:
    boardcfg_abi_maj: 0x0
    boardcfg_abi_min: 0x1
  control:
    main_isolation_enable: 0x5a
    main_isolation_hostid: 0x2
  host_ids: [1, 0x203]
`

const secConfig = `
sec-cfg:
  magic: 0x8d2b
  size: 0x10
  flags: 0x12345678
  id: 7
`

var (
	boardConfigBytes = []byte{0x00, 0x01, 0x5a, 0x02, 0x00, 0x01, 0x00, 0x03, 0x02}
	secConfigBytes   = []byte{0x2b, 0x8d, 0x10, 0x00, 0x78, 0x56, 0x34, 0x12, 0x07}
)

func newBoardEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.input("schema.yaml", []byte(boardSchema))
	env.input("board.yaml", []byte(boardConfig))
	env.input("sec.yaml", []byte(secConfig))

	return env
}

func TestTIBoardConfig_Single(t *testing.T) {
	_, data, err := newBoardEnv(t).build(`
ti-board-config:
  config: board.yaml
  schema: schema.yaml
`)
	require.NoError(t, err)
	require.Equal(t, boardConfigBytes, data)
}

func TestTIBoardConfig_Combined(t *testing.T) {
	img, data, err := newBoardEnv(t).build(`
ti-board-config:
  board-cfg:
    config: board.yaml
    schema: schema.yaml
  sec-cfg:
    config: sec.yaml
    schema: schema.yaml
`)
	require.NoError(t, err)
	require.Len(t, data, 2+2*8+9+9)

	// Count and software revision, then one descriptor per configuration.
	assert.Equal(t, []byte{2, 1}, data[:2])
	le := binary.LittleEndian
	descs := []struct {
		typ, offset, size uint16
	}{
		{0xb, 18, 9},
		{0xd, 27, 9},
	}
	for i, want := range descs {
		d := data[2+i*8 : 2+(i+1)*8]
		assert.Equal(t, want.typ, le.Uint16(d[0:]), "descriptor %d type", i)
		assert.Equal(t, want.offset, le.Uint16(d[2:]), "descriptor %d offset", i)
		assert.Equal(t, want.size, le.Uint16(d[4:]), "descriptor %d size", i)
		assert.Equal(t, []byte{0, 0}, d[6:8])
	}
	assert.Equal(t, boardConfigBytes, data[18:27])
	assert.Equal(t, secConfigBytes, data[27:])

	sec := findBase(t, img, "ti-board-config/sec-cfg")
	assert.EqualValues(t, 27, sec.Offset())
	assert.EqualValues(t, 27, sec.ImagePos())
	assert.EqualValues(t, 9, sec.Size())

	got, err := img.ReadEntryData("ti-board-config/sec-cfg", false)
	require.NoError(t, err)
	require.Equal(t, secConfigBytes, got)
}

func TestTIBoardConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		files   map[string]string
		build   bool
		wantErr error
		wantMsg string
	}{
		{
			name:    "no schema",
			doc:     "ti-board-config:\n  config: board.yaml\n",
			wantErr: errs.ErrMissingProperty,
			wantMsg: "Node '/image/ti-board-config': 'ti-board-config' entry is missing properties: schema",
		},
		{
			name:    "unknown configuration name",
			doc:     "ti-board-config:\n  misc:\n    config: board.yaml\n    schema: schema.yaml\n",
			build:   true,
			wantErr: errs.ErrInvalidBoardConfig,
			wantMsg: "Node '/image/ti-board-config/misc': cannot tell the board config type of 'misc'",
		},
		{
			name:    "key missing from schema",
			doc:     "ti-board-config:\n  config: bad.yaml\n  schema: schema.yaml\n",
			files:   map[string]string{"bad.yaml": "board-cfg:\n  nope: 1\n"},
			build:   true,
			wantErr: errs.ErrInvalidBoardConfig,
			wantMsg: "Node '/image/ti-board-config': bad.yaml: 'nope' is not described by the schema",
		},
		{
			name:    "value too wide",
			doc:     "ti-board-config:\n  config: bad.yaml\n  schema: schema.yaml\n",
			files:   map[string]string{"bad.yaml": "sec-cfg:\n  id: 0x100\n"},
			build:   true,
			wantErr: errs.ErrInvalidBoardConfig,
		},
		{
			name:    "missing config file",
			doc:     "ti-board-config:\n  config: nothere.yaml\n  schema: schema.yaml\n",
			build:   true,
			wantErr: errs.ErrMissingBlob,
			wantMsg: "Node '/image/ti-board-config': Filename 'nothere.yaml' not found in input path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newBoardEnv(t)
			for name, content := range tt.files {
				env.input(name, []byte(content))
			}

			var err error
			if tt.build {
				_, _, err = env.build(tt.doc)
			} else {
				_, err = env.image(tt.doc)
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				require.EqualError(t, err, tt.wantMsg)
			}
		})
	}
}
