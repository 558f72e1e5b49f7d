package endian

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngines(t *testing.T) {
	buf := make([]byte, 4)

	GetLittleEndianEngine().PutUint32(buf, 0x4f524243)
	require.Equal(t, []byte{0x43, 0x42, 0x52, 0x4f}, buf)

	GetBigEndianEngine().PutUint32(buf, 0x4f524243)
	require.Equal(t, []byte("ORBC"), buf)
}

func TestPutUint(t *testing.T) {
	le := GetLittleEndianEngine()

	tests := []struct {
		name    string
		width   int
		value   uint64
		want    []byte
		wantErr bool
	}{
		{name: "u8", width: 1, value: 0x12, want: []byte{0x12}},
		{name: "u16", width: 2, value: 0x1234, want: []byte{0x34, 0x12}},
		{name: "u32", width: 4, value: 0x12345678, want: []byte{0x78, 0x56, 0x34, 0x12}},
		{name: "u64", width: 8, value: 0x0102030405060708, want: []byte{8, 7, 6, 5, 4, 3, 2, 1}},
		{name: "u8 overflow", width: 1, value: 0x100, wantErr: true},
		{name: "u16 overflow", width: 2, value: 0x10000, wantErr: true},
		{name: "u32 overflow", width: 4, value: 0x100000000, wantErr: true},
		{name: "odd width", width: 3, value: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 8)
			err := PutUint(le, buf, tt.width, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, buf[:tt.width])
		})
	}
}

func TestAppendUint(t *testing.T) {
	be := GetBigEndianEngine()

	buf, err := AppendUint(be, []byte{0xaa}, 2, 0x0102)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0x01, 0x02}, buf)

	buf, err = AppendUint(be, buf, 1, 0x1ff)
	require.Error(t, err)
	require.Equal(t, []byte{0xaa, 0x01, 0x02}, buf)
}
