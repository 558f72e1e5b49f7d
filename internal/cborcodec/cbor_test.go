package cborcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Path   string `cbor:"path"`
	Offset uint64 `cbor:"offset"`
	Size   uint64 `cbor:"size"`
}

func TestMarshal_Deterministic(t *testing.T) {
	a := map[string]uint64{"size": 16, "offset": 4, "image-pos": 4}
	b := map[string]uint64{"image-pos": 4, "offset": 4, "size": 16}

	ea, err := Marshal(a)
	require.NoError(t, err)
	eb, err := Marshal(b)
	require.NoError(t, err)
	require.Equal(t, ea, eb)
}

func TestUnmarshal(t *testing.T) {
	in := []record{{Path: "/image/u-boot", Offset: 0, Size: 4}, {Path: "/image/fip", Offset: 4, Size: 0x90}}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out []record
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	require.Contains(t, diag, `"/image/fip"`)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var out []record
	require.Error(t, Unmarshal([]byte{0xff, 0x00}, &out))
}
