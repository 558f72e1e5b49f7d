package compress

import (
	"fmt"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/format"
)

// Compressor compresses the contents of a single entry or container file.
type Compressor interface {
	// Compress returns a newly allocated compressed copy of data.
	// The input slice is not modified.
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses a Compressor of the same algorithm.
type Decompressor interface {
	// Decompress returns the original data. It fails when data is corrupted
	// or was produced by a different algorithm.
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
type Codec interface {
	Compressor
	Decompressor
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCompressor(),
	format.CompressionZstd: NewZstdCompressor(),
	format.CompressionS2:   NewS2Compressor(),
	format.CompressionLZ4:  NewLZ4Compressor(),
	format.CompressionGzip: NewGzipCompressor(),
}

// GetCodec retrieves a built-in Codec for the specified compression type.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: %q", errs.ErrUnknownCompression, compressionType)
}

// ByName looks up a built-in Codec by its layout name, e.g. "lz4".
func ByName(name string) (Codec, format.CompressionType, error) {
	ct, ok := format.ParseCompression(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", errs.ErrUnknownCompression, name)
	}

	codec, err := GetCodec(ct)
	if err != nil {
		return nil, ct, err
	}

	return codec, ct, nil
}
