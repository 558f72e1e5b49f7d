package compress

// ZstdCompressor provides Zstandard compression.
//
// Two implementations exist: the pure Go klauspost encoder used by default,
// and the cgo gozstd binding selected with the `gozstd` build tag. Both emit
// standard zstd frames so images built with either are interchangeable.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
