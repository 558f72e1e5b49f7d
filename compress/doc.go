// Package compress provides the compression codecs applied to entry contents
// and to CBFS files.
//
// # Overview
//
// An entry with a `compress` property stores the compressed form of its
// contents in the image; its uncompressed size is kept alongside so tools
// reading the image can size their buffers. CBFS raw files may also be
// compressed, in which case the algorithm is recorded in the file's
// compression attribute.
//
// Supported algorithms:
//   - none: data is stored unchanged
//   - lz4: LZ4 frame format (pierrec/lz4)
//   - zstd: Zstandard frames (klauspost/compress, or libzstd with the gozstd tag)
//   - s2: S2 blocks (klauspost/compress)
//   - gzip: gzip streams with a zero timestamp
//
// lzma is recognised by format.ParseCompression so layouts using it produce a
// clear ErrUnknownCompression instead of a parse failure.
//
// # Architecture
//
//	type Codec interface {
//	    Compress(data []byte) ([]byte, error)
//	    Decompress(data []byte) ([]byte, error)
//	}
//
// Codecs are stateless values; pooled encoders and decoders are shared behind
// them, so a Codec is safe for concurrent use.
//
// # Usage
//
//	codec, _, err := compress.ByName("lz4")
//	if err != nil {
//	    return err
//	}
//	packed, err := codec.Compress(contents)
//
// # Determinism
//
// Every codec produces the same output for the same input, which keeps
// rebuilt images byte-identical.
package compress
