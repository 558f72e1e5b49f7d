// Package hash computes the xxHash64 fingerprints recorded in image maps.
package hash

import "github.com/cespare/xxhash/v2"

// Fingerprint computes the xxHash64 of an entry's contents.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// FingerprintParts hashes several slices as if they were concatenated.
func FingerprintParts(parts ...[]byte) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.Write(p)
	}

	return d.Sum64()
}
