// Package endian provides byte order engines for firmware table formats.
//
// Firmware formats disagree on byte order: FIP tables and symbol values are
// little-endian, CBFS headers are big-endian except for the stage header,
// and FDT blobs are big-endian. Each format package picks its engine here
// rather than reaching for encoding/binary directly, so the choice is stated
// once per structure.
//
//	engine := endian.GetLittleEndianEngine()
//	buf = engine.AppendUint64(buf, offset)
package endian

import (
	"encoding/binary"
	"fmt"
)

// EndianEngine combines ByteOrder and AppendByteOrder interfaces from encoding/binary
// into a single interface for convenient byte order operations.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// PutUint writes value into buf using width bytes (1, 2, 4 or 8).
//
// Returns an error for any other width or when value does not fit.
func PutUint(engine EndianEngine, buf []byte, width int, value uint64) error {
	if len(buf) < width {
		return fmt.Errorf("buffer of %d bytes too small for %d-byte value", len(buf), width)
	}

	switch width {
	case 1:
		if value > 0xff {
			return fmt.Errorf("value %#x does not fit in 1 byte", value)
		}
		buf[0] = byte(value)
	case 2:
		if value > 0xffff {
			return fmt.Errorf("value %#x does not fit in 2 bytes", value)
		}
		engine.PutUint16(buf, uint16(value))
	case 4:
		if value > 0xffffffff {
			return fmt.Errorf("value %#x does not fit in 4 bytes", value)
		}
		engine.PutUint32(buf, uint32(value))
	case 8:
		engine.PutUint64(buf, value)
	default:
		return fmt.Errorf("unsupported integer width %d", width)
	}

	return nil
}

// AppendUint appends value using width bytes (1, 2, 4 or 8).
func AppendUint(engine EndianEngine, buf []byte, width int, value uint64) ([]byte, error) {
	start := len(buf)
	buf = append(buf, make([]byte, width)...)
	if err := PutUint(engine, buf[start:], width, value); err != nil {
		return buf[:start], err
	}

	return buf, nil
}
