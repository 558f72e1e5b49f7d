package fdt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/arloliu/fwpack/errs"
)

// propKey names a property by the path of its node below the root, such as
// "/images/kernel", and its own name.
func propKey(nodePath, name string) string {
	return nodePath + ":" + name
}

// valueOffsets walks the structure block and returns the blob offset of
// every property value, keyed by propKey.
func valueOffsets(data []byte, h *Header) (map[string]int, error) {
	structStart := int(h.OffDtStruct)
	structEnd := structStart + int(h.SizeDtStruct)
	strStart := int(h.OffDtStrings)
	strEnd := strStart + int(h.SizeDtStrings)
	if structEnd > int(h.TotalSize) || strEnd > int(h.TotalSize) {
		return nil, fmt.Errorf("%w: fdt blocks exceed total size %#x", errs.ErrInvalidHeader, h.TotalSize)
	}
	strs := data[strStart:strEnd]

	offsets := make(map[string]int)
	var path []string
	depth, roots := 0, 0
	pos := structStart
	for pos+4 <= structEnd {
		token := engine.Uint32(data[pos:])
		pos += 4
		switch token {
		case tokenBeginNode:
			end := bytes.IndexByte(data[pos:structEnd], 0)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated node name at %#x", errs.ErrInvalidHeader, pos)
			}
			if depth == 0 {
				roots++
			} else {
				path = append(path, string(data[pos:pos+end]))
			}
			if roots > 1 {
				return nil, fmt.Errorf("%w: multiple root nodes", errs.ErrInvalidHeader)
			}
			depth++
			pos = structStart + align4(pos+end+1-structStart)
		case tokenEndNode:
			if depth == 0 {
				return nil, fmt.Errorf("%w: unbalanced end of node at %#x", errs.ErrInvalidHeader, pos-4)
			}
			depth--
			if depth > 0 {
				path = path[:len(path)-1]
			}
		case tokenProp:
			if depth == 0 || pos+8 > structEnd {
				return nil, fmt.Errorf("%w: stray property at %#x", errs.ErrInvalidHeader, pos-4)
			}
			size := int(engine.Uint32(data[pos:]))
			nameOff := int(engine.Uint32(data[pos+4:]))
			pos += 8
			if pos+size > structEnd || nameOff >= len(strs) {
				return nil, fmt.Errorf("%w: property at %#x out of range", errs.ErrInvalidHeader, pos-12)
			}
			nameEnd := bytes.IndexByte(strs[nameOff:], 0)
			if nameEnd < 0 {
				return nil, fmt.Errorf("%w: unterminated property name", errs.ErrInvalidHeader)
			}
			nodePath := ""
			if len(path) > 0 {
				nodePath = "/" + strings.Join(path, "/")
			}
			offsets[propKey(nodePath, string(strs[nameOff:nameOff+nameEnd]))] = pos
			pos = structStart + align4(pos+size-structStart)
		case tokenNop:
		case tokenEnd:
			if roots == 0 || depth != 0 {
				return nil, fmt.Errorf("%w: incomplete tree", errs.ErrInvalidHeader)
			}

			return offsets, nil
		default:
			return nil, fmt.Errorf("%w: bad token %#x at %#x", errs.ErrInvalidHeader, token, pos-4)
		}
	}

	return nil, fmt.Errorf("%w: missing end token", errs.ErrInvalidHeader)
}
