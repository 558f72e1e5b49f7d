// Package fdt builds and reads flattened device tree blobs.
//
// Trees are held and serialized by u-root's pkg/dt. Parsed trees are
// returned as Node values that also record where each property value sits
// in the blob, which a container needs to find its embedded images after
// an external tool has rewritten the blob. pkg/dt does not report those
// positions, so locate.go walks the structure block for them.
package fdt

import (
	"github.com/arloliu/fwpack/endian"
)

const (
	Magic          = 0xd00dfeed
	Version        = 17
	LastCompatible = 16
	HeaderSize     = 40

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenNop       = 0x4
	tokenEnd       = 0x9
)

var engine = endian.GetBigEndianEngine()

// Header is the fixed blob header.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

func align4(n int) int {
	return (n + 3) &^ 3
}
