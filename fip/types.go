// Package fip reads and writes ARM Trusted Firmware Image Packages.
//
// A FIP is a 16-byte header, a table of contents with one 40-byte record per
// image, an all-zero terminator record, then the image data:
//
//	header: magic u32 | serial u32 | flags u64
//	record: uuid [16]byte | offset u64 | size u64 | flags u64
//
// All fields are little-endian. Images are identified by UUID; the well-known
// ones have names, listed in Types.
package fip

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/fwpack/errs"
)

// Type is a well-known FIP image type.
type Type struct {
	Name string
	Desc string
	UUID uuid.UUID
}

// Types is the table of well-known image types, in TF-A order.
var Types = []Type{
	{"fwu", "Firmware Updater NS_BL2U", uuid.MustParse("4f511d11-2be5-4e49-b4c5-83c2f715840a")},
	{"tb-fw", "Trusted Boot Firmware BL2", uuid.MustParse("5ff9ec0b-4d22-3e4d-a544-c39d81c73f0a")},
	{"scp-fwu-cfg", "SCP Firmware Updater Configuration FWU SCP_BL2U", uuid.MustParse("65922703-2f74-e644-8dff-579ac1ff0610")},
	{"ap-fwu-cfg", "AP Firmware Updater Configuration BL2U", uuid.MustParse("60b3eb37-c1e5-ea41-9df3-19eda11f6801")},
	{"fwu-cert", "Non-Trusted Firmware Updater certificate", uuid.MustParse("71408ab2-18d6-874c-8b2e-c6dccd50f096")},
	{"scp-fw", "SCP Firmware SCP_BL2", uuid.MustParse("9766fd3d-89be-e849-ae5d-78a140608213")},
	{"soc-fw", "EL3 Runtime Firmware BL31", uuid.MustParse("47d4086d-4cfe-9846-9b95-2950cbbd5a00")},
	{"tos-fw", "Secure Payload BL32 (Trusted OS)", uuid.MustParse("05d0e189-53dc-1347-8d2b-500a4b7a3e38")},
	{"tos-fw-extra1", "Secure Payload BL32 Extra1 (Trusted OS Extra1)", uuid.MustParse("0b70c29b-2a5a-7840-9f65-0a5682738288")},
	{"tos-fw-extra2", "Secure Payload BL32 Extra2 (Trusted OS Extra2)", uuid.MustParse("8ea87bb1-cfa2-3f4d-85fd-e7bba50220d9")},
	{"nt-fw", "Non-Trusted Firmware BL33", uuid.MustParse("d6d0eea7-fcea-d54b-9782-9934f234b6e4")},
	{"fw-config", "FW_CONFIG", uuid.MustParse("5807e16a-8459-47be-8ed5-648e8dddab0e")},
	{"hw-config", "HW_CONFIG", uuid.MustParse("08b8f1d9-c9cf-9349-a962-6fbc6b7265cc")},
	{"tb-fw-config", "TB_FW_CONFIG", uuid.MustParse("26257c1a-dbc6-7f47-8d96-c4c4b0248021")},
	{"soc-fw-config", "SOC_FW_CONFIG", uuid.MustParse("9979814b-0376-fb46-8c8e-8d267f7859e0")},
	{"nt-fw-config", "NT_FW_CONFIG", uuid.MustParse("28da9815-93e8-7e44-ac66-1aaf801550f9")},
	{"tb-fw-cert", "Trusted Boot Firmware BL2 certificate", uuid.MustParse("d6e269ea-5d63-e411-8d8c-9fbabe9956a5")},
	{"trusted-key-cert", "Trusted key certificate", uuid.MustParse("827ee890-f860-e411-a1b4-777a21b4f94c")},
}

// LookupType finds a well-known type by name.
func LookupType(name string) (Type, error) {
	for _, t := range Types {
		if t.Name == name {
			return t, nil
		}
	}

	return Type{}, fmt.Errorf("%w: '%s'", errs.ErrUnknownFipType, name)
}

// TypeName returns the name of a well-known UUID, or "" if it has none.
func TypeName(id uuid.UUID) string {
	for _, t := range Types {
		if t.UUID == id {
			return t.Name
		}
	}

	return ""
}

// ParseUUID accepts a 16-byte raw UUID.
func ParseUUID(raw []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: fip-uuid: %w", errs.ErrInvalidProperty, err)
	}

	return id, nil
}
