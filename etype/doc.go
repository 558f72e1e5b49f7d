// Package etype implements the entry types that can appear in a layout.
//
// NewRegistry returns an entry.Registry holding all of them. The types fall
// into three groups:
//
//   - Leaf entries whose contents come from a file, a property or other
//     entries: blob, blob-ext, the u-boot family, external firmware blobs
//     such as atf-bl31, fill, text and collection.
//   - Containers with a native writer: atf-fip and cbfs. They lay out their
//     children themselves and support reading and replacing a single child
//     in a built image.
//   - Containers built by an external tool: fit (mkimage), ti-x509-cert
//     (openssl), xilinx-bootgen (bootgen), plus ti-board-config, which
//     compiles YAML board configuration.
//
// Entries that are built from an ELF file patch layout references into
// their contents once the image is packed; see package elfsym.
package etype
