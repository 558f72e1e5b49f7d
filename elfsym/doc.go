// Package elfsym reads symbols and loadable segments from ELF executables and
// patches layout references into the flat binaries built from them.
//
// A compiled stage that needs to know where another entry ended up in the
// image declares a placeholder symbol named
//
//	_binman_<entry>_prop_<property>
//
// with entry names written using underscores in place of hyphens. After the
// image is packed, LookupAndWriteSymbols resolves each placeholder and writes
// the value, little-endian, at the placeholder's position in the binary.
// Positions are measured from the `__image_copy_start` anchor symbol; an ELF
// without that anchor has nothing to patch.
package elfsym
