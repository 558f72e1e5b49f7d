// Package entry implements the image model: entries, the sections that
// contain them and the image at the top.
//
// An image is described by a layout tree (see package layout). Every node
// becomes an Entry of the type named by its `type` property; a Registry maps
// type names to constructors. Package etype registers the concrete types.
//
// # Building
//
// Image.Build runs the phases in a fixed order over the whole tree:
//
//   - ObtainContents: every entry produces its data. An entry may report
//     that it is not ready yet, for example because it copies a sibling; it
//     is asked again, for at most three rounds across the whole tree.
//   - Pack: entries are placed, section by section, honouring offset,
//     align, size and padding properties. Sections then check that no two
//     children overlap and that every child lies inside them.
//   - SetImagePos: absolute positions are assigned from the top down.
//   - ProcessContents: entries update their data now that positions are
//     known. Blobs patch layout references into their code here. If any
//     entry changed size the image is packed again.
//
// # Arena
//
// Entries live in an arena owned by the Context. A section stores the ids of
// its children and every entry stores the id of its parent, so lookups can
// walk up and down the tree without reference cycles. Steps driven from
// Base or Section (building section data, checking children) dispatch
// through the arena to the outermost type, so container types override them
// by implementing SectionBuilder or EntryChecker.
//
// # Updating
//
// After a build, or after LoadImage recreated an image from its CBOR map,
// Image.ReadEntryData extracts one entry through every ancestor's
// ReadChildData and Image.ReplaceEntry writes new data back through every
// ancestor's WriteChildData. Plain sections copy the bytes into place;
// containers rebuild their table of contents.
package entry
