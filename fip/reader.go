package fip

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/fwpack/errs"
)

// Entry is an image in a FIP.
type Entry struct {
	TocEntry
	Data []byte
}

// Name returns the well-known type name, or the UUID text for other images.
func (e *Entry) Name() string {
	if name := TypeName(e.UUID); name != "" {
		return name
	}

	return e.UUID.String()
}

// Package is a parsed FIP.
type Package struct {
	Header  Header
	Entries []*Entry
}

// Parse reads a FIP. Entry data aliases data.
func Parse(data []byte) (*Package, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	pkg := &Package{Header: h}
	for pos := HeaderSize; ; pos += EntrySize {
		if pos+EntrySize > len(data) {
			return nil, fmt.Errorf("%w: fip table runs past end of data at %#x", errs.ErrInvalidHeader, pos)
		}
		toc := parseTocEntry(data[pos : pos+EntrySize])
		if toc.IsTerminator() {
			break
		}
		if toc.Offset+toc.Size > uint64(len(data)) || toc.Offset+toc.Size < toc.Offset {
			return nil, fmt.Errorf("%w: fip entry %s at %#x size %#x exceeds data size %#x",
				errs.ErrInvalidHeader, toc.UUID, toc.Offset, toc.Size, len(data))
		}
		pkg.Entries = append(pkg.Entries, &Entry{TocEntry: toc, Data: data[toc.Offset : toc.Offset+toc.Size]})
	}

	return pkg, nil
}

// FindUUID returns the entry with the given UUID.
func (p *Package) FindUUID(id uuid.UUID) (*Entry, error) {
	for _, e := range p.Entries {
		if e.UUID == id {
			return e, nil
		}
	}

	return nil, fmt.Errorf("%w: no fip entry with UUID %s", errs.ErrEntryNotFound, id)
}

// Find returns the entry of a well-known type.
func (p *Package) Find(fipType string) (*Entry, error) {
	t, err := LookupType(fipType)
	if err != nil {
		return nil, err
	}

	e, err := p.FindUUID(t.UUID)
	if err != nil {
		return nil, fmt.Errorf("%w: no fip entry of type '%s'", errs.ErrEntryNotFound, fipType)
	}

	return e, nil
}
