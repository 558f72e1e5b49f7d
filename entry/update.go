package entry

import (
	"errors"
	"slices"
	"strings"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/hash"
)

// ReadData returns an entry's data as stored in its built or loaded image,
// asking each ancestor in turn to extract it. With decomp set, compressed
// entries are decompressed.
func ReadData(e Entry, decomp bool) ([]byte, error) {
	b := e.EntryBase()
	parent := b.Parent()
	if parent == nil {
		return b.data, nil
	}

	r, ok := parent.(ChildDataReader)
	if !ok {
		return nil, parent.EntryBase().Fail(errs.ErrNotSupported, "cannot read entry data")
	}

	return r.ReadChildData(e, decomp)
}

// ReadEntryData returns the data of the entry at path.
func (img *Image) ReadEntryData(path string, decomp bool) ([]byte, error) {
	if !img.frozen {
		return nil, img.Fail(errs.ErrNotSupported, "image has not been built or loaded")
	}
	e, err := img.FindEntry(path)
	if err != nil {
		return nil, err
	}

	return ReadData(e, decomp)
}

// ReplaceEntry stores new data for the entry at path and writes it back
// through every ancestor. The data must fit in the entry's slot; the
// positions of other entries do not change, except inside containers that
// lay out their children themselves.
//
// It reports false when the data is identical to what is stored.
func (img *Image) ReplaceEntry(path string, data []byte) (bool, error) {
	if !img.frozen {
		return false, img.Fail(errs.ErrNotSupported, "image has not been built or loaded")
	}
	e, err := img.FindEntry(path)
	if err != nil {
		return false, err
	}
	if _, ok := e.(sectionLike); ok {
		return false, e.EntryBase().Fail(errs.ErrNotSupported, "Cannot replace the contents of a section")
	}

	b := e.EntryBase()
	stored, err := b.encode(data)
	if err != nil {
		return false, err
	}
	if len(stored) == len(b.data) && hash.Fingerprint(stored) == hash.Fingerprint(b.data) {
		img.ctx.logger.Debug("entry data unchanged", "path", b.Path())
		return false, nil
	}

	rp, ok := b.Parent().(Repacker)
	rebuilds := ok && rp.RepacksOnWrite()
	slot := b.size - min(b.size, b.padBefore+b.padAfter)
	if !rebuilds && uint64(len(stored)) > slot {
		return false, b.Fail(errs.ErrSlotTooSmall, "New data size %#x (%d) exceeds the slot of %#x (%d) bytes",
			len(stored), len(stored), slot, slot)
	}

	oldData, oldSize := b.data, b.contentsSize
	b.data = stored
	b.contentsSize = uint64(len(stored))
	if err := img.writeBack(e); err != nil {
		b.data, b.contentsSize = oldData, oldSize
		return false, err
	}
	b.missing, b.fake = false, false

	return true, nil
}

// writeBack calls WriteChildData for e on its parent, then for the parent
// on its parent, up to the image.
func (img *Image) writeBack(e Entry) error {
	// Keep the current section contents so a failure leaves them intact.
	saved := make(map[*Section][]byte)
	for cur := e.EntryBase().Parent(); cur != nil; cur = cur.EntryBase().Parent() {
		if sl, ok := cur.(sectionLike); ok {
			s := sl.AsSection()
			saved[s] = slices.Clone(s.data)
		}
	}

	for cur := e; ; {
		parent := cur.EntryBase().Parent()
		if parent == nil {
			return nil
		}

		w, ok := parent.(ChildDataWriter)
		if !ok {
			return parent.EntryBase().Fail(errs.ErrNotSupported, "cannot write entry data")
		}
		if err := w.WriteChildData(cur); err != nil {
			for s, data := range saved {
				s.data = data
			}

			return err
		}
		cur = parent
	}
}

// relPath returns the path of e below the image, empty for the image.
func (img *Image) relPath(e Entry) string {
	return strings.TrimPrefix(strings.TrimPrefix(e.EntryBase().Path(), img.Path()), "/")
}

// LoadImage recreates the image described by a CBOR map and attaches the
// bytes of the image file it describes, so that entries can be read and
// replaced without the original inputs. Entry arguments recorded in the map
// are used unless c already has them.
func LoadImage(c *Context, imageData, mapData []byte) (*Image, error) {
	m, err := DecodeMap(mapData)
	if err != nil {
		return nil, err
	}
	if m.Layout == nil {
		return nil, errs.ErrInvalidImageMap
	}
	// Arguments given to this load win over those of the build.
	for name, v := range m.EntryArgs {
		if _, ok := c.entryArgs[name]; !ok {
			c.entryArgs[name] = v
		}
	}

	img, err := NewImage(c, m.Layout.Node(nil))
	if err != nil {
		return nil, err
	}
	if uint64(len(imageData)) != m.Size {
		return nil, img.Fail(errs.ErrInvalidImageMap, "image is %#x bytes but the map describes %#x bytes",
			len(imageData), m.Size)
	}

	records := make(map[string]*MapRecord, len(m.Entries))
	for i := range m.Entries {
		records[m.Entries[i].Path] = &m.Entries[i]
	}

	err = img.Walk(func(e Entry, _ int) error {
		b := e.EntryBase()
		rec, ok := records[img.relPath(e)]
		if !ok {
			return b.Fail(errs.ErrInvalidImageMap, "no map record for entry")
		}
		if rec.Type != b.etype {
			return b.Fail(errs.ErrInvalidImageMap, "map records type '%s' but the entry is '%s'", rec.Type, b.etype)
		}
		b.SetOffsetSize(rec.Offset, rec.Size)
		b.imagePos = rec.ImagePos
		b.contentsSize = rec.ContentsSize
		b.uncompSize = rec.UncompSize
		b.missing, b.fake = rec.Missing, rec.Missing
		b.obtained = true

		return nil
	})
	if err != nil {
		return nil, err
	}

	img.data = slices.Clone(imageData)
	img.frozen = true
	err = img.Walk(func(e Entry, depth int) error {
		if depth == 0 {
			return nil
		}

		b := e.EntryBase()
		data, err := ReadData(e, false)
		if errors.Is(err, errs.ErrNotSupported) {
			c.logger.Debug("entry data cannot be extracted", "path", b.Path(), "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		b.data = slices.Clone(data)
		if sl, ok := e.(sectionLike); ok {
			sl.AsSection().frozen = true
		}
		if rec := records[img.relPath(e)]; hash.Fingerprint(b.data) != rec.Hash {
			c.logger.Warn("entry data does not match the map", "path", b.Path())
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	img.built = true

	return img, nil
}
