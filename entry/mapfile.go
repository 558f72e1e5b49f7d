package entry

import (
	"fmt"
	"io"
	"maps"
	"path"
	"strings"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/cborcodec"
	"github.com/arloliu/fwpack/internal/hash"
	"github.com/arloliu/fwpack/layout"
)

// MapVersion is the version of the CBOR image map written by EncodeMap.
const MapVersion = 1

// ImageMap describes a built image: the layout it was built from and the
// final placement of every entry. Its CBOR form is written next to the
// image so the image can be inspected and updated later.
type ImageMap struct {
	Version  int         `cbor:"version"`
	Name     string      `cbor:"name"`
	Filename string      `cbor:"filename"`
	Size     uint64      `cbor:"size"`
	Layout   *MapNode    `cbor:"layout"`
	Entries  []MapRecord `cbor:"entries"`

	// EntryArgs holds the entry arguments the layout read, so that the
	// image can be loaded again without them.
	EntryArgs map[string]string `cbor:"entry_args,omitempty"`
}

// MapRecord is the placement of one entry. Path is relative to the image
// and empty for the image itself.
type MapRecord struct {
	Path         string `cbor:"path"`
	Type         string `cbor:"type"`
	Depth        int    `cbor:"depth"`
	Offset       uint64 `cbor:"offset"`
	Size         uint64 `cbor:"size"`
	ImagePos     uint64 `cbor:"image_pos"`
	ContentsSize uint64 `cbor:"contents_size"`
	UncompSize   uint64 `cbor:"uncomp_size,omitempty"`
	Hash         uint64 `cbor:"hash"`
	Missing      bool   `cbor:"missing,omitempty"`
}

// Name returns the entry name, the last element of Path.
func (r *MapRecord) Name(imageName string) string {
	if r.Path == "" {
		return imageName
	}

	return path.Base(r.Path)
}

// MapNode is a layout node in map form.
type MapNode struct {
	Name     string         `cbor:"name"`
	Props    []*layout.Prop `cbor:"props,omitempty"`
	Subnodes []*MapNode     `cbor:"subnodes,omitempty"`
}

func newMapNode(n *layout.Node) *MapNode {
	mn := &MapNode{Name: n.Name, Props: n.Props}
	for _, sub := range n.Subnodes {
		mn.Subnodes = append(mn.Subnodes, newMapNode(sub))
	}

	return mn
}

// Node converts the map node back into a layout node attached to parent.
func (mn *MapNode) Node(parent *layout.Node) *layout.Node {
	n := layout.NewNode(mn.Name)
	if parent != nil {
		parent.AddSubnode(n)
	}
	for _, p := range mn.Props {
		n.SetProp(p)
	}
	for _, sub := range mn.Subnodes {
		sub.Node(n)
	}

	return n
}

// Map describes the image as built.
func (img *Image) Map() (*ImageMap, error) {
	m := &ImageMap{
		Version:  MapVersion,
		Name:     img.name,
		Filename: img.filename,
		Size:     uint64(len(img.data)),
		Layout:   newMapNode(img.node),
	}
	if len(img.ctx.usedArgs) > 0 {
		m.EntryArgs = maps.Clone(img.ctx.usedArgs)
	}

	err := img.Walk(func(e Entry, depth int) error {
		b := e.EntryBase()
		data := b.data
		if depth > 0 {
			if _, ok := e.(sectionLike); ok {
				var err error
				if data, err = e.Data(); err != nil {
					return err
				}
			}
		}
		m.Entries = append(m.Entries, MapRecord{
			Path:         img.relPath(e),
			Type:         b.etype,
			Depth:        depth,
			Offset:       b.offset,
			Size:         b.size,
			ImagePos:     b.imagePos,
			ContentsSize: b.contentsSize,
			UncompSize:   b.uncompSize,
			Hash:         hash.Fingerprint(data),
			Missing:      b.missing,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EncodeMap returns the CBOR image map.
func (img *Image) EncodeMap() ([]byte, error) {
	m, err := img.Map()
	if err != nil {
		return nil, err
	}

	return cborcodec.Marshal(m)
}

// DecodeMap parses a CBOR image map.
func DecodeMap(data []byte) (*ImageMap, error) {
	var m ImageMap
	if err := cborcodec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidImageMap, err)
	}
	if m.Version != MapVersion {
		return nil, fmt.Errorf("%w: unsupported map version %d", errs.ErrInvalidImageMap, m.Version)
	}

	return &m, nil
}

// WriteMap writes the text map of the image.
func (img *Image) WriteMap(w io.Writer) error {
	m, err := img.Map()
	if err != nil {
		return err
	}

	return m.WriteText(w)
}

// WriteText writes one line per entry, indented by depth:
//
//	ImagePos    Offset      Size  Name
//	00000000  00000000  00000010  image
//	00000000    00000000  00000004  u-boot
func (m *ImageMap) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%8s  %8s  %8s  %s\n", "ImagePos", "Offset", "Size", "Name"); err != nil {
		return err
	}
	for i := range m.Entries {
		r := &m.Entries[i]
		_, err := fmt.Fprintf(w, "%08x  %s%08x  %08x  %s\n",
			r.ImagePos, strings.Repeat("  ", r.Depth), r.Offset, r.Size, r.Name(m.Name))
		if err != nil {
			return err
		}
	}

	return nil
}
