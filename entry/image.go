package entry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/layout"
)

// maxContentPasses bounds the rounds in which entries may report that their
// contents are not ready yet. The budget covers the whole tree, however deep.
const maxContentPasses = 3

// maxPackPasses bounds how often an image is packed again after entries
// changed size while processing their contents.
const maxPackPasses = 3

// Image is the top-level section. It is placed at offset 0 and has no
// parent.
type Image struct {
	Section

	filename string
	built    bool
}

// NewImage creates the image described by node and all entries below it.
func NewImage(c *Context, node *layout.Node) (*Image, error) {
	img := &Image{}
	img.init(c, c.add(img), -1, node, "image")
	if err := img.ReadNode(); err != nil {
		return nil, img.wrap(err)
	}

	return img, nil
}

// ReadNode reads the section properties and the output file name.
func (img *Image) ReadNode() error {
	if err := img.Section.ReadNode(); err != nil {
		return err
	}
	if img.padBefore != 0 || img.padAfter != 0 {
		return img.Fail(errs.ErrNotSupported, "Image cannot have pad-before or pad-after")
	}

	name, err := img.node.GetString("filename", img.name+".bin")
	if err != nil {
		return err
	}
	img.filename = name
	img.origOffset, img.fixedOffset = 0, true
	img.ResetForPack()

	return nil
}

// Filename returns the name of the image file.
func (img *Image) Filename() string { return img.filename }

// Build obtains all contents, packs the image and returns its bytes.
func (img *Image) Build() ([]byte, error) {
	if err := img.GetEntryContents(); err != nil {
		return nil, err
	}
	if err := img.PackAndProcess(); err != nil {
		return nil, err
	}
	if err := img.freeze(); err != nil {
		return nil, err
	}
	img.built = true

	return slices.Clone(img.data), nil
}

// GetEntryContents obtains the contents of every entry in up to
// maxContentPasses rounds. Entries still waiting after the last round are a
// fatal error.
func (img *Image) GetEntryContents() error {
	for pass := 1; pass <= maxContentPasses; pass++ {
		ok, err := img.ObtainContents()
		if err != nil {
			return err
		}
		if ok {
			img.obtained = true
			return nil
		}
		img.ctx.logger.Debug("entries still waiting for contents", "image", img.name, "pass", pass)
	}

	var remaining []string
	_ = img.Walk(func(e Entry, _ int) error {
		b := e.EntryBase()
		if _, isSection := e.(sectionLike); !isSection && !b.obtained {
			remaining = append(remaining, "'"+b.Path()+"'")
		}

		return nil
	})

	return img.Fail(errs.ErrUnresolvedContents, "Could not complete processing of contents: remaining [%s]",
		strings.Join(remaining, ", "))
}

// PackAndProcess packs the image, sets positions and processes contents,
// repeating while entries change size.
func (img *Image) PackAndProcess() error {
	for pass := 1; pass <= maxPackPasses; pass++ {
		if _, err := img.Pack(0); err != nil {
			return err
		}
		img.SetImagePos(0)

		ok, err := img.ProcessContents()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		img.ctx.logger.Debug("entries changed size, packing again", "image", img.name, "pass", pass)
		img.ResetForPack()
	}

	return img.Fail(errs.ErrSizeChanged, "Entries changed size after packing (tried %d passes)", maxPackPasses)
}

// Bytes returns a copy of the built or loaded image. Later replacements do
// not change it.
func (img *Image) Bytes() []byte { return slices.Clone(img.data) }

// Missing returns the paths of entries whose contents were replaced by
// placeholders.
func (img *Image) Missing() []string {
	var out []string
	var check func(e Entry, _ int) error
	check = func(e Entry, _ int) error {
		if b := e.EntryBase(); b.missing {
			out = append(out, b.Path())
		}
		if owner, ok := e.(TemplateOwner); ok {
			for _, t := range owner.Templates() {
				_ = walk(t, 0, check)
			}
		}

		return nil
	}
	_ = img.Walk(check)

	return out
}

// HasFakes reports whether any entry holds placeholder data.
func (img *Image) HasFakes() bool {
	fake := false
	_ = img.Walk(func(e Entry, _ int) error {
		fake = fake || e.EntryBase().fake
		return nil
	})

	return fake
}

// FindEntry returns the entry at path. The path may be absolute, such as
// "/image/section/u-boot", or relative to the image, and may be given as
// in the map or by entry names alone.
func (img *Image) FindEntry(path string) (Entry, error) {
	rel := path
	if root := img.Path(); rel == root || strings.HasPrefix(rel, root+"/") {
		rel = strings.TrimPrefix(rel, root)
	}
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return img, nil
	}

	// Map paths follow the layout, which may have nodes that are not
	// entries, such as the images node of a FIT.
	var byPath Entry
	_ = img.Walk(func(e Entry, _ int) error {
		if byPath == nil && img.relPath(e) == rel {
			byPath = e
		}
		return nil
	})
	if byPath != nil {
		return byPath, nil
	}

	var cur Entry = img
	for _, part := range strings.Split(rel, "/") {
		sl, ok := cur.(sectionLike)
		if !ok {
			return nil, fmt.Errorf("%w: '%s': '%s' has no entries", errs.ErrEntryNotFound, path, cur.EntryBase().Path())
		}
		next := sl.AsSection().Child(part)
		if next == nil {
			return nil, fmt.Errorf("%w: '%s'", errs.ErrEntryNotFound, path)
		}
		cur = next
	}

	return cur, nil
}
