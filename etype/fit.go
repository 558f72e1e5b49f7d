package etype

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/u-root/u-root/pkg/dt"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/elfsym"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/fdt"
	"github.com/arloliu/fwpack/internal/hash"
	"github.com/arloliu/fwpack/layout"
)

const (
	opGenFdtNodes = "gen-fdt-nodes"
	opSplitELF    = "split-elf"

	// fakeToolOutputSize is the size of the placeholder used when the tool
	// that builds a container is missing.
	fakeToolOutputSize = 1024
)

// FIT is a Flattened Image Tree built by mkimage.
//
// The node is a FIT source: its properties and subnodes are copied into a
// device tree, except that every node under /images holds entries whose
// data becomes that image's `data` property. Subnodes whose name starts
// with '@' are generators, expanded once per device tree in the FIT's
// device tree list (gen-fdt-nodes) or once per loadable segment of an ELF
// file (split-elf).
type FIT struct {
	entry.Section

	fdts      []string
	fdtsSet   bool
	fdtDir    string
	listArg   string
	defaultDT string
	rmProps   []string

	// images are the entries of the /images subnodes by node name, in
	// order. Generator entries are kept apart; they are not packed.
	images     map[string]entry.Entry
	imageNames []string
	generators map[string]entry.Entry

	toolMissing bool
	inputHash   uint64
	output      []byte
}

func (f *FIT) ReadNode() error {
	if err := f.ReadSectionProps(); err != nil {
		return err
	}

	node := f.Node()
	if props, ok, err := f.EntryArg("of-spl-remove-props"); err != nil {
		return err
	} else if ok {
		f.rmProps = strings.Fields(props)
	}

	listArg, hasList, err := node.String("fit,fdt-list")
	if err != nil {
		return err
	}
	switch {
	case hasList:
		f.listArg = listArg
		if v, ok, err := f.EntryArg(listArg); err != nil {
			return err
		} else if ok {
			f.fdts, f.fdtsSet = strings.Fields(v), true
		}
	case node.HasProp("fit,fdt-list-dir"):
		// Listed when contents are obtained; a loaded image has no inputs.
	case node.HasProp("fit,fdt-list-val"):
		if f.fdts, err = node.GetStringList("fit,fdt-list-val"); err != nil {
			return err
		}
		f.fdtsSet = true
	}

	if f.defaultDT, _, err = f.EntryArg("default-dt"); err != nil {
		return err
	}

	return f.readImages()
}

// ObtainContents lists the device trees of fit,fdt-list-dir, then obtains
// the contents of the images.
func (f *FIT) ObtainContents() (bool, error) {
	if !f.fdtsSet && f.Node().HasProp("fit,fdt-list-dir") {
		if err := f.readFdtDir(); err != nil {
			return false, err
		}
	}

	return f.Section.ObtainContents()
}

func (f *FIT) readFdtDir() error {
	name, err := f.Node().GetString("fit,fdt-list-dir", "")
	if err != nil {
		return err
	}
	dir, err := f.Context().InputDir(name)
	if err != nil {
		return f.Fail(errs.ErrMissingBlob, "fdt directory '%s' not found", name)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.dtb"))
	if err != nil {
		return f.Errorf("%w", err)
	}
	slices.Sort(matches)

	f.fdtDir = dir
	f.fdts = make([]string, 0, len(matches))
	for _, m := range matches {
		f.fdts = append(f.fdts, strings.TrimSuffix(filepath.Base(m), ".dtb"))
	}
	f.fdtsSet = true

	return nil
}

// readImages creates a section entry for each node under /images.
func (f *FIT) readImages() error {
	f.images = make(map[string]entry.Entry)
	f.generators = make(map[string]entry.Entry)
	f.imageNames = nil

	images := f.Node().Subnode("images")
	if images == nil {
		return nil
	}
	for _, node := range images.Subnodes {
		if strings.HasPrefix(node.Name, "@") {
			gen, err := entry.NewEntryAs(f.Context(), f.ID(), node, "section")
			if err != nil {
				return err
			}
			f.generators[node.Name] = gen

			continue
		}

		e, err := f.AddChildAs(node, "section")
		if err != nil {
			return err
		}
		f.images[node.Name] = e
		f.imageNames = append(f.imageNames, node.Name)
	}

	return nil
}

// BuildSectionData writes the FIT source with image data filled in and runs
// mkimage on it. The output is reused while the source does not change.
func (f *FIT) BuildSectionData() ([]byte, error) {
	input, err := f.buildInput()
	if err != nil {
		return nil, err
	}
	sum := hash.Fingerprint(input)
	if f.output != nil && sum == f.inputHash {
		return f.output, nil
	}

	out, err := f.runMkimage(input)
	if err != nil {
		return nil, err
	}
	f.inputHash, f.output = sum, out

	return out, nil
}

func (f *FIT) runMkimage(input []byte) ([]byte, error) {
	ctx := f.Context()
	uniq := uniqueName(f.Path())
	if _, err := ctx.WriteOutput(uniq+".itb", input); err != nil {
		return nil, f.Errorf("%w", err)
	}
	outPath, err := ctx.WriteOutput(uniq+".fit", input)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	opts := bintool.MkimageOptions{ResetTimestamp: true, Output: outPath}
	node := f.Node()
	if pad, ok, err := node.Int("fit,external-offset"); err != nil {
		return nil, err
	} else if ok {
		opts.External, opts.Pad = true, pad
	}
	if align, ok, err := node.Int("fit,align"); err != nil {
		return nil, err
	} else if ok {
		opts.Align = align
	}
	if node.HasProp("fit,sign") || node.HasProp("fit,encrypt") {
		if opts.KeysDir, err = f.keysDir(); err != nil {
			return nil, err
		}
	}

	tool := ctx.Bintool(bintool.Mkimage)
	f.toolMissing = !tool.IsPresent()
	if f.toolMissing {
		if !f.AllowMissing() {
			return nil, f.Fail(errs.ErrMissingTool, "Missing tool: '%s'", bintool.Mkimage)
		}
		f.SetFake(bintool.Mkimage)

		return make([]byte, fakeToolOutputSize), nil
	}
	if err := bintool.RunMkimage(tool, opts); err != nil {
		return nil, f.Errorf("%w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	return out, nil
}

// keysDir finds the single input directory holding the keys named by the
// signature and cipher nodes.
func (f *FIT) keysDir() (string, error) {
	var dirs []string
	var find func(n *layout.Node) error
	find = func(n *layout.Node) error {
		for _, sub := range n.Subnodes {
			sig := strings.HasPrefix(sub.Name, "signature")
			if !sig && !strings.HasPrefix(sub.Name, "cipher") {
				if err := find(sub); err != nil {
					return err
				}
				continue
			}

			hint, err := sub.GetString("key-name-hint", "")
			if err != nil {
				return err
			}
			if strings.Contains(hint, "/") {
				return f.Fail(errs.ErrInvalidProperty, "'%s' is a path not a filename", hint)
			}
			name := hint + ".bin"
			if sig {
				name = hint + ".key"
			}
			path, err := f.Context().InputPath(name)
			if err != nil {
				return f.Fail(errs.ErrMissingBlob, "Filename '%s' not found in input path", name)
			}
			if dir := filepath.Dir(path); !slices.Contains(dirs, dir) {
				dirs = append(dirs, dir)
			}
		}

		return nil
	}
	if err := find(f.Node()); err != nil {
		return "", err
	}

	switch len(dirs) {
	case 0:
		return "", nil
	case 1:
		return dirs[0], nil
	default:
		return "", f.Fail(errs.ErrInvalidProperty, "multiple key paths found (%s)", strings.Join(dirs, ","))
	}
}

// CheckEntries has nothing to check; mkimage places the images.
func (f *FIT) CheckEntries() error { return nil }

// SetImagePos moves each image to where mkimage put its data.
func (f *FIT) SetImagePos(base uint64) {
	f.Base.SetImagePos(base)
	if f.toolMissing || f.output == nil {
		return
	}

	root, err := fdt.Parse(f.output)
	if err != nil {
		f.Context().Logger().Warn("cannot read FIT output", "path", f.Path(), "error", err)
		return
	}
	for _, name := range f.imageNames {
		off, size, ok := imageRegion(root, name)
		if !ok {
			continue
		}
		e := f.images[name]
		e.EntryBase().SetOffsetSize(off, size)
		e.SetImagePos(f.ContentsPos())
	}
}

// imageRegion locates the data of an image in a FIT, held either in the
// `data` property or outside the tree at data-position.
func imageRegion(root *fdt.Node, name string) (offset, size uint64, ok bool) {
	node := root.Lookup("/images/" + name)
	if node == nil {
		return 0, 0, false
	}
	if p := node.Prop("data"); p != nil {
		return uint64(p.Offset), uint64(len(p.Value)), true
	}

	pos, dsize := node.Prop("data-position"), node.Prop("data-size")
	if pos == nil || dsize == nil {
		return 0, 0, false
	}
	offset, ok1 := pos.Uint()
	n, ok2 := dsize.Uint()

	return offset, n, ok1 && ok2
}

// ReadChildData returns an image's data from the built FIT.
func (f *FIT) ReadChildData(child entry.Entry, decomp bool) ([]byte, error) {
	cb := child.EntryBase()
	if f.Fake() {
		return nil, cb.Fail(errs.ErrNotSupported, "FIT was not built by mkimage")
	}
	contents, err := entry.ReadData(f, true)
	if err != nil {
		return nil, err
	}
	root, err := fdt.Parse(contents)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	off, size, ok := imageRegion(root, cb.Name())
	if !ok || off+size > uint64(len(contents)) {
		return nil, cb.Fail(errs.ErrEntryNotFound, "no data for image '%s' in FIT", cb.Name())
	}
	data := contents[off : off+size]
	if decomp {
		return cb.Decompress(data)
	}

	return data, nil
}

// WriteChildData is not supported: only mkimage can rebuild a FIT.
func (f *FIT) WriteChildData(child entry.Entry) error {
	return child.EntryBase().Fail(errs.ErrNotSupported, "Cannot replace entries inside a FIT")
}

// Templates returns the generator entries under /images in layout order.
func (f *FIT) Templates() []entry.Entry {
	var out []entry.Entry
	images := f.Node().Subnode("images")
	if images == nil {
		return nil
	}
	for _, node := range images.Subnodes {
		if gen := f.generators[node.Name]; gen != nil {
			out = append(out, gen)
		}
	}

	return out
}

func (f *FIT) subnodeError(node *layout.Node, format string, args ...any) error {
	rel := strings.TrimPrefix(node.Path(), f.Path()+"/")
	return f.Fail(errs.ErrInvalidLayout, "subnode '%s': "+format, append([]any{rel}, args...)...)
}

// uniqueName turns an entry path into a file name.
func uniqueName(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

// fitBuilder writes the FIT source of one build.
type fitBuilder struct {
	fit       *FIT
	w         *fdt.Writer
	loadables []string
}

func (f *FIT) buildInput() ([]byte, error) {
	b := &fitBuilder{fit: f, w: fdt.NewWriter()}
	b.w.BeginNode("")
	if err := b.addNode(f.Node(), 0, f.Node()); err != nil {
		return nil, err
	}
	b.w.EndNode()

	out, err := b.w.Finish()
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	return out, nil
}

func (b *fitBuilder) addNode(base *layout.Node, depth int, node *layout.Node) error {
	for _, p := range node.Props {
		if err := b.addProp(p); err != nil {
			return err
		}
	}

	rel := strings.TrimPrefix(node.Path(), base.Path())
	inImages := strings.HasPrefix(rel, "/images")
	isImage := depth == 2 && inImages
	if isImage {
		if e := b.fit.images[node.Name]; e != nil {
			data, err := e.Data()
			if err != nil {
				return err
			}
			b.w.Property("data", data)
		}
	}

	for _, sub := range node.Subnodes {
		switch {
		case isImage && !entry.IsMetaNode(sub.Name):
			// Contents of the image, not part of the FIT.
		case strings.HasPrefix(sub.Name, "@"):
			if err := b.genNode(sub, depth, inImages); err != nil {
				return err
			}
		default:
			b.w.BeginNode(sub.Name)
			if err := b.addNode(base, depth+1, sub); err != nil {
				return err
			}
			b.w.EndNode()
		}
	}

	return nil
}

func (b *fitBuilder) addProp(p *layout.Prop) error {
	f := b.fit
	switch {
	case p.Name == "default" && p.Kind == layout.KindString && strings.HasPrefix(p.Str, "@"):
		if len(f.fdts) == 0 {
			return nil
		}
		if f.defaultDT == "" {
			return f.Fail(errs.ErrMissingProperty, "Generated 'default' node requires default-dt entry argument")
		}
		dt := f.defaultDT
		if !slices.Contains(f.fdts, dt) && f.fdtDir != "" {
			dt = filepath.Base(dt)
		}
		seq := slices.Index(f.fdts, dt)
		if seq < 0 {
			return f.Fail(errs.ErrInvalidProperty, "default-dt entry argument '%s' not found in fdt list: %s",
				f.defaultDT, strings.Join(f.fdts, ", "))
		}
		val := strings.ReplaceAll(p.Str[1:], "DEFAULT-SEQ", strconv.Itoa(seq+1))
		b.w.PropertyString(p.Name, strings.ReplaceAll(val, "DEFAULT-NAME", f.defaultDT))
	case strings.HasPrefix(p.Name, "fit,"):
	case p.Name == "offset", p.Name == "size", p.Name == "image-pos":
	default:
		b.w.Property(p.Name, p.Encode())
	}

	return nil
}

func (b *fitBuilder) genNode(node *layout.Node, depth int, inImages bool) error {
	f := b.fit
	op, err := node.GetString("fit,operation", opGenFdtNodes)
	if err != nil {
		return err
	}

	switch op {
	case opGenFdtNodes:
		return b.genFdtNodes(node, depth, inImages)
	case opSplitELF:
		gen := f.generators[node.Name]
		if gen == nil {
			return f.subnodeError(node, "split-elf is only supported under /images")
		}
		if _, err := gen.ObtainContents(); err != nil {
			return err
		}
		if _, err := gen.Pack(0); err != nil {
			return err
		}
		if absent(gen) {
			return nil
		}
		data, err := gen.Data()
		if err != nil {
			return err
		}
		segs, entryAddr, err := elfsym.ReadLoadableSegments(data)
		if err != nil {
			return f.subnodeError(node, "Failed to read ELF file: %v", err)
		}

		return b.genSplitELF(node, depth, segs, entryAddr)
	default:
		return f.subnodeError(node, "Unknown operation '%s'", op)
	}
}

func (b *fitBuilder) genFdtNodes(node *layout.Node, depth int, inImages bool) error {
	f := b.fit
	if len(f.fdts) == 0 {
		if f.fdtsSet {
			return nil
		}
		if f.listArg != "" {
			return f.Fail(errs.ErrMissingProperty, "Generator node requires '%s' entry argument", f.listArg)
		}
		return f.Fail(errs.ErrMissingProperty, "Generator node requires 'fit,fdt-list' property")
	}

	firmware, loadables, err := b.firmware(node)
	if err != nil {
		return err
	}
	for i, name := range f.fdts {
		seq := strconv.Itoa(i + 1)
		nodeName := strings.ReplaceAll(strings.ReplaceAll(node.Name[1:], "SEQ", seq), "NAME", name)
		fname, err := f.fdtFile(name)
		if err != nil {
			return err
		}

		b.w.BeginNode(nodeName)
		var phase string
		for _, p := range node.Props {
			switch {
			case p.Name == "fit,firmware":
				if firmware != "" {
					b.w.PropertyString("firmware", firmware)
				}
			case p.Name == "fit,loadables":
				b.w.PropertyStrings("loadables", loadables)
			case p.Name == "fit,operation":
			case p.Name == "fit,compatible":
				compat, err := f.compatible(fname)
				if err != nil {
					return err
				}
				b.w.Property("compatible", compat)
			case p.Name == "fit,fdt-phase":
				phase = p.Str
			case strings.HasPrefix(p.Name, "fit,"):
				return f.subnodeError(node, "Unknown directive '%s'", p.Name)
			default:
				val := bytes.ReplaceAll(p.Encode(), []byte("NAME"), []byte(name))
				b.w.Property(p.Name, bytes.ReplaceAll(val, []byte("SEQ"), []byte(seq)))
			}
		}

		if depth == 1 && inImages {
			data, err := f.fdtData(fname, name, phase)
			if err != nil {
				return err
			}
			b.w.Property("data", data)
		}

		for _, sub := range node.Subnodes {
			b.w.BeginNode(sub.Name)
			if err := b.addNode(node, depth+1, sub); err != nil {
				return err
			}
			b.w.EndNode()
		}
		b.w.EndNode()
	}

	return nil
}

// firmware picks the first usable image named in fit,firmware. The others,
// followed by the generated loadables, are returned as loadables.
func (b *fitBuilder) firmware(node *layout.Node) (string, []string, error) {
	if !node.HasProp("fit,firmware") {
		return "", b.loadables, nil
	}
	names, err := node.GetStringList("fit,firmware")
	if err != nil {
		return "", nil, err
	}

	valid := slices.Clone(b.loadables)
	for _, name := range b.fit.imageNames {
		if !absent(b.fit.images[name]) {
			valid = append(valid, name)
		}
	}

	var firmware string
	var rest []string
	for _, name := range names {
		if !slices.Contains(valid, name) {
			continue
		}
		if firmware == "" {
			firmware = name
		} else if !slices.Contains(rest, name) {
			rest = append(rest, name)
		}
	}
	for _, name := range b.loadables {
		if name != firmware && !slices.Contains(rest, name) {
			rest = append(rest, name)
		}
	}

	return firmware, rest, nil
}

func (b *fitBuilder) genSplitELF(node *layout.Node, depth int, segs []elfsym.Segment, entryAddr uint64) error {
	for _, seg := range segs {
		name := strings.ReplaceAll(node.Name[1:], "SEQ", strconv.Itoa(seg.Seq+1))
		b.w.BeginNode(name)
		b.loadables = append(b.loadables, name)
		for _, p := range node.Props {
			switch p.Name {
			case "fit,load":
				b.w.PropertyU32("load", uint32(seg.Start))
			case "fit,entry":
				if seg.Seq == 0 {
					b.w.PropertyU32("entry", uint32(entryAddr))
				}
			case "fit,data":
				b.w.Property("data", seg.Data)
			case "fit,operation":
			default:
				if strings.HasPrefix(p.Name, "fit,") {
					return b.fit.subnodeError(node, "Unknown directive '%s'", p.Name)
				}
				b.w.Property(p.Name, p.Encode())
			}
		}

		for _, sub := range node.Subnodes {
			if !entry.IsMetaNode(sub.Name) {
				continue
			}
			b.w.BeginNode(sub.Name)
			if err := b.addNode(node, depth+1, sub); err != nil {
				return err
			}
			b.w.EndNode()
		}
		b.w.EndNode()
	}

	return nil
}

// fdtFile returns the path of a device tree in the fdt list.
func (f *FIT) fdtFile(name string) (string, error) {
	if f.fdtDir != "" {
		return filepath.Join(f.fdtDir, name+".dtb"), nil
	}
	path, err := f.Context().InputPath(name + ".dtb")
	if err != nil {
		return "", f.Fail(errs.ErrMissingBlob, "Filename '%s.dtb' not found in input path", name)
	}

	return path, nil
}

// fdtData returns a device tree for an image node, cut down by fdtgrep to
// the nodes for phase when one is given.
func (f *FIT) fdtData(fname, name, phase string) ([]byte, error) {
	if phase == "" {
		data, err := os.ReadFile(fname)
		if err != nil {
			return nil, f.Errorf("%w", err)
		}
		return data, nil
	}

	out := f.Context().OutputPath(filepath.Base(name) + "-" + phase + ".dtb")
	tool := f.Context().Bintool(bintool.Fdtgrep)
	if err := bintool.RunFdtgrepPhase(tool, fname, phase, out, f.rmProps); err != nil {
		if !tool.IsPresent() {
			return nil, f.Fail(errs.ErrMissingTool, "Missing tool: '%s'", bintool.Fdtgrep)
		}
		return nil, f.Errorf("%w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}

	return data, nil
}

// compatible returns the root compatible property of a device tree file.
func (f *FIT) compatible(fname string) ([]byte, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, f.Errorf("%w", err)
	}
	tree, err := dt.ReadFDT(bytes.NewReader(data))
	if err != nil || tree.RootNode == nil {
		return nil, f.Fail(errs.ErrInvalidHeader, "%s is not a device tree: %v", filepath.Base(fname), err)
	}
	for _, p := range tree.RootNode.Properties {
		if p.Name == "compatible" {
			return p.Value, nil
		}
	}

	return nil, f.Fail(errs.ErrMissingProperty, "%s has no compatible property", filepath.Base(fname))
}

// absent reports whether some entry at or below e is missing, or optional
// and empty.
func absent(e entry.Entry) bool {
	found := false
	check := func(x entry.Entry, _ int) error {
		b := x.EntryBase()
		if b.Missing() || (b.Optional() && b.ContentsSize() == 0) {
			found = true
		}
		return nil
	}

	if s, ok := e.(interface{ AsSection() *entry.Section }); ok {
		_ = s.AsSection().Walk(check)
		return found
	}
	_ = check(e, 0)

	return found
}
