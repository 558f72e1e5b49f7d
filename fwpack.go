// Package fwpack builds firmware images from a layout description.
//
// A layout names the pieces of an image (boot loaders, firmware blobs,
// device trees, containers such as FIT, CBFS and FIP) and how they are
// placed. Building resolves the contents of every entry, packs them, patches
// position symbols into loader binaries and writes the image together with
// two maps: a text map for people and a CBOR map that lets a written image
// be inspected and updated later without the layout.
//
// # Basic Usage
//
// Building every image described by a layout file:
//
//	results, err := fwpack.BuildFile("layout.yaml",
//	    entry.WithInputDirs("build", "blobs"),
//	    entry.WithOutputDir("out"),
//	)
//	for _, res := range results {
//	    fmt.Println(res.Path, len(res.Data))
//	}
//
// Updating an image written earlier:
//
//	data, err := fwpack.Extract("out/image.bin", "section/u-boot")
//	changed, err := fwpack.Replace("out/image.bin", "section/u-boot", newUBoot)
//
// # Package Structure
//
// This package wraps the entry, etype and layout packages for the common
// cases. Use them directly to drive the build steps one at a time.
package fwpack

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/etype"
	"github.com/arloliu/fwpack/layout"
)

// Result describes one image written by Build.
type Result struct {
	// Name is the name of the image node.
	Name string
	// Path is where the image file was written.
	Path string
	// MapPath is where the CBOR map was written. The text map sits next to
	// it with the .map extension.
	MapPath string
	// Data is the image contents.
	Data []byte
	// Missing lists the entries built from placeholders because their
	// external contents were not found.
	Missing []string
	// HasFakes reports whether any entry holds placeholder data, either for
	// a missing blob or for a missing tool.
	HasFakes bool
}

// NewContext creates a build context with every entry type registered and
// the external tools looked up on PATH. opts are applied afterwards and may
// replace either registry.
func NewContext(opts ...entry.Option) (*entry.Context, error) {
	base := []entry.Option{
		entry.WithRegistry(etype.NewRegistry()),
		entry.WithBintools(bintool.NewDefaultRegistry()),
	}

	return entry.NewContext(append(base, opts...)...)
}

// Build builds every image described by root and writes each one, with its
// maps, to the output directory.
//
// Each image gets its own Context. Images built before a failing one stay
// written and are returned, in layout order, along with the error.
func Build(root *layout.Node, opts ...entry.Option) ([]*Result, error) {
	nodes, err := root.Images()
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(nodes))
	for _, node := range nodes {
		res, err := buildImage(node, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	return results, nil
}

// BuildFile loads a YAML or JSONC layout file and builds it.
func BuildFile(path string, opts ...entry.Option) ([]*Result, error) {
	root, err := layout.LoadFile(path)
	if err != nil {
		return nil, err
	}

	return Build(root, opts...)
}

func buildImage(node *layout.Node, opts []entry.Option) (*Result, error) {
	ctx, err := NewContext(opts...)
	if err != nil {
		return nil, err
	}
	img, err := entry.NewImage(ctx, node)
	if err != nil {
		return nil, err
	}
	data, err := img.Build()
	if err != nil {
		return nil, err
	}

	path, err := ctx.WriteOutput(img.Filename(), data)
	if err != nil {
		return nil, fmt.Errorf("writing image %s: %w", img.Name(), err)
	}
	if err := writeMaps(img, path); err != nil {
		return nil, err
	}

	res := &Result{
		Name:     img.Name(),
		Path:     path,
		MapPath:  MapPath(path),
		Data:     data,
		Missing:  img.Missing(),
		HasFakes: img.HasFakes(),
	}
	ctx.Logger().Info("image written", "name", res.Name, "path", path, "size", len(data))
	if len(res.Missing) > 0 {
		ctx.Logger().Warn("image is not functional, some blobs are missing", "name", res.Name, "missing", res.Missing)
	}

	return res, nil
}

// MapPath returns the CBOR map path for an image file: the image path with
// its extension replaced by .map.cbor.
func MapPath(imagePath string) string {
	return mapBase(imagePath) + ".map.cbor"
}

// TextMapPath returns the text map path for an image file.
func TextMapPath(imagePath string) string {
	return mapBase(imagePath) + ".map"
}

func mapBase(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
}

func writeMaps(img *entry.Image, imagePath string) error {
	var text bytes.Buffer
	if err := img.WriteMap(&text); err != nil {
		return err
	}
	if err := os.WriteFile(TextMapPath(imagePath), text.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing map: %w", err)
	}

	cbor, err := img.EncodeMap()
	if err != nil {
		return err
	}
	if err := os.WriteFile(MapPath(imagePath), cbor, 0o644); err != nil {
		return fmt.Errorf("writing map: %w", err)
	}

	return nil
}

// ReadMap reads the CBOR map written next to an image file.
func ReadMap(imagePath string) (*entry.ImageMap, error) {
	data, err := os.ReadFile(MapPath(imagePath))
	if err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}

	return entry.DecodeMap(data)
}

// Open loads an image file written by Build, using its CBOR map. Containers
// rebuilt by a later replacement write their intermediate files next to the
// image unless opts name another output directory.
func Open(imagePath string, opts ...entry.Option) (*entry.Image, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	mapData, err := os.ReadFile(MapPath(imagePath))
	if err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}

	all := append([]entry.Option{entry.WithOutputDir(filepath.Dir(imagePath))}, opts...)
	ctx, err := NewContext(all...)
	if err != nil {
		return nil, err
	}

	return entry.LoadImage(ctx, data, mapData)
}

// Extract returns the data of the entry at entryPath in an image file,
// decompressed when the entry was stored compressed.
func Extract(imagePath, entryPath string, opts ...entry.Option) ([]byte, error) {
	img, err := Open(imagePath, opts...)
	if err != nil {
		return nil, err
	}

	return img.ReadEntryData(entryPath, true)
}

// Replace stores data as the contents of the entry at entryPath and writes
// the image and its maps back. It reports false, and writes nothing, when
// the entry already holds that data.
func Replace(imagePath, entryPath string, data []byte, opts ...entry.Option) (bool, error) {
	img, err := Open(imagePath, opts...)
	if err != nil {
		return false, err
	}
	changed, err := img.ReplaceEntry(entryPath, data)
	if err != nil || !changed {
		return false, err
	}

	if err := os.WriteFile(imagePath, img.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("writing image: %w", err)
	}
	if err := writeMaps(img, imagePath); err != nil {
		return false, err
	}

	return true, nil
}
