package etype

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/arloliu/fwpack/elfsym"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/format"
)

// Blob is an entry whose contents are read from an input file.
//
// The file is named by the `filename` property, by an entry argument for
// types that have one, or by the type's default. When `elf-filename` (or
// the type's default ELF file) is available, layout references declared in
// the ELF file are patched into the contents after packing.
type Blob struct {
	entry.Base

	filename    string
	elfFilename string
	elf         []byte

	defaultFile string
	defaultELF  string
	pathArg     string
	external    bool
}

func newBlob(file, elf, pathArg string, external bool) *Blob {
	return &Blob{defaultFile: file, defaultELF: elf, pathArg: pathArg, external: external}
}

// ReadNode reads the blob properties.
func (b *Blob) ReadNode() error {
	if err := b.Base.ReadNode(); err != nil {
		return err
	}
	b.SetExternal(b.external)

	node := b.Node()
	filename, err := node.GetString("filename", b.defaultFile)
	if err != nil {
		return err
	}
	if b.pathArg != "" {
		v, ok, err := b.EntryArg(b.pathArg)
		if err != nil {
			return err
		}
		if ok && v != "" {
			filename = v
		}
	}
	if filename == "" {
		return b.Fail(errs.ErrMissingProperty, "'%s' entry is missing properties: filename", b.Type())
	}
	b.filename = filename

	b.elfFilename, err = node.GetString("elf-filename", b.defaultELF)

	return err
}

// Filename returns the name of the input file.
func (b *Blob) Filename() string { return b.filename }

// ObtainContents reads the input file.
func (b *Blob) ObtainContents() (bool, error) {
	data, err := b.Context().ReadInput(b.filename)
	if err == nil {
		return true, b.SetContents(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, b.Errorf("reading '%s': %w", b.filename, err)
	}

	switch {
	case b.Optional():
		b.Context().Logger().Info("optional blob not found", "path", b.Path(), "filename", b.filename)
		return true, b.SetContents(nil)
	case b.External() && b.AllowMissing():
		if b.Context().FakeMissing() {
			if err := b.writeFake(); err != nil {
				return false, err
			}
		}
		return true, b.MarkMissing(b.filename)
	case b.External():
		return false, b.Fail(errs.ErrMissingBlob, "Missing external blob '%s'", b.filename)
	default:
		return false, b.Fail(errs.ErrMissingBlob, "Filename '%s' not found in input path", b.filename)
	}
}

// writeFake writes a placeholder input file so that a later build with the
// same inputs finds it.
func (b *Blob) writeFake() error {
	path, err := b.Context().WriteOutput(filepath.Base(b.filename), make([]byte, b.Size()))
	if err != nil {
		return b.Errorf("writing placeholder for '%s': %w", b.filename, err)
	}
	b.Context().Logger().Warn("wrote placeholder blob", "path", b.Path(), "file", path)

	return nil
}

// WriteSymbols patches layout references declared in the ELF file into the
// contents. Compressed and missing blobs are left alone.
func (b *Blob) WriteSymbols(section *entry.Section) error {
	if b.elfFilename == "" || b.Missing() || b.Compression() != format.CompressionNone {
		return nil
	}

	if b.elf == nil {
		elf, err := b.Context().ReadInput(b.elfFilename)
		if errors.Is(err, fs.ErrNotExist) {
			b.Context().Logger().Debug("no ELF file, skipping symbols", "path", b.Path(), "elf", b.elfFilename)
			return nil
		}
		if err != nil {
			return err
		}
		b.elf = elf
	}

	contents, _ := b.Data()
	data, patches, err := elfsym.LookupAndWriteSymbols(b.elf, contents, section.Resolver())
	if err != nil {
		return err
	}
	for _, p := range patches {
		b.Context().Logger().Debug("wrote symbol", "path", b.Path(), "symbol", p.Ref.Symbol,
			"offset", p.Offset, "value", p.Value, "found", p.Found)
	}

	return b.SetContents(data)
}
