package etype

import (
	"fmt"
	"os"
	"strings"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/hash"
)

const (
	bootgenArch     = "zynqmp"
	defaultFsblLoad = 0xfffc0000
)

// XilinxBootgen is a ZynqMP boot image made by bootgen. The children form
// the first stage boot loader, usually U-Boot SPL; `pmufw-filename` adds
// the PMU firmware. Authentication is enabled by `psk-key-name-hint` and
// `ssk-key-name-hint`, which name .pem files in the input path.
//
// bootgen decides where everything goes, so children cannot be read back
// from or replaced in a built image.
type XilinxBootgen struct {
	entry.Section

	authParams []string
	fsblConfig string
	keysrcEnc  string
	pmufw      string
	pskHint    string
	sskHint    string
	fsblLoad   uint64

	inputHash uint64
	output    []byte
}

func (x *XilinxBootgen) ReadNode() error {
	if err := x.ReadSectionProps(); err != nil {
		return err
	}

	node := x.Node()
	var err error
	if x.authParams, err = node.GetStringList("auth-params"); err != nil {
		return err
	}
	for name, dst := range map[string]*string{
		"fsbl-config":       &x.fsblConfig,
		"keysrc-enc":        &x.keysrcEnc,
		"pmufw-filename":    &x.pmufw,
		"psk-key-name-hint": &x.pskHint,
		"ssk-key-name-hint": &x.sskHint,
	} {
		if *dst, err = node.GetString(name, ""); err != nil {
			return err
		}
	}
	if (x.pskHint == "") != (x.sskHint == "") {
		return x.Fail(errs.ErrMissingProperty, "psk-key-name-hint and ssk-key-name-hint must be given together")
	}
	if x.fsblLoad, err = node.GetInt("fsbl-load", defaultFsblLoad); err != nil {
		return err
	}

	return x.ReadEntries()
}

// Bif returns the bootgen image description. Files are given by path.
func (x *XilinxBootgen) Bif(fsbl, pmufw, psk, ssk string) string {
	auth := ""
	if psk != "" {
		auth = ", authentication=rsa"
	}

	var sb strings.Builder
	sb.WriteString("the_ROM_image:\n{\n")
	if len(x.authParams) > 0 {
		fmt.Fprintf(&sb, "\t[auth_params] %s\n", strings.Join(x.authParams, "; "))
	}
	if x.fsblConfig != "" {
		fmt.Fprintf(&sb, "\t[fsbl_config] %s\n", x.fsblConfig)
	}
	if x.keysrcEnc != "" {
		fmt.Fprintf(&sb, "\t[keysrc_encryption] %s\n", x.keysrcEnc)
	}
	if psk != "" {
		fmt.Fprintf(&sb, "\t[pskfile] %s\n\t[sskfile] %s\n", psk, ssk)
	}
	if pmufw != "" {
		fmt.Fprintf(&sb, "\t[destination_cpu=pmu%s] %s\n", auth, pmufw)
	}
	fmt.Fprintf(&sb, "\t[destination_cpu=a53-0, bootloader%s, load=%#x, startup=%#x] %s\n",
		auth, x.fsblLoad, x.fsblLoad, fsbl)
	sb.WriteString("}\n")

	return sb.String()
}

// BuildSectionData runs bootgen on the children's data. The output is
// reused while that data does not change.
func (x *XilinxBootgen) BuildSectionData() ([]byte, error) {
	fsbl, err := x.Section.BuildSectionData()
	if err != nil {
		return nil, err
	}
	sum := hash.Fingerprint(fsbl)
	if x.output != nil && sum == x.inputHash {
		return x.output, nil
	}

	out, err := x.runBootgen(fsbl)
	if err != nil {
		return nil, err
	}
	x.inputHash, x.output = sum, out

	return out, nil
}

func (x *XilinxBootgen) runBootgen(fsbl []byte) ([]byte, error) {
	ctx := x.Context()
	tool := ctx.Bintool(bintool.Bootgen)
	if !tool.IsPresent() {
		if !x.AllowMissing() {
			return nil, x.Fail(errs.ErrMissingTool, "Missing tool: '%s'", bintool.Bootgen)
		}
		x.SetFake(bintool.Bootgen)

		return make([]byte, fakeToolOutputSize), nil
	}

	var pmufw, psk, ssk string
	var err error
	if x.pmufw != "" {
		if pmufw, err = x.inputFile(x.pmufw); err != nil {
			return nil, err
		}
	}
	if x.pskHint != "" {
		if psk, err = x.inputFile(x.pskHint + ".pem"); err != nil {
			return nil, err
		}
		if ssk, err = x.inputFile(x.sskHint + ".pem"); err != nil {
			return nil, err
		}
	}

	uniq := uniqueName(x.Path())
	fsblPath, err := ctx.WriteOutput(uniq+".fsbl.bin", fsbl)
	if err != nil {
		return nil, x.Errorf("%w", err)
	}
	bifPath, err := ctx.WriteOutput(uniq+".bif", []byte(x.Bif(fsblPath, pmufw, psk, ssk)))
	if err != nil {
		return nil, x.Errorf("%w", err)
	}
	outPath := ctx.OutputPath(uniq + ".bin")
	if err := bintool.RunBootgen(tool, bootgenArch, bifPath, outPath); err != nil {
		return nil, x.Errorf("%w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, x.Errorf("%w", err)
	}

	return out, nil
}

func (x *XilinxBootgen) inputFile(name string) (string, error) {
	path, err := x.Context().InputPath(name)
	if err != nil {
		return "", x.Fail(errs.ErrMissingBlob, "Filename '%s' not found in input path", name)
	}

	return path, nil
}

// CheckEntries has nothing to check; bootgen lays out the image.
func (x *XilinxBootgen) CheckEntries() error { return nil }

// ReadChildData is not supported.
func (x *XilinxBootgen) ReadChildData(child entry.Entry, _ bool) ([]byte, error) {
	return nil, child.EntryBase().Fail(errs.ErrNotSupported, "Cannot read entries inside a bootgen image")
}

// WriteChildData is not supported.
func (x *XilinxBootgen) WriteChildData(child entry.Entry) error {
	return child.EntryBase().Fail(errs.ErrNotSupported, "Cannot replace entries inside a bootgen image")
}
