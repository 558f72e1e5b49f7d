package bintool

import (
	"fmt"
)

// MkimageOptions controls a FIT build by mkimage.
type MkimageOptions struct {
	// External places image data after the FDT instead of inside it.
	External bool
	// Pad is the external data offset, used with External.
	Pad uint64
	// Align is the alignment of each external data block.
	Align uint64
	// ResetTimestamp makes the output reproducible.
	ResetTimestamp bool
	// KeysDir is searched for signing and encryption keys.
	KeysDir string
	// Output is the FIT description, rewritten in place.
	Output string
}

// Args returns the mkimage command line.
func (o MkimageOptions) Args() []string {
	var args []string
	if o.External {
		args = append(args, "-E")
	}
	if o.Pad != 0 {
		args = append(args, "-p", fmt.Sprintf("%x", o.Pad))
	}
	if o.Align != 0 {
		args = append(args, "-B", fmt.Sprintf("%x", o.Align))
	}
	if o.ResetTimestamp {
		args = append(args, "-t")
	}
	if o.KeysDir != "" {
		args = append(args, "-k", o.KeysDir)
	}

	return append(args, "-F", o.Output)
}

// RunMkimage runs mkimage on an FDT description file.
func RunMkimage(t Tool, opts MkimageOptions) error {
	_, err := t.Run(opts.Args()...)
	return err
}

var phaseTags = map[string]string{
	"tpl": "bootph-pre-sram",
	"vpl": "bootph-verify",
	"spl": "bootph-pre-ram",
}

// FdtgrepPhaseArgs returns the fdtgrep command line that keeps only the nodes
// tagged for a boot phase and drops removeProps.
func FdtgrepPhaseArgs(infile, phase, outfile string, removeProps []string) ([]string, error) {
	tag, ok := phaseTags[phase]
	if !ok {
		return nil, fmt.Errorf("unknown boot phase '%s'", phase)
	}

	args := []string{
		"-b", "bootph-all", "-b", tag,
		"-u", "-RT", "-n", "/chosen", "-n", "/config",
		"-O", "dtb", "-o", outfile,
	}
	for _, prop := range removeProps {
		args = append(args, "-N", prop)
	}

	return append(args, infile), nil
}

// RunFdtgrepPhase produces outfile, the phase-specific subset of infile.
func RunFdtgrepPhase(t Tool, infile, phase, outfile string, removeProps []string) error {
	args, err := FdtgrepPhaseArgs(infile, phase, outfile, removeProps)
	if err != nil {
		return err
	}
	_, err = t.Run(args...)

	return err
}

// OpensslX509Args returns the command line that self-signs certFile with
// keyFile using the request description in configFile.
func OpensslX509Args(keyFile, configFile, certFile string) []string {
	return []string{
		"req", "-new", "-x509", "-key", keyFile, "-nodes",
		"-outform", "DER", "-out", certFile, "-config", configFile, "-sha512",
	}
}

// RunOpensslX509 writes a DER certificate to certFile.
func RunOpensslX509(t Tool, keyFile, configFile, certFile string) error {
	_, err := t.Run(OpensslX509Args(keyFile, configFile, certFile)...)
	return err
}

// BootgenArgs returns the command line that builds outFile from a .bif file.
func BootgenArgs(arch, bifFile, outFile string) []string {
	return []string{"-arch", arch, "-image", bifFile, "-w", "-o", outFile}
}

// RunBootgen builds a boot image from a .bif description.
func RunBootgen(t Tool, arch, bifFile, outFile string) error {
	_, err := t.Run(BootgenArgs(arch, bifFile, outFile)...)
	return err
}
