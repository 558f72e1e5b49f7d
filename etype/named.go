package etype

// namedBlob describes a blob type that has a default input file.
type namedBlob struct {
	etype    string
	filename string
	elf      string
	// pathArg is the entry argument that overrides filename.
	pathArg  string
	external bool
}

// ubootBlobs are the U-Boot build outputs. Those with an ELF file patch
// layout references.
var ubootBlobs = []namedBlob{
	{etype: "u-boot", filename: "u-boot.bin", elf: "u-boot"},
	{etype: "u-boot-nodtb", filename: "u-boot-nodtb.bin", elf: "u-boot"},
	{etype: "u-boot-dtb", filename: "u-boot.dtb"},
	{etype: "u-boot-img", filename: "u-boot.img"},
	{etype: "u-boot-spl", filename: "spl/u-boot-spl.bin", elf: "spl/u-boot-spl"},
	{etype: "u-boot-spl-nodtb", filename: "spl/u-boot-spl-nodtb.bin", elf: "spl/u-boot-spl"},
	{etype: "u-boot-spl-dtb", filename: "spl/u-boot-spl.dtb"},
	{etype: "u-boot-tpl", filename: "tpl/u-boot-tpl.bin", elf: "tpl/u-boot-tpl"},
	{etype: "u-boot-tpl-nodtb", filename: "tpl/u-boot-tpl-nodtb.bin", elf: "tpl/u-boot-tpl"},
}

// firmwareBlobs are built outside U-Boot and may be missing.
var firmwareBlobs = []namedBlob{
	{etype: "atf-bl31", filename: "bl31.bin", pathArg: "atf-bl31-path", external: true},
	{etype: "tee-os", filename: "tee.bin", pathArg: "tee-os-path", external: true},
	{etype: "scp", filename: "scp.bin", pathArg: "scp-path", external: true},
	{etype: "opensbi", filename: "fw_dynamic.bin", pathArg: "opensbi-path", external: true},
	{etype: "ti-dm", filename: "ti-dm.bin", pathArg: "ti-dm-path", external: true},
	{etype: "pmufw", filename: "pmufw.bin", pathArg: "pmufw-path", external: true},
}

func (n namedBlob) newEntry() *Blob {
	return newBlob(n.filename, n.elf, n.pathArg, n.external)
}
