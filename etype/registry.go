package etype

import (
	"github.com/arloliu/fwpack/entry"
)

// NewRegistry returns a registry holding every entry type.
func NewRegistry() *entry.Registry {
	r := entry.NewRegistry()

	r.Register("blob", func() entry.Entry { return newBlob("", "", "", false) })
	r.Register("blob-ext", func() entry.Entry { return newBlob("", "", "", true) })
	for _, blobs := range [][]namedBlob{ubootBlobs, firmwareBlobs} {
		for _, nb := range blobs {
			r.Register(nb.etype, func() entry.Entry { return nb.newEntry() })
		}
	}

	r.Register("fill", func() entry.Entry { return &Fill{} })
	r.Register("text", func() entry.Entry { return &Text{} })
	r.Register("collection", func() entry.Entry { return &Collection{} })

	r.Register("atf-fip", func() entry.Entry { return &FIP{} })
	r.Register("cbfs", func() entry.Entry { return &CBFS{} })
	r.Register("fit", func() entry.Entry { return &FIT{} })
	r.Register("ti-board-config", func() entry.Entry { return &TIBoardConfig{} })
	r.Register("ti-x509-cert", func() entry.Entry { return &TIX509Cert{} })
	r.Register("xilinx-bootgen", func() entry.Entry { return &XilinxBootgen{} })

	return r
}
