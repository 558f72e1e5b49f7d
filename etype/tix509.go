package etype

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/hash"
)

const tiX509Template = `[ req ]
distinguished_name     = req_distinguished_name
x509_extensions        = v3_ca
prompt                 = no
dirstring_type         = nobmp

[ req_distinguished_name ]
C                      = US
ST                     = TX
L                      = Dallas
O                      = Texas Instruments Incorporated
OU                     = Processors
CN                     = TI Support
emailAddress           = support@ti.com

[ v3_ca ]
basicConstraints = CA:true
1.3.6.1.4.1.294.1.3 = ASN1:SEQUENCE:swrv
1.3.6.1.4.1.294.1.34 = ASN1:SEQUENCE:sysfw_image_integrity
1.3.6.1.4.1.294.1.35 = ASN1:SEQUENCE:sysfw_image_load

[ swrv ]
swrv = INTEGER:%d

[ sysfw_image_integrity ]
shaType = OID:2.16.840.1.101.3.4.2.3
shaValue = FORMAT:HEX,OCT:%s
imageSize = INTEGER:%d

[ sysfw_image_load ]
destAddr = FORMAT:HEX,OCT:%08x
authInPlace = INTEGER:%d
`

// TIX509Cert is a TI K3 signed image: an X.509 certificate made by openssl
// followed by the payload, which is the section's children laid out as in
// a plain section.
//
// The certificate carries the SHA-512 and size of the payload, the `load`
// address, `sw-rev` and the image type in `auth-in-place`. It is signed
// with `keyfile`, an entry argument or property.
type TIX509Cert struct {
	entry.Section

	keyfile     string
	load        uint64
	swRev       uint64
	authInPlace uint64

	certLen     uint64
	payloadHash uint64
	cert        []byte
}

func (x *TIX509Cert) ReadNode() error {
	if err := x.ReadSectionProps(); err != nil {
		return err
	}

	node := x.Node()
	keyfile, ok, err := x.EntryArg("keyfile")
	if err != nil {
		return err
	}
	if !ok || keyfile == "" {
		keyfile = "custMpk.pem"
	}
	x.keyfile = keyfile

	if x.load, err = node.GetInt("load", 0); err != nil {
		return err
	}
	if x.swRev, err = node.GetInt("sw-rev", 1); err != nil {
		return err
	}
	if x.authInPlace, err = node.GetInt("auth-in-place", 2); err != nil {
		return err
	}

	return x.ReadEntries()
}

// Config returns the openssl request description for payload.
func (x *TIX509Cert) Config(payload []byte) string {
	sum := sha512.Sum512(payload)
	return fmt.Sprintf(tiX509Template, x.swRev, hex.EncodeToString(sum[:]), len(payload), x.load, x.authInPlace)
}

// BuildSectionData returns the certificate followed by the payload.
func (x *TIX509Cert) BuildSectionData() ([]byte, error) {
	payload, err := x.Section.BuildSectionData()
	if err != nil {
		return nil, err
	}
	cert, err := x.certificate(payload)
	if err != nil {
		return nil, err
	}
	x.certLen = uint64(len(cert))

	return append(cert, payload...), nil
}

// certificate signs payload. The certificate is reused while the payload
// does not change, since openssl picks a new serial number every run.
func (x *TIX509Cert) certificate(payload []byte) ([]byte, error) {
	sum := hash.FingerprintParts(payload, []byte(x.keyfile))
	if x.cert != nil && sum == x.payloadHash {
		return x.cert, nil
	}

	ctx := x.Context()
	tool := ctx.Bintool(bintool.Openssl)
	keyPath, keyErr := ctx.InputPath(x.keyfile)
	if !tool.IsPresent() || keyErr != nil {
		missing := bintool.Openssl
		if keyErr != nil {
			missing = x.keyfile
		}
		if !x.AllowMissing() {
			if keyErr != nil {
				return nil, x.Fail(errs.ErrMissingBlob, "Filename '%s' not found in input path", x.keyfile)
			}
			return nil, x.Fail(errs.ErrMissingTool, "Missing tool: '%s'", bintool.Openssl)
		}
		x.SetFake(missing)
		x.cert, x.payloadHash = make([]byte, fakeToolOutputSize), sum

		return x.cert, nil
	}

	uniq := uniqueName(x.Path())
	cfgPath, err := ctx.WriteOutput(uniq+".config", []byte(x.Config(payload)))
	if err != nil {
		return nil, x.Errorf("%w", err)
	}
	certPath := ctx.OutputPath(uniq + ".cert")
	if err := bintool.RunOpensslX509(tool, keyPath, cfgPath, certPath); err != nil {
		return nil, x.Errorf("%w", err)
	}
	cert, err := os.ReadFile(certPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, x.Fail(errs.ErrMissingBlob, "openssl did not write '%s'", certPath)
	}
	if err != nil {
		return nil, x.Errorf("%w", err)
	}
	x.cert, x.payloadHash = cert, sum

	return cert, nil
}

// SetImagePos places the children after the certificate.
func (x *TIX509Cert) SetImagePos(base uint64) {
	x.Base.SetImagePos(base)
	for _, child := range x.Children() {
		child.SetImagePos(x.ContentsPos() + x.certLen - x.SkipAtStart())
	}
}

// ReadChildData extracts a child from the payload. The certificate length
// is recovered from the child's position, so this also works on a loaded
// image.
func (x *TIX509Cert) ReadChildData(child entry.Entry, decomp bool) ([]byte, error) {
	contents, err := entry.ReadData(x, true)
	if err != nil {
		return nil, err
	}

	cb := child.EntryBase()
	rel := cb.Offset() - x.SkipAtStart()
	certLen := cb.ImagePos() - x.ContentsPos() - rel
	start := certLen + rel + cb.PadBefore()
	n := cb.ContentsSize()
	if _, ok := child.(interface{ AsSection() *entry.Section }); ok {
		n = cb.Size() - min(cb.Size(), cb.PadBefore()+cb.PadAfter())
	}
	if start+n > uint64(len(contents)) {
		return nil, cb.Fail(errs.ErrInvalidImageMap,
			"data at %#x size %#x lies outside the signed image (%#x bytes)", start, n, len(contents))
	}
	data := contents[start : start+n]
	if decomp {
		return cb.Decompress(data)
	}

	return data, nil
}

// WriteChildData signs the payload again with the child's new data.
func (x *TIX509Cert) WriteChildData(child entry.Entry) error {
	data, err := x.BuildSectionData()
	if err != nil {
		return err
	}

	return x.ReplaceData(data)
}
