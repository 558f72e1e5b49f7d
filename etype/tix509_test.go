package etype

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
)

const x509Layout = `
ti-x509-cert:
  load: 0x41c00000
  sw-rev: 3
  content:
    type: text
    text: signed payload
`

// fakeOpenssl writes a numbered 16-byte certificate on each run and keeps
// the last request description.
type fakeOpenssl struct {
	*bintool.Func

	runs   int
	cert   []byte
	config string
}

func newFakeOpenssl(t *testing.T) *fakeOpenssl {
	f := &fakeOpenssl{}
	f.Func = &bintool.Func{
		ToolName: bintool.Openssl,
		Fn: func(args []string) ([]byte, error) {
			cfg, err := os.ReadFile(flagValue(t, args, "-config"))
			if err != nil {
				return nil, err
			}
			f.runs++
			f.config = string(cfg)
			f.cert = []byte(fmt.Sprintf("cert%012d", f.runs))

			return nil, os.WriteFile(flagValue(t, args, "-out"), f.cert, 0o644)
		},
	}

	return f
}

func sha512Hex(data string) string {
	sum := sha512.Sum512([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestTIX509Cert_Build(t *testing.T) {
	openssl := newFakeOpenssl(t)
	env := newTestEnv(t, openssl)
	keyPath := env.input("custMpk.pem", []byte("key"))

	img, data, err := env.build(x509Layout)
	require.NoError(t, err)
	require.Equal(t, string(openssl.cert)+"signed payload", string(data))

	args := openssl.Calls()[len(openssl.Calls())-1]
	assert.Equal(t, []string{"req", "-new", "-x509"}, args[:3])
	assert.Equal(t, keyPath, flagValue(t, args, "-key"))
	assert.Equal(t, "DER", flagValue(t, args, "-outform"))
	assert.Equal(t, filepath.Join(env.outDir, "image.ti-x509-cert.cert"), flagValue(t, args, "-out"))

	for _, line := range []string{
		"swrv = INTEGER:3\n",
		"shaValue = FORMAT:HEX,OCT:" + sha512Hex("signed payload") + "\n",
		"imageSize = INTEGER:14\n",
		"destAddr = FORMAT:HEX,OCT:41c00000\n",
		"authInPlace = INTEGER:2\n",
	} {
		assert.Contains(t, openssl.config, line)
	}

	content := findBase(t, img, "ti-x509-cert/content")
	assert.EqualValues(t, 16, content.ImagePos())

	got, err := img.ReadEntryData("ti-x509-cert/content", false)
	require.NoError(t, err)
	require.Equal(t, "signed payload", string(got))
}

func TestTIX509Cert_Replace(t *testing.T) {
	openssl := newFakeOpenssl(t)
	env := newTestEnv(t, openssl)
	env.input("custMpk.pem", []byte("key"))

	img, data, err := env.build(x509Layout)
	require.NoError(t, err)
	runs := openssl.runs

	changed, err := img.ReplaceEntry("ti-x509-cert/content", []byte("SIGNED payload"))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, runs+1, openssl.runs, "signed again")
	require.Contains(t, openssl.config, sha512Hex("SIGNED payload"))

	require.Equal(t, string(openssl.cert)+"SIGNED payload", string(img.Bytes()))
	require.NotEqual(t, data[:16], img.Bytes()[:16])

	got, err := img.ReadEntryData("ti-x509-cert/content", false)
	require.NoError(t, err)
	require.Equal(t, "SIGNED payload", string(got))
}

func TestTIX509Cert_Missing(t *testing.T) {
	t.Run("openssl allowed missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.input("custMpk.pem", []byte("key"))

		img, data, err := env.build(x509Layout, entry.WithAllowMissing(true))
		require.NoError(t, err)
		require.Equal(t, append(make([]byte, 1024), "signed payload"...), data)
		require.True(t, img.HasFakes())
		require.EqualValues(t, 1024, findBase(t, img, "ti-x509-cert/content").ImagePos())
	})

	t.Run("openssl missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.input("custMpk.pem", []byte("key"))

		_, _, err := env.build(x509Layout)
		require.ErrorIs(t, err, errs.ErrMissingTool)
		require.EqualError(t, err, "Node '/image/ti-x509-cert': Missing tool: 'openssl'")
	})

	t.Run("key missing", func(t *testing.T) {
		_, _, err := newTestEnv(t, newFakeOpenssl(t)).build(x509Layout)
		require.ErrorIs(t, err, errs.ErrMissingBlob)
		require.EqualError(t, err, "Node '/image/ti-x509-cert': Filename 'custMpk.pem' not found in input path")
	})

	t.Run("key from entry argument", func(t *testing.T) {
		openssl := newFakeOpenssl(t)
		env := newTestEnv(t, openssl)
		keyPath := env.input("keys/board.pem", []byte("key"))

		_, _, err := env.build(x509Layout, entry.WithEntryArgs(map[string]string{"keyfile": "keys/board.pem"}))
		require.NoError(t, err)
		calls := openssl.Calls()
		require.NotEmpty(t, calls)
		require.Equal(t, keyPath, flagValue(t, calls[len(calls)-1], "-key"))
	})
}
