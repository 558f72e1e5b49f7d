package etype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/layout"
)

// testEnv is a build with its own input and output directories.
type testEnv struct {
	t      *testing.T
	inDir  string
	outDir string
	tools  *bintool.Registry
}

func newTestEnv(t *testing.T, tools ...bintool.Tool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	return &testEnv{
		t:      t,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
		tools:  bintool.NewRegistry(tools...),
	}
}

// input writes an input file and returns its path.
func (e *testEnv) input(name string, data []byte) string {
	e.t.Helper()
	path := filepath.Join(e.inDir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, data, 0o644))

	return path
}

func (e *testEnv) context(opts ...entry.Option) *entry.Context {
	e.t.Helper()
	base := []entry.Option{
		entry.WithRegistry(NewRegistry()),
		entry.WithBintools(e.tools),
		entry.WithInputDirs(e.inDir),
		entry.WithOutputDir(e.outDir),
	}
	c, err := entry.NewContext(append(base, opts...)...)
	require.NoError(e.t, err)

	return c
}

func (e *testEnv) image(doc string, opts ...entry.Option) (*entry.Image, error) {
	e.t.Helper()
	root, err := layout.ParseYAML([]byte(doc))
	require.NoError(e.t, err)

	return entry.NewImage(e.context(opts...), root)
}

func (e *testEnv) build(doc string, opts ...entry.Option) (*entry.Image, []byte, error) {
	e.t.Helper()
	img, err := e.image(doc, opts...)
	if err != nil {
		return nil, nil, err
	}
	data, err := img.Build()

	return img, data, err
}

func findEntry(t *testing.T, img *entry.Image, path string) entry.Entry {
	t.Helper()
	e, err := img.FindEntry(path)
	require.NoError(t, err)

	return e
}

func findBase(t *testing.T, img *entry.Image, path string) *entry.Base {
	t.Helper()
	return findEntry(t, img, path).EntryBase()
}

// flagValue returns the argument after flag.
func flagValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	require.Failf(t, "flag not found", "%s not in %v", flag, args)

	return ""
}

func TestNewRegistry(t *testing.T) {
	types := NewRegistry().Types()
	for _, want := range []string{
		"section", "blob", "blob-ext", "fill", "text", "collection",
		"u-boot", "u-boot-spl", "u-boot-tpl-nodtb", "atf-bl31", "tee-os", "pmufw",
		"atf-fip", "cbfs", "fit", "ti-board-config", "ti-x509-cert", "xilinx-bootgen",
	} {
		require.Contains(t, types, want)
	}
}

func TestUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.image("widget:\n  size: 4\n")
	require.ErrorIs(t, err, errs.ErrUnknownEntryType)
	require.EqualError(t, err, "Node '/image/widget': unknown entry type: 'widget'")
}
