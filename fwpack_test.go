package fwpack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/layout"
)

const testLayout = `
u-boot:
  type: text
  text: hello
pad:
  type: fill
  size: 3
section:
  tail:
    type: text
    text: tail
`

func buildTestImage(t *testing.T, doc string, opts ...entry.Option) (string, []*Result) {
	t.Helper()
	dir := t.TempDir()
	root, err := layout.ParseYAML([]byte(doc))
	require.NoError(t, err)

	all := append([]entry.Option{
		entry.WithBintools(bintool.NewRegistry()),
		entry.WithInputDirs(dir),
		entry.WithOutputDir(dir),
	}, opts...)
	results, err := Build(root, all...)
	require.NoError(t, err)

	return dir, results
}

func TestBuild(t *testing.T) {
	dir, results := buildTestImage(t, testLayout)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "image", res.Name)
	assert.Equal(t, filepath.Join(dir, "image.bin"), res.Path)
	assert.Equal(t, filepath.Join(dir, "image.map.cbor"), res.MapPath)
	assert.Equal(t, "hello\x00\x00\x00tail", string(res.Data))
	assert.Empty(t, res.Missing)
	assert.False(t, res.HasFakes)

	written, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, res.Data, written)

	text, err := os.ReadFile(filepath.Join(dir, "image.map"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "ImagePos    Offset      Size  Name\n")
	assert.Contains(t, string(text), "00000000  00000000  0000000c  image\n")
	assert.Contains(t, string(text), "00000008    00000008  00000004  section\n")
	assert.Contains(t, string(text), "00000008      00000000  00000004  tail\n")

	m, err := ReadMap(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "image", m.Name)
	assert.EqualValues(t, 12, m.Size)
	paths := make([]string, 0, len(m.Entries))
	for _, r := range m.Entries {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"", "u-boot", "pad", "section", "section/tail"}, paths)
}

func TestBuild_MultipleImages(t *testing.T) {
	dir, results := buildTestImage(t, `
multiple-images: true
first:
  a:
    type: text
    text: one
second:
  filename: two.rom
  b:
    type: text
    text: two
`)
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(dir, "first.bin"), results[0].Path)
	assert.Equal(t, filepath.Join(dir, "two.rom"), results[1].Path)
	assert.FileExists(t, filepath.Join(dir, "two.map"))
	assert.FileExists(t, filepath.Join(dir, "two.map.cbor"))

	got, err := Extract(results[1].Path, "b")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestBuild_Missing(t *testing.T) {
	_, results := buildTestImage(t, "tee-os:\n  size: 8\n", entry.WithAllowMissing(true))
	require.Len(t, results, 1)
	assert.Equal(t, []string{"/image/tee-os"}, results[0].Missing)
	assert.True(t, results[0].HasFakes)
	assert.Equal(t, make([]byte, 8), results[0].Data)
}

func TestBuild_EntryArgsKeptForUpdates(t *testing.T) {
	doc := `
u-boot:
  type: text
  text: boot
id:
  type: text
  text-label: board-id
`
	_, results := buildTestImage(t, doc, entry.WithEntryArgs(map[string]string{"board-id": "b7", "unused": "x"}))
	path := results[0].Path
	require.Equal(t, "bootb7", string(results[0].Data))

	m, err := ReadMap(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"board-id": "b7"}, m.EntryArgs)

	got, err := Extract(path, "id")
	require.NoError(t, err)
	assert.Equal(t, "b7", string(got))

	changed, err := Replace(path, "u-boot", []byte("BOOT"))
	require.NoError(t, err)
	require.True(t, changed)

	// The rewritten map still carries the argument.
	got, err = Extract(path, "id")
	require.NoError(t, err)
	assert.Equal(t, "b7", string(got))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "BOOTb7", string(written))
}

func TestBuildFile_JSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.jsonc")
	doc := `{
  // Boot loader first.
  "u-boot": {"type": "text", "text": "hi"},
  "fill": {"size": 2, "fill-byte": 255},
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	results, err := BuildFile(path, entry.WithBintools(bintool.NewRegistry()), entry.WithOutputDir(dir))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []byte("hi\xff\xff"), results[0].Data)

	_, err = BuildFile(filepath.Join(dir, "nothere.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractReplace(t *testing.T) {
	_, results := buildTestImage(t, testLayout)
	path := results[0].Path

	got, err := Extract(path, "section/tail")
	require.NoError(t, err)
	require.Equal(t, "tail", string(got))

	changed, err := Replace(path, "u-boot", []byte("HELLO"))
	require.NoError(t, err)
	require.True(t, changed)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "HELLO\x00\x00\x00tail", string(written))
	got, err = Extract(path, "u-boot")
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(got))

	changed, err = Replace(path, "u-boot", []byte("HELLO"))
	require.NoError(t, err)
	require.False(t, changed)

	_, err = Replace(path, "u-boot", []byte("hello world"))
	require.ErrorIs(t, err, errs.ErrSlotTooSmall)
	written, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "HELLO\x00\x00\x00tail", string(written))

	_, err = Extract(path, "nothere")
	require.ErrorIs(t, err, errs.ErrEntryNotFound)
}

func TestOpen_Errors(t *testing.T) {
	dir, results := buildTestImage(t, testLayout)

	_, err := Open(filepath.Join(dir, "nothere.bin"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(results[0].Path, []byte("short"), 0o644))
	_, err = Open(results[0].Path)
	require.ErrorIs(t, err, errs.ErrInvalidImageMap)

	require.NoError(t, os.Remove(results[0].MapPath))
	_, err = Open(results[0].Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMapPath(t *testing.T) {
	assert.Equal(t, "out/image.map.cbor", MapPath("out/image.bin"))
	assert.Equal(t, "out/image.map", TextMapPath("out/image.bin"))
	assert.Equal(t, "rom.map.cbor", MapPath("rom"))
}
