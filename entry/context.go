package entry

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/errs"
	"github.com/arloliu/fwpack/internal/options"
	"github.com/arloliu/fwpack/layout"
)

// Context holds everything one build needs: the entry arena, the type and
// tool registries and the input/output locations. A Context belongs to a
// single build and is not safe for concurrent use.
type Context struct {
	registry     *Registry
	bintools     *bintool.Registry
	inputDirs    []string
	outputDir    string
	entryArgs    map[string]string
	usedArgs     map[string]string
	allowMissing bool
	fakeMissing  bool
	logger       *slog.Logger

	nodes []Entry
}

// Option configures a Context.
type Option = options.Option[*Context]

// NewContext creates a build context. Without options it knows only the
// section type, searches the working directory for inputs and writes
// outputs there.
func NewContext(opts ...Option) (*Context, error) {
	c := &Context{
		registry:  NewRegistry(),
		bintools:  bintool.NewRegistry(),
		outputDir: ".",
		entryArgs: make(map[string]string),
		usedArgs:  make(map[string]string),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}

	return c, nil
}

// WithRegistry sets the entry type registry.
func WithRegistry(r *Registry) Option {
	return options.New(func(c *Context) error {
		if r == nil {
			return errors.New("entry registry must not be nil")
		}
		c.registry = r

		return nil
	})
}

// WithBintools sets the external tool registry.
func WithBintools(r *bintool.Registry) Option {
	return options.NoError(func(c *Context) {
		c.bintools = r
	})
}

// WithInputDirs sets the directories searched, in order, for input files.
func WithInputDirs(dirs ...string) Option {
	return options.NoError(func(c *Context) {
		c.inputDirs = append(c.inputDirs, dirs...)
	})
}

// WithOutputDir sets where intermediate and final files are written.
func WithOutputDir(dir string) Option {
	return options.NoError(func(c *Context) {
		c.outputDir = dir
	})
}

// WithEntryArgs adds named values that entries may read in place of
// properties.
func WithEntryArgs(args map[string]string) Option {
	return options.NoError(func(c *Context) {
		for k, v := range args {
			c.entryArgs[k] = v
		}
	})
}

// WithAllowMissing lets external blobs and tools be absent. Missing
// contents are replaced by placeholders and the image is marked as
// containing fakes.
func WithAllowMissing(allow bool) Option {
	return options.NoError(func(c *Context) {
		c.allowMissing = allow
	})
}

// WithFakeMissing writes placeholder files for missing external blobs into
// the output directory so later steps can find them.
func WithFakeMissing(fake bool) Option {
	return options.NoError(func(c *Context) {
		c.fakeMissing = fake
	})
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return options.NoError(func(c *Context) {
		if l != nil {
			c.logger = l
		}
	})
}

// Logger returns the build logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Registry returns the entry type registry.
func (c *Context) Registry() *Registry { return c.registry }

// Bintool returns the named external tool. Unknown tools are reported as
// not present.
func (c *Context) Bintool(name string) bintool.Tool {
	return c.bintools.Get(name)
}

// AllowMissing reports whether missing external contents are tolerated.
func (c *Context) AllowMissing() bool { return c.allowMissing }

// FakeMissing reports whether placeholder files are written for missing
// external blobs.
func (c *Context) FakeMissing() bool { return c.fakeMissing }

// EntryArg returns a named entry argument. Arguments read during a build
// are recorded in the image map.
func (c *Context) EntryArg(name string) (string, bool) {
	v, ok := c.entryArgs[name]
	if ok {
		c.usedArgs[name] = v
	}

	return v, ok
}

// Node returns the entry with the given arena id.
func (c *Context) Node(id int) Entry {
	if id < 0 || id >= len(c.nodes) {
		return nil
	}

	return c.nodes[id]
}

func (c *Context) add(e Entry) int {
	c.nodes = append(c.nodes, e)
	return len(c.nodes) - 1
}

// InputPath finds the file name in the input directories. Absolute paths
// and, when no input directories are set, relative paths are used as given.
func (c *Context) InputPath(name string) (string, error) {
	return c.findInput(name, false)
}

// InputDir is InputPath for a directory.
func (c *Context) InputDir(name string) (string, error) {
	return c.findInput(name, true)
}

func (c *Context) findInput(name string, wantDir bool) (string, error) {
	if filepath.IsAbs(name) || len(c.inputDirs) == 0 {
		if info, err := os.Stat(name); err != nil || info.IsDir() != wantDir {
			return "", fmt.Errorf("%w: '%s'", fs.ErrNotExist, name)
		}

		return name, nil
	}

	for _, dir := range c.inputDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() == wantDir {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: '%s' in %s", fs.ErrNotExist, name, strings.Join(c.inputDirs, ", "))
}

// ReadInput reads an input file found by InputPath.
func (c *Context) ReadInput(name string) ([]byte, error) {
	path, err := c.InputPath(name)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// OutputPath returns the path of an output file.
func (c *Context) OutputPath(name string) string {
	return filepath.Join(c.outputDir, name)
}

// WriteOutput writes an output file, creating the output directory.
func (c *Context) WriteOutput(name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", err
	}
	path := c.OutputPath(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	return path, nil
}

// Constructor creates an uninitialised entry of one type.
type Constructor func() Entry

// Registry maps entry type names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry creates a registry that knows the section type.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register("section", func() Entry { return &Section{} })

	return r
}

// Register adds or replaces the constructor for etype.
func (r *Registry) Register(etype string, ctor Constructor) {
	r.ctors[etype] = ctor
}

// Lookup returns the constructor for etype.
func (r *Registry) Lookup(etype string) (Constructor, bool) {
	ctor, ok := r.ctors[etype]
	return ctor, ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

// NewEntry creates the entry described by node as a child of parent and
// reads its properties. The type comes from the node.
func NewEntry(c *Context, parent int, node *layout.Node) (Entry, error) {
	etype, err := node.EntryType()
	if err != nil {
		return nil, &NodeError{Path: node.Path(), Err: err}
	}

	return NewEntryAs(c, parent, node, etype)
}

// NewEntryAs is NewEntry with the type given by the caller, for nodes whose
// `type` property means something else to their parent.
func NewEntryAs(c *Context, parent int, node *layout.Node, etype string) (Entry, error) {
	ctor, ok := c.registry.Lookup(etype)
	if !ok {
		return nil, &NodeError{
			Path: node.Path(),
			Err:  fmt.Errorf("%w: '%s'", errs.ErrUnknownEntryType, etype),
		}
	}

	e := ctor()
	b := e.EntryBase()
	b.init(c, c.add(e), parent, node, etype)
	if err := e.ReadNode(); err != nil {
		return nil, b.wrap(err)
	}

	return e, nil
}
