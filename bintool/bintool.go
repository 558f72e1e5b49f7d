// Package bintool wraps the external programs an image build shells out to.
//
// Tools are looked up by name in an explicit Registry that the caller builds
// and hands to the entry context. Nothing is registered globally, so two
// builds in one process never share tool state, and tests substitute Func
// fakes for the real programs.
package bintool

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arloliu/fwpack/errs"
)

// Well-known tool names.
const (
	Mkimage = "mkimage"
	Fdtgrep = "fdtgrep"
	Openssl = "openssl"
	Bootgen = "bootgen"
)

// Tool is an external program.
type Tool interface {
	Name() string
	IsPresent() bool
	// Run executes the tool and returns its standard output. A tool that is
	// not present fails with errs.ErrMissingTool.
	Run(args ...string) ([]byte, error)
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}

	return r
}

// NewDefaultRegistry registers an Exec tool for every well-known name,
// searching toolDirs before PATH.
func NewDefaultRegistry(toolDirs ...string) *Registry {
	return NewRegistry(
		NewExec(Mkimage, toolDirs...),
		NewExec(Fdtgrep, toolDirs...),
		NewExec(Openssl, toolDirs...),
		NewExec(Bootgen, toolDirs...),
	)
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[t.Name()] = t
}

// Get returns the named tool. Unknown names yield a tool that is never
// present, so callers handle "not registered" and "not installed" alike.
func (r *Registry) Get(name string) Tool {
	if r != nil {
		r.mu.RLock()
		t, ok := r.tools[name]
		r.mu.RUnlock()
		if ok {
			return t
		}
	}

	return missing(name)
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

type missing string

func (m missing) Name() string    { return string(m) }
func (m missing) IsPresent() bool { return false }

func (m missing) Run(...string) ([]byte, error) {
	return nil, fmt.Errorf("%w: '%s'", errs.ErrMissingTool, string(m))
}

// Exec runs a program found in a tool directory or on PATH.
type Exec struct {
	name string
	dirs []string

	once sync.Once
	path string
}

// NewExec creates a tool for the program called name.
func NewExec(name string, toolDirs ...string) *Exec {
	return &Exec{name: name, dirs: toolDirs}
}

func (e *Exec) Name() string { return e.name }

func (e *Exec) IsPresent() bool {
	return e.resolve() != ""
}

func (e *Exec) Run(args ...string) ([]byte, error) {
	path := e.resolve()
	if path == "" {
		return nil, fmt.Errorf("%w: '%s'", errs.ErrMissingTool, e.name)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s %s: %w: %s", e.name, strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func (e *Exec) resolve() string {
	e.once.Do(func() {
		for _, dir := range e.dirs {
			candidate := filepath.Join(dir, e.name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
				e.path = candidate
				return
			}
		}
		if p, err := exec.LookPath(e.name); err == nil {
			e.path = p
		}
	})

	return e.path
}

// Func is a tool backed by a Go function, for tests and in-process tools.
type Func struct {
	ToolName string
	Missing  bool
	Fn       func(args []string) ([]byte, error)

	mu    sync.Mutex
	calls [][]string
}

func (f *Func) Name() string    { return f.ToolName }
func (f *Func) IsPresent() bool { return !f.Missing }

func (f *Func) Run(args ...string) ([]byte, error) {
	if f.Missing {
		return nil, fmt.Errorf("%w: '%s'", errs.ErrMissingTool, f.ToolName)
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if f.Fn == nil {
		return nil, nil
	}

	return f.Fn(args)
}

// Calls returns the argument lists of every Run so far.
func (f *Func) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]string(nil), f.calls...)
}
