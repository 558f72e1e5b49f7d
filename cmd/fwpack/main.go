// fwpack builds firmware images from a layout description, and lists,
// extracts from or updates images it has built.
//
// Logs go to stderr. Set FWPACK_DEBUG to any value for debug logs.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/arloliu/fwpack"
	"github.com/arloliu/fwpack/bintool"
	"github.com/arloliu/fwpack/entry"
)

// exitMissing is the exit status of a build that succeeded only because
// missing blobs or tools were replaced by placeholders.
const exitMissing = 103

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdout, newLogger()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("FWPACK_DEBUG") != "" {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(args []string, stdout io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errors.New("no command given")
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "build":
		err = runBuild(rest, logger)
	case "ls":
		err = runList(rest, stdout)
	case "extract":
		err = runExtract(rest, stdout, logger)
	case "replace":
		err = runReplace(rest, logger)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command '%s'", cmd)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}

	return err
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `fwpack builds firmware images from a layout description.

Usage:
  fwpack build -l layout.yaml [-I dir]... [-O outdir] [-a name=value]... [-m] [-M]
  fwpack ls -i image.bin
  fwpack extract -i image.bin <entry-path> [-f out]
  fwpack replace -i image.bin <entry-path> -f in

Entry paths are relative to the image, as printed by 'fwpack ls'.
Run 'fwpack <command> -h' for the flags of a command.
`)
}

func runBuild(args []string, logger *slog.Logger) error {
	flagSet := pflag.NewFlagSet("fwpack build", pflag.ContinueOnError)
	layoutPath := flagSet.StringP("layout", "l", "", "layout description (.yaml, .json or .jsonc)")
	inDirs := flagSet.StringArrayP("indir", "I", nil, "directory to search for input files (repeatable)")
	outDir := flagSet.StringP("outdir", "O", ".", "directory for the images, maps and intermediate files")
	entryArgs := flagSet.StringArrayP("entry-arg", "a", nil, "entry argument as name=value (repeatable)")
	allowMissing := flagSet.BoolP("allow-missing", "m", false, "use placeholders for missing external blobs and tools")
	fakeMissing := flagSet.BoolP("fake-missing", "M", false, "like -m, and write each placeholder blob to the output directory")
	toolPaths := flagSet.StringArray("toolpath", nil, "directory to search for external tools before PATH (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *layoutPath == "" {
		return errors.New("build: -l/--layout is required")
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("build: unexpected argument: %s", flagSet.Arg(0))
	}

	argMap, err := parseEntryArgs(*entryArgs)
	if err != nil {
		return err
	}

	results, err := fwpack.BuildFile(*layoutPath,
		entry.WithBintools(bintool.NewDefaultRegistry(*toolPaths...)),
		entry.WithInputDirs(*inDirs...),
		entry.WithOutputDir(*outDir),
		entry.WithEntryArgs(argMap),
		entry.WithAllowMissing(*allowMissing || *fakeMissing),
		entry.WithFakeMissing(*fakeMissing),
		entry.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var missing []string
	for _, res := range results {
		missing = append(missing, res.Missing...)
	}
	if len(missing) > 0 {
		return &exitError{
			code: exitMissing,
			err:  fmt.Errorf("images are not functional, missing: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}

// parseEntryArgs turns name=value pairs into a map. A later pair wins.
func parseEntryArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid entry argument '%s', expected name=value", pair)
		}
		out[name] = value
	}

	return out, nil
}

func runList(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("fwpack ls", pflag.ContinueOnError)
	image := flagSet.StringP("image", "i", "", "image file written by 'fwpack build'")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *image == "" {
		return errors.New("ls: -i/--image is required")
	}

	m, err := fwpack.ReadMap(*image)
	if err != nil {
		return err
	}

	return m.WriteText(stdout)
}

func runExtract(args []string, stdout io.Writer, logger *slog.Logger) error {
	flagSet := pflag.NewFlagSet("fwpack extract", pflag.ContinueOnError)
	image := flagSet.StringP("image", "i", "", "image file written by 'fwpack build'")
	out := flagSet.StringP("filename", "f", "", "file to write the entry data to (default: stdout)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *image == "" || flagSet.NArg() != 1 {
		return errors.New("extract: need -i/--image and one entry path")
	}

	data, err := fwpack.Extract(*image, flagSet.Arg(0), entry.WithLogger(logger))
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	logger.Info("entry extracted", "path", flagSet.Arg(0), "file", *out, "size", len(data))

	return nil
}

func runReplace(args []string, logger *slog.Logger) error {
	flagSet := pflag.NewFlagSet("fwpack replace", pflag.ContinueOnError)
	image := flagSet.StringP("image", "i", "", "image file written by 'fwpack build'")
	in := flagSet.StringP("filename", "f", "", "file holding the new entry data")
	toolPaths := flagSet.StringArray("toolpath", nil, "directory to search for external tools before PATH (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *image == "" || *in == "" || flagSet.NArg() != 1 {
		return errors.New("replace: need -i/--image, -f/--filename and one entry path")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	changed, err := fwpack.Replace(*image, flagSet.Arg(0), data,
		entry.WithBintools(bintool.NewDefaultRegistry(*toolPaths...)),
		entry.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if !changed {
		logger.Info("entry unchanged", "path", flagSet.Arg(0))
		return nil
	}
	logger.Info("entry replaced", "path", flagSet.Arg(0), "image", *image, "size", len(data))

	return nil
}
