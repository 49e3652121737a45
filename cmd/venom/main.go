// venom CLI - compiles and runs venom programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/venom/cache"
	"github.com/chazu/venom/compiler"
	"github.com/chazu/venom/manifest"
	"github.com/chazu/venom/server"
	"github.com/chazu/venom/vm"
)

const version = "0.1.0"

var log = commonlog.GetLogger("venom")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds the effective settings after merging venom.toml and flags.
type options struct {
	cfg *manifest.Manifest

	debug     bool
	trace     bool
	disasm    bool
	output    string
	image     bool
	cachePath string
	lsp       bool
	serve     bool
	verbosity int
	path      string
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, code := parseArgs(args, stderr)
	if opts == nil {
		return code
	}

	var logFile *string
	if f := opts.cfg.LogFile(); f != "" {
		logFile = &f
	}
	commonlog.Configure(opts.verbosity, logFile)

	switch {
	case opts.lsp:
		if err := server.NewLSP(version).Run(); err != nil {
			fmt.Fprintf(stderr, "lsp error: %v\n", err)
			return server.ExitIOError
		}
		return server.ExitOK
	case opts.serve:
		return serve(opts, stderr)
	}

	return execute(opts, stdin, stdout, stderr)
}

func parseArgs(args []string, stderr io.Writer) (*options, int) {
	fs := flag.NewFlagSet("venom", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to venom.toml or its directory (default: search upward from the working directory)")
	debug := fs.Bool("debug", false, "Print the VM stack after the program finishes")
	trace := fs.Bool("trace", false, "Log every executed instruction (implies -v 2)")
	disasm := fs.Bool("disasm", false, "Print the disassembled bytecode before running")
	output := fs.String("o", "", "Write the compiled image to this file instead of running")
	image := fs.Bool("image", false, "Treat the input as a compiled image")
	cachePath := fs.String("cache", "", "Compile through the image cache at this path")
	lsp := fs.Bool("lsp", false, "Run the language server on stdio")
	serve := fs.Bool("serve", false, "Run the eval server (Connect + gRPC)")
	verbosity := fs.Int("v", 0, "Log verbosity (0 notice, 1 info, 2 debug, -4 silent)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: venom [options] [file]\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a venom program read from file, or from stdin.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  venom prog.vn                 # Run a program\n")
		fmt.Fprintf(stderr, "  venom -debug -disasm prog.vn  # Show bytecode and final stack\n")
		fmt.Fprintf(stderr, "  venom -o prog.vbc prog.vn     # Compile to an image\n")
		fmt.Fprintf(stderr, "  venom -image prog.vbc         # Run an image\n")
		fmt.Fprintf(stderr, "  venom -serve                  # Start the eval server\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, server.ExitOK
		}
		return nil, server.ExitUsage
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "expected at most one input file, got %d\n", fs.NArg())
		fs.Usage()
		return nil, server.ExitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return nil, server.ExitUsage
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := &options{
		cfg:       cfg,
		debug:     *debug || cfg.Run.Debug,
		trace:     *trace || cfg.Run.Trace,
		disasm:    *disasm || cfg.Run.Disassemble,
		output:    *output,
		image:     *image,
		cachePath: cfg.CachePath(),
		lsp:       *lsp,
		serve:     *serve,
		verbosity: cfg.Log.Verbosity,
		path:      fs.Arg(0),
	}
	if set["cache"] {
		opts.cachePath = *cachePath
	}
	if set["v"] {
		opts.verbosity = *verbosity
	}
	if opts.trace && opts.verbosity < 2 {
		opts.verbosity = 2
	}
	if opts.lsp && opts.serve {
		fmt.Fprintf(stderr, "-lsp and -serve are mutually exclusive\n")
		return nil, server.ExitUsage
	}
	return opts, server.ExitOK
}

// loadConfig loads venom.toml from path (a file or directory), or searches
// upward from the working directory when path is empty.
func loadConfig(path string) (*manifest.Manifest, error) {
	if path == "" {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			return nil, err
		}
		if m == nil {
			return manifest.Default(), nil
		}
		return m, nil
	}
	if filepath.Base(path) == manifest.FileName {
		path = filepath.Dir(path)
	}
	return manifest.Load(path)
}

func (o *options) vmOptions(stdout io.Writer) []vm.Option {
	return []vm.Option{
		vm.WithOutput(stdout),
		vm.WithMaxFrames(o.cfg.VM.MaxFrames),
		vm.WithMaxStack(o.cfg.VM.MaxStack),
		vm.WithTrace(o.trace),
		vm.WithStackDump(o.debug),
	}
}

func openCache(o *options) (*cache.Store, error) {
	if o.cachePath == "" {
		return nil, nil
	}
	return cache.Open(o.cachePath)
}

func execute(o *options, stdin io.Reader, stdout, stderr io.Writer) int {
	name := o.path
	var (
		data []byte
		err  error
	)
	if name == "" || name == "-" {
		name = "<stdin>"
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: cannot read %s: %v\n", name, err)
		return server.ExitIOError
	}

	prog, code := load(o, data, stderr)
	if prog == nil {
		return code
	}
	defer prog.Release()

	if o.output != "" {
		return writeImage(prog, o.output, stderr)
	}

	if o.disasm {
		text, err := prog.Disassemble()
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return server.ExitRuntimeError
		}
		fmt.Fprintln(stdout, text)
	}

	machine := vm.New(o.vmOptions(stdout)...)
	defer machine.Close()
	if err := machine.Run(prog); err != nil {
		var re *vm.RuntimeError
		if errors.As(err, &re) {
			fmt.Fprintf(stderr, "runtime error: %s\n", re.Error())
			if trace := re.FormatTrace(); trace != "" {
				fmt.Fprint(stderr, trace)
			}
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return server.ExitRuntimeError
	}
	return server.ExitOK
}

// load produces a program from source text or an image.
func load(o *options, data []byte, stderr io.Writer) (*vm.Program, int) {
	if o.image {
		prog, err := vm.DecodeImage(data)
		if err != nil {
			fmt.Fprintf(stderr, "image error: %v\n", err)
			return nil, server.ExitCompileError
		}
		return prog, server.ExitOK
	}

	store, err := openCache(o)
	if err != nil {
		fmt.Fprintf(stderr, "cache error: %v\n", err)
		return nil, server.ExitIOError
	}
	var prog *vm.Program
	if store != nil {
		defer store.Close()
		prog, err = store.Compile(context.Background(), string(data))
	} else {
		prog, err = compiler.Compile(string(data))
	}
	if err != nil {
		if list, ok := compiler.AsErrorList(err); ok {
			for _, e := range list {
				fmt.Fprintf(stderr, "compile error: %s\n", e.Error())
			}
			return nil, server.ExitCompileError
		}
		fmt.Fprintf(stderr, "cache error: %v\n", err)
		return nil, server.ExitIOError
	}
	return prog, server.ExitOK
}

func writeImage(prog *vm.Program, path string, stderr io.Writer) int {
	data, err := vm.EncodeImage(prog)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return server.ExitRuntimeError
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(stderr, "error: cannot write %s: %v\n", path, err)
		return server.ExitIOError
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return server.ExitOK
}

func serve(o *options, stderr io.Writer) int {
	store, err := openCache(o)
	if err != nil {
		fmt.Fprintf(stderr, "cache error: %v\n", err)
		return server.ExitIOError
	}
	var srvOpts []server.ServerOption
	if store != nil {
		defer store.Close()
		log.Infof("image cache: %s", store.Path())
		srvOpts = append(srvOpts, server.WithCache(store))
	}

	opts := o.vmOptions(io.Discard)
	srv := server.New(vm.New(opts...), srvOpts...)
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := srv.Serve(ctx, o.cfg.Server.HTTPAddr, o.cfg.Server.GRPCAddr); err != nil {
		fmt.Fprintf(stderr, "server error: %v\n", err)
		return server.ExitIOError
	}
	return server.ExitOK
}
