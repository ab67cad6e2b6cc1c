package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/runtime"
	"github.com/wippyai/isolate-runtime/wasmop"
	"github.com/wippyai/isolate-runtime/worker"
)

type options struct {
	configFile  string
	root        string
	allow       string
	wasmFile    string
	witFile     string
	namespace   string
	specifier   string
	asWorker    bool
	verbose     bool
	interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Path to YAML runtime config")
	flag.StringVar(&opts.root, "root", "", "Module root (overrides config)")
	flag.StringVar(&opts.allow, "allow", "", "Granted capabilities (comma-separated, * for all)")
	flag.StringVar(&opts.wasmFile, "wasm", "", "Core wasm module to expose as ops")
	flag.StringVar(&opts.witFile, "wit", "", "WIT declarations for -wasm exports")
	flag.StringVar(&opts.namespace, "ns", "wasm", "Op namespace for -wasm exports")
	flag.BoolVar(&opts.asWorker, "worker", false, "Run the module in a worker and print its events")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive console")
	flag.Parse()
	opts.specifier = flag.Arg(0)

	if opts.specifier == "" && !opts.interactive {
		fmt.Fprintln(os.Stderr, "Usage: run [flags] <module.js>")
		fmt.Fprintln(os.Stderr, "       run [flags] -i  (interactive console)")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	log := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		log = l
		defer func() { _ = log.Sync() }()
	}
	engine.SetLogger(log.Named("engine"))
	runtime.SetLogger(log.Named("runtime"))
	worker.SetLogger(log.Named("worker"))

	cfg := runtime.DefaultConfig()
	if opts.configFile != "" {
		loaded, err := runtime.LoadConfig(opts.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.root != "" {
		cfg.ModuleRoot = opts.root
	}
	if opts.allow != "" {
		cfg.Allow = append(cfg.Allow, strings.Split(opts.allow, ",")...)
	}

	rt := runtime.New(cfg, runtime.WithLogger(log.Named("runtime")))
	if err := worker.RegisterOps(rt); err != nil {
		return fmt.Errorf("register worker ops: %w", err)
	}

	var shared isolateruntime.SharedRegion
	if opts.wasmFile != "" {
		mod, err := loadWasm(ctx, rt, opts, log)
		if err != nil {
			return err
		}
		defer func() { _ = mod.Close(context.Background()) }()
		if region, ok := mod.Region(); ok {
			shared = region
		}
	}

	switch {
	case opts.interactive:
		return runInteractive(ctx, rt, shared, opts.specifier)
	case opts.asWorker:
		return runWorker(ctx, rt, opts.specifier)
	default:
		return runMain(ctx, rt, shared, opts.specifier)
	}
}

func loadWasm(ctx context.Context, rt *runtime.Runtime, opts options, log *zap.Logger) (*wasmop.Module, error) {
	if opts.witFile == "" {
		return nil, fmt.Errorf("-wasm requires -wit")
	}
	wasm, err := os.ReadFile(opts.wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read wasm: %w", err)
	}
	witText, err := os.ReadFile(opts.witFile)
	if err != nil {
		return nil, fmt.Errorf("read wit: %w", err)
	}
	mod, err := wasmop.Load(ctx, wasm, string(witText), wasmop.Config{
		Name:   opts.namespace,
		Logger: log.Named("wasm"),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		WASI:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("load wasm: %w", err)
	}
	if err := mod.Register(rt, opts.namespace); err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	return mod, nil
}

func runMain(ctx context.Context, rt *runtime.Runtime, shared isolateruntime.SharedRegion, specifier string) error {
	iso, err := rt.NewIsolate(ctx, runtime.IsolateConfig{Name: "main", Shared: shared})
	if err != nil {
		return err
	}
	defer iso.Close()
	stopTerminate := context.AfterFunc(ctx, iso.Terminate)
	defer stopTerminate()

	if err := iso.ExecuteModule(ctx, specifier); err != nil {
		return err
	}
	return iso.Run(ctx)
}

func runWorker(ctx context.Context, rt *runtime.Runtime, specifier string) error {
	host := worker.NewHost(rt, worker.HostConfig{})
	defer func() { _ = host.Close() }()

	id, err := host.CreateWorker(ctx, worker.CreateOptions{Name: "main", Specifier: specifier})
	if err != nil {
		return err
	}
	for {
		ev, err := host.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		switch ev.Type {
		case worker.EventMessage:
			fmt.Printf("message: %s\n", ev.Data)
		case worker.EventError:
			fmt.Fprintf(os.Stderr, "error: %v\n", ev.Error)
		case worker.EventTerminalError:
			if ev.Error == nil {
				return fmt.Errorf("worker failed")
			}
			return ev.Error
		case worker.EventClose:
			return nil
		}
	}
}
