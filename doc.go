// Package isolateruntime embeds a JavaScript engine in a Go process and runs
// guest code in isolates: independent engine instances, each owned by a
// single goroutine, that reach the host through numbered ops.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	isolateruntime/      Root package with the SharedRegion interface
//	├── runtime/         High-level API: runtime, isolates, ops, event loop, modules
//	├── engine/          goja integration: isolate state and the native callback bridge
//	├── worker/          Workers on dedicated OS threads and the host-side worker table
//	├── wasmop/          WebAssembly exports exposed as ops (wazero)
//	├── resource/        Monotonic handle tables
//	└── errors/          Structured error types
//
// # Quick Start
//
// Run a module in a main isolate:
//
//	rt := runtime.New(runtime.DefaultConfig())
//
//	iso, err := rt.NewIsolate(ctx, runtime.IsolateConfig{Name: "main"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer iso.Close()
//
//	if err := iso.ExecuteModule(ctx, "./main.js"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := iso.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Ops
//
// Host functionality reaches guest code as ops. An op is registered under a
// name, gets a dense numeric id, and is invoked by guest code through the
// bridge's send entry point. JSON ops wrap that byte protocol:
//
//	rt.RegisterJSONOp("demo.add", func(s *runtime.OpState, args []byte, _ []byte) (runtime.JSONResult, error) {
//	    var in struct{ A, B int }
//	    if err := json.Unmarshal(args, &in); err != nil {
//	        return runtime.JSONResult{}, err
//	    }
//	    return runtime.JSONSync(in.A + in.B), nil
//	})
//
// Guest code calls it with core.sendSync("demo.add", {a: 1, b: 2}).
//
// # Workers
//
// A worker is an isolate on its own locked OS thread, driven by its own event
// loop and reachable only through its handle:
//
//	host := worker.NewHost(rt, worker.HostConfig{Referrer: "file:///app/"})
//	id, err := host.CreateWorker(ctx, worker.CreateOptions{
//	    Specifier:     "./echo.js",
//	    HasSourceCode: false,
//	})
//	_ = host.PostMessage(id, []byte("ping"))
//	ev, err := host.GetMessage(ctx, id)
//
// # Thread Safety
//
// Runtime and worker.Host are safe for concurrent use. An Isolate belongs to
// the goroutine that runs its event loop; other goroutines may only call
// Terminate and Submit.
package isolateruntime
