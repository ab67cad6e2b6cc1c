// Package runtime provides the high-level API for running guest JavaScript
// in isolates.
//
// # Quick Start
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
// # Modules
//
// Module sources are evaluated as the body of a function receiving
// exports, importMeta and importModule:
//
//	exports.greet = (name) => "hello " + name;
//	console.log(importMeta.url, importMeta.main);
//	importModule("./lib.js").then((lib) => lib.run());
//
// Specifiers are resolved by a Resolver (URLResolver by default) and
// fetched by a Loader (FileLoader by default) off the event loop.
//
// # Ops
//
// Ops are registered on the Runtime and get dense ids in registration order:
//
//	RegisterOp(name, OpFunc)          byte protocol, Sync or Async result
//	RegisterJSONOp(name, JSONOpFunc)  JSON args, JSONSync or JSONAsync result
//	RegisterHost(host)                one JSON op per exported method
//
// Host methods are named <namespace>.<kebab-case method>:
//
//	type Calc struct{}
//
//	func (Calc) Namespace() string { return "calc" }
//
//	func (Calc) Add(ctx context.Context, in struct{ A, B int }) (int, error) {
//	    return in.A + in.B, nil
//	}
//
// Guest code reaches them through the helpers installed at bootstrap:
//
//	core.sendSync("calc.add", {A: 1, B: 2})   // 3
//	await core.sendAsync("net.fetch", {url})  // async ops
//
// # Event Loop
//
// Each isolate has a cooperative loop. Async ops and dynamic imports hold
// the loop open until they complete; their results are delivered on a later
// turn. After every turn the unhandled-rejection table is checked and a
// rejection nobody handled fails Run.
//
// # Configuration
//
// Config is loadable from YAML:
//
//	module_root: ./app
//	allow: [namespace]
//	max_call_stack_size: 1000
//	worker_event_buffer: 16
//	worker_inbound_buffer: 16
//	shared_memory_size: 65536
//
// # Thread Safety
//
// Runtime is safe for concurrent use. An Isolate belongs to the goroutine
// that created it; only Submit and Terminate may be called from others.
package runtime
