package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/errors"
)

const testRoot = "file:///app/"

func newTestRuntime(t *testing.T, sources map[string]string) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var stdout bytes.Buffer
	cfg := DefaultConfig()
	cfg.ModuleRoot = testRoot
	rt := New(cfg,
		WithLoader(NewMapLoader(sources)),
		WithStdout(&stdout),
		WithStderr(&stdout),
	)
	return rt, &stdout
}

func newTestIsolate(t *testing.T, rt *Runtime, cfg IsolateConfig) *Isolate {
	t.Helper()
	iso, err := rt.NewIsolate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new isolate: %v", err)
	}
	t.Cleanup(iso.Close)
	return iso
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func evalString(t *testing.T, iso *Isolate, src string) string {
	t.Helper()
	v, err := iso.ExecuteScript("check.js", src)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v.String()
}

func TestIsolate_ConsoleAndModule(t *testing.T) {
	rt, stdout := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `console.log("hello", 1, {a: 2}); console.error("oops");`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{Name: "main"})
	ctx := testContext(t)

	if err := iso.ExecuteModule(ctx, "./main.js"); err != nil {
		t.Fatalf("execute module: %v", err)
	}
	if err := iso.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := stdout.String(); got != "hello 1 {\"a\":2}\noops\n" {
		t.Fatalf("output = %q", got)
	}
	if iso.Referrer() != testRoot+"main.js" {
		t.Fatalf("referrer = %q", iso.Referrer())
	}
}

func TestIsolate_ImportMeta(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `globalThis.meta = importMeta.url + " " + importMeta.main;`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})
	if err := iso.ExecuteModule(testContext(t), "./main.js"); err != nil {
		t.Fatalf("execute module: %v", err)
	}
	if got := evalString(t, iso, "meta"); got != testRoot+"main.js true" {
		t.Fatalf("meta = %q", got)
	}
}

func TestIsolate_JSONOps(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	type addArgs struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if err := rt.RegisterJSONOp("test.add", func(s *OpState, args, _ []byte) (JSONResult, error) {
		var in addArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return JSONResult{}, err
		}
		return JSONSync(in.A + in.B), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := rt.RegisterJSONOp("test.fail", func(*OpState, []byte, []byte) (JSONResult, error) {
		return JSONResult{}, errors.InvalidInput(errors.PhaseDispatch, "bad input")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := rt.RegisterJSONOp("test.later", func(*OpState, []byte, []byte) (JSONResult, error) {
		return JSONAsync(func(ctx context.Context) (any, error) { return "later", nil }), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	iso := newTestIsolate(t, rt, IsolateConfig{})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"sync result", `String(core.sendSync("test.add", {a: 1, b: 2}))`, "3"},
		{"error kind", `(() => { try { core.sendSync("test.fail"); } catch (e) { return e.kind; } })()`, "invalid_input"},
		{"error message", `(() => { try { core.sendSync("test.fail"); } catch (e) { return e.message; } })()`, "[dispatch] invalid_input: bad input"},
		{"sync call of async op", `(() => { try { core.sendSync("test.later"); } catch (e) { return e.kind; } })()`, "invalid_input"},
		{"unknown op", `(() => { try { core.sendSync("nope"); } catch (e) { return e.name + ": " + e.message; } })()`, "TypeError: unknown op: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalString(t, iso, tt.src); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsolate_AsyncJSONOp(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	if err := rt.RegisterJSONOp("test.echo", func(_ *OpState, args, _ []byte) (JSONResult, error) {
		var v string
		if err := json.Unmarshal(args, &v); err != nil {
			return JSONResult{}, err
		}
		return JSONAsync(func(ctx context.Context) (any, error) {
			return strings.ToUpper(v), nil
		}), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	iso := newTestIsolate(t, rt, IsolateConfig{})
	evalString(t, iso, `
		globalThis.results = [];
		Promise.all([core.sendAsync("test.echo", "a"), core.sendAsync("test.echo", "b")])
			.then(v => { results = v; });
		""`)

	if err := iso.Run(testContext(t)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := evalString(t, iso, `results.join(",")`); got != "A,B" {
		t.Fatalf("results = %q", got)
	}
	if iso.loop.Pending() != 0 {
		t.Fatalf("pending holds = %d", iso.loop.Pending())
	}
}

func TestIsolate_SendAsyncOnSyncOp(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	if err := rt.RegisterJSONOp("test.now", func(*OpState, []byte, []byte) (JSONResult, error) {
		return JSONSync("now"), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	iso := newTestIsolate(t, rt, IsolateConfig{})
	evalString(t, iso, `core.sendAsync("test.now").then(v => { globalThis.got = v; }); ""`)
	if got := evalString(t, iso, "got"); got != "now" {
		t.Fatalf("got = %q", got)
	}
}

func TestIsolate_RawOp(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	if err := rt.RegisterOp("test.raw", func(_ *OpState, control, zeroCopy []byte) Op {
		if len(zeroCopy) > 0 {
			zeroCopy[0] = 'Z'
		}
		return Sync(append([]byte("raw:"), control...))
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	iso := newTestIsolate(t, rt, IsolateConfig{})

	got := evalString(t, iso, `
		const buf = new Uint8Array(1);
		const res = core.send(core.ops()["test.raw"], core.encode("x"), buf);
		core.decode(res) + " " + String.fromCharCode(buf[0])`)
	if got != "raw:x Z" {
		t.Fatalf("got %q", got)
	}
}

func TestIsolate_RawAsyncOp(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	if err := rt.RegisterOp("test.tick", func(_ *OpState, control, _ []byte) Op {
		msg := string(control)
		return Async(func(context.Context) []byte { return []byte("tock:" + msg) })
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	iso := newTestIsolate(t, rt, IsolateConfig{})
	evalString(t, iso, `
		core.setAsyncHandler("test.tick", buf => { globalThis.tock = core.decode(buf); });
		core.send(core.ops()["test.tick"], core.encode("1"));
		""`)

	if err := iso.Run(testContext(t)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := evalString(t, iso, "tock"); got != "tock:1" {
		t.Fatalf("tock = %q", got)
	}
}

func TestIsolate_DynamicImport(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `
			Promise.all([importModule("./lib/dep.js"), importModule("./lib/dep.js")]).then(([a, b]) => {
				globalThis.value = a.value;
				globalThis.same = a === b;
				globalThis.depMeta = a.url;
			});
			importModule("./missing.js").catch(e => { globalThis.missing = e.message; });
			importModule("bare").catch(e => { globalThis.bare = true; });`,
		testRoot + "lib/dep.js": `exports.value = 42; exports.url = importMeta.url + " " + importMeta.main;`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})
	ctx := testContext(t)

	if err := iso.ExecuteModule(ctx, "./main.js"); err != nil {
		t.Fatalf("execute module: %v", err)
	}
	if err := iso.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	tests := []struct {
		expr string
		want string
	}{
		{"String(value)", "42"},
		{"String(same)", "true"},
		{"depMeta", testRoot + "lib/dep.js false"},
		{"String(bare)", "true"},
		{"String(missing.includes('not found'))", "true"},
	}
	for _, tt := range tests {
		if got := evalString(t, iso, tt.expr); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.expr, got, tt.want)
		}
	}
	if n := iso.Engine().State().PendingDynamicImports(); n != 0 {
		t.Fatalf("pending imports = %d", n)
	}
}

func TestIsolate_DynamicImportCompileError(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `importModule("./broken.js").catch(e => { globalThis.failure = e.message; });`,
		testRoot + "broken.js": `let = ;`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})
	ctx := testContext(t)
	if err := iso.ExecuteModule(ctx, "./main.js"); err != nil {
		t.Fatalf("execute module: %v", err)
	}
	if err := iso.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := evalString(t, iso, "failure"); !strings.HasPrefix(got, "Uncaught SyntaxError") {
		t.Fatalf("failure = %q", got)
	}
}

func TestIsolate_TopLevelThrow(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": "const x = 1;\nthrow new Error(\"boom\");",
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})

	err := iso.ExecuteModule(testContext(t), "./main.js")
	var info *engine.ErrorInfo
	if !stderrors.As(err, &info) {
		t.Fatalf("err = %v, want *engine.ErrorInfo", err)
	}
	if info.Message != "Uncaught Error: boom" {
		t.Errorf("message = %q", info.Message)
	}
	if info.FileName != testRoot+"main.js" || info.LineNumber != 2 {
		t.Errorf("location = %s:%d", info.FileName, info.LineNumber)
	}
}

func TestIsolate_UnhandledRejection(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `
			Promise.reject(new Error("late")).catch(() => {});
			Promise.reject(new Error("nope"));`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})
	ctx := testContext(t)

	if err := iso.ExecuteModule(ctx, "./main.js"); err != nil {
		t.Fatalf("execute module: %v", err)
	}
	err := iso.Run(ctx)
	var info *engine.ErrorInfo
	if !stderrors.As(err, &info) {
		t.Fatalf("err = %v, want *engine.ErrorInfo", err)
	}
	if info.Message != "Uncaught (in promise) Error: nope" {
		t.Fatalf("message = %q", info.Message)
	}
}

func TestIsolate_Terminate(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	started := make(chan struct{})
	if err := rt.RegisterJSONOp("test.block", func(*OpState, []byte, []byte) (JSONResult, error) {
		return JSONAsync(func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	iso := newTestIsolate(t, rt, IsolateConfig{})
	evalString(t, iso, `core.sendAsync("test.block"); ""`)

	go func() {
		<-started
		iso.Terminate()
		iso.Terminate()
	}()

	err := iso.Run(testContext(t))
	if !stderrors.Is(err, errors.ErrTerminated) {
		t.Fatalf("run = %v, want terminated", err)
	}
	if !iso.Terminated() {
		t.Fatal("isolate should report terminated")
	}
	if _, err := iso.ExecuteScript("after.js", "1"); !stderrors.Is(err, errors.ErrTerminated) {
		t.Fatalf("execute after terminate = %v", err)
	}
}

func TestIsolate_TerminateBusyLoop(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]string{
		testRoot + "main.js": `for (;;) {}`,
	})
	iso := newTestIsolate(t, rt, IsolateConfig{})

	time.AfterFunc(20*time.Millisecond, iso.Terminate)
	err := iso.ExecuteModule(testContext(t), "./main.js")
	if !stderrors.Is(err, errors.ErrTerminated) {
		t.Fatalf("err = %v, want terminated", err)
	}
}

func TestIsolate_StopWithKeepAlive(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	iso := newTestIsolate(t, rt, IsolateConfig{})
	iso.SetKeepAlive(func() bool { return true })

	ran := false
	iso.Submit(func() error {
		ran = true
		iso.Stop()
		return nil
	})
	if err := iso.Run(testContext(t)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatal("submitted task did not run")
	}
}

func TestIsolate_CloseHooks(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	iso, err := rt.NewIsolate(context.Background(), IsolateConfig{})
	if err != nil {
		t.Fatalf("new isolate: %v", err)
	}

	var order []int
	iso.OpState().OnClose(func() { order = append(order, 1) })
	iso.OpState().OnClose(func() { order = append(order, 2) })
	iso.OpState().SetValue("key", "value")
	if v, ok := iso.OpState().Value("key"); !ok || v != "value" {
		t.Fatalf("value = %v", v)
	}

	iso.Close()
	iso.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("close order = %v", order)
	}
	if iso.Context().Err() == nil {
		t.Fatal("context should be canceled after Close")
	}
	if iso.Submit(func() error { return nil }) {
		t.Fatal("submit after close should be rejected")
	}
	if _, ok := engine.Lookup(iso.ID()); ok {
		t.Fatal("engine isolate still registered")
	}
}

func TestIsolate_SharedMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SharedMemorySize = 16
	rt := New(cfg)
	iso := newTestIsolate(t, rt, IsolateConfig{})

	if got := evalString(t, iso, "String(core.shared.byteLength)"); got != "16" {
		t.Fatalf("byteLength = %q", got)
	}
}

func TestIsolate_WorkerBootstrap(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	tests := []struct {
		name         string
		useNamespace bool
		want         string
	}{
		{"namespace hidden", false, "undefined w true function null"},
		{"namespace visible", true, "object w true function null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iso := newTestIsolate(t, rt, IsolateConfig{Name: "w", Worker: true, UseNamespace: tt.useNamespace})
			got := evalString(t, iso,
				`[typeof core, name, self === globalThis, typeof postMessage, String(onmessage)].join(" ")`)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsolate_WorkerOpsOutsideWorker(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	iso := newTestIsolate(t, rt, IsolateConfig{Worker: true, UseNamespace: true})

	got := evalString(t, iso, `(() => { try { postMessage("x"); } catch (e) { return e.message; } })()`)
	if got != "unknown op: worker.post-message" {
		t.Fatalf("got %q", got)
	}
}
