package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/isolate-runtime/errors"
)

func TestToKebabCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add", "add"},
		{"GetValue", "get-value"},
		{"GetHTTPURL", "get-httpurl"},
		{"GetHTTPServer", "get-http-server"},
		{"HTTPServer", "http-server"},
		{"PostMessage", "post-message"},
		{"already", "already"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := toKebabCase(tt.in); got != tt.want {
				t.Fatalf("toKebabCase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpRegistry_DenseIDs(t *testing.T) {
	r := NewOpRegistry()
	noop := func(*OpState, []byte, []byte) Op { return Sync(nil) }

	for i, name := range []string{"a.one", "a.two", "b.three"} {
		id, err := r.Register(name, noop)
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		if id != uint32(i) {
			t.Fatalf("%s id = %d, want %d", name, id, i)
		}
	}

	if _, err := r.Register("a.one", noop); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if _, err := r.Register("", noop); err == nil {
		t.Fatal("empty name should fail")
	}
	if _, err := r.Register("x", nil); err == nil {
		t.Fatal("nil handler should fail")
	}

	if name, _, ok := r.Lookup(2); !ok || name != "b.three" {
		t.Fatalf("lookup(2) = %q, %v", name, ok)
	}
	if _, _, ok := r.Lookup(3); ok {
		t.Fatal("lookup past the end should fail")
	}
	if id, ok := r.ID("a.two"); !ok || id != 1 {
		t.Fatalf("id(a.two) = %d, %v", id, ok)
	}
	if n := len(r.Names()); n != 3 || r.Len() != 3 {
		t.Fatalf("names = %d, len = %d", n, r.Len())
	}
}

type calcHost struct {
	calls int
}

func (h *calcHost) Namespace() string { return "calc" }

func (h *calcHost) AsyncFunctions() []string { return []string{"slow-double"} }

type pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (h *calcHost) Add(_ context.Context, in pair) (int, error) {
	h.calls++
	return in.A + in.B, nil
}

func (h *calcHost) Ping(context.Context) (string, error) { return "pong", nil }

func (h *calcHost) Fail(context.Context) error {
	return errors.InvalidInput(errors.PhaseDispatch, "always fails")
}

func (h *calcHost) SlowDouble(_ context.Context, n int) (int, error) { return n * 2, nil }

func (h *calcHost) Raw(_ *OpState, args, _ []byte) (JSONResult, error) {
	return JSONSync(string(args)), nil
}

func TestRegisterHost(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	host := &calcHost{}
	if err := rt.RegisterHost(host); err != nil {
		t.Fatalf("register host: %v", err)
	}

	for _, name := range []string{"calc.add", "calc.ping", "calc.fail", "calc.slow-double", "calc.raw"} {
		if _, ok := rt.Ops().ID(name); !ok {
			t.Fatalf("op %s not registered", name)
		}
	}

	iso := newTestIsolate(t, rt, IsolateConfig{})
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"typed args", `String(core.sendSync("calc.add", {a: 2, b: 5}))`, "7"},
		{"no args", `core.sendSync("calc.ping")`, "pong"},
		{"error", `(() => { try { core.sendSync("calc.fail"); } catch (e) { return e.kind; } })()`, "invalid_input"},
		{"bad args", `(() => { try { core.sendSync("calc.add", "nope"); } catch (e) { return e.kind; } })()`, "invalid_input"},
		{"raw handler", `core.sendSync("calc.raw", [1])`, "[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalString(t, iso, tt.src); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	evalString(t, iso, `core.sendAsync("calc.slow-double", 21).then(v => { globalThis.doubled = v; }); ""`)
	if err := iso.Run(testContext(t)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := evalString(t, iso, "String(doubled)"); got != "42" {
		t.Fatalf("doubled = %q", got)
	}
}

type badHost struct{}

func (badHost) Namespace() string { return "bad" }

func (badHost) Helper(a, b int) int { return a + b }

func TestRegisterHost_UnsupportedSignature(t *testing.T) {
	r := NewOpRegistry()
	err := r.RegisterHost(badHost{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindRegistration}) {
		t.Fatalf("err = %v, want registration error", err)
	}
	var cause *errors.Error
	if !stderrors.As(stderrors.Unwrap(err), &cause) || cause.Kind != errors.KindTypeMismatch {
		t.Fatalf("cause = %v, want type mismatch", stderrors.Unwrap(err))
	}
}

type explicitHost struct{}

func (explicitHost) Namespace() string { return "explicit" }

func (explicitHost) Register() map[string]JSONOpFunc {
	return map[string]JSONOpFunc{
		"[method]thing.run": func(*OpState, []byte, []byte) (JSONResult, error) { return JSONSync(true), nil },
		"alpha":             func(*OpState, []byte, []byte) (JSONResult, error) { return JSONSync(false), nil },
	}
}

func TestRegisterHost_Explicit(t *testing.T) {
	r := NewOpRegistry()
	if err := r.RegisterHost(explicitHost{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	// names are registered in sorted order
	if id, ok := r.ID("explicit.[method]thing.run"); !ok || id != 0 {
		t.Fatalf("id = %d, %v", id, ok)
	}
	if id, ok := r.ID("explicit.alpha"); !ok || id != 1 {
		t.Fatalf("id = %d, %v", id, ok)
	}
}

func TestRuntime_Once(t *testing.T) {
	rt := New(DefaultConfig())
	type key struct{}
	calls := 0
	boom := stderrors.New("boom")
	for i := 0; i < 3; i++ {
		err := rt.Once(key{}, func() error {
			calls++
			return boom
		})
		if !stderrors.Is(err, boom) {
			t.Fatalf("once = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
