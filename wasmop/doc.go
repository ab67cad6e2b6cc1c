// Package wasmop exposes WebAssembly exports to guest JavaScript as ops.
//
// A core module is loaded together with WIT function declarations that
// type its exports:
//
//	m, err := wasmop.Load(ctx, wasm, `
//		add: func(a: s32, b: s32) -> s32;
//		half: func(x: f64) -> f64;
//	`, wasmop.Config{Name: "math"})
//	if err != nil {
//		return err
//	}
//	defer m.Close(ctx)
//	err = m.Register(rt, "math")
//
// Guests then call core.sendSync("math.add", [2, 3]). Only scalar WIT types
// (bool, s8..s64, u8..u64, f32, f64) are supported; each maps onto one core
// value. The module's linear memory can be handed to isolates as their
// shared region through Region.
package wasmop
