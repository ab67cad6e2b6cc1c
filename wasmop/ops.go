package wasmop

import (
	"bytes"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/runtime"
)

// Register exposes every bound function as the JSON op "namespace.name".
// Ops take the argument array and return the single result, an array for
// multiple results, or null.
//
//	core.sendSync("math.add", [2, 3]) // 5
//
// 64-bit results above 2^53 lose precision in the guest.
func (m *Module) Register(rt *runtime.Runtime, namespace string) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	for _, name := range m.Functions() {
		if err := rt.RegisterJSONOp(namespace+"."+name, m.jsonOp(name)); err != nil {
			return errors.Registration(errors.PhaseHost, namespace, name, err)
		}
	}
	rt.Logger().Debug("wasm ops registered", zap.String("namespace", namespace), zap.Strings("functions", m.Functions()))
	return nil
}

func (m *Module) jsonOp(name string) runtime.JSONOpFunc {
	return func(s *runtime.OpState, args, _ []byte) (runtime.JSONResult, error) {
		in, err := decodeArgs(args)
		if err != nil {
			return runtime.JSONResult{}, err
		}
		results, err := m.Call(s.Context(), name, in...)
		if err != nil {
			return runtime.JSONResult{}, err
		}
		switch len(results) {
		case 0:
			return runtime.JSONSync(nil), nil
		case 1:
			return runtime.JSONSync(results[0]), nil
		default:
			return runtime.JSONSync(results), nil
		}
	}
}

// decodeArgs reads an argument array, keeping numbers exact. A lone value
// is treated as a single argument and null as none.
func decodeArgs(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "decode arguments")
	}
	switch a := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return a, nil
	default:
		return []any{a}, nil
	}
}
