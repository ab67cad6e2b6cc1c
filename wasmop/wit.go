package wasmop

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/isolate-runtime/errors"
)

// param is one WIT-typed value in a signature.
type param struct {
	typ  wit.Type
	name string
	wit  string
}

type signature struct {
	params  []param
	results []param
}

// Pattern: [export] name: func(params) [-> result];
var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// scalarTypes are the WIT types that map onto a single core value.
var scalarTypes = map[string]wit.Type{
	"bool": wit.Bool{},
	"s8":   wit.S8{},
	"u8":   wit.U8{},
	"s16":  wit.S16{},
	"u16":  wit.U16{},
	"s32":  wit.S32{},
	"u32":  wit.U32{},
	"s64":  wit.S64{},
	"u64":  wit.U64{},
	"f32":  wit.F32{},
	"f64":  wit.F64{},
}

// parseWitFunctions extracts function signatures from WIT text.
func parseWitFunctions(witText string) (map[string]*signature, error) {
	funcs := make(map[string]*signature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		sig := &signature{}

		for i, p := range splitParams(strings.TrimSpace(match[2])) {
			pname, typ := "", p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				pname = strings.TrimSpace(p[:idx])
				typ = p[idx+1:]
			}
			if pname == "" {
				pname = "arg" + strconv.Itoa(i)
			}
			t, err := parseWitType(name, pname, typ)
			if err != nil {
				return nil, err
			}
			sig.params = append(sig.params, t)
		}

		result := strings.TrimSpace(match[3])
		if strings.HasPrefix(result, "(") && strings.HasSuffix(result, ")") {
			result = strings.TrimSuffix(strings.TrimPrefix(result, "("), ")")
		}
		for _, r := range splitParams(result) {
			rname := "result"
			if idx := strings.LastIndex(r, ":"); idx != -1 {
				rname, r = strings.TrimSpace(r[:idx]), r[idx+1:]
			}
			t, err := parseWitType(name, rname, r)
			if err != nil {
				return nil, err
			}
			sig.results = append(sig.results, t)
		}

		funcs[name] = sig
	}

	if len(funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return funcs, nil
}

// splitParams splits a parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

func parseWitType(fn, name, s string) (param, error) {
	s = strings.TrimSpace(s)
	t, ok := scalarTypes[s]
	if !ok {
		return param{}, errors.New(errors.PhaseParse, errors.KindTypeMismatch).
			Path(fn, name).
			WitType(s).
			Detail("only scalar types are supported").
			Build()
	}
	return param{typ: t, name: name, wit: s}, nil
}

// coreType returns the core wasm value type a scalar lowers to.
func coreType(t wit.Type) api.ValueType {
	switch t.(type) {
	case wit.S64, wit.U64:
		return api.ValueTypeI64
	case wit.F32:
		return api.ValueTypeF32
	case wit.F64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// check verifies the WIT signature against the core function type.
func (s *signature) check(name string, def api.FunctionDefinition) error {
	if err := matchTypes(name, "params", s.params, def.ParamTypes()); err != nil {
		return err
	}
	return matchTypes(name, "results", s.results, def.ResultTypes())
}

func matchTypes(fn, what string, want []param, got []api.ValueType) error {
	if len(want) != len(got) {
		return errors.New(errors.PhaseSetup, errors.KindTypeMismatch).
			Path(fn, what).
			Detail("WIT declares %d, export has %d", len(want), len(got)).
			Build()
	}
	for i, p := range want {
		if coreType(p.typ) != got[i] {
			return errors.New(errors.PhaseSetup, errors.KindTypeMismatch).
				Path(fn, p.name).
				WitType(p.wit).
				Detail("export has %s", api.ValueTypeName(got[i])).
				Build()
		}
	}
	return nil
}
