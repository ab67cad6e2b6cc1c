package wasmop

import (
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/isolate-runtime/errors"
)

// lower converts a host value into the core value for p.
func lower(fn string, p param, v any) (uint64, error) {
	mismatch := func(detail string) error {
		return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Path(fn, p.name).
			GoType(fmt.Sprintf("%T", v)).
			WitType(p.wit).
			Value(v).
			Detail("%s", detail).
			Build()
	}

	switch p.typ.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, mismatch("expected a boolean")
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case wit.F32, wit.F64:
		f, ok := toFloat(v)
		if !ok {
			return 0, mismatch("expected a number")
		}
		if _, is32 := p.typ.(wit.F32); is32 {
			return api.EncodeF32(float32(f)), nil
		}
		return api.EncodeF64(f), nil
	case wit.S8:
		i, err := toInt(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeI32(int32(i)), nil
	case wit.S16:
		i, err := toInt(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeI32(int32(i)), nil
	case wit.S32:
		i, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeI32(int32(i)), nil
	case wit.S64:
		i, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeI64(i), nil
	case wit.U8:
		u, err := toUint(v, math.MaxUint8)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeU32(uint32(u)), nil
	case wit.U16:
		u, err := toUint(v, math.MaxUint16)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeU32(uint32(u)), nil
	case wit.U32:
		u, err := toUint(v, math.MaxUint32)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return api.EncodeU32(uint32(u)), nil
	case wit.U64:
		u, err := toUint(v, math.MaxUint64)
		if err != nil {
			return 0, mismatch(err.Error())
		}
		return u, nil
	}
	return 0, mismatch("unsupported type")
}

// lift converts a core value into the host value for p.
func lift(p param, raw uint64) any {
	switch p.typ.(type) {
	case wit.Bool:
		return uint32(raw) != 0
	case wit.S8:
		return int8(api.DecodeI32(raw))
	case wit.S16:
		return int16(api.DecodeI32(raw))
	case wit.S32:
		return api.DecodeI32(raw)
	case wit.S64:
		return int64(raw)
	case wit.U8:
		return uint8(api.DecodeU32(raw))
	case wit.U16:
		return uint16(api.DecodeU32(raw))
	case wit.U32:
		return api.DecodeU32(raw)
	case wit.F32:
		return api.DecodeF32(raw)
	case wit.F64:
		return api.DecodeF64(raw)
	default:
		return raw
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any, lo, hi int64) (int64, error) {
	var i int64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %s", n)
		}
		i = parsed
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint32:
		i = int64(n)
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		i = int64(n)
	default:
		return 0, fmt.Errorf("expected an integer")
	}
	if i < lo || i > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", i, lo, hi)
	}
	return i, nil
}

func toUint(v any, hi uint64) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an unsigned integer, got %s", n)
		}
		u = parsed
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case int, int32, int64:
		i, err := toInt(n, 0, math.MaxInt64)
		if err != nil {
			return 0, err
		}
		u = uint64(i)
	case float64:
		if n != math.Trunc(n) || n < 0 || n >= math.MaxUint64 {
			return 0, fmt.Errorf("expected an unsigned integer, got %v", n)
		}
		u = uint64(n)
	default:
		return 0, fmt.Errorf("expected an unsigned integer")
	}
	if u > hi {
		return 0, fmt.Errorf("%d out of range [0, %d]", u, hi)
	}
	return u, nil
}
