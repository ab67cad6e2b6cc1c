package runtime

import (
	"context"
	stderrors "errors"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/errors"
)

// JSONResult is the outcome of a JSON op handler.
type JSONResult struct {
	value any
	async func(ctx context.Context) (any, error)
}

// JSONSync completes a JSON op inline with v.
func JSONSync(v any) JSONResult {
	return JSONResult{value: v}
}

// JSONAsync completes a JSON op off the loop. The guest must call it with
// core.sendAsync.
func JSONAsync(fn func(ctx context.Context) (any, error)) JSONResult {
	return JSONResult{async: fn}
}

// JSONOpFunc handles a JSON op. args is the raw JSON "args" member of the
// request, "null" when the guest passed none.
type JSONOpFunc func(s *OpState, args, zeroCopy []byte) (JSONResult, error)

type jsonRequest struct {
	PromiseID *uint32         `json:"promiseId,omitempty"`
	Args      json.RawMessage `json:"args"`
}

type jsonError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type jsonResponse struct {
	PromiseID *uint32    `json:"promiseId,omitempty"`
	Ok        any        `json:"ok"`
	Err       *jsonError `json:"err,omitempty"`
}

// wrapJSON adapts a JSON handler to the byte protocol. Requests are
// {promiseId?, args}; responses are {promiseId?, ok} or {promiseId?, err}.
func wrapJSON(name string, fn JSONOpFunc) OpFunc {
	return func(s *OpState, control, zeroCopy []byte) Op {
		var req jsonRequest
		if len(control) > 0 {
			if err := json.Unmarshal(control, &req); err != nil {
				return Sync(encodeResponse(nil, nil,
					errors.Wrap(errors.PhaseDispatch, errors.KindInvalidInput, err, "decode "+name+" request")))
			}
		}
		args := []byte(req.Args)
		if len(args) == 0 {
			args = []byte("null")
		}

		res, err := fn(s, args, zeroCopy)
		if err != nil || res.async == nil {
			return Sync(encodeResponse(req.PromiseID, res.value, err))
		}
		if req.PromiseID == nil {
			return Sync(encodeResponse(nil, nil,
				errors.InvalidInput(errors.PhaseDispatch, name+" is asynchronous; call it with sendAsync")))
		}

		promiseID := req.PromiseID
		return Async(func(ctx context.Context) []byte {
			v, err := res.async(ctx)
			return encodeResponse(promiseID, v, err)
		})
	}
}

func encodeResponse(promiseID *uint32, v any, err error) []byte {
	resp := jsonResponse{PromiseID: promiseID}
	if err != nil {
		resp.Err = &jsonError{Kind: errorKind(err), Message: err.Error()}
	} else {
		resp.Ok = v
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		resp.Ok = nil
		resp.Err = &jsonError{Kind: string(errors.KindInvalidInput), Message: "encode op result: " + merr.Error()}
		data, _ = json.Marshal(resp)
	}
	return data
}

func errorKind(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return string(e.Kind)
	}
	var info *engine.ErrorInfo
	if stderrors.As(err, &info) {
		return string(errors.KindUncaught)
	}
	return "error"
}

// Bytes is a byte slice that encodes as a JSON array of numbers, the form
// guest code turns into a Uint8Array.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []uint16
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make(Bytes, len(nums))
	for i, n := range nums {
		if n > 0xff {
			return errors.InvalidInput(errors.PhaseDispatch, "byte value out of range: "+strconv.Itoa(int(n)))
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
