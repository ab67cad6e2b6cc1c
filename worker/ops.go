package worker

import (
	"bytes"
	"context"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/runtime"
)

type (
	opsKey  struct{}
	hostKey struct{}
)

// RegisterOps registers the worker ops on rt. Repeated calls are no-ops.
//
//	host.create-worker   {name, specifier, hasSourceCode, sourceCode, useNamespace} -> {id}
//	host.post-message    {id} + bytes
//	host.get-message     {id} -> event (async)
//	host.terminate-worker {id}
//	worker.post-message  bytes (worker scope only)
//	worker.close         (worker scope only)
func RegisterOps(rt *runtime.Runtime) error {
	return rt.Once(opsKey{}, func() error {
		ops := []struct {
			fn   runtime.JSONOpFunc
			name string
		}{
			{opCreateWorker, "host.create-worker"},
			{opHostPostMessage, "host.post-message"},
			{opHostGetMessage, "host.get-message"},
			{opTerminateWorker, "host.terminate-worker"},
			{opWorkerPostMessage, "worker.post-message"},
			{opWorkerClose, "worker.close"},
		}
		for _, op := range ops {
			if err := rt.RegisterJSONOp(op.name, op.fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// HostFor returns the worker host owned by the isolate behind s, creating
// it on first use. Specifiers resolve against the isolate's main module and
// the host is closed together with the isolate.
func HostFor(s *runtime.OpState) *Host {
	if v, ok := s.Value(hostKey{}); ok {
		return v.(*Host)
	}
	iso := s.Isolate()
	h := NewHost(iso.Runtime(), HostConfig{Referrer: iso.Referrer()})
	s.SetValue(hostKey{}, h)
	s.OnClose(func() {
		if err := h.Close(); err != nil {
			iso.Logger().Warn("close worker host", zap.Error(err))
		}
	})
	return h
}

type createArgs struct {
	Name          string `json:"name"`
	Specifier     string `json:"specifier"`
	SourceCode    string `json:"sourceCode"`
	HasSourceCode bool   `json:"hasSourceCode"`
	UseNamespace  bool   `json:"useNamespace"`
}

type idArgs struct {
	ID uint32 `json:"id"`
}

type createResult struct {
	ID uint32 `json:"id"`
}

func decode(args []byte, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return errors.Wrap(errors.PhaseWorker, errors.KindInvalidInput, err, "decode op arguments")
	}
	return nil
}

func opCreateWorker(s *runtime.OpState, args, _ []byte) (runtime.JSONResult, error) {
	var in createArgs
	if err := decode(args, &in); err != nil {
		return runtime.JSONResult{}, err
	}
	id, err := HostFor(s).CreateWorker(s.Context(), CreateOptions{
		Name:          in.Name,
		Specifier:     in.Specifier,
		SourceCode:    in.SourceCode,
		HasSourceCode: in.HasSourceCode,
		UseNamespace:  in.UseNamespace,
	})
	if err != nil {
		return runtime.JSONResult{}, err
	}
	return runtime.JSONSync(createResult{ID: id}), nil
}

func opHostPostMessage(s *runtime.OpState, args, zeroCopy []byte) (runtime.JSONResult, error) {
	var in idArgs
	if err := decode(args, &in); err != nil {
		return runtime.JSONResult{}, err
	}
	// zeroCopy aliases guest memory; the worker gets its own copy.
	if err := HostFor(s).PostMessage(in.ID, bytes.Clone(zeroCopy)); err != nil {
		return runtime.JSONResult{}, err
	}
	return runtime.JSONSync(nil), nil
}

func opHostGetMessage(s *runtime.OpState, args, _ []byte) (runtime.JSONResult, error) {
	var in idArgs
	if err := decode(args, &in); err != nil {
		return runtime.JSONResult{}, err
	}
	h := HostFor(s)
	return runtime.JSONAsync(func(ctx context.Context) (any, error) {
		ev, err := h.GetMessage(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		return ev, nil
	}), nil
}

func opTerminateWorker(s *runtime.OpState, args, _ []byte) (runtime.JSONResult, error) {
	var in idArgs
	if err := decode(args, &in); err != nil {
		return runtime.JSONResult{}, err
	}
	if err := HostFor(s).TerminateWorker(s.Context(), in.ID); err != nil {
		return runtime.JSONResult{}, err
	}
	return runtime.JSONSync(nil), nil
}

// scope returns the handle of the worker running in s's isolate.
func scope(s *runtime.OpState) (*Handle, error) {
	v, ok := s.Value(scopeKey{})
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseWorker, "not running in a worker")
	}
	return v.(*Handle), nil
}

func opWorkerPostMessage(s *runtime.OpState, _, zeroCopy []byte) (runtime.JSONResult, error) {
	h, err := scope(s)
	if err != nil {
		return runtime.JSONResult{}, err
	}
	if !h.emit(Event{Type: EventMessage, Data: bytes.Clone(zeroCopy)}) {
		return runtime.JSONResult{}, errors.Terminated()
	}
	return runtime.JSONSync(nil), nil
}

func opWorkerClose(s *runtime.OpState, _, _ []byte) (runtime.JSONResult, error) {
	if _, err := scope(s); err != nil {
		return runtime.JSONResult{}, err
	}
	s.Isolate().Stop()
	return runtime.JSONSync(nil), nil
}
