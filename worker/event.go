package worker

import (
	json "github.com/goccy/go-json"

	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/runtime"
)

// EventType tags a worker event.
type EventType uint8

const (
	// EventMessage carries bytes posted by the worker.
	EventMessage EventType = iota
	// EventError reports an uncaught exception the worker survived.
	EventError
	// EventTerminalError reports the failure that ended the worker.
	// It is always the last event of a worker.
	EventTerminalError
	// EventClose marks a graceful exit. It is synthesized by the host when
	// the event channel closes.
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "msg"
	case EventError:
		return "error"
	case EventTerminalError:
		return "terminalError"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is produced by a worker and consumed by its host.
type Event struct {
	Error *engine.ErrorInfo
	Data  []byte
	Type  EventType
}

type messageJSON struct {
	Type string        `json:"type"`
	Data runtime.Bytes `json:"data"`
}

type errorJSON struct {
	Type  string            `json:"type"`
	Error *engine.ErrorInfo `json:"error"`
}

type closeJSON struct {
	Type string `json:"type"`
}

// MarshalJSON encodes the event as
// {type:"msg", data} | {type:"error"|"terminalError", error} | {type:"close"}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMessage:
		data := runtime.Bytes(e.Data)
		if data == nil {
			data = runtime.Bytes{}
		}
		return json.Marshal(messageJSON{Type: e.Type.String(), Data: data})
	case EventError, EventTerminalError:
		info := e.Error
		if info == nil {
			info = &engine.ErrorInfo{Message: "unknown error"}
		}
		return json.Marshal(errorJSON{Type: e.Type.String(), Error: info})
	default:
		return json.Marshal(closeJSON{Type: EventClose.String()})
	}
}
