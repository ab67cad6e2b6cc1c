// Package worker runs guest modules on dedicated isolates and connects them
// to their parent through message channels.
//
// Each worker owns one goroutine locked to an OS thread for its whole life.
// The goroutine creates the worker's isolate, hands a Handle back to the
// creating Host, evaluates the main module and then runs the isolate's
// event loop while inbound messages are delivered to onmessage. The worker
// stays alive while onmessage is a function or async work is pending, and
// exits when the loop goes idle, when it calls close(), or when it is
// terminated.
//
// # Events
//
// The host reads a worker's events with GetMessage:
//
//   - msg: bytes passed to postMessage
//   - error: an exception thrown by onmessage; the worker keeps running
//   - terminalError: the failure that ended the worker, always last
//   - close: the worker exited; synthesized when its channel closes
//
// After close or terminalError the worker is removed from the host table and
// its goroutine joined, so further calls with its id fail with
// errors.ErrUnknownWorker. TerminateWorker does the same eagerly.
//
// # Guest API
//
// NewHost registers ops on the runtime that let guests manage workers of
// their own (host.create-worker, host.post-message, host.get-message,
// host.terminate-worker). Inside a worker, postMessage and close are backed
// by worker.post-message and worker.close. Nested hosts belong to the
// isolate that created them and are closed with it.
package worker
