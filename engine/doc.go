// Package engine binds the goja JavaScript engine to isolate state.
//
// Every isolate owns one goja.Runtime and one State. The State is registered
// in a process-wide table under an IsolateID; the native functions installed
// on the global "core" object capture only that id and resolve the State on
// each call, so no callback can reach a disposed isolate.
//
// # Callback Bridge
//
// The core object exposes:
//
//	core.print(value, isErr)          write to the isolate's stdout/stderr
//	core.recv(fn)                     register the op dispatcher (once)
//	core.send(opId, control, buf)     dispatch an op through the slot
//	core.evalContext(src[, name])     [value, null] or [null, {isCompileError, isNativeError, thrown}]
//	core.errorToJSON(err)             {message, fileName, lineNumber, columnNumber}
//	core.queueMicrotask(fn)           enqueue on the engine job queue
//	core.import(specifier[, ref])     dynamic import through the host hook
//	core.encode(str) / decode(bytes)  UTF-8 conversion
//	core.shared                       ArrayBuffer over the shared region, if any
//
// # Op Dispatch Slot
//
// send moves the slot Idle -> PendingSync and calls the OpHandler. A handler
// that calls State.Respond before returning completes the op inline and send
// returns the response. A handler that returns without responding made the
// op asynchronous: send releases the slot and returns undefined, and the
// later Respond is delivered to the dispatcher registered with recv. Entering
// send while the slot is PendingSync is a protocol violation and panics.
//
// # Promise Rejections
//
// Rejections without a handler are recorded by promise id and removed again
// if a handler is attached later. Nothing is reported until the embedder
// calls State.CheckUnhandledRejections at its checkpoint.
package engine
