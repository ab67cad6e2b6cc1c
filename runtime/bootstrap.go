package runtime

import (
	"sync"

	"github.com/dop251/goja"

	"github.com/wippyai/isolate-runtime/errors"
)

// bootstrapSource sets up the guest side of the op protocol and returns the
// two runtime entry points. It receives the core object and the global
// object so it keeps working after a worker hides core.
const bootstrapSource = `(function (core, global) {
"use strict";

let opIds = null;
let nextPromiseId = 1;
const pending = new Map();
const asyncHandlers = new Map();

function opId(name) {
	if (opIds === null || !(name in opIds)) {
		opIds = core.ops();
	}
	const id = opIds[name];
	if (id === undefined) {
		throw new TypeError("unknown op: " + name);
	}
	return id;
}

function opError(err) {
	const e = new Error(err.message);
	e.kind = err.kind;
	return e;
}

function unwrap(res) {
	if (res.err) {
		throw opError(res.err);
	}
	return res.ok;
}

function encodeRequest(promiseId, args) {
	const req = { args: args === undefined ? null : args };
	if (promiseId !== undefined) {
		req.promiseId = promiseId;
	}
	return core.encode(JSON.stringify(req));
}

function dispatch(id, buf) {
	const handler = asyncHandlers.get(id);
	if (handler !== undefined) {
		handler(buf);
		return;
	}
	const res = JSON.parse(core.decode(buf));
	const p = pending.get(res.promiseId);
	if (p === undefined) {
		throw new Error("op response for unknown promise " + res.promiseId);
	}
	pending.delete(res.promiseId);
	if (res.err) {
		p.reject(opError(res.err));
	} else {
		p.resolve(res.ok);
	}
}

function sendSync(name, args, zeroCopy) {
	const res = core.send(opId(name), encodeRequest(undefined, args), zeroCopy);
	if (res === undefined) {
		throw new TypeError(name + " did not complete synchronously");
	}
	return unwrap(JSON.parse(core.decode(res)));
}

function sendAsync(name, args, zeroCopy) {
	const promiseId = nextPromiseId++;
	return new Promise(function (resolve, reject) {
		const res = core.send(opId(name), encodeRequest(promiseId, args), zeroCopy);
		if (res === undefined) {
			pending.set(promiseId, { resolve: resolve, reject: reject });
			return;
		}
		resolve(unwrap(JSON.parse(core.decode(res))));
	});
}

function setAsyncHandler(name, fn) {
	if (typeof fn !== "function") {
		throw new TypeError("async handler must be a function");
	}
	asyncHandlers.set(opId(name), fn);
}

function toBytes(data) {
	if (data instanceof Uint8Array) {
		return data;
	}
	if (data instanceof ArrayBuffer) {
		return new Uint8Array(data);
	}
	if (ArrayBuffer.isView(data)) {
		return new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
	}
	if (typeof data === "string") {
		return core.encode(data);
	}
	throw new TypeError("expected a string or a buffer");
}

function format(args) {
	return args.map(function (a) {
		if (typeof a === "string") {
			return a;
		}
		if (a instanceof Error) {
			return a.stack || String(a);
		}
		if (a !== null && typeof a === "object") {
			try {
				return JSON.stringify(a);
			} catch (e) {
				return String(a);
			}
		}
		return String(a);
	}).join(" ");
}

function out(...args) {
	core.print(format(args) + "\n");
}

function err(...args) {
	core.print(format(args) + "\n", true);
}

core.recv(dispatch);
core.sendSync = sendSync;
core.sendAsync = sendAsync;
core.setAsyncHandler = setAsyncHandler;
core.toBytes = toBytes;

Object.defineProperty(global, "console", {
	value: { log: out, info: out, debug: out, warn: err, error: err },
	writable: true,
	configurable: true,
	enumerable: false,
});
global.queueMicrotask = function (fn) {
	core.queueMicrotask(fn);
};

function bootstrapMainRuntime() {
	global.self = global;
}

function bootstrapWorkerRuntime(name, useNamespace) {
	global.self = global;
	global.name = name;
	global.onmessage = null;
	global.postMessage = function (data) {
		sendSync("worker.post-message", null, toBytes(data));
	};
	global.close = function () {
		sendSync("worker.close");
	};
	if (!useNamespace) {
		delete global.core;
	}
}

return {
	bootstrapMainRuntime: bootstrapMainRuntime,
	bootstrapWorkerRuntime: bootstrapWorkerRuntime,
};
})`

// bootstrapProgram is compiled once per process and run in every isolate.
var bootstrapProgram = sync.OnceValues(func() (*goja.Program, error) {
	prg, err := goja.Compile("bootstrap.js", bootstrapSource, true)
	if err != nil {
		return nil, errors.Compile("bootstrap.js", err)
	}
	return prg, nil
})
