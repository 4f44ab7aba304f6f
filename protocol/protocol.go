/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package protocol declares the callback surface a connection owner installs
// on a handle, and the unit of work the dispatcher executes against one.
// The core never parses bytes itself; it is a strict consumer of whatever a
// Protocol implementation does with them.
package protocol

import "github.com/nabbar/reactor/handle"

// Protocol is the vtable a connection owner installs on a Slot. Every method
// except OnClose is invoked with the connection's busy lock held.
type Protocol interface {
	// ServiceTag scopes broadcast (Each) calls; connections that share a tag
	// are visited together. Implementations that never receive broadcasts
	// may return an empty string.
	ServiceTag() string

	// OnData is called when bytes are readable; implementations must read
	// until EAGAIN so the edge-triggered demux does not starve the fd.
	OnData(h handle.Handle)

	// OnReady is called when the outgoing buffer has drained below a
	// threshold, or the kernel reports the fd writable.
	OnReady(h handle.Handle)

	// OnShutdown is called once, before the final drain, when the server is
	// stopping gracefully.
	OnShutdown(h handle.Handle)

	// OnClose is the final callback for h. It runs on a worker goroutine
	// after the slot has already been cleared, so it must not look h back
	// up in the registry. It receives the Protocol by value so it can
	// release any resources it owns.
	OnClose()

	// Ping fires when the idle watchdog trips, and again on every reactor
	// tick while the connection stays idle. The core does not close an idle
	// connection on its own; an implementation that wants it closed does so
	// from Ping.
	Ping(h handle.Handle)
}

// Fn is a unit of work run by the dispatcher, either per-connection or
// global (Handle is the zero Handle for a global Defer task).
type Fn func(h handle.Handle, arg interface{})

// Fallback runs instead of Fn when the target handle has already closed by
// the time the dispatcher was going to invoke a per-connection task.
type Fallback func(h handle.Handle, arg interface{})

// Task is a per-connection unit of work scheduled against a specific
// handle, serialised against that handle's other callbacks.
type Task struct {
	Handle   handle.Handle
	Fn       Fn
	Arg      interface{}
	Fallback Fallback
}

// OnFinish runs once a Broadcast's cursor has passed the end of the
// registry. The dispatcher calls it directly on the worker that finished the
// sweep, passing OriginHandle as given: it is not serialised against
// OriginHandle's other callbacks, and it runs even if that handle has since
// closed.
type OnFinish func(origin handle.Handle, arg interface{})

// Broadcast applies Fn to every open slot whose ServiceTag matches Tag,
// excluding OriginHandle. It carries a Cursor so a long broadcast can yield
// back to the dispatcher queue between slots instead of monopolising a
// worker.
type Broadcast struct {
	OriginHandle handle.Handle
	Tag          string
	Fn           Fn
	Arg          interface{}
	OnFinish     OnFinish
	Cursor       int
}
