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

// Package demux is a thin, portable wrapper over epoll (Linux) and kqueue
// (Darwin/BSD), presenting one edge-triggered readiness API to the Reactor.
// Level-triggered fallback is intentionally not offered: the Reactor relies
// on edge-triggered semantics to read/write until EAGAIN each cycle.
package demux

import "github.com/nabbar/reactor/handle"

// MaxEvents bounds one Wait call's batch size.
const MaxEvents = 64

// Event is one readiness notification, keyed by fd rather than by the token
// passed to Attach. The registry is the single source of truth mapping an fd
// to its current handle.Handle generation; caching a second copy of that
// mapping inside the kernel event would go stale the moment a slot recycles,
// so the Reactor re-resolves the handle for FD on every event instead.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
}

// Demux is the kernel readiness multiplexer contract implemented per OS.
type Demux interface {
	// Attach registers fd for edge-triggered read+write notifications.
	// token is not stored: events carry the fd only (see Event).
	Attach(fd int, token handle.Handle) error

	// Detach removes fd from the kernel set; idempotent.
	Detach(fd int) error

	// AttachTimer registers a periodic timer source: timerfd on Linux,
	// EVFILT_TIMER on BSD. periodMs == 0 arms a one-shot timer.
	AttachTimer(fd int, token handle.Handle, periodMs int) error

	// Wait blocks up to timeoutMs (>= 0) and returns at most MaxEvents
	// events. A wait interrupted by EINTR returns a zero-length batch, not
	// an error.
	Wait(timeoutMs int) ([]Event, error)

	// Close releases the kernel object backing this Demux.
	Close() error
}
