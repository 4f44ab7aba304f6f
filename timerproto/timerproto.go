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

// Package timerproto implements a periodic callback as an ordinary
// protocol.Protocol bound to a registry slot, rather than as a special case
// inside the reactor: a timer is just a connection whose OnData fires on a
// schedule instead of on inbound bytes.
package timerproto

import (
	"sync/atomic"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
)

// CloseFunc tears down a timer's own registry slot; the timer calls it once
// its finite repeat count is exhausted, since a Timer has no reactor
// reference of its own to close itself with.
type CloseFunc func(handle.Handle)

// Timer is a protocol.Protocol that runs Fn up to Reps times (0 means
// infinite), then closes its own slot and invokes OnFinish.
type Timer struct {
	fd  int
	tag string
	h   handle.Handle

	fn       protocol.Fn
	arg      interface{}
	onFinish protocol.OnFinish
	closeFn  CloseFunc

	reps     int64 // atomic; remaining repetitions, 0 means infinite
	fired    int64 // atomic count, useful for tests and diagnostics
	shutdown int32 // atomic bool
}

// Register takes reservedFD from the caller, a timerfd (Linux, see
// NewTimerfd) or a bare unique ident (BSD/Darwin, no backing fd), opens a
// registry slot for it, installs the resulting Timer as that slot's
// Protocol, and attaches it to dx as a timer source.
//
// periodMs <= 0 requests a one-shot timer. reps bounds how many expirations
// fn fires for before the timer closes itself via closeFn; 0 means
// infinite. onFinish, if non-nil, runs from OnClose once the timer's slot
// has been torn down, whatever the reason.
func Register(reg *registry.Registry, dx demux.Demux, reservedFD int, periodMs int, reps int64, tag string, fn protocol.Fn, arg interface{}, onFinish protocol.OnFinish, closeFn CloseFunc) (handle.Handle, error) {
	t := &Timer{fd: reservedFD, tag: tag, fn: fn, arg: arg, onFinish: onFinish, closeFn: closeFn, reps: reps}

	h, err := reg.Open(reservedFD, nil)
	if err != nil {
		return 0, err
	}
	t.h = h
	if _, err = reg.SetProtocol(h, t); err != nil {
		_, _ = reg.Clear(h)
		return 0, err
	}
	if err = dx.AttachTimer(reservedFD, h, periodMs); err != nil {
		_, _ = reg.Clear(h)
		return 0, err
	}
	return h, nil
}

// ServiceTag scopes this timer out of unrelated broadcasts.
func (t *Timer) ServiceTag() string { return t.tag }

// OnData is the timer firing; it runs Fn once per expiration the reactor
// observed, decrements a finite repeat count, and closes the timer's own
// slot once that count reaches zero.
func (t *Timer) OnData(h handle.Handle) {
	atomic.AddInt64(&t.fired, 1)
	if atomic.LoadInt32(&t.shutdown) != 0 {
		return
	}
	if t.fn != nil {
		t.fn(h, t.arg)
	}
	if atomic.LoadInt64(&t.reps) == 0 {
		return // infinite
	}
	if atomic.AddInt64(&t.reps, -1) <= 0 && t.closeFn != nil {
		t.closeFn(h)
	}
}

// OnReady never fires for a timer: it has no outbound write queue traffic.
func (t *Timer) OnReady(handle.Handle) {}

// OnShutdown marks the timer so any expiration events already queued by the
// time shutdown began are no longer delivered to Fn.
func (t *Timer) OnShutdown(handle.Handle) {
	atomic.StoreInt32(&t.shutdown, 1)
}

// OnClose releases the kernel resource backing this timer, if this OS gave
// it one (see releaseTimerFD), then invokes OnFinish.
func (t *Timer) OnClose() {
	releaseTimerFD(t.fd)
	if t.onFinish != nil {
		t.onFinish(t.h, t.arg)
	}
}

// Ping is a no-op. A timer's slot gets the registry's default idle timeout
// like any other, so a timer whose period exceeds it does receive Ping; the
// timer keeps running.
func (t *Timer) Ping(handle.Handle) {}

// Fired reports how many expirations this timer has processed.
func (t *Timer) Fired() int64 {
	return atomic.LoadInt64(&t.fired)
}
