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

// Package reactor runs the single-threaded event loop that pulls readiness
// from a demux.Demux and turns it into dispatcher work units, while also
// owning the per-tick idle timeout sweep. Everything a Protocol actually
// does with those bytes runs on the dispatcher's worker pool, never on this
// goroutine.
package reactor

import (
	"context"
	"time"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/logger"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
)

// DefaultTick is how long one Wait call blocks when nothing else bounds it;
// it is also the granularity of the idle timeout sweep.
const DefaultTick = 250 * time.Millisecond

// IdleHook is invoked once per idle streak, on the first tick that produced
// zero events, with the streak length at that moment (always 1); the streak
// resets to zero the moment any event arrives, so the next empty tick after
// that starts a new streak and fires the hook again.
type IdleHook func(streak int)

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithTick overrides DefaultTick.
func WithTick(d time.Duration) Option {
	return func(r *Reactor) { r.tick = d }
}

// WithIdleHook installs a callback fired once per streak of empty ticks.
func WithIdleHook(fn IdleHook) Option {
	return func(r *Reactor) { r.idleHook = fn }
}

// Reactor owns one demux instance and drives one Registry/Pool pair.
type Reactor struct {
	dx   demux.Demux
	reg  *registry.Registry
	pool *dispatcher.Pool
	log  logger.Logger

	tick     time.Duration
	idleHook IdleHook
	idleRun  int

	clock func() int64
}

// New builds a Reactor. dx, reg and pool must already be constructed and
// pool.Start()-ed by the caller; Reactor only drives them.
func New(dx demux.Demux, reg *registry.Registry, pool *dispatcher.Pool, log logger.Logger, opts ...Option) *Reactor {
	if log == nil {
		log = logger.Discard()
	}
	r := &Reactor{
		dx:    dx,
		reg:   reg,
		pool:  pool,
		log:   log.WithField("component", "reactor"),
		tick:  DefaultTick,
		clock: func() int64 { return time.Now().Unix() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run drives the event loop until ctx is cancelled or a fatal demux error
// occurs. It always returns a non-nil error: ctx.Err() on a clean stop.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := r.dx.Wait(int(r.tick / time.Millisecond))
		if err != nil {
			return err
		}

		now := r.clock()

		if len(events) == 0 {
			r.idleRun++
			if r.idleHook != nil && r.idleRun == 1 {
				r.idleHook(r.idleRun)
			}
		} else {
			r.idleRun = 0
			for _, ev := range events {
				r.handleEvent(ev, now)
			}
		}

		r.sweepTimeouts(now)
	}
}

func (r *Reactor) handleEvent(ev demux.Event, now int64) {
	h, ok := r.reg.CurrentHandle(ev.FD)
	if !ok {
		// The fd was closed out from under the demux registration; drop it
		// from the kernel set so it never fires again.
		_ = r.dx.Detach(ev.FD)
		return
	}
	r.reg.Touch(h, now)

	if ev.Error {
		r.closeConnection(ev.FD, h)
		return
	}

	if ev.Writable {
		r.flushWrites(h)
	}
	if ev.Readable {
		r.dispatchCallback(h, func(hh handle.Handle, p protocol.Protocol) {
			p.OnData(hh)
		})
	}
}

func (r *Reactor) flushWrites(h handle.Handle) {
	q, err := r.reg.Queue(h)
	if err != nil || q == nil {
		return
	}

	result, err := q.Flush()
	if err != nil {
		r.log.WithField("handle", h.String()).Error("write flush failed", err)
		r.closeConnection(h.FD(), h)
		return
	}

	if result.Drained {
		r.dispatchCallback(h, func(hh handle.Handle, p protocol.Protocol) {
			p.OnReady(hh)
		})
	}
	if result.CloseAfter && result.Drained {
		r.closeConnection(h.FD(), h)
	}
}

func (r *Reactor) dispatchCallback(h handle.Handle, fn func(handle.Handle, protocol.Protocol)) {
	proto, err := r.reg.Protocol(h)
	if err != nil || proto == nil {
		return
	}

	task := protocol.Task{
		Handle: h,
		Fn: func(hh handle.Handle, _ interface{}) {
			p, perr := r.reg.Protocol(hh)
			if perr != nil || p == nil {
				return
			}
			fn(hh, p)
		},
	}
	if !r.pool.Submit(task) {
		r.log.Warn("dropped callback: dispatcher queue full")
	}
}

// Close tears h's connection down immediately; exported so callers outside
// the event loop (the public server API, a protocol's own error path) can
// force a close without waiting for the reactor to observe an error event.
func (r *Reactor) Close(h handle.Handle) {
	r.closeConnection(h.FD(), h)
}

// FlushNow drains h's write queue synchronously, outside the normal
// writable-event path. Needed because edge-triggered readiness does not
// refire on its own: a Write call that wants bytes on the wire right away,
// not at the next spurious event, must flush inline.
func (r *Reactor) FlushNow(h handle.Handle) {
	r.flushWrites(h)
}

// closeConnection tears a connection down: detach from the kernel set,
// clear its registry slot, and schedule its old Protocol's OnClose once any
// in-flight callback for it has returned.
func (r *Reactor) closeConnection(fd int, h handle.Handle) {
	_ = r.dx.Detach(fd)

	old, err := r.reg.Clear(h)
	if err != nil {
		return
	}
	if old != nil && !r.pool.SubmitClose(fd, old) {
		r.log.Warn("dropped OnClose: dispatcher queue full")
	}
}

// sweepTimeouts runs once per tick: any slot idle past its configured
// timeout gets a Ping, on every tick until it sees activity again. The sweep
// closes nothing itself; whether an idle connection is closed is up to its
// Protocol's Ping.
func (r *Reactor) sweepTimeouts(now int64) {
	for _, entry := range r.reg.WalkTimeouts(now) {
		if entry.IdleSec < entry.TimeoutSec {
			continue
		}
		h := entry.Handle
		r.dispatchCallback(h, func(hh handle.Handle, p protocol.Protocol) {
			p.Ping(hh)
		})
	}
}
