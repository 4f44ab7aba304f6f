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

// Package dispatcher runs a fixed pool of worker goroutines that execute
// protocol.Task and protocol.Broadcast work units, serialising callbacks
// against the same connection via the registry's busy lock rather than a
// per-task mutex of its own.
package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/logger"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
)

// BroadcastChunk bounds how many connections one Broadcast re-dispatch visits
// before yielding its cursor back to the queue, so a large service tag can't
// monopolise a worker.
const BroadcastChunk = 32

// job is the internal work-queue element; exactly one field is set.
type job struct {
	task      *protocol.Task
	broadcast *protocol.Broadcast
	close     *closeJob
}

// closeJob runs a Protocol's final OnClose after waiting out any callback
// still in flight for its (already-cleared) slot.
type closeJob struct {
	fd    int
	proto protocol.Protocol
}

// Pool is a fixed-size worker pool bound to one Registry.
type Pool struct {
	reg *registry.Registry
	log logger.Logger

	queue chan job

	workers  int
	running  int32
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	respawns int64 // count of worker restarts after a recovered panic
	sentinel bool
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithSentinel enables the recover-and-respawn behaviour for a panicking
// worker goroutine: the Go analogue of the original runtime's per-worker
// sentinel process, since Go cannot trap SIGSEGV/SIGBUS the way a forked
// worker can be waited on and restarted by its parent. Without it, a
// panicking callback crashes the process like any other unrecovered panic.
func WithSentinel() Option {
	return func(p *Pool) { p.sentinel = true }
}

// New builds a Pool with `workers` goroutines and a queue of the given
// depth. The pool is inert until Start is called.
func New(workers, queueDepth int, reg *registry.Registry, log logger.Logger, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &Pool{
		reg:     reg,
		log:     log.WithField("component", "dispatcher"),
		queue:   make(chan job, queueDepth),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// Stop signals every worker to drain and exit, and waits for them to do so.
// Queued jobs that have not yet been picked up are dropped.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// Respawns reports how many times a worker goroutine was restarted after
// recovering from a panic.
func (p *Pool) Respawns() int64 {
	return atomic.LoadInt64(&p.respawns)
}

// Submit enqueues a per-connection task. It returns false if the pool's
// queue is full; callers (the reactor) are expected to retry next tick
// rather than block the event loop.
func (p *Pool) Submit(t protocol.Task) bool {
	select {
	case p.queue <- job{task: &t}:
		return true
	default:
		return false
	}
}

// SubmitBroadcast enqueues a broadcast; same non-blocking contract as
// Submit.
func (p *Pool) SubmitBroadcast(b protocol.Broadcast) bool {
	select {
	case p.queue <- job{broadcast: &b}:
		return true
	default:
		return false
	}
}

// SubmitClose enqueues proto's OnClose for fd, whose slot the registry has
// already cleared. Unlike Submit, this blocks acquiring fd's busy lock
// rather than re-enqueueing on contention: OnClose must run exactly once,
// strictly after any callback already in flight for that fd returns.
func (p *Pool) SubmitClose(fd int, proto protocol.Protocol) bool {
	if proto == nil {
		return true
	}
	select {
	case p.queue <- job{close: &closeJob{fd: fd, proto: proto}}:
		return true
	default:
		return false
	}
}

// runWorker is the body of one pool goroutine. When the pool is built
// WithSentinel, a panic inside a Protocol callback is recovered and logged,
// and this goroutine exits after starting a fresh worker in its place: the
// runtime can't trap a SIGSEGV/SIGBUS the way the original process-per-core
// model could, so a recovered panic is the closest equivalent to that
// sentinel behaviour available in Go.
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.queue:
			if p.runJob(id, j) {
				return
			}
		}
	}
}

// runJob runs one job and reports whether it panicked and a replacement
// worker was started.
func (p *Pool) runJob(id int, j job) (respawned bool) {
	if p.sentinel {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.respawns, 1)
				p.log.WithField("worker", id).Error("recovered panic in worker job", asError(r))
				p.wg.Add(1)
				go p.runWorker(id)
				respawned = true
			}
		}()
	}

	if j.task != nil {
		p.runTask(*j.task)
		return
	}
	if j.broadcast != nil {
		p.runBroadcast(*j.broadcast)
		return
	}
	if j.close != nil {
		p.runClose(*j.close)
	}
}

func (p *Pool) runClose(c closeJob) {
	p.reg.LockBusy(c.fd)
	defer p.reg.UnlockBusy(c.fd)
	c.proto.OnClose()
}

func (p *Pool) runTask(t protocol.Task) {
	if t.Handle.Zero() {
		// A global Defer task is bound to no connection: there is no busy
		// lock to take and no slot to validate.
		t.Fn(t.Handle, t.Arg)
		return
	}

	fd := t.Handle.FD()

	if !p.reg.TryLockBusy(fd) {
		// Connection is mid-callback elsewhere; re-enqueue rather than
		// block this worker waiting for it.
		if !p.Submit(t) {
			p.log.Warn("dropped re-enqueued task: queue full")
		}
		return
	}
	defer p.reg.UnlockBusy(fd)

	if !p.reg.Validate(t.Handle) {
		if t.Fallback != nil {
			t.Fallback(t.Handle, t.Arg)
		}
		return
	}

	t.Fn(t.Handle, t.Arg)
}

func (p *Pool) runBroadcast(b protocol.Broadcast) {
	visited := 0
	retry := -1
	next := p.reg.Visit(b.Cursor, b.Tag, func(h handle.Handle, _ protocol.Protocol) bool {
		if h == b.OriginHandle {
			return true
		}

		fd := h.FD()
		if !p.reg.TryLockBusy(fd) {
			// The slot is mid-callback: yield back to the queue and resume
			// from this same slot.
			retry = fd
			return false
		}
		if p.reg.Validate(h) {
			b.Fn(h, b.Arg)
		}
		p.reg.UnlockBusy(fd)

		visited++
		return visited < BroadcastChunk
	})
	if retry >= 0 {
		next = retry
	}

	if next >= p.reg.Capacity() {
		if b.OnFinish != nil {
			b.OnFinish(b.OriginHandle, b.Arg)
		}
		return
	}

	b.Cursor = next
	if !p.SubmitBroadcast(b) {
		p.log.Warn("dropped broadcast continuation: queue full")
	}
}

func asError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{v: r}
}

type panicValue struct{ v interface{} }

func (p *panicValue) Error() string {
	return "panic: " + toString(p.v)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if st, ok := v.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%v", v)
}
