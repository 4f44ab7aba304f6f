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

package server

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/errs"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/rwhook"
	"github.com/nabbar/reactor/writequeue"
)

// Write enqueues buf on h's outgoing queue and flushes immediately. Safe to
// call from any goroutine, including from inside a Protocol callback running
// on a dispatcher worker.
func (s *Server) Write(h handle.Handle, buf []byte, flags writequeue.Flags) error {
	q, err := s.reg.Queue(h)
	if err != nil {
		return err
	}
	q.EnqueueMemory(buf, flags)
	s.rx.FlushNow(h)
	return nil
}

// WriteFile enqueues a file-backed write (sendfile fast path when no RWHook
// is installed on h) and flushes immediately.
func (s *Server) WriteFile(h handle.Handle, fd int, offset, length int64, flags writequeue.Flags) error {
	q, err := s.reg.Queue(h)
	if err != nil {
		return err
	}
	q.EnqueueFile(fd, offset, length, flags)
	s.rx.FlushNow(h)
	return nil
}

// CloseConnection tears h down immediately, without waiting for the reactor
// to observe an error or EOF event on its own.
func (s *Server) CloseConnection(h handle.Handle) {
	s.rx.Close(h)
}

// SetTimeout installs h's idle timeout, in whole seconds; zero falls back
// to the registry's default watchdog period (DefaultIdleTimeoutSec unless
// the server's config overrode it) rather than disabling the watchdog.
func (s *Server) SetTimeout(h handle.Handle, seconds uint8) error {
	return s.reg.SetTimeout(h, seconds)
}

// Submit schedules a one-off task against h, serialised against any other
// in-flight callback for the same connection.
func (s *Server) Submit(t protocol.Task) bool {
	return s.disp.Submit(t)
}

// Broadcast schedules b's first chunk; the dispatcher re-submits its own
// continuation until every matching connection has been visited.
func (s *Server) Broadcast(b protocol.Broadcast) bool {
	return s.disp.SubmitBroadcast(b)
}

// OpenConnections reports how many slots are currently open, optionally
// filtered to one service tag (empty counts every open slot, including
// listeners and timers).
func (s *Server) OpenConnections(tag string) int64 {
	return s.reg.Count(tag)
}

// Respawns reports how many dispatcher workers have been restarted after
// recovering from a panic.
func (s *Server) Respawns() int64 {
	return s.disp.Respawns()
}

// WriteUrgent enqueues buf ahead of any interruptible packet already queued
// on h, then flushes immediately.
func (s *Server) WriteUrgent(h handle.Handle, buf []byte) error {
	return s.Write(h, buf, writequeue.Urgent)
}

// WriteMove is Write under the name callers moving a buffer they no longer
// own (as opposed to one they intend to reuse) reach for; the queue takes
// the same slice either way.
func (s *Server) WriteMove(h handle.Handle, buf []byte, flags writequeue.Flags) error {
	return s.Write(h, buf, flags)
}

// Sendfile is WriteFile under the name callers streaming an on-disk
// resource reach for.
func (s *Server) Sendfile(h handle.Handle, fd int, offset, length int64, flags writequeue.Flags) error {
	return s.WriteFile(h, fd, offset, length, flags)
}

// Flush forces h's queue to drain right now, without enqueueing anything
// new; it is what Write/WriteFile call internally after enqueueing.
func (s *Server) Flush(h handle.Handle) {
	s.rx.FlushNow(h)
}

// Read pulls whatever bytes the kernel currently has buffered for h into
// buf. It does not go through the write queue or the reactor: it is the raw
// syscall a Protocol's OnData uses to actually consume the readable bytes
// the reactor told it about.
//
// Returns (0, nil) on EAGAIN: the socket is drained for this edge, call
// again once the reactor reports another readable event. Returns (0,
// io.EOF) once the peer has shut down its write side and there is nothing
// left buffered, distinguishing a finished connection from a merely empty
// one; an OnData loop should stop on either but only the latter means the
// connection is done for good. Everything else comes back as-is from the
// kernel.
func (s *Server) Read(h handle.Handle, buf []byte) (int, error) {
	if !s.reg.Validate(h) {
		return 0, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	n, err := unix.Read(h.FD(), buf)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// GetProtocol returns the Protocol currently installed on h.
func (s *Server) GetProtocol(h handle.Handle) (protocol.Protocol, error) {
	return s.reg.Protocol(h)
}

// SetProtocol swaps the Protocol installed on h, returning the previous one
// so the caller can run its OnClose once any in-flight callback for h has
// returned.
func (s *Server) SetProtocol(h handle.Handle, p protocol.Protocol) (protocol.Protocol, error) {
	return s.reg.SetProtocol(h, p)
}

// GetTimeout reads h's current idle timeout, in whole seconds.
func (s *Server) GetTimeout(h handle.Handle) (uint8, error) {
	return s.reg.GetTimeout(h)
}

// Count is OpenConnections under the name a caller enumerating connections
// by service tag reaches for.
func (s *Server) Count(tag string) int64 {
	return s.reg.Count(tag)
}

// Attach adopts an externally obtained, already non-blocking fd (e.g. one
// accepted outside a registered Listener, or handed back by a prior
// Hijack) as a live connection running p, wired into the same reactor and
// write-queue machinery as any accepted connection.
func (s *Server) Attach(fd int, p protocol.Protocol, hook rwhook.Hook) (handle.Handle, error) {
	h, err := s.reg.Open(fd, hook)
	if err != nil {
		return 0, err
	}
	if _, err = s.reg.SetProtocol(h, p); err != nil {
		_, _ = s.reg.Clear(h)
		return 0, err
	}
	if err = s.dx.Attach(fd, h); err != nil {
		_, _ = s.reg.Clear(h)
		return 0, err
	}
	return h, nil
}

// Hijack detaches h from the reactor and registry without closing its fd,
// handing the caller exclusive, unmediated ownership of the raw
// descriptor. The Protocol previously installed on h is returned so the
// caller can run any cleanup it needs; h itself is no longer valid for any
// other Server method afterward.
func (s *Server) Hijack(h handle.Handle) (fd int, p protocol.Protocol, err error) {
	fd = h.FD()
	if err = s.dx.Detach(fd); err != nil {
		return 0, nil, err
	}
	p, err = s.reg.Clear(h)
	if err != nil {
		return 0, nil, err
	}
	return fd, p, nil
}

// Task schedules fn to run against h, serialised against any other
// in-flight callback for that connection. It is Submit with the Task
// literal already built.
func (s *Server) Task(h handle.Handle, fn protocol.Fn, arg interface{}) bool {
	return s.disp.Submit(protocol.Task{Handle: h, Fn: fn, Arg: arg})
}

// Defer schedules fn to run once, off any specific connection, on a
// dispatcher worker.
func (s *Server) Defer(fn protocol.Fn, arg interface{}) bool {
	return s.disp.Submit(protocol.Task{Fn: fn, Arg: arg})
}

// Each broadcasts fn to every open connection tagged tag (every open
// connection if tag is empty), yielding back to the dispatcher between
// slots rather than monopolising a worker for the whole sweep.
func (s *Server) Each(tag string, fn protocol.Fn, arg interface{}, onFinish protocol.OnFinish) bool {
	return s.disp.SubmitBroadcast(protocol.Broadcast{Tag: tag, Fn: fn, Arg: arg, OnFinish: onFinish})
}
