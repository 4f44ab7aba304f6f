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

//go:build linux

package demux

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/handle"
)

const readWriteEvents = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET

// epollDemux is the Linux implementation, backed by epoll_create1 plus one
// timerfd per registered timer.
type epollDemux struct {
	fd int

	mu     sync.Mutex
	timers map[int]struct{} // fds that are timerfds, so Wait knows to drain them
}

// NewLinux builds an epoll-backed Demux.
func NewLinux() (Demux, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollDemux{fd: fd, timers: make(map[int]struct{})}, nil
}

// New builds the Demux for the current OS.
func New() (Demux, error) {
	return NewLinux()
}

func (d *epollDemux) Attach(fd int, token handle.Handle) error {
	ev := &unix.EpollEvent{Events: readWriteEvents, Fd: int32(fd)}
	err := unix.EpollCtl(d.fd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EEXIST {
		return unix.EpollCtl(d.fd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return err
}

func (d *epollDemux) Detach(fd int) error {
	d.mu.Lock()
	delete(d.timers, fd)
	d.mu.Unlock()

	err := unix.EpollCtl(d.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (d *epollDemux) AttachTimer(fd int, token handle.Handle, periodMs int) error {
	spec := unix.ItimerSpec{
		Interval: msToTimespec(periodMs),
		Value:    msToTimespec(periodMs),
	}
	if periodMs <= 0 {
		spec.Value = msToTimespec(1)
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return err
	}

	d.mu.Lock()
	d.timers[fd] = struct{}{}
	d.mu.Unlock()

	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	err := unix.EpollCtl(d.fd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EEXIST {
		return unix.EpollCtl(d.fd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return err
}

func msToTimespec(ms int) unix.Timespec {
	if ms <= 0 {
		return unix.Timespec{}
	}
	return unix.NsecToTimespec(int64(ms) * 1_000_000)
}

func (d *epollDemux) Wait(timeoutMs int) ([]Event, error) {
	raw := make([]unix.EpollEvent, MaxEvents)
	n, err := unix.EpollWait(d.fd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)

		d.mu.Lock()
		_, isTimer := d.timers[fd]
		d.mu.Unlock()

		if isTimer {
			// epoll requires consuming the timerfd's 8-byte expiration
			// count before it will report readiness again.
			var buf [8]byte
			_, _ = unix.Read(fd, buf[:])
		}

		out = append(out, Event{
			FD:       fd,
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
			Error:    raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

func (d *epollDemux) Close() error {
	return unix.Close(d.fd)
}
