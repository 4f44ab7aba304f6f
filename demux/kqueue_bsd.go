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

//go:build darwin || freebsd || netbsd || openbsd

package demux

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/handle"
)

// kqueueDemux is the BSD/Darwin implementation. Timers have no backing fd on
// this family, so AttachTimer's fd argument is reused only as the kevent
// ident: it never passes through a real open()/close().
type kqueueDemux struct {
	fd int

	mu     sync.Mutex
	timers map[int]struct{}
}

// NewKqueue builds a kqueue-backed Demux.
func NewKqueue() (Demux, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueDemux{fd: fd, timers: make(map[int]struct{})}, nil
}

// New builds the Demux for the current OS.
func New() (Demux, error) {
	return NewKqueue()
}

func (d *kqueueDemux) Attach(fd int, token handle.Handle) error {
	changes := []unix.Kevent_t{
		makeKevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR, 0),
		makeKevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR, 0),
	}
	_, err := unix.Kevent(d.fd, changes, nil, nil)
	return err
}

func (d *kqueueDemux) Detach(fd int) error {
	d.mu.Lock()
	delete(d.timers, fd)
	d.mu.Unlock()

	changes := []unix.Kevent_t{
		makeKevent(fd, unix.EVFILT_READ, unix.EV_DELETE, 0),
		makeKevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE, 0),
	}
	// Deleting a filter that was never added returns ENOENT per event;
	// kevent reports that per-change via the returned events when a
	// changelist item fails, but with nil outbuf the error surfaces as a
	// single overall error. Treat it as success either way: Detach must
	// be idempotent.
	_, _ = unix.Kevent(d.fd, changes, nil, nil)
	return nil
}

func (d *kqueueDemux) AttachTimer(fd int, token handle.Handle, periodMs int) error {
	period := periodMs
	if period <= 0 {
		period = 1
	}

	d.mu.Lock()
	d.timers[fd] = struct{}{}
	d.mu.Unlock()

	flags := uint16(unix.EV_ADD | unix.EV_CLEAR)
	if periodMs <= 0 {
		flags |= unix.EV_ONESHOT
	}
	change := makeKevent(fd, unix.EVFILT_TIMER, flags, period)
	_, err := unix.Kevent(d.fd, []unix.Kevent_t{change}, nil, nil)
	return err
}

func makeKevent(ident int, filter int16, flags uint16, data int) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(ident),
		Filter: filter,
		Flags:  flags,
		Data:   int64(data),
	}
}

func (d *kqueueDemux) Wait(timeoutMs int) ([]Event, error) {
	raw := make([]unix.Kevent_t, MaxEvents)

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(d.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	merged := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		ev, ok := merged[fd]
		if !ok {
			ev = &Event{FD: fd}
			merged[fd] = ev
			order = append(order, fd)
		}

		switch raw[i].Filter {
		case unix.EVFILT_READ, unix.EVFILT_TIMER:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			ev.Error = true
		}
	}

	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *merged[fd])
	}
	return out, nil
}

func (d *kqueueDemux) Close() error {
	return unix.Close(d.fd)
}
