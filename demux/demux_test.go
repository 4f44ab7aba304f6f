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

package demux_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/handle"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func TestAttachReportsWritableImmediately(t *testing.T) {
	d, err := demux.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	if err := d.Attach(a, handle.Make(a, 1)); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	events, err := d.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	found := false
	for _, ev := range events {
		if ev.FD == a && ev.Writable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected writable event for fd %d, got %+v", a, events)
	}
}

func TestAttachReportsReadableAfterPeerWrite(t *testing.T) {
	d, err := demux.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	if err := d.Attach(a, handle.Make(a, 1)); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := unix.Write(b, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := d.Wait(200)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		for _, ev := range events {
			if ev.FD == a && ev.Readable {
				return
			}
		}
	}
	t.Fatalf("never observed readable event on fd %d", a)
}

func TestDetachIsIdempotent(t *testing.T) {
	d, err := demux.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	if err := d.Attach(a, handle.Make(a, 1)); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := d.Detach(a); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := d.Detach(a); err != nil {
		t.Fatalf("Detach should be idempotent, got: %v", err)
	}
}

func TestTimerFires(t *testing.T) {
	d, err := demux.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	timerFd := tfd
	if err != nil {
		// Non-Linux hosts have no timerfd; reuse an arbitrary unique ident
		// since AttachTimer's kqueue path never opens the fd itself.
		timerFd = int(^uint32(0) >> 1)
	}
	defer func() {
		if err == nil {
			unix.Close(timerFd)
		}
	}()

	if attachErr := d.AttachTimer(timerFd, handle.Make(timerFd, 1), 10); attachErr != nil {
		t.Fatalf("AttachTimer: %v", attachErr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, waitErr := d.Wait(200)
		if waitErr != nil {
			t.Fatalf("Wait: %v", waitErr)
		}
		for _, ev := range events {
			if ev.FD == timerFd && ev.Readable {
				return
			}
		}
	}
	t.Fatalf("timer never fired")
}
