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

package writequeue

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected, non-blocking fds for exercising Flush
// against a real kernel transport without a listening socket.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func drain(t *testing.T, fd int, want int) []byte {
	t.Helper()
	out := make([]byte, 0, want)
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < want {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				if time.Now().After(deadline) {
					t.Fatalf("timed out draining, got %d/%d bytes", len(out), want)
				}
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("read: %v", err)
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestFlushOrdersPlainWrites(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	pool := NewPool(8, OverflowAllocate)
	q := New(pool, 0, a, nil)

	q.EnqueueMemory([]byte("hello "), 0)
	q.EnqueueMemory([]byte("world"), 0)

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}

	got := drain(t, b, len("hello world"))
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestUrgentInsertionPrecedesNextPacket(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	pool := NewPool(8, OverflowAllocate)
	q := New(pool, 0, a, nil)

	// enqueue two normal packets, then urgent-insert between them by
	// enqueuing the urgent packet before flushing either.
	q.EnqueueMemory([]byte("AAAA"), 0)
	q.EnqueueMemory([]byte("BBBB"), 0)
	q.EnqueueMemory([]byte("UU"), Urgent)

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}

	got := drain(t, b, len("AAAAUUBBBB"))
	if string(got) != "AAAAUUBBBB" {
		t.Fatalf("got %q, want urgent packet before the next not-yet-started packet", got)
	}
}

func TestUrgentCannotSplitPartiallySentPacket(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	pool := NewPool(8, OverflowAllocate)
	q := New(pool, 0, a, nil)

	big := bytes.Repeat([]byte{'X'}, 4096)
	q.EnqueueMemory(big, CanInterrupt)

	// Start transmitting the head packet, but not to completion, by
	// flushing once before the urgent packet is enqueued.
	_, err := q.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	q.EnqueueMemory([]byte("U"), Urgent)

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}

	got := drain(t, b, len(big)+1)
	if !bytes.Equal(got[:len(big)], big) || got[len(big)] != 'U' {
		t.Fatalf("urgent packet must follow the whole of the in-flight packet, not split it")
	}
}

func TestLargeWriteIsContiguous(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	pool := NewPool(64, OverflowAllocate)
	q := New(pool, 0, a, nil)

	payload := bytes.Repeat([]byte{'Z'}, MaxPacketPayload*3+17)
	q.EnqueueMemory(payload, 0)
	q.EnqueueMemory([]byte("TAIL"), 0)

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}

	got := drain(t, b, len(payload)+4)
	if !bytes.Equal(got[:len(payload)], payload) || string(got[len(payload):]) != "TAIL" {
		t.Fatalf("split large write did not arrive contiguous and in order")
	}
}

func TestSendfileEquivalence(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	f, err := os.CreateTemp(t.TempDir(), "wq-sendfile-*")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()

	content := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB
	if _, err := f.Write(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	pool := NewPool(8, OverflowAllocate)
	q := New(pool, 0, a, nil)
	q.EnqueueFile(int(f.Fd()), 0, int64(len(content)), KeepOpen)

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}

	got := drain(t, b, len(content))
	if !bytes.Equal(got, content) {
		t.Fatalf("sendfile path did not deliver the file's bytes unchanged")
	}
}

func TestFileFDClosedUnlessKeepOpen(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	f, err := os.CreateTemp(t.TempDir(), "wq-close-*")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	dupFD, err := unix.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	pool := NewPool(4, OverflowAllocate)
	q := New(pool, 0, a, nil)
	q.EnqueueFile(dupFD, 0, 2, 0) // no KeepOpen

	for {
		res, err := q.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if res.Drained {
			break
		}
	}
	drain(t, b, 2)

	if err := unix.Close(dupFD); err == nil {
		t.Fatalf("expected dupFD to already be closed by the queue")
	}
}
