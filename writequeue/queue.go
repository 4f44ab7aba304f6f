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
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/errs"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/rwhook"
)

// MaxPacketPayload is the point above which EnqueueMemory splits a write
// into a chain of pool-sized packets under a single urgency bit, so a large
// write stays atomic with respect to urgent insertion (spec: "large-write
// atomicity").
const MaxPacketPayload = 64 * 1024

const scratchSize = 16 * 1024

// Queue is the per-connection ordered outgoing packet list. One Queue is
// owned by exactly one registry Slot.
type Queue struct {
	mu      sync.Mutex
	pool    *Pool
	head    *packet
	tail    *packet
	fd      int
	h       handle.Handle
	hook    rwhook.Hook
	scratch []byte
}

// New builds a Queue bound to fd (reported to the Hook as h), drawing
// packets from pool. hook may be nil.
func New(pool *Pool, h handle.Handle, fd int, hook rwhook.Hook) *Queue {
	return &Queue{pool: pool, h: h, fd: fd, hook: hook}
}

// SetHook installs or clears the read/write interceptor for this
// connection. Installing a hook disables the sendfile fast path.
func (q *Queue) SetHook(h rwhook.Hook) {
	q.mu.Lock()
	q.hook = h
	q.mu.Unlock()
}

// Empty reports whether the queue currently has nothing left to transmit.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == nil
}

// EnqueueMemory appends (or urgently inserts) bytes. Writes larger than
// MaxPacketPayload are split into a chain of packets that urgent insertion
// treats as one unit: an urgent write lands before the chain's first packet
// or after its last, never between two of them.
func (q *Queue) EnqueueMemory(buf []byte, flags Flags) {
	if len(buf) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// close-after only applies to the last chunk. Only the chain's first
	// packet defaults to interruptible, like any other new packet; the rest
	// are forced non-interruptible so an urgent write can't splice into the
	// middle of the chain.
	chainFlags := (flags &^ CloseAfter) &^ CanInterrupt
	var first, last *packet

	for off := 0; off < len(buf); off += MaxPacketPayload {
		end := off + MaxPacketPayload
		if end > len(buf) {
			end = len(buf)
		}
		pk := q.pool.checkout()
		pk.kind = kindMemory
		pk.buf = append(pk.buf[:0], buf[off:end]...)
		pk.flags = chainFlags
		if end == len(buf) {
			pk.flags |= flags & CloseAfter
		}
		if first == nil {
			pk.flags |= CanInterrupt
			first = pk
		} else {
			last.next = pk
		}
		last = pk
	}
	// the chain is already threaded first..last, so the insertion below
	// places it as one unit.
	q.insert(first, last, flags.has(Urgent))
}

// EnqueueFile schedules a file-backed packet: streamed via sendfile when no
// hook is installed, else via pread into a scratch buffer plus the hook's
// Write.
func (q *Queue) EnqueueFile(fd int, offset, length int64, flags Flags) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pk := q.pool.checkout()
	pk.kind = kindFile
	pk.fd = fd
	pk.fileOff = offset
	pk.remaining = length
	pk.flags = flags | CanInterrupt

	q.insert(pk, pk, flags.has(Urgent))
}

// insert places the packet chain [first..last] per the urgent-insertion
// rule: scan from the head, splice in immediately before the first packet
// whose CanInterrupt is true. A chain of urgent packets preserves its own
// internal order because first/last are threaded together before the scan.
func (q *Queue) insert(first, last *packet, urgent bool) {
	if first == nil {
		return
	}
	if q.head == nil {
		q.head, q.tail = first, last
		return
	}
	if !urgent {
		q.tail.next = first
		q.tail = last
		return
	}

	var prev *packet
	cur := q.head
	for cur != nil && !cur.canInterrupt() {
		prev = cur
		cur = cur.next
	}
	last.next = cur
	if prev == nil {
		q.head = first
	} else {
		prev.next = first
	}
	if cur == nil {
		q.tail = last
	}
}

// FlushResult reports what happened during one Flush call.
type FlushResult struct {
	BytesSent  int64
	Drained    bool // queue is now empty
	CloseAfter bool // a drained packet asked for close-after
}

// Flush transmits as many queued bytes as possible without blocking,
// stopping on WouldBlock or a fatal transport error.
func (q *Queue) Flush() (FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res FlushResult

	for q.head != nil {
		pk := q.head
		// once any byte of the head packet is on the wire it can no longer
		// be displaced by an urgent insertion.
		pk.flags &^= CanInterrupt

		var (
			n   int
			err error
		)

		switch pk.kind {
		case kindMemory:
			n, err = q.writeMemory(pk)
		case kindFile:
			n, err = q.writeFile(pk)
		}

		res.BytesSent += int64(n)

		if err != nil {
			if err == errs.ErrWouldBlock || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return res, nil
			}
			if err == unix.EINTR {
				continue
			}
			return res, errs.Wrap(errs.ErrTransport, err)
		}

		if q.packetDone(pk) {
			q.popHead(pk)
			if pk.closeAfter() {
				res.CloseAfter = true
			}
			q.pool.release(pk)
		} else {
			// partial write, stop: transport would block on the rest.
			return res, nil
		}
	}

	res.Drained = true
	return res, nil
}

func (q *Queue) packetDone(pk *packet) bool {
	switch pk.kind {
	case kindMemory:
		return pk.offset >= len(pk.buf)
	case kindFile:
		return pk.remaining <= 0
	}
	return true
}

func (q *Queue) popHead(pk *packet) {
	q.head = pk.next
	if q.head == nil {
		q.tail = nil
	}
	if pk.kind == kindFile && !pk.flags.has(KeepOpen) {
		_ = unix.Close(pk.fd)
	}
}

func (q *Queue) writeMemory(pk *packet) (int, error) {
	if q.hook != nil {
		n, err := q.hook.Write(q.h, pk.buf[pk.offset:])
		pk.offset += n
		return n, err
	}
	n, err := unix.Write(q.fd, pk.buf[pk.offset:])
	if n > 0 {
		pk.offset += n
	}
	return n, err
}

func (q *Queue) writeFile(pk *packet) (int, error) {
	if q.hook == nil {
		return q.sendfile(pk)
	}
	return q.writeFileViaHook(pk)
}

func (q *Queue) writeFileViaHook(pk *packet) (int, error) {
	if q.scratch == nil {
		q.scratch = make([]byte, scratchSize)
	}
	want := int64(len(q.scratch))
	if pk.remaining < want {
		want = pk.remaining
	}
	n, err := unix.Pread(pk.fd, q.scratch[:want], pk.fileOff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		pk.remaining = 0
		return 0, nil
	}
	wn, err := q.hook.Write(q.h, q.scratch[:n])
	if wn > 0 {
		pk.fileOff += int64(wn)
		pk.remaining -= int64(wn)
	}
	return wn, err
}
